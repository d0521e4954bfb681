package tencent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	algorithm   = "TC3-HMAC-SHA256"
	contentType = "application/json; charset=utf-8"
)

// signer produces TC3-HMAC-SHA256 headers for Tencent Cloud API 3.0.
type signer struct {
	secretID  string
	secretKey string
	service   string
	host      string
	version   string
	region    string
}

func (s signer) headers(action string, payload []byte, now time.Time) map[string]string {
	ts := now.Unix()
	date := now.UTC().Format("2006-01-02")

	signedHeaders := "content-type;host;x-tc-action"
	canonicalHeaders := "content-type:" + contentType + "\n" +
		"host:" + s.host + "\n" +
		"x-tc-action:" + strings.ToLower(action) + "\n"
	canonicalRequest := strings.Join([]string{
		"POST",
		"/",
		"",
		canonicalHeaders,
		signedHeaders,
		sha256Hex(payload),
	}, "\n")

	scope := date + "/" + s.service + "/tc3_request"
	stringToSign := strings.Join([]string{
		algorithm,
		strconv.FormatInt(ts, 10),
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	secretDate := hmacSHA256([]byte("TC3"+s.secretKey), date)
	secretService := hmacSHA256(secretDate, s.service)
	secretSigning := hmacSHA256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	h := map[string]string{
		"Authorization": fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
			algorithm, s.secretID, scope, signedHeaders, signature),
		"Content-Type":   contentType,
		"X-TC-Action":    action,
		"X-TC-Timestamp": strconv.FormatInt(ts, 10),
		"X-TC-Version":   s.version,
	}
	if s.region != "" {
		h["X-TC-Region"] = s.region
	}
	return h
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(msg))
	return m.Sum(nil)
}
