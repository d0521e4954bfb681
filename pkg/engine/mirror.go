package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/isWangjianhua/GenPulse/pkg/blob"
	"github.com/isWangjianhua/GenPulse/pkg/provider"
)

// maxMirrorBytes caps a single downloaded artifact.
const maxMirrorBytes = 512 << 20

// ErrArtifactTooLarge is returned when a vendor artifact exceeds the mirror cap.
var ErrArtifactTooLarge = errors.New("artifact exceeds mirror size limit")

// Mirror re-hosts vendor artifact URLs, which usually expire within hours,
// in our own artifact store.
type Mirror struct {
	store    blob.ArtifactStore
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewMirror(store blob.ArtifactStore, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		store:    store,
		client:   &http.Client{Timeout: 5 * time.Minute},
		maxBytes: maxMirrorBytes,
		logger:   logger,
	}
}

// Rehost copies every URL in res under results/<taskID>/ and rewrites res
// in place. The vendor URLs are kept in Extra["source_urls"]. An artifact
// that cannot be copied keeps its vendor URL.
func (m *Mirror) Rehost(ctx context.Context, taskID string, res *provider.Result) {
	if res == nil {
		return
	}
	sources := res.URLs
	if len(sources) == 0 && res.URL != "" {
		sources = []string{res.URL}
	}
	if len(sources) == 0 {
		return
	}

	hosted := make([]string, len(sources))
	for i, src := range sources {
		url, err := m.copy(ctx, path.Join("results", taskID, fmt.Sprintf("%d", i)), src)
		if err != nil {
			m.logger.Warn("artifact mirror failed, keeping vendor url", "task_id", taskID, "url", src, "error", err)
			hosted[i] = src
			continue
		}
		hosted[i] = url
	}

	if res.Extra == nil {
		res.Extra = make(map[string]any)
	}
	res.Extra["source_urls"] = sources
	if len(res.URLs) > 0 {
		res.URLs = hosted
	}
	res.URL = hosted[0]
}

func (m *Mirror) copy(ctx context.Context, keyBase, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download responded with status: %d", resp.StatusCode)
	}

	if resp.ContentLength > m.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrArtifactTooLarge, resp.ContentLength)
	}

	contentType := resp.Header.Get("Content-Type")
	key := keyBase + blob.ExtensionFor(contentType)
	return m.store.Save(ctx, key, &cappedReader{r: resp.Body, remaining: m.maxBytes}, contentType)
}

// cappedReader fails with ErrArtifactTooLarge instead of returning EOF
// early, so a store never keeps a truncated artifact.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, ErrArtifactTooLarge
	}
	// Read one byte past the cap to tell "exactly at the limit" from "over".
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return 0, ErrArtifactTooLarge
	}
	return n, err
}
