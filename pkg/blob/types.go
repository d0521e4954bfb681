package blob

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidKey is returned for keys that would escape the store root.
var ErrInvalidKey = errors.New("invalid blob key")

// ArtifactStore persists uploaded or generated media and returns a URL the
// caller can hand to vendors and clients.
type ArtifactStore interface {
	// Save stores the content of r under key and returns its public URL.
	Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error)

	// Open returns the content stored under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// NewKey builds a date-partitioned random key such as
// "uploads/2026/10/16/<uuid>.png".
func NewKey(prefix, contentType string) string {
	now := time.Now().UTC()
	name := uuid.NewString() + ExtensionFor(contentType)
	return path.Join(prefix, now.Format("2006/01/02"), name)
}

// ExtensionFor returns a file extension (with dot) for contentType, or ""
// when unknown.
func ExtensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// cleanKey normalizes key and rejects absolute or parent-relative paths.
func cleanKey(key string) (string, error) {
	k := strings.ReplaceAll(key, "\\", "/")
	if k == "" || strings.HasPrefix(k, "/") {
		return "", ErrInvalidKey
	}
	for _, seg := range strings.Split(k, "/") {
		if seg == ".." {
			return "", ErrInvalidKey
		}
	}
	k = path.Clean(k)
	if k == "." {
		return "", ErrInvalidKey
	}
	return k, nil
}
