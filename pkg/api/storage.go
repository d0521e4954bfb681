package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/isWangjianhua/GenPulse/pkg/blob"
)

const maxUploadBytes = 100 << 20

// handleUpload stores one multipart "file" field and returns its URL.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	if s.uploads == nil {
		writeError(w, http.StatusNotImplemented, "storage_unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large")
			return
		}
		writeError(w, http.StatusBadRequest, "missing_file")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ext := strings.ToLower(path.Ext(header.Filename))
	if ext == "" {
		ext = blob.ExtensionFor(contentType)
	}
	if ext == "" {
		ext = ".bin"
	}
	key := "uploads/" + uuid.NewString() + ext

	url, err := s.uploads.Save(r.Context(), key, file, contentType)
	if err != nil {
		s.logger.Error("upload failed", "trace_id", getTraceID(r.Context()), "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "upload_failed")
		return
	}
	s.logger.Info("file uploaded", "key", key, "url", url, "size", header.Size)

	if err := writeJSON(w, http.StatusOK, UploadResponse{URL: url, Key: key, ContentType: contentType}); err != nil {
		s.logger.Error("failed to encode response", "trace_id", getTraceID(r.Context()), "error", err)
	}
}

// handleFiles serves stored artifacts at /files/<key>.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/files/")

	rc, err := s.uploads.Open(r.Context(), key)
	switch {
	case errors.Is(err, blob.ErrNotFound), errors.Is(err, blob.ErrInvalidKey):
		writeError(w, http.StatusNotFound, "not_found")
		return
	case err != nil:
		s.logger.Error("failed to open file", "trace_id", getTraceID(r.Context()), "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("file transfer interrupted", "key", key, "error", err)
	}
}
