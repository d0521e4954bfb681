package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/isWangjianhua/GenPulse/pkg/engine"
	"github.com/isWangjianhua/GenPulse/pkg/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxSubmitBody    = 32 << 20
	sseHeartbeat     = 15 * time.Second
)

// handleTasks serves POST (submit) and GET (list) on /v1/tasks.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submitTask(w, r)
	case http.MethodGet:
		s.listTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
	}
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req engine.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json_body")
		return
	}

	resp, err := s.intake.Submit(r.Context(), req)
	if err != nil {
		var ve *engine.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Code)
			return
		}
		s.logger.Error("failed to submit task", "trace_id", getTraceID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}

	if err := writeJSON(w, http.StatusAccepted, resp); err != nil {
		s.logger.Error("failed to encode response", "trace_id", getTraceID(r.Context()), "error", err)
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = min(val, maxListLimit)
		}
	}

	recs, err := s.tasks.ListTasks(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list tasks", "trace_id", getTraceID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}

	views := make([]TaskView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewFromRecord(rec))
	}
	if err := writeJSON(w, http.StatusOK, views); err != nil {
		s.logger.Error("failed to encode tasks", "trace_id", getTraceID(r.Context()), "error", err)
	}
}

// handleTask serves /v1/tasks/{id} and /v1/tasks/{id}/events.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	taskID, sub, _ := strings.Cut(rest, "/")
	if taskID == "" {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	switch sub {
	case "":
		s.getTask(w, r, taskID)
	case "events":
		s.streamTask(w, r, taskID)
	default:
		writeError(w, http.StatusNotFound, "not_found")
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	view, err := s.lookup(r.Context(), taskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "task_not_found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get task", "trace_id", getTraceID(r.Context()), "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}
	if err := writeJSON(w, http.StatusOK, view); err != nil {
		s.logger.Error("failed to encode task", "trace_id", getTraceID(r.Context()), "error", err)
	}
}

// lookup reads the status cache first, then the record.
func (s *Server) lookup(ctx context.Context, taskID string) (TaskView, error) {
	if s.status != nil {
		ev, err := s.status.Get(ctx, taskID)
		if err != nil {
			s.logger.Warn("status cache read failed, falling back to store", "task_id", taskID, "error", err)
		} else if ev != nil {
			return viewFromEvent(ev), nil
		}
	}
	rec, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return TaskView{}, err
	}
	return viewFromRecord(rec), nil
}

// streamTask sends the current state and then every update as server-sent
// events until the task is terminal or the client goes away.
func (s *Server) streamTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if s.status == nil {
		writeError(w, http.StatusNotImplemented, "events_unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before reading the snapshot so no transition is missed.
	updates, err := s.status.Subscribe(ctx, taskID)
	if err != nil {
		s.logger.Error("failed to subscribe", "trace_id", getTraceID(ctx), "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}
	current, err := s.lookup(ctx, taskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "task_not_found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get task", "trace_id", getTraceID(ctx), "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if writeEvent(w, current) != nil {
		return
	}
	flusher.Flush()
	if current.Status.Terminal() {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if writeEvent(w, viewFromEvent(&ev)) != nil {
				return
			}
			flusher.Flush()
			if ev.Status.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, view TaskView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
	return err
}
