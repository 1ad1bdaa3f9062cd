package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/procscript/internal/model"
	"github.com/seantiz/procscript/internal/store"
)

// handleStreamLines streams a run's captured lines as SSE events. Each event
// carries one model.RunLine encoded as JSON.
func (s *Server) handleStreamLines(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !model.ValidID(id) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run for lines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if model.IsTerminal(run.Status) {
		w.WriteHeader(http.StatusOK)
		return
	}

	// SSE connections outlive the server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// A run finishing between the status check and Subscribe yields a closed
	// channel, which ends the loop below.
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()
	defer trackLineStream()()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(line)
			if err != nil {
				s.logger.Error("encode line", "run_id", id, "seq", line.Seq, "error", err)
				continue
			}
			if err := writeSSEData(w, string(data)); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// lineHistoryResponse is the JSON response for GET /v1/runs/{id}/lines/history.
type lineHistoryResponse struct {
	RunID string          `json:"run_id"`
	Lines []model.RunLine `json:"lines"`
}

func (s *Server) handleGetLineHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !model.ValidID(id) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	_, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run for line history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	lines, err := s.store.GetLines(r.Context(), id)
	if err != nil {
		s.logger.Error("get lines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get lines")
		return
	}

	if stream := r.URL.Query().Get("stream"); stream != "" {
		filtered := lines[:0]
		for _, l := range lines {
			if l.Stream == stream {
				filtered = append(filtered, l)
			}
		}
		lines = filtered
	}

	s.writeJSON(w, http.StatusOK, lineHistoryResponse{
		RunID: id,
		Lines: lines,
	})
}

// writeSSEData writes data as one SSE event. Multi-line strings are split so
// that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, data string) error {
	for seg := range strings.SplitSeq(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
