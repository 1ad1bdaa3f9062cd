package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/procscript/internal/engine"
	"github.com/seantiz/procscript/internal/model"
	"github.com/seantiz/procscript/internal/script"
	"github.com/seantiz/procscript/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createRunRequest is the JSON body for POST /v1/runs. The script is given
// either as structured steps or as YAML text in Script.
type createRunRequest struct {
	Name     string        `json:"name"`
	Dir      string        `json:"dir"`
	TimeoutS *int          `json:"timeout_s"`
	Steps    []script.Step `json:"steps"`
	Script   string        `json:"script"`
}

func (req createRunRequest) script() (script.Script, error) {
	if req.Script != "" {
		sc, err := script.Decode([]byte(req.Script))
		if err != nil {
			return script.Script{}, err
		}
		if req.Name != "" {
			sc.Name = req.Name
		}
		return sc, nil
	}
	sc := script.Script{Name: req.Name, Steps: req.Steps}
	return sc, sc.Validate()
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TimeoutS != nil && *req.TimeoutS < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_s must not be negative")
		return
	}

	sc, err := req.script()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run := &model.Run{
		ID:       model.NewID(),
		Name:     sc.Name,
		Dir:      req.Dir,
		TimeoutS: req.TimeoutS,
	}
	if err := s.engine.Submit(r.Context(), run, sc); err != nil {
		if errors.Is(err, script.ErrInvalidScript) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
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
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleCancelRun stops an active run. The final status is written by the
// engine once the session has shut down, so the response carries the run as
// it was when cancellation was requested.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !model.ValidID(id) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	if err := s.engine.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, engine.ErrNotActive):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("cancel run", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to cancel run")
		}
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.logger.Error("get cancelled run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve run")
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
