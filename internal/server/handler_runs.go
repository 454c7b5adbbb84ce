package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/mowctt/pkg/model"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	q := r.URL.Query()

	opts := model.DefaultListOptions()
	opts.State = q.Get("state")
	opts.Instance = q.Get("instance")
	opts.Algorithm = q.Get("algorithm")
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid query parameter",
					model.FieldError{Field: p.name, Message: p.name + " must be an integer"}))
			return
		}
		*p.dst = n
	}
	if fe := opts.Check(); fe != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query parameter", fe...))
		return
	}
	opts.Clamp()

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}

	respondList(w, reqID, runs, opts.Page(total))
}

// getRun writes the error response and returns nil when the run cannot be
// served.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) *model.Run {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondInternal(w, reqID, err)
		return nil
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return nil
	}
	return run
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if run := s.getRun(w, r); run != nil {
		respondOK(w, RequestIDFromContext(r.Context()), run)
	}
}

type frontResponse struct {
	RunID       string            `json:"run_id"`
	Size        int               `json:"size"`
	Hypervolume float64           `json:"hypervolume"`
	Solutions   []*model.Solution `json:"solutions"`
}

func (s *Server) handleGetFront(w http.ResponseWriter, r *http.Request) {
	run := s.getRun(w, r)
	if run == nil {
		return
	}
	sols := run.Front
	if sols == nil {
		sols = []*model.Solution{}
	}
	respondOK(w, RequestIDFromContext(r.Context()), frontResponse{
		RunID:       run.ID,
		Size:        len(sols),
		Hypervolume: run.Hypervolume,
		Solutions:   sols,
	})
}
