package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/robocore/internal/action"
	"github.com/nerrad567/robocore/internal/routines"
)

// handleListRoutines returns the registered routines and the launcher state.
func (s *Server) handleListRoutines(w http.ResponseWriter, _ *http.Request) {
	list := s.routines.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"routines": list,
		"count":    len(list),
		"launcher": s.launcher.Stats(),
	})
}

// handleStartRoutine builds a fresh instance of the named routine and
// launches it. Only one routine runs at a time.
func (s *Server) handleStartRoutine(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	routine, err := s.routines.New(name, nil)
	if err != nil {
		if errors.Is(err, routines.ErrRoutineNotFound) {
			writeNotFound(w, "routine not found: "+name)
			return
		}
		s.logger.Error("building routine", "routine", name, "error", err)
		writeInternalError(w, "failed to build routine")
		return
	}

	if err := s.launcher.Start(routine); err != nil {
		if errors.Is(err, action.ErrRoutineRunning) {
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	s.logger.Info("routine started via API",
		"routine", name,
		"run_id", routine.RunID(),
		"operator", operatorFrom(r.Context()),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"routine": name,
		"run_id":  routine.RunID(),
	})
}

// handleStopRoutine requests cancellation of the running routine. It does
// not wait for the routine to unwind.
func (s *Server) handleStopRoutine(w http.ResponseWriter, r *http.Request) {
	s.launcher.Stop()
	s.logger.Info("routine stop requested via API", "operator", operatorFrom(r.Context()))
	writeJSON(w, http.StatusAccepted, s.launcher.Stats())
}
