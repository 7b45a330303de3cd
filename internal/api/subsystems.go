package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/robocore/internal/subsystem"
	"github.com/nerrad567/robocore/internal/tuning"
)

// handleListSubsystems returns a snapshot of every subsystem in
// configuration order.
func (s *Server) handleListSubsystems(w http.ResponseWriter, _ *http.Request) {
	snaps := make([]subsystem.Snapshot, 0, len(s.order))
	for _, name := range s.order {
		snaps = append(snaps, s.subsystems[name].Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subsystems": snaps,
		"count":      len(snaps),
	})
}

// handleGetSubsystem returns one subsystem snapshot.
func (s *Server) handleGetSubsystem(w http.ResponseWriter, r *http.Request) {
	m, ok := s.mechanism(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// handleZero makes the subsystem's current position its physical home.
func (s *Server) handleZero(w http.ResponseWriter, r *http.Request) {
	m, ok := s.mechanism(w, r)
	if !ok {
		return
	}
	if err := m.ZeroSensors(); err != nil {
		s.logger.Error("zeroing sensors failed", "subsystem", m.Name(), "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeHardware, err.Error())
		return
	}
	s.logger.Info("sensors zeroed", "subsystem", m.Name(), "operator", operatorFrom(r.Context()))
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// handleSetGains replaces one PID gain set.
func (s *Server) handleSetGains(w http.ResponseWriter, r *http.Request) {
	s.applyTuning(w, r, tuning.KindGains)
}

// handleSetConstraints replaces the motion constraints.
func (s *Server) handleSetConstraints(w http.ResponseWriter, r *http.Request) {
	s.applyTuning(w, r, tuning.KindConstraints)
}

func (s *Server) applyTuning(w http.ResponseWriter, r *http.Request, kind string) {
	if s.tuning == nil {
		writeUnavailable(w, "live tuning is not enabled")
		return
	}
	name := chi.URLParam(r, "name")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}

	var applied any
	if kind == tuning.KindGains {
		applied, err = s.tuning.ApplyGains(r.Context(), name, tuning.SourceAPI, body)
	} else {
		applied, err = s.tuning.ApplyConstraints(r.Context(), name, tuning.SourceAPI, body)
	}
	if err != nil {
		s.writeTuningError(w, err)
		return
	}

	s.logger.Info("tuning applied via API",
		"subsystem", name,
		"kind", kind,
		"operator", operatorFrom(r.Context()),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"subsystem": name,
		"kind":      kind,
		"applied":   applied,
	})
}

// handleTuningHistory lists accepted tuning changes, newest first.
func (s *Server) handleTuningHistory(w http.ResponseWriter, r *http.Request) {
	if s.tuning == nil {
		writeUnavailable(w, "live tuning is not enabled")
		return
	}
	m, ok := s.mechanism(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	changes, err := s.tuning.History(r.Context(), m.Name(), limit)
	if err != nil {
		s.logger.Error("listing tuning history", "subsystem", m.Name(), "error", err)
		writeInternalError(w, "failed to list tuning history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changes": changes,
		"count":   len(changes),
	})
}

func (s *Server) writeTuningError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tuning.ErrUnknownSubsystem):
		writeNotFound(w, err.Error())
	case errors.Is(err, tuning.ErrInvalidPayload):
		writeBadRequest(w, err.Error())
	case errors.Is(err, subsystem.ErrUnknownSlot), errors.Is(err, subsystem.ErrInvalidConstraints):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	default:
		s.logger.Error("applying tuning", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeHardware, err.Error())
	}
}

// mechanism resolves the {name} URL parameter, writing a 404 if unknown.
func (s *Server) mechanism(w http.ResponseWriter, r *http.Request) (Mechanism, bool) {
	name := chi.URLParam(r, "name")
	m, ok := s.subsystems[name]
	if !ok {
		writeNotFound(w, "subsystem not found: "+name)
		return nil, false
	}
	return m, true
}
