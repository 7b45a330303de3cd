package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/robocore/internal/eventlog"
)

// handleListEvents returns recorded events, most recent first.
//
// Query parameters: name, prefix, since (RFC 3339), limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeUnavailable(w, "event history is not enabled")
		return
	}

	q := r.URL.Query()
	filter := eventlog.Filter{
		Name:   q.Get("name"),
		Prefix: q.Get("prefix"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
