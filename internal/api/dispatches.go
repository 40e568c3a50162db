package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/fishfeeder/internal/audit"
)

// handleListDispatches returns a page of the dispatch log, newest first.
//
// Query parameters: outcome, since (RFC 3339), limit, offset.
func (s *Server) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	if s.dispatches == nil {
		fail(w, r, http.StatusNotFound, ErrCodeNotFound, "dispatch log is disabled")
		return
	}

	filter, msg := parseDispatchFilter(r)
	if msg != "" {
		fail(w, r, http.StatusBadRequest, ErrCodeBadRequest, msg)
		return
	}

	result, err := s.dispatches.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing dispatches failed",
			"error", err,
			"request_id", requestID(r.Context()),
		)
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "failed to list dispatches")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseDispatchFilter reads the query string. A non-empty message means the
// request is invalid.
func parseDispatchFilter(r *http.Request) (audit.Filter, string) {
	q := r.URL.Query()
	var f audit.Filter

	if v := q.Get("outcome"); v != "" {
		f.Outcome = audit.Outcome(v)
		if !f.Outcome.Valid() {
			return f, "outcome must be submitted, not_connected or publish_failed"
		}
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, "since must be an RFC 3339 timestamp"
		}
		f.Since = t
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, "limit must be a non-negative integer"
		}
		f.Limit = n
	}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, "offset must be a non-negative integer"
		}
		f.Offset = n
	}

	return f, ""
}
