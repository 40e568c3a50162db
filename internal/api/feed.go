package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/fishfeeder/internal/command"
	"github.com/nerrad567/fishfeeder/internal/feeder"
)

// dispatchSourceAPI labels dispatch log rows written by this server.
const dispatchSourceAPI = "api"

// feedFailures maps DispatchManualFeed errors to responses. First match wins.
var feedFailures = []struct {
	target  error
	status  int
	code    string
	message string
}{
	{command.ErrNotConnected, http.StatusConflict, ErrCodeNotConnected, "feeder is not connected"},
	{command.ErrPublishFailed, http.StatusBadGateway, ErrCodePublishFailed, "publishing the feed command failed"},
	{feeder.ErrClosed, http.StatusServiceUnavailable, ErrCodeUnavailable, "service is shutting down"},
}

// handleManualFeed dispatches the manual feed command.
//
// 202 means the broker link accepted the publish; the device itself never
// acknowledges. 409 means there was no connection and nothing was sent.
func (s *Server) handleManualFeed(w http.ResponseWriter, r *http.Request) {
	ack, err := s.feeder.DispatchManualFeed(command.WithSource(r.Context(), dispatchSourceAPI))
	if err == nil {
		writeJSON(w, http.StatusAccepted, ack)
		return
	}

	for _, f := range feedFailures {
		if errors.Is(err, f.target) {
			if f.status == http.StatusBadGateway {
				s.logger.Warn("manual feed publish failed", "error", err, "request_id", requestID(r.Context()))
			}
			fail(w, r, f.status, f.code, f.message)
			return
		}
	}

	s.logger.Error("manual feed failed", "error", err, "request_id", requestID(r.Context()))
	fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "manual feed failed")
}
