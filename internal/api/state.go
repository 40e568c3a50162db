package api

import "net/http"

// handleGetState returns the current device State.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feeder.Snapshot())
}
