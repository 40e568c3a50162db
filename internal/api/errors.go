package api

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in every non-2xx body.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeInternal      = "internal_error"
	ErrCodeNotConnected  = "not_connected"
	ErrCodePublishFailed = "publish_failed"
	ErrCodeUnavailable   = "unavailable"
)

// errorBody is the JSON shape of an error response.
type errorBody struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON encodes v before touching the response so an encoding failure
// can still become a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorBody{ //nolint:errcheck // fixed shape always encodes
			Status:  status,
			Code:    ErrCodeInternal,
			Message: "encoding response failed",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write; the client may have gone
	w.Write(append(body, '\n'))
}

// fail writes an error response tagged with the request ID.
func fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorBody{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: requestID(r.Context()),
	})
}
