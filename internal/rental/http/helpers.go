package rentalhttp

import (
	"encoding/json"
	"net/http"

	"rentalBack/internal/rental/lifecycle"
)

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps a lifecycle error kind to an HTTP status.
func statusFor(kind lifecycle.Kind) int {
	switch kind {
	case lifecycle.KindForbidden:
		return http.StatusForbidden
	case lifecycle.KindConflict:
		return http.StatusConflict
	case lifecycle.KindNotFound:
		return http.StatusNotFound
	case lifecycle.KindValidation:
		return http.StatusBadRequest
	case lifecycle.KindPayment:
		return http.StatusPaymentRequired
	case lifecycle.KindTransport:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeLifecycleError(w http.ResponseWriter, err error) {
	kind := lifecycle.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Errorf("reservation request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Kind:      kind.String(),
		Retryable: kind == lifecycle.KindConflict,
	})
}
