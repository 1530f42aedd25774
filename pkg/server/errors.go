package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/entrained/engram/pkg/memory"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// statusFor maps the sentinel taxonomy to HTTP statuses.
func statusFor(err error) (status int, code string) {
	switch {
	case errors.Is(err, memory.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, memory.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, memory.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, memory.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, memory.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, memory.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, memory.ErrStorage):
		return http.StatusServiceUnavailable, "storage_error"
	case errors.Is(err, memory.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeErr maps an error to its HTTP response. 5xx details are logged, the
// client gets a short opaque message plus the request's correlation ID.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	detail := errorDetail{Code: code, Message: err.Error()}
	if status >= 500 {
		reqID := middleware.GetReqID(r.Context())
		slog.Error("request failed", "path", r.URL.Path, "status", status,
			"correlation_id", reqID, "error", err)
		detail.Message = "internal error"
		detail.CorrelationID = reqID
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
