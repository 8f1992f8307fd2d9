package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// RequestIDHeader carries the id of a request in responses.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// RequestError is an invalid request, answered with StatusCode.
type RequestError struct {
	StatusCode int
	Err        error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func badRequest(err error) error {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: err}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	RequestID string    `json:"request_id"`
	Error     errorBody `json:"error"`
}

// requestID assigns a uuid to each request.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFromContext returns the id assigned to the request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusFor maps the error taxonomy to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode, "bad_request"
	case errors.Is(err, interfaces.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, interfaces.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, interfaces.ErrWalletNotFound):
		return http.StatusNotFound, "wallet_not_found"
	case errors.Is(err, interfaces.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found"
	case errors.Is(err, interfaces.ErrResourceNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, interfaces.ErrSaleClosed):
		return http.StatusConflict, "sale_closed"
	case errors.Is(err, interfaces.ErrSupplyExhausted):
		return http.StatusConflict, "supply_exhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	case errors.Is(err, interfaces.ErrSigningFailed):
		return http.StatusInternalServerError, "signing_failed"
	case errors.Is(err, interfaces.ErrPreferenceWriteFailed):
		return http.StatusServiceUnavailable, "preference_write_failed"
	case errors.Is(err, interfaces.ErrPreferenceReadFailed):
		return http.StatusServiceUnavailable, "preference_read_failed"
	case errors.Is(err, interfaces.ErrWalletProvisioningFailed):
		return http.StatusServiceUnavailable, "wallet_provisioning_failed"
	case errors.Is(err, interfaces.ErrTransactionSubmissionFailed):
		return http.StatusBadGateway, "submission_failed"
	case errors.Is(err, interfaces.ErrTokenDeployFailed):
		return http.StatusBadGateway, "token_deploy_failed"
	case errors.Is(err, interfaces.ErrStorageUnavailable),
		errors.Is(err, interfaces.ErrBackendUnavailable),
		errors.Is(err, interfaces.ErrAccessForbidden):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, interfaces.ErrGrantFailed):
		return http.StatusBadGateway, "grant_failed"
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.Int("status", status),
			"err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorEnvelope{
		RequestID: RequestIDFromContext(r.Context()),
		Error:     errorBody{Code: code, Message: err.Error()},
	}); err != nil {
		h.log.Error("Failed to encode error response", "err", err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
