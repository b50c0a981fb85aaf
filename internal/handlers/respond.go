package handlers

import (
	"errors"
	"net/http"

	cierrors "certinv/internal/errors"
	"certinv/internal/httputil"
	"certinv/internal/logger"
	"certinv/middleware"
)

// statusFor maps an inventory error to its HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, cierrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, cierrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, cierrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cierrors.ErrUpstream), errors.Is(err, cierrors.ErrDirectoryNotConfigured):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respond writes body with the status derived from err, logging failures.
// Client errors log at warn, everything else at error.
func respond(w http.ResponseWriter, r *http.Request, okStatus int, body any, err error, msg string) {
	if err == nil {
		httputil.WriteJSON(w, okStatus, body)
		return
	}
	status := statusFor(err)
	requestID := middleware.GetRequestID(r.Context())
	if status >= http.StatusInternalServerError {
		logger.HTTPError(r.Method, r.URL.Path, status, err).Str("request_id", requestID).Msg(msg)
	} else {
		logger.Get().Warn().
			Str("event_category", "http").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Str("request_id", requestID).
			Err(err).
			Msg(msg)
	}
	httputil.WriteJSON(w, status, body)
}
