package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/service"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// statusFor maps a service error onto the HTTP status class of its kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrPersonNotFound),
		errors.Is(err, service.ErrCardNotFound),
		errors.Is(err, service.ErrTokenNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSystemBlockConflict),
		errors.Is(err, service.ErrDuplicateCard),
		errors.Is(err, service.ErrTerminalCardStatus),
		errors.Is(err, service.ErrBindingConflict),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, service.ErrFeatureDisabled),
		errors.Is(err, service.ErrIPNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, service.ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrWebdelDisabled),
		errors.Is(err, service.ErrWebdelMisconfigured),
		errors.Is(err, service.ErrMissingSecret):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeServiceError renders err with the standard envelope. Internal errors
// are logged and their text withheld from the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := service.ErrorCode(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("request error method=%s path=%s err=%v", r.Method, r.URL.Path, err)
		writeError(w, status, "internal_error", "unexpected server error")
		return
	}
	if code == "internal_error" {
		// store sentinels reaching the edge without a service wrapper
		switch status {
		case http.StatusNotFound:
			code = "not_found"
		case http.StatusConflict:
			code = "conflict"
		}
	}
	writeError(w, status, code, err.Error())
}
