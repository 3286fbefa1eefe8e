package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/docvision/docvision/internal/common"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

// statusFor maps a pipeline error onto an HTTP status and a client-safe
// body. AppError messages are our own wording and safe to expose; anything
// else collapses to a generic internal error.
func statusFor(err error) (int, errorBody) {
	body := errorBody{Code: "INTERNAL", Message: "internal error"}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		body = errorBody{Code: appErr.Code, Message: appErr.Message}
	}

	switch {
	case errors.Is(err, common.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, body
	case errors.Is(err, common.ErrCorruptInput):
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, body
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, common.ErrOCRUnavailable), errors.Is(err, common.ErrVisionUnavailable):
		return http.StatusBadGateway, body
	case errors.Is(err, common.ErrCacheUnavailable):
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: "internal error"}
	}
}

func toErrorBody(err error) *errorBody {
	_, body := statusFor(err)
	return &body
}
