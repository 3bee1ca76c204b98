package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"fileshare/internal/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any, logger zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindQuotaExceeded:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExternal:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError renders err. Messages of untyped and invariant failures stay
// in the log.
func writeError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	resp := errorResponse{Code: string(kind), Message: err.Error()}

	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		resp.Message = e.Message
	}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		resp = errorResponse{Code: "internal_error", Message: "internal server error"}
	} else if status == http.StatusBadGateway {
		logger.Error().Err(err).Msg("external service failed")
	}
	writeJSON(w, status, resp, logger)
}

// decode reads a JSON body into dst and validates it.
func decode(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid JSON payload: %v", err)
	}
	if err := v.Struct(dst); err != nil {
		return apperr.Validation("validation failed: %v", err)
	}
	return nil
}

// page reads limit and offset from the query. Bad values fall back to the
// service defaults.
func page(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
