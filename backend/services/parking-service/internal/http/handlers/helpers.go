package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"parkwise/backend/services/parking-service/internal/service"
)

const maxListLimit = 500

// Pinger reports backend reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// writeServiceError maps a service error to its status and code. Internal
// errors are logged and their text is not exposed.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	code := service.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

func statusFor(code string) int {
	switch code {
	case service.CodeMalformed, service.CodeInvalidArgument:
		return http.StatusBadRequest
	case service.CodeTampered, service.CodeExpired:
		return http.StatusUnauthorized
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeConflict:
		return http.StatusConflict
	case service.CodeChargeComputationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidArgument, "invalid json")
		return false
	}
	return true
}

// queryLimit parses the limit query parameter. Missing or invalid values
// yield def; values above maxListLimit are clamped.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
