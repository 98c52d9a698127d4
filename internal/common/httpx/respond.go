package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"station-system/internal/domain"
)

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem writes an RFC 7807 problem document.
func WriteProblem(w http.ResponseWriter, code int, typ, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}

// WriteError maps domain errors onto problem responses.
func WriteError(w http.ResponseWriter, err error) {
	code, typ := Classify(err)
	WriteProblem(w, code, typ, err.Error())
}

func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusConflict, "precondition_failed"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, "insufficient_stock"
	case errors.Is(err, domain.ErrRetriesExhausted), errors.Is(err, domain.ErrConflict):
		return http.StatusServiceUnavailable, "retry_later"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// AtoiDefault parses s, falling back to d when s is empty or malformed.
func AtoiDefault(s string, d int) int {
	if s == "" {
		return d
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return n
}
