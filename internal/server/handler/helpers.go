// Package handler implements the JSON endpoints of the ledger API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/program"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps sentinel errors to a status code. Unexpected errors
// are logged and reported as 500 without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrDuplicateTransaction):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAccountInUse), errors.Is(err, domain.ErrLockHeld):
		w.Header().Set("Retry-After", "1")
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnknownProgram),
		errors.Is(err, domain.ErrMissingSignature),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, program.ErrDecode):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrStaleTransaction):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, program.ErrClockUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// pathKey parses a base58 path parameter, writing 400 on failure.
func pathKey(w http.ResponseWriter, r *http.Request, name string) (solana.PublicKey, bool) {
	return parseKey(w, r.PathValue(name), name)
}

func parseKey(w http.ResponseWriter, s, field string) (solana.PublicKey, bool) {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+field+": "+err.Error())
		return solana.PublicKey{}, false
	}
	return key, true
}

// optionalKey parses an optional query parameter. Absent means zero.
func optionalKey(w http.ResponseWriter, r *http.Request, name string) (solana.PublicKey, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return solana.PublicKey{}, true
	}
	return parseKey(w, v, name)
}
