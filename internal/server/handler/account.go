package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gagliardetto/solana-go"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/service"
)

// Allocator creates empty account slots.
type Allocator interface {
	ProgramID() solana.PublicKey
	Allocate(ctx context.Context, key, owner solana.PublicKey) (domain.Account, error)
}

// AccountHandler serves the raw account endpoints.
type AccountHandler struct {
	alloc  Allocator
	query  *service.QueryService
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler. audit may be nil.
func NewAccountHandler(alloc Allocator, query *service.QueryService, audit domain.AuditStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{alloc: alloc, query: query, audit: audit, logger: logger}
}

type allocateRequest struct {
	Key   string `json:"key"`
	Owner string `json:"owner,omitempty"`
}

// Allocate creates an empty slot. The owner defaults to the program.
// POST /api/accounts
func (h *AccountHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	key, ok := parseKey(w, req.Key, "key")
	if !ok {
		return
	}
	owner := h.alloc.ProgramID()
	if req.Owner != "" {
		if owner, ok = parseKey(w, req.Owner, "owner"); !ok {
			return
		}
	}

	acct, err := h.alloc.Allocate(r.Context(), key, owner)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if h.audit != nil {
		if err := h.audit.Log(r.Context(), "account.allocate", map[string]any{
			"key":   key.String(),
			"owner": owner.String(),
		}); err != nil {
			h.logger.WarnContext(r.Context(), "audit log failed", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusCreated, acct)
}

// GetAccount returns a raw account with base64 data.
// GET /api/accounts/{key}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "key")
	if !ok {
		return
	}
	acct, err := h.query.Account(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
