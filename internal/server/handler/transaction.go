package handler

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/ledger"
	"github.com/v1xingyue/tokenwords/internal/service"
)

// Executor runs signed transactions.
type Executor interface {
	Execute(ctx context.Context, tx *ledger.Transaction) (domain.Receipt, error)
}

// TransactionHandler accepts transactions and serves receipts.
type TransactionHandler struct {
	exec   Executor
	query  *service.QueryService
	logger *slog.Logger
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(exec Executor, query *service.QueryService, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{exec: exec, query: query, logger: logger}
}

// SubmitRequest carries a base64 wire transaction.
type SubmitRequest struct {
	Transaction string `json:"transaction"`
}

// Submit executes a transaction. Program failures answer 200 with a failed
// receipt; host rejections answer 4xx.
// POST /api/transactions
func (h *TransactionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Transaction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "transaction is not base64")
		return
	}
	tx, err := ledger.UnmarshalTransaction(raw)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	receipt, err := h.exec.Execute(r.Context(), tx)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// GetTransaction serves GET /api/transactions/{id}.
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.query.Receipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// ListTransactions serves GET /api/transactions?limit=.
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	receipts, err := h.query.RecentReceipts(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if receipts == nil {
		receipts = []domain.Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}
