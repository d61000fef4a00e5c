package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/program"
)

// OracleHandler reads oracle feeds and, when a publisher is configured,
// sets their price.
type OracleHandler struct {
	pub    domain.OraclePublisher
	source domain.OracleSource
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler. pub and audit may be nil.
func NewOracleHandler(pub domain.OraclePublisher, source domain.OracleSource, audit domain.AuditStore, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{pub: pub, source: source, audit: audit, logger: logger}
}

type setPriceRequest struct {
	Price *int64 `json:"price"`
}

// SetPrice serves PUT /api/oracles/{key}.
func (h *OracleHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	feed, ok := pathKey(w, r, "key")
	if !ok {
		return
	}
	var req setPriceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Price == nil {
		writeError(w, http.StatusBadRequest, "price is required")
		return
	}
	if err := h.pub.SetPrice(r.Context(), feed, *req.Price); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if h.audit != nil {
		if err := h.audit.Log(r.Context(), "oracle.set_price", map[string]any{
			"feed":  feed.String(),
			"price": *req.Price,
		}); err != nil {
			h.logger.WarnContext(r.Context(), "audit log failed", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": feed.String(), "price": *req.Price})
}

// GetOracle serves GET /api/oracles/{key} with the raw payload.
func (h *OracleHandler) GetOracle(w http.ResponseWriter, r *http.Request) {
	feed, ok := pathKey(w, r, "key")
	if !ok {
		return
	}
	data, err := h.source.OracleData(r.Context(), feed)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp := map[string]any{"feed": feed.String(), "data": data}
	if price, err := program.ReadOraclePrice(data); err == nil {
		resp["price"] = price
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPrices serves GET /api/oracles?feeds=a,b when the source can read
// feeds in bulk.
func (h *OracleHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.source.(domain.OraclePriceLister)
	if !ok {
		writeError(w, http.StatusNotImplemented, "oracle source does not support listing")
		return
	}
	var feeds []solana.PublicKey
	for _, s := range strings.Split(r.URL.Query().Get("feeds"), ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		feed, ok := parseKey(w, s, "feeds")
		if !ok {
			return
		}
		feeds = append(feeds, feed)
	}
	if len(feeds) == 0 || len(feeds) > 100 {
		writeError(w, http.StatusBadRequest, "feeds must list 1 to 100 keys")
		return
	}
	prices, err := lister.Prices(r.Context(), feeds)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make(map[string]domain.OraclePrice, len(prices))
	for k, v := range prices {
		out[k.String()] = v
	}
	writeJSON(w, http.StatusOK, out)
}

// Writable reports whether SetPrice can be mounted.
func (h *OracleHandler) Writable() bool { return h.pub != nil }
