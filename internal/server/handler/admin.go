package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

// AdminHandler serves the audit log and settlement archives.
type AdminHandler struct {
	audit    domain.AuditStore
	archives domain.ArchiveBrowser
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. archives may be nil when no
// object storage is configured.
func NewAdminHandler(audit domain.AuditStore, archives domain.ArchiveBrowser, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{audit: audit, archives: archives, logger: logger}
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?limit=&offset=
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListArchives returns the archived settlement files.
// GET /api/archives
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotImplemented, "archives are not configured")
		return
	}
	infos, err := h.archives.ListArchives(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// GetArchive streams one archive as JSON lines.
// GET /api/archives/{name}
func (h *AdminHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotImplemented, "archives are not configured")
		return
	}
	rc, err := h.archives.OpenArchive(r.Context(), r.PathValue("name"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted", slog.String("error", err.Error()))
	}
}
