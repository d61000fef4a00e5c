package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

const (
	jsonlContentType  = "application/x-ndjson"
	settlementsPrefix = "archive/settlements/"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 64 << 20
)

// SettlementArchiver implements domain.Archiver. It copies settlements
// older than a cutoff to archive/settlements/YYYY-MM.jsonl. Rows stay in
// the primary store.
type SettlementArchiver struct {
	writer      domain.BlobWriter
	reader      domain.BlobReader
	settlements domain.SettlementStore
	audit       domain.AuditStore
	now         func() time.Time
}

// NewArchiver creates a SettlementArchiver. reader and audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, settlements domain.SettlementStore, audit domain.AuditStore) *SettlementArchiver {
	return &SettlementArchiver{
		writer:      writer,
		reader:      reader,
		settlements: settlements,
		audit:       audit,
		now:         time.Now,
	}
}

// ArchiveSettlements uploads every settlement before the cutoff and returns
// how many were written. When the month's object already exists the new
// upload gets a timestamp suffix instead of replacing it.
func (a *SettlementArchiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.settlements.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	path := archivePath("settlements", before, "")
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive settlements: %w", err)
		}
		if exists {
			path = archivePath("settlements", before, fmt.Sprintf(".%d", a.now().Unix()))
		}
	}

	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	count := int64(len(rows))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.settlements", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive settlements audit: %w", err)
		}
	}
	return count, nil
}

// ListArchives returns the settlement archive objects.
func (a *SettlementArchiver) ListArchives(ctx context.Context) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, errors.New("s3blob: list archives: no reader configured")
	}
	infos, err := a.reader.List(ctx, settlementsPrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	return infos, nil
}

// OpenArchive opens one settlement archive by its file name.
func (a *SettlementArchiver) OpenArchive(ctx context.Context, name string) (io.ReadCloser, error) {
	if a.reader == nil {
		return nil, errors.New("s3blob: open archive: no reader configured")
	}
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") || !strings.HasSuffix(name, ".jsonl") {
		return nil, fmt.Errorf("s3blob: archive name %q: %w", name, domain.ErrInvalidInput)
	}
	return a.reader.Get(ctx, settlementsPrefix+name)
}

// archivePath partitions archives by the cutoff month, e.g.
// archive/settlements/2026-10.jsonl.
func archivePath(kind string, before time.Time, suffix string) string {
	return fmt.Sprintf("archive/%s/%s%s.jsonl", kind, before.UTC().Format("2006-01"), suffix)
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var (
	_ domain.Archiver       = (*SettlementArchiver)(nil)
	_ domain.ArchiveBrowser = (*SettlementArchiver)(nil)
)
