package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// Narrow store views the archiver needs: a page of old rows, oldest first,
// and deletion once that page is safely in object storage.

type FillArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Fill, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type OrderArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type EquityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.EquitySnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// DefaultBatchSize bounds how many rows one archive call moves.
const DefaultBatchSize = 50_000

// ArchiveImpl implements domain.Archiver. Each call moves one batch of rows
// older than the cutoff: it serializes them to JSONL, uploads the file,
// confirms the object exists and only then deletes the rows from Postgres.
// When a batch is full, deletion stops at the newest archived timestamp and
// the rest is picked up by the next call.
type ArchiveImpl struct {
	writer domain.ArchiveWriter
	reader domain.ArchiveReader
	fills  FillArchiveStore
	orders OrderArchiveStore
	equity EquityArchiveStore
	audit  domain.AuditStore
	layout layout
	batch  int
}

// NewArchiver creates a new ArchiveImpl writing under prefix.
func NewArchiver(
	writer domain.ArchiveWriter,
	reader domain.ArchiveReader,
	fills FillArchiveStore,
	orders OrderArchiveStore,
	equity EquityArchiveStore,
	audit domain.AuditStore,
	prefix string,
	batch int,
) *ArchiveImpl {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		fills:  fills,
		orders: orders,
		equity: equity,
		audit:  audit,
		layout: newLayout(prefix),
		batch:  batch,
	}
}

// ArchiveFills moves fills executed before the cutoff.
func (a *ArchiveImpl) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.fills.ListBefore(ctx, before, a.batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	return archiveBatch(ctx, a, domain.ArchiveFills, before, rows,
		func(f domain.Fill) time.Time { return f.ExecutedAt }, a.fills.DeleteBefore)
}

// ArchiveOrders moves closed orders last updated before the cutoff.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.orders.ListBefore(ctx, before, a.batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return archiveBatch(ctx, a, domain.ArchiveOrders, before, rows,
		func(o domain.Order) time.Time { return o.UpdatedAt }, a.orders.DeleteBefore)
}

// ArchiveEquity moves equity snapshots taken before the cutoff.
func (a *ArchiveImpl) ArchiveEquity(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.equity.ListBefore(ctx, before, a.batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive equity query: %w", err)
	}
	return archiveBatch(ctx, a, domain.ArchiveEquity, before, rows,
		func(e domain.EquitySnapshot) time.Time { return e.TakenAt }, a.equity.DeleteBefore)
}

func archiveBatch[T any](
	ctx context.Context,
	a *ArchiveImpl,
	kind domain.ArchiveKind,
	before time.Time,
	rows []T,
	stamp func(T) time.Time,
	deleteBefore func(context.Context, time.Time) (int64, error),
) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := a.layout.key(kind, stamp(rows[0]))
	if err := a.writer.PutBatch(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive %s verify: %s missing after upload", kind, path)
	}

	// A full batch may have stopped part-way through rows sharing the last
	// timestamp; leave those for the next run.
	cutoff := before
	if len(rows) >= a.batch {
		cutoff = stamp(rows[len(rows)-1])
	}
	deleted, err := deleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s delete: %w", kind, err)
	}

	count := int64(len(rows))
	if err := a.audit.Log(ctx, "archive."+string(kind), map[string]any{
		"path":    path,
		"count":   count,
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
