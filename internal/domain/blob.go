package domain

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ArchiveKind names one family of archived history rows.
type ArchiveKind string

const (
	ArchiveFills  ArchiveKind = "fills"
	ArchiveOrders ArchiveKind = "orders"
	ArchiveEquity ArchiveKind = "equity"
)

// ParseArchiveKind accepts one of the archive kinds, or "" meaning all of
// them.
func ParseArchiveKind(s string) (ArchiveKind, error) {
	switch k := ArchiveKind(s); k {
	case "", ArchiveFills, ArchiveOrders, ArchiveEquity:
		return k, nil
	default:
		return "", fmt.Errorf("%w: archive kind must be fills, orders or equity", ErrValidation)
	}
}

// ArchiveFile describes one archived JSONL batch. FirstAt is the timestamp
// of the oldest row in the batch and names the file.
type ArchiveFile struct {
	Key          string      `json:"key"`
	Kind         ArchiveKind `json:"kind"`
	Day          string      `json:"day"`
	FirstAt      time.Time   `json:"first_at"`
	Size         int64       `json:"size"`
	LastModified time.Time   `json:"last_modified,omitzero"`
}

// ArchiveWriter stores one serialized batch under key.
type ArchiveWriter interface {
	PutBatch(ctx context.Context, key string, body []byte) error
}

// ArchiveReader browses archived batches. Keys that do not follow the
// archive layout are reported as ErrNotFound.
type ArchiveReader interface {
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, kind ArchiveKind) ([]ArchiveFile, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Archiver moves old simulation history from the database to cold storage.
type Archiver interface {
	ArchiveFills(ctx context.Context, before time.Time) (int64, error)
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
	ArchiveEquity(ctx context.Context, before time.Time) (int64, error)
}
