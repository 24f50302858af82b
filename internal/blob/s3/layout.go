package s3blob

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// DefaultPrefix is the archive root when none is configured.
const DefaultPrefix = "archive"

// layout maps archive batches to object keys, partitioned by kind and by the
// UTC day of the batch's oldest row:
//
//	archive/fills/2026-03-02/1772452800000000000.jsonl
//
// The file name is the oldest row's Unix nanoseconds, so rerunning a batch
// overwrites rather than duplicates.
type layout struct {
	prefix string
}

func newLayout(prefix string) layout {
	p := strings.Trim(path.Clean("/"+prefix), "/")
	if p == "" {
		p = DefaultPrefix
	}
	return layout{prefix: p}
}

func (l layout) key(kind domain.ArchiveKind, first time.Time) string {
	first = first.UTC()
	return fmt.Sprintf("%s/%s/%s/%d.jsonl", l.prefix, kind, first.Format(time.DateOnly), first.UnixNano())
}

// dir is the listing prefix for one kind, or for the whole archive when kind
// is empty.
func (l layout) dir(kind domain.ArchiveKind) string {
	if kind == "" {
		return l.prefix + "/"
	}
	return l.prefix + "/" + string(kind) + "/"
}

// parse validates key against the layout. Anything else, including keys that
// escape the prefix through "..", is not an archive file.
func (l layout) parse(key string) (domain.ArchiveFile, error) {
	notFound := func() (domain.ArchiveFile, error) {
		return domain.ArchiveFile{}, fmt.Errorf("s3blob: %q is not an archive file: %w", key, domain.ErrNotFound)
	}

	clean := path.Clean("/" + key)[1:]
	rest, ok := strings.CutPrefix(clean, l.prefix+"/")
	if !ok {
		return notFound()
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return notFound()
	}
	kind, err := domain.ParseArchiveKind(parts[0])
	if err != nil || kind == "" {
		return notFound()
	}
	name, ok := strings.CutSuffix(parts[2], ".jsonl")
	if !ok {
		return notFound()
	}
	nanos, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return notFound()
	}
	first := time.Unix(0, nanos).UTC()
	if first.Format(time.DateOnly) != parts[1] {
		return notFound()
	}
	return domain.ArchiveFile{Key: clean, Kind: kind, Day: parts[1], FirstAt: first}, nil
}
