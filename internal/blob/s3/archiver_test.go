package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
		"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papersim/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	failPut error
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) PutBatch(_ context.Context, key string, body []byte) error {
	if m.failPut != nil {
		return m.failPut
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *memBlobs) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memBlobs) List(context.Context, domain.ArchiveKind) ([]domain.ArchiveFile, error) {
	return nil, nil
}

func (m *memBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type fakeFills struct {
	rows    []domain.Fill
	deletes []time.Time
}

func (f *fakeFills) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Fill, error) {
	var out []domain.Fill
	for _, r := range f.rows {
		if r.ExecutedAt.Before(before) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFills) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.deletes = append(f.deletes, before)
	var keep []domain.Fill
	var n int64
	for _, r := range f.rows {
		if r.ExecutedAt.Before(before) {
			n++
			continue
		}
		keep = append(keep, r)
	}
	f.rows = keep
	return n, nil
}

type noOrders struct{}

func (noOrders) ListBefore(context.Context, time.Time, int) ([]domain.Order, error) { return nil, nil }
func (noOrders) DeleteBefore(context.Context, time.Time) (int64, error)           { return 0, nil }

type noEquity struct{}

func (noEquity) ListBefore(context.Context, time.Time, int) ([]domain.EquitySnapshot, error) {
	return nil, nil
}
func (noEquity) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeAudit struct{ events []string }

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func fillsAt(mins ...int) []domain.Fill {
	out := make([]domain.Fill, 0, len(mins))
	for i, m := range mins {
		out = append(out, domain.Fill{
			ID:         "f" + string(rune('a'+i)),
			AgentID:    "agent",
			Symbol:     "BTC/USD",
			Side:       domain.OrderSideBuy,
			Price:      decimal.NewFromInt(50000),
			Quantity:   decimal.NewFromInt(1),
			ExecutedAt: t0.Add(time.Duration(m) * time.Minute),
		})
	}
	return out
}

func TestArchiveFills_UploadsVerifiesThenDeletes(t *testing.T) {
	blobs := newMemBlobs()
	fills := &fakeFills{rows: fillsAt(0, 1, 2, 90)}
	audit := &fakeAudit{}
	a := NewArchiver(blobs, blobs, fills, noOrders{}, noEquity{}, audit, "sim", 100)

	cutoff := t0.Add(time.Hour)
	n, err := a.ArchiveFills(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	path := newLayout("sim").key(domain.ArchiveFills, t0)
	assert.Equal(t, "sim/fills/2026-03-01/"+itoa(t0.UnixNano())+".jsonl", path)
	body, ok := blobs.objects[path]
	require.True(t, ok)

	sc := bufio.NewScanner(bytes.NewReader(body))
	lines := 0
	for sc.Scan() {
		var f domain.Fill
		require.NoError(t, json.Unmarshal(sc.Bytes(), &f))
		lines++
	}
	assert.Equal(t, 3, lines)

	assert.Equal(t, []time.Time{cutoff}, fills.deletes)
	assert.Len(t, fills.rows, 1)
	assert.Equal(t, []string{"archive.fills"}, audit.events)
}

func TestArchiveFills_FullBatchStopsAtLastTimestamp(t *testing.T) {
	blobs := newMemBlobs()
	fills := &fakeFills{rows: fillsAt(0, 1, 1, 2)}
	a := NewArchiver(blobs, blobs, fills, noOrders{}, noEquity{}, &fakeAudit{}, "", 2)

	n, err := a.ArchiveFills(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []time.Time{t0.Add(time.Minute)}, fills.deletes)
	assert.Len(t, fills.rows, 3, "rows at the boundary timestamp wait for the next run")
}

func TestArchiveFills_UploadFailureKeepsRows(t *testing.T) {
	blobs := newMemBlobs()
	blobs.failPut = errors.New("bucket gone")
	fills := &fakeFills{rows: fillsAt(0, 1)}
	a := NewArchiver(blobs, blobs, fills, noOrders{}, noEquity{}, &fakeAudit{}, "", 0)

	_, err := a.ArchiveFills(context.Background(), t0.Add(time.Hour))
	require.Error(t, err)
	assert.Empty(t, fills.deletes)
	assert.Len(t, fills.rows, 2)
}

func TestArchive_NothingToDo(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, &fakeFills{}, noOrders{}, noEquity{}, &fakeAudit{}, "", 0)
	n, err := a.ArchiveOrders(context.Background(), t0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio.local", normaliseEndpoint("minio.local", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
