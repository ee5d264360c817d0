package failure

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/metrics"
	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/store"
)

var fixedNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleFailure(message string) model.Failure {
	return model.Failure{
		UserID:     "u1",
		Source:     SourceDerive,
		Stage:      "compute",
		ReasonCode: "RULE_ENGINE_FAILED",
		Message:    message,
		Day:        "2026-03-14",
		RawEventID: "k1",
		Details:    map[string]any{"attempt": 1, "kinds": []any{"weight"}},
	}
}

func TestRecord_IdenticalIsNoop(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	id1, err := r.Record(ctx, sampleFailure("compute failed"))
	require.NoError(t, err)
	id2, err := r.Record(ctx, sampleFailure("compute failed"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	base, err := BaseID(sampleFailure("compute failed"))
	require.NoError(t, err)
	assert.Equal(t, base, id1)

	records, err := s.ListFailures(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, fixedNow, records[0].CreatedAt)
}

func TestFailureMemoryNoLoss(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s)
	ctx := context.Background()

	first := sampleFailure("first message")
	second := sampleFailure("second message")

	baseID, err := r.Record(ctx, first)
	require.NoError(t, err)
	altID, err := r.Record(ctx, second)
	require.NoError(t, err)
	assert.NotEqual(t, baseID, altID, "colliding failure must land on an alternate id")

	again, err := r.Record(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, altID, again, "alternate id is deterministic")

	stored, err := s.GetFailure(ctx, baseID)
	require.NoError(t, err)
	assert.Equal(t, "first message", stored.Message)

	stored, err = s.GetFailure(ctx, altID)
	require.NoError(t, err)
	assert.Equal(t, "second message", stored.Message)

	records, err := s.ListFailures(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRecord_DifferentIdentityDifferentBase(t *testing.T) {
	a := sampleFailure("m")
	b := sampleFailure("m")
	b.Stage = "commit"

	idA, err := BaseID(a)
	require.NoError(t, err)
	idB, err := BaseID(b)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	c := sampleFailure("other message")
	c.Details = map[string]any{"other": true}
	idC, err := BaseID(c)
	require.NoError(t, err)
	assert.Equal(t, idA, idC, "message and details are not identity")
}

func TestRecord_SanitizesDetails(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s)
	ctx := context.Background()

	f := sampleFailure("m")
	f.Details = map[string]any{
		"Authorization": "Bearer abc",
		"payload":       map[string]any{"value_kg": 80},
		"attempt":       2,
	}
	id, err := r.Record(ctx, f)
	require.NoError(t, err)

	stored, err := s.GetFailure(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stored.Details, 1)
	assert.Contains(t, stored.Details, "attempt")

	again, err := r.Record(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, id, again, "sanitized details read back identically")
}

// collidingStore reports every id as taken by unrelated content.
type collidingStore struct {
	gets int
}

func (c *collidingStore) CreateFailure(ctx context.Context, rec model.FailureRecord) error {
	return store.ErrAlreadyExists
}

func (c *collidingStore) GetFailure(ctx context.Context, id string) (model.FailureRecord, error) {
	c.gets++
	f := sampleFailure("unrelated content")
	f.Message = f.Message + id
	return model.FailureRecord{ID: id, Failure: f}, nil
}

func TestRecord_ChainExhausted(t *testing.T) {
	cs := &collidingStore{}
	r := NewRecorder(cs)

	f := sampleFailure("m")
	id, err := r.Record(context.Background(), f)
	assert.ErrorIs(t, err, ErrChainExhausted)
	assert.Equal(t, MaxDepth, cs.gets)

	base, berr := BaseID(f)
	require.NoError(t, berr)
	assert.Equal(t, base, id)
}

type brokenStore struct{}

func (brokenStore) CreateFailure(ctx context.Context, rec model.FailureRecord) error {
	return errors.New("disk full")
}

func (brokenStore) GetFailure(ctx context.Context, id string) (model.FailureRecord, error) {
	return model.FailureRecord{}, store.ErrNotFound
}

func TestCapture_LogsAndCountsErrors(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.NewManager()
	r := NewRecorder(brokenStore{},
		WithLogger(logging.NewWithWriter(&buf, slog.LevelInfo, "json")),
		WithMetrics(m),
	)

	f := sampleFailure("m")
	f.Details = map[string]any{"token": "s3cr3t"}
	id := r.Capture(context.Background(), f)
	assert.NotEmpty(t, id)

	assert.Contains(t, buf.String(), "failure memory write failed")
	assert.Contains(t, buf.String(), "disk full")
	assert.NotContains(t, buf.String(), "s3cr3t")

	assert.Equal(t, 1.0, counterValue(t, m, "healthledger_failure_memory_write_errors_total"))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Capture(context.Background(), sampleFailure("m"))
	})
}

func counterValue(t *testing.T, m *metrics.Manager, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
