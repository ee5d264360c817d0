package idempotency

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func weightEvent(kg any) model.RawEvent {
	return model.RawEvent{
		SourceID:      "scale-1",
		Provider:      "withings",
		Kind:          model.KindWeight,
		SchemaVersion: 1,
		ObservedAt:    model.ObservedTime{Start: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)},
		TimeZone:      "Europe/Berlin",
		Day:           "2026-03-14",
		ReceivedAt:    time.Now().UTC(),
		Provenance:    model.ProvenanceRealtime,
		Payload:       map[string]any{"value_kg": kg},
	}
}

func TestResolve_IdempotentReplay(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	target := RawEventTarget{Store: s, UserID: "user-a"}

	first, err := Resolve(ctx, target, "key-1", weightEvent(80.0), RawEventFingerprint)
	require.NoError(t, err)
	assert.Equal(t, FirstWrite, first.Outcome)

	for i := 0; i < 5; i++ {
		// Receipt time differs on every retry and must not matter.
		ev := weightEvent(80.0)
		ev.ReceivedAt = ev.ReceivedAt.Add(time.Duration(i+1) * time.Minute)
		res, err := Resolve(ctx, target, "key-1", ev, RawEventFingerprint)
		require.NoError(t, err)
		assert.Equal(t, IdenticalReplay, res.Outcome)
		assert.Equal(t, first.Fingerprint, res.Fingerprint)
	}

	var count int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM raw_events").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestResolve_ConflictDetection(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	target := RawEventTarget{Store: s, UserID: "user-a"}

	_, err := Resolve(ctx, target, "key-1", weightEvent(80.0), RawEventFingerprint)
	require.NoError(t, err)

	res, err := Resolve(ctx, target, "key-1", weightEvent(81.0), RawEventFingerprint)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, Conflict, res.Outcome)

	stored, err := s.GetRawEvent(ctx, "user-a", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "80", fmt.Sprint(stored.Payload["value_kg"]), "stored record keeps the first content")
}

func TestResolve_MissingKey(t *testing.T) {
	s := openStore(t)
	_, err := Resolve(context.Background(), RawEventTarget{Store: s, UserID: "u"}, "", weightEvent(80.0), RawEventFingerprint)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestResolve_ConcurrentSameKey(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	target := RawEventTarget{Store: s, UserID: "user-a"}

	const n = 8
	outcomes := make([]Outcome, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := Resolve(ctx, target, "key-race", weightEvent(80.0), RawEventFingerprint)
			outcomes[i], errs[i] = res.Outcome, err
		}(i)
	}
	wg.Wait()

	firsts := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if outcomes[i] == FirstWrite {
			firsts++
		} else {
			assert.Equal(t, IdenticalReplay, outcomes[i])
		}
	}
	assert.Equal(t, 1, firsts)
}

func TestRawEventFingerprint_Excludes(t *testing.T) {
	a := weightEvent(80.0)
	b := weightEvent(json80())
	b.ReceivedAt = a.ReceivedAt.Add(time.Hour)
	recorded := time.Now()
	b.RecordedAt = &recorded
	b.Day = "other"
	b.PayloadHash = "ignored"

	fa, err := RawEventFingerprint(a)
	require.NoError(t, err)
	fb, err := RawEventFingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	c := weightEvent(80.0)
	c.SchemaVersion = 2
	fc, err := RawEventFingerprint(c)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fc)

	d := weightEvent(80.0)
	d.Payload = nil
	e := weightEvent(80.0)
	e.Payload = map[string]any{}
	fd, err := RawEventFingerprint(d)
	require.NoError(t, err)
	fe, err := RawEventFingerprint(e)
	require.NoError(t, err)
	assert.Equal(t, fd, fe)
}

func json80() any {
	return 80
}

type vanishingTarget struct{}

func (vanishingTarget) Create(context.Context, string, int) error {
	return fmt.Errorf("create: %w", store.ErrAlreadyExists)
}

func (vanishingTarget) Get(context.Context, string) (int, error) {
	return 0, fmt.Errorf("get: %w", store.ErrNotFound)
}

type brokenTarget struct{}

func (brokenTarget) Create(context.Context, string, int) error { return errors.New("disk full") }
func (brokenTarget) Get(context.Context, string) (int, error) { return 0, nil }

func intFingerprint(v int) (string, error) { return fmt.Sprint(v), nil }

func TestResolve_IntegrityAndStoreErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Resolve[int](ctx, vanishingTarget{}, "k", 1, intFingerprint)
	assert.ErrorIs(t, err, ErrVanished)

	_, err = Resolve[int](ctx, brokenTarget{}, "k", 1, intFingerprint)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
}
