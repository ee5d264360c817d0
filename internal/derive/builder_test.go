package derive

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhendel/oli-sub001/internal/canon"
	"github.com/danielhendel/oli-sub001/internal/failure"
	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/normalize"
	"github.com/danielhendel/oli-sub001/internal/store"
	"github.com/danielhendel/oli-sub001/internal/testutil"
)

const testDay = "2026-03-14"

var baseTime = time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)

type fixture struct {
	store      *store.Store
	normalizer *normalize.Normalizer
	clock      *testutil.FixedClock
	ids        *testutil.SequenceIDs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := testutil.NewSteppingClock(baseTime.Add(2*time.Hour), time.Minute)
	return &fixture{
		store:      s,
		normalizer: normalize.New(s, clock.Now),
		clock:      clock,
		ids:        testutil.NewSequenceIDs("run"),
	}
}

func (f *fixture) builder(opts ...Option) *Builder {
	opts = append([]Option{
		WithClock(f.clock.Now),
		WithIDGenerator(f.ids),
		WithFailureRecorder(failure.NewRecorder(f.store)),
	}, opts...)
	return NewBuilder(f.store, SummaryEngine{}, f.store, opts...)
}

// ingest stores and normalizes a weight reading.
func (f *fixture) ingest(t *testing.T, id string, offset time.Duration, kg float64, correctionOf string) model.CanonicalEvent {
	t.Helper()
	raw := model.RawEvent{
		ID:            id,
		UserID:        "u1",
		SourceID:      "scale-1",
		Provider:      "withings",
		Kind:          model.KindWeight,
		SchemaVersion: 1,
		ObservedAt:    model.ObservedTime{Start: baseTime.Add(offset)},
		TimeZone:      "UTC",
		Day:           testDay,
		ReceivedAt:    baseTime.Add(offset),
		Provenance:    model.ProvenanceRealtime,
		Payload:       map[string]any{"value_kg": kg},
		PayloadHash:   "h-" + id,
	}
	if correctionOf != "" {
		raw.Provenance = model.ProvenanceCorrection
		raw.CorrectionOf = correctionOf
	}
	ctx := context.Background()
	require.NoError(t, f.store.CreateRawEvent(ctx, raw))
	ev, outcome, err := f.normalizer.Normalize(ctx, raw)
	require.NoError(t, err)
	require.True(t, outcome.Produced())
	return ev
}

func manual(user, day string) BuildRequest {
	return BuildRequest{UserID: user, Day: day, Trigger: model.Trigger{Type: model.TriggerManual}}
}

func TestBuild_CommitsRunSnapshotsAndPointer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fact := f.ingest(t, "k1", 0, 80, "")

	run, err := f.builder().Build(ctx, manual("u1", testDay))
	require.NoError(t, err)

	assert.Equal(t, "run-0001", run.RunID)
	assert.Equal(t, SummaryVersion, run.PipelineVersion)
	assert.Equal(t, []string{fact.ID}, run.CanonicalEventIDs)
	assert.Equal(t, Invariants, run.Invariants)
	assert.Equal(t, map[string]bool{
		ArtifactDailyFacts:   true,
		ArtifactDailySummary: true,
		ArtifactInsight:      true,
	}, run.Outputs)

	docIDs := make([]string, len(run.SnapshotRefs))
	for i, ref := range run.SnapshotRefs {
		docIDs[i] = ref.DocID
	}
	assert.Equal(t, []string{"daily_facts", "daily_summary", "insight:weight"}, docIDs)

	stored, err := f.store.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.SnapshotRefs, stored.SnapshotRefs)

	for _, ref := range run.SnapshotRefs {
		snap, err := f.store.GetSnapshot(ctx, run.RunID, ref.DocID)
		require.NoError(t, err)
		assert.Equal(t, ref.Hash, canon.FingerprintBytes(snap.Data), ref.DocID)
	}

	summary, err := f.store.GetSnapshot(ctx, run.RunID, ArtifactDailySummary)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"day": "2026-03-14",
		"fact_count": 1,
		"kinds": {"weight": {
			"count": 1,
			"fields": {"value_kg": {"max": 80, "min": 80}},
			"latest": {"value_kg": 80},
			"latest_observed_at": "2026-03-14T07:00:00Z"
		}}
	}`, string(summary.Data))

	ptr, err := f.store.GetPointer(ctx, "u1", testDay)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, ptr.LatestRunID)
}

func TestBuild_EveryTriggerCreatesNewRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, "k1", 0, 80, "")
	b := f.builder()

	first, err := b.Build(ctx, manual("u1", testDay))
	require.NoError(t, err)
	second, err := b.Build(ctx, manual("u1", testDay))
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.SnapshotRefs, second.SnapshotRefs, "identical inputs hash identically")

	ids, err := f.store.ListRunIDs(ctx, "u1", testDay)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestBuild_ReplayImmutability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.builder()

	f.ingest(t, "k1", 0, 80, "")
	runA, err := b.Build(ctx, manual("u1", testDay))
	require.NoError(t, err)
	factsA, err := f.store.GetSnapshot(ctx, runA.RunID, ArtifactDailyFacts)
	require.NoError(t, err)

	f.ingest(t, "k2", 0, 81, "k1")
	runB, err := b.Build(ctx, manual("u1", testDay))
	require.NoError(t, err)

	again, err := f.store.GetSnapshot(ctx, runA.RunID, ArtifactDailyFacts)
	require.NoError(t, err)
	assert.Equal(t, factsA.Data, again.Data, "run A bytes never change")
	assert.Equal(t, runA.SnapshotRefs[0].Hash, canon.FingerprintBytes(again.Data))
	assert.Contains(t, string(again.Data), `"value_kg":80`)

	factsB, err := f.store.GetSnapshot(ctx, runB.RunID, ArtifactDailyFacts)
	require.NoError(t, err)
	assert.Contains(t, string(factsB.Data), `"value_kg":81`)
	assert.NotContains(t, string(factsB.Data), `"value_kg":80`)

	ptr, err := f.store.GetPointer(ctx, "u1", testDay)
	require.NoError(t, err)
	assert.Equal(t, runB.RunID, ptr.LatestRunID)
}

func TestBuild_InsightTracksChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, "k1", 0, 80, "")
	f.ingest(t, "k2", time.Hour, 81.5, "")

	run, err := f.builder().Build(ctx, manual("u1", testDay))
	require.NoError(t, err)

	snap, err := f.store.GetSnapshot(ctx, run.RunID, "insight:weight")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"day": "2026-03-14",
		"kind": "weight",
		"readings": 2,
		"first": {"value_kg": 80},
		"latest": {"value_kg": 81.5},
		"change": {"value_kg": 1.5}
	}`, string(snap.Data))
}

func TestBuild_EmptyDay(t *testing.T) {
	f := newFixture(t)

	run, err := f.builder().Build(context.Background(), manual("u1", testDay))
	require.NoError(t, err)
	assert.Empty(t, run.CanonicalEventIDs)
	assert.Len(t, run.SnapshotRefs, 2)
	assert.False(t, run.Outputs[ArtifactInsight])
}

func TestBuild_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	b := f.builder()
	ctx := context.Background()

	_, err := b.Build(ctx, manual("", testDay))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = b.Build(ctx, manual("u1", "2026-13-01"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = b.Build(ctx, BuildRequest{UserID: "u1", Day: testDay, Trigger: model.Trigger{Type: "cron"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

type failingFacts struct{}

func (failingFacts) ListCurrentFacts(ctx context.Context, userID, day string) ([]model.CanonicalEvent, error) {
	return nil, errors.New("database is locked")
}

type failingEngine struct{}

func (failingEngine) Version() string { return "failing/1" }

func (failingEngine) Compute(ctx context.Context, facts Facts) ([]Artifact, error) {
	return nil, errors.New("rule exploded")
}

type staticEngine struct {
	artifacts []Artifact
}

func (staticEngine) Version() string { return "static/1" }

func (e staticEngine) Compute(ctx context.Context, facts Facts) ([]Artifact, error) {
	return e.artifacts, nil
}

type failingWriter struct{}

func (failingWriter) CommitRun(ctx context.Context, run model.DerivedRun, snapshots []model.Snapshot) error {
	return errors.New("disk I/O error")
}

func TestBuild_FailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name   string
		facts  func(*fixture) FactSource
		engine RuleEngine
		writer func(*fixture) RunWriter
		stage  Stage
		reason string
	}{
		{
			name:   "fact read",
			facts:  func(*fixture) FactSource { return failingFacts{} },
			engine: SummaryEngine{},
			stage:  StageReadFacts,
			reason: ReasonFactReadFailed,
		},
		{
			name:   "compute",
			engine: failingEngine{},
			stage:  StageCompute,
			reason: ReasonRuleEngineFailed,
		},
		{
			name: "duplicate doc ids",
			engine: staticEngine{artifacts: []Artifact{
				{Kind: "a", Data: 1},
				{Kind: "a", Data: 2},
			}},
			stage:  StageCompute,
			reason: ReasonInvariantViolated,
		},
		{
			name:   "fingerprint",
			engine: staticEngine{artifacts: []Artifact{{Kind: "a", Data: math.NaN()}}},
			stage:  StageFingerprint,
			reason: ReasonFingerprintFailed,
		},
		{
			name:   "commit",
			engine: SummaryEngine{},
			writer: func(*fixture) RunWriter { return failingWriter{} },
			stage:  StageCommit,
			reason: ReasonCommitFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.ingest(t, "k1", 0, 80, "")

			var facts FactSource = f.store
			if tt.facts != nil {
				facts = tt.facts(f)
			}
			var writer RunWriter = f.store
			if tt.writer != nil {
				writer = tt.writer(f)
			}
			b := NewBuilder(facts, tt.engine, writer,
				WithClock(f.clock.Now),
				WithIDGenerator(f.ids),
				WithFailureRecorder(failure.NewRecorder(f.store)),
			)

			req := manual("u1", testDay)
			req.Trigger.RequestID = "req-1"
			_, err := b.Build(ctx, req)
			require.Error(t, err)
			assert.True(t, IsStage(err, tt.stage), "got %v", err)

			var be *BuildError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.reason, be.Reason)
			assert.NotEmpty(t, be.FailureID)

			ids, err := f.store.ListRunIDs(ctx, "u1", testDay)
			require.NoError(t, err)
			assert.Empty(t, ids)

			_, err = f.store.GetPointer(ctx, "u1", testDay)
			assert.ErrorIs(t, err, store.ErrNotFound)

			rec, err := f.store.GetFailure(ctx, be.FailureID)
			require.NoError(t, err)
			assert.Equal(t, failure.SourceDerive, rec.Source)
			assert.Equal(t, string(tt.stage), rec.Stage)
			assert.Equal(t, "req-1", rec.RequestID)
		})
	}
}
