package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/pagination"
)

func TestCanonicalEvents_CurrentFactsExcludeSuperseded(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRawEvent(ctx, createTestRawEvent("r1", "user-a", 0, 80)))
	require.NoError(t, s.CreateRawEvent(ctx, createTestRawEvent("r2", "user-a", 0, 81)))

	original := createTestCanonicalEvent("c1", "user-a", "r1", 80)
	require.NoError(t, s.CreateCanonicalEvent(ctx, original))

	correction := createTestCanonicalEvent("c2", "user-a", "r2", 81)
	correction.Supersedes = "c1"
	require.NoError(t, s.CreateCanonicalEvent(ctx, correction))

	facts, err := s.ListCurrentFacts(ctx, "user-a", "2026-03-14")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "c2", facts[0].ID)
	assert.Equal(t, "c1", facts[0].Supersedes)

	// The superseded fact is still stored.
	got, err := s.GetCanonicalEvent(ctx, "user-a", "c1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RawEventID)

	page, err := s.ListCanonicalEvents(ctx, CanonicalEventQuery{UserID: "user-a", Day: "2026-03-14", Page: pagination.Query{Limit: 10}})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestCanonicalEvents_CreateOnlyAndMissing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRawEvent(ctx, createTestRawEvent("r1", "user-a", 0, 80)))
	ev := createTestCanonicalEvent("c1", "user-a", "r1", 80)
	require.NoError(t, s.CreateCanonicalEvent(ctx, ev))
	assert.ErrorIs(t, s.CreateCanonicalEvent(ctx, ev), ErrAlreadyExists)

	missing, err := s.MissingCanonicalEvents(ctx, "user-a", []string{"c1", "c9", "c8"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c9", "c8"}, missing)

	missing, err = s.MissingCanonicalEvents(ctx, "user-b", []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, missing)
}

func TestCanonicalEvents_RequireRawEvent(t *testing.T) {
	s := createTestStore(t)
	err := s.CreateCanonicalEvent(context.Background(), createTestCanonicalEvent("c1", "user-a", "missing", 80))
	assert.Error(t, err, "foreign key must reject an unknown raw event")
}

func TestSources_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	src := model.Source{
		ID:       "scale-1",
		UserID:   "user-a",
		Provider: "withings",
		Active:   true,
		AllowedKinds: map[model.Kind][]int{
			model.KindWeight: {1, 2},
		},
	}
	require.NoError(t, s.CreateSource(ctx, src))
	assert.ErrorIs(t, s.CreateSource(ctx, src), ErrAlreadyExists)

	got, err := s.GetSource(ctx, "user-a", "scale-1")
	require.NoError(t, err)
	assert.Equal(t, src, got)
	assert.True(t, got.AllowsSchemaVersion(model.KindWeight, 2))
	assert.False(t, got.AllowsKind(model.KindSteps))

	_, err = s.GetSource(ctx, "user-b", "scale-1")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListSources(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, []model.Source{src}, all)
}

func TestFailures_CreateGetList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := model.FailureRecord{
		ID: "f1",
		Failure: model.Failure{
			UserID:     "user-a",
			Source:     "derive",
			Stage:      "compute",
			ReasonCode: "RULE_ERROR",
			Message:    "boom",
			Day:        "2026-03-14",
			RawEventID: "r1",
			Details:    map[string]any{"attempt": 1},
		},
		CreatedAt: baseTime,
	}
	require.NoError(t, s.CreateFailure(ctx, rec))
	assert.ErrorIs(t, s.CreateFailure(ctx, rec), ErrAlreadyExists)

	got, err := s.GetFailure(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, rec.Message, got.Message)
	assert.Equal(t, rec.RawEventID, got.RawEventID)
	assert.Empty(t, got.CanonicalEventID)
	assert.Len(t, got.Details, 1)

	_, err = s.GetFailure(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListFailures(ctx, "user-a", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
