package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/pagination"
)

func TestCreateRawEvent_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	end := baseTime.Add(30 * time.Minute)
	recorded := baseTime.Add(time.Minute)
	ev := createTestRawEvent("key-1", "user-a", 0, 80.5)
	ev.ObservedAt.End = &end
	ev.RecordedAt = &recorded
	ev.CorrectionOf = "key-0"
	ev.Provenance = model.ProvenanceCorrection

	require.NoError(t, s.CreateRawEvent(ctx, ev))

	got, err := s.GetRawEvent(ctx, "user-a", "key-1")
	require.NoError(t, err)

	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.UserID, got.UserID)
	assert.Equal(t, ev.Kind, got.Kind)
	assert.Equal(t, ev.Provenance, got.Provenance)
	assert.Equal(t, "key-0", got.CorrectionOf)
	assert.True(t, ev.ObservedAt.Start.Equal(got.ObservedAt.Start))
	require.NotNil(t, got.ObservedAt.End)
	assert.True(t, end.Equal(*got.ObservedAt.End))
	require.NotNil(t, got.RecordedAt)
	assert.True(t, recorded.Equal(*got.RecordedAt))
	assert.Equal(t, json.Number("80.5"), got.Payload["value_kg"])
	assert.Equal(t, ev.PayloadHash, got.PayloadHash)
}

func TestCreateRawEvent_CreateOnly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := createTestRawEvent("key-1", "user-a", 0, 80)
	require.NoError(t, s.CreateRawEvent(ctx, first))

	second := createTestRawEvent("key-1", "user-a", 0, 99)
	err := s.CreateRawEvent(ctx, second)
	require.ErrorIs(t, err, ErrAlreadyExists)

	got, err := s.GetRawEvent(ctx, "user-a", "key-1")
	require.NoError(t, err)
	assert.Equal(t, json.Number("80"), got.Payload["value_kg"], "first write must survive")
}

func TestCreateRawEvent_KeysAreScopedPerUser(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRawEvent(ctx, createTestRawEvent("key-1", "user-a", 0, 80)))
	require.NoError(t, s.CreateRawEvent(ctx, createTestRawEvent("key-1", "user-b", 0, 70)))

	_, err := s.GetRawEvent(ctx, "user-c", "key-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRawEvent_IncompleteIsStored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ev := createTestRawEvent("key-1", "user-a", 0, 0)
	ev.Kind = model.KindIncomplete
	ev.Payload = nil

	require.NoError(t, s.CreateRawEvent(ctx, ev))
	got, err := s.GetRawEvent(ctx, "user-a", "key-1")
	require.NoError(t, err)
	assert.Equal(t, model.KindIncomplete, got.Kind)
	assert.Empty(t, got.Payload)
}

func TestGetRawEvent_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRawEvent(context.Background(), "user-a", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRawEvents_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := createTestRawEvent(fmt.Sprintf("w-%d", i), "user-a", time.Duration(i)*time.Hour, 80)
		require.NoError(t, s.CreateRawEvent(ctx, ev))
	}
	hr := createTestRawEvent("hr-1", "user-a", 2*time.Hour, 0)
	hr.Kind = model.KindHeartRate
	hr.Provider = "polar"
	hr.Payload = map[string]any{"bpm": 60}
	require.NoError(t, s.CreateRawEvent(ctx, hr))
	require.NoError(t, s.CreateRawEvent(ctx, createTestRawEvent("other", "user-b", 0, 70)))

	from := baseTime.Add(time.Hour)
	to := baseTime.Add(3 * time.Hour)

	page, err := s.ListRawEvents(ctx, RawEventQuery{
		UserID: "user-a",
		From:   &from,
		To:     &to,
		Page:   pagination.Query{Limit: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"w-1", "hr-1", "w-2"}, rawEventIDs(page.Items))

	page, err = s.ListRawEvents(ctx, RawEventQuery{
		UserID:   "user-a",
		Kind:     model.KindHeartRate,
		Provider: "polar",
		Page:     pagination.Query{Limit: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hr-1"}, rawEventIDs(page.Items))

	page, err = s.ListRawEvents(ctx, RawEventQuery{
		UserID:   "user-a",
		SourceID: "nope",
		Page:     pagination.Query{Limit: 10},
	})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}

func TestListRawEvents_PaginationDeterminism(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Many events share timestamps so ordering relies on the id tiebreak.
	var want []string
	for i := 0; i < 23; i++ {
		id := fmt.Sprintf("evt-%02d", 22-i)
		offset := time.Duration(i/5) * time.Minute
		require.NoError(t, s.CreateRawEvent(ctx, createTestRawEvent(id, "user-a", offset, 80)))
	}
	for group := 0; group*5 < 23; group++ {
		var ids []string
		for i := group * 5; i < min(group*5+5, 23); i++ {
			ids = append(ids, fmt.Sprintf("evt-%02d", 22-i))
		}
		// Within a timestamp, ids sort ascending.
		for j := len(ids) - 1; j >= 0; j-- {
			want = append(want, ids[j])
		}
	}

	traverse := func() []string {
		var got []string
		var after *pagination.Cursor
		for {
			page, err := s.ListRawEvents(ctx, RawEventQuery{
				UserID: "user-a",
				Page:   pagination.Query{Limit: 4, After: after},
			})
			require.NoError(t, err)
			got = append(got, rawEventIDs(page.Items)...)
			if !page.HasMore {
				require.Nil(t, page.Next)
				return got
			}
			after = page.Next
		}
	}

	first := traverse()
	second := traverse()
	assert.Equal(t, want, first)
	assert.Equal(t, first, second)

	// An unmoved cursor yields the identical page.
	page1, err := s.ListRawEvents(ctx, RawEventQuery{UserID: "user-a", Page: pagination.Query{Limit: 4}})
	require.NoError(t, err)
	a, err := s.ListRawEvents(ctx, RawEventQuery{UserID: "user-a", Page: pagination.Query{Limit: 4, After: page1.Next}})
	require.NoError(t, err)
	b, err := s.ListRawEvents(ctx, RawEventQuery{UserID: "user-a", Page: pagination.Query{Limit: 4, After: page1.Next}})
	require.NoError(t, err)
	assert.Equal(t, rawEventIDs(a.Items), rawEventIDs(b.Items))
}

func TestListRawEvents_RequiresUser(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ListRawEvents(context.Background(), RawEventQuery{Page: pagination.Query{Limit: 1}})
	assert.Error(t, err)
}

func rawEventIDs(events []model.RawEvent) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids
}
