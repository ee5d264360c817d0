package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObservedTime(t *testing.T) {
	t.Run("instant is stored in UTC", func(t *testing.T) {
		got, err := ParseObservedTime(json.RawMessage(`"2026-03-14T23:30:00-05:00"`))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 15, 4, 30, 0, 0, time.UTC), got.Start)
		assert.False(t, got.IsRange())
	})

	t.Run("range", func(t *testing.T) {
		got, err := ParseObservedTime(json.RawMessage(`{"start":"2026-03-14T22:00:00Z","end":"2026-03-15T06:00:00Z"}`))
		require.NoError(t, err)
		require.True(t, got.IsRange())
		assert.Equal(t, 8*time.Hour, got.End.Sub(got.Start))
	})

	t.Run("range without end", func(t *testing.T) {
		got, err := ParseObservedTime(json.RawMessage(`{"start":"2026-03-14T22:00:00Z"}`))
		require.NoError(t, err)
		assert.False(t, got.IsRange())
	})

	rejects := map[string]string{
		"missing":        ``,
		"null":           `null`,
		"no offset":      `"2026-03-14T07:00:00"`,
		"date only":      `"2026-03-14"`,
		"number":         `1710400000`,
		"range no start": `{"end":"2026-03-15T06:00:00Z"}`,
		"end before":     `{"start":"2026-03-15T06:00:00Z","end":"2026-03-14T22:00:00Z"}`,
		"unknown field":  `{"start":"2026-03-14T22:00:00Z","until":"2026-03-15T06:00:00Z"}`,
	}
	for name, raw := range rejects {
		t.Run(name, func(t *testing.T) {
			_, err := ParseObservedTime(json.RawMessage(raw))
			assert.ErrorIs(t, err, ErrInvalidObservedTime)
		})
	}
}

func TestDayOf(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	instant := time.Date(2026, 3, 15, 4, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-14", DayOf(instant, ny))
	assert.Equal(t, "2026-03-15", DayOf(instant, time.UTC))
}

func TestValidDay(t *testing.T) {
	assert.True(t, ValidDay("2026-03-14"))
	assert.True(t, ValidDay("2028-02-29"))
	assert.False(t, ValidDay("2026-02-30"))
	assert.False(t, ValidDay("2026-3-14"))
	assert.False(t, ValidDay("14-03-2026"))
	assert.False(t, ValidDay(""))
}

func TestEnumsValid(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, Kind("mood").Valid())

	assert.True(t, ProvenanceCorrection.Valid())
	assert.False(t, Provenance("import").Valid())

	assert.True(t, TriggerBackfill.Valid())
	assert.False(t, TriggerType("cron").Valid())
}

func TestSourceAllows(t *testing.T) {
	src := Source{AllowedKinds: map[Kind][]int{KindWeight: {1, 2}}}

	assert.True(t, src.AllowsKind(KindWeight))
	assert.False(t, src.AllowsKind(KindSteps))
	assert.True(t, src.AllowsSchemaVersion(KindWeight, 2))
	assert.False(t, src.AllowsSchemaVersion(KindWeight, 3))
	assert.False(t, src.AllowsSchemaVersion(KindSteps, 1))
}
