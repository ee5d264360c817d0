package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/danielhendel/oli-sub001/internal/model"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

// createTestRawEvent creates a weight raw event observed at baseTime+offset.
func createTestRawEvent(id, userID string, offset time.Duration, kg float64) model.RawEvent {
	return model.RawEvent{
		ID:            id,
		UserID:        userID,
		SourceID:      "scale-1",
		Provider:      "withings",
		Kind:          model.KindWeight,
		SchemaVersion: 1,
		ObservedAt:    model.ObservedTime{Start: baseTime.Add(offset)},
		TimeZone:      "UTC",
		Day:           "2026-03-14",
		ReceivedAt:    baseTime.Add(time.Hour),
		Provenance:    model.ProvenanceRealtime,
		Payload:       map[string]any{"value_kg": kg},
		PayloadHash:   "hash-" + id,
	}
}

// createTestCanonicalEvent creates a canonical event for rawEventID.
func createTestCanonicalEvent(id, userID, rawEventID string, kg float64) model.CanonicalEvent {
	return model.CanonicalEvent{
		ID:         id,
		UserID:     userID,
		Day:        "2026-03-14",
		Kind:       model.KindWeight,
		ObservedAt: model.ObservedTime{Start: baseTime},
		Value:      map[string]any{"value_kg": kg},
		RawEventID: rawEventID,
		CreatedAt:  baseTime.Add(time.Hour),
	}
}

// createTestRun creates a run with one snapshot holding data.
func createTestRun(runID, userID, day string, computedAt time.Time, data string) (model.DerivedRun, []model.Snapshot) {
	snap := model.Snapshot{
		RunID:     runID,
		DocID:     "daily_summary",
		Kind:      "daily_summary",
		Hash:      "hash-" + runID,
		CreatedAt: computedAt,
		Data:      []byte(data),
	}
	run := model.DerivedRun{
		RunID:           runID,
		UserID:          userID,
		Day:             day,
		ComputedAt:      computedAt,
		PipelineVersion: "test/1",
		Trigger:         model.Trigger{Type: model.TriggerManual},
		SnapshotRefs:    []model.SnapshotRef{{Kind: snap.Kind, DocID: snap.DocID, Hash: snap.Hash}},
		Outputs:         map[string]bool{"daily_summary": true},
	}
	return run, []model.Snapshot{snap}
}
