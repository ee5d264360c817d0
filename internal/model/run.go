package model

import "time"

// TriggerType names what caused a run.
type TriggerType string

const (
	TriggerRawEvent  TriggerType = "raw_event"
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
	TriggerBackfill  TriggerType = "backfill"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerRawEvent, TriggerScheduled, TriggerManual, TriggerBackfill:
		return true
	}
	return false
}

// Trigger describes the cause of a run.
type Trigger struct {
	Type       TriggerType `json:"type"`
	RawEventID string      `json:"rawEventId,omitempty"`
	RequestID  string      `json:"requestId,omitempty"`
}

// RunRequest asks for a new run of (UserID, Day).
type RunRequest struct {
	UserID  string  `json:"userId"`
	Day     string  `json:"day"`
	Trigger Trigger `json:"trigger"`
}

// SnapshotRef points from a run at one of its snapshots.
type SnapshotRef struct {
	Kind  string `json:"kind"`
	DocID string `json:"docId"`
	Hash  string `json:"hash"`
}

// DerivedRun is one immutable computation for a (user, day).
type DerivedRun struct {
	RunID             string          `json:"runId"`
	UserID            string          `json:"userId"`
	Day               string          `json:"day"`
	ComputedAt        time.Time       `json:"computedAt"`
	PipelineVersion   string          `json:"pipelineVersion"`
	Trigger           Trigger         `json:"trigger"`
	CanonicalEventIDs []string        `json:"canonicalEventIds"`
	SnapshotRefs      []SnapshotRef   `json:"snapshotRefs"`
	Outputs           map[string]bool `json:"outputs"`
	Invariants        []string        `json:"invariants"`
}

// Snapshot is a content-addressed copy of one artifact, owned by one run.
// Data holds the canonical JSON text the hash was computed from.
type Snapshot struct {
	RunID     string    `json:"runId"`
	DocID     string    `json:"docId"`
	Kind      string    `json:"kind"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
	Data      []byte    `json:"-"`
}

// LedgerPointer names the latest run for a (user, day).
type LedgerPointer struct {
	UserID           string    `json:"userId"`
	Day              string    `json:"day"`
	LatestRunID      string    `json:"latestRunId"`
	LatestComputedAt time.Time `json:"latestComputedAt"`
}
