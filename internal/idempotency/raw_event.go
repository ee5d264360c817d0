package idempotency

import (
	"context"
	"time"

	"github.com/danielhendel/oli-sub001/internal/canon"
	"github.com/danielhendel/oli-sub001/internal/model"
)

// rawEventIdentity is the logical content of a raw event. Receipt times,
// the derived day and the stored hash vary across replays and are excluded.
type rawEventIdentity struct {
	UserID        string           `json:"user_id"`
	SourceID      string           `json:"source_id"`
	Provider      string           `json:"provider"`
	Kind          model.Kind       `json:"kind"`
	SchemaVersion int              `json:"schema_version"`
	ObservedStart time.Time        `json:"observed_start"`
	ObservedEnd   *time.Time       `json:"observed_end"`
	TimeZone      string           `json:"time_zone"`
	Provenance    model.Provenance `json:"provenance"`
	CorrectionOf  string           `json:"correction_of"`
	Payload       map[string]any   `json:"payload"`
}

// RawEventFingerprint fingerprints the logical identity of ev.
func RawEventFingerprint(ev model.RawEvent) (string, error) {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return canon.Fingerprint(rawEventIdentity{
		UserID:        ev.UserID,
		SourceID:      ev.SourceID,
		Provider:      ev.Provider,
		Kind:          ev.Kind,
		SchemaVersion: ev.SchemaVersion,
		ObservedStart: ev.ObservedAt.Start,
		ObservedEnd:   ev.ObservedAt.End,
		TimeZone:      ev.TimeZone,
		Provenance:    ev.Provenance,
		CorrectionOf:  ev.CorrectionOf,
		Payload:       payload,
	})
}

// RawEventStore is the slice of the store a raw event target needs.
type RawEventStore interface {
	CreateRawEvent(ctx context.Context, ev model.RawEvent) error
	GetRawEvent(ctx context.Context, userID, id string) (model.RawEvent, error)
}

// RawEventTarget adapts a RawEventStore to Target for one user.
type RawEventTarget struct {
	Store  RawEventStore
	UserID string
}

// Create stores ev under key.
func (t RawEventTarget) Create(ctx context.Context, key string, ev model.RawEvent) error {
	ev.ID = key
	ev.UserID = t.UserID
	return t.Store.CreateRawEvent(ctx, ev)
}

// Get loads the user's raw event stored under key.
func (t RawEventTarget) Get(ctx context.Context, key string) (model.RawEvent, error) {
	return t.Store.GetRawEvent(ctx, t.UserID, key)
}
