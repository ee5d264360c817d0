// Package normalize turns accepted raw events into canonical facts.
//
// Normalization here is a pass-through: the canonical value is the validated
// payload. A correction produces a new fact that supersedes the fact of the
// raw event it corrects. Incomplete events are kept as raw events only and
// produce no fact.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/danielhendel/oli-sub001/internal/canon"
	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/store"
)

// Store is the canonical event persistence surface.
type Store interface {
	CreateCanonicalEvent(ctx context.Context, ev model.CanonicalEvent) error
	GetCanonicalEvent(ctx context.Context, userID, id string) (model.CanonicalEvent, error)
}

// Normalizer writes canonical events create-only.
type Normalizer struct {
	store Store
	now   func() time.Time
}

// New creates a Normalizer. A nil now uses time.Now.
func New(s Store, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{store: s, now: now}
}

// Outcome reports what Normalize did with a raw event.
type Outcome int

const (
	// NoFact means the kind produces no canonical fact.
	NoFact Outcome = iota
	// Created means this call wrote the fact.
	Created
	// Existing means the fact was already stored.
	Existing
)

// Produced reports whether a fact exists for the raw event.
func (o Outcome) Produced() bool { return o == Created || o == Existing }

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Existing:
		return "existing"
	default:
		return "no-fact"
	}
}

type canonicalIdentity struct {
	UserID     string `json:"user_id"`
	RawEventID string `json:"raw_event_id"`
}

// CanonicalID is the id of the fact derived from a user's raw event.
// It depends only on the pair, so re-normalizing never creates a second fact.
func CanonicalID(userID, rawEventID string) (string, error) {
	return canon.DomainHash(canon.DomainCanonicalEvent, canonicalIdentity{
		UserID:     userID,
		RawEventID: rawEventID,
	})
}

// Normalize writes the fact for raw and returns it. If the fact was already
// written, the stored one is returned with Existing.
func (n *Normalizer) Normalize(ctx context.Context, raw model.RawEvent) (model.CanonicalEvent, Outcome, error) {
	if raw.Kind == model.KindIncomplete {
		return model.CanonicalEvent{}, NoFact, nil
	}

	id, err := CanonicalID(raw.UserID, raw.ID)
	if err != nil {
		return model.CanonicalEvent{}, NoFact, fmt.Errorf("canonical id: %w", err)
	}

	ev := model.CanonicalEvent{
		ID:         id,
		UserID:     raw.UserID,
		Day:        raw.Day,
		Kind:       raw.Kind,
		ObservedAt: raw.ObservedAt,
		Value:      maps.Clone(raw.Payload),
		RawEventID: raw.ID,
		CreatedAt:  n.now().UTC(),
	}
	if ev.Value == nil {
		ev.Value = map[string]any{}
	}
	if raw.Provenance == model.ProvenanceCorrection && raw.CorrectionOf != "" {
		if ev.Supersedes, err = CanonicalID(raw.UserID, raw.CorrectionOf); err != nil {
			return model.CanonicalEvent{}, NoFact, fmt.Errorf("superseded id: %w", err)
		}
	}

	err = n.store.CreateCanonicalEvent(ctx, ev)
	if errors.Is(err, store.ErrAlreadyExists) {
		existing, err := n.store.GetCanonicalEvent(ctx, raw.UserID, id)
		if err != nil {
			return model.CanonicalEvent{}, NoFact, fmt.Errorf("load canonical event %s: %w", id, err)
		}
		return existing, Existing, nil
	}
	if err != nil {
		return model.CanonicalEvent{}, NoFact, fmt.Errorf("create canonical event: %w", err)
	}
	return ev, Created, nil
}
