package model

import "time"

// CanonicalEvent is a normalized fact derived from exactly one RawEvent.
// A correction produces a new CanonicalEvent that supersedes the old one.
type CanonicalEvent struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Day        string         `json:"day"`
	Kind       Kind           `json:"kind"`
	ObservedAt ObservedTime   `json:"observedAt"`
	Value      map[string]any `json:"value"`
	RawEventID string         `json:"rawEventId"`
	Supersedes string         `json:"supersedes,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
