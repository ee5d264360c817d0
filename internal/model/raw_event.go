package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind names a measurement type. Each kind has one payload schema.
type Kind string

const (
	KindWeight        Kind = "weight"
	KindHeartRate     Kind = "heart_rate"
	KindSteps         Kind = "steps"
	KindSleep         Kind = "sleep"
	KindBloodPressure Kind = "blood_pressure"
	KindIncomplete    Kind = "incomplete" // something happened, content unknown
)

// Kinds lists every known kind in a fixed order.
var Kinds = []Kind{KindWeight, KindHeartRate, KindSteps, KindSleep, KindBloodPressure, KindIncomplete}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Provenance records how an event reached the system.
type Provenance string

const (
	ProvenanceRealtime   Provenance = "realtime"
	ProvenanceBackfill   Provenance = "backfill"
	ProvenanceCorrection Provenance = "correction"
)

// Valid reports whether p is a known provenance.
func (p Provenance) Valid() bool {
	switch p {
	case ProvenanceRealtime, ProvenanceBackfill, ProvenanceCorrection:
		return true
	}
	return false
}

// DayLayout is the calendar day format used for every day key.
const DayLayout = "2006-01-02"

// ErrInvalidObservedTime is returned when an observed time cannot be parsed.
var ErrInvalidObservedTime = errors.New("invalid observed time")

// ObservedTime is when an event happened. End is nil for an instant;
// uncertain timestamps carry a range. Ordering always uses Start.
type ObservedTime struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// IsRange reports whether the observation spans an interval.
func (o ObservedTime) IsRange() bool {
	return o.End != nil
}

// ParseObservedTime accepts either an RFC 3339 string or {"start","end"}.
// Timestamps must carry an explicit offset.
func ParseObservedTime(raw json.RawMessage) (ObservedTime, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ObservedTime{}, fmt.Errorf("%w: missing", ErrInvalidObservedTime)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ObservedTime{}, fmt.Errorf("%w: %v", ErrInvalidObservedTime, err)
		}
		start, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return ObservedTime{}, fmt.Errorf("%w: %v", ErrInvalidObservedTime, err)
		}
		return ObservedTime{Start: start.UTC()}, nil
	}

	var rng struct {
		Start *string `json:"start"`
		End   *string `json:"end"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rng); err != nil {
		return ObservedTime{}, fmt.Errorf("%w: %v", ErrInvalidObservedTime, err)
	}
	if rng.Start == nil {
		return ObservedTime{}, fmt.Errorf("%w: start is required", ErrInvalidObservedTime)
	}
	start, err := time.Parse(time.RFC3339Nano, *rng.Start)
	if err != nil {
		return ObservedTime{}, fmt.Errorf("%w: start: %v", ErrInvalidObservedTime, err)
	}
	out := ObservedTime{Start: start.UTC()}
	if rng.End != nil {
		end, err := time.Parse(time.RFC3339Nano, *rng.End)
		if err != nil {
			return ObservedTime{}, fmt.Errorf("%w: end: %v", ErrInvalidObservedTime, err)
		}
		if end.Before(start) {
			return ObservedTime{}, fmt.Errorf("%w: end before start", ErrInvalidObservedTime)
		}
		end = end.UTC()
		out.End = &end
	}
	return out, nil
}

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// ValidDay reports whether s is a YYYY-MM-DD calendar day.
func ValidDay(s string) bool {
	_, err := time.Parse(DayLayout, s)
	return err == nil
}

// RawEvent is one ingested observation. Its ID is the client's idempotency key.
type RawEvent struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	SourceID      string         `json:"sourceId"`
	Provider      string         `json:"provider"`
	Kind          Kind           `json:"kind"`
	SchemaVersion int            `json:"schemaVersion"`
	ObservedAt    ObservedTime   `json:"observedAt"`
	TimeZone      string         `json:"timeZone"`
	Day           string         `json:"day"`
	RecordedAt    *time.Time     `json:"recordedAt,omitempty"`
	ReceivedAt    time.Time      `json:"receivedAt"`
	Provenance    Provenance     `json:"provenance"`
	CorrectionOf  string         `json:"correctionOfRawEventId,omitempty"`
	Payload       map[string]any `json:"payload"`
	PayloadHash   string         `json:"payloadHash"`
}
