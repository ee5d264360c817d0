package model

import "time"

// Failure describes one pipeline failure before it is recorded.
type Failure struct {
	UserID           string         `json:"userId"`
	Source           string         `json:"source"`
	Stage            string         `json:"stage"`
	ReasonCode       string         `json:"reasonCode"`
	Message          string         `json:"message"`
	Day              string         `json:"day"`
	RawEventID       string         `json:"rawEventId,omitempty"`
	CanonicalEventID string         `json:"canonicalEventId,omitempty"`
	RequestID        string         `json:"requestId,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
}

// FailureRecord is a stored Failure with its content-derived id.
type FailureRecord struct {
	ID string `json:"id"`
	Failure
	CreatedAt time.Time `json:"createdAt"`
}
