package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/danielhendel/oli-sub001/internal/model"
)

// maxBodyBytes bounds one ingestion request body.
const maxBodyBytes = 1 << 20

// Request is one ingestion request body. Kind selects the payload schema.
type Request struct {
	Provider      string           `json:"provider"`
	Kind          model.Kind       `json:"kind"`
	SchemaVersion int              `json:"schemaVersion"`
	SourceID      string           `json:"sourceId"`
	ObservedAt    json.RawMessage  `json:"observedAt"`
	RecordedAt    *time.Time       `json:"recordedAt,omitempty"`
	TimeZone      string           `json:"timeZone"`
	Payload       json.RawMessage  `json:"payload"`
	Provenance    model.Provenance `json:"provenance,omitempty"`
	CorrectionOf  string           `json:"correctionOfRawEventId,omitempty"`
}

// Response is returned for an accepted request.
type Response struct {
	RawEventID       string `json:"rawEventId"`
	Day              string `json:"day"`
	IdempotentReplay bool   `json:"idempotentReplay,omitempty"`
}

// DecodeRequest reads exactly one JSON object. Unknown fields, trailing data
// and oversized bodies are INVALID_BODY.
func DecodeRequest(r io.Reader) (Request, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return Request{}, invalid(CodeInvalidBody, "read body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return Request{}, invalid(CodeInvalidBody, "body exceeds %d bytes", maxBodyBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var req Request
	if err := dec.Decode(&req); err != nil {
		return Request{}, invalid(CodeInvalidBody, "%v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Request{}, invalid(CodeInvalidBody, "body must hold a single JSON object")
	}
	return req, nil
}
