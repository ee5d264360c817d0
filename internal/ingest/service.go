// Package ingest validates, gates and records raw events.
//
// Every check runs before any write, so a rejected request leaves no trace.
// An accepted request is resolved through the idempotency resolver, then
// normalized into a canonical fact and announced to the run trigger. Those
// two follow-up steps are best effort: their failures go to failure memory
// and never turn an accepted request into an error. An identical retry
// repeats the normalization, so a fact that failed the first time is written
// and its day rebuilt.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/danielhendel/oli-sub001/internal/canon"
	"github.com/danielhendel/oli-sub001/internal/failure"
	"github.com/danielhendel/oli-sub001/internal/idempotency"
	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/metrics"
	"github.com/danielhendel/oli-sub001/internal/middleware"
	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/normalize"
	"github.com/danielhendel/oli-sub001/internal/store"
)

// SourceRegistry answers which sources a user has registered.
type SourceRegistry interface {
	GetSource(ctx context.Context, userID, id string) (model.Source, error)
}

// Normalizer turns a stored raw event into a canonical fact.
type Normalizer interface {
	Normalize(ctx context.Context, raw model.RawEvent) (model.CanonicalEvent, normalize.Outcome, error)
}

// Publisher announces that a day needs a new run.
type Publisher interface {
	Publish(ctx context.Context, req model.RunRequest) error
}

// Service runs the ingestion pipeline.
type Service struct {
	events     idempotency.RawEventStore
	sources    SourceRegistry
	schemas    *Schemas
	normalizer Normalizer
	publisher  Publisher
	failures   *failure.Recorder
	now        func() time.Time
	logger     *logging.Logger
	metrics    *metrics.Manager
}

// Option configures a Service.
type Option func(*Service)

// WithNormalizer sets the normalizer run after a write or identical retry.
func WithNormalizer(n Normalizer) Option {
	return func(s *Service) { s.normalizer = n }
}

// WithPublisher sets the run trigger.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithFailureRecorder sets where follow-up failures are recorded.
func WithFailureRecorder(r *failure.Recorder) Option {
	return func(s *Service) { s.failures = r }
}

// WithClock overrides the source of ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a Service.
func NewService(events idempotency.RawEventStore, sources SourceRegistry, schemas *Schemas, opts ...Option) *Service {
	s := &Service{
		events:  events,
		sources: sources,
		schemas: schemas,
		now:     time.Now,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest validates req and records it under key for userID.
//
// Client errors are *ValidationError. A key reused with different content
// is a ValidationError with status 409 wrapping idempotency.ErrConflict.
func (s *Service) Ingest(ctx context.Context, userID, key string, req Request) (Response, error) {
	ev, err := s.prepare(userID, key, req)
	if err == nil {
		err = s.admit(ctx, userID, key, req)
	}
	if err != nil {
		if _, ok := AsValidationError(err); ok {
			s.metrics.IngestOutcome(metrics.IngestRejected)
		} else {
			s.metrics.IngestOutcome(metrics.IngestError)
		}
		return Response{}, err
	}

	target := idempotency.RawEventTarget{Store: s.events, UserID: userID}
	res, err := idempotency.Resolve(ctx, target, key, ev, idempotency.RawEventFingerprint)
	switch {
	case errors.Is(err, idempotency.ErrConflict):
		s.metrics.IngestOutcome(metrics.IngestConflict)
		return Response{}, &ValidationError{
			Code:    CodeIdempotencyKeyReuseConflict,
			Status:  http.StatusConflict,
			Message: "idempotency key was already used with different content",
			Err:     err,
		}
	case err != nil:
		s.metrics.IngestOutcome(metrics.IngestError)
		return Response{}, fmt.Errorf("ingest raw event: %w", err)
	}

	stored := res.Record
	if res.Outcome == idempotency.IdenticalReplay {
		s.metrics.IngestOutcome(metrics.IngestReplayed)
		s.afterReplay(ctx, stored)
		return Response{RawEventID: stored.ID, Day: stored.Day, IdempotentReplay: true}, nil
	}

	s.metrics.IngestOutcome(metrics.IngestAccepted)
	s.logger.InfoContext(ctx, "raw event accepted",
		logging.UserID(userID),
		logging.RawEventID(stored.ID),
		logging.Kind(string(stored.Kind)),
		logging.Day(stored.Day),
	)
	s.afterFirstWrite(ctx, stored)
	return Response{RawEventID: stored.ID, Day: stored.Day}, nil
}

// afterFirstWrite normalizes the event and triggers a run. Errors are
// captured, never returned.
func (s *Service) afterFirstWrite(ctx context.Context, ev model.RawEvent) {
	s.normalize(ctx, ev)
	s.publish(ctx, ev)
}

// afterReplay repeats normalization for a retried event. A run is triggered
// only when the fact was missing, which means the earlier attempt failed.
func (s *Service) afterReplay(ctx context.Context, ev model.RawEvent) {
	if s.normalize(ctx, ev) != normalize.Created {
		return
	}
	s.logger.InfoContext(ctx, "canonical fact recovered on retry",
		logging.UserID(ev.UserID),
		logging.RawEventID(ev.ID),
		logging.Day(ev.Day),
	)
	s.publish(ctx, ev)
}

func (s *Service) normalize(ctx context.Context, ev model.RawEvent) normalize.Outcome {
	if s.normalizer == nil {
		return normalize.NoFact
	}
	_, outcome, err := s.normalizer.Normalize(ctx, ev)
	if err != nil {
		s.failures.Capture(ctx, model.Failure{
			UserID:     ev.UserID,
			Source:     failure.SourceNormalize,
			Stage:      "normalize",
			ReasonCode: "NORMALIZE_FAILED",
			Message:    err.Error(),
			Day:        ev.Day,
			RawEventID: ev.ID,
			RequestID:  middleware.GetRequestID(ctx),
			Details:    map[string]any{"kind": string(ev.Kind)},
		})
		return normalize.NoFact
	}
	return outcome
}

// publish requests a run for the event's day. A correction of an event on
// another day also requests a run for that day, whose latest run still
// holds the superseded fact.
func (s *Service) publish(ctx context.Context, ev model.RawEvent) {
	if s.publisher == nil {
		return
	}
	days := []string{ev.Day}
	if ev.CorrectionOf != "" {
		corrected, err := s.events.GetRawEvent(ctx, ev.UserID, ev.CorrectionOf)
		switch {
		case err != nil:
			s.captureTrigger(ctx, ev, ev.Day, fmt.Errorf("load corrected event %s: %w", ev.CorrectionOf, err))
		case corrected.Day != ev.Day:
			days = append(days, corrected.Day)
		}
	}

	for _, day := range days {
		err := s.publisher.Publish(ctx, model.RunRequest{
			UserID: ev.UserID,
			Day:    day,
			Trigger: model.Trigger{
				Type:       model.TriggerRawEvent,
				RawEventID: ev.ID,
				RequestID:  middleware.GetRequestID(ctx),
			},
		})
		if err != nil {
			s.captureTrigger(ctx, ev, day, err)
		}
	}
}

func (s *Service) captureTrigger(ctx context.Context, ev model.RawEvent, day string, err error) {
	s.failures.Capture(ctx, model.Failure{
		UserID:     ev.UserID,
		Source:     failure.SourceTrigger,
		Stage:      "publish",
		ReasonCode: "TRIGGER_FAILED",
		Message:    err.Error(),
		Day:        day,
		RawEventID: ev.ID,
		RequestID:  middleware.GetRequestID(ctx),
	})
}

// prepare runs the request checks in order and builds the raw event.
// Checks against other records happen in admit.
func (s *Service) prepare(userID, key string, req Request) (model.RawEvent, error) {
	if key == "" {
		return model.RawEvent{}, invalid(CodeIdempotencyKeyRequired, "Idempotency-Key header is required")
	}
	if userID == "" {
		return model.RawEvent{}, errors.New("ingest: user id is required")
	}

	if err := checkShape(req); err != nil {
		return model.RawEvent{}, err
	}
	if req.SourceID == "" {
		return model.RawEvent{}, invalid(CodeMissingSourceID, "sourceId is required")
	}
	if req.TimeZone == "" {
		return model.RawEvent{}, invalid(CodeTimeZoneRequired, "timeZone is required")
	}
	loc, err := loadLocation(req.TimeZone)
	if err != nil {
		return model.RawEvent{}, invalid(CodeTimeZoneInvalid, "timeZone %q is not an IANA zone", req.TimeZone)
	}
	observed, err := model.ParseObservedTime(req.ObservedAt)
	if err != nil {
		return model.RawEvent{}, invalid(CodeObservedAtInvalid, "%v", err)
	}
	if !req.Kind.Valid() {
		return model.RawEvent{}, invalid(CodeKindUnknown, "kind %q is not known", req.Kind)
	}
	if err := s.schemas.Validate(req.Kind, req.SchemaVersion, req.Payload); err != nil {
		return model.RawEvent{}, invalid(CodePayloadInvalid, "%v", err)
	}

	provenance := req.Provenance
	if provenance == "" {
		provenance = model.ProvenanceRealtime
	}
	if err := checkCorrection(key, provenance, req.CorrectionOf); err != nil {
		return model.RawEvent{}, err
	}

	payloadValue, err := canon.Decode(req.Payload)
	if err != nil {
		return model.RawEvent{}, invalid(CodePayloadInvalid, "%v", err)
	}
	payload, _ := canon.Interface(payloadValue).(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}
	payloadHash, err := canon.Fingerprint(payload)
	if err != nil {
		return model.RawEvent{}, invalid(CodePayloadInvalid, "%v", err)
	}

	var recordedAt *time.Time
	if req.RecordedAt != nil {
		t := req.RecordedAt.UTC()
		recordedAt = &t
	}

	return model.RawEvent{
		ID:            key,
		UserID:        userID,
		SourceID:      req.SourceID,
		Provider:      req.Provider,
		Kind:          req.Kind,
		SchemaVersion: req.SchemaVersion,
		ObservedAt:    observed,
		TimeZone:      req.TimeZone,
		Day:           model.DayOf(observed.Start, loc),
		RecordedAt:    recordedAt,
		ReceivedAt:    s.now().UTC(),
		Provenance:    provenance,
		CorrectionOf:  req.CorrectionOf,
		Payload:       payload,
		PayloadHash:   payloadHash,
	}, nil
}

func checkShape(req Request) error {
	if req.Provider == "" {
		return invalid(CodeInvalidBody, "provider is required")
	}
	if req.Kind == "" {
		return invalid(CodeInvalidBody, "kind is required")
	}
	if req.SchemaVersion < 1 {
		return invalid(CodeInvalidBody, "schemaVersion must be a positive integer")
	}
	payload := bytes.TrimSpace(req.Payload)
	if len(payload) == 0 || payload[0] != '{' {
		return invalid(CodeInvalidBody, "payload must be an object")
	}
	if req.Provenance != "" && !req.Provenance.Valid() {
		return invalid(CodeInvalidBody, "provenance %q is not known", req.Provenance)
	}
	return nil
}

func checkCorrection(key string, provenance model.Provenance, target string) error {
	switch {
	case provenance == model.ProvenanceCorrection && target == "":
		return invalid(CodeCorrectionInvalid, "a correction must name correctionOfRawEventId")
	case provenance != model.ProvenanceCorrection && target != "":
		return invalid(CodeCorrectionInvalid, "correctionOfRawEventId requires provenance %q", model.ProvenanceCorrection)
	case target != "" && target == key:
		return invalid(CodeCorrectionInvalid, "an event cannot correct itself")
	}
	return nil
}

// admit applies the source gate and then checks the correction target.
// A key that already holds a raw event skips both: the resolver answers the
// retry from the ledger even if the source changed since the first write.
func (s *Service) admit(ctx context.Context, userID, key string, req Request) error {
	_, err := s.events.GetRawEvent(ctx, userID, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load raw event: %w", err)
	}

	if err := s.gate(ctx, userID, req); err != nil {
		return err
	}
	if req.CorrectionOf != "" {
		if _, err := s.events.GetRawEvent(ctx, userID, req.CorrectionOf); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return invalid(CodeCorrectionInvalid, "correction target %q does not exist", req.CorrectionOf)
			}
			return fmt.Errorf("load correction target: %w", err)
		}
	}
	return nil
}

// gate applies the source registry rules.
func (s *Service) gate(ctx context.Context, userID string, req Request) error {
	src, err := s.sources.GetSource(ctx, userID, req.SourceID)
	if errors.Is(err, store.ErrNotFound) {
		return &ValidationError{
			Code:    CodeSourceNotFound,
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("source %q is not registered", req.SourceID),
		}
	}
	if err != nil {
		return fmt.Errorf("load source: %w", err)
	}

	switch {
	case !src.Active:
		return invalid(CodeSourceInactive, "source %q is inactive", src.ID)
	case src.Provider != req.Provider:
		return invalid(CodeSourceProviderMismatch, "source %q belongs to provider %q", src.ID, src.Provider)
	case !src.AllowsKind(req.Kind):
		return invalid(CodeSourceKindNotAllowed, "source %q does not accept %s", src.ID, req.Kind)
	case !src.AllowsSchemaVersion(req.Kind, req.SchemaVersion):
		return invalid(CodeSourceSchemaVersionNotAllowed, "source %q does not accept %s v%d", src.ID, req.Kind, req.SchemaVersion)
	}
	return nil
}

// loadLocation accepts IANA names only. "Local" would make the day depend
// on the server.
func loadLocation(name string) (*time.Location, error) {
	if name == "Local" {
		return nil, errors.New("local time zone is not allowed")
	}
	return time.LoadLocation(name)
}
