package failure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielhendel/oli-sub001/internal/canon"
	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/metrics"
	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/store"
)

// MaxDepth is the number of ids tried for one failure: the base id and
// two alternates.
const MaxDepth = 3

// Sources and stages used across the pipeline.
const (
	SourceIngest    = "ingest"
	SourceNormalize = "normalize"
	SourceTrigger   = "trigger"
	SourceDerive    = "derive"
	SourceReplay    = "replay"
)

// ErrChainExhausted is returned when the base id and every alternate id are
// held by different content. Nothing is written.
var ErrChainExhausted = errors.New("failure id chain exhausted")

// Store is the failure memory persistence surface.
type Store interface {
	CreateFailure(ctx context.Context, rec model.FailureRecord) error
	GetFailure(ctx context.Context, id string) (model.FailureRecord, error)
}

// Recorder writes failure records. A nil *Recorder discards everything.
type Recorder struct {
	store   Store
	now     func() time.Time
	logger  *logging.Logger
	metrics *metrics.Manager
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the source of CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger Capture reports write errors to.
func WithLogger(l *logging.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics manager write outcomes are counted on.
func WithMetrics(m *metrics.Manager) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// NewRecorder creates a Recorder over s.
func NewRecorder(s Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  s,
		now:    time.Now,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// baseIdentity holds the fields that name a failure. Message and details
// are content, not identity.
type baseIdentity struct {
	UserID           string `json:"user_id"`
	Source           string `json:"source"`
	Stage            string `json:"stage"`
	ReasonCode       string `json:"reason_code"`
	Day              string `json:"day"`
	RawEventID       string `json:"raw_event_id"`
	CanonicalEventID string `json:"canonical_event_id"`
	RequestID        string `json:"request_id"`
}

// BaseID returns the deterministic id a failure is first stored under.
func BaseID(f model.Failure) (string, error) {
	return canon.DomainHash(canon.DomainFailure, baseIdentity{
		UserID:           f.UserID,
		Source:           f.Source,
		Stage:            f.Stage,
		ReasonCode:       f.ReasonCode,
		Day:              f.Day,
		RawEventID:       f.RawEventID,
		CanonicalEventID: f.CanonicalEventID,
		RequestID:        f.RequestID,
	})
}

// Record stores f and returns the id it is stored under.
//
// Details are sanitized first. Recording content identical to what an id
// already holds returns that id without writing. On ErrChainExhausted the
// base id is returned alongside the error.
func (r *Recorder) Record(ctx context.Context, f model.Failure) (string, error) {
	if r == nil {
		return "", nil
	}
	f.Details = Sanitize(f.Details)

	base, err := BaseID(f)
	if err != nil {
		return "", fmt.Errorf("failure base id: %w", err)
	}
	incoming, err := representation(f)
	if err != nil {
		return "", fmt.Errorf("failure content: %w", err)
	}

	id := base
	createdAt := r.now().UTC()
	for level := 0; level < MaxDepth; level++ {
		err := r.store.CreateFailure(ctx, model.FailureRecord{ID: id, Failure: f, CreatedAt: createdAt})
		if err == nil {
			r.metrics.FailureWrite(metrics.FailureWritten)
			return id, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return base, fmt.Errorf("record failure %s: %w", id, err)
		}

		existing, err := r.store.GetFailure(ctx, id)
		if err != nil {
			return base, fmt.Errorf("load failure %s: %w", id, err)
		}
		held, err := representation(existing.Failure)
		if err != nil {
			return base, fmt.Errorf("stored failure %s content: %w", id, err)
		}
		if held == incoming {
			r.metrics.FailureWrite(metrics.FailureDuplicate)
			return id, nil
		}

		id, err = canon.DomainHash(canon.DomainFailureAlt, []string{held, incoming})
		if err != nil {
			return base, fmt.Errorf("failure alternate id: %w", err)
		}
	}
	return base, ErrChainExhausted
}

// Capture records f and swallows any error after logging and counting it.
// Pipeline code calls this on paths that are already failing.
func (r *Recorder) Capture(ctx context.Context, f model.Failure) string {
	if r == nil {
		return ""
	}
	id, err := r.Record(ctx, f)
	if err != nil {
		r.metrics.FailureWrite(metrics.FailureError)
		r.logger.ErrorContext(ctx, "failure memory write failed",
			logging.UserID(f.UserID),
			logging.Stage(f.Stage),
			logging.Code(f.ReasonCode),
			logging.Error(err),
		)
	}
	return id
}

// representation is the stable content of a failure: every field except
// the id and CreatedAt.
func representation(f model.Failure) (string, error) {
	if f.Details == nil {
		f.Details = map[string]any{}
	}
	data, err := canon.Serialize(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
