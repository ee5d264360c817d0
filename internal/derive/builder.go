package derive

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/danielhendel/oli-sub001/internal/canon"
	"github.com/danielhendel/oli-sub001/internal/failure"
	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/metrics"
	"github.com/danielhendel/oli-sub001/internal/model"
)

// BuildRequest asks for one new run of (UserID, Day).
type BuildRequest = model.RunRequest

// Facts is the read-only input of a computation.
type Facts struct {
	UserID string
	Day    string
	Events []model.CanonicalEvent
}

// Artifact is one derived output. DocID defaults to Kind.
type Artifact struct {
	Kind  string
	DocID string
	Data  any
}

// RuleEngine computes artifacts from facts. Compute must be deterministic
// in its input.
type RuleEngine interface {
	Version() string
	Compute(ctx context.Context, facts Facts) ([]Artifact, error)
}

// FactSource supplies the current (non-superseded) canonical facts of a day.
type FactSource interface {
	ListCurrentFacts(ctx context.Context, userID, day string) ([]model.CanonicalEvent, error)
}

// RunWriter commits a run with its snapshots and pointer atomically.
type RunWriter interface {
	CommitRun(ctx context.Context, run model.DerivedRun, snapshots []model.Snapshot) error
}

// Builder orchestrates run builds. It holds no state between builds.
type Builder struct {
	facts    FactSource
	engine   RuleEngine
	writer   RunWriter
	ids      IDGenerator
	now      func() time.Time
	failures *failure.Recorder
	logger   *logging.Logger
	metrics  *metrics.Manager
}

// Option configures a Builder.
type Option func(*Builder)

// WithIDGenerator overrides the run id source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(b *Builder) {
		if ids != nil {
			b.ids = ids
		}
	}
}

// WithClock overrides the source of ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithFailureRecorder sets where build failures are recorded.
func WithFailureRecorder(r *failure.Recorder) Option {
	return func(b *Builder) {
		b.failures = r
	}
}

// WithLogger sets the build logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(b *Builder) {
		b.metrics = m
	}
}

// NewBuilder creates a Builder.
func NewBuilder(facts FactSource, engine RuleEngine, writer RunWriter, opts ...Option) *Builder {
	b := &Builder{
		facts:  facts,
		engine: engine,
		writer: writer,
		ids:    UUIDv7Generator{},
		now:    time.Now,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build computes and commits one new run for req.
//
// On failure nothing is persisted, a failure record is written and a
// *BuildError naming the stage is returned.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (model.DerivedRun, error) {
	if err := validateRequest(req); err != nil {
		return model.DerivedRun{}, err
	}

	runID := b.ids.Generate()
	computedAt := b.now().UTC()
	version := b.engine.Version()

	events, err := b.facts.ListCurrentFacts(ctx, req.UserID, req.Day)
	if err != nil {
		return model.DerivedRun{}, b.fail(ctx, req, runID, StageReadFacts, ReasonFactReadFailed, err)
	}
	events = slices.Clone(events)
	slices.SortStableFunc(events, compareFacts)
	if err := checkInputs(req, events); err != nil {
		return model.DerivedRun{}, b.fail(ctx, req, runID, StageReadFacts, ReasonInvariantViolated, err)
	}

	artifacts, err := b.engine.Compute(ctx, Facts{UserID: req.UserID, Day: req.Day, Events: events})
	if err != nil {
		return model.DerivedRun{}, b.fail(ctx, req, runID, StageCompute, ReasonRuleEngineFailed, err)
	}
	artifacts, err = prepareArtifacts(artifacts)
	if err != nil {
		return model.DerivedRun{}, b.fail(ctx, req, runID, StageCompute, ReasonInvariantViolated, err)
	}

	snapshots := make([]model.Snapshot, 0, len(artifacts))
	refs := make([]model.SnapshotRef, 0, len(artifacts))
	outputs := make(map[string]bool, len(artifacts))
	for _, a := range artifacts {
		snap, err := snapshotOf(runID, computedAt, a)
		if err != nil {
			return model.DerivedRun{}, b.fail(ctx, req, runID, StageFingerprint, ReasonFingerprintFailed, err)
		}
		snapshots = append(snapshots, snap)
		refs = append(refs, model.SnapshotRef{Kind: snap.Kind, DocID: snap.DocID, Hash: snap.Hash})
		outputs[snap.Kind] = true
	}

	inputs := make([]string, len(events))
	for i, ev := range events {
		inputs[i] = ev.ID
	}

	run := model.DerivedRun{
		RunID:             runID,
		UserID:            req.UserID,
		Day:               req.Day,
		ComputedAt:        computedAt,
		PipelineVersion:   version,
		Trigger:           req.Trigger,
		CanonicalEventIDs: inputs,
		SnapshotRefs:      refs,
		Outputs:           outputs,
		Invariants:        slices.Clone(Invariants),
	}

	if err := b.writer.CommitRun(ctx, run, snapshots); err != nil {
		return model.DerivedRun{}, b.fail(ctx, req, runID, StageCommit, ReasonCommitFailed, err)
	}

	b.metrics.RunBuilt()
	b.logger.InfoContext(ctx, "run committed",
		logging.UserID(req.UserID),
		logging.Day(req.Day),
		logging.RunID(runID),
		"inputs", len(inputs),
		"snapshots", len(snapshots),
	)
	return run, nil
}

func (b *Builder) fail(ctx context.Context, req BuildRequest, runID string, stage Stage, reason string, err error) error {
	b.metrics.BuildFailed(string(stage))
	failureID := b.failures.Capture(ctx, model.Failure{
		UserID:     req.UserID,
		Source:     failure.SourceDerive,
		Stage:      string(stage),
		ReasonCode: reason,
		Message:    err.Error(),
		Day:        req.Day,
		RawEventID: req.Trigger.RawEventID,
		RequestID:  req.Trigger.RequestID,
		Details: map[string]any{
			"run_id":           runID,
			"trigger_type":     string(req.Trigger.Type),
			"pipeline_version": b.engine.Version(),
		},
	})
	b.logger.WarnContext(ctx, "run build failed",
		logging.UserID(req.UserID),
		logging.Day(req.Day),
		logging.RunID(runID),
		logging.Stage(string(stage)),
		logging.Error(err),
	)
	return &BuildError{Stage: stage, Reason: reason, RunID: runID, FailureID: failureID, Err: err}
}

func validateRequest(req BuildRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if !model.ValidDay(req.Day) {
		return fmt.Errorf("%w: day %q", ErrInvalidRequest, req.Day)
	}
	if !req.Trigger.Type.Valid() {
		return fmt.Errorf("%w: trigger type %q", ErrInvalidRequest, req.Trigger.Type)
	}
	return nil
}

// snapshotOf serializes an artifact and hashes exactly the stored bytes.
func snapshotOf(runID string, createdAt time.Time, a Artifact) (model.Snapshot, error) {
	data, err := canon.Serialize(a.Data)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("artifact %s: %w", a.DocID, err)
	}
	if err := checkCanonical(data); err != nil {
		return model.Snapshot{}, fmt.Errorf("artifact %s: %w", a.DocID, err)
	}
	return model.Snapshot{
		RunID:     runID,
		DocID:     a.DocID,
		Kind:      a.Kind,
		Hash:      canon.FingerprintBytes(data),
		CreatedAt: createdAt,
		Data:      data,
	}, nil
}

func compareFacts(a, b model.CanonicalEvent) int {
	if c := a.ObservedAt.Start.Compare(b.ObservedAt.Start); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
