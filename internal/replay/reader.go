// Package replay reads committed runs back and proves they are unchanged.
//
// Replay recomputes every snapshot hash from the stored bytes and checks it
// against both the snapshot row and the run's reference, and confirms every
// consumed canonical input still exists. Any mismatch fails the whole read.
// Explain returns run metadata without snapshot contents.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielhendel/oli-sub001/internal/canon"
	"github.com/danielhendel/oli-sub001/internal/failure"
	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/metrics"
	"github.com/danielhendel/oli-sub001/internal/middleware"
	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/store"
)

// Store is the read surface replay needs.
type Store interface {
	GetRun(ctx context.Context, runID string) (model.DerivedRun, error)
	GetPointer(ctx context.Context, userID, day string) (model.LedgerPointer, error)
	GetSnapshot(ctx context.Context, runID, docID string) (model.Snapshot, error)
	MissingCanonicalEvents(ctx context.Context, userID string, ids []string) ([]string, error)
	ListRunIDs(ctx context.Context, userID, day string) ([]string, error)
}

// Artifact is one verified snapshot.
type Artifact struct {
	Kind  string          `json:"kind"`
	DocID string          `json:"docId"`
	Hash  string          `json:"hash"`
	Data  json.RawMessage `json:"data"`
}

// Result is a fully verified run.
type Result struct {
	Run       model.DerivedRun `json:"run"`
	IsLatest  bool             `json:"isLatest"`
	Artifacts []Artifact       `json:"artifacts"`
}

// Explanation is a run's audit metadata.
type Explanation struct {
	RunID             string              `json:"runId"`
	Day               string              `json:"day"`
	ComputedAt        time.Time           `json:"computedAt"`
	PipelineVersion   string              `json:"pipelineVersion"`
	Trigger           model.Trigger       `json:"trigger"`
	CanonicalEventIDs []string            `json:"canonicalEventIds"`
	Invariants        []string            `json:"invariants"`
	SnapshotRefs      []model.SnapshotRef `json:"snapshotRefs"`
	Outputs           map[string]bool     `json:"outputs"`
	IsLatest          bool                `json:"isLatest"`
}

// Verification is the outcome of replaying one run of a day.
type Verification struct {
	RunID string        `json:"runId"`
	OK    bool          `json:"ok"`
	Code  IntegrityCode `json:"code,omitempty"`
	Error string        `json:"error,omitempty"`
}

// Reader serves replay and explain reads.
type Reader struct {
	store    Store
	failures *failure.Recorder
	logger   *logging.Logger
	metrics  *metrics.Manager
}

// Option configures a Reader.
type Option func(*Reader)

// WithFailureRecorder sets where integrity failures are recorded.
func WithFailureRecorder(r *failure.Recorder) Option {
	return func(rd *Reader) {
		rd.failures = r
	}
}

// WithLogger sets the reader logger.
func WithLogger(l *logging.Logger) Option {
	return func(rd *Reader) {
		if l != nil {
			rd.logger = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(rd *Reader) {
		rd.metrics = m
	}
}

// NewReader creates a Reader over s.
func NewReader(s Store, opts ...Option) *Reader {
	rd := &Reader{store: s, logger: logging.Discard()}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Replay returns the verified artifacts of runID, or of the latest run of
// the day when runID is empty.
func (rd *Reader) Replay(ctx context.Context, userID, day, runID string) (Result, error) {
	run, latest, err := rd.resolve(ctx, userID, day, runID)
	if err != nil {
		return Result{}, err
	}

	artifacts, err := rd.verify(ctx, run)
	if err != nil {
		var ie *IntegrityError
		if errors.As(err, &ie) {
			rd.reportIntegrity(ctx, run, ie)
		}
		return Result{}, err
	}
	return Result{Run: run, IsLatest: latest, Artifacts: artifacts}, nil
}

// Explain returns the metadata of runID (or the latest run) without reading
// snapshot contents.
func (rd *Reader) Explain(ctx context.Context, userID, day, runID string) (Explanation, error) {
	run, latest, err := rd.resolve(ctx, userID, day, runID)
	if err != nil {
		return Explanation{}, err
	}
	return Explanation{
		RunID:             run.RunID,
		Day:               run.Day,
		ComputedAt:        run.ComputedAt,
		PipelineVersion:   run.PipelineVersion,
		Trigger:           run.Trigger,
		CanonicalEventIDs: run.CanonicalEventIDs,
		Invariants:        run.Invariants,
		SnapshotRefs:      run.SnapshotRefs,
		Outputs:           run.Outputs,
		IsLatest:          latest,
	}, nil
}

// VerifyDay replays every run of the day. Integrity failures are reported
// per run; only store errors fail the call.
func (rd *Reader) VerifyDay(ctx context.Context, userID, day string) ([]Verification, error) {
	ids, err := rd.store.ListRunIDs(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("verify day: %w", err)
	}

	out := make([]Verification, 0, len(ids))
	for _, id := range ids {
		_, err := rd.Replay(ctx, userID, day, id)
		var ie *IntegrityError
		switch {
		case err == nil:
			out = append(out, Verification{RunID: id, OK: true})
		case errors.As(err, &ie):
			out = append(out, Verification{RunID: id, Code: ie.Code, Error: ie.Error()})
		default:
			return nil, fmt.Errorf("verify run %s: %w", id, err)
		}
	}
	return out, nil
}

// resolve loads the run and applies the ownership rules. It reports
// whether the run is the day's latest.
func (rd *Reader) resolve(ctx context.Context, userID, day, runID string) (model.DerivedRun, bool, error) {
	if userID == "" || !model.ValidDay(day) {
		return model.DerivedRun{}, false, ErrNotFound
	}

	latestID := ""
	ptr, err := rd.store.GetPointer(ctx, userID, day)
	switch {
	case err == nil:
		latestID = ptr.LatestRunID
	case errors.Is(err, store.ErrNotFound):
		if runID == "" {
			return model.DerivedRun{}, false, ErrNotFound
		}
	default:
		return model.DerivedRun{}, false, fmt.Errorf("resolve pointer: %w", err)
	}
	if runID == "" {
		runID = latestID
	}

	run, err := rd.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return model.DerivedRun{}, false, ErrNotFound
	}
	if err != nil {
		return model.DerivedRun{}, false, fmt.Errorf("load run: %w", err)
	}
	if run.UserID != userID {
		rd.logger.WarnContext(ctx, "run requested by non-owner", logging.UserID(userID), logging.RunID(runID))
		return model.DerivedRun{}, false, ErrForbidden
	}
	if run.Day != day {
		return model.DerivedRun{}, false, ErrNotFound
	}
	return run, run.RunID == latestID, nil
}

func (rd *Reader) verify(ctx context.Context, run model.DerivedRun) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(run.SnapshotRefs))
	for _, ref := range run.SnapshotRefs {
		snap, err := rd.store.GetSnapshot(ctx, run.RunID, ref.DocID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &IntegrityError{Code: CodeSnapshotMissing, RunID: run.RunID, DocID: ref.DocID, Detail: "referenced snapshot does not exist"}
		}
		if err != nil {
			return nil, fmt.Errorf("load snapshot %s: %w", ref.DocID, err)
		}

		value, err := canon.Decode(snap.Data)
		if err != nil {
			return nil, &IntegrityError{Code: CodeCanonicalValidationFailed, RunID: run.RunID, DocID: ref.DocID, Detail: err.Error()}
		}
		data, err := canon.MarshalValue(value)
		if err != nil {
			return nil, &IntegrityError{Code: CodeCanonicalValidationFailed, RunID: run.RunID, DocID: ref.DocID, Detail: err.Error()}
		}

		hash := canon.FingerprintBytes(data)
		if hash != snap.Hash || hash != ref.Hash || snap.Kind != ref.Kind {
			return nil, &IntegrityError{Code: CodeSnapshotHashMismatch, RunID: run.RunID, DocID: ref.DocID, Detail: "recomputed hash does not match"}
		}
		artifacts = append(artifacts, Artifact{Kind: ref.Kind, DocID: ref.DocID, Hash: hash, Data: data})
	}

	missing, err := rd.store.MissingCanonicalEvents(ctx, run.UserID, run.CanonicalEventIDs)
	if err != nil {
		return nil, fmt.Errorf("check canonical inputs: %w", err)
	}
	if len(missing) > 0 {
		return nil, &IntegrityError{
			Code:   CodeCanonicalInputMissing,
			RunID:  run.RunID,
			Detail: fmt.Sprintf("%d canonical inputs missing", len(missing)),
		}
	}
	return artifacts, nil
}

func (rd *Reader) reportIntegrity(ctx context.Context, run model.DerivedRun, ie *IntegrityError) {
	rd.metrics.IntegrityFailed(string(ie.Code))
	rd.logger.ErrorContext(ctx, "replay integrity check failed",
		logging.UserID(run.UserID),
		logging.Day(run.Day),
		logging.RunID(run.RunID),
		logging.Code(string(ie.Code)),
	)
	rd.failures.Capture(ctx, model.Failure{
		UserID:     run.UserID,
		Source:     failure.SourceReplay,
		Stage:      "verify",
		ReasonCode: string(ie.Code),
		Message:    ie.Error(),
		Day:        run.Day,
		RequestID:  middleware.GetRequestID(ctx),
		Details: map[string]any{
			"run_id": run.RunID,
			"doc_id": ie.DocID,
		},
	})
}
