package derive

import (
	"errors"
	"fmt"
)

// Stage names the step of a build that failed.
type Stage string

const (
	StageReadFacts   Stage = "read_facts"
	StageCompute     Stage = "compute"
	StageFingerprint Stage = "fingerprint"
	StageCommit      Stage = "commit"
)

// Reason codes recorded in failure memory.
const (
	ReasonFactReadFailed    = "FACT_READ_FAILED"
	ReasonRuleEngineFailed  = "RULE_ENGINE_FAILED"
	ReasonInvariantViolated = "INVARIANT_VIOLATED"
	ReasonFingerprintFailed = "FINGERPRINT_FAILED"
	ReasonCommitFailed      = "COMMIT_FAILED"
)

// ErrInvalidRequest is returned for a build request that names no user, an
// invalid day or an unknown trigger type. Nothing is recorded for it.
var ErrInvalidRequest = errors.New("invalid build request")

// BuildError reports which stage of a build failed.
type BuildError struct {
	// Stage is the failing step.
	Stage Stage

	// Reason is the failure memory reason code.
	Reason string

	// RunID is the id the run would have had.
	RunID string

	// FailureID is the failure memory record id, when one was written.
	FailureID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("build run %s: %s: %v", e.RunID, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsStage reports whether err is a BuildError at stage.
// Uses errors.As to handle wrapped errors.
func IsStage(err error, stage Stage) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Stage == stage
	}
	return false
}
