package replay

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the run or day does not exist for the user.
	ErrNotFound = errors.New("run not found")
	// ErrForbidden is returned when the run id exists under another user.
	// It carries nothing about that run.
	ErrForbidden = errors.New("run belongs to another user")
)

// IntegrityCode names why a stored run failed verification.
type IntegrityCode string

const (
	// CodeSnapshotHashMismatch means a recomputed snapshot hash differs from
	// the stored hash or the run's reference.
	CodeSnapshotHashMismatch IntegrityCode = "SNAPSHOT_HASH_MISMATCH"

	// CodeSnapshotMissing means a referenced snapshot is gone.
	CodeSnapshotMissing IntegrityCode = "SNAPSHOT_MISSING"

	// CodeCanonicalInputMissing means a consumed canonical event is gone.
	CodeCanonicalInputMissing IntegrityCode = "CANONICAL_INPUT_MISSING"

	// CodeCanonicalValidationFailed means stored data cannot be decoded.
	CodeCanonicalValidationFailed IntegrityCode = "CANONICAL_VALIDATION_FAILED"
)

// IntegrityError fails a whole replay. No partial data accompanies it.
type IntegrityError struct {
	Code   IntegrityCode
	RunID  string
	DocID  string
	Detail string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	if e.DocID != "" {
		return fmt.Sprintf("%s: %s (run=%s, doc=%s)", e.Code, e.Detail, e.RunID, e.DocID)
	}
	return fmt.Sprintf("%s: %s (run=%s)", e.Code, e.Detail, e.RunID)
}

// IsIntegrityError returns true if err is an IntegrityError.
// Uses errors.As to handle wrapped errors.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
