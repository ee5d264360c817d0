package derive

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/danielhendel/oli-sub001/internal/canon"
	"github.com/danielhendel/oli-sub001/internal/model"
)

// Invariant names recorded on every run. Each is checked by Build before
// the run is committed.
const (
	InvariantInputsScoped      = "inputs_scoped_to_user_day"
	InvariantInputsCurrent     = "inputs_exclude_superseded"
	InvariantInputsUnique      = "inputs_unique"
	InvariantArtifactsUnique   = "artifact_doc_ids_unique"
	InvariantSnapshotCanonical = "snapshot_data_canonical"
	InvariantHashOfStoredBytes = "snapshot_hash_of_stored_bytes"
)

// Invariants lists the checks in the order they run.
var Invariants = []string{
	InvariantInputsScoped,
	InvariantInputsCurrent,
	InvariantInputsUnique,
	InvariantArtifactsUnique,
	InvariantSnapshotCanonical,
	InvariantHashOfStoredBytes,
}

// ErrInvariant is wrapped by every invariant violation.
var ErrInvariant = errors.New("invariant violated")

func checkInputs(req BuildRequest, events []model.CanonicalEvent) error {
	ids := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if ev.UserID != req.UserID || ev.Day != req.Day {
			return fmt.Errorf("%w: %s: fact %s is outside %s/%s", ErrInvariant, InvariantInputsScoped, ev.ID, req.UserID, req.Day)
		}
		if _, dup := ids[ev.ID]; dup {
			return fmt.Errorf("%w: %s: fact %s appears twice", ErrInvariant, InvariantInputsUnique, ev.ID)
		}
		ids[ev.ID] = struct{}{}
	}
	for _, ev := range events {
		if ev.Supersedes == "" {
			continue
		}
		if _, stale := ids[ev.Supersedes]; stale {
			return fmt.Errorf("%w: %s: fact %s is superseded by %s", ErrInvariant, InvariantInputsCurrent, ev.Supersedes, ev.ID)
		}
	}
	return nil
}

// prepareArtifacts fills default doc ids and rejects duplicates.
func prepareArtifacts(artifacts []Artifact) ([]Artifact, error) {
	out := make([]Artifact, len(artifacts))
	seen := make(map[string]struct{}, len(artifacts))
	for i, a := range artifacts {
		if a.Kind == "" {
			return nil, fmt.Errorf("%w: artifact %d has no kind", ErrInvariant, i)
		}
		if a.DocID == "" {
			a.DocID = a.Kind
		}
		if _, dup := seen[a.DocID]; dup {
			return nil, fmt.Errorf("%w: %s: %s", ErrInvariant, InvariantArtifactsUnique, a.DocID)
		}
		seen[a.DocID] = struct{}{}
		out[i] = a
	}
	return out, nil
}

// checkCanonical confirms data survives a decode and re-encode unchanged,
// which is what replay does before recomputing the hash.
func checkCanonical(data []byte) error {
	v, err := canon.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvariant, InvariantSnapshotCanonical, err)
	}
	again, err := canon.MarshalValue(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvariant, InvariantSnapshotCanonical, err)
	}
	if !bytes.Equal(data, again) {
		return fmt.Errorf("%w: %s", ErrInvariant, InvariantSnapshotCanonical)
	}
	return nil
}
