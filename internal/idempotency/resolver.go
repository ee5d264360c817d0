// Package idempotency decides whether a keyed write is a first write, an
// identical replay or a conflicting reuse of the key.
//
// The resolver holds no locks. Uniqueness comes from the target's create-only
// primitive; losing a create race is handled exactly like a retry.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielhendel/oli-sub001/internal/store"
)

// Outcome is the resolution of one keyed write.
type Outcome string

const (
	FirstWrite      Outcome = "first_write"
	IdenticalReplay Outcome = "identical_replay"
	Conflict        Outcome = "conflict"
)

var (
	// ErrMissingKey is returned when no idempotency key was supplied.
	ErrMissingKey = errors.New("idempotency key is required")
	// ErrConflict is returned when the key exists with different content.
	ErrConflict = errors.New("idempotency key reused with different content")
	// ErrVanished is returned when a create reports an existing key that a
	// read cannot find. Records are never deleted, so this is an integrity fault.
	ErrVanished = errors.New("existing record not found after create conflict")
)

// Target is a create-only store for records of type T.
// Create must return an error wrapping store.ErrAlreadyExists for a taken key.
type Target[T any] interface {
	Create(ctx context.Context, key string, record T) error
	Get(ctx context.Context, key string) (T, error)
}

// Result reports the outcome and the record that is now stored under the key.
type Result[T any] struct {
	Outcome     Outcome
	Record      T
	Fingerprint string
}

// Resolve writes record under key unless the key is taken.
//
// On a taken key the stored record is fetched and fingerprinted with the same
// function; equal fingerprints yield IdenticalReplay with the stored record,
// different ones yield Conflict and ErrConflict. The stored record is never
// modified.
func Resolve[T any](ctx context.Context, target Target[T], key string, record T, fingerprint func(T) (string, error)) (Result[T], error) {
	if key == "" {
		return Result[T]{}, ErrMissingKey
	}

	incoming, err := fingerprint(record)
	if err != nil {
		return Result[T]{}, fmt.Errorf("fingerprint incoming: %w", err)
	}

	err = target.Create(ctx, key, record)
	if err == nil {
		return Result[T]{Outcome: FirstWrite, Record: record, Fingerprint: incoming}, nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return Result[T]{}, fmt.Errorf("create %s: %w", key, err)
	}

	existing, err := target.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result[T]{}, fmt.Errorf("%w: %s", ErrVanished, key)
		}
		return Result[T]{}, fmt.Errorf("get existing %s: %w", key, err)
	}

	stored, err := fingerprint(existing)
	if err != nil {
		return Result[T]{}, fmt.Errorf("fingerprint existing: %w", err)
	}

	if stored != incoming {
		return Result[T]{Outcome: Conflict, Record: existing, Fingerprint: stored}, ErrConflict
	}
	return Result[T]{Outcome: IdenticalReplay, Record: existing, Fingerprint: stored}, nil
}
