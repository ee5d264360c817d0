// Package model defines the records that flow through the truth pipeline.
//
// RawEvent, CanonicalEvent, DerivedRun, Snapshot and FailureRecord are
// immutable once written. LedgerPointer is the only record that changes,
// and it only moves forward in computed time.
package model
