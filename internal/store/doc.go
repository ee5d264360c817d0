// Package store provides SQLite-backed durable storage for the truth pipeline.
//
// Tables:
//   - sources: per-user source registry used for ingestion gating
//   - raw_events: one row per (user, idempotency key), create-only
//   - canonical_events: normalized facts, create-only
//   - derived_runs and snapshots: the append-only computation ledger
//   - ledger_pointers: latest run per (user, day), forward-only
//   - failures: content-addressed failure memory
//
// # Create-only writes
//
// Every insert uses ON CONFLICT DO NOTHING and inspects rows affected.
// Zero rows means the key already existed and the call returns
// ErrAlreadyExists. There is no update or delete API for any table except
// the ledger pointer, which is advanced inside CommitRun only.
//
// # Deterministic ordering
//
// List queries order by (sort column ASC, id COLLATE BINARY ASC) and page with
// keyset cursors, so records sharing a timestamp never reorder between reads.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
