package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/pagination"
)

// CommitRun writes a run, its snapshots and the ledger pointer in a single
// transaction. Either all of them become visible or none do.
//
// The pointer only moves when the run's ComputedAt is not older than the
// current pointer's. Ties go to the last writer.
func (s *Store) CommitRun(ctx context.Context, run model.DerivedRun, snapshots []model.Snapshot) error {
	trigger, err := marshalCanonical(run.Trigger)
	if err != nil {
		return fmt.Errorf("commit run: trigger: %w", err)
	}
	inputs, err := marshalCanonical(nonNil(run.CanonicalEventIDs))
	if err != nil {
		return fmt.Errorf("commit run: inputs: %w", err)
	}
	refs, err := marshalCanonical(nonNil(run.SnapshotRefs))
	if err != nil {
		return fmt.Errorf("commit run: snapshot refs: %w", err)
	}
	outputs, err := marshalCanonical(nonNilMap(run.Outputs))
	if err != nil {
		return fmt.Errorf("commit run: outputs: %w", err)
	}
	invariants, err := marshalCanonical(nonNil(run.Invariants))
	if err != nil {
		return fmt.Errorf("commit run: invariants: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO derived_runs
		(run_id, user_id, day, computed_at, pipeline_version, trigger,
		 canonical_event_ids, snapshot_refs, outputs, invariants)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		run.RunID,
		run.UserID,
		run.Day,
		formatTime(run.ComputedAt),
		run.PipelineVersion,
		trigger,
		inputs,
		refs,
		outputs,
		invariants,
	)
	if err != nil {
		return fmt.Errorf("commit run: insert run: %w", err)
	}
	if err := requireInserted(res, "commit run"); err != nil {
		return err
	}

	for _, snap := range snapshots {
		if snap.RunID != run.RunID {
			return fmt.Errorf("commit run: snapshot %s belongs to run %s", snap.DocID, snap.RunID)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (run_id, doc_id, kind, hash, created_at, data)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, doc_id) DO NOTHING
		`, snap.RunID, snap.DocID, snap.Kind, snap.Hash, formatTime(snap.CreatedAt), string(snap.Data))
		if err != nil {
			return fmt.Errorf("commit run: insert snapshot %s: %w", snap.DocID, err)
		}
		if err := requireInserted(res, "commit run: snapshot "+snap.DocID); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_pointers (user_id, day, latest_run_id, latest_computed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, day) DO UPDATE SET
			latest_run_id = excluded.latest_run_id,
			latest_computed_at = excluded.latest_computed_at
		WHERE excluded.latest_computed_at >= ledger_pointers.latest_computed_at
	`, run.UserID, run.Day, run.RunID, formatTime(run.ComputedAt))
	if err != nil {
		return fmt.Errorf("commit run: advance pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: commit: %w", err)
	}
	return nil
}

const runColumns = `run_id, user_id, day, computed_at, pipeline_version, trigger,
	canonical_event_ids, snapshot_refs, outputs, invariants`

// GetRun returns a run by id regardless of owner, or ErrNotFound.
// Ownership checks belong to the caller.
func (s *Store) GetRun(ctx context.Context, runID string) (model.DerivedRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM derived_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DerivedRun{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

// GetSnapshot returns one snapshot of a run, or ErrNotFound.
func (s *Store) GetSnapshot(ctx context.Context, runID, docID string) (model.Snapshot, error) {
	var (
		snap            model.Snapshot
		createdAt, data string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, doc_id, kind, hash, created_at, data
		FROM snapshots
		WHERE run_id = ? AND doc_id = ?
	`, runID, docID).Scan(&snap.RunID, &snap.DocID, &snap.Kind, &snap.Hash, &createdAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, fmt.Errorf("snapshot %s/%s: %w", runID, docID, ErrNotFound)
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	if snap.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Snapshot{}, err
	}
	snap.Data = []byte(data)
	return snap, nil
}

// GetPointer returns the ledger pointer for (userID, day), or ErrNotFound if
// no run has been committed for that day.
func (s *Store) GetPointer(ctx context.Context, userID, day string) (model.LedgerPointer, error) {
	var (
		ptr        model.LedgerPointer
		computedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, day, latest_run_id, latest_computed_at
		FROM ledger_pointers
		WHERE user_id = ? AND day = ?
	`, userID, day).Scan(&ptr.UserID, &ptr.Day, &ptr.LatestRunID, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LedgerPointer{}, fmt.Errorf("pointer %s/%s: %w", userID, day, ErrNotFound)
	}
	if err != nil {
		return model.LedgerPointer{}, fmt.Errorf("get pointer: %w", err)
	}
	if ptr.LatestComputedAt, err = parseTime(computedAt); err != nil {
		return model.LedgerPointer{}, err
	}
	return ptr, nil
}

// RunQuery filters a run listing. Day is optional.
type RunQuery struct {
	UserID string
	Day    string
	Page   pagination.Query
}

// ListRuns returns one page of runs ordered by computed time, then run id.
func (s *Store) ListRuns(ctx context.Context, q RunQuery) (pagination.Page[model.DerivedRun], error) {
	if q.UserID == "" {
		return pagination.Page[model.DerivedRun]{}, fmt.Errorf("list runs: user id is required")
	}

	where := []string{"user_id = ?"}
	args := []any{q.UserID}
	if q.Day != "" {
		where = append(where, "day = ?")
		args = append(args, q.Day)
	}
	where, args = afterCursor(where, args, "computed_at", "run_id", q.Page.After)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM derived_runs
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY computed_at ASC, run_id COLLATE BINARY ASC
		LIMIT ?
	`, append(args, q.Page.Limit+1)...)
	if err != nil {
		return pagination.Page[model.DerivedRun]{}, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.DerivedRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return pagination.Page[model.DerivedRun]{}, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return pagination.Page[model.DerivedRun]{}, fmt.Errorf("iterate runs: %w", err)
	}

	return pagination.Trim(runs, q.Page.Limit, func(r model.DerivedRun) pagination.Cursor {
		return pagination.Cursor{Sort: formatTime(r.ComputedAt), ID: r.RunID}
	}), nil
}

// ListRunIDs returns every run id of (userID, day) in computed order.
func (s *Store) ListRunIDs(ctx context.Context, userID, day string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id FROM derived_runs
		WHERE user_id = ? AND day = ?
		ORDER BY computed_at ASC, run_id COLLATE BINARY ASC
	`, userID, day)
	if err != nil {
		return nil, fmt.Errorf("query run ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run ids: %w", err)
	}
	return ids, nil
}

func scanRun(row rowScanner) (model.DerivedRun, error) {
	var (
		run                                         model.DerivedRun
		computedAt, trigger, inputs, refs, outs, iv string
	)
	err := row.Scan(
		&run.RunID, &run.UserID, &run.Day, &computedAt, &run.PipelineVersion,
		&trigger, &inputs, &refs, &outs, &iv,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DerivedRun{}, err
		}
		return model.DerivedRun{}, fmt.Errorf("scan run: %w", err)
	}

	if run.ComputedAt, err = parseTime(computedAt); err != nil {
		return model.DerivedRun{}, err
	}
	fields := []struct {
		name string
		data string
		dst  any
	}{
		{"trigger", trigger, &run.Trigger},
		{"canonical_event_ids", inputs, &run.CanonicalEventIDs},
		{"snapshot_refs", refs, &run.SnapshotRefs},
		{"outputs", outs, &run.Outputs},
		{"invariants", iv, &run.Invariants},
	}
	for _, f := range fields {
		if err := unmarshalJSON(f.data, f.dst); err != nil {
			return model.DerivedRun{}, fmt.Errorf("run %s %s: %w", run.RunID, f.name, err)
		}
	}
	return run, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nonNilMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}
