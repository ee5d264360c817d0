package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/danielhendel/oli-sub001/internal/model"
)

// CreateFailure inserts a failure record. Returns ErrAlreadyExists if the id
// is taken; the caller decides whether the existing content matches.
func (s *Store) CreateFailure(ctx context.Context, rec model.FailureRecord) error {
	details, err := marshalObject(rec.Details)
	if err != nil {
		return fmt.Errorf("create failure: details: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO failures
		(id, user_id, source, stage, reason_code, message, day,
		 raw_event_id, canonical_event_id, request_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.UserID,
		rec.Source,
		rec.Stage,
		rec.ReasonCode,
		rec.Message,
		rec.Day,
		nullString(rec.RawEventID),
		nullString(rec.CanonicalEventID),
		nullString(rec.RequestID),
		details,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create failure: %w", err)
	}
	return requireInserted(res, "create failure")
}

const failureColumns = `id, user_id, source, stage, reason_code, message, day,
	raw_event_id, canonical_event_id, request_id, details, created_at`

// GetFailure returns the failure record id or ErrNotFound.
func (s *Store) GetFailure(ctx context.Context, id string) (model.FailureRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+failureColumns+` FROM failures WHERE id = ?`, id)
	rec, err := scanFailure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FailureRecord{}, fmt.Errorf("failure %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// ListFailures returns up to limit of a user's most recent failures, newest first.
func (s *Store) ListFailures(ctx context.Context, userID string, limit int) ([]model.FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+failureColumns+`
		FROM failures
		WHERE user_id = ?
		ORDER BY created_at DESC, id COLLATE BINARY ASC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	records := []model.FailureRecord{}
	for rows.Next() {
		rec, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return records, nil
}

func scanFailure(row rowScanner) (model.FailureRecord, error) {
	var (
		rec                                   model.FailureRecord
		rawEventID, canonicalEventID, request sql.NullString
		details, createdAt                    string
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Source, &rec.Stage, &rec.ReasonCode, &rec.Message, &rec.Day,
		&rawEventID, &canonicalEventID, &request, &details, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.FailureRecord{}, err
		}
		return model.FailureRecord{}, fmt.Errorf("scan failure: %w", err)
	}

	rec.RawEventID = rawEventID.String
	rec.CanonicalEventID = canonicalEventID.String
	rec.RequestID = request.String
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.FailureRecord{}, err
	}
	if rec.Details, err = unmarshalObject(details); err != nil {
		return model.FailureRecord{}, fmt.Errorf("failure %s details: %w", rec.ID, err)
	}
	return rec, nil
}
