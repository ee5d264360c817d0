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

// CreateCanonicalEvent inserts a canonical event. Returns ErrAlreadyExists on
// a duplicate (UserID, ID).
func (s *Store) CreateCanonicalEvent(ctx context.Context, ev model.CanonicalEvent) error {
	value, err := marshalObject(ev.Value)
	if err != nil {
		return fmt.Errorf("create canonical event: value: %w", err)
	}

	var observedEnd sql.NullString
	if ev.ObservedAt.End != nil {
		observedEnd = sql.NullString{String: formatTime(*ev.ObservedAt.End), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO canonical_events
		(user_id, id, day, kind, observed_start, observed_end, value, raw_event_id, supersedes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO NOTHING
	`,
		ev.UserID,
		ev.ID,
		ev.Day,
		string(ev.Kind),
		formatTime(ev.ObservedAt.Start),
		observedEnd,
		value,
		ev.RawEventID,
		nullString(ev.Supersedes),
		formatTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create canonical event: %w", err)
	}
	return requireInserted(res, "create canonical event")
}

const canonicalEventColumns = `user_id, id, day, kind, observed_start, observed_end, value, raw_event_id, supersedes, created_at`

// GetCanonicalEvent returns the canonical event (userID, id) or ErrNotFound.
func (s *Store) GetCanonicalEvent(ctx context.Context, userID, id string) (model.CanonicalEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+canonicalEventColumns+`
		FROM canonical_events
		WHERE user_id = ? AND id = ?
	`, userID, id)

	ev, err := scanCanonicalEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CanonicalEvent{}, fmt.Errorf("canonical event %s: %w", id, ErrNotFound)
	}
	return ev, err
}

// ListCurrentFacts returns the day's canonical events that no correction has
// superseded, ordered by observed start, then id.
func (s *Store) ListCurrentFacts(ctx context.Context, userID, day string) ([]model.CanonicalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+canonicalEventColumns+`
		FROM canonical_events c
		WHERE c.user_id = ? AND c.day = ?
		  AND NOT EXISTS (
		      SELECT 1 FROM canonical_events s
		      WHERE s.user_id = c.user_id AND s.supersedes = c.id
		  )
		ORDER BY c.observed_start ASC, c.id COLLATE BINARY ASC
	`, userID, day)
	if err != nil {
		return nil, fmt.Errorf("query current facts: %w", err)
	}
	defer rows.Close()

	facts := []model.CanonicalEvent{}
	for rows.Next() {
		ev, err := scanCanonicalEvent(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate current facts: %w", err)
	}
	return facts, nil
}

// MissingCanonicalEvents returns the ids in ids that have no stored row,
// preserving input order.
func (s *Store) MissingCanonicalEvents(ctx context.Context, userID string, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		var one int
		err := s.db.QueryRowContext(ctx, `
			SELECT 1 FROM canonical_events WHERE user_id = ? AND id = ?
		`, userID, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("check canonical event %s: %w", id, err)
		}
	}
	return missing, nil
}

// CanonicalEventQuery filters a canonical event listing.
type CanonicalEventQuery struct {
	UserID string
	Day    string
	Page   pagination.Query
}

// ListCanonicalEvents returns one page of canonical events, superseded ones
// included, ordered by observed start, then id.
func (s *Store) ListCanonicalEvents(ctx context.Context, q CanonicalEventQuery) (pagination.Page[model.CanonicalEvent], error) {
	if q.UserID == "" {
		return pagination.Page[model.CanonicalEvent]{}, fmt.Errorf("list canonical events: user id is required")
	}

	where := []string{"user_id = ?"}
	args := []any{q.UserID}
	if q.Day != "" {
		where = append(where, "day = ?")
		args = append(args, q.Day)
	}
	where, args = afterCursor(where, args, "observed_start", "id", q.Page.After)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+canonicalEventColumns+`
		FROM canonical_events
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY observed_start ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, append(args, q.Page.Limit+1)...)
	if err != nil {
		return pagination.Page[model.CanonicalEvent]{}, fmt.Errorf("query canonical events: %w", err)
	}
	defer rows.Close()

	var events []model.CanonicalEvent
	for rows.Next() {
		ev, err := scanCanonicalEvent(rows)
		if err != nil {
			return pagination.Page[model.CanonicalEvent]{}, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return pagination.Page[model.CanonicalEvent]{}, fmt.Errorf("iterate canonical events: %w", err)
	}

	return pagination.Trim(events, q.Page.Limit, func(ev model.CanonicalEvent) pagination.Cursor {
		return pagination.Cursor{Sort: formatTime(ev.ObservedAt.Start), ID: ev.ID}
	}), nil
}

func scanCanonicalEvent(row rowScanner) (model.CanonicalEvent, error) {
	var (
		ev                                 model.CanonicalEvent
		kind, observedStart, value, created string
		observedEnd, supersedes            sql.NullString
	)
	err := row.Scan(
		&ev.UserID, &ev.ID, &ev.Day, &kind, &observedStart, &observedEnd,
		&value, &ev.RawEventID, &supersedes, &created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CanonicalEvent{}, err
		}
		return model.CanonicalEvent{}, fmt.Errorf("scan canonical event: %w", err)
	}

	ev.Kind = model.Kind(kind)
	ev.Supersedes = supersedes.String
	if ev.ObservedAt.Start, err = parseTime(observedStart); err != nil {
		return model.CanonicalEvent{}, err
	}
	if ev.ObservedAt.End, err = parseTimePtr(observedEnd); err != nil {
		return model.CanonicalEvent{}, err
	}
	if ev.CreatedAt, err = parseTime(created); err != nil {
		return model.CanonicalEvent{}, err
	}
	if ev.Value, err = unmarshalObject(value); err != nil {
		return model.CanonicalEvent{}, fmt.Errorf("canonical event %s value: %w", ev.ID, err)
	}
	return ev, nil
}
