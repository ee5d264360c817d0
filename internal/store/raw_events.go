package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/pagination"
)

// CreateRawEvent inserts a raw event keyed by (UserID, ID).
// Returns ErrAlreadyExists if the key is taken; the stored row is never touched.
func (s *Store) CreateRawEvent(ctx context.Context, ev model.RawEvent) error {
	payload, err := marshalObject(ev.Payload)
	if err != nil {
		return fmt.Errorf("create raw event: payload: %w", err)
	}

	var observedEnd sql.NullString
	if ev.ObservedAt.End != nil {
		observedEnd = sql.NullString{String: formatTime(*ev.ObservedAt.End), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_events
		(user_id, id, source_id, provider, kind, schema_version, observed_start, observed_end,
		 time_zone, day, recorded_at, received_at, provenance, correction_of, payload, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO NOTHING
	`,
		ev.UserID,
		ev.ID,
		ev.SourceID,
		ev.Provider,
		string(ev.Kind),
		ev.SchemaVersion,
		formatTime(ev.ObservedAt.Start),
		observedEnd,
		ev.TimeZone,
		ev.Day,
		formatTimePtr(ev.RecordedAt),
		formatTime(ev.ReceivedAt),
		string(ev.Provenance),
		nullString(ev.CorrectionOf),
		payload,
		ev.PayloadHash,
	)
	if err != nil {
		return fmt.Errorf("create raw event: %w", err)
	}
	return requireInserted(res, "create raw event")
}

const rawEventColumns = `user_id, id, source_id, provider, kind, schema_version, observed_start, observed_end,
	time_zone, day, recorded_at, received_at, provenance, correction_of, payload, payload_hash`

// GetRawEvent returns the raw event (userID, id) or ErrNotFound.
func (s *Store) GetRawEvent(ctx context.Context, userID, id string) (model.RawEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+rawEventColumns+`
		FROM raw_events
		WHERE user_id = ? AND id = ?
	`, userID, id)

	ev, err := scanRawEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RawEvent{}, fmt.Errorf("raw event %s: %w", id, ErrNotFound)
	}
	return ev, err
}

// RawEventQuery filters a raw event listing. UserID is required.
// The observed window is [From, To) on the start of the observed range.
type RawEventQuery struct {
	UserID   string
	From     *time.Time
	To       *time.Time
	Kind     model.Kind
	Provider string
	SourceID string
	Page     pagination.Query
}

// ListRawEvents returns one page ordered by observed start, then id.
func (s *Store) ListRawEvents(ctx context.Context, q RawEventQuery) (pagination.Page[model.RawEvent], error) {
	if q.UserID == "" {
		return pagination.Page[model.RawEvent]{}, fmt.Errorf("list raw events: user id is required")
	}

	where := []string{"user_id = ?"}
	args := []any{q.UserID}
	if q.From != nil {
		where = append(where, "observed_start >= ?")
		args = append(args, formatTime(*q.From))
	}
	if q.To != nil {
		where = append(where, "observed_start < ?")
		args = append(args, formatTime(*q.To))
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, q.Provider)
	}
	if q.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, q.SourceID)
	}
	where, args = afterCursor(where, args, "observed_start", "id", q.Page.After)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rawEventColumns+`
		FROM raw_events
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY observed_start ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, append(args, q.Page.Limit+1)...)
	if err != nil {
		return pagination.Page[model.RawEvent]{}, fmt.Errorf("query raw events: %w", err)
	}
	defer rows.Close()

	var events []model.RawEvent
	for rows.Next() {
		ev, err := scanRawEvent(rows)
		if err != nil {
			return pagination.Page[model.RawEvent]{}, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return pagination.Page[model.RawEvent]{}, fmt.Errorf("iterate raw events: %w", err)
	}

	return pagination.Trim(events, q.Page.Limit, func(ev model.RawEvent) pagination.Cursor {
		return pagination.Cursor{Sort: formatTime(ev.ObservedAt.Start), ID: ev.ID}
	}), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRawEvent(row rowScanner) (model.RawEvent, error) {
	var (
		ev                                  model.RawEvent
		kind, provenance                    string
		observedStart, receivedAt, payload  string
		observedEnd, recordedAt, correction sql.NullString
	)
	err := row.Scan(
		&ev.UserID, &ev.ID, &ev.SourceID, &ev.Provider, &kind, &ev.SchemaVersion,
		&observedStart, &observedEnd, &ev.TimeZone, &ev.Day, &recordedAt, &receivedAt,
		&provenance, &correction, &payload, &ev.PayloadHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RawEvent{}, err
		}
		return model.RawEvent{}, fmt.Errorf("scan raw event: %w", err)
	}

	ev.Kind = model.Kind(kind)
	ev.Provenance = model.Provenance(provenance)
	ev.CorrectionOf = correction.String

	if ev.ObservedAt.Start, err = parseTime(observedStart); err != nil {
		return model.RawEvent{}, err
	}
	if ev.ObservedAt.End, err = parseTimePtr(observedEnd); err != nil {
		return model.RawEvent{}, err
	}
	if ev.RecordedAt, err = parseTimePtr(recordedAt); err != nil {
		return model.RawEvent{}, err
	}
	if ev.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return model.RawEvent{}, err
	}
	if ev.Payload, err = unmarshalObject(payload); err != nil {
		return model.RawEvent{}, fmt.Errorf("raw event %s payload: %w", ev.ID, err)
	}
	return ev, nil
}

// afterCursor appends the keyset condition for rows strictly after cur.
func afterCursor(where []string, args []any, sortCol, idCol string, cur *pagination.Cursor) ([]string, []any) {
	if cur == nil {
		return where, args
	}
	where = append(where, fmt.Sprintf("(%[1]s > ? OR (%[1]s = ? AND %[2]s COLLATE BINARY > ?))", sortCol, idCol))
	return where, append(args, cur.Sort, cur.Sort, cur.ID)
}

func requireInserted(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	}
	return nil
}
