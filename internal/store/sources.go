package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/danielhendel/oli-sub001/internal/model"
)

// CreateSource registers a source. Returns ErrAlreadyExists for a duplicate
// (UserID, ID).
func (s *Store) CreateSource(ctx context.Context, src model.Source) error {
	allowed, err := marshalCanonical(allowedKindsDoc(src.AllowedKinds))
	if err != nil {
		return fmt.Errorf("create source: allowed kinds: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (user_id, id, provider, active, allowed_kinds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO NOTHING
	`, src.UserID, src.ID, src.Provider, src.Active, allowed)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	return requireInserted(res, "create source")
}

// GetSource returns the source (userID, id) or ErrNotFound. A source owned by
// another user is indistinguishable from a missing one.
func (s *Store) GetSource(ctx context.Context, userID, id string) (model.Source, error) {
	var (
		src     model.Source
		allowed string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, id, provider, active, allowed_kinds
		FROM sources
		WHERE user_id = ? AND id = ?
	`, userID, id).Scan(&src.UserID, &src.ID, &src.Provider, &src.Active, &allowed)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Source{}, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Source{}, fmt.Errorf("get source: %w", err)
	}

	var kinds map[model.Kind][]int
	if err := unmarshalJSON(allowed, &kinds); err != nil {
		return model.Source{}, fmt.Errorf("source %s allowed kinds: %w", id, err)
	}
	src.AllowedKinds = kinds
	return src, nil
}

// ListSources returns all sources of a user ordered by id.
func (s *Store) ListSources(ctx context.Context, userID string) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sources WHERE user_id = ? ORDER BY id COLLATE BINARY ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan source: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}

	// A single connection is shared, so rows must be closed before the lookups.
	sources := make([]model.Source, 0, len(ids))
	for _, id := range ids {
		src, err := s.GetSource(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func allowedKindsDoc(kinds map[model.Kind][]int) map[string][]int {
	out := make(map[string][]int, len(kinds))
	for k, versions := range kinds {
		if versions == nil {
			versions = []int{}
		}
		out[string(k)] = versions
	}
	return out
}
