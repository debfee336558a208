package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/promptlab/internal/model"
)

// AppendChangelog appends an entry; details are stored as JSON text.
func (s *Store) AppendChangelog(ctx context.Context, e model.ChangelogEntry) error {
	var details sql.NullString
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("sqlite: marshal changelog details: %w", err)
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO changelog (id, timestamp, source, action, summary, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID.String(), formatTime(e.Timestamp), string(e.Source), string(e.Action), e.Summary, details,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append changelog: %w", err)
	}
	return nil
}

// ChangelogSeq returns the log position of the entry with the given id.
func (s *Store) ChangelogSeq(ctx context.Context, id uuid.UUID) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM changelog WHERE id = ?`, id.String()).Scan(&seq)
	if err != nil {
		return 0, notFound(err, "changelog entry "+id.String())
	}
	return seq, nil
}

// ListChangelog returns entries appended after afterSeq, oldest first.
func (s *Store) ListChangelog(ctx context.Context, afterSeq int64) ([]model.ChangelogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, source, action, summary, details
		 FROM changelog WHERE seq > ? ORDER BY seq ASC`, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list changelog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.ChangelogEntry
	for rows.Next() {
		var (
			e                      model.ChangelogEntry
			id, ts, source, action string
			details                sql.NullString
		)
		if err := rows.Scan(&id, &ts, &source, &action, &e.Summary, &details); err != nil {
			return nil, fmt.Errorf("sqlite: scan changelog entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("sqlite: parse changelog id: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.Source = model.Source(source)
		e.Action = model.ChangeAction(action)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal changelog details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TruncateChangelog keeps the newest keep entries and deletes the rest.
func (s *Store) TruncateChangelog(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("sqlite: truncate changelog: keep must be >= 0, got %d", keep)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM changelog
		 WHERE seq NOT IN (SELECT seq FROM changelog ORDER BY seq DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("sqlite: truncate changelog: %w", err)
	}
	return res.RowsAffected()
}

// LatestChangelogID returns the id of the last entry, or uuid.Nil when empty.
func (s *Store) LatestChangelogID(ctx context.Context) (uuid.UUID, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM changelog ORDER BY seq DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlite: latest changelog id: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlite: parse changelog id: %w", err)
	}
	return parsed, nil
}
