package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/promptlab/internal/model"
)

// changelogLockKey is the advisory lock that serializes changelog appends.
const changelogLockKey int64 = 0x70726f6d70746c // "promptl"

// AppendChangelog appends an entry. Its position is assigned by the database.
// Appends hold a transaction-scoped advisory lock so that entries commit in
// seq order and a reader paging with ListChangelog never passes a seq whose
// row is still uncommitted.
func (db *DB) AppendChangelog(ctx context.Context, e model.ChangelogEntry) error {
	var details any
	if len(e.Details) > 0 {
		details = e.Details
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin append changelog: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, changelogLockKey); err != nil {
		return fmt.Errorf("storage: lock changelog: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO changelog (id, timestamp, source, action, summary, details)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Timestamp, string(e.Source), string(e.Action), e.Summary, details,
	)
	if err != nil {
		return fmt.Errorf("storage: append changelog: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit append changelog: %w", err)
	}
	return nil
}

// ChangelogSeq returns the log position of the entry with the given id.
func (db *DB) ChangelogSeq(ctx context.Context, id uuid.UUID) (int64, error) {
	var seq int64
	err := db.pool.QueryRow(ctx, `SELECT seq FROM changelog WHERE id = $1`, id).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("storage: changelog entry %s: %w", id, ErrNotFound)
		}
		return 0, fmt.Errorf("storage: changelog seq: %w", err)
	}
	return seq, nil
}

// ListChangelog returns entries appended after afterSeq, oldest first.
// Every entry with a seq at or below the last one returned is already
// visible, so afterSeq is a safe resume cursor.
func (db *DB) ListChangelog(ctx context.Context, afterSeq int64) ([]model.ChangelogEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, timestamp, source, action, summary, details
		 FROM changelog WHERE seq > $1 ORDER BY seq ASC`, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("storage: list changelog: %w", err)
	}
	defer rows.Close()

	var entries []model.ChangelogEntry
	for rows.Next() {
		var e model.ChangelogEntry
		var source, action string
		if err := rows.Scan(&e.ID, &e.Timestamp, &source, &action, &e.Summary, &e.Details); err != nil {
			return nil, fmt.Errorf("storage: scan changelog entry: %w", err)
		}
		e.Source = model.Source(source)
		e.Action = model.ChangeAction(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TruncateChangelog keeps the newest keep entries and deletes the rest.
func (db *DB) TruncateChangelog(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("storage: truncate changelog: keep must be >= 0, got %d", keep)
	}
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM changelog
		 WHERE seq NOT IN (SELECT seq FROM changelog ORDER BY seq DESC LIMIT $1)`, keep)
	if err != nil {
		return 0, fmt.Errorf("storage: truncate changelog: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LatestChangelogID returns the id of the last appended entry, or
// uuid.Nil when the log is empty.
func (db *DB) LatestChangelogID(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx, `SELECT id FROM changelog ORDER BY seq DESC LIMIT 1`).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("storage: latest changelog id: %w", err)
	}
	return id, nil
}
