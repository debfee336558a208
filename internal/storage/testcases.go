package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/promptlab/internal/model"
)

const testCaseColumns = `id, name, input_text, status, created_at, updated_at, deleted_at`

// CreateTestCase inserts a new test case.
func (db *DB) CreateTestCase(ctx context.Context, tc model.TestCase) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO test_cases (`+testCaseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tc.ID, tc.Name, tc.InputText, string(tc.Status), tc.CreatedAt, tc.UpdatedAt, tc.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create test case: %w", err)
	}
	return nil
}

// GetTestCase returns a test case by id, including gravestoned ones.
func (db *DB) GetTestCase(ctx context.Context, id uuid.UUID) (model.TestCase, error) {
	return scanTestCase(db.pool.QueryRow(ctx,
		`SELECT `+testCaseColumns+` FROM test_cases WHERE id = $1`, id))
}

// ListTestCases returns test cases in creation order. An empty status lists
// every row.
func (db *DB) ListTestCases(ctx context.Context, status model.TestCaseStatus) ([]model.TestCase, error) {
	query := `SELECT ` + testCaseColumns + ` FROM test_cases`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list test cases: %w", err)
	}
	defer rows.Close()

	var cases []model.TestCase
	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	return cases, rows.Err()
}

// UpdateTestCase overwrites name, input text and updated_at of an active test case.
func (db *DB) UpdateTestCase(ctx context.Context, tc model.TestCase) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE test_cases SET name = $2, input_text = $3, updated_at = $4
		 WHERE id = $1 AND status = 'active'`,
		tc.ID, tc.Name, tc.InputText, tc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: update test case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: test case %s: %w", tc.ID, ErrNotFound)
	}
	return nil
}

// DeleteTestCase gravestones the test case and deletes its results (and,
// through the foreign key, their images) in one transaction.
func (db *DB) DeleteTestCase(ctx context.Context, id uuid.UUID, at time.Time) (model.TestCase, error) {
	return db.transition(ctx, id,
		`UPDATE test_cases SET status = 'deleted', deleted_at = $2, updated_at = $2
		 WHERE id = $1 AND status = 'active'
		 RETURNING `+testCaseColumns,
		at, true)
}

// RestoreTestCase brings a gravestoned test case back to active. It has no
// results because deletion removed them.
func (db *DB) RestoreTestCase(ctx context.Context, id uuid.UUID, at time.Time) (model.TestCase, error) {
	return db.transition(ctx, id,
		`UPDATE test_cases SET status = 'active', deleted_at = NULL, updated_at = $2
		 WHERE id = $1 AND status = 'deleted'
		 RETURNING `+testCaseColumns,
		at, false)
}

func (db *DB) transition(ctx context.Context, id uuid.UUID, query string, at time.Time, dropResults bool) (model.TestCase, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.TestCase{}, fmt.Errorf("storage: begin test case transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tc, err := scanTestCase(tx.QueryRow(ctx, query, id, at))
	if errors.Is(err, ErrNotFound) {
		var exists bool
		if qerr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM test_cases WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return model.TestCase{}, fmt.Errorf("storage: check test case: %w", qerr)
		}
		if exists {
			return model.TestCase{}, fmt.Errorf("storage: test case %s: %w", id, ErrNotActive)
		}
		return model.TestCase{}, fmt.Errorf("storage: test case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.TestCase{}, err
	}

	if dropResults {
		if _, err := tx.Exec(ctx, `DELETE FROM test_results WHERE test_case_id = $1`, id); err != nil {
			return model.TestCase{}, fmt.Errorf("storage: delete results for test case: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.TestCase{}, fmt.Errorf("storage: commit test case transition: %w", err)
	}
	return tc, nil
}

// PurgeTestCase permanently removes a test case. Results and images cascade.
func (db *DB) PurgeTestCase(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM test_cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: purge test case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: test case %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanTestCase(row pgx.Row) (model.TestCase, error) {
	var tc model.TestCase
	var status string
	err := row.Scan(&tc.ID, &tc.Name, &tc.InputText, &status, &tc.CreatedAt, &tc.UpdatedAt, &tc.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TestCase{}, fmt.Errorf("storage: test case: %w", ErrNotFound)
		}
		return model.TestCase{}, fmt.Errorf("storage: scan test case: %w", err)
	}
	tc.Status = model.TestCaseStatus(status)
	return tc, nil
}
