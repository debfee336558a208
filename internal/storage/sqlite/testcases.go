package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/storage"
)

const testCaseColumns = `id, name, input_text, status, created_at, updated_at, deleted_at`

// CreateTestCase inserts a new test case.
func (s *Store) CreateTestCase(ctx context.Context, tc model.TestCase) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO test_cases (`+testCaseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tc.ID.String(), tc.Name, tc.InputText, string(tc.Status),
		formatTime(tc.CreatedAt), formatTime(tc.UpdatedAt), formatNullTime(tc.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create test case: %w", err)
	}
	return nil
}

// GetTestCase returns a test case by id, including gravestoned ones.
func (s *Store) GetTestCase(ctx context.Context, id uuid.UUID) (model.TestCase, error) {
	return scanTestCase(s.db.QueryRowContext(ctx,
		`SELECT `+testCaseColumns+` FROM test_cases WHERE id = ?`, id.String()))
}

// ListTestCases returns test cases in creation order; empty status lists all.
func (s *Store) ListTestCases(ctx context.Context, status model.TestCaseStatus) ([]model.TestCase, error) {
	query := `SELECT ` + testCaseColumns + ` FROM test_cases`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list test cases: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (s *Store) UpdateTestCase(ctx context.Context, tc model.TestCase) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE test_cases SET name = ?, input_text = ?, updated_at = ?
		 WHERE id = ? AND status = 'active'`,
		tc.Name, tc.InputText, formatTime(tc.UpdatedAt), tc.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update test case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: test case %s: %w", tc.ID, storage.ErrNotFound)
	}
	return nil
}

// DeleteTestCase gravestones the test case and deletes its results.
func (s *Store) DeleteTestCase(ctx context.Context, id uuid.UUID, at time.Time) (model.TestCase, error) {
	return s.transition(ctx, id,
		`UPDATE test_cases SET status = 'deleted', deleted_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'active'
		 RETURNING `+testCaseColumns,
		at, true)
}

// RestoreTestCase makes a gravestoned test case active again.
func (s *Store) RestoreTestCase(ctx context.Context, id uuid.UUID, at time.Time) (model.TestCase, error) {
	return s.transition(ctx, id,
		`UPDATE test_cases SET status = 'active', deleted_at = NULL, updated_at = ?
		 WHERE id = ? AND status = 'deleted'
		 RETURNING `+testCaseColumns,
		at, false)
}

func (s *Store) transition(ctx context.Context, id uuid.UUID, query string, at time.Time, deleting bool) (model.TestCase, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.TestCase{}, fmt.Errorf("sqlite: begin test case transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	args := []any{formatTime(at), id.String()}
	if deleting {
		args = []any{formatTime(at), formatTime(at), id.String()}
	}
	tc, err := scanTestCase(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, storage.ErrNotFound) {
		var n int
		if qerr := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_cases WHERE id = ?`, id.String()).Scan(&n); qerr != nil {
			return model.TestCase{}, fmt.Errorf("sqlite: check test case: %w", qerr)
		}
		if n > 0 {
			return model.TestCase{}, fmt.Errorf("sqlite: test case %s: %w", id, storage.ErrNotActive)
		}
		return model.TestCase{}, fmt.Errorf("sqlite: test case %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return model.TestCase{}, err
	}

	if deleting {
		if _, err := tx.ExecContext(ctx, `DELETE FROM test_results WHERE test_case_id = ?`, id.String()); err != nil {
			return model.TestCase{}, fmt.Errorf("sqlite: delete results for test case: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.TestCase{}, fmt.Errorf("sqlite: commit test case transition: %w", err)
	}
	return tc, nil
}

// PurgeTestCase permanently removes a test case; results and images cascade.
func (s *Store) PurgeTestCase(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM test_cases WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sqlite: purge test case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: test case %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func scanTestCase(row scanner) (model.TestCase, error) {
	var (
		tc               model.TestCase
		id, status       string
		created, updated string
		deleted          sql.NullString
	)
	if err := row.Scan(&id, &tc.Name, &tc.InputText, &status, &created, &updated, &deleted); err != nil {
		return model.TestCase{}, notFound(err, "test case")
	}
	var err error
	if tc.ID, err = uuid.Parse(id); err != nil {
		return model.TestCase{}, fmt.Errorf("sqlite: parse test case id: %w", err)
	}
	tc.Status = model.TestCaseStatus(status)
	if tc.CreatedAt, err = parseTime(created); err != nil {
		return model.TestCase{}, err
	}
	if tc.UpdatedAt, err = parseTime(updated); err != nil {
		return model.TestCase{}, err
	}
	if tc.DeletedAt, err = parseNullTime(deleted); err != nil {
		return model.TestCase{}, err
	}
	return tc, nil
}
