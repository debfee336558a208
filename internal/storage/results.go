package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/promptlab/internal/model"
)

const resultColumns = `id, test_case_id, config_version, status, enhanced_prompt,
	generated_image_id, image_error, run_started_at, run_completed_at`

// SaveResult inserts a result or advances an existing one. test_case_id,
// config_version and run_started_at are only written on insert. The write
// happens only while the test case is active; otherwise ErrNotActive is
// returned. The test case row is share-locked so a concurrent delete either
// sees the write and removes it, or commits first and blocks it.
func (db *DB) SaveResult(ctx context.Context, r model.TestResult) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin save result: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var one int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM test_cases WHERE id = $1 AND status = 'active' FOR SHARE`, r.TestCaseID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("storage: save result for test case %s: %w", r.TestCaseID, ErrNotActive)
	}
	if err != nil {
		return fmt.Errorf("storage: lock test case: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO test_results (`+resultColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		     status = EXCLUDED.status,
		     enhanced_prompt = EXCLUDED.enhanced_prompt,
		     generated_image_id = EXCLUDED.generated_image_id,
		     image_error = EXCLUDED.image_error,
		     run_completed_at = EXCLUDED.run_completed_at`,
		r.ID, r.TestCaseID, r.ConfigVersion, string(r.Status), r.EnhancedPrompt,
		r.GeneratedImageID, r.ImageError, r.RunStartedAt, r.RunCompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save result: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit save result: %w", err)
	}
	return nil
}

// GetResult returns a result by run id.
func (db *DB) GetResult(ctx context.Context, id uuid.UUID) (model.TestResult, error) {
	return scanResult(db.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM test_results WHERE id = $1`, id))
}

// activeResultColumns qualifies resultColumns for queries joining test_cases.
const activeResultColumns = `r.id, r.test_case_id, r.config_version, r.status, r.enhanced_prompt,
	r.generated_image_id, r.image_error, r.run_started_at, r.run_completed_at`

// LatestResult returns the most recently started run of an active test case.
func (db *DB) LatestResult(ctx context.Context, testCaseID uuid.UUID) (model.TestResult, error) {
	return scanResult(db.pool.QueryRow(ctx,
		`SELECT `+activeResultColumns+` FROM test_results r
		 JOIN test_cases tc ON tc.id = r.test_case_id AND tc.status = 'active'
		 WHERE r.test_case_id = $1
		 ORDER BY r.run_started_at DESC, r.id DESC
		 LIMIT 1`, testCaseID))
}

// LatestResults returns the newest result of every active test case.
func (db *DB) LatestResults(ctx context.Context) ([]model.TestResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT ON (r.test_case_id) `+activeResultColumns+`
		 FROM test_results r
		 JOIN test_cases tc ON tc.id = r.test_case_id
		 WHERE tc.status = 'active'
		 ORDER BY r.test_case_id, r.run_started_at DESC, r.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: latest results: %w", err)
	}
	return collectResults(rows)
}

// ListResults returns a test case's run history, newest first. limit <= 0
// means no limit. Gravestoned test cases have no history.
func (db *DB) ListResults(ctx context.Context, testCaseID uuid.UUID, limit int) ([]model.TestResult, error) {
	query := `SELECT ` + activeResultColumns + ` FROM test_results r
		JOIN test_cases tc ON tc.id = r.test_case_id AND tc.status = 'active'
		WHERE r.test_case_id = $1
		ORDER BY r.run_started_at DESC, r.id DESC`
	args := []any{testCaseID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list results: %w", err)
	}
	return collectResults(rows)
}

// DeleteResultsForTestCase removes every result of a test case.
func (db *DB) DeleteResultsForTestCase(ctx context.Context, testCaseID uuid.UUID) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM test_results WHERE test_case_id = $1`, testCaseID)
	if err != nil {
		return 0, fmt.Errorf("storage: delete results: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectResults(rows pgx.Rows) ([]model.TestResult, error) {
	defer rows.Close()
	var results []model.TestResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanResult(row pgx.Row) (model.TestResult, error) {
	var r model.TestResult
	var status string
	err := row.Scan(&r.ID, &r.TestCaseID, &r.ConfigVersion, &status, &r.EnhancedPrompt,
		&r.GeneratedImageID, &r.ImageError, &r.RunStartedAt, &r.RunCompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TestResult{}, fmt.Errorf("storage: result: %w", ErrNotFound)
		}
		return model.TestResult{}, fmt.Errorf("storage: scan result: %w", err)
	}
	r.Status = model.ResultStatus(status)
	return r, nil
}
