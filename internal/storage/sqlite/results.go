package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/storage"
)

const resultColumns = `id, test_case_id, config_version, status, enhanced_prompt,
	generated_image_id, image_error, run_started_at, run_completed_at`

// SaveResult inserts a result or advances an existing one. Provenance
// columns are only written on insert. Nothing is written unless the test
// case is active, in which case storage.ErrNotActive is returned. SQLite
// serializes writers, so the check and the write are atomic.
func (s *Store) SaveResult(ctx context.Context, r model.TestResult) error {
	var imageID sql.NullString
	if r.GeneratedImageID != nil {
		imageID = sql.NullString{String: r.GeneratedImageID.String(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO test_results (`+resultColumns+`)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM test_cases WHERE id = ? AND status = 'active')
		 ON CONFLICT (id) DO UPDATE SET
		     status = excluded.status,
		     enhanced_prompt = excluded.enhanced_prompt,
		     generated_image_id = excluded.generated_image_id,
		     image_error = excluded.image_error,
		     run_completed_at = excluded.run_completed_at`,
		r.ID.String(), r.TestCaseID.String(), r.ConfigVersion, string(r.Status), r.EnhancedPrompt,
		imageID, r.ImageError, formatTime(r.RunStartedAt), formatNullTime(r.RunCompletedAt),
		r.TestCaseID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: save result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: save result for test case %s: %w", r.TestCaseID, storage.ErrNotActive)
	}
	return nil
}

// GetResult returns a result by run id.
func (s *Store) GetResult(ctx context.Context, id uuid.UUID) (model.TestResult, error) {
	return scanResult(s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM test_results WHERE id = ?`, id.String()))
}

// activeResultColumns qualifies resultColumns for queries joining test_cases.
const activeResultColumns = `r.id, r.test_case_id, r.config_version, r.status, r.enhanced_prompt,
	r.generated_image_id, r.image_error, r.run_started_at, r.run_completed_at`

// LatestResult returns the most recently started run of an active test case.
func (s *Store) LatestResult(ctx context.Context, testCaseID uuid.UUID) (model.TestResult, error) {
	return scanResult(s.db.QueryRowContext(ctx,
		`SELECT `+activeResultColumns+` FROM test_results r
		 JOIN test_cases tc ON tc.id = r.test_case_id AND tc.status = 'active'
		 WHERE r.test_case_id = ?
		 ORDER BY r.run_started_at DESC, r.id DESC
		 LIMIT 1`, testCaseID.String()))
}

// LatestResults returns the newest result of every active test case.
func (s *Store) LatestResults(ctx context.Context) ([]model.TestResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+activeResultColumns+`
		 FROM test_results r
		 JOIN test_cases tc ON tc.id = r.test_case_id
		 WHERE tc.status = 'active'
		   AND r.id = (
		       SELECT r2.id FROM test_results r2
		       WHERE r2.test_case_id = r.test_case_id
		       ORDER BY r2.run_started_at DESC, r2.id DESC
		       LIMIT 1)
		 ORDER BY tc.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: latest results: %w", err)
	}
	return collectResults(rows)
}

// ListResults returns a test case's run history, newest first. limit <= 0
// means no limit. Gravestoned test cases have no history.
func (s *Store) ListResults(ctx context.Context, testCaseID uuid.UUID, limit int) ([]model.TestResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+activeResultColumns+` FROM test_results r
		 JOIN test_cases tc ON tc.id = r.test_case_id AND tc.status = 'active'
		 WHERE r.test_case_id = ?
		 ORDER BY r.run_started_at DESC, r.id DESC
		 LIMIT ?`, testCaseID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list results: %w", err)
	}
	return collectResults(rows)
}

// DeleteResultsForTestCase removes every result of a test case.
func (s *Store) DeleteResultsForTestCase(ctx context.Context, testCaseID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM test_results WHERE test_case_id = ?`, testCaseID.String())
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete results: %w", err)
	}
	return res.RowsAffected()
}

// SaveImage stores generated image bytes for a result.
func (s *Store) SaveImage(ctx context.Context, img model.Image) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO images (id, result_id, mime_type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		img.ID.String(), img.ResultID.String(), img.MIMEType, img.Data, formatTime(img.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save image: %w", err)
	}
	return nil
}

// GetImage returns an image with its bytes.
func (s *Store) GetImage(ctx context.Context, id uuid.UUID) (model.Image, error) {
	var img model.Image
	var imgID, resultID, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, result_id, mime_type, data, created_at FROM images WHERE id = ?`, id.String(),
	).Scan(&imgID, &resultID, &img.MIMEType, &img.Data, &created)
	if err != nil {
		return model.Image{}, notFound(err, "image")
	}
	if img.ID, err = uuid.Parse(imgID); err != nil {
		return model.Image{}, fmt.Errorf("sqlite: parse image id: %w", err)
	}
	if img.ResultID, err = uuid.Parse(resultID); err != nil {
		return model.Image{}, fmt.Errorf("sqlite: parse image result id: %w", err)
	}
	if img.CreatedAt, err = parseTime(created); err != nil {
		return model.Image{}, err
	}
	return img, nil
}

func collectResults(rows *sql.Rows) ([]model.TestResult, error) {
	defer func() { _ = rows.Close() }()
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

func scanResult(row scanner) (model.TestResult, error) {
	var (
		r                  model.TestResult
		id, caseID, status string
		imageID, completed sql.NullString
		started            string
	)
	if err := row.Scan(&id, &caseID, &r.ConfigVersion, &status, &r.EnhancedPrompt,
		&imageID, &r.ImageError, &started, &completed); err != nil {
		return model.TestResult{}, notFound(err, "result")
	}
	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return model.TestResult{}, fmt.Errorf("sqlite: parse result id: %w", err)
	}
	if r.TestCaseID, err = uuid.Parse(caseID); err != nil {
		return model.TestResult{}, fmt.Errorf("sqlite: parse result test case id: %w", err)
	}
	r.Status = model.ResultStatus(status)
	if imageID.Valid {
		imgID, err := uuid.Parse(imageID.String)
		if err != nil {
			return model.TestResult{}, fmt.Errorf("sqlite: parse generated image id: %w", err)
		}
		r.GeneratedImageID = &imgID
	}
	if r.RunStartedAt, err = parseTime(started); err != nil {
		return model.TestResult{}, err
	}
	if r.RunCompletedAt, err = parseNullTime(completed); err != nil {
		return model.TestResult{}, err
	}
	return r, nil
}
