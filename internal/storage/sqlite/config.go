package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashita-ai/promptlab/internal/model"
)

const configColumns = `id, system_prompt, model, image_model, version, version_name, updated_at`

const versionColumns = `version, version_name, system_prompt, model, image_model, saved_at`

// EnsureConfig seeds the singleton config and its first snapshot if absent.
func (s *Store) EnsureConfig(ctx context.Context, seed model.EnhancerConfig) (model.EnhancerConfig, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.EnhancerConfig{}, fmt.Errorf("sqlite: begin ensure config: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO enhancer_config (`+configColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		model.ConfigID, seed.SystemPrompt, seed.Model, seed.ImageModel,
		seed.Version, seed.VersionName, formatTime(seed.UpdatedAt),
	)
	if err != nil {
		return model.EnhancerConfig{}, fmt.Errorf("sqlite: seed config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		if err := insertVersion(ctx, tx, seed.Snapshot()); err != nil {
			return model.EnhancerConfig{}, err
		}
		s.logger.Info("sqlite: seeded enhancer config", "version", seed.Version)
	}
	cfg, err := scanConfig(tx.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM enhancer_config WHERE id = ?`, model.ConfigID))
	if err != nil {
		return model.EnhancerConfig{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.EnhancerConfig{}, fmt.Errorf("sqlite: commit ensure config: %w", err)
	}
	return cfg, nil
}

// GetConfig returns the current enhancer config.
func (s *Store) GetConfig(ctx context.Context) (model.EnhancerConfig, error) {
	return scanConfig(s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM enhancer_config WHERE id = ?`, model.ConfigID))
}

// CommitConfig reads the current config, applies next and writes the result
// as current plus a new snapshot, all inside one transaction.
func (s *Store) CommitConfig(ctx context.Context, next func(current model.EnhancerConfig) (model.EnhancerConfig, error)) (model.EnhancerConfig, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.EnhancerConfig{}, fmt.Errorf("sqlite: begin config commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanConfig(tx.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM enhancer_config WHERE id = ?`, model.ConfigID))
	if err != nil {
		return model.EnhancerConfig{}, err
	}
	updated, err := next(current)
	if err != nil {
		return model.EnhancerConfig{}, err
	}
	if updated.Version <= current.Version {
		return model.EnhancerConfig{}, fmt.Errorf("sqlite: config version must increase (current %d, got %d)", current.Version, updated.Version)
	}
	updated.ID = model.ConfigID

	if _, err := tx.ExecContext(ctx,
		`UPDATE enhancer_config
		 SET system_prompt = ?, model = ?, image_model = ?, version = ?, version_name = ?, updated_at = ?
		 WHERE id = ?`,
		updated.SystemPrompt, updated.Model, updated.ImageModel,
		updated.Version, updated.VersionName, formatTime(updated.UpdatedAt), updated.ID,
	); err != nil {
		return model.EnhancerConfig{}, fmt.Errorf("sqlite: update config: %w", err)
	}
	if err := insertVersion(ctx, tx, updated.Snapshot()); err != nil {
		return model.EnhancerConfig{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.EnhancerConfig{}, fmt.Errorf("sqlite: commit config: %w", err)
	}
	return updated, nil
}

// ListConfigVersions returns every snapshot, newest first.
func (s *Store) ListConfigVersions(ctx context.Context) ([]model.ConfigVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM config_versions ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list config versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []model.ConfigVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// GetConfigVersion returns a single snapshot.
func (s *Store) GetConfigVersion(ctx context.Context, version int) (model.ConfigVersion, error) {
	return scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM config_versions WHERE version = ?`, version))
}

// RenameConfigVersion relabels a snapshot, and the current config when the
// version is current.
func (s *Store) RenameConfigVersion(ctx context.Context, version int, name string) (model.ConfigVersion, model.EnhancerConfig, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ConfigVersion{}, model.EnhancerConfig{}, fmt.Errorf("sqlite: begin rename version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	renamed, err := scanVersion(tx.QueryRowContext(ctx,
		`UPDATE config_versions SET version_name = ? WHERE version = ? RETURNING `+versionColumns,
		name, version))
	if err != nil {
		return model.ConfigVersion{}, model.EnhancerConfig{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE enhancer_config SET version_name = ? WHERE id = ? AND version = ?`,
		name, model.ConfigID, version,
	); err != nil {
		return model.ConfigVersion{}, model.EnhancerConfig{}, fmt.Errorf("sqlite: rename current config: %w", err)
	}
	current, err := scanConfig(tx.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM enhancer_config WHERE id = ?`, model.ConfigID))
	if err != nil {
		return model.ConfigVersion{}, model.EnhancerConfig{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.ConfigVersion{}, model.EnhancerConfig{}, fmt.Errorf("sqlite: commit rename version: %w", err)
	}
	return renamed, current, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, v model.ConfigVersion) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO config_versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		v.Version, v.VersionName, v.SystemPrompt, v.Model, v.ImageModel, formatTime(v.SavedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert config version %d: %w", v.Version, err)
	}
	return nil
}

func scanConfig(row scanner) (model.EnhancerConfig, error) {
	var c model.EnhancerConfig
	var updated string
	if err := row.Scan(&c.ID, &c.SystemPrompt, &c.Model, &c.ImageModel, &c.Version, &c.VersionName, &updated); err != nil {
		return model.EnhancerConfig{}, notFound(err, "config")
	}
	t, err := parseTime(updated)
	if err != nil {
		return model.EnhancerConfig{}, err
	}
	c.UpdatedAt = t
	return c, nil
}

func scanVersion(row scanner) (model.ConfigVersion, error) {
	var v model.ConfigVersion
	var saved string
	if err := row.Scan(&v.Version, &v.VersionName, &v.SystemPrompt, &v.Model, &v.ImageModel, &saved); err != nil {
		return model.ConfigVersion{}, notFound(err, "config version")
	}
	t, err := parseTime(saved)
	if err != nil {
		return model.ConfigVersion{}, err
	}
	v.SavedAt = t
	return v, nil
}
