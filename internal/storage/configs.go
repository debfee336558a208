package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/promptlab/internal/model"
)

const configColumns = `id, system_prompt, model, image_model, version, version_name, updated_at`

const versionColumns = `version, version_name, system_prompt, model, image_model, saved_at`

// EnsureConfig inserts seed as version 1 (with its snapshot) when no config
// row exists yet, then returns the current config.
func (db *DB) EnsureConfig(ctx context.Context, seed model.EnhancerConfig) (model.EnhancerConfig, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.EnhancerConfig{}, fmt.Errorf("storage: begin ensure config: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO enhancer_config (`+configColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		model.ConfigID, seed.SystemPrompt, seed.Model, seed.ImageModel,
		seed.Version, seed.VersionName, seed.UpdatedAt,
	)
	if err != nil {
		return model.EnhancerConfig{}, fmt.Errorf("storage: seed config: %w", err)
	}
	if tag.RowsAffected() == 1 {
		if err := insertVersion(ctx, tx, seed.Snapshot()); err != nil {
			return model.EnhancerConfig{}, err
		}
		db.logger.Info("storage: seeded enhancer config", "version", seed.Version)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.EnhancerConfig{}, fmt.Errorf("storage: commit ensure config: %w", err)
	}
	return db.GetConfig(ctx)
}

// GetConfig returns the current enhancer config.
func (db *DB) GetConfig(ctx context.Context) (model.EnhancerConfig, error) {
	return scanConfig(db.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM enhancer_config WHERE id = $1`, model.ConfigID))
}

// CommitConfig writes a new config version and its snapshot atomically.
// The current row is locked for the duration so concurrent commits serialize
// and each sees the version the previous one wrote.
func (db *DB) CommitConfig(ctx context.Context, next func(current model.EnhancerConfig) (model.EnhancerConfig, error)) (model.EnhancerConfig, error) {
	var committed model.EnhancerConfig
	err := WithRetry(ctx, commitRetries, commitRetryBase, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin config commit: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		current, err := scanConfig(tx.QueryRow(ctx,
			`SELECT `+configColumns+` FROM enhancer_config WHERE id = $1 FOR UPDATE`, model.ConfigID))
		if err != nil {
			return err
		}

		updated, err := next(current)
		if err != nil {
			return err
		}
		if updated.Version <= current.Version {
			return fmt.Errorf("storage: config version must increase (current %d, got %d)", current.Version, updated.Version)
		}
		updated.ID = model.ConfigID

		if _, err := tx.Exec(ctx,
			`UPDATE enhancer_config
			 SET system_prompt = $2, model = $3, image_model = $4, version = $5, version_name = $6, updated_at = $7
			 WHERE id = $1`,
			updated.ID, updated.SystemPrompt, updated.Model, updated.ImageModel,
			updated.Version, updated.VersionName, updated.UpdatedAt,
		); err != nil {
			return fmt.Errorf("storage: update config: %w", err)
		}
		if err := insertVersion(ctx, tx, updated.Snapshot()); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit config: %w", err)
		}
		committed = updated
		return nil
	})
	if err != nil {
		return model.EnhancerConfig{}, err
	}
	return committed, nil
}

// ListConfigVersions returns every snapshot, newest first.
func (db *DB) ListConfigVersions(ctx context.Context) ([]model.ConfigVersion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM config_versions ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list config versions: %w", err)
	}
	defer rows.Close()

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
func (db *DB) GetConfigVersion(ctx context.Context, version int) (model.ConfigVersion, error) {
	return scanVersion(db.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM config_versions WHERE version = $1`, version))
}

// RenameConfigVersion updates a snapshot's display name and, when that
// version is current, the current config's name too. Content is untouched.
func (db *DB) RenameConfigVersion(ctx context.Context, version int, name string) (model.ConfigVersion, model.EnhancerConfig, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.ConfigVersion{}, model.EnhancerConfig{}, fmt.Errorf("storage: begin rename version: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	renamed, err := scanVersion(tx.QueryRow(ctx,
		`UPDATE config_versions SET version_name = $2 WHERE version = $1 RETURNING `+versionColumns,
		version, name))
	if err != nil {
		return model.ConfigVersion{}, model.EnhancerConfig{}, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE enhancer_config SET version_name = $2 WHERE id = $3 AND version = $1`,
		version, name, model.ConfigID,
	); err != nil {
		return model.ConfigVersion{}, model.EnhancerConfig{}, fmt.Errorf("storage: rename current config: %w", err)
	}
	current, err := scanConfig(tx.QueryRow(ctx,
		`SELECT `+configColumns+` FROM enhancer_config WHERE id = $1`, model.ConfigID))
	if err != nil {
		return model.ConfigVersion{}, model.EnhancerConfig{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.ConfigVersion{}, model.EnhancerConfig{}, fmt.Errorf("storage: commit rename version: %w", err)
	}
	return renamed, current, nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, v model.ConfigVersion) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO config_versions (`+versionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		v.Version, v.VersionName, v.SystemPrompt, v.Model, v.ImageModel, v.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert config version %d: %w", v.Version, err)
	}
	return nil
}

func scanConfig(row pgx.Row) (model.EnhancerConfig, error) {
	var c model.EnhancerConfig
	err := row.Scan(&c.ID, &c.SystemPrompt, &c.Model, &c.ImageModel, &c.Version, &c.VersionName, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EnhancerConfig{}, fmt.Errorf("storage: config: %w", ErrNotFound)
		}
		return model.EnhancerConfig{}, fmt.Errorf("storage: scan config: %w", err)
	}
	return c, nil
}

func scanVersion(row pgx.Row) (model.ConfigVersion, error) {
	var v model.ConfigVersion
	err := row.Scan(&v.Version, &v.VersionName, &v.SystemPrompt, &v.Model, &v.ImageModel, &v.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConfigVersion{}, fmt.Errorf("storage: config version: %w", ErrNotFound)
		}
		return model.ConfigVersion{}, fmt.Errorf("storage: scan config version: %w", err)
	}
	return v, nil
}
