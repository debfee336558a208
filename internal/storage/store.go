package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/promptlab/internal/model"
)

// Store is the persistence contract shared by the Postgres and SQLite
// backends. Writes are last-writer-wins per key; multi-row changes that must
// be observed together (config commits, deletes with cascades) run in a
// single transaction.
type Store interface {
	// Backend names the implementation ("postgres", "sqlite").
	Backend() string
	Ping(ctx context.Context) error

	// EnsureConfig seeds the singleton config and its first snapshot when
	// none exists, and returns the current config either way.
	EnsureConfig(ctx context.Context, seed model.EnhancerConfig) (model.EnhancerConfig, error)
	GetConfig(ctx context.Context) (model.EnhancerConfig, error)
	// CommitConfig locks the current config, passes it to next, and writes
	// the returned config both as current and as a new history snapshot.
	CommitConfig(ctx context.Context, next func(current model.EnhancerConfig) (model.EnhancerConfig, error)) (model.EnhancerConfig, error)
	ListConfigVersions(ctx context.Context) ([]model.ConfigVersion, error)
	GetConfigVersion(ctx context.Context, version int) (model.ConfigVersion, error)
	// RenameConfigVersion changes a snapshot's display name, mirroring it
	// onto the current config when the version is current.
	RenameConfigVersion(ctx context.Context, version int, name string) (model.ConfigVersion, model.EnhancerConfig, error)

	CreateTestCase(ctx context.Context, tc model.TestCase) error
	GetTestCase(ctx context.Context, id uuid.UUID) (model.TestCase, error)
	ListTestCases(ctx context.Context, status model.TestCaseStatus) ([]model.TestCase, error)
	UpdateTestCase(ctx context.Context, tc model.TestCase) error
	// DeleteTestCase gravestones an active test case and removes its results.
	DeleteTestCase(ctx context.Context, id uuid.UUID, at time.Time) (model.TestCase, error)
	RestoreTestCase(ctx context.Context, id uuid.UUID, at time.Time) (model.TestCase, error)
	// PurgeTestCase removes the row and everything hanging off it.
	PurgeTestCase(ctx context.Context, id uuid.UUID) error

	// SaveResult upserts by run id. Provenance columns (test case, config
	// version, start time) are written once and never overwritten.
	SaveResult(ctx context.Context, r model.TestResult) error
	GetResult(ctx context.Context, id uuid.UUID) (model.TestResult, error)
	LatestResult(ctx context.Context, testCaseID uuid.UUID) (model.TestResult, error)
	// LatestResults returns the newest result of every active test case.
	LatestResults(ctx context.Context) ([]model.TestResult, error)
	ListResults(ctx context.Context, testCaseID uuid.UUID, limit int) ([]model.TestResult, error)
	DeleteResultsForTestCase(ctx context.Context, testCaseID uuid.UUID) (int64, error)

	SaveImage(ctx context.Context, img model.Image) error
	GetImage(ctx context.Context, id uuid.UUID) (model.Image, error)

	AppendChangelog(ctx context.Context, e model.ChangelogEntry) error
	// ChangelogSeq resolves a cursor id to its position in the log.
	ChangelogSeq(ctx context.Context, id uuid.UUID) (int64, error)
	// ListChangelog returns entries with position > afterSeq in append order.
	ListChangelog(ctx context.Context, afterSeq int64) ([]model.ChangelogEntry, error)
	TruncateChangelog(ctx context.Context, keep int) (int64, error)
	LatestChangelogID(ctx context.Context) (uuid.UUID, error)

	Close(ctx context.Context)
}

var _ Store = (*DB)(nil)
