// Package storagetest holds behavior tests every storage.Store backend must
// pass. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/storage"
)

// Factory returns an empty, migrated store. It is called once per subtest.
type Factory func(t *testing.T) storage.Store

// Run executes the shared store behavior tests against newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"EnsureConfigSeedsOnce", testEnsureConfigSeedsOnce},
		{"CommitConfigAppendsHistory", testCommitConfigAppendsHistory},
		{"CommitConfigRejectsStaleVersion", testCommitConfigRejectsStaleVersion},
		{"CommitConfigPropagatesCallbackError", testCommitConfigPropagatesCallbackError},
		{"RenameConfigVersion", testRenameConfigVersion},
		{"TestCaseLifecycle", testTestCaseLifecycle},
		{"DeleteRemovesOnlyOwnResults", testDeleteRemovesOnlyOwnResults},
		{"PurgeCascades", testPurgeCascades},
		{"SaveResultKeepsProvenance", testSaveResultKeepsProvenance},
		{"SaveResultRequiresActiveTestCase", testSaveResultRequiresActiveTestCase},
		{"LatestResults", testLatestResults},
		{"ChangelogCursor", testChangelogCursor},
		{"ChangelogCursorUnderConcurrentAppends", testChangelogCursorUnderConcurrentAppends},
		{"TruncateChangelog", testTruncateChangelog},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// now returns a timestamp both backends round-trip exactly.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func seedConfig(t *testing.T, s storage.Store) model.EnhancerConfig {
	t.Helper()
	cfg, err := s.EnsureConfig(context.Background(), model.EnhancerConfig{
		ID:           model.ConfigID,
		SystemPrompt: "Describe the scene vividly.",
		Model:        "claude-sonnet-4-5",
		ImageModel:   "gpt-image-1",
		Version:      1,
		VersionName:  model.DefaultVersionName(1),
		UpdatedAt:    now(),
	})
	require.NoError(t, err)
	return cfg
}

func bump(prompt string) func(model.EnhancerConfig) (model.EnhancerConfig, error) {
	return func(cur model.EnhancerConfig) (model.EnhancerConfig, error) {
		next := cur
		next.SystemPrompt = prompt
		next.Version = cur.Version + 1
		next.VersionName = model.DefaultVersionName(next.Version)
		next.UpdatedAt = now()
		return next, nil
	}
}

func newTestCase(t *testing.T, s storage.Store, name string) model.TestCase {
	t.Helper()
	at := now()
	tc := model.TestCase{
		ID:        uuid.New(),
		Name:      name,
		InputText: "input for " + name,
		Status:    model.TestCaseActive,
		CreatedAt: at,
		UpdatedAt: at,
	}
	require.NoError(t, s.CreateTestCase(context.Background(), tc))
	return tc
}

func newResult(t *testing.T, s storage.Store, tc model.TestCase, started time.Time) model.TestResult {
	t.Helper()
	r := model.TestResult{
		ID:            uuid.New(),
		TestCaseID:    tc.ID,
		ConfigVersion: 1,
		Status:        model.ResultPending,
		RunStartedAt:  started,
	}
	require.NoError(t, s.SaveResult(context.Background(), r))
	return r
}

func testEnsureConfigSeedsOnce(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := seedConfig(t, s)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "v1", first.VersionName)

	again, err := s.EnsureConfig(ctx, model.EnhancerConfig{
		SystemPrompt: "other", Model: "m", ImageModel: "i", Version: 1, VersionName: "v1", UpdatedAt: now(),
	})
	require.NoError(t, err)
	assert.Equal(t, first.SystemPrompt, again.SystemPrompt, "existing config must not be overwritten")

	versions, err := s.ListConfigVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
}

func testCommitConfigAppendsHistory(t *testing.T, s storage.Store) {
	ctx := context.Background()
	seedConfig(t, s)

	v2, err := s.CommitConfig(ctx, bump("second"))
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	v3, err := s.CommitConfig(ctx, bump("third"))
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)

	cur, err := s.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "third", cur.SystemPrompt)
	assert.Equal(t, 3, cur.Version)

	versions, err := s.ListConfigVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{versions[0].Version, versions[1].Version, versions[2].Version})

	snap, err := s.GetConfigVersion(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "second", snap.SystemPrompt)

	_, err = s.GetConfigVersion(ctx, 99)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testCommitConfigRejectsStaleVersion(t *testing.T, s storage.Store) {
	ctx := context.Background()
	seedConfig(t, s)

	_, err := s.CommitConfig(ctx, func(cur model.EnhancerConfig) (model.EnhancerConfig, error) {
		return cur, nil
	})
	require.Error(t, err)

	versions, err := s.ListConfigVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func testCommitConfigPropagatesCallbackError(t *testing.T, s storage.Store) {
	ctx := context.Background()
	seedConfig(t, s)
	boom := errors.New("boom")

	_, err := s.CommitConfig(ctx, func(model.EnhancerConfig) (model.EnhancerConfig, error) {
		return model.EnhancerConfig{}, boom
	})
	assert.ErrorIs(t, err, boom)

	cur, err := s.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Version)
}

func testRenameConfigVersion(t *testing.T, s storage.Store) {
	ctx := context.Background()
	seedConfig(t, s)
	_, err := s.CommitConfig(ctx, bump("second"))
	require.NoError(t, err)

	// Renaming a historical version leaves the current name alone.
	snap, cur, err := s.RenameConfigVersion(ctx, 1, "baseline")
	require.NoError(t, err)
	assert.Equal(t, "baseline", snap.VersionName)
	assert.Equal(t, "v2", cur.VersionName)

	// Renaming the current version mirrors onto the current config.
	snap, cur, err = s.RenameConfigVersion(ctx, 2, "punchier")
	require.NoError(t, err)
	assert.Equal(t, "punchier", snap.VersionName)
	assert.Equal(t, "punchier", cur.VersionName)
	assert.Equal(t, "second", cur.SystemPrompt)

	_, _, err = s.RenameConfigVersion(ctx, 42, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testTestCaseLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := newTestCase(t, s, "alpha")
	b := newTestCase(t, s, "beta")

	got, err := s.GetTestCase(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, model.TestCaseActive, got.Status)
	assert.Nil(t, got.DeletedAt)

	a.Name = "alpha-2"
	a.UpdatedAt = now()
	require.NoError(t, s.UpdateTestCase(ctx, a))
	got, err = s.GetTestCase(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha-2", got.Name)

	deleted, err := s.DeleteTestCase(ctx, b.ID, now())
	require.NoError(t, err)
	assert.Equal(t, model.TestCaseDeleted, deleted.Status)
	require.NotNil(t, deleted.DeletedAt)

	_, err = s.DeleteTestCase(ctx, b.ID, now())
	assert.ErrorIs(t, err, storage.ErrNotActive)
	assert.ErrorIs(t, s.UpdateTestCase(ctx, b), storage.ErrNotFound)

	active, err := s.ListTestCases(ctx, model.TestCaseActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	gone, err := s.ListTestCases(ctx, model.TestCaseDeleted)
	require.NoError(t, err)
	require.Len(t, gone, 1)
	assert.Equal(t, b.ID, gone[0].ID)

	all, err := s.ListTestCases(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	restored, err := s.RestoreTestCase(ctx, b.ID, now())
	require.NoError(t, err)
	assert.Equal(t, model.TestCaseActive, restored.Status)
	assert.Nil(t, restored.DeletedAt)

	_, err = s.RestoreTestCase(ctx, b.ID, now())
	assert.ErrorIs(t, err, storage.ErrNotActive)
	_, err = s.DeleteTestCase(ctx, uuid.New(), now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetTestCase(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDeleteRemovesOnlyOwnResults(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := newTestCase(t, s, "a")
	b := newTestCase(t, s, "b")
	start := now()
	newResult(t, s, a, start)
	newResult(t, s, a, start.Add(time.Second))
	kept := newResult(t, s, b, start)

	_, err := s.DeleteTestCase(ctx, a.ID, now())
	require.NoError(t, err)

	_, err = s.LatestResult(ctx, a.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	history, err := s.ListResults(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	latest, err := s.LatestResult(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, kept.ID, latest.ID)

	n, err := s.DeleteResultsForTestCase(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testPurgeCascades(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tc := newTestCase(t, s, "doomed")
	r := newResult(t, s, tc, now())
	img := model.Image{ID: uuid.New(), ResultID: r.ID, MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}, CreatedAt: now()}
	require.NoError(t, s.SaveImage(ctx, img))

	got, err := s.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, img.Data, got.Data)
	assert.Equal(t, "image/png", got.MIMEType)

	require.NoError(t, s.PurgeTestCase(ctx, tc.ID))

	_, err = s.GetTestCase(ctx, tc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetResult(ctx, r.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetImage(ctx, img.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.PurgeTestCase(ctx, tc.ID), storage.ErrNotFound)
}

func testSaveResultKeepsProvenance(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tc := newTestCase(t, s, "provenance")
	r := newResult(t, s, tc, now())

	imageID := uuid.New()
	done := now()
	r.Status = model.ResultComplete
	r.EnhancedPrompt = "a vivid scene"
	r.GeneratedImageID = &imageID
	r.RunCompletedAt = &done
	r.ConfigVersion = 7 // must not be persisted
	require.NoError(t, s.SaveResult(ctx, r))

	got, err := s.GetResult(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResultComplete, got.Status)
	assert.Equal(t, "a vivid scene", got.EnhancedPrompt)
	require.NotNil(t, got.GeneratedImageID)
	assert.Equal(t, imageID, *got.GeneratedImageID)
	require.NotNil(t, got.RunCompletedAt)
	assert.True(t, done.Equal(*got.RunCompletedAt))
	assert.Equal(t, 1, got.ConfigVersion)
}

func testSaveResultRequiresActiveTestCase(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tc := newTestCase(t, s, "gone mid-run")
	r := newResult(t, s, tc, now())

	_, err := s.DeleteTestCase(ctx, tc.ID, now())
	require.NoError(t, err)

	r.Status = model.ResultComplete
	r.EnhancedPrompt = "late write"
	assert.ErrorIs(t, s.SaveResult(ctx, r), storage.ErrNotActive)

	fresh := model.TestResult{
		ID: uuid.New(), TestCaseID: tc.ID, ConfigVersion: 1,
		Status: model.ResultPending, RunStartedAt: now(),
	}
	assert.ErrorIs(t, s.SaveResult(ctx, fresh), storage.ErrNotActive)

	_, err = s.GetResult(ctx, r.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.RestoreTestCase(ctx, tc.ID, now())
	require.NoError(t, err)
	_, err = s.LatestResult(ctx, tc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "a restored test case starts with no results")
	history, err := s.ListResults(ctx, tc.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func testLatestResults(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := newTestCase(t, s, "a")
	b := newTestCase(t, s, "b")
	c := newTestCase(t, s, "c")
	start := now()
	newResult(t, s, a, start)
	newestA := newResult(t, s, a, start.Add(time.Minute))
	newestB := newResult(t, s, b, start)
	newResult(t, s, c, start)
	_, err := s.DeleteTestCase(ctx, c.ID, now())
	require.NoError(t, err)

	latest, err := s.LatestResults(ctx)
	require.NoError(t, err)
	ids := make(map[uuid.UUID]uuid.UUID, len(latest))
	for _, r := range latest {
		ids[r.TestCaseID] = r.ID
	}
	assert.Equal(t, map[uuid.UUID]uuid.UUID{a.ID: newestA.ID, b.ID: newestB.ID}, ids)

	history, err := s.ListResults(ctx, a.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, newestA.ID, history[0].ID)
}

func appendEntries(t *testing.T, s storage.Store, n int) []model.ChangelogEntry {
	t.Helper()
	entries := make([]model.ChangelogEntry, n)
	for i := range entries {
		entries[i] = model.ChangelogEntry{
			ID:        uuid.New(),
			Timestamp: now(),
			Source:    model.SourceAgent,
			Action:    model.ActionTestCaseCreated,
			Summary:   fmt.Sprintf("entry %d", i),
			Details:   map[string]any{"index": float64(i)},
		}
		require.NoError(t, s.AppendChangelog(context.Background(), entries[i]))
	}
	return entries
}

func testChangelogCursor(t *testing.T, s storage.Store) {
	ctx := context.Background()

	latest, err := s.LatestChangelogID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, latest)

	entries := appendEntries(t, s, 3)

	all, err := s.ListChangelog(ctx, 0)
	require.NoError(t, err)
	if diff := cmp.Diff(entries, all); diff != "" {
		t.Errorf("ListChangelog(0) mismatch (-want +got):\n%s", diff)
	}

	seq, err := s.ChangelogSeq(ctx, entries[0].ID)
	require.NoError(t, err)
	after, err := s.ListChangelog(ctx, seq)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, entries[1].ID, after[0].ID)

	_, err = s.ChangelogSeq(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	latest, err = s.LatestChangelogID(ctx)
	require.NoError(t, err)
	assert.Equal(t, entries[2].ID, latest)
}

// A reader paging by cursor while writers append must see every entry
// exactly once.
func testChangelogCursorUnderConcurrentAppends(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const writers, perWriter = 4, 10

	seen := make(map[uuid.UUID]int)
	var cursor int64
	poll := func() error {
		page, err := s.ListChangelog(ctx, cursor)
		if err != nil {
			return err
		}
		for _, e := range page {
			seen[e.ID]++
		}
		if len(page) > 0 {
			cursor, err = s.ChangelogSeq(ctx, page[len(page)-1].ID)
		}
		return err
	}

	var g errgroup.Group
	for w := range writers {
		g.Go(func() error {
			for i := range perWriter {
				err := s.AppendChangelog(ctx, model.ChangelogEntry{
					ID:        uuid.New(),
					Timestamp: now(),
					Source:    model.SourceUI,
					Action:    model.ActionTestCaseCreated,
					Summary:   fmt.Sprintf("writer %d entry %d", w, i),
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var writeErr error
polling:
	for {
		select {
		case writeErr = <-done:
			break polling
		default:
			require.NoError(t, poll())
		}
	}
	require.NoError(t, writeErr)
	require.NoError(t, poll())

	assert.Len(t, seen, writers*perWriter)
	for id, n := range seen {
		assert.Equal(t, 1, n, "entry %s seen %d times", id, n)
	}
}

func testTruncateChangelog(t *testing.T, s storage.Store) {
	ctx := context.Background()
	entries := appendEntries(t, s, 5)

	n, err := s.TruncateChangelog(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	left, err := s.ListChangelog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, entries[3].ID, left[0].ID)
	assert.Equal(t, entries[4].ID, left[1].ID)

	n, err = s.TruncateChangelog(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	latest, err := s.LatestChangelogID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, latest)
}
