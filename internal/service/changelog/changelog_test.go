package changelog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/promptlab/internal/eventbus"
	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/testutil"
)

func newService(t *testing.T) (*Service, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(testutil.DiscardLogger())
	return New(testutil.NewSQLiteStore(t), bus, testutil.DiscardLogger()), bus
}

func appendN(t *testing.T, s *Service, n int) []model.ChangelogEntry {
	t.Helper()
	out := make([]model.ChangelogEntry, n)
	for i := range out {
		e, err := s.Append(context.Background(), model.SourceUI, model.ActionTestCaseCreated, "created", nil)
		require.NoError(t, err)
		out[i] = e
	}
	return out
}

func TestAppendEmits(t *testing.T) {
	s, bus := newService(t)
	var got []eventbus.Event
	bus.Subscribe(func(ev eventbus.Event) error {
		got = append(got, ev)
		return nil
	})

	e, err := s.Append(context.Background(), model.SourceAgent, model.ActionConfigUpdated, "Updated config to v2", map[string]any{"version": 2})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, model.SourceAgent, e.Source)

	require.Len(t, got, 2)
	assert.Equal(t, eventbus.ChangelogEntryAdded{Entry: e}, got[1])
}

func TestEntriesCursor(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	empty, err := s.Entries(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)

	entries := appendN(t, s, 3)

	all, err := s.Entries(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	after, err := s.Entries(ctx, entries[0].ID.String())
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, entries[1].ID, after[0].ID)
	assert.Equal(t, entries[2].ID, after[1].ID)

	none, err := s.Entries(ctx, entries[2].ID.String())
	require.NoError(t, err)
	assert.Empty(t, none)

	unknown, err := s.Entries(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Len(t, unknown, 3)

	malformed, err := s.Entries(ctx, "not-a-uuid")
	require.NoError(t, err)
	assert.Len(t, malformed, 3)
}

func TestTruncateAndLatestID(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	latest, err := s.LatestID(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	entries := appendN(t, s, 4)
	latest, err = s.LatestID(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, entries[3].ID, *latest)

	n, err := s.Truncate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// A trimmed cursor is unknown, so the reader gets everything left.
	left, err := s.Entries(ctx, entries[0].ID.String())
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, entries[3].ID, left[0].ID)

	_, err = s.Truncate(ctx, -1)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)

	n, err = s.Truncate(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRunTrimmerStopsOnCancel(t *testing.T) {
	s, _ := newService(t)
	appendN(t, s, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunTrimmer(ctx, 10*time.Millisecond, 2)
		close(done)
	}()

	require.Eventually(t, func() bool {
		all, err := s.Entries(context.Background(), "")
		return err == nil && len(all) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("trimmer did not stop")
	}
}
