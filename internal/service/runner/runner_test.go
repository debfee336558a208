package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/promptlab/internal/eventbus"
	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/service/generation"
	"github.com/ashita-ai/promptlab/internal/storage"
	"github.com/ashita-ai/promptlab/internal/testutil"
)

// fakeProvider fails stages for inputs/prompts containing marker strings and
// can run a hook while "enhancing".
type fakeProvider struct {
	onEnhance func(ctx context.Context) error
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Enhance(ctx context.Context, req generation.EnhanceRequest) (string, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		m := p.maxFlight.Load()
		if n <= m || p.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if p.onEnhance != nil {
		if err := p.onEnhance(ctx); err != nil {
			return "", err
		}
	}
	if strings.Contains(req.InputText, "FAIL_ENHANCE") {
		return "", errors.New("model overloaded")
	}
	return "enhanced: " + req.InputText, nil
}

func (p *fakeProvider) GenerateImage(_ context.Context, req generation.ImageRequest) (generation.Image, error) {
	if strings.Contains(req.Prompt, "FAIL_IMAGE") {
		return generation.Image{}, errors.New("content policy violation")
	}
	return generation.Image{Data: []byte("png:" + req.Prompt), MIMEType: "image/png"}, nil
}

type fixture struct {
	store    storage.Store
	bus      *eventbus.Bus
	provider *fakeProvider
	runner   *Service

	mu      sync.Mutex
	updates []model.TestResult
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	return newFixtureWithStore(t, testutil.NewSQLiteStore(t), opts)
}

func newFixtureWithStore(t *testing.T, store storage.Store, opts Options) *fixture {
	t.Helper()
	logger := testutil.DiscardLogger()
	f := &fixture{store: store, bus: eventbus.New(logger), provider: &fakeProvider{}}
	f.bus.Subscribe(func(ev eventbus.Event) error {
		if u, ok := ev.(eventbus.TestResultUpdated); ok {
			f.mu.Lock()
			f.updates = append(f.updates, u.Result)
			f.mu.Unlock()
		}
		return nil
	})
	f.runner = New(store, f.provider, f.bus, logger, opts)

	_, err := store.EnsureConfig(context.Background(), model.EnhancerConfig{
		ID: model.ConfigID, SystemPrompt: "Be vivid.", Model: "text-model", ImageModel: "image-model",
		Version: 1, VersionName: "v1", UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) addCase(t *testing.T, name, input string) model.TestCase {
	t.Helper()
	now := time.Now().UTC()
	tc := model.TestCase{ID: uuid.New(), Name: name, InputText: input, Status: model.TestCaseActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.store.CreateTestCase(context.Background(), tc))
	return tc
}

func (f *fixture) bumpConfig(t *testing.T) model.EnhancerConfig {
	t.Helper()
	cfg, err := f.store.CommitConfig(context.Background(), func(cur model.EnhancerConfig) (model.EnhancerConfig, error) {
		cur.Version++
		cur.VersionName = model.DefaultVersionName(cur.Version)
		cur.SystemPrompt += " More."
		return cur, nil
	})
	require.NoError(t, err)
	return cfg
}

func (f *fixture) statusesFor(runID uuid.UUID) []model.ResultStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ResultStatus
	for _, r := range f.updates {
		if r.ID == runID {
			out = append(out, r.Status)
		}
	}
	return out
}

func TestRunTestCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	tc := f.addCase(t, "sunset", "a sunset over the bay")

	r, err := f.runner.RunTest(ctx, tc.ID, model.SourceUI)
	require.NoError(t, err)
	assert.Equal(t, model.ResultComplete, r.Status)
	assert.Equal(t, "enhanced: a sunset over the bay", r.EnhancedPrompt)
	assert.Empty(t, r.ImageError)
	require.NotNil(t, r.GeneratedImageID)
	require.NotNil(t, r.RunCompletedAt)

	assert.Equal(t, []model.ResultStatus{
		model.ResultPending, model.ResultEnhancing, model.ResultGeneratingImage, model.ResultComplete,
	}, f.statusesFor(r.ID))

	img, err := f.runner.Image(ctx, *r.GeneratedImageID)
	require.NoError(t, err)
	assert.Equal(t, []byte("png:enhanced: a sunset over the bay"), img.Data)
	assert.Equal(t, r.ID, img.ResultID)

	stored, err := f.runner.Latest(ctx, tc.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, stored.ID)
	assert.False(t, stored.Outdated)
}

func TestRunTestEnhanceFailure(t *testing.T) {
	f := newFixture(t, Options{})
	tc := f.addCase(t, "bad", "FAIL_ENHANCE please")

	r, err := f.runner.RunTest(context.Background(), tc.ID, model.SourceUI)
	require.NoError(t, err, "provider failures are results, not errors")
	assert.Equal(t, model.ResultError, r.Status)
	assert.Empty(t, r.EnhancedPrompt)
	assert.Contains(t, r.ImageError, "model overloaded")
	assert.Nil(t, r.GeneratedImageID)
	require.NotNil(t, r.RunCompletedAt)
	assert.Equal(t, []model.ResultStatus{model.ResultPending, model.ResultEnhancing, model.ResultError}, f.statusesFor(r.ID))
}

func TestRunTestImageFailureKeepsEnhancedPrompt(t *testing.T) {
	f := newFixture(t, Options{})
	tc := f.addCase(t, "policy", "FAIL_IMAGE scene")

	r, err := f.runner.RunTest(context.Background(), tc.ID, model.SourceUI)
	require.NoError(t, err)
	assert.Equal(t, model.ResultError, r.Status)
	assert.Equal(t, "enhanced: FAIL_IMAGE scene", r.EnhancedPrompt)
	assert.Contains(t, r.ImageError, "content policy violation")
	assert.Equal(t, []model.ResultStatus{
		model.ResultPending, model.ResultEnhancing, model.ResultGeneratingImage, model.ResultError,
	}, f.statusesFor(r.ID))
}

func TestConfigVersionFixedAtRunStart(t *testing.T) {
	f := newFixture(t, Options{})
	tc := f.addCase(t, "race", "input")
	f.provider.onEnhance = func(context.Context) error {
		f.bumpConfig(t)
		return nil
	}

	r, err := f.runner.RunTest(context.Background(), tc.ID, model.SourceUI)
	require.NoError(t, err)
	assert.Equal(t, 1, r.ConfigVersion)

	f.mu.Lock()
	for _, u := range f.updates {
		assert.Equal(t, 1, u.ConfigVersion)
	}
	f.mu.Unlock()

	view, err := f.runner.Latest(context.Background(), tc.ID)
	require.NoError(t, err)
	assert.True(t, view.Outdated)
}

func TestMarketingSlideGoesStaleAfterConfigChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.bumpConfig(t)
	f.bumpConfig(t) // v3
	tc := f.addCase(t, "Marketing Slide", "Q3 revenue up 40%")

	r, err := f.runner.RunTest(ctx, tc.ID, model.SourceUI)
	require.NoError(t, err)
	assert.Equal(t, model.ResultComplete, r.Status)
	assert.Equal(t, 3, r.ConfigVersion)

	view, err := f.runner.Latest(ctx, tc.ID)
	require.NoError(t, err)
	assert.False(t, view.Outdated)

	f.bumpConfig(t) // v4
	view, err = f.runner.Latest(ctx, tc.ID)
	require.NoError(t, err)
	assert.True(t, view.Outdated)
	assert.Equal(t, 3, view.ConfigVersion)
	assert.Equal(t, model.ResultComplete, view.Status)
}

func TestRunAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	a := f.addCase(t, "a", "first")
	b := f.addCase(t, "b", "FAIL_IMAGE second")
	c := f.addCase(t, "c", "third")

	results, err := f.runner.RunAll(ctx, model.SourceAgent)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, []uuid.UUID{results[0].TestCaseID, results[1].TestCaseID, results[2].TestCaseID})
	assert.Equal(t, model.ResultComplete, results[0].Status)
	assert.Equal(t, model.ResultError, results[1].Status)
	assert.Equal(t, "enhanced: FAIL_IMAGE second", results[1].EnhancedPrompt)
	assert.Equal(t, model.ResultComplete, results[2].Status)
	for _, r := range results {
		assert.True(t, r.Status.Terminal())
	}

	latest, err := f.runner.LatestAll(ctx)
	require.NoError(t, err)
	assert.Len(t, latest, 3)
}

func TestRunAllRespectsConcurrencyLimit(t *testing.T) {
	f := newFixture(t, Options{MaxConcurrent: 2})
	for i := range 6 {
		f.addCase(t, "case", strings.Repeat("x", i+1))
	}
	f.provider.onEnhance = func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	results, err := f.runner.RunAll(context.Background(), model.SourceUI)
	require.NoError(t, err)
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, f.provider.maxFlight.Load(), int32(2))
}

func TestRunAllRunsConcurrentlyByDefault(t *testing.T) {
	const n = 4
	f := newFixture(t, Options{})
	for i := range n {
		f.addCase(t, "case", strings.Repeat("y", i+1))
	}
	var arrived sync.WaitGroup
	arrived.Add(n)
	release := make(chan struct{})
	go func() {
		arrived.Wait()
		close(release)
	}()
	f.provider.onEnhance = func(context.Context) error {
		arrived.Done()
		select {
		case <-release:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("runs did not overlap")
		}
	}

	results, err := f.runner.RunAll(context.Background(), model.SourceUI)
	require.NoError(t, err)
	require.Len(t, results, n)
	for _, r := range results {
		assert.Equal(t, model.ResultComplete, r.Status)
	}
	assert.Equal(t, int32(n), f.provider.maxFlight.Load())
}

func TestRunAllWithNoCases(t *testing.T) {
	f := newFixture(t, Options{})
	results, err := f.runner.RunAll(context.Background(), model.SourceUI)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunIsDetachedFromCallerCancellation(t *testing.T) {
	f := newFixture(t, Options{})
	tc := f.addCase(t, "detached", "input")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := f.runner.RunTest(ctx, tc.ID, model.SourceUI)
	require.NoError(t, err)
	assert.Equal(t, model.ResultComplete, r.Status)
}

func TestStageTimeoutIsAFailure(t *testing.T) {
	f := newFixture(t, Options{EnhanceTimeout: 20 * time.Millisecond})
	tc := f.addCase(t, "slow", "input")
	f.provider.onEnhance = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	r, err := f.runner.RunTest(context.Background(), tc.ID, model.SourceUI)
	require.NoError(t, err)
	assert.Equal(t, model.ResultError, r.Status)
	assert.Contains(t, r.ImageError, "timed out")
}

func TestRunTestUnknownOrDeletedCase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.runner.RunTest(ctx, uuid.New(), model.SourceUI)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	tc := f.addCase(t, "gone", "input")
	_, err = f.store.DeleteTestCase(ctx, tc.ID, time.Now().UTC())
	require.NoError(t, err)
	_, err = f.runner.RunTest(ctx, tc.ID, model.SourceUI)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// failingImages wraps a store so that image writes fail.
type failingImages struct {
	storage.Store
}

var errDiskFull = errors.New("disk full")

func (failingImages) SaveImage(context.Context, model.Image) error { return errDiskFull }

func TestStoreFailureIsReturnedAndRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithStore(t, failingImages{Store: testutil.NewSQLiteStore(t)}, Options{})
	tc := f.addCase(t, "disk", "input")

	r, err := f.runner.RunTest(ctx, tc.ID, model.SourceUI)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, model.ResultError, r.Status)

	stored, err := f.store.GetResult(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResultError, stored.Status)

	// RunAll reports the aborted run rather than failing as a whole.
	results, err := f.runner.RunAll(ctx, model.SourceUI)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, tc.ID, results[0].TestCaseID)
	assert.Equal(t, model.ResultError, results[0].Status)
	assert.Contains(t, results[0].ImageError, "internal error")
}

func TestDeleteDuringRunDiscardsResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	tc := f.addCase(t, "doomed", "input")
	f.provider.onEnhance = func(context.Context) error {
		_, err := f.store.DeleteTestCase(ctx, tc.ID, time.Now().UTC())
		return err
	}

	_, err := f.runner.RunTest(ctx, tc.ID, model.SourceUI)
	require.ErrorIs(t, err, storage.ErrNotActive)

	_, err = f.store.LatestResult(ctx, tc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	f.mu.Lock()
	for _, u := range f.updates {
		assert.Contains(t, []model.ResultStatus{model.ResultPending, model.ResultEnhancing}, u.Status,
			"no update may follow the deletion")
	}
	f.mu.Unlock()

	_, err = f.store.RestoreTestCase(ctx, tc.ID, time.Now().UTC())
	require.NoError(t, err)
	_, err = f.store.LatestResult(ctx, tc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunAllSkipsCaseDeletedDuringRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxConcurrent: 1})
	keep := f.addCase(t, "keep", "keep me")
	drop := f.addCase(t, "drop", "drop me")
	var once sync.Once
	f.provider.onEnhance = func(context.Context) error {
		var err error
		once.Do(func() { _, err = f.store.DeleteTestCase(ctx, drop.ID, time.Now().UTC()) })
		return err
	}

	results, err := f.runner.RunAll(ctx, model.SourceUI)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, keep.ID, results[0].TestCaseID)
	assert.Equal(t, model.ResultComplete, results[0].Status)
}
