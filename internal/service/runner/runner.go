// Package runner drives test cases through the two-stage generation
// pipeline: pending → enhancing → generating_image → complete, with error
// reachable from either generating stage.
//
// Every transition is persisted and then published on the event bus before
// the next stage starts, so observers see each run's states in order. A run
// records the config version current at its start and never changes it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/promptlab/internal/eventbus"
	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/service/generation"
	"github.com/ashita-ai/promptlab/internal/storage"
	"github.com/ashita-ai/promptlab/internal/telemetry"
)

var tracer = otel.Tracer("promptlab/runner")

// Options bounds runner behavior. Zero values disable the corresponding limit.
type Options struct {
	EnhanceTimeout time.Duration
	ImageTimeout   time.Duration
	// MaxConcurrent caps RunAll fan-out.
	MaxConcurrent int
}

// Service runs test cases.
type Service struct {
	store    storage.Store
	provider generation.Provider
	bus      *eventbus.Bus
	logger   *slog.Logger
	opts     Options
	now      func() time.Time

	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a runner.
func New(store storage.Store, provider generation.Provider, bus *eventbus.Bus, logger *slog.Logger, opts Options) *Service {
	s := &Service{
		store:    store,
		provider: provider,
		bus:      bus,
		logger:   logger,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
	meter := telemetry.Meter("promptlab/runner")
	s.runs, _ = meter.Int64Counter("promptlab.runner.runs",
		metric.WithDescription("Finished runs by terminal status"))
	s.duration, _ = meter.Float64Histogram("promptlab.runner.run_duration",
		metric.WithDescription("Wall time from pending to terminal"),
		metric.WithUnit("s"))
	return s
}

// RunTest runs one test case to a terminal state and returns the result.
// Provider failures end the run in the error state and are not returned as
// errors; only storage failures are. The run is detached from ctx
// cancellation so a disconnecting caller never leaves it half-done.
func (s *Service) RunTest(ctx context.Context, testCaseID uuid.UUID, source model.Source) (model.TestResult, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "runner.RunTest", trace.WithAttributes(
		attribute.String("promptlab.test_case_id", testCaseID.String()),
		attribute.String("promptlab.source", string(source)),
	))
	defer span.End()

	tc, err := s.store.GetTestCase(ctx, testCaseID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.TestResult{}, err
	}
	if !tc.Active() {
		return model.TestResult{}, fmt.Errorf("runner: test case %s is deleted: %w", testCaseID, storage.ErrNotFound)
	}
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.TestResult{}, err
	}

	r := model.TestResult{
		ID:            uuid.New(),
		TestCaseID:    tc.ID,
		ConfigVersion: cfg.Version,
		Status:        model.ResultPending,
		RunStartedAt:  s.now(),
	}
	span.SetAttributes(
		attribute.String("promptlab.run_id", r.ID.String()),
		attribute.Int("promptlab.config_version", cfg.Version),
	)
	s.logger.Info("runner: run started", "run_id", r.ID, "test_case_id", tc.ID, "config_version", cfg.Version, "source", source)

	if err := s.advance(ctx, &r, model.ResultPending); err != nil {
		return s.abort(ctx, r, err)
	}
	if err := s.advance(ctx, &r, model.ResultEnhancing); err != nil {
		return s.abort(ctx, r, err)
	}

	enhanced, err := s.enhance(ctx, cfg, tc)
	if err != nil {
		return s.fail(ctx, r, err)
	}
	r.EnhancedPrompt = enhanced
	if err := s.advance(ctx, &r, model.ResultGeneratingImage); err != nil {
		return s.abort(ctx, r, err)
	}

	img, err := s.generateImage(ctx, cfg, enhanced)
	if err != nil {
		return s.fail(ctx, r, err)
	}
	stored := model.Image{
		ID:        uuid.New(),
		ResultID:  r.ID,
		MIMEType:  img.MIMEType,
		Data:      img.Data,
		CreatedAt: s.now(),
	}
	if err := s.store.SaveImage(ctx, stored); err != nil {
		return s.abort(ctx, r, err)
	}

	r.GeneratedImageID = &stored.ID
	completed := s.now()
	r.RunCompletedAt = &completed
	if err := s.advance(ctx, &r, model.ResultComplete); err != nil {
		return s.abort(ctx, r, err)
	}
	s.finish(ctx, r)
	return r, nil
}

// RunAll runs every active test case concurrently and returns their results
// in list order. A run aborted by a storage error is reported as its error
// result. Test cases deleted before or during their run are left out. Only
// failing to list test cases fails the call.
func (s *Service) RunAll(ctx context.Context, source model.Source) ([]model.TestResult, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "runner.RunAll")
	defer span.End()

	cases, err := s.store.ListTestCases(ctx, model.TestCaseActive)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("promptlab.test_cases", len(cases)))

	results := make([]model.TestResult, len(cases))
	ran := make([]bool, len(cases))

	var g errgroup.Group
	if s.opts.MaxConcurrent > 0 {
		g.SetLimit(s.opts.MaxConcurrent)
	}
	for i, tc := range cases {
		g.Go(func() error {
			r, err := s.RunTest(ctx, tc.ID, source)
			switch {
			case err == nil:
			case errors.Is(err, storage.ErrNotActive), errors.Is(err, storage.ErrNotFound):
				s.logger.Info("runner: test case removed during run-all", "test_case_id", tc.ID)
				return nil
			case r.ID != uuid.Nil && r.Status == model.ResultError:
				s.logger.Error("runner: run aborted", "run_id", r.ID, "test_case_id", tc.ID, "error", err)
			default:
				s.logger.Error("runner: run failed", "test_case_id", tc.ID, "error", err)
				return nil
			}
			results[i], ran[i] = r, true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.TestResult, 0, len(cases))
	for i, r := range results {
		if ran[i] {
			out = append(out, r)
		}
	}
	return out, nil
}

// advance moves r to status, persists it and publishes the new state.
func (s *Service) advance(ctx context.Context, r *model.TestResult, status model.ResultStatus) error {
	r.Status = status
	if err := s.store.SaveResult(ctx, *r); err != nil {
		return fmt.Errorf("runner: persist %s: %w", status, err)
	}
	s.bus.Emit(eventbus.TestResultUpdated{Result: *r})
	return nil
}

// fail ends the run in the error state after a provider failure.
func (s *Service) fail(ctx context.Context, r model.TestResult, cause error) (model.TestResult, error) {
	completed := s.now()
	r.ImageError = cause.Error()
	r.RunCompletedAt = &completed
	if err := s.advance(ctx, &r, model.ResultError); err != nil {
		return s.abort(ctx, r, err)
	}
	s.logger.Warn("runner: run failed", "run_id", r.ID, "test_case_id", r.TestCaseID, "error", cause)
	s.finish(ctx, r)
	return r, nil
}

// abort handles a storage failure mid-run: the result is marked as errored
// if the store still accepts the write, and storeErr is returned either way.
// When the test case was deleted under the run nothing more is written and
// an ErrNotActive error is returned with an empty result.
func (s *Service) abort(ctx context.Context, r model.TestResult, storeErr error) (model.TestResult, error) {
	if s.deletedMidRun(ctx, r.TestCaseID, storeErr) {
		s.logger.Info("runner: test case deleted during run, result discarded", "run_id", r.ID, "test_case_id", r.TestCaseID)
		return model.TestResult{}, fmt.Errorf("runner: test case %s deleted during run: %w", r.TestCaseID, storage.ErrNotActive)
	}
	completed := s.now()
	r.ImageError = "internal error: " + storeErr.Error()
	r.RunCompletedAt = &completed
	if err := s.advance(ctx, &r, model.ResultError); err != nil {
		s.logger.Error("runner: could not record aborted run", "run_id", r.ID, "error", err)
	}
	s.finish(ctx, r)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, storeErr.Error())
	return r, storeErr
}

func (s *Service) deletedMidRun(ctx context.Context, testCaseID uuid.UUID, storeErr error) bool {
	if errors.Is(storeErr, storage.ErrNotActive) {
		return true
	}
	tc, err := s.store.GetTestCase(ctx, testCaseID)
	if errors.Is(err, storage.ErrNotFound) {
		return true
	}
	return err == nil && !tc.Active()
}

func (s *Service) finish(ctx context.Context, r model.TestResult) {
	attrs := metric.WithAttributes(attribute.String("status", string(r.Status)))
	s.runs.Add(ctx, 1, attrs)
	if r.RunCompletedAt != nil {
		s.duration.Record(ctx, r.RunCompletedAt.Sub(r.RunStartedAt).Seconds(), attrs)
	}
	s.logger.Info("runner: run finished", "run_id", r.ID, "status", r.Status)
}

func (s *Service) enhance(ctx context.Context, cfg model.EnhancerConfig, tc model.TestCase) (string, error) {
	ctx, span := tracer.Start(ctx, "runner.enhance", trace.WithAttributes(attribute.String("promptlab.model", cfg.Model)))
	defer span.End()

	ctx, cancel := withStageTimeout(ctx, s.opts.EnhanceTimeout)
	defer cancel()

	text, err := s.provider.Enhance(ctx, generation.EnhanceRequest{
		SystemPrompt: cfg.SystemPrompt,
		Model:        cfg.Model,
		InputText:    tc.InputText,
	})
	if err != nil {
		err = stageError("enhance", s.opts.EnhanceTimeout, err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

func (s *Service) generateImage(ctx context.Context, cfg model.EnhancerConfig, prompt string) (generation.Image, error) {
	ctx, span := tracer.Start(ctx, "runner.generate_image", trace.WithAttributes(attribute.String("promptlab.image_model", cfg.ImageModel)))
	defer span.End()

	ctx, cancel := withStageTimeout(ctx, s.opts.ImageTimeout)
	defer cancel()

	img, err := s.provider.GenerateImage(ctx, generation.ImageRequest{Prompt: prompt, Model: cfg.ImageModel})
	if err != nil {
		err = stageError("image generation", s.opts.ImageTimeout, err)
		span.SetStatus(codes.Error, err.Error())
		return generation.Image{}, err
	}
	if len(img.Data) == 0 {
		return generation.Image{}, errors.New("image generation: provider returned no image data")
	}
	return img, nil
}

func withStageTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func stageError(stage string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", stage, timeout)
	}
	return fmt.Errorf("%s failed: %w", stage, err)
}
