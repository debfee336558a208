package runner

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/promptlab/internal/model"
)

// Latest returns the most recent run of a test case with staleness resolved
// against the current config.
func (s *Service) Latest(ctx context.Context, testCaseID uuid.UUID) (model.ResultView, error) {
	r, err := s.store.LatestResult(ctx, testCaseID)
	if err != nil {
		return model.ResultView{}, err
	}
	return s.view(ctx, r)
}

// History returns a test case's runs, newest first. limit <= 0 returns all.
func (s *Service) History(ctx context.Context, testCaseID uuid.UUID, limit int) ([]model.ResultView, error) {
	results, err := s.store.ListResults(ctx, testCaseID, limit)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, results)
}

// LatestAll returns the latest run of every active test case.
func (s *Service) LatestAll(ctx context.Context) ([]model.ResultView, error) {
	results, err := s.store.LatestResults(ctx)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, results)
}

// Result returns a run by id.
func (s *Service) Result(ctx context.Context, id uuid.UUID) (model.ResultView, error) {
	r, err := s.store.GetResult(ctx, id)
	if err != nil {
		return model.ResultView{}, err
	}
	return s.view(ctx, r)
}

// Image returns generated image bytes.
func (s *Service) Image(ctx context.Context, id uuid.UUID) (model.Image, error) {
	return s.store.GetImage(ctx, id)
}

// ProviderName reports which generation backend runs use.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

func (s *Service) view(ctx context.Context, r model.TestResult) (model.ResultView, error) {
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return model.ResultView{}, err
	}
	return model.NewResultView(r, cfg), nil
}

func (s *Service) views(ctx context.Context, results []model.TestResult) ([]model.ResultView, error) {
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ResultView, len(results))
	for i, r := range results {
		out[i] = model.NewResultView(r, cfg)
	}
	return out, nil
}
