// Package app assembles the service graph shared by the HTTP server, the MCP
// server and tests: one event bus, one store, and the services on top.
package app

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/promptlab/internal/eventbus"
	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/service/changelog"
	"github.com/ashita-ai/promptlab/internal/service/enhancer"
	"github.com/ashita-ai/promptlab/internal/service/generation"
	"github.com/ashita-ai/promptlab/internal/service/runner"
	"github.com/ashita-ai/promptlab/internal/service/testcases"
	"github.com/ashita-ai/promptlab/internal/storage"
)

// App holds the wired services.
type App struct {
	Store     storage.Store
	Bus       *eventbus.Bus
	Changelog *changelog.Service
	Enhancer  *enhancer.Service
	TestCases *testcases.Service
	Runner    *runner.Service
}

// New wires services over store and provider.
func New(store storage.Store, provider generation.Provider, logger *slog.Logger, opts runner.Options) *App {
	bus := eventbus.New(logger)
	changes := changelog.New(store, bus, logger)
	return &App{
		Store:     store,
		Bus:       bus,
		Changelog: changes,
		Enhancer:  enhancer.New(store, changes, bus, logger),
		TestCases: testcases.New(store, changes, bus, logger),
		Runner:    runner.New(store, provider, bus, logger, opts),
	}
}

// InitialState is the snapshot sent to a new subscriber: the current config,
// active test cases, their latest results and the changelog after since.
func (a *App) InitialState(ctx context.Context, since string) (eventbus.InitialState, error) {
	cfg, err := a.Enhancer.Current(ctx)
	if err != nil {
		return eventbus.InitialState{}, err
	}
	cases, err := a.TestCases.List(ctx)
	if err != nil {
		return eventbus.InitialState{}, err
	}
	results, err := a.Runner.LatestAll(ctx)
	if err != nil {
		return eventbus.InitialState{}, err
	}
	changes, err := a.Changelog.Entries(ctx, since)
	if err != nil {
		return eventbus.InitialState{}, err
	}
	latest, err := a.Changelog.LatestID(ctx)
	if err != nil {
		return eventbus.InitialState{}, err
	}
	return eventbus.InitialState{
		Config:            cfg,
		TestCases:         cases,
		Results:           results,
		Changes:           changes,
		LatestChangelogID: latest,
	}, nil
}

// Summary counts results by outcome for run-all responses.
func Summary(results []model.TestResult) model.RunAllResponse {
	resp := model.RunAllResponse{Results: results}
	if resp.Results == nil {
		resp.Results = []model.TestResult{}
	}
	for _, r := range results {
		if r.Status == model.ResultComplete {
			resp.Complete++
		} else {
			resp.Failed++
		}
	}
	return resp
}
