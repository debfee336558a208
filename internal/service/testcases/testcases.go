// Package testcases manages the named inputs the runner evaluates, including
// soft deletion (gravestones), restore and permanent purge.
package testcases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/promptlab/internal/eventbus"
	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/service/changelog"
	"github.com/ashita-ai/promptlab/internal/storage"
)

// Service implements test case CRUD. Every mutation publishes an event and
// appends a changelog entry tagged with the caller's source.
type Service struct {
	store   storage.Store
	changes *changelog.Service
	bus     *eventbus.Bus
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a test case service.
func New(store storage.Store, changes *changelog.Service, bus *eventbus.Bus, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		changes: changes,
		bus:     bus,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create adds a new active test case.
func (s *Service) Create(ctx context.Context, req model.CreateTestCaseRequest, source model.Source) (model.TestCase, error) {
	if err := req.Validate(); err != nil {
		return model.TestCase{}, err
	}
	at := s.now()
	tc := model.TestCase{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(req.Name),
		InputText: req.InputText,
		Status:    model.TestCaseActive,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := s.store.CreateTestCase(ctx, tc); err != nil {
		return model.TestCase{}, err
	}

	s.bus.Emit(eventbus.TestCaseAdded{TestCase: tc})
	s.changes.Record(ctx, source, model.ActionTestCaseCreated,
		fmt.Sprintf("Created test case %q", tc.Name),
		map[string]any{"test_case_id": tc.ID.String()})
	return tc, nil
}

// Get returns an active test case. Gravestoned test cases are not found.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.TestCase, error) {
	tc, err := s.store.GetTestCase(ctx, id)
	if err != nil {
		return model.TestCase{}, err
	}
	if !tc.Active() {
		return model.TestCase{}, fmt.Errorf("testcases: %s is deleted: %w", id, storage.ErrNotFound)
	}
	return tc, nil
}

// List returns active test cases in creation order.
func (s *Service) List(ctx context.Context) ([]model.TestCase, error) {
	return s.list(ctx, model.TestCaseActive)
}

// ListDeleted returns gravestoned test cases, which can be restored or purged.
func (s *Service) ListDeleted(ctx context.Context) ([]model.TestCase, error) {
	return s.list(ctx, model.TestCaseDeleted)
}

func (s *Service) list(ctx context.Context, status model.TestCaseStatus) ([]model.TestCase, error) {
	cases, err := s.store.ListTestCases(ctx, status)
	if err != nil {
		return nil, err
	}
	if cases == nil {
		cases = []model.TestCase{}
	}
	return cases, nil
}

// Summaries projects test cases to their list view.
func Summaries(cases []model.TestCase) []model.TestCaseSummary {
	out := make([]model.TestCaseSummary, len(cases))
	for i, tc := range cases {
		out[i] = tc.Summary()
	}
	return out
}

// Update applies the fields present in req.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req model.UpdateTestCaseRequest, source model.Source) (model.TestCase, error) {
	if err := req.Validate(); err != nil {
		return model.TestCase{}, err
	}
	tc, err := s.Get(ctx, id)
	if err != nil {
		return model.TestCase{}, err
	}

	var changed []string
	if req.Name != nil && strings.TrimSpace(*req.Name) != tc.Name {
		tc.Name = strings.TrimSpace(*req.Name)
		changed = append(changed, "name")
	}
	if req.InputText != nil && *req.InputText != tc.InputText {
		tc.InputText = *req.InputText
		changed = append(changed, "input_text")
	}
	if len(changed) == 0 {
		return tc, nil
	}
	tc.UpdatedAt = s.now()
	if err := s.store.UpdateTestCase(ctx, tc); err != nil {
		return model.TestCase{}, err
	}

	s.bus.Emit(eventbus.TestCaseUpdated{TestCase: tc})
	s.changes.Record(ctx, source, model.ActionTestCaseUpdated,
		fmt.Sprintf("Updated test case %q", tc.Name),
		map[string]any{"test_case_id": tc.ID.String(), "changed": changed})
	return tc, nil
}

// Delete gravestones a test case. Its results are removed in the same
// transaction, so per-test-case result lookups stop returning them.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, source model.Source) (model.TestCase, error) {
	tc, err := s.store.DeleteTestCase(ctx, id, s.now())
	if err != nil {
		return model.TestCase{}, err
	}

	s.logger.Info("testcases: deleted", "test_case_id", id, "source", source)
	s.bus.Emit(eventbus.TestCaseDeleted{TestCaseID: id})
	s.changes.Record(ctx, source, model.ActionTestCaseDeleted,
		fmt.Sprintf("Deleted test case %q", tc.Name),
		map[string]any{"test_case_id": id.String()})
	return tc, nil
}

// Restore brings a gravestoned test case back. It returns without results.
func (s *Service) Restore(ctx context.Context, id uuid.UUID, source model.Source) (model.TestCase, error) {
	tc, err := s.store.RestoreTestCase(ctx, id, s.now())
	if err != nil {
		return model.TestCase{}, err
	}

	s.bus.Emit(eventbus.TestCaseAdded{TestCase: tc})
	s.changes.Record(ctx, source, model.ActionTestCaseCreated,
		fmt.Sprintf("Restored test case %q", tc.Name),
		map[string]any{"test_case_id": id.String(), "restored": true})
	return tc, nil
}

// Purge permanently removes a test case (active or gravestoned) along with
// its results and images.
func (s *Service) Purge(ctx context.Context, id uuid.UUID, source model.Source) error {
	tc, err := s.store.GetTestCase(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.PurgeTestCase(ctx, id); err != nil {
		return err
	}

	s.logger.Info("testcases: purged", "test_case_id", id, "source", source)
	if tc.Active() {
		s.bus.Emit(eventbus.TestCaseDeleted{TestCaseID: id})
	}
	s.changes.Record(ctx, source, model.ActionTestCaseDeleted,
		fmt.Sprintf("Permanently deleted test case %q", tc.Name),
		map[string]any{"test_case_id": id.String(), "permanent": true})
	return nil
}
