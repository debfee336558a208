// Package changelog records every state mutation in an append-only audit log
// and serves cursor-based reads of it.
package changelog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/promptlab/internal/eventbus"
	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/storage"
)

// Service appends to and reads from the changelog.
type Service struct {
	store  storage.Store
	bus    *eventbus.Bus
	logger *slog.Logger
	now    func() time.Time
}

// New creates a changelog service.
func New(store storage.Store, bus *eventbus.Bus, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append records a mutation and publishes changelog_entry_added.
func (s *Service) Append(ctx context.Context, source model.Source, action model.ChangeAction, summary string, details map[string]any) (model.ChangelogEntry, error) {
	entry := model.ChangelogEntry{
		ID:        uuid.New(),
		Timestamp: s.now(),
		Source:    source,
		Action:    action,
		Summary:   summary,
		Details:   details,
	}
	if err := s.store.AppendChangelog(ctx, entry); err != nil {
		return model.ChangelogEntry{}, err
	}
	s.bus.Emit(eventbus.ChangelogEntryAdded{Entry: entry})
	return entry, nil
}

// Record is Append for callers whose mutation has already committed: a
// failure is logged, not returned.
func (s *Service) Record(ctx context.Context, source model.Source, action model.ChangeAction, summary string, details map[string]any) {
	if _, err := s.Append(ctx, source, action, summary, details); err != nil {
		s.logger.Error("changelog: append failed", "action", action, "source", source, "error", err)
	}
}

// Entries returns the log after the entry identified by since. An empty,
// malformed or unknown cursor (for example one trimmed away) returns the
// whole log, so a client can always resynchronize.
func (s *Service) Entries(ctx context.Context, since string) ([]model.ChangelogEntry, error) {
	afterSeq, err := s.resolve(ctx, since)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListChangelog(ctx, afterSeq)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.ChangelogEntry{}
	}
	return entries, nil
}

func (s *Service) resolve(ctx context.Context, since string) (int64, error) {
	if since == "" {
		return 0, nil
	}
	id, err := uuid.Parse(since)
	if err != nil {
		s.logger.Debug("changelog: malformed cursor, returning full log", "since", since)
		return 0, nil
	}
	seq, err := s.store.ChangelogSeq(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Truncate keeps the newest keep entries. keep == 0 empties the log.
func (s *Service) Truncate(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, &model.ValidationError{Field: "keep", Message: "must be >= 0"}
	}
	return s.store.TruncateChangelog(ctx, keep)
}

// LatestID returns the id of the newest entry, or nil for an empty log.
func (s *Service) LatestID(ctx context.Context) (*uuid.UUID, error) {
	id, err := s.store.LatestChangelogID(ctx)
	if err != nil {
		return nil, err
	}
	if id == uuid.Nil {
		return nil, nil
	}
	return &id, nil
}

// RunTrimmer bounds the log to maxEntries every interval until ctx is done.
// It blocks, so call it in a goroutine.
func (s *Service) RunTrimmer(ctx context.Context, interval time.Duration, maxEntries int) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Truncate(ctx, maxEntries)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("changelog: trim failed", "error", err)
				}
				continue
			}
			if n > 0 {
				s.logger.Info("changelog: trimmed", "deleted", n, "kept", maxEntries)
			}
		}
	}
}

