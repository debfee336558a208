// Package enhancer manages the versioned enhancer configuration: updates,
// history, reverts and renames.
//
// Every content change creates a new, never-reused version and a matching
// immutable snapshot. Results remember the version they ran under, so
// staleness is derived at read time by comparing versions.
package enhancer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ashita-ai/promptlab/internal/eventbus"
	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/service/changelog"
	"github.com/ashita-ai/promptlab/internal/storage"
)

// Defaults seeds the config on first start.
type Defaults struct {
	SystemPrompt string
	Model        string
	ImageModel   string
}

// Service owns config versioning.
type Service struct {
	store   storage.Store
	changes *changelog.Service
	bus     *eventbus.Bus
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an enhancer config service.
func New(store storage.Store, changes *changelog.Service, bus *eventbus.Bus, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		changes: changes,
		bus:     bus,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Seed makes sure a config exists, creating version 1 from d if not.
func (s *Service) Seed(ctx context.Context, d Defaults) (model.EnhancerConfig, error) {
	return s.store.EnsureConfig(ctx, model.EnhancerConfig{
		ID:           model.ConfigID,
		SystemPrompt: d.SystemPrompt,
		Model:        d.Model,
		ImageModel:   d.ImageModel,
		Version:      1,
		VersionName:  model.DefaultVersionName(1),
		UpdatedAt:    s.now(),
	})
}

// Current returns the live config.
func (s *Service) Current(ctx context.Context) (model.EnhancerConfig, error) {
	return s.store.GetConfig(ctx)
}

// History returns every saved version, newest first.
func (s *Service) History(ctx context.Context) ([]model.ConfigVersion, error) {
	versions, err := s.store.ListConfigVersions(ctx)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []model.ConfigVersion{}
	}
	return versions, nil
}

// Version returns one saved version, or storage.ErrNotFound.
func (s *Service) Version(ctx context.Context, version int) (model.ConfigVersion, error) {
	return s.store.GetConfigVersion(ctx, version)
}

// Update saves req as the next version.
func (s *Service) Update(ctx context.Context, req model.UpdateConfigRequest, source model.Source) (model.EnhancerConfig, error) {
	if err := req.Validate(); err != nil {
		return model.EnhancerConfig{}, err
	}

	var changed []string
	cfg, err := s.store.CommitConfig(ctx, func(cur model.EnhancerConfig) (model.EnhancerConfig, error) {
		changed = changedFields(cur, req)
		next := cur
		next.SystemPrompt = req.SystemPrompt
		next.Model = req.Model
		next.ImageModel = req.ImageModel
		next.Version = cur.Version + 1
		next.VersionName = strings.TrimSpace(req.VersionName)
		if next.VersionName == "" {
			next.VersionName = model.DefaultVersionName(next.Version)
		}
		next.UpdatedAt = s.now()
		return next, nil
	})
	if err != nil {
		return model.EnhancerConfig{}, err
	}

	s.logger.Info("enhancer: config updated", "version", cfg.Version, "source", source, "changed", changed)
	s.bus.Emit(eventbus.ConfigUpdated{Config: cfg})
	s.changes.Record(ctx, source, model.ActionConfigUpdated,
		fmt.Sprintf("Updated enhancer config to %s", cfg.VersionName),
		map[string]any{"version": cfg.Version, "version_name": cfg.VersionName, "changed": changed})
	return cfg, nil
}

// Revert creates a new version whose content copies the snapshot of version.
// The target snapshot itself is untouched.
func (s *Service) Revert(ctx context.Context, version int, source model.Source) (model.EnhancerConfig, error) {
	target, err := s.store.GetConfigVersion(ctx, version)
	if err != nil {
		return model.EnhancerConfig{}, err
	}
	origin := RevertOrigin(target.VersionName)

	cfg, err := s.store.CommitConfig(ctx, func(cur model.EnhancerConfig) (model.EnhancerConfig, error) {
		next := cur
		next.SystemPrompt = target.SystemPrompt
		next.Model = target.Model
		next.ImageModel = target.ImageModel
		next.Version = cur.Version + 1
		next.VersionName = fmt.Sprintf("%s (revert to %s)", model.DefaultVersionName(next.Version), origin)
		next.UpdatedAt = s.now()
		return next, nil
	})
	if err != nil {
		return model.EnhancerConfig{}, err
	}

	s.logger.Info("enhancer: config reverted", "version", cfg.Version, "reverted_to", version, "source", source)
	s.bus.Emit(eventbus.ConfigUpdated{Config: cfg})
	s.changes.Record(ctx, source, model.ActionConfigUpdated,
		fmt.Sprintf("Reverted enhancer config to %s as %s", origin, model.DefaultVersionName(cfg.Version)),
		map[string]any{"version": cfg.Version, "version_name": cfg.VersionName, "reverted_from": version})
	return cfg, nil
}

// RenameVersion relabels a saved version. Content and numbering are unchanged.
func (s *Service) RenameVersion(ctx context.Context, version int, req model.RenameVersionRequest, source model.Source) (model.ConfigVersion, error) {
	if err := req.Validate(); err != nil {
		return model.ConfigVersion{}, err
	}
	name := strings.TrimSpace(req.VersionName)

	renamed, cur, err := s.store.RenameConfigVersion(ctx, version, name)
	if err != nil {
		return model.ConfigVersion{}, err
	}

	s.bus.Emit(eventbus.ConfigUpdated{Config: cur})
	s.changes.Record(ctx, source, model.ActionConfigUpdated,
		fmt.Sprintf("Renamed %s to %q", model.DefaultVersionName(version), name),
		map[string]any{"version": version, "version_name": name, "renamed": true})
	return renamed, nil
}

var revertSuffix = regexp.MustCompile(`\(revert to (.+)\)\s*$`)

// RevertOrigin returns the label a revert of a version named name should
// point at. Reverting a revert points at the original target, so chains of
// reverts all name the same origin.
func RevertOrigin(name string) string {
	if m := revertSuffix.FindStringSubmatch(name); m != nil {
		return strings.TrimSpace(m[1])
	}
	return name
}

func changedFields(cur model.EnhancerConfig, req model.UpdateConfigRequest) []string {
	changed := []string{}
	if cur.SystemPrompt != req.SystemPrompt {
		changed = append(changed, "system_prompt")
	}
	if cur.Model != req.Model {
		changed = append(changed, "model")
	}
	if cur.ImageModel != req.ImageModel {
		changed = append(changed, "image_model")
	}
	return changed
}
