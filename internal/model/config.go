package model

import (
	"fmt"
	"time"
)

// ConfigID is the key of the singleton enhancer configuration.
const ConfigID = "default"

// EnhancerConfig is the live enhancer configuration. Exactly one exists.
type EnhancerConfig struct {
	ID           string    `json:"id"`
	SystemPrompt string    `json:"system_prompt"`
	Model        string    `json:"model"`
	ImageModel   string    `json:"image_model"`
	Version      int       `json:"version"`
	VersionName  string    `json:"version_name"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConfigVersion is an immutable snapshot of a past configuration.
// Only VersionName may change after creation.
type ConfigVersion struct {
	Version      int       `json:"version"`
	VersionName  string    `json:"version_name"`
	SystemPrompt string    `json:"system_prompt"`
	Model        string    `json:"model"`
	ImageModel   string    `json:"image_model"`
	SavedAt      time.Time `json:"saved_at"`
}

// Snapshot returns the history record for this configuration.
func (c EnhancerConfig) Snapshot() ConfigVersion {
	return ConfigVersion{
		Version:      c.Version,
		VersionName:  c.VersionName,
		SystemPrompt: c.SystemPrompt,
		Model:        c.Model,
		ImageModel:   c.ImageModel,
		SavedAt:      c.UpdatedAt,
	}
}

// DefaultVersionName is the label a version gets when none is supplied.
func DefaultVersionName(version int) string {
	return fmt.Sprintf("v%d", version)
}
