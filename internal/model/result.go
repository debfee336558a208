package model

import (
	"time"

	"github.com/google/uuid"
)

// ResultStatus is the pipeline state of a single run.
type ResultStatus string

const (
	ResultPending         ResultStatus = "pending"
	ResultEnhancing       ResultStatus = "enhancing"
	ResultGeneratingImage ResultStatus = "generating_image"
	ResultComplete        ResultStatus = "complete"
	ResultError           ResultStatus = "error"
)

// Terminal reports whether no further transitions can happen.
func (s ResultStatus) Terminal() bool {
	return s == ResultComplete || s == ResultError
}

// TestResult is one run of a test case through the pipeline. ID is the run id.
// ConfigVersion records the configuration active when the run started and is
// never updated afterwards.
type TestResult struct {
	ID               uuid.UUID    `json:"id"`
	TestCaseID       uuid.UUID    `json:"test_case_id"`
	ConfigVersion    int          `json:"config_version"`
	Status           ResultStatus `json:"status"`
	EnhancedPrompt   string       `json:"enhanced_prompt,omitempty"`
	GeneratedImageID *uuid.UUID   `json:"generated_image_id,omitempty"`
	ImageError       string       `json:"image_error,omitempty"`
	RunStartedAt     time.Time    `json:"run_started_at"`
	RunCompletedAt   *time.Time   `json:"run_completed_at,omitempty"`
}

// IsOutdated reports whether the result was produced by a configuration other
// than current. It is recomputed on every read and never stored.
func IsOutdated(r TestResult, current EnhancerConfig) bool {
	return r.ConfigVersion != current.Version
}

// ResultView is a TestResult as shown to readers, with staleness resolved
// against the configuration current at read time.
type ResultView struct {
	TestResult
	Outdated bool `json:"outdated"`
}

// NewResultView resolves staleness of r against current.
func NewResultView(r TestResult, current EnhancerConfig) ResultView {
	return ResultView{TestResult: r, Outdated: IsOutdated(r, current)}
}

// Image is a generated image stored alongside its result.
type Image struct {
	ID        uuid.UUID `json:"id"`
	ResultID  uuid.UUID `json:"result_id"`
	MIMEType  string    `json:"mime_type"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
