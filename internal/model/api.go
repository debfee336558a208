package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Field length limits for user-supplied text. These keep a single oversized
// field from filling TEXT columns or the provider request body.
const (
	MaxNameLen         = 200
	MaxInputTextLen    = 32 * 1024 // 32 KB
	MaxSystemPromptLen = 64 * 1024 // 64 KB
	MaxModelLen        = 200
	MaxVersionNameLen  = 200
)

// ValidationError reports a malformed or missing request field.
// It is returned before any state change happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CreateTestCaseRequest is the request body for POST /v1/test-cases.
type CreateTestCaseRequest struct {
	Name      string `json:"name" yaml:"name"`
	InputText string `json:"input_text" yaml:"input_text"`
}

// Validate checks required fields and length limits.
func (r CreateTestCaseRequest) Validate() error {
	if err := validateName(r.Name); err != nil {
		return err
	}
	return validateInputText(r.InputText)
}

// UpdateTestCaseRequest is the request body for PUT /v1/test-cases/{id}.
// Nil fields are left unchanged.
type UpdateTestCaseRequest struct {
	Name      *string `json:"name,omitempty"`
	InputText *string `json:"input_text,omitempty"`
}

// Validate checks the fields that are present. At least one must be set.
func (r UpdateTestCaseRequest) Validate() error {
	if r.Name == nil && r.InputText == nil {
		return invalid("", "at least one of name or input_text is required")
	}
	if r.Name != nil {
		if err := validateName(*r.Name); err != nil {
			return err
		}
	}
	if r.InputText != nil {
		if err := validateInputText(*r.InputText); err != nil {
			return err
		}
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("name", "is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		return invalid("name", "exceeds maximum length of %d characters", MaxNameLen)
	}
	return nil
}

func validateInputText(text string) error {
	if strings.TrimSpace(text) == "" {
		return invalid("input_text", "is required")
	}
	if len(text) > MaxInputTextLen {
		return invalid("input_text", "exceeds maximum length of %d bytes", MaxInputTextLen)
	}
	return nil
}

// UpdateConfigRequest is the request body for PUT /v1/config.
type UpdateConfigRequest struct {
	SystemPrompt string `json:"system_prompt"`
	Model        string `json:"model"`
	ImageModel   string `json:"image_model"`
	VersionName  string `json:"version_name,omitempty"`
}

// Validate checks required fields and length limits.
func (r UpdateConfigRequest) Validate() error {
	if strings.TrimSpace(r.SystemPrompt) == "" {
		return invalid("system_prompt", "is required")
	}
	if len(r.SystemPrompt) > MaxSystemPromptLen {
		return invalid("system_prompt", "exceeds maximum length of %d bytes", MaxSystemPromptLen)
	}
	if strings.TrimSpace(r.Model) == "" {
		return invalid("model", "is required")
	}
	if len(r.Model) > MaxModelLen {
		return invalid("model", "exceeds maximum length of %d characters", MaxModelLen)
	}
	if strings.TrimSpace(r.ImageModel) == "" {
		return invalid("image_model", "is required")
	}
	if len(r.ImageModel) > MaxModelLen {
		return invalid("image_model", "exceeds maximum length of %d characters", MaxModelLen)
	}
	if utf8.RuneCountInString(r.VersionName) > MaxVersionNameLen {
		return invalid("version_name", "exceeds maximum length of %d characters", MaxVersionNameLen)
	}
	return nil
}

// RenameVersionRequest is the request body for PATCH /v1/config/versions/{version}.
type RenameVersionRequest struct {
	VersionName string `json:"version_name"`
}

// Validate checks the new display name.
func (r RenameVersionRequest) Validate() error {
	if strings.TrimSpace(r.VersionName) == "" {
		return invalid("version_name", "is required")
	}
	if utf8.RuneCountInString(r.VersionName) > MaxVersionNameLen {
		return invalid("version_name", "exceeds maximum length of %d characters", MaxVersionNameLen)
	}
	return nil
}

// RunAllResponse is the response for POST /v1/run-all.
type RunAllResponse struct {
	Results  []TestResult `json:"results"`
	Complete int          `json:"complete"`
	Failed   int          `json:"failed"`
}

// ChangelogResponse is the response for GET /v1/changelog.
type ChangelogResponse struct {
	Entries  []ChangelogEntry `json:"entries"`
	LatestID *uuid.UUID       `json:"latest_id,omitempty"`
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeUnavailable   = "UNAVAILABLE"
)

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Storage     string `json:"storage"`
	Backend     string `json:"backend"`
	Provider    string `json:"provider"`
	Subscribers int    `json:"subscribers"`
	Uptime      int64  `json:"uptime_seconds"`
}
