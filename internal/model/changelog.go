package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies who issued a mutation.
type Source string

const (
	SourceUI    Source = "ui"
	SourceAgent Source = "agent"
)

// ParseSource maps a header or flag value onto a Source. Empty means ui.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case "", SourceUI:
		return SourceUI, nil
	case SourceAgent:
		return SourceAgent, nil
	default:
		return "", &ValidationError{Field: "source", Message: fmt.Sprintf("must be %q or %q", SourceUI, SourceAgent)}
	}
}

// ChangeAction is the closed set of changelog actions.
type ChangeAction string

const (
	ActionConfigUpdated   ChangeAction = "config_updated"
	ActionTestCaseCreated ChangeAction = "test_case_created"
	ActionTestCaseUpdated ChangeAction = "test_case_updated"
	ActionTestCaseDeleted ChangeAction = "test_case_deleted"
)

// ChangelogEntry is an append-only audit record. ID doubles as a read cursor.
type ChangelogEntry struct {
	ID        uuid.UUID      `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Source    Source         `json:"source"`
	Action    ChangeAction   `json:"action"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
}
