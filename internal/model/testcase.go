// Package model defines the core domain types for promptlab.
//
// Types map directly onto storage rows and event payloads. They use strong
// typing (UUIDs, time.Time, string enums) and carry no behavior beyond small
// derived helpers.
package model

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TestCaseStatus is the lifecycle state of a test case.
type TestCaseStatus string

const (
	TestCaseActive  TestCaseStatus = "active"
	TestCaseDeleted TestCaseStatus = "deleted"
)

// PreviewLen is the number of runes of input text shown in list views.
const PreviewLen = 100

// TestCase is a named text input that gets run through the pipeline.
// A deleted test case keeps its row (gravestone) until it is purged.
type TestCase struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	InputText string         `json:"input_text"`
	Status    TestCaseStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// Active reports whether the test case has not been gravestoned.
func (tc TestCase) Active() bool {
	return tc.Status != TestCaseDeleted
}

// TestCaseSummary is the list-view projection of a test case.
type TestCaseSummary struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Preview   string         `json:"preview"`
	Status    TestCaseStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// Summary returns the list-view projection with a truncated preview.
func (tc TestCase) Summary() TestCaseSummary {
	return TestCaseSummary{
		ID:        tc.ID,
		Name:      tc.Name,
		Preview:   Preview(tc.InputText, PreviewLen),
		Status:    tc.Status,
		CreatedAt: tc.CreatedAt,
		UpdatedAt: tc.UpdatedAt,
		DeletedAt: tc.DeletedAt,
	}
}

// Preview truncates s to at most n runes, appending an ellipsis when cut.
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}
