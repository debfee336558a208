package eventbus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/promptlab/internal/model"
)

// Wire tags for each event type.
const (
	TypeConnected           = "connected"
	TypeInitialState        = "initial_state"
	TypeConfigUpdated       = "config_updated"
	TypeTestCaseAdded       = "test_case_added"
	TypeTestCaseUpdated     = "test_case_updated"
	TypeTestCaseDeleted     = "test_case_deleted"
	TypeTestResultUpdated   = "test_result_updated"
	TypeChangelogEntryAdded = "changelog_entry_added"
)

// Event is a state change published on the bus. The set of implementations
// is closed; Encode handles every one of them.
type Event interface {
	Type() string
	event()
}

// Connected is delivered to a new subscriber before anything else.
type Connected struct {
	ClientID string `json:"client_id"`
}

// InitialState is a full snapshot sent to a subscriber right after Connected.
type InitialState struct {
	Config            model.EnhancerConfig   `json:"config"`
	TestCases         []model.TestCase       `json:"test_cases"`
	Results           []model.ResultView     `json:"results"`
	Changes           []model.ChangelogEntry `json:"changes"`
	LatestChangelogID *uuid.UUID             `json:"latest_changelog_id,omitempty"`
}

// ConfigUpdated carries the new current config after an update, revert or rename.
type ConfigUpdated struct {
	Config model.EnhancerConfig `json:"config"`
}

// TestCaseAdded is published on create and on restore.
type TestCaseAdded struct {
	TestCase model.TestCase `json:"test_case"`
}

type TestCaseUpdated struct {
	TestCase model.TestCase `json:"test_case"`
}

type TestCaseDeleted struct {
	TestCaseID uuid.UUID `json:"test_case_id"`
}

// TestResultUpdated is published on every pipeline transition of a run.
type TestResultUpdated struct {
	Result model.TestResult `json:"result"`
}

type ChangelogEntryAdded struct {
	Entry model.ChangelogEntry `json:"entry"`
}

func (Connected) Type() string           { return TypeConnected }
func (InitialState) Type() string        { return TypeInitialState }
func (ConfigUpdated) Type() string       { return TypeConfigUpdated }
func (TestCaseAdded) Type() string       { return TypeTestCaseAdded }
func (TestCaseUpdated) Type() string     { return TypeTestCaseUpdated }
func (TestCaseDeleted) Type() string     { return TypeTestCaseDeleted }
func (TestResultUpdated) Type() string   { return TypeTestResultUpdated }
func (ChangelogEntryAdded) Type() string { return TypeChangelogEntryAdded }

func (Connected) event()           {}
func (InitialState) event()        {}
func (ConfigUpdated) event()       {}
func (TestCaseAdded) event()       {}
func (TestCaseUpdated) event()     {}
func (TestCaseDeleted) event()     {}
func (TestResultUpdated) event()   {}
func (ChangelogEntryAdded) event() {}

// Encode renders ev as a single JSON object: {"type": <tag>, ...payload}.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case Connected:
		return withType(TypeConnected, e)
	case InitialState:
		if e.TestCases == nil {
			e.TestCases = []model.TestCase{}
		}
		if e.Results == nil {
			e.Results = []model.ResultView{}
		}
		if e.Changes == nil {
			e.Changes = []model.ChangelogEntry{}
		}
		return withType(TypeInitialState, e)
	case ConfigUpdated:
		return withType(TypeConfigUpdated, e)
	case TestCaseAdded:
		return withType(TypeTestCaseAdded, e)
	case TestCaseUpdated:
		return withType(TypeTestCaseUpdated, e)
	case TestCaseDeleted:
		return withType(TypeTestCaseDeleted, e)
	case TestResultUpdated:
		return withType(TypeTestResultUpdated, e)
	case ChangelogEntryAdded:
		return withType(TypeChangelogEntryAdded, e)
	default:
		return nil, fmt.Errorf("eventbus: encode: unknown event %T", ev)
	}
}

// withType splices the type tag in front of the payload's fields.
func withType(tag string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("eventbus: encode %s: %w", tag, err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("eventbus: encode %s: payload is not an object", tag)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 12)
	buf.WriteString(`{"type":`)
	tagJSON, _ := json.Marshal(tag)
	buf.Write(tagJSON)
	if len(body) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}
