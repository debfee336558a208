package model_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/promptlab/internal/model"
)

// ptr is a convenience helper for pointer literals in test cases.
func ptr[T any](v T) *T { return &v }

// ---- CreateTestCaseRequest -------------------------------------------------

func TestCreateTestCaseRequest_HappyPath(t *testing.T) {
	req := model.CreateTestCaseRequest{Name: "Marketing Slide", InputText: "a slide about Q3 growth"}
	assert.NoError(t, req.Validate())
}

func TestCreateTestCaseRequest_MissingFields(t *testing.T) {
	err := model.CreateTestCaseRequest{InputText: "text"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")

	err = model.CreateTestCaseRequest{Name: "n", InputText: "   "}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input_text")
}

func TestCreateTestCaseRequest_NameAtExactMax(t *testing.T) {
	req := model.CreateTestCaseRequest{Name: strings.Repeat("é", model.MaxNameLen), InputText: "x"}
	assert.NoError(t, req.Validate(), "limit counts runes, not bytes")
}

func TestCreateTestCaseRequest_InputOverMax(t *testing.T) {
	req := model.CreateTestCaseRequest{Name: "n", InputText: strings.Repeat("x", model.MaxInputTextLen+1)}
	err := req.Validate()
	require.Error(t, err)

	var verr *model.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "input_text", verr.Field)
}

// ---- UpdateTestCaseRequest -------------------------------------------------

func TestUpdateTestCaseRequest_RequiresAField(t *testing.T) {
	require.Error(t, model.UpdateTestCaseRequest{}.Validate())
	assert.NoError(t, model.UpdateTestCaseRequest{Name: ptr("renamed")}.Validate())
	assert.Error(t, model.UpdateTestCaseRequest{InputText: ptr("")}.Validate())
}

// ---- UpdateConfigRequest ---------------------------------------------------

func TestUpdateConfigRequest_Validate(t *testing.T) {
	valid := model.UpdateConfigRequest{SystemPrompt: "enhance", Model: "sonnet", ImageModel: "gpt-image-1"}
	require.NoError(t, valid.Validate())

	cases := map[string]model.UpdateConfigRequest{
		"system_prompt": {Model: "sonnet", ImageModel: "img"},
		"model":         {SystemPrompt: "p", ImageModel: "img"},
		"image_model":   {SystemPrompt: "p", Model: "sonnet"},
		"version_name":  {SystemPrompt: "p", Model: "m", ImageModel: "i", VersionName: strings.Repeat("v", model.MaxVersionNameLen+1)},
	}
	for field, req := range cases {
		err := req.Validate()
		require.Error(t, err, field)
		assert.Contains(t, err.Error(), field)
	}
}

func TestRenameVersionRequest_Validate(t *testing.T) {
	assert.NoError(t, model.RenameVersionRequest{VersionName: "baseline"}.Validate())
	assert.Error(t, model.RenameVersionRequest{VersionName: " "}.Validate())
}

// ---- Source ----------------------------------------------------------------

func TestParseSource(t *testing.T) {
	s, err := model.ParseSource("")
	require.NoError(t, err)
	assert.Equal(t, model.SourceUI, s)

	s, err = model.ParseSource("agent")
	require.NoError(t, err)
	assert.Equal(t, model.SourceAgent, s)

	_, err = model.ParseSource("robot")
	assert.Error(t, err)
}
