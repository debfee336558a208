package model_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/promptlab/internal/model"
)

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", model.Preview("short", 10))
	assert.Equal(t, "abc…", model.Preview("abcdef", 3))
	assert.Equal(t, "日本…", model.Preview("日本語テキスト", 2))
}

func TestTestCaseSummary(t *testing.T) {
	tc := model.TestCase{
		ID:        uuid.New(),
		Name:      "long",
		InputText: string(make([]rune, model.PreviewLen+5)),
		Status:    model.TestCaseActive,
	}
	s := tc.Summary()
	assert.Equal(t, tc.ID, s.ID)
	assert.Len(t, []rune(s.Preview), model.PreviewLen+1)
	assert.True(t, tc.Active())
}

func TestResultStatusTerminal(t *testing.T) {
	assert.True(t, model.ResultComplete.Terminal())
	assert.True(t, model.ResultError.Terminal())
	assert.False(t, model.ResultPending.Terminal())
	assert.False(t, model.ResultEnhancing.Terminal())
	assert.False(t, model.ResultGeneratingImage.Terminal())
}

func TestIsOutdatedIsDerived(t *testing.T) {
	res := model.TestResult{ID: uuid.New(), ConfigVersion: 3, Status: model.ResultComplete, RunStartedAt: time.Now()}

	assert.True(t, model.IsOutdated(res, model.EnhancerConfig{Version: 4}))
	assert.False(t, model.IsOutdated(res, model.EnhancerConfig{Version: 3}))

	view := model.NewResultView(res, model.EnhancerConfig{Version: 5})
	assert.True(t, view.Outdated)
	assert.Equal(t, 3, res.ConfigVersion, "computing staleness must not touch the result")
}

func TestConfigSnapshot(t *testing.T) {
	now := time.Now().UTC()
	cfg := model.EnhancerConfig{
		ID: model.ConfigID, SystemPrompt: "p", Model: "m", ImageModel: "i",
		Version: 7, VersionName: "v7", UpdatedAt: now,
	}
	snap := cfg.Snapshot()
	assert.Equal(t, 7, snap.Version)
	assert.Equal(t, "v7", snap.VersionName)
	assert.Equal(t, now, snap.SavedAt)
	assert.Equal(t, "v12", model.DefaultVersionName(12))
}
