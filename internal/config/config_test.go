package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.RequireGatekeeper)
	assert.Equal(t, 10, cfg.FeatureMaxAttempts)
	assert.Equal(t, 400, cfg.GuardrailMaxToolCalls)
	assert.Equal(t, 10*time.Second, cfg.FeatureRetryInitialDelay)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("AUTOCODER_REQUIRE_GATEKEEPER", "false")
	t.Setenv("AUTOCODER_FEATURE_MAX_ATTEMPTS", "3")
	t.Setenv("AUTOCODER_SDK_INITIAL_DELAY_S", "2.5")
	t.Setenv("AUTOCODER_MAIN_BRANCH", "trunk")

	cfg := Load()
	assert.False(t, cfg.RequireGatekeeper)
	assert.Equal(t, 3, cfg.FeatureMaxAttempts)
	assert.Equal(t, 2500*time.Millisecond, cfg.SDKInitialDelay)
	assert.Equal(t, "trunk", cfg.MainBranch)
}

func TestLoadLeavesDefaultsWhenEnvUnset(t *testing.T) {
	for _, key := range []string{
		"AUTOCODER_REQUIRE_GATEKEEPER",
		"AUTOCODER_FEATURE_MAX_ATTEMPTS",
		"AUTOCODER_MAIN_BRANCH",
	} {
		os.Unsetenv(key)
	}
	cfg := Load()
	assert.Equal(t, Default(), cfg)
}

func TestArtifactsInheritLogsDefaultsUnlessOverridden(t *testing.T) {
	t.Setenv("AUTOCODER_LOGS_KEEP_DAYS", "14")

	cfg := Load()
	assert.Equal(t, 14, cfg.LogsKeepDays)
	assert.Equal(t, 14, cfg.ArtifactsKeepDays, "artifacts follow logs when not explicitly overridden")
}

func TestArtifactsOverrideIndependentOfLogs(t *testing.T) {
	t.Setenv("AUTOCODER_LOGS_KEEP_DAYS", "14")
	t.Setenv("AUTOCODER_ARTIFACTS_KEEP_DAYS", "30")

	cfg := Load()
	assert.Equal(t, 14, cfg.LogsKeepDays)
	assert.Equal(t, 30, cfg.ArtifactsKeepDays)
}
