// Package config provides configuration management for the AutoCoder
// orchestration engine. EnvConfig is loaded by Load from the defaults,
// overridden by environment variables (AUTOCODER_*); command-line flags are
// handled by cmd/autocoder. The project config (autocoder.yaml in the
// project directory) is loaded separately into ProjectConfig and does not
// feed EnvConfig.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig holds every AUTOCODER_* environment-variable-driven policy knob
// from the orchestrator's external interface. It is read once at process
// startup; business logic never calls os.Getenv directly.
type EnvConfig struct {
	RequireGatekeeper bool
	AllowNoTests      bool
	StopWhenDone      bool

	APIPortRangeStart int
	APIPortRangeEnd   int
	WebPortRangeStart int
	WebPortRangeEnd   int
	SkipPortCheck     bool

	FeatureMaxAttempts          int
	FeatureMaxSameErrorStreak   int
	FeatureMaxSameDiffStreak    int
	FeatureRetryInitialDelay    time.Duration
	FeatureRetryMaxDelay        time.Duration
	FeatureRetryExponentialBase float64
	FeatureRetryJitter          bool

	GuardrailMaxToolCalls            int
	GuardrailMaxConsecutiveToolError int
	GuardrailMaxToolErrors           int

	SDKMaxAttempts           int
	SDKInitialDelay          time.Duration
	SDKMaxDelay              time.Duration
	SDKExponentialBase       float64
	SDKJitter                bool
	SDKRateLimitInitialDelay time.Duration

	LogsKeepDays   int
	LogsKeepFiles  int
	LogsMaxTotalMB int

	ArtifactsKeepDays   int
	ArtifactsKeepFiles  int
	ArtifactsMaxTotalMB int

	MainBranch string
}

// Default returns the documented defaults from the external-interface
// environment-variable table.
func Default() *EnvConfig {
	return &EnvConfig{
		RequireGatekeeper: true,
		AllowNoTests:      false,
		StopWhenDone:      true,

		APIPortRangeStart: 5000,
		APIPortRangeEnd:   5100,
		WebPortRangeStart: 5173,
		WebPortRangeEnd:   5273,
		SkipPortCheck:     false,

		FeatureMaxAttempts:          10,
		FeatureMaxSameErrorStreak:   3,
		FeatureMaxSameDiffStreak:    3,
		FeatureRetryInitialDelay:    10 * time.Second,
		FeatureRetryMaxDelay:        600 * time.Second,
		FeatureRetryExponentialBase: 2,
		FeatureRetryJitter:          true,

		GuardrailMaxToolCalls:            400,
		GuardrailMaxConsecutiveToolError: 25,
		GuardrailMaxToolErrors:           150,

		SDKMaxAttempts:           3,
		SDKInitialDelay:          1 * time.Second,
		SDKMaxDelay:              60 * time.Second,
		SDKExponentialBase:       2,
		SDKJitter:                true,
		SDKRateLimitInitialDelay: 30 * time.Second,

		LogsKeepDays:   7,
		LogsKeepFiles:  200,
		LogsMaxTotalMB: 200,

		ArtifactsKeepDays:   7,
		ArtifactsKeepFiles:  200,
		ArtifactsMaxTotalMB: 200,

		MainBranch: "",
	}
}

// Load resolves the environment-variable surface on top of Default.
func Load() *EnvConfig {
	cfg := Default()
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *EnvConfig) {
	applyBool("AUTOCODER_REQUIRE_GATEKEEPER", &cfg.RequireGatekeeper)
	applyBool("AUTOCODER_ALLOW_NO_TESTS", &cfg.AllowNoTests)
	applyBool("AUTOCODER_STOP_WHEN_DONE", &cfg.StopWhenDone)
	applyBool("AUTOCODER_SKIP_PORT_CHECK", &cfg.SkipPortCheck)

	applyInt("AUTOCODER_API_PORT_RANGE_START", &cfg.APIPortRangeStart)
	applyInt("AUTOCODER_API_PORT_RANGE_END", &cfg.APIPortRangeEnd)
	applyInt("AUTOCODER_WEB_PORT_RANGE_START", &cfg.WebPortRangeStart)
	applyInt("AUTOCODER_WEB_PORT_RANGE_END", &cfg.WebPortRangeEnd)

	applyInt("AUTOCODER_FEATURE_MAX_ATTEMPTS", &cfg.FeatureMaxAttempts)
	applyInt("AUTOCODER_FEATURE_MAX_SAME_ERROR_STREAK", &cfg.FeatureMaxSameErrorStreak)
	applyInt("AUTOCODER_FEATURE_MAX_SAME_DIFF_STREAK", &cfg.FeatureMaxSameDiffStreak)
	applyDuration("AUTOCODER_FEATURE_RETRY_INITIAL_DELAY_S", &cfg.FeatureRetryInitialDelay, time.Second)
	applyDuration("AUTOCODER_FEATURE_RETRY_MAX_DELAY_S", &cfg.FeatureRetryMaxDelay, time.Second)
	applyFloat("AUTOCODER_FEATURE_RETRY_EXPONENTIAL_BASE", &cfg.FeatureRetryExponentialBase)
	applyBool("AUTOCODER_FEATURE_RETRY_JITTER", &cfg.FeatureRetryJitter)

	applyInt("AUTOCODER_GUARDRAIL_MAX_TOOL_CALLS", &cfg.GuardrailMaxToolCalls)
	applyInt("AUTOCODER_GUARDRAIL_MAX_CONSECUTIVE_TOOL_ERRORS", &cfg.GuardrailMaxConsecutiveToolError)
	applyInt("AUTOCODER_GUARDRAIL_MAX_TOOL_ERRORS", &cfg.GuardrailMaxToolErrors)

	applyInt("AUTOCODER_SDK_MAX_ATTEMPTS", &cfg.SDKMaxAttempts)
	applyDuration("AUTOCODER_SDK_INITIAL_DELAY_S", &cfg.SDKInitialDelay, time.Second)
	applyDuration("AUTOCODER_SDK_MAX_DELAY_S", &cfg.SDKMaxDelay, time.Second)
	applyFloat("AUTOCODER_SDK_EXPONENTIAL_BASE", &cfg.SDKExponentialBase)
	applyBool("AUTOCODER_SDK_JITTER", &cfg.SDKJitter)
	applyDuration("AUTOCODER_SDK_RATE_LIMIT_INITIAL_DELAY_S", &cfg.SDKRateLimitInitialDelay, time.Second)

	applyInt("AUTOCODER_LOGS_KEEP_DAYS", &cfg.LogsKeepDays)
	applyInt("AUTOCODER_LOGS_KEEP_FILES", &cfg.LogsKeepFiles)
	applyInt("AUTOCODER_LOGS_MAX_TOTAL_MB", &cfg.LogsMaxTotalMB)

	// Artifacts inherit the logs defaults unless explicitly overridden.
	cfg.ArtifactsKeepDays = cfg.LogsKeepDays
	cfg.ArtifactsKeepFiles = cfg.LogsKeepFiles
	cfg.ArtifactsMaxTotalMB = cfg.LogsMaxTotalMB
	applyInt("AUTOCODER_ARTIFACTS_KEEP_DAYS", &cfg.ArtifactsKeepDays)
	applyInt("AUTOCODER_ARTIFACTS_KEEP_FILES", &cfg.ArtifactsKeepFiles)
	applyInt("AUTOCODER_ARTIFACTS_MAX_TOTAL_MB", &cfg.ArtifactsMaxTotalMB)

	if v := strings.TrimSpace(os.Getenv("AUTOCODER_MAIN_BRANCH")); v != "" {
		cfg.MainBranch = v
	}
}

func applyBool(key string, dst *bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	*dst = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "on")
}

func applyInt(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func applyFloat(key string, dst *float64) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func applyDuration(key string, dst *time.Duration, unit time.Duration) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(n * float64(unit))
	}
}
