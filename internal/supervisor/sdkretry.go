package supervisor

import (
	"math/rand"
	"strings"
	"time"
)

// SDKErrorClass categorizes an error surfaced by the agent SDK/engine so the
// Supervisor can decide whether — and how long — to back off before the next
// attempt. This classification and its backoff schedule are independent of
// the feature-retry backoff (internal/store) and the cleanup-queue backoff
// (internal/cleanup); none of the three share code or constants.
type SDKErrorClass int

const (
	SDKErrorGeneral SDKErrorClass = iota
	SDKErrorRateLimit
	SDKErrorTimeout
	SDKErrorConnection
)

// ClassifySDKError inspects an error message reported by a worker and
// classifies it for backoff purposes.
func ClassifySDKError(message string) SDKErrorClass {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return SDKErrorRateLimit
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") || strings.Contains(lower, "deadline exceeded"):
		return SDKErrorTimeout
	case strings.Contains(lower, "connection reset") || strings.Contains(lower, "connection refused") || strings.Contains(lower, "econnreset") || strings.Contains(lower, "broken pipe"):
		return SDKErrorConnection
	default:
		return SDKErrorGeneral
	}
}

// SDKRetryPolicy mirrors AUTOCODER_SDK_MAX_ATTEMPTS / _INITIAL_DELAY_S /
// _MAX_DELAY_S / _EXPONENTIAL_BASE / _JITTER / _RATE_LIMIT_INITIAL_DELAY_S.
type SDKRetryPolicy struct {
	MaxAttempts           int
	InitialDelay          time.Duration
	RateLimitInitialDelay time.Duration
	MaxDelay              time.Duration
	ExponentialBase       float64
	Jitter                bool
}

// DefaultSDKRetryPolicy matches the spec's documented defaults: 3/1s/60s/2/on/30s.
func DefaultSDKRetryPolicy() SDKRetryPolicy {
	return SDKRetryPolicy{
		MaxAttempts:           3,
		InitialDelay:          1 * time.Second,
		RateLimitInitialDelay: 30 * time.Second,
		MaxDelay:              60 * time.Second,
		ExponentialBase:       2,
		Jitter:                true,
	}
}

// SDKBackoffDelay computes the delay before SDK retry attempt N (1-based),
// using a ±25% jitter band distinct from the feature-retry (±30%) and
// cleanup-queue (no jitter) schedules. Rate-limit errors start from their
// own, typically much longer, initial delay.
func SDKBackoffDelay(policy SDKRetryPolicy, attempt int, class SDKErrorClass) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := policy.InitialDelay
	if class == SDKErrorRateLimit {
		initial = policy.RateLimitInitialDelay
	}

	delay := float64(initial)
	for i := 1; i < attempt; i++ {
		delay *= policy.ExponentialBase
	}
	if max := float64(policy.MaxDelay); delay > max {
		delay = max
	}
	if policy.Jitter {
		delay *= 1 + (rand.Float64()*0.5 - 0.25)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ShouldRetrySDKError reports whether attempt (1-based, the attempt about to
// be made) is still within policy.MaxAttempts.
func ShouldRetrySDKError(policy SDKRetryPolicy, attempt int) bool {
	return attempt <= policy.MaxAttempts
}
