package store

import "errors"

// Sentinel errors for the store package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error
// handling, and lets the Orchestrator distinguish "lost the claim race" from
// "storage is broken".
var (
	// ErrNotClaimed is returned by ClaimNextPendingFeature when a claim's
	// guarded UPDATE loses a race to another caller after max_attempts
	// retries, and by ClaimNextPendingFeature when no feature is runnable.
	ErrNotClaimed = errors.New("store: no feature claimed")

	// ErrFeatureNotFound is returned when a feature ID does not exist.
	ErrFeatureNotFound = errors.New("store: feature not found")

	// ErrAgentNotFound is returned when an agent_id has no heartbeat row.
	ErrAgentNotFound = errors.New("store: agent not found")

	// ErrInvalidTransition is returned when a lifecycle method is called on
	// a feature whose current status makes the transition invalid.
	ErrInvalidTransition = errors.New("store: invalid feature status transition")
)
