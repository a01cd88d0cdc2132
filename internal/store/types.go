package store

import "time"

// FeatureStatus is the lifecycle state of a Feature.
type FeatureStatus string

const (
	StatusPending    FeatureStatus = "PENDING"
	StatusInProgress FeatureStatus = "IN_PROGRESS"
	StatusDone       FeatureStatus = "DONE"
	StatusBlocked    FeatureStatus = "BLOCKED"
)

// ReviewStatus tracks a Feature's progress through Gatekeeper verification.
type ReviewStatus string

const (
	ReviewPending              ReviewStatus = "PENDING"
	ReviewReadyForVerification ReviewStatus = "READY_FOR_VERIFICATION"
	ReviewVerified             ReviewStatus = "VERIFIED"
)

// AgentStatus is the liveness state of a worker process, as tracked by its
// heartbeat row.
type AgentStatus string

const (
	AgentActive    AgentStatus = "ACTIVE"
	AgentCompleted AgentStatus = "COMPLETED"
	AgentCrashed   AgentStatus = "CRASHED"
)

// Feature is one unit of backlog work.
type Feature struct {
	ID          int64
	Name        string
	Description string
	Category    string
	Steps       []string
	Priority    int

	Status       FeatureStatus
	Passes       bool
	ReviewStatus ReviewStatus

	AssignedAgentID string
	AssignedAt      *time.Time
	BranchName      string

	Attempts          int
	LastError         string
	NextAttemptAt     *time.Time
	LastErrorKey      string
	SameErrorStreak   int
	LastArtifactPath  string
	LastDiffFingerprint string
	SameDiffStreak    int
	QAAttempts        int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// NewFeature is the input to CreateFeature / CreateFeaturesBulk; DependsOn
// lists the feature IDs the new feature depends on.
type NewFeature struct {
	Name        string
	Description string
	Category    string
	Steps       []string
	Priority    int
	DependsOn   []int64
}

// AgentHeartbeat is the liveness/binding record for one worker process.
type AgentHeartbeat struct {
	AgentID           string
	LastPing          time.Time
	Status            AgentStatus
	WorktreePath      string
	FeatureID         int64
	PID               int
	StartedAt         time.Time
	ProcessCreateTime int64 // platform process-start timestamp, for PID-reuse defense
	APIPort           int
	WebPort           int
	LogFilePath       string
}

// Branch is the Gatekeeper's audit trail of one merge.
type Branch struct {
	BranchName string
	FeatureID  int64
	AgentID    string
	CreatedAt  time.Time
	MergedAt   *time.Time
	CommitHash string
}

// Stats is a point-in-time count of features by status.
type Stats struct {
	Pending    int
	InProgress int
	Done       int
	Blocked    int
}

// Progress is a higher-level summary combining Stats with the total feature
// count and the percentage done.
type Progress struct {
	Stats
	Total        int
	PercentDone  float64
}

// PendingQueueState summarizes the PENDING queue for poll-interval tuning,
// so the Orchestrator need not tight-poll an empty or all-backoff queue.
type PendingQueueState struct {
	PendingTotal               int
	ClaimableNow               int
	WaitingBackoff             int
	WaitingDeps                int
	EarliestNextAttemptAt      *time.Time
	ExampleDepBlockedFeatureID int64
}
