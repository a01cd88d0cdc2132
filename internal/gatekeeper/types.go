package gatekeeper

import "time"

// CommandResult is the outcome of one verification command.
type CommandResult struct {
	Command   string `json:"command"`
	Category  string `json:"category"`
	Passed    bool   `json:"passed"`
	AllowFail bool   `json:"allow_fail"`
	ExitCode  int    `json:"exit_code"`
	Output    string `json:"output"`
	Note      string `json:"note,omitempty"`
	DurationS float64 `json:"duration_s"`
}

// Result is the full outcome of a VerifyAndMerge or VerifyCommandsOnly call,
// persisted verbatim as the Orchestrator's evidence packet.
type Result struct {
	Approved        bool                      `json:"approved"`
	Reason          string                    `json:"reason"`
	Verification    map[string]CommandResult  `json:"verification"`
	MergeCommit     string                    `json:"merge_commit,omitempty"`
	DiffFingerprint string                    `json:"diff_fingerprint"`
	ArtifactPath    string                    `json:"artifact_path"`
	Timestamp       time.Time                 `json:"timestamp"`
	MergeConflict   bool                      `json:"merge_conflict,omitempty"`
	PushFailed      bool                      `json:"push_failed,omitempty"`
}

// Options carries the arguments to VerifyAndMerge. BranchName is required;
// everything else falls back to environment/config defaults.
type Options struct {
	BranchName          string
	WorktreePath        string
	AgentID             string
	FeatureID           int64
	MainBranch          string
	FetchRemote         bool
	PushRemote          bool
	AllowNoTests        bool
	DeleteFeatureBranch bool
}
