package worktree

import "errors"

// Sentinel errors for the worktree package. Using sentinels instead of
// ad-hoc fmt.Errorf allows callers to match with errors.Is for reliable
// error handling.
var (
	// ErrNotGitRepo is returned when the project directory is not inside a
	// git repository.
	ErrNotGitRepo = errors.New("worktree: not a git repository")

	// ErrNoBaseRef is returned when neither main nor master exists and no
	// branch_name was given to resume from.
	ErrNoBaseRef = errors.New("worktree: no main or master branch found")

	// ErrWorktreeCollision is returned by CreateWorktree when git reports
	// that the worktree path or branch already exists; no retry is made.
	ErrWorktreeCollision = errors.New("worktree: failed to create unique worktree path")

	// ErrMergeConflict reports a merge conflict in a worktree. No function
	// in this package returns it.
	ErrMergeConflict = errors.New("worktree: merge conflict")

	// ErrWorktreeNotFound reports an agent_id with no known worktree. No
	// function in this package returns it.
	ErrWorktreeNotFound = errors.New("worktree: no worktree for agent")

	// ErrLocked is returned by DeleteWorktree when removal fails because
	// files are locked by another process; the caller should enqueue the
	// path for deferred cleanup instead of treating this as fatal.
	ErrLocked = errors.New("worktree: removal blocked by locked files")
)
