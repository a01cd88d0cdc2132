// Package cleanup maintains the persistent queue of worktree paths that
// could not be removed immediately because files were locked, retrying them
// with exponential backoff until they succeed.
package cleanup

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/autocoder-run/core/internal/worker"
)

// Item is one pending removal.
type Item struct {
	Path       string    `json:"path"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	NextTryAt  time.Time `json:"next_try_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// Queue is a file-backed FIFO of locked-worktree removal attempts, persisted
// as JSON so pending cleanups survive an Orchestrator restart.
type Queue struct {
	mu       sync.Mutex
	path     string
	items    []Item
	initial  time.Duration
	max      time.Duration
	remover  func(path string) error
}

// Option configures non-default backoff bounds; NewQueue's defaults match
// the documented 5s/10s/20s/... capped-at-10-minutes schedule.
type Option func(*Queue)

// WithBackoff overrides the initial delay and cap.
func WithBackoff(initial, max time.Duration) Option {
	return func(q *Queue) { q.initial = initial; q.max = max }
}

// NewQueue loads path (creating an empty queue file if absent). remover
// performs the actual filesystem removal and is swappable in tests.
func NewQueue(path string, remover func(string) error, opts ...Option) (*Queue, error) {
	q := &Queue{
		path:    path,
		initial: 5 * time.Second,
		max:     10 * time.Minute,
		remover: remover,
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		q.items = nil
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		q.items = nil
		return nil
	}
	return json.Unmarshal(data, &q.items)
}

func (q *Queue) save() error {
	if dir := filepath.Dir(q.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(q.items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(q.path, data, 0o644)
}

// Enqueue adds path to the queue (or resets its schedule if already queued),
// eligible for its first retry after the initial backoff delay.
func (q *Queue) Enqueue(path string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for i := range q.items {
		if q.items[i].Path == path {
			q.items[i].NextTryAt = now.Add(q.initial)
			return q.save()
		}
	}
	q.items = append(q.items, Item{
		Path:       path,
		EnqueuedAt: now,
		NextTryAt:  now.Add(q.initial),
	})
	return q.save()
}

// Len reports the number of queued paths.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// backoffFor computes 5s, 10s, 20s, ... capped at max, for the given attempt
// count (1-indexed).
func (q *Queue) backoffFor(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(q.initial) * math.Pow(2, float64(attempts-1)))
	if d > q.max {
		return q.max
	}
	return d
}

// Process attempts removal of up to maxItems due items, in parallel via a
// worker pool, and reschedules failures with the next backoff step. Returns
// the number of paths successfully removed.
func (q *Queue) Process(maxItems int) (int, error) {
	q.mu.Lock()
	now := time.Now()
	var due []Item
	var notDue []Item
	for _, item := range q.items {
		if len(due) < maxItems && !item.NextTryAt.After(now) {
			due = append(due, item)
		} else {
			notDue = append(notDue, item)
		}
	}
	q.mu.Unlock()

	if len(due) == 0 {
		return 0, nil
	}

	paths := make([]string, len(due))
	for i, item := range due {
		paths[i] = item.Path
	}

	pool := worker.NewPool[bool](0)
	results := pool.Process(paths, func(path string) (bool, error) {
		return true, q.remover(path)
	})

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	remaining := append([]Item{}, notDue...)
	for i, res := range results {
		item := due[i]
		if res.Err == nil {
			removed++
			continue
		}
		item.Attempts++
		item.LastError = res.Err.Error()
		item.NextTryAt = time.Now().Add(q.backoffFor(item.Attempts))
		remaining = append(remaining, item)
	}
	q.items = remaining
	if err := q.save(); err != nil {
		return removed, err
	}
	return removed, nil
}
