package cleanup

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, remover func(string) error) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cleanup_queue.json")
	q, err := NewQueue(path, remover, WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	require.NoError(t, err)
	return q
}

func TestEnqueueAndProcessSucceeds(t *testing.T) {
	removed := map[string]bool{}
	q := newTestQueue(t, func(p string) error {
		removed[p] = true
		return nil
	})

	require.NoError(t, q.Enqueue("/tmp/worktrees/agent-1"))
	assert.Equal(t, 1, q.Len())

	time.Sleep(15 * time.Millisecond)
	n, err := q.Process(10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, q.Len())
	assert.True(t, removed["/tmp/worktrees/agent-1"])
}

func TestProcessSkipsNotYetDueItems(t *testing.T) {
	q := newTestQueue(t, func(p string) error { return nil })
	require.NoError(t, q.Enqueue("/tmp/worktrees/agent-1"))

	n, err := q.Process(10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "item should not be due yet")
	assert.Equal(t, 1, q.Len())
}

func TestProcessReschedulesFailuresWithBackoff(t *testing.T) {
	attempts := 0
	q := newTestQueue(t, func(p string) error {
		attempts++
		return errors.New("file locked")
	})
	require.NoError(t, q.Enqueue("/tmp/worktrees/agent-1"))

	time.Sleep(15 * time.Millisecond)
	n, err := q.Process(10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, attempts)
}

func TestQueuePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cleanup_queue.json")
	q1, err := NewQueue(path, func(string) error { return nil })
	require.NoError(t, err)
	require.NoError(t, q1.Enqueue("/tmp/worktrees/agent-1"))

	q2, err := NewQueue(path, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, q2.Len())
}

func TestBackoffForDoublesAndCaps(t *testing.T) {
	q := newTestQueue(t, func(string) error { return nil })
	assert.Equal(t, 10*time.Millisecond, q.backoffFor(1))
	assert.Equal(t, 20*time.Millisecond, q.backoffFor(2))
	assert.Equal(t, 40*time.Millisecond, q.backoffFor(3))
	assert.Equal(t, 50*time.Millisecond, q.backoffFor(4), "should cap at max")
}
