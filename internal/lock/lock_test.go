package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestAcquireAndReleaseRoundTrip(t *testing.T) {
	s := newTestService(t)
	key := CanonicalKey("src/app.py")

	require.NoError(t, s.Acquire(key, "agent-1"))
	holder, err := s.Holder(key)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", holder)

	require.NoError(t, s.Release(key, "agent-1"))
	holder, err = s.Holder(key)
	require.NoError(t, err)
	assert.Equal(t, "", holder)
}

func TestAcquireIsIdempotentPerHolder(t *testing.T) {
	s := newTestService(t)
	key := CanonicalKey("src/app.py")

	require.NoError(t, s.Acquire(key, "agent-1"))
	require.NoError(t, s.Acquire(key, "agent-1"), "re-acquiring your own lock must succeed")
}

func TestAcquireRejectsOtherHolder(t *testing.T) {
	s := newTestService(t)
	key := CanonicalKey("src/app.py")

	require.NoError(t, s.Acquire(key, "agent-1"))
	err := s.Acquire(key, "agent-2")
	assert.ErrorIs(t, err, ErrHeldByOther)
}

func TestReleaseRejectsNonHolder(t *testing.T) {
	s := newTestService(t)
	key := CanonicalKey("src/app.py")

	require.NoError(t, s.Acquire(key, "agent-1"))
	err := s.Release(key, "agent-2")
	assert.ErrorIs(t, err, ErrHeldByOther)
}

func TestReclaimAllReleasesOnlyThatAgent(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Acquire(CanonicalKey("a.py"), "agent-1"))
	require.NoError(t, s.Acquire(CanonicalKey("b.py"), "agent-1"))
	require.NoError(t, s.Acquire(CanonicalKey("c.py"), "agent-2"))

	n, err := s.ReclaimAll("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	holder, err := s.Holder(CanonicalKey("c.py"))
	require.NoError(t, err)
	assert.Equal(t, "agent-2", holder)
}
