package procwatch

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreationTimeForSelf(t *testing.T) {
	pid := os.Getpid()
	created, err := CreationTime(pid)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), created, time.Hour, "test process should have started recently")
}

func TestCommandLineForSelf(t *testing.T) {
	pid := os.Getpid()
	cmdline, err := CommandLine(pid)
	require.NoError(t, err)
	assert.NotEmpty(t, cmdline)
}

func TestIsRunningForSelfAndBogusPID(t *testing.T) {
	assert.True(t, IsRunning(os.Getpid()))
	assert.False(t, IsRunning(999999999))
}

func TestIsSameProcessDetectsMismatchOnStalePID(t *testing.T) {
	pid := os.Getpid()
	created, err := CreationTime(pid)
	require.NoError(t, err)

	// A recorded creation time far in the past should look like a reused PID.
	assert.False(t, IsSameProcess(pid, "", created.Add(-time.Hour), time.Second))

	// Within tolerance and with no entry-point filter, it matches.
	assert.True(t, IsSameProcess(pid, "", created, time.Minute))
}
