package portalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noProbeAllocator() *Allocator {
	a := New(Range{Start: 6000, End: 6010}, Range{Start: 7000, End: 7010}, false)
	return a
}

func TestAllocatePortsAssignsDistinctPairs(t *testing.T) {
	a := noProbeAllocator()

	p1, err := a.AllocatePorts("agent-1")
	require.NoError(t, err)
	p2, err := a.AllocatePorts("agent-2")
	require.NoError(t, err)

	assert.NotEqual(t, p1.APIPort, p2.APIPort)
	assert.NotEqual(t, p1.WebPort, p2.WebPort)
}

func TestAllocatePortsIdempotentPerAgent(t *testing.T) {
	a := noProbeAllocator()
	p1, err := a.AllocatePorts("agent-1")
	require.NoError(t, err)
	p2, err := a.AllocatePorts("agent-1")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestReleasePortsAllowsReuse(t *testing.T) {
	a := New(Range{Start: 6000, End: 6001}, Range{Start: 7000, End: 7001}, false)
	p1, err := a.AllocatePorts("agent-1")
	require.NoError(t, err)

	a.ReleasePorts("agent-1")

	p2, err := a.AllocatePorts("agent-2")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestAllocatePortsRangeExhausted(t *testing.T) {
	a := New(Range{Start: 6000, End: 6001}, Range{Start: 7000, End: 7010}, false)
	_, err := a.AllocatePorts("agent-1")
	require.NoError(t, err)

	_, err = a.AllocatePorts("agent-2")
	assert.ErrorIs(t, err, ErrRangeExhausted)
}

func TestReservePortsRejectsConflict(t *testing.T) {
	a := noProbeAllocator()
	require.NoError(t, a.ReservePorts("agent-1", 6001, 7001))

	err := a.ReservePorts("agent-2", 6001, 7002)
	assert.Error(t, err)
}

type fakeHeartbeatSource struct{ agents []ActiveAgentPorts }

func (f fakeHeartbeatSource) GetActiveAgents() ([]ActiveAgentPorts, error) { return f.agents, nil }

func TestBootstrapReservesExistingPorts(t *testing.T) {
	a := New(Range{Start: 6000, End: 6002}, Range{Start: 7000, End: 7002}, false)
	require.NoError(t, a.Bootstrap(fakeHeartbeatSource{agents: []ActiveAgentPorts{
		{AgentID: "agent-1", APIPort: 6000, WebPort: 7000},
	}}))

	p, err := a.AllocatePorts("agent-2")
	require.NoError(t, err)
	assert.Equal(t, 6001, p.APIPort)
	assert.Equal(t, 7001, p.WebPort)
}
