package tdm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sean618/SerialProtocol/pkg/clock"
	"github.com/sean618/SerialProtocol/pkg/identity"
)

func TestSlotsDoNotOverlap(t *testing.T) {
	c := clock.NewSimulated(1000)
	const timePerNode = 0.1
	const margin = 0.01
	nodes := make([]*Protocol, 4)
	for i := range nodes {
		nodes[i] = New(c, identity.NodeId(i), len(nodes), timePerNode, margin, 1.0, 0, Midpoint)
	}

	// Sweep one full cycle at fine resolution; at most one node may report
	// itself in-slot at any instant.
	cycle := timePerNode * float64(len(nodes))
	steps := int(cycle / 0.001)
	for s := 0; s < steps; s++ {
		c.SetTime(float64(s) * 0.001)
		inSlot := 0
		for _, n := range nodes {
			if n.InSlot() {
				inSlot++
			}
		}
		assert.LessOrEqual(t, inSlot, 1)
	}
}

func TestMidpointResyncHalvesOffset(t *testing.T) {
	master := clock.NewSimulated(1_000_000)
	master.SetTime(1.000000)
	slave := clock.NewSimulated(1_000_000)
	slave.SetTime(1.001000)

	p := New(slave, 0, 2, 1.0, 0, 10.0, 0, Midpoint)
	payload := encodeSync(master.Time())
	assert.Equal(t, byte(SyncMarker), payload[0])

	err := p.ProcessRx(payload[1:])
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, slave.Time(), 1.0000)
	assert.LessOrEqual(t, slave.Time(), 1.0005)
}

func TestDirectResyncSetsExactTime(t *testing.T) {
	master := clock.NewSimulated(1_000_000)
	master.SetTime(5.25)
	slave := clock.NewSimulated(1_000_000)
	slave.SetTime(1.0)

	p := New(slave, 0, 2, 1.0, 0, 10.0, 0, Direct)
	err := p.ProcessRx(encodeSync(master.Time())[1:])
	assert.NoError(t, err)
	assert.InDelta(t, 5.25, slave.Time(), 1e-6)
}

func TestProcessRxRejectsShortPayload(t *testing.T) {
	p := New(clock.NewSimulated(1000), 0, 2, 1.0, 0, 10.0, 0, Direct)
	err := p.ProcessRx([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortSyncPayload)
}
