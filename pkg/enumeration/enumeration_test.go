package enumeration

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sean618/SerialProtocol/pkg/clock"
	"github.com/sean618/SerialProtocol/pkg/identity"
)

// driveToConvergence runs every protocol's ProcessTx/ProcessRx/Tick against
// a trivial all-to-all broadcast (no framing, no loss) until every node has
// finished or maxSteps is exhausted.
func driveToConvergence(t *testing.T, protos []*Protocol, clk *clock.Simulated, uuidWidth int, maxSteps int) {
	t.Helper()
	for step := 0; step < maxSteps; step++ {
		allFinished := true
		var frames [][]byte
		for _, p := range protos {
			frames = append(frames, p.ProcessTx())
			if !p.Finished() {
				allFinished = false
			}
		}
		for _, f := range frames {
			if f == nil {
				continue
			}
			for _, p := range protos {
				p.ProcessRx(f[1:], uuidWidth)
			}
		}
		for _, p := range protos {
			p.Tick()
		}
		clk.Advance(1)
		if allFinished {
			return
		}
	}
}

func TestThreeNodeUUIDScenarioConvergesToAscendingIndices(t *testing.T) {
	clk := clock.NewSimulated(1000)
	uuids := []identity.UUID{{7}, {3}, {9}}
	protos := make([]*Protocol, len(uuids))
	for i, u := range uuids {
		protos[i] = New(clk, u, int64(100+i), 0.05, 4)
	}

	driveToConvergence(t, protos, clk, 1, 20000)

	for _, p := range protos {
		assert.True(t, p.Finished())
	}
	assert.Equal(t, identity.NodeId(1), protos[0].NodeID()) // uuid 7
	assert.Equal(t, identity.NodeId(0), protos[1].NodeID()) // uuid 3
	assert.Equal(t, identity.NodeId(2), protos[2].NodeID()) // uuid 9
	for _, p := range protos {
		assert.Equal(t, 3, p.PeerCount())
	}
}

func TestTwoNodeEnumerationConverges(t *testing.T) {
	clk := clock.NewSimulated(1000)
	a := New(clk, identity.UUID{1}, 10, 0.05, 4)
	b := New(clk, identity.UUID{2}, 20, 0.05, 4)

	driveToConvergence(t, []*Protocol{a, b}, clk, 1, 10000)

	assert.True(t, a.Finished())
	assert.True(t, b.Finished())
	assert.Equal(t, identity.NodeId(0), a.NodeID())
	assert.Equal(t, identity.NodeId(1), b.NodeID())
}

func TestFiftyNodeEnumerationConverges(t *testing.T) {
	const n = 50
	clk := clock.NewSimulated(1000)
	protos := make([]*Protocol, n)
	for i := 0; i < n; i++ {
		protos[i] = New(clk, identity.UUID{byte(i)}, int64(i+1), 0.05, 4)
	}

	driveToConvergence(t, protos, clk, 1, 200000)

	for i, p := range protos {
		assert.Truef(t, p.Finished(), "node %d never finished", i)
		assert.Equal(t, identity.NodeId(i), p.NodeID())
	}
}

func TestLateJoinerResetsFinishedPeers(t *testing.T) {
	clk := clock.NewSimulated(1000)
	a := New(clk, identity.UUID{1}, 10, 0.05, 4)
	b := New(clk, identity.UUID{2}, 20, 0.05, 4)
	driveToConvergence(t, []*Protocol{a, b}, clk, 1, 10000)
	assert.True(t, a.Finished())
	assert.True(t, b.Finished())

	c := New(clk, identity.UUID{0}, 30, 0.05, 4)
	// c's own transmissions reach a and b directly; a and b's subsequent
	// transmissions (once unfinished again) reach each other and c.
	driveToConvergence(t, []*Protocol{a, b, c}, clk, 1, 20000)

	assert.True(t, a.Finished())
	assert.True(t, b.Finished())
	assert.True(t, c.Finished())
	assert.Equal(t, identity.NodeId(0), c.NodeID()) // uuid 0 sorts first
	assert.Equal(t, identity.NodeId(1), a.NodeID()) // uuid 1
	assert.Equal(t, identity.NodeId(2), b.NodeID()) // uuid 2
}

func TestProcessTxReturnsNilOnceFinished(t *testing.T) {
	clk := clock.NewSimulated(1000)
	a := New(clk, identity.UUID{1}, 10, 0.05, 4)
	b := New(clk, identity.UUID{2}, 20, 0.05, 4)
	driveToConvergence(t, []*Protocol{a, b}, clk, 1, 10000)
	assert.True(t, a.Finished())

	for i := 0; i < 100; i++ {
		assert.Nil(t, a.ProcessTx())
		clk.Advance(1)
	}
}
