package window

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sean618/SerialProtocol/pkg/frame"
	"github.com/sean618/SerialProtocol/pkg/identity"
)

const (
	nodeA identity.NodeId = 0
	nodeB identity.NodeId = 1
)

func newPair(t *testing.T) (*Protocol, *Protocol) {
	t.Helper()
	a, err := New(nodeA, []identity.NodeId{nodeB}, 8, 1.0, 4096, 4096, nil)
	assert.NoError(t, err)
	b, err := New(nodeB, []identity.NodeId{nodeA}, 8, 1.0, 4096, 4096, nil)
	assert.NoError(t, err)
	return a, b
}

// deliver decodes every frame in wire and dispatches windowed-protocol
// payloads addressed to `to` into its ProcessRx.
func deliver(t *testing.T, to *Protocol, toID identity.NodeId, wire []byte) {
	t.Helper()
	for len(wire) > 0 {
		f, consumed, err := frame.Decode(wire)
		wire = wire[consumed:]
		if err != nil {
			continue
		}
		if f.Dst != byte(toID) {
			continue
		}
		to.ProcessRx(identity.NodeId(f.Src), f.Payload)
	}
}

func TestRejectsOversizeWindow(t *testing.T) {
	_, err := New(nodeA, nil, 129, 1.0, 1024, 1024, nil)
	assert.ErrorIs(t, err, ErrWindowSizeTooLarge)
}

func TestHandshakeThenDataDelivery(t *testing.T) {
	a, b := newPair(t)

	n, err := a.SubmitFrame(nodeB, []byte("hello"))
	assert.NoError(t, err)
	assert.Zero(t, n) // refused: handshake not complete yet

	// a -> b: INITIALISE
	wire := a.ProcessTx(0, 256)
	deliver(t, b, nodeB, wire)

	// b -> a: INITIALISED, followed by b's own INITIALISE (queued after the
	// first direct-buffer drain and sent from the leftover budget)
	wire = b.ProcessTx(0, 256)
	deliver(t, a, nodeA, wire)

	// b -> a: nothing new; b's INITIALISE is not resent within the wrap dwell
	wire = b.ProcessTx(0, 256)
	deliver(t, a, nodeA, wire)

	// a -> b: INITIALISED
	wire = a.ProcessTx(0, 256)
	deliver(t, b, nodeB, wire)

	n, err = a.SubmitFrame(nodeB, []byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	wire = a.ProcessTx(0, 256)
	deliver(t, b, nodeB, wire)

	got := b.RxFrames(nodeA)
	assert.Equal(t, [][]byte{[]byte("hello")}, got)

	// b's ACK flows back to a and removes the window entry.
	wire = b.ProcessTx(0, 256)
	deliver(t, a, nodeA, wire)
	assert.Zero(t, a.win.queuedEntries())
}

func TestOutOfOrderFrameIsDiscardedAndRepeatsAck(t *testing.T) {
	p, err := New(nodeB, []identity.NodeId{nodeA}, 8, 1.0, 4096, 4096, nil)
	assert.NoError(t, err)
	p.links[nodeA].ingressInitialised = true
	p.links[nodeA].expRxSeq = 5

	p.ProcessRx(nodeA, []byte{byte(TypeFrame), 'x', 9})

	assert.Empty(t, p.RxFrames(nodeA))
	wire := p.direct
	buf := make([]byte, 64)
	n := wire.Read(buf)
	f, _, err := frame.Decode(buf[:n])
	assert.NoError(t, err)
	assert.Equal(t, []byte{byte(TypeAck), 4}, f.Payload) // (exp_rx_seq - 1) mod 256
}

func TestAckIdempotentDoesNotDoubleAdvance(t *testing.T) {
	b := newWindowBuffer(8, 1.0, 4096)
	b.submit(0, nodeB, []byte{0xAA})
	b.submit(1, nodeB, []byte{0xBB})

	b.ack(nodeB, 0)
	assert.Equal(t, 1, b.queuedEntries())

	b.ack(nodeB, 0) // repeat: no-op, nothing left matches
	assert.Equal(t, 1, b.queuedEntries())
}

func TestAckBlocksOnlyMatchingDestinationHeadOfLine(t *testing.T) {
	b := newWindowBuffer(8, 1.0, 4096)
	b.submit(0, nodeA, []byte{0x01})
	b.submit(0, nodeB, []byte{0x02})
	b.submit(1, nodeB, []byte{0x03})

	// Acking nodeB's seq 1 removes both of nodeB's entries but must not
	// touch nodeA's independent, still-unacked queue.
	b.ack(nodeB, 1)
	assert.Equal(t, 1, b.queuedEntries())
	assert.Len(t, b.queues[nodeA].entries, 1)
	assert.Empty(t, b.queues[nodeB].entries)
}

func TestStuckDestinationDoesNotBlockTransmissionToOthers(t *testing.T) {
	b := newWindowBuffer(1, 1.0, 4096)
	b.submit(0, nodeA, []byte{0x01})
	_ = b.drain(0.0, 64) // nodeA's only entry sent, cursor now at its wrap limit

	b.submit(0, nodeB, []byte{0x02})
	// nodeA never ACKs and is mid wrap-dwell; nodeB's fresh entry must
	// still go out this tick since the destinations are independent queues.
	out := b.drain(0.1, 64)
	assert.Equal(t, []byte{0x02}, out)
}

func TestWrapRetransmitsAfterDwell(t *testing.T) {
	b := newWindowBuffer(2, 1.0, 4096)
	b.submit(0, nodeA, []byte{0x01})

	first := b.drain(0.0, 64)
	assert.Equal(t, []byte{0x01}, first)

	// Cursor reached the end of the (size-1) queue; immediate redrain is
	// still within the wrap dwell and yields nothing.
	again := b.drain(0.1, 64)
	assert.Empty(t, again)

	retransmit := b.drain(1.5, 64)
	assert.Equal(t, []byte{0x01}, retransmit)
}
