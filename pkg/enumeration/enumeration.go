// Package enumeration implements the leaderless peer-discovery protocol:
// every participating node converges on an identical sorted UUID list and
// learns its own dense index within it, with no master election beyond
// "lowest UUID transmits".
package enumeration

import (
	"math/rand"

	"github.com/sean618/SerialProtocol/pkg/clock"
	"github.com/sean618/SerialProtocol/pkg/identity"
)

// Marker is the leading byte of an enumeration frame's payload (carried in
// the frame codec's src slot), distinguishing it from any data frame whose
// leading destination byte is a real, enumerated NodeId.
const Marker = 0xFF

// Protocol runs the enumeration state machine for one node.
type Protocol struct {
	clock clock.Clock
	uuid  identity.UUID
	rng   *rand.Rand

	maxTimeBetweenFrames float64
	finishedWaitTime     float64

	sortedUUIDs   *identity.SortedList
	receivedOwn   bool
	finished      bool
	nodeID        identity.NodeId
	nextTxTime    float64
	finishedTime  float64
	numTimesReset int
}

// New constructs a Protocol. maxTimeBetweenFrames is T_MAX; finishedWaitMultiplier
// scales it into the quiescence window (4 per the protocol's default).
func New(c clock.Clock, uuid identity.UUID, rngSeed int64, maxTimeBetweenFrames float64, finishedWaitMultiplier float64) *Protocol {
	p := &Protocol{
		clock:                c,
		uuid:                 uuid,
		rng:                  rand.New(rand.NewSource(rngSeed)),
		maxTimeBetweenFrames: maxTimeBetweenFrames,
		finishedWaitTime:     maxTimeBetweenFrames * finishedWaitMultiplier,
	}
	p.resetState()
	return p
}

func (p *Protocol) resetState() {
	p.numTimesReset++
	p.nextTxTime = 0
	p.finishedTime = 0
	p.sortedUUIDs = identity.NewSortedList(p.uuid)
	p.receivedOwn = false
	p.finished = false
	p.nodeID = identity.Unenumerated
}

// Finished reports whether this node has settled on a node ID.
func (p *Protocol) Finished() bool {
	return p.finished
}

// NodeID returns this node's dense ID. Valid only once Finished returns true.
func (p *Protocol) NodeID() identity.NodeId {
	return p.nodeID
}

// PeerCount returns the number of distinct UUIDs currently known, including
// this node's own.
func (p *Protocol) PeerCount() int {
	return p.sortedUUIDs.Len()
}

// encodeFrame builds this node's current enum frame payload: 0xFF followed
// by every known UUID in ascending order.
func (p *Protocol) encodeFrame() []byte {
	uuids := p.sortedUUIDs.All()
	out := make([]byte, 0, 1+len(uuids)*len(p.uuid))
	out = append(out, Marker)
	for _, u := range uuids {
		out = append(out, u...)
	}
	return out
}

// ProcessTx is called once per tick. It returns a non-nil enum frame
// payload when this node should transmit this tick.
func (p *Protocol) ProcessTx() []byte {
	if p.finished {
		return nil
	}
	if p.clock.Time() <= p.nextTxTime {
		return nil
	}
	p.nextTxTime = p.clock.Time() + p.maxTimeBetweenFrames*p.rng.Float64()

	isMaster := p.uuid.Equal(p.sortedUUIDs.Min())
	if isMaster || !p.receivedOwn {
		return p.encodeFrame()
	}
	return nil
}

// ProcessRx handles one received enum frame payload (the bytes after the
// 0xFF marker, i.e. the concatenated UUID list) and re-evaluates
// completion. uuidWidth is the configured wire width of each UUID.
func (p *Protocol) ProcessRx(payload []byte, uuidWidth int) {
	if p.finished {
		p.resetState()
	}
	p.handleFrame(payload, uuidWidth)
	p.checkFinished()
}

// Tick re-evaluates completion even when no frame arrived this tick, since
// the finished deadline is purely time-driven.
func (p *Protocol) Tick() {
	if !p.finished {
		p.checkFinished()
	}
}

func (p *Protocol) handleFrame(payload []byte, uuidWidth int) {
	count := len(payload) / uuidWidth
	for i := 0; i < count; i++ {
		u := identity.FromBytes(payload[i*uuidWidth : (i+1)*uuidWidth])
		if !p.sortedUUIDs.Contains(u) {
			p.sortedUUIDs.Merge([]identity.UUID{u})
			p.finishedTime = p.clock.Time() + p.finishedWaitTime
		}
		if u.Equal(p.uuid) {
			p.receivedOwn = true
		}
	}
}

func (p *Protocol) checkFinished() {
	if p.clock.Time() <= p.finishedTime || p.sortedUUIDs.Len() <= 1 {
		return
	}
	if p.receivedOwn || p.uuid.Equal(p.sortedUUIDs.Min()) {
		p.finished = true
		idx, _ := p.sortedUUIDs.IndexOf(p.uuid)
		p.nodeID = identity.NodeId(idx)
	}
}
