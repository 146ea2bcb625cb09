// Package tdm implements time-division multiplexed bus access: once
// enumeration has assigned dense node IDs, each node transmits only inside
// its own slot of a shared cycle, and periodic sync packets bound
// inter-node clock drift.
package tdm

import (
	"encoding/binary"
	"errors"

	"github.com/sean618/SerialProtocol/pkg/clock"
	"github.com/sean618/SerialProtocol/pkg/identity"
)

// SyncMarker is the leading byte of a TDM sync packet's payload; the frame
// codec's src slot carries the sender's node id. The type byte is never
// dropped from the wire payload: it precedes the 10-byte picosecond
// timestamp.
const SyncMarker = 0xAA

const timestampBytes = 10

var ErrShortSyncPayload = errors.New("tdm: sync payload shorter than 10 bytes")

// AdjustMode selects how a received sync packet is applied to the local
// clock. It must be fixed system-wide so every node converges the same way.
type AdjustMode int

const (
	// Direct sets the local clock to the expected time straight away.
	Direct AdjustMode = iota
	// Midpoint nudges the local clock halfway towards the expected time,
	// damping jitter from any single sync packet. This is the preferred
	// default.
	Midpoint
)

// Protocol gates per-node transmit windows and applies sync packets.
type Protocol struct {
	clock  clock.Clock
	nodeID identity.NodeId
	nCount int

	timePerNode      float64
	timeMargin       float64
	timeBetweenSync  float64
	propagationDelay float64
	adjustMode       AdjustMode

	nextSyncTime float64
}

// New constructs a Protocol for a node that already knows its dense ID and
// the total number of enumerated peers.
func New(c clock.Clock, nodeID identity.NodeId, nodeCount int, timePerNode, timeMargin, timeBetweenSync, propagationDelay float64, mode AdjustMode) *Protocol {
	return &Protocol{
		clock:            c,
		nodeID:           nodeID,
		nCount:           nodeCount,
		timePerNode:      timePerNode,
		timeMargin:       timeMargin,
		timeBetweenSync:  timeBetweenSync,
		propagationDelay: propagationDelay,
		adjustMode:       mode,
	}
}

// cycleLength is the total duration of one full round-robin across every
// enumerated node.
func (p *Protocol) cycleLength() float64 {
	return float64(p.nCount) * p.timePerNode
}

// InSlot reports whether the current time falls inside this node's
// transmit window, which ends timeMargin before the next node's slot.
func (p *Protocol) InSlot() bool {
	phase := mod(p.clock.Time(), p.cycleLength())
	start := float64(p.nodeID) * p.timePerNode
	end := start + p.timePerNode - p.timeMargin
	return phase >= start && phase < end
}

func mod(a, b float64) float64 {
	m := a - b*float64(int64(a/b))
	if m < 0 {
		m += b
	}
	return m
}

// ProcessTx returns a non-nil sync packet payload when this node should
// emit one this tick: only while inside its own slot, and at most once per
// timeBetweenSync.
func (p *Protocol) ProcessTx() []byte {
	if !p.InSlot() {
		return nil
	}
	now := p.clock.Time()
	if now < p.nextSyncTime {
		return nil
	}
	p.nextSyncTime = now + p.timeBetweenSync
	return encodeSync(now)
}

func encodeSync(seconds float64) []byte {
	picos := uint64(seconds * 1e12)
	out := make([]byte, 1+timestampBytes)
	out[0] = SyncMarker
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], picos)
	copy(out[1:], buf[:])
	// The two remaining bytes of the 10-byte field are always zero: the
	// value is carried in the low 8 bytes only, which hold up to 2^64 ps
	// (about 213 days); later times are not representable. The field width
	// is kept for wire compatibility.
	return out
}

// ProcessRx applies a received sync packet's timestamp to the local clock
// according to the configured AdjustMode.
func (p *Protocol) ProcessRx(payload []byte) error {
	if len(payload) < timestampBytes {
		return ErrShortSyncPayload
	}
	var buf [8]byte
	copy(buf[:], payload[:8])
	picos := binary.LittleEndian.Uint64(buf[:])
	sentTime := float64(picos) / 1e12
	expectedNow := sentTime + p.propagationDelay

	switch p.adjustMode {
	case Direct:
		p.clock.SetTime(expectedNow)
	case Midpoint:
		local := p.clock.Time()
		p.clock.SetTime(local + (expectedNow-local)/2)
	}
	return nil
}
