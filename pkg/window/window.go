// Package window implements the per-destination sliding-window reliable
// delivery protocol: a handshake that establishes agreed sequence numbers,
// in-order delivery with gap-detecting ACKs, and wrap-driven retransmission
// of unacknowledged frames.
package window

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sean618/SerialProtocol/internal/fifo"
	"github.com/sean618/SerialProtocol/pkg/frame"
	"github.com/sean618/SerialProtocol/pkg/identity"
)

// FrameType tags the windowed protocol's control and data payloads, a
// small closed set better modelled as a tagged union than polymorphism.
type FrameType byte

const (
	TypeInitialise    FrameType = 0x02
	TypeFrame         FrameType = 0x03
	TypeUninitialised FrameType = 0x82
	TypeInitialised   FrameType = 0x83
	TypeAck           FrameType = 0x84
)

// MaxWindowSize is the largest safe number of in-flight frames for an
// 8-bit, modulo-256 sequence space.
const MaxWindowSize = 128

var (
	ErrWindowSizeTooLarge = errors.New("window: window_size must be <= 128")
	ErrBufferFull         = errors.New("window: windowed tx buffer is full")
)

// linkState tracks one peer link: independent egress (what we send to this
// peer) and ingress (what we accept from this peer) halves.
type linkState struct {
	txSeq              byte
	expRxSeq           byte
	egressInitialised  bool
	ingressInitialised bool
	nextInitTime       float64
	rxFrames           [][]byte
}

// Protocol runs the sliding-window state machine for every peer of one
// local node. Link state lives in a dense array indexed by NodeId so the
// hot path is an indexed load, not a hash lookup.
type Protocol struct {
	self  identity.NodeId
	peers []identity.NodeId
	links [identity.MaxNodeId + 1]linkState

	direct *fifo.Fifo
	win    *windowBuffer

	logger *log.Logger

	acksSent     int
	acksReceived int
}

// Stats reports cumulative counters an integration layer can feed to its
// own metrics exporter; the protocol itself never acts on them.
type Stats struct {
	AcksSent     int
	AcksReceived int
	Retransmits  int
}

func (p *Protocol) Stats() Stats {
	return Stats{AcksSent: p.acksSent, AcksReceived: p.acksReceived, Retransmits: p.win.retransmits}
}

// New constructs a Protocol for self addressed to the given peer set.
// windowSize bounds in-flight frames; above 128 an 8-bit sequence number
// can alias, so such configurations are rejected outright.
func New(self identity.NodeId, peers []identity.NodeId, windowSize int, wrapTime float64, directBufBytes, windowBufBytes int, logger *log.Logger) (*Protocol, error) {
	if windowSize > MaxWindowSize {
		return nil, fmt.Errorf("%w: got %d", ErrWindowSizeTooLarge, windowSize)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Protocol{
		self:   self,
		peers:  append([]identity.NodeId(nil), peers...),
		direct: fifo.NewFifo(directBufBytes),
		win:    newWindowBuffer(windowSize, wrapTime, windowBufBytes),
		logger: logger,
	}, nil
}

// allEgressInitialised reports whether every known peer has confirmed our
// handshake, the gate that admits application data frames.
func (p *Protocol) allEgressInitialised() bool {
	for _, peer := range p.peers {
		if !p.links[peer].egressInitialised {
			return false
		}
	}
	return true
}

// SubmitFrame queues an application payload addressed to dst. It returns 0
// (no error) while any peer's handshake is still pending, and
// ErrBufferFull if the windowed buffer has no room.
func (p *Protocol) SubmitFrame(dst identity.NodeId, payload []byte) (int, error) {
	if !p.allEgressInitialised() {
		return 0, nil
	}
	link := &p.links[dst]
	seq := link.txSeq

	body := make([]byte, 0, 2+len(payload))
	body = append(body, byte(TypeFrame))
	body = append(body, payload...)
	body = append(body, seq)

	encoded, err := frame.Encode(byte(p.self), byte(dst), body)
	if err != nil {
		return 0, err
	}
	if err := p.win.submit(seq, dst, encoded); err != nil {
		return 0, err
	}
	link.txSeq = seq + 1
	return len(payload), nil
}

// maybeSendInitialise enqueues an INITIALISE handshake request for every
// peer not yet egress-ready, rate-limited so the windowed buffer isn't
// flooded ahead of the peers it's trying to reach: the number of queued
// data frames must stay below the number of peers. A request that goes
// unanswered (the INITIALISE or its INITIALISED reply was lost) is resent
// once per wrap dwell, the same cadence that drives data retransmission.
func (p *Protocol) maybeSendInitialise(now float64) {
	for _, peer := range p.peers {
		link := &p.links[peer]
		if link.egressInitialised || now < link.nextInitTime {
			continue
		}
		if p.win.queuedEntries() >= len(p.peers) {
			continue
		}
		body := []byte{byte(TypeInitialise), link.txSeq}
		encoded, err := frame.Encode(byte(p.self), byte(peer), body)
		if err != nil {
			p.logger.WithError(err).Warn("window: failed to encode INITIALISE")
			continue
		}
		p.direct.Write(encoded, nil)
		link.nextInitTime = now + p.win.wrapTime
	}
}

// ProcessTx drains up to maxBytes of wire bytes for this tick. It reserves
// half the budget for the direct buffer first (control responses and
// one-shot frames), spends the remainder on the windowed buffer, then lets
// any leftover budget flow back to the direct buffer so control traffic
// never fully starves but never monopolises the link either.
func (p *Protocol) ProcessTx(now float64, maxBytes int) []byte {
	out := make([]byte, 0, maxBytes)

	firstBudget := maxBytes / 2
	out = append(out, drainFifo(p.direct, firstBudget)...)

	p.maybeSendInitialise(now)

	remaining := maxBytes - len(out)
	out = append(out, p.win.drain(now, remaining)...)

	remaining = maxBytes - len(out)
	out = append(out, drainFifo(p.direct, remaining)...)

	return out
}

func drainFifo(f *fifo.Fifo, n int) []byte {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	got := f.Read(buf)
	return buf[:got]
}

// ProcessRx handles one decoded windowed-protocol payload from src.
func (p *Protocol) ProcessRx(src identity.NodeId, payload []byte) {
	if len(payload) == 0 {
		p.logger.Warn("window: empty payload, dropping")
		return
	}
	switch FrameType(payload[0]) {
	case TypeInitialise:
		p.handleInitialise(src, payload)
	case TypeFrame:
		p.handleFrame(src, payload)
	case TypeInitialised:
		p.handleInitialised(src)
	case TypeUninitialised:
		p.handleUninitialised(src)
	case TypeAck:
		p.handleAck(src, payload)
	default:
		p.logger.WithField("type", payload[0]).Warn("window: invalid frame type, dropping")
	}
}

func (p *Protocol) handleInitialise(src identity.NodeId, payload []byte) {
	if len(payload) != 2 {
		p.logger.Warn("window: malformed INITIALISE, dropping")
		return
	}
	link := &p.links[src]
	link.expRxSeq = payload[1]
	link.ingressInitialised = true

	resp, err := frame.Encode(byte(p.self), byte(src), []byte{byte(TypeInitialised), 0})
	if err == nil {
		p.direct.Write(resp, nil)
	}
}

func (p *Protocol) handleInitialised(src identity.NodeId) {
	// Idempotent: a duplicated INITIALISED (ours was resent after loss)
	// just reconfirms an already-established egress.
	p.links[src].egressInitialised = true
}

func (p *Protocol) handleUninitialised(src identity.NodeId) {
	link := &p.links[src]
	link.egressInitialised = false
	link.nextInitTime = 0
}

func (p *Protocol) handleFrame(src identity.NodeId, payload []byte) {
	if len(payload) < 2 {
		p.logger.Warn("window: malformed FRAME, dropping")
		return
	}
	link := &p.links[src]
	if !link.ingressInitialised {
		resp, err := frame.Encode(byte(p.self), byte(src), []byte{byte(TypeUninitialised), 0})
		if err == nil {
			p.direct.Write(resp, nil)
		}
		return
	}

	seq := payload[len(payload)-1]
	userPayload := payload[1 : len(payload)-1]

	var ackSeq byte
	if seq == link.expRxSeq {
		link.rxFrames = append(link.rxFrames, append([]byte(nil), userPayload...))
		ackSeq = link.expRxSeq
		link.expRxSeq++
	} else {
		// Out of order: payload is discarded, not delivered. The repeat
		// ACK tells the sender a gap exists without an explicit NACK.
		ackSeq = link.expRxSeq - 1
	}

	resp, err := frame.Encode(byte(p.self), byte(src), []byte{byte(TypeAck), ackSeq})
	if err == nil {
		p.direct.Write(resp, nil)
		p.acksSent++
	}
}

func (p *Protocol) handleAck(src identity.NodeId, payload []byte) {
	if len(payload) != 2 {
		p.logger.Warn("window: malformed ACK, dropping")
		return
	}
	p.acksReceived++
	p.win.ack(src, payload[1])
}

// RxFrames returns and clears the delivered payloads received from src, in
// order.
func (p *Protocol) RxFrames(src identity.NodeId) [][]byte {
	link := &p.links[src]
	out := link.rxFrames
	link.rxFrames = nil
	return out
}
