// Package node wires the three protocols together into a periodic
// ProcessTx/ProcessRx tick loop: enumeration runs until it settles a dense
// node id, then TDM gates when the sliding window protocol may actually
// transmit.
package node

import (
	"bytes"
	"errors"
	"log/slog"

	"github.com/sean618/SerialProtocol/pkg/clock"
	"github.com/sean618/SerialProtocol/pkg/config"
	"github.com/sean618/SerialProtocol/pkg/enumeration"
	"github.com/sean618/SerialProtocol/pkg/frame"
	"github.com/sean618/SerialProtocol/pkg/identity"
	"github.com/sean618/SerialProtocol/pkg/metrics"
	"github.com/sean618/SerialProtocol/pkg/tdm"
	"github.com/sean618/SerialProtocol/pkg/transport"
	"github.com/sean618/SerialProtocol/pkg/window"
)

// ErrNotEnumerated is returned by Submit before this node has settled on a
// node id; callers should retry on a later tick.
var ErrNotEnumerated = errors.New("node: enumeration not finished yet")

// Node owns one node's entire protocol state and its collaborators: a
// clock, a TX sink, and an RX source. Apart from the metrics registry and
// the medium behind the TX sink and RX source, nothing here is shared with
// any other node's Node value.
type Node struct {
	cfg     config.Config
	clock   clock.Clock
	tx      transport.TxSink
	rx      transport.RxSource
	logger  *slog.Logger
	metrics *metrics.Registry

	ownUUID identity.UUID
	enum    *enumeration.Protocol

	nodeID identity.NodeId
	peers  []identity.NodeId
	tdm    *tdm.Protocol
	win    *window.Protocol

	rxBuf     []byte
	lastStats window.Stats
}

// New constructs a Node. rngSeed should differ per node (e.g. derived from
// ownUUID) to avoid synchronized enumeration backoff storms.
func New(cfg config.Config, clk clock.Clock, tx transport.TxSink, rx transport.RxSource, ownUUID identity.UUID, rngSeed int64, logger *slog.Logger, reg *metrics.Registry) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		cfg:     cfg,
		clock:   clk,
		tx:      tx,
		rx:      rx,
		logger:  logger,
		metrics: reg,
		ownUUID: ownUUID,
		enum:    enumeration.New(clk, ownUUID, rngSeed, cfg.MaxTimeBetweenEnumFrames, cfg.FinishedWaitMultiplier),
		nodeID:  identity.Unenumerated,
	}
}

// Finished reports whether enumeration has settled this node's id.
func (n *Node) Finished() bool { return n.enum.Finished() }

// NodeID returns this node's dense id. Valid only once Finished is true.
func (n *Node) NodeID() identity.NodeId { return n.nodeID }

// Submit queues an application payload for dst. It returns 0 before
// enumeration has finished or before every peer's handshake is complete;
// the caller should treat either as "try again later".
func (n *Node) Submit(dst identity.NodeId, payload []byte) (int, error) {
	if n.win == nil {
		return 0, ErrNotEnumerated
	}
	return n.win.SubmitFrame(dst, payload)
}

// RxFrames returns and clears payloads delivered from src, in order.
func (n *Node) RxFrames(src identity.NodeId) [][]byte {
	if n.win == nil {
		return nil
	}
	return n.win.RxFrames(src)
}

// WindowStats exposes the sliding-window protocol's observability
// counters once enumeration has finished; the zero value before that.
func (n *Node) WindowStats() window.Stats {
	if n.win == nil {
		return window.Stats{}
	}
	return n.win.Stats()
}

// ProcessRx drains the RX source, reassembles frames, and dispatches each
// complete one by type: enumeration, TDM sync, or windowed data/control.
func (n *Node) ProcessRx() {
	data, err := n.rx.Read()
	if err != nil {
		n.logger.Warn("rx read failed", "err", err)
		return
	}
	n.rxBuf = append(n.rxBuf, data...)

	for {
		f, consumed, err := frame.Decode(n.rxBuf)
		if errors.Is(err, frame.ErrNoDelimiter) {
			break
		}
		n.rxBuf = n.rxBuf[consumed:]
		if err != nil {
			n.recordRejection(err)
			continue
		}
		if n.metrics != nil {
			n.metrics.FramesDecoded.Inc()
		}
		n.dispatch(f)
	}
}

func (n *Node) recordRejection(err error) {
	reason := "cobs"
	switch {
	case errors.Is(err, frame.ErrDstMismatch):
		reason = "dst_mismatch"
	case errors.Is(err, frame.ErrTooShort):
		reason = "short"
	case errors.Is(err, frame.ErrCRCMismatch):
		reason = "crc"
	}
	n.logger.Debug("frame rejected at framing layer", "reason", reason, "err", err)
	if n.metrics != nil {
		n.metrics.FramesRejected.WithLabelValues(reason).Inc()
	}
}

func (n *Node) dispatch(f frame.Frame) {
	if f.Src == enumeration.Marker {
		n.dispatchEnumeration(f)
		return
	}
	if f.Dst == frame.BroadcastDst && len(f.Payload) > 0 && f.Payload[0] == tdm.SyncMarker {
		// Never apply our own sync packet to our own clock, should a
		// transport ever hand our own bytes back to us.
		if n.tdm == nil || f.Src == byte(n.nodeID) {
			return
		}
		if err := n.tdm.ProcessRx(f.Payload[1:]); err == nil && n.metrics != nil {
			n.metrics.SyncPacketsApplied.Inc()
		}
		return
	}
	if n.win != nil && f.Dst == byte(n.nodeID) {
		n.win.ProcessRx(identity.NodeId(f.Src), f.Payload)
	}
}

func (n *Node) dispatchEnumeration(f frame.Frame) {
	wasFinished := n.enum.Finished()
	if len(f.Payload) == 0 {
		return
	}
	n.enum.ProcessRx(f.Payload[1:], n.cfg.UUIDBytes)

	switch {
	case wasFinished && !n.enum.Finished():
		n.logger.Info("enumeration reset by new peer")
		if n.metrics != nil {
			n.metrics.EnumerationResets.Inc()
		}
		n.nodeID = identity.Unenumerated
		n.tdm = nil
		n.win = nil
		n.lastStats = window.Stats{}
	case !wasFinished && n.enum.Finished():
		n.onEnumerationFinished()
	}
}

func (n *Node) onEnumerationFinished() {
	n.nodeID = n.enum.NodeID()
	n.peers = n.otherPeers()
	n.logger.Info("enumeration finished", "node_id", n.nodeID, "peers", len(n.peers))

	n.tdm = tdm.New(n.clock, n.nodeID, n.enum.PeerCount(), n.cfg.TimePerNode, n.cfg.TimeMargin, n.cfg.TimeBetweenSyncPackets, n.cfg.TimeForTxToReachRx, n.cfg.AdjustMode())

	win, err := window.New(n.nodeID, n.peers, n.cfg.WindowSize, n.cfg.WrapTime, n.cfg.TxDirectBufferSize, n.cfg.TxWindowBufferSize, nil)
	if err != nil {
		n.logger.Error("invalid window configuration, data frames disabled", "err", err)
		return
	}
	n.win = win
	if n.metrics != nil {
		n.metrics.EnumerationCompletions.Inc()
	}
}

func (n *Node) otherPeers() []identity.NodeId {
	peers := make([]identity.NodeId, 0, n.enum.PeerCount()-1)
	for i := 0; i < n.enum.PeerCount(); i++ {
		if identity.NodeId(i) == n.nodeID {
			continue
		}
		peers = append(peers, identity.NodeId(i))
	}
	return peers
}

// ProcessTx runs enumeration, TDM, and windowed TX logic in order:
// enumeration until finished, then TDM gating, then the windowed protocol
// only inside this node's own transmit slot.
func (n *Node) ProcessTx(maxBytes int) {
	if !n.enum.Finished() {
		n.processEnumerationTx()
		return
	}
	if n.tdm == nil {
		return
	}
	n.processSyncTx()
	if n.tdm.InSlot() && n.win != nil {
		wire := n.win.ProcessTx(n.clock.Time(), maxBytes)
		if len(wire) > 0 {
			n.write(wire)
		}
		n.syncWindowMetrics()
	}
}

// syncWindowMetrics feeds the window protocol's cumulative counters into
// the Prometheus registry as deltas (counters only move forward).
func (n *Node) syncWindowMetrics() {
	if n.metrics == nil || n.win == nil {
		return
	}
	s := n.win.Stats()
	n.metrics.AcksSent.Add(float64(s.AcksSent - n.lastStats.AcksSent))
	n.metrics.AcksReceived.Add(float64(s.AcksReceived - n.lastStats.AcksReceived))
	n.metrics.Retransmits.Add(float64(s.Retransmits - n.lastStats.Retransmits))
	n.lastStats = s
}

func (n *Node) processEnumerationTx() {
	payload := n.enum.ProcessTx()
	n.enum.Tick()
	if n.enum.Finished() {
		// Completion is time-driven, so it usually lands here rather than
		// in dispatchEnumeration; a finished node sends no further enum frames.
		n.onEnumerationFinished()
		return
	}
	if payload == nil {
		return
	}
	encoded, err := frame.Encode(enumeration.Marker, frame.BroadcastDst, payload)
	if err != nil {
		n.logger.Warn("failed to encode enumeration frame", "err", err)
		return
	}
	n.write(encoded)
}

func (n *Node) processSyncTx() {
	payload := n.tdm.ProcessTx()
	if payload == nil {
		return
	}
	encoded, err := frame.Encode(byte(n.nodeID), frame.BroadcastDst, payload)
	if err != nil {
		n.logger.Warn("failed to encode sync frame", "err", err)
		return
	}
	n.write(encoded)
	if n.metrics != nil {
		n.metrics.SyncPacketsSent.Inc()
	}
}

func (n *Node) write(data []byte) {
	if _, err := n.tx.Write(data); err != nil {
		n.logger.Warn("tx write failed", "err", err)
		return
	}
	if n.metrics != nil {
		// One write can carry several frames (or the tail of one); every
		// encoded frame ends in exactly one 0x00 delimiter.
		n.metrics.FramesEncoded.Add(float64(bytes.Count(data, []byte{0x00})))
	}
}
