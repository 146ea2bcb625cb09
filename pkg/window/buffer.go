package window

import "github.com/sean618/SerialProtocol/pkg/identity"

// windowEntry is one in-flight or queued encoded frame in the windowed TX
// buffer.
type windowEntry struct {
	seq  byte
	data []byte
}

// destQueue is one destination's slice of the windowed buffer: its own
// pending entries, cursor, and wrap dwell, kept independent of every other
// destination's so that a peer that never ACKs can only ever block its own
// queue. Head-of-line blocking is per-destination, not global: a single
// combined FIFO across destinations would let one dead peer's unacked head
// entry wedge every other destination's ACKs behind it too, since an ACK
// only removes a contiguous run from the true head.
type destQueue struct {
	entries      []windowEntry
	cursor       int
	lastWrapTime float64
}

// windowBuffer holds every destination's pending data frames. Draining
// round-robins across destinations that have pending bytes so one busy
// peer can't starve another's transmissions.
type windowBuffer struct {
	queues     map[identity.NodeId]*destQueue
	order      []identity.NodeId // insertion order, for round-robin rotation
	rotate     int
	usedBytes  int
	maxBytes   int
	windowSize int
	wrapTime   float64

	retransmits int // window wraps that resent a destination's unacked entries, for observability
}

func newWindowBuffer(windowSize int, wrapTime float64, maxBytes int) *windowBuffer {
	return &windowBuffer{
		queues:     make(map[identity.NodeId]*destQueue),
		maxBytes:   maxBytes,
		windowSize: windowSize,
		wrapTime:   wrapTime,
	}
}

func (b *windowBuffer) queueFor(dst identity.NodeId) *destQueue {
	q, ok := b.queues[dst]
	if !ok {
		q = &destQueue{}
		b.queues[dst] = q
		b.order = append(b.order, dst)
	}
	return q
}

// queuedEntries returns the total number of pending entries across every
// destination, used to rate-limit INITIALISE emission.
func (b *windowBuffer) queuedEntries() int {
	n := 0
	for _, q := range b.queues {
		n += len(q.entries)
	}
	return n
}

// submit appends one encoded data frame, rejecting it if the buffer's
// total byte budget would be exceeded.
func (b *windowBuffer) submit(seq byte, dst identity.NodeId, encoded []byte) error {
	if b.usedBytes+len(encoded) > b.maxBytes {
		return ErrBufferFull
	}
	q := b.queueFor(dst)
	q.entries = append(q.entries, windowEntry{seq: seq, data: encoded})
	b.usedBytes += len(encoded)
	return nil
}

// drain returns up to maxBytes of wire bytes for this tick, round-robining
// across destinations with pending entries so a stalled destination's wrap
// dwell never blocks another's transmissions.
func (b *windowBuffer) drain(now float64, maxBytes int) []byte {
	if len(b.order) == 0 || maxBytes <= 0 {
		return nil
	}
	var out []byte
	budget := maxBytes
	for i := 0; i < len(b.order) && budget > 0; i++ {
		idx := (b.rotate + i) % len(b.order)
		dst := b.order[idx]
		q := b.queues[dst]
		chunk, wrapped := q.drain(now, budget, b.windowSize, b.wrapTime)
		if wrapped {
			b.retransmits++
		}
		out = append(out, chunk...)
		budget -= len(chunk)
	}
	b.rotate = (b.rotate + 1) % max1(len(b.order))
	return out
}

func max1(n int) int {
	if n == 0 {
		return 1
	}
	return n
}

func (q *destQueue) drain(now float64, maxBytes int, windowSize int, wrapTime float64) (out []byte, wrapped bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	limit := windowSize
	if limit > len(q.entries) {
		limit = len(q.entries)
	}
	if q.cursor >= limit {
		if now-q.lastWrapTime < wrapTime {
			return nil, false
		}
		q.cursor = 0
		q.lastWrapTime = now
		wrapped = true
	}

	for q.cursor < limit {
		e := q.entries[q.cursor]
		if len(out)+len(e.data) > maxBytes {
			break
		}
		out = append(out, e.data...)
		q.cursor++
	}
	return out, wrapped
}

// ack removes every contiguous head entry in src's own queue up to and
// including seq. Idempotent: re-delivering an already-applied ACK finds
// nothing left to remove at the (already-advanced) head.
func (b *windowBuffer) ack(src identity.NodeId, seq byte) {
	q, ok := b.queues[src]
	if !ok {
		return
	}
	// Only entries inside the window can have been sent and acknowledged;
	// searching further could match a later entry whose 8-bit seq repeats.
	limit := len(q.entries)
	if limit > b.windowSize {
		limit = b.windowSize
	}
	found := -1
	for i, e := range q.entries[:limit] {
		if e.seq == seq {
			found = i
			break
		}
	}
	if found == -1 {
		// Stale or already-applied ACK: nothing at the current head run
		// matches, so this is a no-op rather than a wipe of the queue.
		return
	}
	removed := found + 1
	for _, e := range q.entries[:removed] {
		b.usedBytes -= len(e.data)
	}
	q.entries = append([]windowEntry(nil), q.entries[removed:]...)
	q.cursor = 0
}
