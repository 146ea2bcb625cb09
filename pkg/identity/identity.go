// Package identity implements the two UUID representations the link layer
// compares and orders: a small simulation-only identity used by tests and a
// 16-byte production identity backed by a real UUID generator.
package identity

import (
	"bytes"
	"fmt"

	agextuuid "github.com/agext/uuid"
)

// NodeId is the small dense integer assigned by enumeration. 0xFF denotes an
// unenumerated node; the valid range for an enumerated, addressable node is
// [0, 253] since destinations are transmitted on the wire as dst+1.
type NodeId uint8

const Unenumerated NodeId = 0xFF

// MaxNodeId is the highest NodeId that can appear as a frame destination.
const MaxNodeId = 253

// UUID is a fixed-width, big-endian-ordered node identifier. Width is
// configurable: simulations commonly use a single byte, production nodes use
// the full 16-byte value from a real UUID generator.
type UUID []byte

// New returns a production UUID generated via agext/uuid (RFC 4122 v1),
// truncated to width bytes if width < 16.
func New(width int) (UUID, error) {
	if width < 1 || width > 16 {
		return nil, fmt.Errorf("identity: invalid uuid width %d", width)
	}
	full := agextuuid.New()
	return UUID(full[:width]), nil
}

// FromBytes copies b into a new UUID value.
func FromBytes(b []byte) UUID {
	u := make(UUID, len(b))
	copy(u, b)
	return u
}

// Compare orders two UUIDs by unsigned big-endian byte comparison. A shorter
// operand that is a prefix of the other sorts first.
func (u UUID) Compare(other UUID) int {
	return bytes.Compare([]byte(u), []byte(other))
}

func (u UUID) Equal(other UUID) bool {
	return bytes.Equal([]byte(u), []byte(other))
}

func (u UUID) String() string {
	return fmt.Sprintf("%x", []byte(u))
}

// SortedList maintains an ascending, duplicate-free set of UUIDs, as
// accumulated by the enumeration protocol on every participating node.
type SortedList struct {
	uuids []UUID
}

// NewSortedList returns a list initialised with a single UUID, the usual
// starting point for a node's own enumeration state.
func NewSortedList(self UUID) *SortedList {
	return &SortedList{uuids: []UUID{FromBytes(self)}}
}

// Merge inserts each of uuids into the list if not already present,
// preserving ascending order. It returns true if any UUID was new.
func (l *SortedList) Merge(uuids []UUID) bool {
	grew := false
	for _, u := range uuids {
		if l.insert(u) {
			grew = true
		}
	}
	return grew
}

func (l *SortedList) insert(u UUID) bool {
	for _, existing := range l.uuids {
		if existing.Equal(u) {
			return false
		}
	}
	idx := len(l.uuids)
	for i, existing := range l.uuids {
		if u.Compare(existing) < 0 {
			idx = i
			break
		}
	}
	l.uuids = append(l.uuids, nil)
	copy(l.uuids[idx+1:], l.uuids[idx:])
	l.uuids[idx] = FromBytes(u)
	return true
}

// Len returns the number of distinct UUIDs accumulated so far.
func (l *SortedList) Len() int {
	return len(l.uuids)
}

// IndexOf returns the position of u within the ascending list and whether it
// was found.
func (l *SortedList) IndexOf(u UUID) (int, bool) {
	for i, existing := range l.uuids {
		if existing.Equal(u) {
			return i, true
		}
	}
	return 0, false
}

// Min returns the smallest UUID currently known.
func (l *SortedList) Min() UUID {
	return l.uuids[0]
}

// All returns the full ascending list. The returned slice must not be
// mutated by the caller.
func (l *SortedList) All() []UUID {
	return l.uuids
}

// Contains reports whether u is already present in the list.
func (l *SortedList) Contains(u UUID) bool {
	_, ok := l.IndexOf(u)
	return ok
}
