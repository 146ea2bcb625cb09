package fifo

import (
	"testing"

	"github.com/sean618/SerialProtocol/internal/crc"
	"github.com/stretchr/testify/assert"
)

func TestWriteReadRoundTrip(t *testing.T) {
	f := NewFifo(8)
	n := f.Write([]byte{1, 2, 3}, nil)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, f.GetOccupied())

	out := make([]byte, 3)
	assert.Equal(t, 3, f.Read(out))
	assert.Equal(t, []byte{1, 2, 3}, out)
	assert.Equal(t, 0, f.GetOccupied())
}

func TestWriteStopsWhenFull(t *testing.T) {
	f := NewFifo(4)
	// Capacity is len(buffer)-1 usable bytes to disambiguate full/empty.
	n := f.Write([]byte{1, 2, 3, 4, 5}, nil)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, f.GetSpace())
}

func TestWraps(t *testing.T) {
	f := NewFifo(4)
	f.Write([]byte{1, 2, 3}, nil)
	out := make([]byte, 2)
	f.Read(out)
	f.Write([]byte{4, 5}, nil)

	rest := make([]byte, 3)
	got := f.Read(rest)
	assert.Equal(t, 3, got)
	assert.Equal(t, []byte{3, 4, 5}, rest)
}

func TestWriteFoldsCRC(t *testing.T) {
	f := NewFifo(8)
	var c crc.CRC16
	f.Write([]byte{10}, &c)
	assert.EqualValues(t, 0xA14A, c)
}

func TestDiscard(t *testing.T) {
	f := NewFifo(8)
	f.Write([]byte{1, 2, 3, 4}, nil)
	assert.Equal(t, 2, f.Discard(2))
	out := make([]byte, 2)
	f.Read(out)
	assert.Equal(t, []byte{3, 4}, out)
}
