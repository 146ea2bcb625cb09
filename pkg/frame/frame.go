// Package frame implements the link layer's wire framing: a duplicated
// destination prefix outside any integrity check, a COBS-encoded body
// carrying the source byte and payload, and a trailing CRC-16.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sean618/SerialProtocol/internal/crc"
	"github.com/sean618/SerialProtocol/pkg/cobs"
)

// MaxDst is the highest real destination value a frame may carry; the
// encoded dst is dst+1 so it never collides with the 0x00 delimiter.
const MaxDst = 253

// BroadcastDst is the literal, un-shifted wire value of the duplicated
// destination prefix used by enumeration and TDM sync frames, which have
// no single real destination. It never collides with a real dst+1 byte
// since the largest of those is 254.
const BroadcastDst = 0xFF

var (
	ErrDstOutOfRange = errors.New("frame: destination out of range")
	ErrNoDelimiter   = errors.New("frame: no delimiter in buffer yet")
	ErrTooShort      = errors.New("frame: decoded slice too short")
	ErrDstMismatch   = errors.New("frame: duplicated destination bytes disagree")
	ErrCRCMismatch   = errors.New("frame: crc check failed")
)

// Frame is a decoded link-layer frame: source, destination, and payload.
type Frame struct {
	Src     byte
	Dst     byte
	Payload []byte
}

// Encode produces the wire bytes for a frame from src to dst carrying
// payload. dst must be in [0, MaxDst], or the literal BroadcastDst for
// enumeration/TDM-sync frames that have no single real destination.
func Encode(src byte, dst byte, payload []byte) ([]byte, error) {
	if dst != BroadcastDst && dst > MaxDst {
		return nil, fmt.Errorf("%w: %d", ErrDstOutOfRange, dst)
	}

	inner := make([]byte, 0, 1+len(payload)+2)
	inner = append(inner, src)
	inner = append(inner, payload...)

	var c crc.CRC16
	c.Block(inner)
	inner = append(inner, byte(c), byte(c>>8))

	encoded := cobs.Encode(inner)

	dstByte := dst
	if dst != BroadcastDst {
		dstByte = dst + 1
	}

	out := make([]byte, 0, 2+len(encoded)+1)
	out = append(out, dstByte, dstByte)
	out = append(out, encoded...)
	out = append(out, 0x00)
	return out, nil
}

// Decode looks for the first 0x00 delimiter in buf and attempts to parse a
// frame out of everything before it. It returns the parsed frame, the
// number of bytes consumed from buf (including the delimiter, so the caller
// can advance past it even on a rejected frame), and an error.
//
// ErrNoDelimiter means the buffer is incomplete; the caller should retain it
// and wait for more bytes rather than discarding anything. Any other error
// means the framed bytes up to the delimiter were consumed and rejected as
// corrupt; the caller should still advance past the returned consumed count.
func Decode(buf []byte) (Frame, int, error) {
	delim := -1
	for i, b := range buf {
		if b == 0x00 {
			delim = i
			break
		}
	}
	if delim == -1 {
		return Frame{}, 0, ErrNoDelimiter
	}
	consumed := delim + 1
	slice := buf[:delim]

	if len(slice) < 3 {
		return Frame{}, consumed, ErrTooShort
	}
	dstByte0, dstByte1 := slice[0], slice[1]
	if dstByte0 != dstByte1 {
		return Frame{}, consumed, ErrDstMismatch
	}

	decoded, err := cobs.Decode(slice[2:])
	if err != nil {
		return Frame{}, consumed, fmt.Errorf("frame: cobs decode: %w", err)
	}
	if len(decoded) < 3 {
		return Frame{}, consumed, ErrTooShort
	}

	body := decoded[:len(decoded)-2]
	crcLo, crcHi := decoded[len(decoded)-2], decoded[len(decoded)-1]
	wantCRC := binary.LittleEndian.Uint16([]byte{crcLo, crcHi})
	if crc.Of(body) != wantCRC {
		return Frame{}, consumed, ErrCRCMismatch
	}

	dst := dstByte0
	if dst != BroadcastDst {
		dst = dstByte0 - 1
	}
	return Frame{
		Src:     body[0],
		Dst:     dst,
		Payload: body[1:],
	}, consumed, nil
}
