package block

import (
	"errors"
	"strconv"
)

// Wire grammar of one frame:
//
//	'#' <L:1 hex digit> <LENGTH:L decimal digits> <payload:LENGTH bytes> ';' '\n'
//
// The header double-encodes its own length, so the payload offset is
// unknown until the length digits have been consumed.
const (
	Marker        byte = '#'
	TerminatorLen      = 2
)

var terminator = [TerminatorLen]byte{';', '\n'}

var (
	ErrBadLengthDigit  = errors.New("block: malformed length digit")
	ErrZeroLength      = errors.New("block: zero-length frame")
	ErrPayloadTooLarge = errors.New("block: payload too large")
)

// Sink receives decode events in wire order.
//
// FrameStart is raised once per frame as soon as the declared payload
// length is known, before any payload byte. FrameEnd is raised exactly
// when the last payload byte has been folded, before the terminator
// bytes are consumed. An error from either aborts the decode.
type Sink interface {
	FrameStart(length int) error
	Fold(b byte)
	FrameEnd() error
}

// Limits constrains decoder memory exposure.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

// AppendFrame appends one encoded frame carrying payload to dst.
// The length-of-length digit is chosen minimal.
func AppendFrame(dst []byte, payload []byte) []byte {
	digits := strconv.Itoa(len(payload))
	dst = append(dst, Marker)
	dst = append(dst, hexDigits[len(digits)])
	dst = append(dst, digits...)
	dst = append(dst, payload...)
	dst = append(dst, terminator[0], terminator[1])
	return dst
}

const hexDigits = "0123456789abcdef"

func hexDigitValue(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}
