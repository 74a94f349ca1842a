package block

import (
	"bytes"
	"fmt"
)

type phase int

const (
	phaseAwaitMarker phase = iota
	phaseLenOfLen
	phaseLength
	phasePayload
	phaseTerminator
)

// Stats is a snapshot of decoder counters.
type Stats struct {
	Frames               uint64
	LeadInDiscards       uint64
	TerminatorMismatches uint64
	GapBytes             uint64
}

// Decoder reassembles frames from an unbounded chunk stream.
//
// Every phase is resumable at any byte boundary: a field may start at the
// tail of one chunk and finish at the head of a later one with no bytes
// skipped or replayed. One Decoder serves one session; it is not safe for
// concurrent use.
type Decoder struct {
	sink   Sink
	limits Limits

	phase      phase
	markerSeen bool

	lenDigits  int
	digitsRead int
	length     int

	payloadRead int
	termRead    int
	termBuf     [TerminatorLen]byte

	stats Stats
}

func NewDecoder(sink Sink, limits Limits) *Decoder {
	return &Decoder{sink: sink, limits: limits}
}

// Feed consumes one chunk. Errors returned here are fatal for the
// session: the decoder makes no attempt to resynchronize past them.
func (d *Decoder) Feed(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	// Until the first marker of the session has been observed, a chunk
	// that does not open with one is a garbled lead-in from a stream
	// already in flight. Discard it whole and keep waiting.
	if !d.markerSeen && chunk[0] != Marker {
		d.stats.LeadInDiscards++
		return nil
	}

	i := 0
	for i < len(chunk) {
		switch d.phase {
		case phaseAwaitMarker:
			j := bytes.IndexByte(chunk[i:], Marker)
			if j < 0 {
				d.stats.GapBytes += uint64(len(chunk) - i)
				return nil
			}
			d.stats.GapBytes += uint64(j)
			i += j + 1
			d.markerSeen = true
			d.phase = phaseLenOfLen

		case phaseLenOfLen:
			v, ok := hexDigitValue(chunk[i])
			if !ok {
				return fmt.Errorf("%w: length-of-length byte 0x%02x", ErrBadLengthDigit, chunk[i])
			}
			i++
			d.lenDigits = v
			d.digitsRead = 0
			d.length = 0
			if v == 0 {
				return fmt.Errorf("%w: zero length digits", ErrZeroLength)
			}
			d.phase = phaseLength

		case phaseLength:
			c := chunk[i]
			if c < '0' || c > '9' {
				return fmt.Errorf("%w: length byte 0x%02x", ErrBadLengthDigit, c)
			}
			i++
			d.length = d.length*10 + int(c-'0')
			d.digitsRead++
			if d.digitsRead < d.lenDigits {
				continue
			}
			if d.length == 0 {
				return ErrZeroLength
			}
			if d.limits.MaxPayloadBytes > 0 && d.length > d.limits.MaxPayloadBytes {
				return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, d.length)
			}
			if err := d.sink.FrameStart(d.length); err != nil {
				return err
			}
			d.payloadRead = 0
			d.phase = phasePayload

		case phasePayload:
			n := d.length - d.payloadRead
			if avail := len(chunk) - i; avail < n {
				n = avail
			}
			for _, b := range chunk[i : i+n] {
				d.sink.Fold(b)
			}
			i += n
			d.payloadRead += n
			if d.payloadRead < d.length {
				return nil
			}
			// Frame boundary is the last payload byte; the terminator
			// is validated afterwards but never gates completion.
			d.stats.Frames++
			if err := d.sink.FrameEnd(); err != nil {
				return err
			}
			d.termRead = 0
			d.phase = phaseTerminator

		case phaseTerminator:
			d.termBuf[d.termRead] = chunk[i]
			d.termRead++
			i++
			if d.termRead < TerminatorLen {
				continue
			}
			if d.termBuf != terminator {
				d.stats.TerminatorMismatches++
			}
			d.phase = phaseAwaitMarker
		}
	}
	return nil
}

// Finish signals end of stream. It reports whether a partially decoded
// frame was abandoned. A stream ending inside the terminator is not a
// dropped frame; the payload was already delivered in full.
func (d *Decoder) Finish() (dropped bool) {
	switch d.phase {
	case phaseLenOfLen, phaseLength, phasePayload:
		dropped = true
	}
	d.phase = phaseAwaitMarker
	d.lenDigits = 0
	d.digitsRead = 0
	d.payloadRead = 0
	d.termRead = 0
	return dropped
}

// Stats returns a copy of the decoder counters.
func (d *Decoder) Stats() Stats {
	return d.stats
}
