// Package scan owns the per-slot running sums accumulated across scans.
package scan

import (
	"errors"
	"fmt"
)

var ErrLengthMismatch = errors.New("scan: frame length differs from session capacity")

// Accumulator folds payload bytes into a fixed set of running-sum slots.
//
// Capacity is fixed by the first frame of the session and never changes;
// a later frame declaring a different length is a protocol-consistency
// violation, not a resize request. Slot i holds the sum over all completed
// scans of payload byte i, each byte widened from its unsigned 8-bit value.
type Accumulator struct {
	sums   []int64
	cursor int
	scans  uint64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// FrameStart sizes the slots on the first frame and enforces the fixed
// capacity on every later one. The slots are untouched on mismatch.
func (a *Accumulator) FrameStart(length int) error {
	if a.sums == nil {
		a.sums = make([]int64, length)
		return nil
	}
	if length != len(a.sums) {
		return fmt.Errorf("%w: got %d want %d", ErrLengthMismatch, length, len(a.sums))
	}
	return nil
}

// Fold adds one payload byte into the slot under the cursor.
func (a *Accumulator) Fold(b byte) {
	a.sums[a.cursor] += int64(b)
	a.cursor++
}

// FrameEnd closes the current scan: the cursor must sit exactly past the
// last slot, wraps to 0, and the scan counter increments.
func (a *Accumulator) FrameEnd() error {
	if a.cursor != len(a.sums) {
		return fmt.Errorf("scan: frame ended at cursor %d of %d", a.cursor, len(a.sums))
	}
	a.cursor = 0
	a.scans++
	return nil
}

// Scans returns the number of completed scans.
func (a *Accumulator) Scans() uint64 {
	return a.scans
}

// Len returns the session capacity, 0 before the first frame.
func (a *Accumulator) Len() int {
	return len(a.sums)
}

// Snapshot is a point-in-time copy of the accumulator, safe to hold
// after the session moves on.
type Snapshot struct {
	Scans uint64
	Sums  []int64
}

func (a *Accumulator) Snapshot() Snapshot {
	sums := make([]int64, len(a.sums))
	copy(sums, a.sums)
	return Snapshot{Scans: a.scans, Sums: sums}
}
