// Package checkpoint persists periodic accumulator snapshots to an
// append-only text sink.
package checkpoint

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/scantap/scantap/internal/scan"
)

// DefaultInterval matches the reference dump cadence.
const DefaultInterval = 10

// Writer appends one text line per cadence hit. Each line carries the
// running SUM of every slot, not the mean: the historical file format
// never divides by the scan count, and downstream readers depend on that.
// Format per line: every value printed with six fractional digits and a
// trailing space, then a newline.
type Writer struct {
	w        *bufio.Writer
	interval uint64
	lines    uint64
}

func NewWriter(w io.Writer, interval int) *Writer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Writer{w: bufio.NewWriter(w), interval: uint64(interval)}
}

// Observe writes one checkpoint line iff the snapshot's scan count is a
// positive multiple of the interval. Each line is flushed before return.
func (cw *Writer) Observe(snap scan.Snapshot) error {
	if snap.Scans == 0 || snap.Scans%cw.interval != 0 {
		return nil
	}
	buf := make([]byte, 0, 16*len(snap.Sums)+1)
	for _, v := range snap.Sums {
		buf = strconv.AppendFloat(buf, float64(v), 'f', 6, 64)
		buf = append(buf, ' ')
	}
	buf = append(buf, '\n')
	if _, err := cw.w.Write(buf); err != nil {
		return fmt.Errorf("checkpoint write failed: %w", err)
	}
	if err := cw.w.Flush(); err != nil {
		return fmt.Errorf("checkpoint flush failed: %w", err)
	}
	cw.lines++
	return nil
}

// Lines returns the number of checkpoint lines written so far.
func (cw *Writer) Lines() uint64 {
	return cw.lines
}

// Interval returns the configured scan cadence.
func (cw *Writer) Interval() uint64 {
	return cw.interval
}
