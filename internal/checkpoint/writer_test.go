package checkpoint

import (
	"bytes"
	"strings"
	"testing"

	"github.com/scantap/scantap/internal/scan"
	"github.com/scantap/scantap/internal/testutil/testlog"
)

func TestCadenceExactly(t *testing.T) {
	testlog.Start(t)
	var sink bytes.Buffer
	w := NewWriter(&sink, 10)

	for scans := uint64(1); scans <= 25; scans++ {
		snap := scan.Snapshot{Scans: scans, Sums: []int64{int64(scans), int64(2 * scans)}}
		if err := w.Observe(snap); err != nil {
			t.Fatalf("observe scan %d: %v", scans, err)
		}
	}

	lines := strings.Split(strings.TrimRight(sink.String(), "\n"), "\n")
	if w.Lines() != 2 || len(lines) != 2 {
		t.Fatalf("lines=%d content=%q", w.Lines(), sink.String())
	}
	if lines[0] != "10.000000 20.000000 " {
		t.Fatalf("line at scan 10 = %q", lines[0])
	}
	if lines[1] != "20.000000 40.000000 " {
		t.Fatalf("line at scan 20 = %q", lines[1])
	}
}

func TestNoLineBelowInterval(t *testing.T) {
	testlog.Start(t)
	var sink bytes.Buffer
	w := NewWriter(&sink, 10)
	for scans := uint64(1); scans <= 9; scans++ {
		if err := w.Observe(scan.Snapshot{Scans: scans, Sums: []int64{1}}); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	if sink.Len() != 0 {
		t.Fatalf("unexpected output: %q", sink.String())
	}
}

func TestZeroScansNeverCheckpointed(t *testing.T) {
	testlog.Start(t)
	var sink bytes.Buffer
	w := NewWriter(&sink, 10)
	if err := w.Observe(scan.Snapshot{Scans: 0, Sums: []int64{1}}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if sink.Len() != 0 {
		t.Fatalf("scan count 0 must not emit: %q", sink.String())
	}
}

func TestInvalidIntervalFallsBackToDefault(t *testing.T) {
	testlog.Start(t)
	w := NewWriter(&bytes.Buffer{}, 0)
	if w.Interval() != DefaultInterval {
		t.Fatalf("interval=%d want %d", w.Interval(), DefaultInterval)
	}
}

func TestSumsWrittenNotMeans(t *testing.T) {
	testlog.Start(t)
	var sink bytes.Buffer
	w := NewWriter(&sink, 2)
	snap := scan.Snapshot{Scans: 2, Sums: []int64{10}}
	if err := w.Observe(snap); err != nil {
		t.Fatalf("observe: %v", err)
	}
	// The historical format stores the raw sum; dividing by the scan
	// count here would silently change the file format.
	if got := sink.String(); got != "10.000000 \n" {
		t.Fatalf("line=%q", got)
	}
}
