package block

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/scantap/scantap/internal/testutil/testlog"
)

// recordingSink captures decode events for comparison across splittings.
type recordingSink struct {
	starts   []int
	folded   []byte
	ends     int
	startErr error
	endErr   error
}

func (r *recordingSink) FrameStart(length int) error {
	r.starts = append(r.starts, length)
	return r.startErr
}

func (r *recordingSink) Fold(b byte) {
	r.folded = append(r.folded, b)
}

func (r *recordingSink) FrameEnd() error {
	r.ends++
	return r.endErr
}

func TestDecodeSingleFrameExample(t *testing.T) {
	testlog.Start(t)
	stream := []byte{'#', '1', '4', 5, 5, 5, 5, ';', '\n'}
	sink := &recordingSink{}
	d := NewDecoder(sink, DefaultLimits())

	if err := d.Feed(stream); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(sink.starts) != 1 || sink.starts[0] != 4 {
		t.Fatalf("unexpected starts: %v", sink.starts)
	}
	if !bytes.Equal(sink.folded, []byte{5, 5, 5, 5}) {
		t.Fatalf("unexpected payload: %v", sink.folded)
	}
	if sink.ends != 1 {
		t.Fatalf("unexpected frame ends: %d", sink.ends)
	}
	stats := d.Stats()
	if stats.Frames != 1 || stats.TerminatorMismatches != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestDecodeSplitAfterThirdByteMatchesSingleChunk(t *testing.T) {
	testlog.Start(t)
	stream := []byte{'#', '1', '4', 5, 5, 5, 5, ';', '\n'}

	whole := &recordingSink{}
	d := NewDecoder(whole, DefaultLimits())
	if err := d.Feed(stream); err != nil {
		t.Fatalf("feed whole: %v", err)
	}

	split := &recordingSink{}
	d2 := NewDecoder(split, DefaultLimits())
	if err := d2.Feed(stream[:3]); err != nil {
		t.Fatalf("feed head: %v", err)
	}
	if err := d2.Feed(stream[3:]); err != nil {
		t.Fatalf("feed tail: %v", err)
	}

	if !bytes.Equal(whole.folded, split.folded) || whole.ends != split.ends {
		t.Fatalf("split decode diverged: whole=%v/%d split=%v/%d",
			whole.folded, whole.ends, split.folded, split.ends)
	}
}

// buildStream encodes frames with distinct payload contents.
func buildStream(t *testing.T, payloads ...[]byte) []byte {
	t.Helper()
	var stream []byte
	for _, p := range payloads {
		stream = AppendFrame(stream, p)
	}
	return stream
}

func TestSplitInvarianceAllBoundaries(t *testing.T) {
	testlog.Start(t)
	stream := buildStream(t,
		[]byte{1, 2, 3, 4, 5},
		[]byte{10, 20, 30, 40, 50},
		[]byte{0, 255, 128, 7, 9},
	)

	reference := &recordingSink{}
	d := NewDecoder(reference, DefaultLimits())
	if err := d.Feed(stream); err != nil {
		t.Fatalf("reference feed: %v", err)
	}
	refStats := d.Stats()

	for cut := 1; cut < len(stream); cut++ {
		sink := &recordingSink{}
		dec := NewDecoder(sink, DefaultLimits())
		if err := dec.Feed(stream[:cut]); err != nil {
			t.Fatalf("cut=%d head feed: %v", cut, err)
		}
		if err := dec.Feed(stream[cut:]); err != nil {
			t.Fatalf("cut=%d tail feed: %v", cut, err)
		}
		if !bytes.Equal(sink.folded, reference.folded) {
			t.Fatalf("cut=%d payload bytes diverged", cut)
		}
		if sink.ends != reference.ends {
			t.Fatalf("cut=%d frame count %d want %d", cut, sink.ends, reference.ends)
		}
		if got := dec.Stats(); got != refStats {
			t.Fatalf("cut=%d stats %+v want %+v", cut, got, refStats)
		}
	}
}

func TestSplitInvarianceOneBytePerChunk(t *testing.T) {
	testlog.Start(t)
	stream := buildStream(t, []byte{9, 8, 7}, []byte{6, 5, 4})

	reference := &recordingSink{}
	if err := NewDecoder(reference, DefaultLimits()).Feed(stream); err != nil {
		t.Fatalf("reference feed: %v", err)
	}

	sink := &recordingSink{}
	dec := NewDecoder(sink, DefaultLimits())
	for i := range stream {
		if err := dec.Feed(stream[i : i+1]); err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
	}
	if !bytes.Equal(sink.folded, reference.folded) || sink.ends != reference.ends {
		t.Fatalf("one-byte chunks diverged: %v/%d want %v/%d",
			sink.folded, sink.ends, reference.folded, reference.ends)
	}
}

func TestLeadInChunkDiscardedWhole(t *testing.T) {
	testlog.Start(t)
	frame := buildStream(t, []byte{1, 2, 3, 4})

	sink := &recordingSink{}
	dec := NewDecoder(sink, DefaultLimits())
	// A garbled lead-in chunk is dropped even if a marker appears
	// mid-chunk; resynchronization starts at the next chunk.
	if err := dec.Feed([]byte("garbage#noise")); err != nil {
		t.Fatalf("garbage feed: %v", err)
	}
	if err := dec.Feed(frame); err != nil {
		t.Fatalf("frame feed: %v", err)
	}
	if !bytes.Equal(sink.folded, []byte{1, 2, 3, 4}) || sink.ends != 1 {
		t.Fatalf("frame after lead-in diverged: %v/%d", sink.folded, sink.ends)
	}
	if got := dec.Stats().LeadInDiscards; got != 1 {
		t.Fatalf("lead-in discards=%d want 1", got)
	}
}

func TestMultipleLeadInChunksTolerated(t *testing.T) {
	testlog.Start(t)
	sink := &recordingSink{}
	dec := NewDecoder(sink, DefaultLimits())
	for i := 0; i < 3; i++ {
		if err := dec.Feed([]byte("zzzzz")); err != nil {
			t.Fatalf("garbage %d: %v", i, err)
		}
	}
	if err := dec.Feed(buildStream(t, []byte{42})); err != nil {
		t.Fatalf("frame feed: %v", err)
	}
	if sink.ends != 1 || dec.Stats().LeadInDiscards != 3 {
		t.Fatalf("ends=%d discards=%d", sink.ends, dec.Stats().LeadInDiscards)
	}
}

func TestTerminatorMismatchCountedAndResync(t *testing.T) {
	testlog.Start(t)
	bad := buildStream(t, []byte{1, 1})
	bad[len(bad)-2] = '?'
	bad[len(bad)-1] = '?'
	stream := append(bad, buildStream(t, []byte{2, 2})...)

	sink := &recordingSink{}
	dec := NewDecoder(sink, DefaultLimits())
	if err := dec.Feed(stream); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if sink.ends != 2 {
		t.Fatalf("frames=%d want 2", sink.ends)
	}
	if got := dec.Stats().TerminatorMismatches; got != 1 {
		t.Fatalf("terminator mismatches=%d want 1", got)
	}
	if !bytes.Equal(sink.folded, []byte{1, 1, 2, 2}) {
		t.Fatalf("payload diverged: %v", sink.folded)
	}
}

func TestGapBytesBetweenFramesCounted(t *testing.T) {
	testlog.Start(t)
	stream := buildStream(t, []byte{1})
	stream = append(stream, 'x', 'y')
	stream = append(stream, buildStream(t, []byte{2})...)

	sink := &recordingSink{}
	dec := NewDecoder(sink, DefaultLimits())
	if err := dec.Feed(stream); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if sink.ends != 2 || dec.Stats().GapBytes != 2 {
		t.Fatalf("ends=%d gap=%d", sink.ends, dec.Stats().GapBytes)
	}
}

func TestMalformedLengthDigitsAreFatal(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		stream []byte
		want   error
	}{
		{"bad lenlen digit", []byte{'#', 'z', '1'}, ErrBadLengthDigit},
		{"bad length digit", []byte{'#', '2', '1', 'a'}, ErrBadLengthDigit},
		{"zero lenlen", []byte{'#', '0'}, ErrZeroLength},
		{"zero length", []byte{'#', '1', '0'}, ErrZeroLength},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec := NewDecoder(&recordingSink{}, DefaultLimits())
			err := dec.Feed(tc.stream)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestPayloadOverLimitRejected(t *testing.T) {
	testlog.Start(t)
	dec := NewDecoder(&recordingSink{}, Limits{MaxPayloadBytes: 10})
	err := dec.Feed([]byte("#299"))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v want ErrPayloadTooLarge", err)
	}
}

func TestFinishReportsDroppedPartialFrame(t *testing.T) {
	testlog.Start(t)
	sink := &recordingSink{}
	dec := NewDecoder(sink, DefaultLimits())
	if err := dec.Feed([]byte{'#', '1', '4', 5, 5}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if !dec.Finish() {
		t.Fatalf("expected dropped partial frame")
	}
	if sink.ends != 0 {
		t.Fatalf("partial frame must not complete a scan")
	}
}

func TestFinishAfterCompleteFrameIsClean(t *testing.T) {
	testlog.Start(t)
	sink := &recordingSink{}
	dec := NewDecoder(sink, DefaultLimits())
	if err := dec.Feed(buildStream(t, []byte{1, 2})); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if dec.Finish() {
		t.Fatalf("no partial frame should be pending")
	}
}

func TestFinishMidTerminatorIsNotADrop(t *testing.T) {
	testlog.Start(t)
	sink := &recordingSink{}
	dec := NewDecoder(sink, DefaultLimits())
	stream := buildStream(t, []byte{1, 2})
	if err := dec.Feed(stream[:len(stream)-1]); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if sink.ends != 1 {
		t.Fatalf("payload was fully delivered, ends=%d", sink.ends)
	}
	if dec.Finish() {
		t.Fatalf("stream ending inside the terminator drops nothing")
	}
}

func TestSinkErrorsAbortDecode(t *testing.T) {
	testlog.Start(t)
	wantStart := fmt.Errorf("start rejected")
	dec := NewDecoder(&recordingSink{startErr: wantStart}, DefaultLimits())
	if err := dec.Feed(buildStream(t, []byte{1})); !errors.Is(err, wantStart) {
		t.Fatalf("frame start error not propagated: %v", err)
	}

	wantEnd := fmt.Errorf("end rejected")
	dec = NewDecoder(&recordingSink{endErr: wantEnd}, DefaultLimits())
	if err := dec.Feed(buildStream(t, []byte{1})); !errors.Is(err, wantEnd) {
		t.Fatalf("frame end error not propagated: %v", err)
	}
}

func TestAppendFrameChoosesMinimalLengthDigits(t *testing.T) {
	testlog.Start(t)
	got := AppendFrame(nil, []byte{7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7})
	want := append([]byte("#212"), 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7)
	want = append(want, ';', '\n')
	if !bytes.Equal(got, want) {
		t.Fatalf("encoded frame %q want %q", got, want)
	}
}
