// Package acquire owns the acquisition session: one transport connection
// driven through the frame decoder into the accumulator, with periodic
// checkpoints.
//
// Ownership boundary:
// - the single-threaded read/decode/fold loop
// - the session's decoder, accumulator, and checkpoint writer lifecycles
// - warning accounting and fatal-error propagation
//
// It does not dial, identify, or query the instrument; see the
// instrument package for the connection side.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scantap/scantap/internal/checkpoint"
	"github.com/scantap/scantap/internal/observability"
	"github.com/scantap/scantap/internal/protocol/block"
	"github.com/scantap/scantap/internal/scan"
)

// DefaultReadBufferSize matches the reference receive buffer.
const DefaultReadBufferSize = 8192

var ErrTooManyBadTerminators = errors.New("acquire: bad terminator limit exceeded")

// Config wires one session. Source and Sink are owned by the caller;
// the session never closes them.
type Config struct {
	// Instrument labels logs and metrics, typically host:port.
	Instrument string
	// Source delivers the raw byte stream.
	Source io.Reader
	// Sink receives checkpoint lines, append-only.
	Sink io.Writer
	// CheckpointInterval in completed scans; 0 means the default of 10.
	CheckpointInterval int
	// ReadBufferSize caps one transport chunk; 0 means 8192.
	ReadBufferSize int
	// MaxBadTerminators aborts the session once exceeded; 0 tolerates
	// malformed terminators indefinitely (they are always counted).
	MaxBadTerminators uint64
	Limits            block.Limits
	Logger            zerolog.Logger
}

// Stats is a point-in-time snapshot of session progress, safe to read
// from other goroutines via Session.Stats.
type Stats struct {
	SessionID            string `json:"session_id"`
	Instrument           string `json:"instrument"`
	Chunks               uint64 `json:"chunks"`
	Bytes                uint64 `json:"bytes"`
	Scans                uint64 `json:"scans"`
	SlotCount            int    `json:"slot_count"`
	Checkpoints          uint64 `json:"checkpoints"`
	Frames               uint64 `json:"frames"`
	LeadInDiscards       uint64 `json:"leadin_discards"`
	TerminatorMismatches uint64 `json:"terminator_mismatches"`
	GapBytes             uint64 `json:"gap_bytes"`
	Running              bool   `json:"running"`
}

// Session owns exactly one decoder, one accumulator, and one checkpoint
// writer for the lifetime of one transport connection. The pipeline is
// single-threaded; only the published stats snapshot is shared.
type Session struct {
	id   string
	cfg  Config
	dec  *block.Decoder
	acc  *scan.Accumulator
	ckpt *checkpoint.Writer
	log  zerolog.Logger

	chunks uint64
	bytes  uint64
	seen   block.Stats

	published atomic.Pointer[Stats]
}

func NewSession(cfg Config) *Session {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.Limits == (block.Limits{}) {
		cfg.Limits = block.DefaultLimits()
	}
	s := &Session{
		id:   uuid.NewString(),
		cfg:  cfg,
		acc:  scan.NewAccumulator(),
		ckpt: checkpoint.NewWriter(cfg.Sink, cfg.CheckpointInterval),
	}
	s.dec = block.NewDecoder(s, cfg.Limits)
	s.log = cfg.Logger.With().
		Str("session_id", s.id).
		Str("instrument", cfg.Instrument).
		Logger()
	s.publish(false)
	return s
}

// ID returns the session correlation id.
func (s *Session) ID() string {
	return s.id
}

// Run drives the pipeline until end of stream, a transport error, or a
// fatal protocol error. The read blocks on Source; callers that need
// prompt cancellation should close the underlying connection when ctx
// is done.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info().
		Int("read_buffer", s.cfg.ReadBufferSize).
		Uint64("checkpoint_interval", s.ckpt.Interval()).
		Msg("session_start")
	observability.SetSessionUp(s.cfg.Instrument, true)
	defer observability.SetSessionUp(s.cfg.Instrument, false)
	s.publish(true)
	defer s.publish(false)

	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			s.finish()
			return err
		}
		n, err := s.cfg.Source.Read(buf)
		if n > 0 {
			s.chunks++
			s.bytes += uint64(n)
			observability.RecordChunk(s.cfg.Instrument, n)
			if ferr := s.dec.Feed(buf[:n]); ferr != nil {
				s.emitWarnings()
				s.publish(true)
				return ferr
			}
			s.emitWarnings()
			s.publish(true)
			if s.cfg.MaxBadTerminators > 0 && s.seen.TerminatorMismatches > s.cfg.MaxBadTerminators {
				return fmt.Errorf("%w: %d", ErrTooManyBadTerminators, s.seen.TerminatorMismatches)
			}
		}
		if err != nil {
			s.finish()
			if errors.Is(err, io.EOF) {
				s.log.Info().
					Uint64("scans", s.acc.Scans()).
					Uint64("checkpoints", s.ckpt.Lines()).
					Msg("session_end")
				return nil
			}
			return fmt.Errorf("acquire: transport read failed: %w", err)
		}
	}
}

// Stats returns the most recently published snapshot.
func (s *Session) Stats() Stats {
	return *s.published.Load()
}

// FrameStart implements block.Sink. The first frame fixes the slot
// capacity for the whole session.
func (s *Session) FrameStart(length int) error {
	first := s.acc.Len() == 0
	if err := s.acc.FrameStart(length); err != nil {
		return err
	}
	if first {
		s.log.Info().Int("scan_length", length).Msg("scan_length_fixed")
	}
	return nil
}

// Fold implements block.Sink.
func (s *Session) Fold(b byte) {
	s.acc.Fold(b)
}

// FrameEnd implements block.Sink: close the scan and checkpoint on
// cadence hits, at the milestone value rather than at chunk boundaries.
func (s *Session) FrameEnd() error {
	if err := s.acc.FrameEnd(); err != nil {
		return err
	}
	observability.RecordScan(s.cfg.Instrument)
	if s.acc.Scans()%s.ckpt.Interval() != 0 {
		return nil
	}
	if err := s.ckpt.Observe(s.acc.Snapshot()); err != nil {
		return err
	}
	observability.RecordCheckpoint(s.cfg.Instrument)
	s.log.Info().
		Uint64("scans", s.acc.Scans()).
		Uint64("line", s.ckpt.Lines()).
		Msg("checkpoint")
	return nil
}

func (s *Session) finish() {
	if dropped := s.dec.Finish(); dropped {
		observability.RecordProtocolWarning(s.cfg.Instrument, observability.WarnDroppedFrame, 1)
		s.log.Warn().Msg("partial frame dropped at stream end")
	}
	s.emitWarnings()
	s.publish(true)
}

// emitWarnings forwards counter deltas from the decoder to metrics and
// the log, so no non-fatal condition passes without a counted signal.
func (s *Session) emitWarnings() {
	now := s.dec.Stats()
	if d := now.TerminatorMismatches - s.seen.TerminatorMismatches; d > 0 {
		observability.RecordProtocolWarning(s.cfg.Instrument, observability.WarnTerminatorMismatch, d)
		s.log.Warn().Uint64("count", now.TerminatorMismatches).Msg("terminator mismatch")
	}
	if d := now.LeadInDiscards - s.seen.LeadInDiscards; d > 0 {
		observability.RecordProtocolWarning(s.cfg.Instrument, observability.WarnLeadInDiscard, d)
		s.log.Warn().Uint64("count", now.LeadInDiscards).Msg("lead-in chunk discarded")
	}
	if d := now.GapBytes - s.seen.GapBytes; d > 0 {
		observability.RecordProtocolWarning(s.cfg.Instrument, observability.WarnGapBytes, d)
	}
	s.seen = now
}

func (s *Session) publish(running bool) {
	ds := s.dec.Stats()
	snap := &Stats{
		SessionID:            s.id,
		Instrument:           s.cfg.Instrument,
		Chunks:               s.chunks,
		Bytes:                s.bytes,
		Scans:                s.acc.Scans(),
		SlotCount:            s.acc.Len(),
		Checkpoints:          s.ckpt.Lines(),
		Frames:               ds.Frames,
		LeadInDiscards:       ds.LeadInDiscards,
		TerminatorMismatches: ds.TerminatorMismatches,
		GapBytes:             ds.GapBytes,
		Running:              running,
	}
	s.published.Store(snap)
}
