// simscope is a bench stand-in for a streaming instrument: it answers
// *IDN? and, on the stream query, emits curve frames forever. Frame
// pacing, fragmentation, lead-in garbage, and terminator corruption are
// configurable so the daemon's reassembly can be exercised end to end.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/scantap/scantap/internal/observability"
	"github.com/scantap/scantap/internal/protocol/block"
)

type simConfig struct {
	Addr               string `toml:"addr"`
	IDN                string `toml:"idn"`
	StreamQuery        string `toml:"stream_query"`
	ScanLength         int    `toml:"scan_length"`
	ScanIntervalMS     int    `toml:"scan_interval_ms"`
	WriteChunk         int    `toml:"write_chunk"`
	BadTerminatorEvery int    `toml:"bad_terminator_every"`
	LeadInGarbage      int    `toml:"leadin_garbage"`
	Seed               int64  `toml:"seed"`
}

func defaultSimConfig() simConfig {
	return simConfig{
		Addr:           ":4000",
		IDN:            "SCANTAP,simscope,0,1.0",
		StreamQuery:    "CURVESTREAM?",
		ScanLength:     1000,
		ScanIntervalMS: 10,
	}
}

func loadSimConfig(path string) (simConfig, error) {
	cfg := defaultSimConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return simConfig{}, fmt.Errorf("sim config load failed (%s): %w", path, err)
	}
	if cfg.ScanLength < 1 {
		return simConfig{}, fmt.Errorf("scan_length must be positive: %d", cfg.ScanLength)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to the simulator config (optional)")
	flag.Parse()

	logger := observability.InitLogger("simscope")

	cfg, err := loadSimConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simscope: %v\n", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simscope: listen %s: %v\n", cfg.Addr, err)
		os.Exit(1)
	}
	logger.Info().Str("addr", cfg.Addr).Int("scan_length", cfg.ScanLength).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error().Err(err).Msg("accept failed")
			continue
		}
		go serveConn(conn, cfg, logger)
	}
}

func serveConn(conn net.Conn, cfg simConfig, logger zerolog.Logger) {
	defer conn.Close()
	logger = logger.With().Str("client", conn.RemoteAddr().String()).Logger()
	logger.Info().Msg("client connected")

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			logger.Info().Err(err).Msg("client gone")
			return
		}
		cmd := strings.TrimSpace(line)
		switch {
		case strings.EqualFold(cmd, "*IDN?"):
			if _, err := fmt.Fprintf(conn, "%s\n", cfg.IDN); err != nil {
				return
			}
		case strings.EqualFold(cmd, cfg.StreamQuery):
			logger.Info().Msg("streaming curves")
			if err := streamCurves(conn, cfg); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					logger.Info().Err(err).Msg("stream ended")
				}
				return
			}
		default:
			logger.Warn().Str("cmd", cmd).Msg("unknown command ignored")
		}
	}
}

func streamCurves(conn net.Conn, cfg simConfig) error {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	if cfg.LeadInGarbage > 0 {
		garbage := make([]byte, cfg.LeadInGarbage)
		rng.Read(garbage)
		// Never let garbage open with a marker; the client must see a
		// discardable lead-in.
		if garbage[0] == block.Marker {
			garbage[0] = '!'
		}
		if _, err := conn.Write(garbage); err != nil {
			return err
		}
	}

	payload := make([]byte, cfg.ScanLength)
	frame := make([]byte, 0, cfg.ScanLength+8)
	interval := time.Duration(cfg.ScanIntervalMS) * time.Millisecond
	for scanIdx := 1; ; scanIdx++ {
		fillCurve(payload, rng, scanIdx)
		frame = block.AppendFrame(frame[:0], payload)
		if cfg.BadTerminatorEvery > 0 && scanIdx%cfg.BadTerminatorEvery == 0 {
			frame[len(frame)-2] = '?'
			frame[len(frame)-1] = '?'
		}
		if err := writeFragmented(conn, frame, cfg.WriteChunk, rng); err != nil {
			return err
		}
		if interval > 0 {
			time.Sleep(interval)
		}
	}
}

// fillCurve writes a noisy sine so checkpoint sums have visible shape.
func fillCurve(payload []byte, rng *rand.Rand, scanIdx int) {
	n := len(payload)
	for i := range payload {
		v := 128 + 100*math.Sin(2*math.Pi*float64(i)/float64(n)+float64(scanIdx)*0.01)
		v += rng.Float64()*8 - 4
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		payload[i] = byte(v)
	}
}

func writeFragmented(conn net.Conn, frame []byte, chunk int, rng *rand.Rand) error {
	if chunk <= 0 {
		_, err := conn.Write(frame)
		return err
	}
	for len(frame) > 0 {
		n := 1 + rng.Intn(chunk)
		if n > len(frame) {
			n = len(frame)
		}
		if _, err := conn.Write(frame[:n]); err != nil {
			return err
		}
		frame = frame[n:]
	}
	return nil
}
