package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scantap/scantap/internal/acquire"
	"github.com/scantap/scantap/internal/admin"
	"github.com/scantap/scantap/internal/config"
	"github.com/scantap/scantap/internal/instrument"
	"github.com/scantap/scantap/internal/logging"
	"github.com/scantap/scantap/internal/observability"
)

// sessionHolder publishes the live session to the admin surface across
// reconnects. Before the first session it serves an empty snapshot.
type sessionHolder struct {
	current atomic.Pointer[acquire.Session]
}

func (h *sessionHolder) set(s *acquire.Session) {
	h.current.Store(s)
}

func (h *sessionHolder) Stats() acquire.Stats {
	if s := h.current.Load(); s != nil {
		return s.Stats()
	}
	return acquire.Stats{}
}

func main() {
	configPath := flag.String("config", "scantap.toml", "path to the capture config")
	flag.Parse()

	logging.ConfigureRuntime()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "scantap: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadCaptureConfig(configPath)
	if err != nil {
		return err
	}
	addr := cfg.InstrumentAddr()

	sink, err := os.OpenFile(cfg.Capture.CheckpointPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint sink: %w", err)
	}
	defer sink.Close()

	holder := &sessionHolder{}
	if cfg.Admin.Addr != "" {
		srv := admin.New(addr, cfg.Admin.Addr, cfg.Admin.CorsOrigins, holder)
		go func() {
			if err := srv.Serve(); err != nil {
				log.Error().Err(err).Str("addr", cfg.Admin.Addr).Msg("admin server stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	icfg := instrument.DefaultConfig()
	if w := cfg.Instrument.ConnectWait(); w > 0 {
		icfg.ConnectTimeout = w
	}
	if w := cfg.Instrument.QueryWait(); w > 0 {
		icfg.QueryTimeout = w
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for {
		attempt++
		err := runSession(ctx, addr, cfg, icfg, sink, holder)
		if ctx.Err() != nil {
			// Shutdown races the transport error from the closed conn.
			return nil
		}
		switch {
		case err == nil:
			if !cfg.Instrument.Reconnect {
				return nil
			}
			attempt = 0
		case errors.Is(err, context.Canceled):
			return nil
		default:
			log.Error().Err(err).Int("attempt", attempt).Msg("session failed")
			if !cfg.Instrument.Reconnect {
				return err
			}
			if cfg.Instrument.MaxAttempts > 0 && attempt >= cfg.Instrument.MaxAttempts {
				return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
			}
		}
		observability.RecordReconnect(addr)
		delay := instrument.NextBackoffDelay(icfg.Backoff, attempt, rng)
		log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func runSession(ctx context.Context, addr string, cfg config.CaptureConfig, icfg instrument.Config, sink *os.File, holder *sessionHolder) error {
	conn, err := instrument.Dial(ctx, addr, icfg, log.Logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if cfg.Instrument.Identify {
		if _, err := conn.Identify(); err != nil {
			return err
		}
	}
	if err := conn.StartStream(cfg.Instrument.StreamQuery); err != nil {
		return err
	}

	sess := acquire.NewSession(acquire.Config{
		Instrument:         addr,
		Source:             conn,
		Sink:               sink,
		CheckpointInterval: cfg.Capture.CheckpointInterval,
		ReadBufferSize:     cfg.Capture.ReadBuffer,
		MaxBadTerminators:  uint64(cfg.Capture.MaxBadTerminators),
		Logger:             log.Logger,
	})
	holder.set(sess)

	// Closing the connection is the only way to unblock a pending read.
	release := context.AfterFunc(ctx, func() { conn.Close() })
	defer release()

	return sess.Run(ctx)
}
