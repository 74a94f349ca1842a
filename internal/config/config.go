// Package config loads and validates the daemon's TOML configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type CaptureConfig struct {
	Instrument InstrumentConfig `toml:"instrument"`
	Capture    CaptureSection   `toml:"capture"`
	Admin      AdminConfig      `toml:"admin"`
}

type InstrumentConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	StreamQuery   string `toml:"stream_query"`
	Identify      bool   `toml:"identify"`
	ConnectWaitMS int    `toml:"connect_wait_ms"`
	QueryWaitMS   int    `toml:"query_wait_ms"`
	Reconnect     bool   `toml:"reconnect"`
	MaxAttempts   int    `toml:"max_attempts"`
}

func (c InstrumentConfig) ConnectWait() time.Duration {
	return time.Duration(c.ConnectWaitMS) * time.Millisecond
}

func (c InstrumentConfig) QueryWait() time.Duration {
	return time.Duration(c.QueryWaitMS) * time.Millisecond
}

type CaptureSection struct {
	CheckpointPath     string `toml:"checkpoint_path"`
	CheckpointInterval int    `toml:"checkpoint_interval"`
	ReadBuffer         int    `toml:"read_buffer"`
	MaxBadTerminators  int    `toml:"max_bad_terminators"`
}

type AdminConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

func LoadCaptureConfig(path string) (CaptureConfig, error) {
	var cfg CaptureConfig
	if err := loadToml(path, &cfg); err != nil {
		return CaptureConfig{}, err
	}
	applyDefaults(&cfg)
	if err := ValidateCaptureConfig(cfg); err != nil {
		return CaptureConfig{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *CaptureConfig) {
	if cfg.Instrument.Port == 0 {
		cfg.Instrument.Port = 4000
	}
	if cfg.Instrument.StreamQuery == "" {
		cfg.Instrument.StreamQuery = "CURVESTREAM?"
	}
	if cfg.Capture.CheckpointPath == "" {
		cfg.Capture.CheckpointPath = "cdump.dat"
	}
	if cfg.Capture.CheckpointInterval == 0 {
		cfg.Capture.CheckpointInterval = 10
	}
	if cfg.Capture.ReadBuffer == 0 {
		cfg.Capture.ReadBuffer = 8192
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateCaptureConfig(cfg CaptureConfig) error {
	if strings.TrimSpace(cfg.Instrument.Host) == "" {
		return fmt.Errorf("instrument config missing host")
	}
	if cfg.Instrument.Port < 1 || cfg.Instrument.Port > 65535 {
		return fmt.Errorf("instrument port out of range: %d", cfg.Instrument.Port)
	}
	if cfg.Instrument.ConnectWaitMS < 0 || cfg.Instrument.QueryWaitMS < 0 {
		return fmt.Errorf("instrument wait values must not be negative")
	}
	if cfg.Instrument.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative: %d", cfg.Instrument.MaxAttempts)
	}
	if cfg.Capture.CheckpointInterval < 1 {
		return fmt.Errorf("checkpoint_interval must be positive: %d", cfg.Capture.CheckpointInterval)
	}
	if cfg.Capture.ReadBuffer < 1 {
		return fmt.Errorf("read_buffer must be positive: %d", cfg.Capture.ReadBuffer)
	}
	if cfg.Capture.MaxBadTerminators < 0 {
		return fmt.Errorf("max_bad_terminators must not be negative: %d", cfg.Capture.MaxBadTerminators)
	}
	if addr := strings.TrimSpace(cfg.Admin.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("admin addr invalid (%s): %w", addr, err)
		}
	}
	return nil
}

// InstrumentAddr returns the dial target.
func (c CaptureConfig) InstrumentAddr() string {
	return net.JoinHostPort(c.Instrument.Host, fmt.Sprintf("%d", c.Instrument.Port))
}
