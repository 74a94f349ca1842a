// Package instrument owns the SCPI socket side of acquisition: dialing,
// identification, and issuing the stream-start query. It treats the
// instrument as a black-box byte source once the stream is running.
package instrument

import "time"

// DefaultStreamQuery starts continuous curve transfer on instruments
// that support it.
const DefaultStreamQuery = "CURVESTREAM?"

const identifyQuery = "*IDN?"

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines connection reliability defaults for one instrument.
type Config struct {
	ConnectTimeout time.Duration
	// QueryTimeout bounds the identify round trip. Streaming reads are
	// never deadlined; the stream ends only by closure or error.
	QueryTimeout time.Duration
	WriteTimeout time.Duration
	Backoff      BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		QueryTimeout:   5 * time.Second,
		WriteTimeout:   5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}
