package instrument

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Conn is one SCPI socket connection. Reads pass through a buffered
// reader, so bytes buffered during the identify exchange are not lost
// to the stream that follows.
type Conn struct {
	cfg  Config
	conn net.Conn
	r    *bufio.Reader
	log  zerolog.Logger
}

// Dial connects to addr (host:port) within the configured timeout.
func Dial(ctx context.Context, addr string, cfg Config, logger zerolog.Logger) (*Conn, error) {
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("instrument: dial %s failed: %w", addr, err)
	}
	return &Conn{
		cfg:  cfg,
		conn: netConn,
		r:    bufio.NewReader(netConn),
		log:  logger.With().Str("instrument", addr).Logger(),
	}, nil
}

// Identify sends *IDN? and returns the instrument's one-line reply.
func (c *Conn) Identify() (string, error) {
	if err := c.writeLine(identifyQuery); err != nil {
		return "", err
	}
	if c.cfg.QueryTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.QueryTimeout)); err != nil {
			return "", fmt.Errorf("instrument: set read deadline: %w", err)
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("instrument: identify read failed: %w", err)
	}
	id := strings.TrimRight(line, "\r\n")
	c.log.Info().Str("idn", id).Msg("instrument identified")
	return id, nil
}

// StartStream issues the stream-start query. Everything the instrument
// sends afterwards belongs to the acquisition session.
func (c *Conn) StartStream(query string) error {
	if strings.TrimSpace(query) == "" {
		query = DefaultStreamQuery
	}
	c.log.Info().Str("query", query).Msg("stream started")
	return c.writeLine(query)
}

// Read delivers the next chunk of the inbound stream. It blocks without
// deadline; the stream is terminated only by closure or error.
func (c *Conn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// Close tears down the connection. Safe to call from another goroutine
// to unblock a pending Read.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr labels logs and metrics.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) writeLine(s string) error {
	if c.cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return fmt.Errorf("instrument: set write deadline: %w", err)
		}
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write([]byte(s + "\n")); err != nil {
		return fmt.Errorf("instrument: write %q failed: %w", s, err)
	}
	return nil
}
