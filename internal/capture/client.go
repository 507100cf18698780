// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package capture implements the managed TCP client that reads the raw
// transmitter byte stream and feeds it into the Ingest
// Queue. It never blocks the rest of the pipeline: read timeouts are
// non-fatal and cancellation is checked every iteration so the read loop
// exits within one read timeout of the owning context being canceled.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/internal/pipeline"
	"github.com/lonelywolf1981/bench-acquisition/pkg/log"
	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

// State is one point in the Capture Client's connection state machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// ErrTimeout is returned by Connect when the dial does not complete within
// the configured connection timeout.
var ErrTimeout = errors.New("capture: connect timeout")

// ErrNotConnected is returned by Send when the client is not in the
// Connected state.
var ErrNotConnected = errors.New("capture: not connected")

// Stats is a point-in-time snapshot of the counters guarded by Client's
// single mutex.
type Stats struct {
	State         State
	TotalBytes    uint64
	TotalChunks   uint64
	BytesPerSec   float64
	LastChunkTime time.Time
	LastError     string
}

// Client is the managed TCP reader. One Client owns one socket; its read
// loop pushes raw chunks into an Ingest Queue for the Decoder to consume.
type Client struct {
	host           string
	port           int
	connectTimeout time.Duration
	readTimeout    time.Duration
	out            *pipeline.Queue[[]byte]

	mu            sync.Mutex
	state         State
	conn          net.Conn
	totalBytes    uint64
	totalChunks   uint64
	lastChunkTime time.Time
	lastErr       error

	windowStart time.Time
	windowBytes uint64
	bps         float64
}

// New constructs a Client from the Transmitter configuration, writing
// accepted chunks into out.
func New(cfg schema.TransmitterConfig, out *pipeline.Queue[[]byte]) *Client {
	return &Client{
		host:           cfg.IPAddress,
		port:           cfg.Port,
		connectTimeout: time.Duration(cfg.ConnectionTimeoutMs) * time.Millisecond,
		readTimeout:    time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
		out:            out,
		state:          Disconnected,
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the configured host:port, bounded by the connection
// timeout. It fails with ErrTimeout when the dial does not complete in
// time.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(Connecting)

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	d := net.Dialer{Timeout: c.connectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		if errors.Is(err, context.DeadlineExceeded) {
			c.setState(Error)
			return ErrTimeout
		}
		c.setState(Error)
		return fmt.Errorf("capture: dial %s: %w", addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.windowStart = time.Now()
	c.windowBytes = 0
	c.mu.Unlock()

	log.Infof("capture: connected to %s", addr)
	return nil
}

// Disconnect closes the underlying socket, if any, and moves to
// Disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send writes bytes to the peer. It fails with ErrNotConnected unless the
// client is currently Connected.
func (c *Client) Send(b []byte) error {
	c.mu.Lock()
	if c.state != Connected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	_, err := conn.Write(b)
	return err
}

// Stats returns a snapshot of the counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		State:         c.state,
		TotalBytes:    c.totalBytes,
		TotalChunks:   c.totalChunks,
		BytesPerSec:   c.bps,
		LastChunkTime: c.lastChunkTime,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// ReadLoop reads chunks from the connected socket and enqueues them until
// ctx is canceled, the peer closes the connection (zero-length read), or
// an I/O error occurs. Read deadlines are refreshed every iteration so
// cancellation is observed within one read timeout.
func (c *Client) ReadLoop(ctx context.Context) error {
	buf := make([]byte, 4096)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return ErrNotConnected
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.recordChunk(n)
			if !c.out.Enqueue(chunk) {
				log.Warn("capture: ingest queue full, chunk dropped")
			}
		}

		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Read timeouts are non-fatal; loop and re-check cancellation.
				continue
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			if errors.Is(err, io.EOF) {
				c.setState(Disconnected)
				return nil
			}
			c.mu.Lock()
			c.lastErr = err
			c.state = Error
			c.mu.Unlock()
			return fmt.Errorf("capture: read: %w", err)
		}
	}
}

func (c *Client) recordChunk(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalBytes += uint64(n)
	c.totalChunks++
	c.windowBytes += uint64(n)
	c.lastChunkTime = time.Now()

	if elapsed := time.Since(c.windowStart); elapsed >= time.Second {
		c.bps = float64(c.windowBytes) / elapsed.Seconds()
		c.windowStart = time.Now()
		c.windowBytes = 0
	}
}

// Run drives the managed connect/read/reconnect cycle until ctx is
// canceled. On any terminal read error it transitions through
// Reconnecting and retries after the connect timeout, bounding restart
// churn on a flapping link.
func (c *Client) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := c.Connect(ctx); err != nil {
			log.Errorf("capture: %v", err)
			c.setState(Reconnecting)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.connectTimeout):
			}
			continue
		}

		err := c.ReadLoop(ctx)
		_ = c.Disconnect()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Warnf("capture: connection lost: %v", err)
		}
		c.setState(Reconnecting)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.connectTimeout):
		}
	}
	return ctx.Err()
}
