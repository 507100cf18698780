// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capture

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/internal/pipeline"
	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

func mustListen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func testConfig(t *testing.T, ln net.Listener) schema.TransmitterConfig {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	return schema.TransmitterConfig{
		IPAddress:           "127.0.0.1",
		Port:                port,
		ConnectionTimeoutMs: 500,
		ReadTimeoutMs:       50,
	}
}

func TestClientConnectAndReadLoopEnqueuesChunks(t *testing.T) {
	ln := mustListen(t)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello"))
		time.Sleep(200 * time.Millisecond)
	}()

	q := pipeline.New[[]byte](16)
	c := New(testConfig(t, ln), q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := c.State(); got != Connected {
		t.Fatalf("State() = %v, want Connected", got)
	}

	readDone := make(chan error, 1)
	go func() { readDone <- c.ReadLoop(ctx) }()

	deadline := time.After(time.Second)
	for q.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for chunk to be enqueued")
		case <-time.After(5 * time.Millisecond):
		}
	}

	chunk, ok := q.Dequeue()
	if !ok {
		t.Fatal("Dequeue() ok = false")
	}
	if string(chunk) != "hello" {
		t.Fatalf("chunk = %q, want %q", chunk, "hello")
	}

	cancel()
	select {
	case <-readDone:
	case <-time.After(time.Second):
		t.Fatal("ReadLoop did not exit within one read timeout of cancellation")
	}
}

func TestClientSendWithoutConnectionFails(t *testing.T) {
	q := pipeline.New[[]byte](4)
	c := New(schema.TransmitterConfig{IPAddress: "127.0.0.1", Port: 1, ConnectionTimeoutMs: 10, ReadTimeoutMs: 10}, q)

	if err := c.Send([]byte("x")); err != ErrNotConnected {
		t.Fatalf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestClientConnectTimeout(t *testing.T) {
	// 203.0.113.0/24 is TEST-NET-3 (RFC 5737); guaranteed unroutable for this test.
	q := pipeline.New[[]byte](4)
	c := New(schema.TransmitterConfig{IPAddress: "203.0.113.1", Port: 81, ConnectionTimeoutMs: 50, ReadTimeoutMs: 50}, q)

	ctx := context.Background()
	err := c.Connect(ctx)
	if err == nil {
		t.Fatal("Connect() expected an error against an unroutable address")
	}
	if got := c.State(); got != Error {
		t.Fatalf("State() = %v, want Error", got)
	}
}
