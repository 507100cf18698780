// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/internal/capture"
	"github.com/lonelywolf1981/bench-acquisition/internal/coordinator"
	"github.com/lonelywolf1981/bench-acquisition/internal/decoder"
	"github.com/lonelywolf1981/bench-acquisition/internal/pipeline"
	"github.com/lonelywolf1981/bench-acquisition/internal/store"
	"github.com/lonelywolf1981/bench-acquisition/internal/writer"
	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

const (
	tagMarker    = "datiacquisiti"
	taggedLength = 1132
)

func buildTaggedFrame(values [134]float64) []byte {
	buf := make([]byte, 0, taggedLength)
	buf = append(buf, []byte(tagMarker)...)
	buf = append(buf, make([]byte, 24)...)
	buf = append(buf, 0x00, 0x0D)
	buf = append(buf, []byte(tagMarker)...)
	count := make([]byte, 8)
	binary.BigEndian.PutUint32(count[4:], 134)
	buf = append(buf, count...)
	for _, v := range values {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
		buf = append(buf, b[:]...)
	}
	return buf
}

func listenLoopback(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("strconv.Atoi() error = %v", err)
	}
	return ln, port
}

func TestEngineRoutesDecodedFramesIntoStore(t *testing.T) {
	ln, port := listenLoopback(t)
	defer ln.Close()

	var frame [134]float64
	for i := range frame {
		frame[i] = float64(i)
	}

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		close(accepted)
		conn.Write(buildTaggedFrame(frame))
		time.Sleep(200 * time.Millisecond)
	}()

	s, err := store.Open(filepath.Join(t.TempDir(), "bench.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer s.Close()

	ingest := pipeline.New[[]byte](100)
	persist := pipeline.New[store.Record](1000)

	capClient := capture.New(schema.TransmitterConfig{
		IPAddress: "127.0.0.1", Port: port, ConnectionTimeoutMs: 1000, ReadTimeoutMs: 50,
	}, ingest)
	dec := decoder.New()
	coord := coordinator.New(s, persist, nil, schema.AnomalyRuleConfig{DebounceCount: 1, NoDataTimeoutSec: 30})
	w := writer.New(persist, s, nil, 500, 50*time.Millisecond)

	eng := New(capClient, dec, coord, w, nil, ingest)

	start := time.Now()
	if err := coord.Start(schema.Experiment{
		ID: "exp-1", Post: schema.PostA, SelectedChannels: []int{16},
		BatchSize: 500, AggregationInterval: 20 * time.Second,
	}, 20*time.Second, start); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("capture client never connected")
	}

	<-done

	if err := coord.Stop(schema.PostA, time.Now()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	// The writer's own goroutine already exited with the canceled ctx, so
	// flush whatever Stop's FlushAll just enqueued directly.
	if remaining := persist.DrainUpTo(persist.Len()); len(remaining) > 0 {
		if err := s.WriteBatch(remaining); err != nil {
			t.Fatalf("WriteBatch() final flush error = %v", err)
		}
	}

	rows, err := s.ReadAggregates("exp-1")
	if err != nil {
		t.Fatalf("ReadAggregates() error = %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("expected at least one aggregate window persisted after the engine ran")
	}
}
