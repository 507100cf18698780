// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package writer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/internal/pipeline"
	"github.com/lonelywolf1981/bench-acquisition/internal/store"
	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "bench.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testWindow(channel int, start time.Time) schema.AggregatedWindow {
	avg := 1.0
	return schema.AggregatedWindow{
		ExperimentID: "exp-1", ChannelIndex: channel, WindowStart: start, WindowEnd: start.Add(20 * time.Second),
		Avg: &avg, SampleCount: 40, TotalCount: 40, Quality: schema.QualityOK,
	}
}

func TestWriterFlushesOnBatchSize(t *testing.T) {
	s := openTestStore(t)
	q := pipeline.New[store.Record](10)
	w := New(q, s, nil, 3, time.Hour)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	for i := 0; i < 3; i++ {
		q.Enqueue(store.WindowRecord(testWindow(i, start)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	stats := w.Stats()
	if stats.RecordsWritten != 3 {
		t.Fatalf("RecordsWritten = %d, want 3", stats.RecordsWritten)
	}
	rows, err := s.ReadAggregates("exp-1")
	if err != nil {
		t.Fatalf("ReadAggregates() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
}

func TestWriterFlushesRemainderOnContextCancel(t *testing.T) {
	s := openTestStore(t)
	q := pipeline.New[store.Record](10)
	w := New(q, s, nil, 500, time.Hour)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	q.Enqueue(store.WindowRecord(testWindow(0, start)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	rows, err := s.ReadAggregates("exp-1")
	if err != nil {
		t.Fatalf("ReadAggregates() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1 (final drain on shutdown)", len(rows))
	}
}

func TestWriterQuarantinesPermanentFailure(t *testing.T) {
	s := openTestStore(t)
	s.Close() // closed DB makes every write fail, forcing the permanent-failure path

	q := pipeline.New[store.Record](10)
	ql, err := NewQuarantineLog(filepath.Join(t.TempDir(), "quarantine.avro"))
	if err != nil {
		t.Fatalf("NewQuarantineLog() error = %v", err)
	}
	w := New(q, s, ql, 1, time.Hour)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	q.Enqueue(store.WindowRecord(testWindow(0, start)))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	stats := w.Stats()
	if stats.RecordsQuarantined != 1 {
		t.Fatalf("RecordsQuarantined = %d, want 1", stats.RecordsQuarantined)
	}

	recovered, err := ql.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(recovered) != 1 || recovered[0].Kind != "window" {
		t.Fatalf("recovered = %+v, want one window record", recovered)
	}
}

func TestWriterCheckpointsPendingBatchAndClearsOnFlush(t *testing.T) {
	s := openTestStore(t)
	q := pipeline.New[store.Record](10)
	cp, err := NewCheckpoint(filepath.Join(t.TempDir(), "checkpoint.avro"))
	if err != nil {
		t.Fatalf("NewCheckpoint() error = %v", err)
	}
	// batchSize is large enough that the single enqueued record never
	// crosses the size boundary; only the flushInterval boundary fires.
	w := New(q, s, nil, 500, 50*time.Millisecond).WithCheckpoint(cp)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	q.Enqueue(store.WindowRecord(testWindow(0, start)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Give the poll loop time to drain the record into pending and save a
	// checkpoint, but cancel before flushInterval elapses so the flush
	// boundary has not fired yet.
	time.Sleep(20 * time.Millisecond)
	recordsBeforeFlush, err := cp.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(recordsBeforeFlush) != 1 {
		t.Fatalf("len(recordsBeforeFlush) = %d, want 1 checkpointed record before flush", len(recordsBeforeFlush))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	recordsAfterFlush, err := cp.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(recordsAfterFlush) != 0 {
		t.Fatalf("len(recordsAfterFlush) = %d, want 0 once the final flush on shutdown commits", len(recordsAfterFlush))
	}
}
