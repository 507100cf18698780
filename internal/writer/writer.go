// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package writer implements the Batch Writer pipeline stage: it drains the
// Persist Queue and commits aggregate windows, anomaly events and state
// transitions to the Store in batches, retrying transient failures and
// quarantining what it cannot ever persist so the pipeline never stalls.
package writer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/internal/pipeline"
	"github.com/lonelywolf1981/bench-acquisition/internal/store"
	"github.com/lonelywolf1981/bench-acquisition/pkg/log"
)

const (
	maxWriteAttempts = 3
	retryBaseDelay   = 100 * time.Millisecond
)

// Stats exposes the Batch Writer's running counters for the admin
// snapshot endpoint.
type Stats struct {
	BatchesWritten  uint64
	RecordsWritten  uint64
	RetriesAttempted uint64
	RecordsQuarantined uint64
}

// Writer drains in *pipeline.Queue[store.Record], flushing to db whenever
// either BatchSize records have accumulated or FlushInterval has elapsed
// since the oldest unflushed record arrived, whichever comes first.
type Writer struct {
	in            *pipeline.Queue[store.Record]
	db            *store.Store
	quarantine    *QuarantineLog
	checkpoint    *Checkpoint
	batchSize     int
	flushInterval time.Duration

	batchesWritten     atomic.Uint64
	recordsWritten     atomic.Uint64
	retriesAttempted   atomic.Uint64
	recordsQuarantined atomic.Uint64
}

// New builds a Writer. batchSize and flushInterval fall back to the
// engine defaults (500 records / 1s) when given as zero. Crash-recovery
// snapshotting of the pending batch stays off unless WithCheckpoint is used.
func New(in *pipeline.Queue[store.Record], db *store.Store, quarantine *QuarantineLog, batchSize int, flushInterval time.Duration) *Writer {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Writer{in: in, db: db, quarantine: quarantine, batchSize: batchSize, flushInterval: flushInterval}
}

// WithCheckpoint attaches the crash-recovery checkpoint and returns w for
// chaining. Call before Run.
func (w *Writer) WithCheckpoint(c *Checkpoint) *Writer {
	w.checkpoint = c
	return w
}

// Run drains the Persist Queue until ctx is cancelled, flushing on the
// batch-size-or-interval boundary described on Writer. It returns once a
// final flush of whatever remains queued has been attempted.
func (w *Writer) Run(ctx context.Context) {
	var (
		pending   []store.Record
		oldestAge time.Time
	)
	poll := time.NewTicker(5 * time.Millisecond)
	defer poll.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		w.writeWithRetry(pending)
		pending = nil
		if w.checkpoint != nil {
			if err := w.checkpoint.Clear(); err != nil {
				log.Warnf("writer: clear checkpoint: %v", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			pending = append(pending, w.in.DrainUpTo(w.in.Len())...)
			flush()
			return
		case <-poll.C:
			drained := w.in.DrainUpTo(w.batchSize - len(pending))
			if len(drained) > 0 {
				if len(pending) == 0 {
					oldestAge = time.Now()
				}
				pending = append(pending, drained...)
			}
			if w.checkpoint != nil && len(pending) > 0 {
				if err := w.checkpoint.Save(pending); err != nil {
					log.Warnf("writer: save checkpoint: %v", err)
				}
			}
			switch {
			case len(pending) >= w.batchSize:
				flush()
			case len(pending) > 0 && time.Since(oldestAge) >= w.flushInterval:
				flush()
			}
		}
	}
}

// writeWithRetry commits batch to the Store, retrying transient errors
// with exponential backoff up to maxWriteAttempts before quarantining the
// whole batch and counting it as permanently dropped. Persistence failures
// must never stall ingest or decode.
func (w *Writer) writeWithRetry(batch []store.Record) {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = w.db.WriteBatch(batch)
		if err == nil {
			w.batchesWritten.Add(1)
			w.recordsWritten.Add(uint64(len(batch)))
			return
		}
		w.retriesAttempted.Add(1)
		log.Warnf("writer: batch write attempt %d/%d failed: %v", attempt, maxWriteAttempts, err)
		if attempt < maxWriteAttempts {
			time.Sleep(retryBaseDelay * time.Duration(1<<uint(attempt-1)))
		}
	}

	log.Errorf("writer: batch of %d records permanently failed, quarantining: %v", len(batch), err)
	if w.quarantine != nil {
		if qerr := w.quarantine.Append(batch); qerr != nil {
			log.Errorf("writer: quarantine append failed, records lost: %v", qerr)
		}
	}
	w.recordsQuarantined.Add(uint64(len(batch)))
}

// Stats returns a point-in-time snapshot of the Writer's counters.
func (w *Writer) Stats() Stats {
	return Stats{
		BatchesWritten:     w.batchesWritten.Load(),
		RecordsWritten:     w.recordsWritten.Load(),
		RetriesAttempted:   w.retriesAttempted.Load(),
		RecordsQuarantined: w.recordsQuarantined.Load(),
	}
}
