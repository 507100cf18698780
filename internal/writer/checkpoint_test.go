// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package writer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/internal/store"
	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

func TestCheckpointLoadWithoutSaveReturnsEmpty(t *testing.T) {
	cp, err := NewCheckpoint(filepath.Join(t.TempDir(), "checkpoint.avro"))
	if err != nil {
		t.Fatalf("NewCheckpoint() error = %v", err)
	}
	records, err := cp.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if records != nil {
		t.Fatalf("records = %+v, want nil", records)
	}
}

func TestCheckpointSaveThenLoadRoundTrips(t *testing.T) {
	cp, err := NewCheckpoint(filepath.Join(t.TempDir(), "checkpoint.avro"))
	if err != nil {
		t.Fatalf("NewCheckpoint() error = %v", err)
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	want := []store.Record{
		store.WindowRecord(testWindow(0, start)),
		store.AnomalyRecord(schema.AnomalyEvent{
			ExperimentID: "exp-1", ChannelIndex: 0, Kind: schema.KindMaxViolation, Timestamp: start,
		}),
	}
	if err := cp.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := cp.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	if got[0].Kind != store.RecordWindow || got[1].Kind != store.RecordAnomaly {
		t.Fatalf("got = %+v, want window then anomaly", got)
	}
}

func TestCheckpointSaveOverwritesPreviousContent(t *testing.T) {
	cp, err := NewCheckpoint(filepath.Join(t.TempDir(), "checkpoint.avro"))
	if err != nil {
		t.Fatalf("NewCheckpoint() error = %v", err)
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	if err := cp.Save([]store.Record{store.WindowRecord(testWindow(0, start)), store.WindowRecord(testWindow(1, start))}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := cp.Save([]store.Record{store.WindowRecord(testWindow(2, start))}); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := cp.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1 (overwritten, not appended)", len(got))
	}
}

func TestCheckpointSaveWithNoRecordsClearsFile(t *testing.T) {
	cp, err := NewCheckpoint(filepath.Join(t.TempDir(), "checkpoint.avro"))
	if err != nil {
		t.Fatalf("NewCheckpoint() error = %v", err)
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	if err := cp.Save([]store.Record{store.WindowRecord(testWindow(0, start))}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := cp.Save(nil); err != nil {
		t.Fatalf("Save(nil) error = %v", err)
	}

	got, err := cp.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len(got) = %d, want 0", len(got))
	}
}

func TestCheckpointClearIsIdempotent(t *testing.T) {
	cp, err := NewCheckpoint(filepath.Join(t.TempDir(), "checkpoint.avro"))
	if err != nil {
		t.Fatalf("NewCheckpoint() error = %v", err)
	}
	if err := cp.Clear(); err != nil {
		t.Fatalf("Clear() on never-saved checkpoint error = %v", err)
	}
	if err := cp.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
}
