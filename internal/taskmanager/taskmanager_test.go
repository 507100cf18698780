// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taskmanager

import (
	"path/filepath"
	"testing"

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

func TestStartAndShutdownWithEverythingDisabled(t *testing.T) {
	s := openTestStore(t)
	m, err := New(s, nil, schema.RetentionConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestStartRegistersRetentionAndCheckpointJobs(t *testing.T) {
	s := openTestStore(t)
	m, err := New(s, nil, schema.RetentionConfig{
		MaxExperimentAgeDays: 90,
		WalCheckpointEvery:   "1h",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Shutdown()

	jobs := m.s.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("len(Jobs()) = %d, want 2", len(jobs))
	}
}

func TestStartRejectsUnparsableWalCheckpointInterval(t *testing.T) {
	s := openTestStore(t)
	m, err := New(s, nil, schema.RetentionConfig{WalCheckpointEvery: "not-a-duration"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(); err == nil {
		t.Fatal("Start() with an unparsable wal-checkpoint-every should fail")
	}
}

func TestStaleRunningSweepSkippedWithoutCoordinator(t *testing.T) {
	s := openTestStore(t)
	// MaxRunningDuration is set but coordinator is nil, so the sweep must
	// not be registered (there is nothing live to stop).
	m, err := New(s, nil, schema.RetentionConfig{MaxRunningDuration: "1h"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Shutdown()

	if len(m.s.Jobs()) != 0 {
		t.Fatalf("len(Jobs()) = %d, want 0 (no coordinator wired)", len(m.s.Jobs()))
	}
}
