// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskmanager schedules the engine's background maintenance:
// a daily retention sweep of finished experiments, a periodic WAL
// checkpoint, and a periodic sweep for posts left Running far longer
// than any real bench run should take.
package taskmanager

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/lonelywolf1981/bench-acquisition/internal/coordinator"
	"github.com/lonelywolf1981/bench-acquisition/internal/store"
	"github.com/lonelywolf1981/bench-acquisition/pkg/log"
	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

// Manager owns the gocron scheduler and the maintenance jobs registered
// on it. Registration is driven entirely by schema.RetentionConfig:
// a zero-value field simply skips that job.
type Manager struct {
	s           gocron.Scheduler
	db          *store.Store
	coordinator *coordinator.Coordinator
	cfg         schema.RetentionConfig
	now         func() time.Time
}

// New builds a Manager. coordinator may be nil, which disables the
// stale-running sweep (there is then nothing live to stop).
func New(db *store.Store, coord *coordinator.Coordinator, cfg schema.RetentionConfig) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("taskmanager: create scheduler: %w", err)
	}
	return &Manager{s: s, db: db, coordinator: coord, cfg: cfg, now: time.Now}, nil
}

// Start registers every configured job and begins the scheduler. It is
// not an error to call Start with every job disabled: the scheduler
// simply runs with nothing on it.
func (m *Manager) Start() error {
	if m.cfg.MaxExperimentAgeDays > 0 {
		if err := m.registerRetentionSweep(); err != nil {
			return err
		}
	}
	if m.cfg.WalCheckpointEvery != "" && m.cfg.WalCheckpointEvery != "0" {
		if err := m.registerCheckpoint(); err != nil {
			return err
		}
	}
	if m.coordinator != nil && m.cfg.MaxRunningDuration != "" && m.cfg.MaxRunningDuration != "0" {
		if err := m.registerStaleRunningSweep(); err != nil {
			return err
		}
	}
	m.s.Start()
	return nil
}

// Shutdown stops the scheduler and waits for any in-flight job to finish.
func (m *Manager) Shutdown() error {
	return m.s.Shutdown()
}

// registerRetentionSweep runs once a day at 04:00 local time, deleting
// every experiment (and its aggregates, anomaly events, and state log)
// that finished more than MaxExperimentAgeDays ago.
func (m *Manager) registerRetentionSweep() error {
	log.Info("taskmanager: registering retention sweep")
	_, err := m.s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(4, 0, 0))),
		gocron.NewTask(func() {
			cutoff := m.now().AddDate(0, 0, -m.cfg.MaxExperimentAgeDays)
			n, err := m.db.DeleteExperimentsOlderThan(cutoff)
			if err != nil {
				log.Errorf("taskmanager: retention sweep: %v", err)
				return
			}
			if n > 0 {
				log.Infof("taskmanager: retention sweep removed %d experiment(s) older than %s", n, cutoff.Format(time.RFC3339))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("taskmanager: register retention sweep: %w", err)
	}
	return nil
}

// registerCheckpoint runs every WalCheckpointEvery interval, folding the
// write-ahead log back into the main database file so it never grows
// unbounded between quiet periods.
func (m *Manager) registerCheckpoint() error {
	interval, err := time.ParseDuration(m.cfg.WalCheckpointEvery)
	if err != nil {
		return fmt.Errorf("taskmanager: parse wal-checkpoint-every: %w", err)
	}
	if interval <= 0 {
		return nil
	}
	log.Infof("taskmanager: registering WAL checkpoint every %s", interval)
	_, err = m.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := m.db.Checkpoint(); err != nil {
				log.Errorf("taskmanager: wal checkpoint: %v", err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("taskmanager: register wal checkpoint: %w", err)
	}
	return nil
}

// registerStaleRunningSweep runs every minute, looking for posts whose
// experiment has been Running longer than MaxRunningDuration. Each one is
// stopped through the live Coordinator so its partial window is flushed
// and its channels are released, rather than merely patched in the Store.
func (m *Manager) registerStaleRunningSweep() error {
	maxRunning, err := time.ParseDuration(m.cfg.MaxRunningDuration)
	if err != nil {
		return fmt.Errorf("taskmanager: parse max-running-duration: %w", err)
	}
	if maxRunning <= 0 {
		return nil
	}
	log.Infof("taskmanager: registering stale-running sweep (limit %s)", maxRunning)
	_, err = m.s.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			now := m.now()
			stale, err := m.db.StaleRunningExperiments(now.Add(-maxRunning))
			if err != nil {
				log.Errorf("taskmanager: stale-running sweep: %v", err)
				return
			}
			for _, e := range stale {
				log.Warnf("taskmanager: stopping experiment %s on post %s, exceeded max running duration %s", e.ID, e.Post, maxRunning)
				if err := m.coordinator.Stop(e.Post, now); err != nil {
					log.Errorf("taskmanager: stop stale experiment %s: %v", e.ID, err)
				}
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("taskmanager: register stale-running sweep: %w", err)
	}
	return nil
}
