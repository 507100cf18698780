// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

// DeleteExperimentsOlderThan removes every finished experiment (and its
// aggregates, anomaly events, and state-log rows) whose end_time
// precedes cutoff. Running or Paused experiments are never touched
// regardless of age.
func (s *Store) DeleteExperimentsOlderThan(cutoff time.Time) (int64, error) {
	tx, err := s.DB.Beginx()
	if err != nil {
		return 0, fmt.Errorf("store: begin retention sweep: %w", err)
	}

	cutoffStr := formatTime(cutoff)
	rows, err := tx.Queryx(`SELECT id FROM experiments WHERE end_time IS NOT NULL AND end_time < ?`, cutoffStr)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("store: select expired experiments: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			tx.Rollback()
			return 0, fmt.Errorf("store: scan expired experiment id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return 0, err
	}

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM agg_samples_20s WHERE experiment_id = ?`, id); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("store: delete aggregates for %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM anomaly_events WHERE experiment_id = ?`, id); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("store: delete anomaly events for %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM experiment_state_log WHERE experiment_id = ?`, id); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("store: delete state log for %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM experiments WHERE id = ?`, id); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("store: delete experiment %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit retention sweep: %w", err)
	}
	return int64(len(ids)), nil
}

// Checkpoint forces a WAL checkpoint, folding the write-ahead log back
// into the main database file. TRUNCATE additionally shrinks the WAL
// file on disk rather than leaving it pre-allocated.
func (s *Store) Checkpoint() error {
	if _, err := s.DB.Exec(`PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return fmt.Errorf("store: wal checkpoint: %w", err)
	}
	return nil
}

// StaleRunningExperiments returns every Running experiment whose
// start_time precedes cutoff, used to detect a post left acquiring far
// longer than any real bench run should take.
func (s *Store) StaleRunningExperiments(cutoff time.Time) ([]schema.Experiment, error) {
	q := sq.Select(experimentColumns...).From("experiments").
		Where("state = ? AND start_time < ?", string(schema.StateRunning), formatTime(cutoff))
	rows, err := q.RunWith(s.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("store: query stale running experiments: %w", err)
	}
	defer rows.Close()

	var out []schema.Experiment
	for rows.Next() {
		var row experimentRow
		if err := rows.Scan(&row.ID, &row.Name, &row.Operator, &row.Refrigerant, &row.PartID, &row.Post, &row.State,
			&row.StartTime, &row.EndTime, &row.BatchSize, &row.AggregationInterval, &row.CheckpointInterval, &row.SelectedChannels); err != nil {
			return nil, fmt.Errorf("store: scan stale experiment: %w", err)
		}
		e, err := row.toExperiment()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
