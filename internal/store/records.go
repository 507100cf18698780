// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

// RecordKind discriminates the mixed record stream the Persist Queue
// carries: aggregated windows, anomaly events, and experiment state
// transitions.
type RecordKind int

const (
	RecordWindow RecordKind = iota
	RecordAnomaly
	RecordStateTransition
)

// StateTransition is one row of experiment_state_log.
type StateTransition struct {
	ExperimentID string
	Timestamp    time.Time
	From         string
	To           string
	Note         string
}

// Record is one unit pulled off the Persist Queue and written by the
// Batch Writer in a single transaction alongside its siblings.
type Record struct {
	Kind            RecordKind
	Window          schema.AggregatedWindow
	Anomaly         schema.AnomalyEvent
	StateTransition StateTransition
}

func WindowRecord(w schema.AggregatedWindow) Record {
	return Record{Kind: RecordWindow, Window: w}
}

func AnomalyRecord(e schema.AnomalyEvent) Record {
	return Record{Kind: RecordAnomaly, Anomaly: e}
}

func StateTransitionRecord(t StateTransition) Record {
	return Record{Kind: RecordStateTransition, StateTransition: t}
}

type aggWindowRow struct {
	ExperimentID string   `db:"experiment_id"`
	Timestamp    string   `db:"timestamp"`
	ChannelIndex int      `db:"channel_index"`
	WindowEnd    string   `db:"window_end"`
	ValueMin     *float64 `db:"value_min"`
	ValueMax     *float64 `db:"value_max"`
	ValueAvg     *float64 `db:"value_avg"`
	ValueFirst   *float64 `db:"value_first"`
	ValueLast    *float64 `db:"value_last"`
	ValueStd     *float64 `db:"value_std"`
	SampleCount  int      `db:"sample_count"`
	InvalidCount int      `db:"invalid_count"`
	TotalCount   int      `db:"total_count"`
	Quality      string   `db:"quality"`
}

func toAggWindowRow(w schema.AggregatedWindow) aggWindowRow {
	return aggWindowRow{
		ExperimentID: w.ExperimentID,
		Timestamp:    formatTime(w.WindowStart),
		ChannelIndex: w.ChannelIndex,
		WindowEnd:    formatTime(w.WindowEnd),
		ValueMin:     w.Min,
		ValueMax:     w.Max,
		ValueAvg:     w.Avg,
		ValueFirst:   w.First,
		ValueLast:    w.Last,
		ValueStd:     w.Std,
		SampleCount:  w.SampleCount,
		InvalidCount: w.InvalidCount,
		TotalCount:   w.TotalCount,
		Quality:      string(w.Quality),
	}
}

const namedAggUpsert = `INSERT INTO agg_samples_20s (
	experiment_id, timestamp, channel_index, window_end,
	value_min, value_max, value_avg, value_first, value_last, value_std,
	sample_count, invalid_count, total_count, quality
) VALUES (
	:experiment_id, :timestamp, :channel_index, :window_end,
	:value_min, :value_max, :value_avg, :value_first, :value_last, :value_std,
	:sample_count, :invalid_count, :total_count, :quality
)
ON CONFLICT(experiment_id, timestamp, channel_index) DO UPDATE SET
	window_end = excluded.window_end,
	value_min = excluded.value_min, value_max = excluded.value_max, value_avg = excluded.value_avg,
	value_first = excluded.value_first, value_last = excluded.value_last, value_std = excluded.value_std,
	sample_count = excluded.sample_count, invalid_count = excluded.invalid_count,
	total_count = excluded.total_count, quality = excluded.quality;`

type anomalyEventRow struct {
	ID           string  `db:"id"`
	ExperimentID string  `db:"experiment_id"`
	ChannelIndex int     `db:"channel_index"`
	Timestamp    string  `db:"timestamp"`
	Kind         string  `db:"kind"`
	Severity     string  `db:"severity"`
	Value        float64 `db:"value"`
	Threshold    float64 `db:"threshold"`
	Delta        float64 `db:"delta"`
	Message      string  `db:"message"`
	Acknowledged bool    `db:"acknowledged"`
	EndTime      *string `db:"end_time"`
}

func toAnomalyEventRow(e schema.AnomalyEvent) anomalyEventRow {
	row := anomalyEventRow{
		ID:           e.ID,
		ExperimentID: e.ExperimentID,
		ChannelIndex: e.ChannelIndex,
		Timestamp:    formatTime(e.Timestamp),
		Kind:         string(e.Kind),
		Severity:     string(e.Severity),
		Value:        e.Value,
		Threshold:    e.Threshold,
		Delta:        e.Delta,
		Message:      e.Message,
		Acknowledged: e.Acknowledged,
	}
	if e.EndTime != nil {
		s := formatTime(*e.EndTime)
		row.EndTime = &s
	}
	return row
}

const namedAnomalyUpsert = `INSERT INTO anomaly_events (
	id, experiment_id, channel_index, timestamp, kind, severity, value, threshold, delta, message, acknowledged, end_time
) VALUES (
	:id, :experiment_id, :channel_index, :timestamp, :kind, :severity, :value, :threshold, :delta, :message, :acknowledged, :end_time
)
ON CONFLICT(id) DO UPDATE SET
	message = excluded.message, acknowledged = excluded.acknowledged, end_time = excluded.end_time;`

type stateLogRow struct {
	ExperimentID string `db:"experiment_id"`
	Timestamp    string `db:"timestamp"`
	FromState    string `db:"from_state"`
	ToState      string `db:"to_state"`
	Note         string `db:"note"`
}

const namedStateLogInsert = `INSERT INTO experiment_state_log (experiment_id, timestamp, from_state, to_state, note)
VALUES (:experiment_id, :timestamp, :from_state, :to_state, :note);`

// WriteBatch persists records in a single atomic transaction. Aggregate
// and anomaly upserts are idempotent under retry.
func (s *Store) WriteBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.DB.Beginx()
	if err != nil {
		return fmt.Errorf("store: begin batch: %w", err)
	}

	for _, r := range records {
		var err error
		switch r.Kind {
		case RecordWindow:
			_, err = tx.NamedExec(namedAggUpsert, toAggWindowRow(r.Window))
		case RecordAnomaly:
			_, err = tx.NamedExec(namedAnomalyUpsert, toAnomalyEventRow(r.Anomaly))
		case RecordStateTransition:
			st := r.StateTransition
			_, err = tx.NamedExec(namedStateLogInsert, stateLogRow{
				ExperimentID: st.ExperimentID,
				Timestamp:    formatTime(st.Timestamp),
				FromState:    st.From,
				ToState:      st.To,
				Note:         st.Note,
			})
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("store: write batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit batch: %w", err)
	}
	return nil
}
