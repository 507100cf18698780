// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

type experimentRow struct {
	ID                  string  `db:"id"`
	Name                string  `db:"name"`
	Operator            string  `db:"operator"`
	Refrigerant         string  `db:"refrigerant"`
	PartID              string  `db:"part_id"`
	Post                string  `db:"post"`
	State               string  `db:"state"`
	StartTime           string  `db:"start_time"`
	EndTime             *string `db:"end_time"`
	BatchSize           int     `db:"batch_size"`
	AggregationInterval int     `db:"aggregation_interval"`
	CheckpointInterval  int     `db:"checkpoint_interval"`
	SelectedChannels    string  `db:"selected_channels"`
}

func (row experimentRow) toExperiment() (schema.Experiment, error) {
	start, err := parseTime(row.StartTime)
	if err != nil {
		return schema.Experiment{}, fmt.Errorf("store: parse start_time: %w", err)
	}
	var channels []int
	if err := json.Unmarshal([]byte(row.SelectedChannels), &channels); err != nil {
		return schema.Experiment{}, fmt.Errorf("store: parse selected_channels: %w", err)
	}

	e := schema.Experiment{
		ID:                  row.ID,
		Name:                row.Name,
		Operator:            row.Operator,
		Refrigerant:         row.Refrigerant,
		PartID:              row.PartID,
		Post:                schema.Post(row.Post),
		State:               schema.ExperimentState(row.State),
		StartTime:           start,
		BatchSize:           row.BatchSize,
		AggregationInterval: time.Duration(row.AggregationInterval) * time.Second,
		CheckpointInterval:  time.Duration(row.CheckpointInterval) * time.Second,
		SelectedChannels:    channels,
	}
	if row.EndTime != nil {
		end, err := parseTime(*row.EndTime)
		if err != nil {
			return schema.Experiment{}, fmt.Errorf("store: parse end_time: %w", err)
		}
		e.EndTime = &end
	}
	return e, nil
}

func toExperimentRow(e schema.Experiment) (experimentRow, error) {
	channels, err := json.Marshal(e.SelectedChannels)
	if err != nil {
		return experimentRow{}, err
	}
	row := experimentRow{
		ID:                  e.ID,
		Name:                e.Name,
		Operator:            e.Operator,
		Refrigerant:         e.Refrigerant,
		PartID:              e.PartID,
		Post:                string(e.Post),
		State:               string(e.State),
		StartTime:           formatTime(e.StartTime),
		BatchSize:           e.BatchSize,
		AggregationInterval: int(e.AggregationInterval / time.Second),
		CheckpointInterval:  int(e.CheckpointInterval / time.Second),
		SelectedChannels:    string(channels),
	}
	if e.EndTime != nil {
		s := formatTime(*e.EndTime)
		row.EndTime = &s
	}
	return row, nil
}

const namedExperimentInsert = `INSERT INTO experiments (
	id, name, operator, refrigerant, part_id, post, state, start_time, end_time,
	batch_size, aggregation_interval, checkpoint_interval, selected_channels
) VALUES (
	:id, :name, :operator, :refrigerant, :part_id, :post, :state, :start_time, :end_time,
	:batch_size, :aggregation_interval, :checkpoint_interval, :selected_channels
);`

// InsertExperiment persists a newly started experiment.
func (s *Store) InsertExperiment(e schema.Experiment) error {
	row, err := toExperimentRow(e)
	if err != nil {
		return err
	}
	if _, err := s.DB.NamedExec(namedExperimentInsert, row); err != nil {
		return fmt.Errorf("store: insert experiment: %w", err)
	}
	return nil
}

// UpdateExperimentState persists a state transition plus optional end
// time, used by the Coordinator's pause/stop/finalize transitions.
func (s *Store) UpdateExperimentState(id string, state schema.ExperimentState, endTime *time.Time) error {
	var endStr interface{}
	if endTime != nil {
		endStr = formatTime(*endTime)
	}
	_, err := s.DB.Exec(`UPDATE experiments SET state = ?, end_time = COALESCE(?, end_time) WHERE id = ?`,
		string(state), endStr, id)
	if err != nil {
		return fmt.Errorf("store: update experiment state: %w", err)
	}
	return nil
}

var experimentColumns = []string{
	"id", "name", "operator", "refrigerant", "part_id", "post", "state",
	"start_time", "end_time", "batch_size", "aggregation_interval", "checkpoint_interval", "selected_channels",
}

// RunningExperiments returns every experiment row in the Running state,
// used by the Coordinator's recover() transition at startup.
func (s *Store) RunningExperiments() ([]schema.Experiment, error) {
	q := sq.Select(experimentColumns...).From("experiments").Where("state = ?", string(schema.StateRunning))
	rows, err := q.RunWith(s.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("store: query running experiments: %w", err)
	}
	defer rows.Close()

	var out []schema.Experiment
	for rows.Next() {
		var row experimentRow
		if err := rows.Scan(&row.ID, &row.Name, &row.Operator, &row.Refrigerant, &row.PartID, &row.Post, &row.State,
			&row.StartTime, &row.EndTime, &row.BatchSize, &row.AggregationInterval, &row.CheckpointInterval, &row.SelectedChannels); err != nil {
			return nil, fmt.Errorf("store: scan experiment: %w", err)
		}
		e, err := row.toExperiment()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AggregateWindowRow is one row read back from agg_samples_20s, shaped for
// the export collaborator query described in.
type AggregateWindowRow struct {
	Timestamp    time.Time
	ChannelIndex int
	Min, Max, Avg *float64
	SampleCount  int
	Quality      string
}

// ReadAggregates implements the §6.3 export query: ordered by timestamp
// then channel, restricted to rows a reader should treat as valid
// (sample_count > 0 and at least one of avg/max/min present).
func (s *Store) ReadAggregates(experimentID string) ([]AggregateWindowRow, error) {
	rows, err := s.DB.Query(
		`SELECT timestamp, channel_index, value_min, value_max, value_avg, sample_count, quality
		 FROM agg_samples_20s
		 WHERE experiment_id = ?
		 ORDER BY timestamp ASC, channel_index ASC`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("store: read aggregates: %w", err)
	}
	defer rows.Close()

	var out []AggregateWindowRow
	for rows.Next() {
		var ts string
		var row AggregateWindowRow
		if err := rows.Scan(&ts, &row.ChannelIndex, &row.Min, &row.Max, &row.Avg, &row.SampleCount, &row.Quality); err != nil {
			return nil, fmt.Errorf("store: scan aggregate: %w", err)
		}
		if row.SampleCount <= 0 {
			continue
		}
		if row.Avg == nil && row.Max == nil && row.Min == nil {
			continue
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("store: parse aggregate timestamp: %w", err)
		}
		row.Timestamp = t
		out = append(out, row)
	}
	return out, rows.Err()
}
