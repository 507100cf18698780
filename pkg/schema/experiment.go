// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import "time"

// Post identifies one of the three independent experiment recorders.
type Post string

const (
	PostA Post = "A"
	PostB Post = "B"
	PostC Post = "C"
)

// ExperimentState is the lifecycle state of one recording session.
type ExperimentState string

const (
	StateIdle      ExperimentState = "Idle"
	StateRunning   ExperimentState = "Running"
	StatePaused    ExperimentState = "Paused"
	StateStopped   ExperimentState = "Stopped"
	StateFinalized ExperimentState = "Finalized"
	StateRecovered ExperimentState = "Recovered"
)

// Experiment is one recording session on one post.
type Experiment struct {
	ID         string
	Name       string
	Operator   string
	Refrigerant string
	PartID     string

	State     ExperimentState
	Post      Post
	StartTime time.Time
	EndTime   *time.Time

	BatchSize           int
	AggregationInterval time.Duration
	CheckpointInterval  time.Duration

	SelectedChannels []int
}
