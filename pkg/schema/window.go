// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import "time"

// Quality classifies an Aggregated Window by its invalid-sample ratio.
type Quality string

const (
	QualityOK       Quality = "OK"
	QualityDegraded Quality = "Degraded"
	QualityBad      Quality = "Bad"
)

// AggregatedWindow is the per-channel, per-interval statistics record
// emitted by the Aggregator.
type AggregatedWindow struct {
	ExperimentID string
	ChannelIndex int
	WindowStart  time.Time
	WindowEnd    time.Time

	Min   *float64
	Max   *float64
	Avg   *float64
	First *float64
	Last  *float64
	Std   *float64

	SampleCount  int
	InvalidCount int
	TotalCount   int

	Quality Quality
}

// Valid checks the core window invariant: invalid+sample==total, and
// sample_count==0 iff all numeric statistics are absent and quality is Bad.
func (w AggregatedWindow) Valid() bool {
	if w.InvalidCount+w.SampleCount != w.TotalCount {
		return false
	}
	allAbsent := w.Min == nil && w.Max == nil && w.Avg == nil && w.First == nil && w.Last == nil && w.Std == nil
	if w.SampleCount == 0 {
		return allAbsent && w.Quality == QualityBad
	}
	return !allAbsent
}
