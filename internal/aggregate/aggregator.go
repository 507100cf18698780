// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aggregate implements the Aggregator: per
// experiment, per channel tumbling windows of configurable width that
// roll on a time grid aligned to the experiment's start time, regardless
// of whether samples actually arrive.
package aggregate

import (
	"math"
	"sync"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

type accumulator struct {
	windowStart time.Time
	windowEnd   time.Time

	sampleCount  int
	invalidCount int
	totalCount   int

	hasValue bool
	min, max float64
	first    float64
	last     float64

	mean, m2 float64 // Welford running mean / sum-of-squared-deviations
}

func newAccumulator(start, end time.Time) *accumulator {
	return &accumulator{windowStart: start, windowEnd: end}
}

func (a *accumulator) add(v float64) {
	a.totalCount++
	a.sampleCount++
	if !a.hasValue {
		a.min, a.max, a.first = v, v, v
		a.hasValue = true
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.last = v

	delta := v - a.mean
	a.mean += delta / float64(a.sampleCount)
	delta2 := v - a.mean
	a.m2 += delta * delta2
}

func (a *accumulator) addInvalid() {
	a.totalCount++
	a.invalidCount++
}

func f64(v float64) *float64 { return &v }

func (a *accumulator) toWindow(experimentID string, channelIndex int, end time.Time) schema.AggregatedWindow {
	w := schema.AggregatedWindow{
		ExperimentID: experimentID,
		ChannelIndex: channelIndex,
		WindowStart:  a.windowStart,
		WindowEnd:    end,
		SampleCount:  a.sampleCount,
		InvalidCount: a.invalidCount,
		TotalCount:   a.totalCount,
	}

	switch {
	case a.sampleCount == 0:
		w.Quality = schema.QualityBad
	case a.invalidCount == 0:
		w.Quality = schema.QualityOK
	default:
		w.Quality = schema.QualityDegraded
	}

	if a.sampleCount > 0 {
		w.Min, w.Max = f64(a.min), f64(a.max)
		w.First, w.Last = f64(a.first), f64(a.last)
		w.Avg = f64(a.mean)
		if a.sampleCount > 1 {
			w.Std = f64(math.Sqrt(a.m2 / float64(a.sampleCount-1)))
		}
	}
	return w
}

// Aggregator owns one tumbling-window accumulator per channel for a single
// running experiment.
type Aggregator struct {
	experimentID string
	width        time.Duration
	start        time.Time

	mu    sync.Mutex
	chans map[int]*accumulator
}

// New creates an Aggregator for experimentID, aligned to start, covering
// channels. width is the window size (default 20s).
func New(experimentID string, width time.Duration, start time.Time, channels []int) *Aggregator {
	ag := &Aggregator{
		experimentID: experimentID,
		width:        width,
		start:        start,
		chans:        make(map[int]*accumulator, len(channels)),
	}
	for _, c := range channels {
		ws := ag.alignedBoundary(start)
		ag.chans[c] = newAccumulator(ws, ws.Add(width))
	}
	return ag
}

func (ag *Aggregator) alignedBoundary(t time.Time) time.Time {
	elapsed := t.Sub(ag.start)
	if elapsed < 0 {
		return ag.start
	}
	n := int64(elapsed / ag.width)
	return ag.start.Add(time.Duration(n) * ag.width)
}

// Ingest routes sample to its channel's accumulator, rolling and emitting
// zero or more completed windows first if the sample's timestamp has
// crossed one or more window boundaries.
func (ag *Aggregator) Ingest(sample schema.Sample) []schema.AggregatedWindow {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	acc, ok := ag.chans[sample.ChannelIndex]
	if !ok {
		return nil
	}

	var out []schema.AggregatedWindow
	for !sample.Timestamp.Before(acc.windowEnd) {
		out = append(out, acc.toWindow(ag.experimentID, sample.ChannelIndex, acc.windowEnd))
		next := newAccumulator(acc.windowEnd, acc.windowEnd.Add(ag.width))
		ag.chans[sample.ChannelIndex] = next
		acc = next
	}

	if sample.NoData() {
		acc.addInvalid()
	} else {
		acc.add(sample.Value)
	}
	return out
}

// Tick proactively rolls any channel whose window has elapsed even though
// no sample arrived, so the time grid stays regular: a window with
// sample_count == 0 is valid and must still be emitted.
func (ag *Aggregator) Tick(now time.Time) []schema.AggregatedWindow {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	var out []schema.AggregatedWindow
	for ch, acc := range ag.chans {
		for !now.Before(acc.windowEnd) {
			out = append(out, acc.toWindow(ag.experimentID, ch, acc.windowEnd))
			next := newAccumulator(acc.windowEnd, acc.windowEnd.Add(ag.width))
			ag.chans[ch] = next
			acc = next
		}
	}
	return out
}

// FlushAll emits one final, possibly partial, window per channel with
// WindowEnd = now, used by the Coordinator's stop() transition.
func (ag *Aggregator) FlushAll(now time.Time) []schema.AggregatedWindow {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	out := make([]schema.AggregatedWindow, 0, len(ag.chans))
	for ch, acc := range ag.chans {
		out = append(out, acc.toWindow(ag.experimentID, ch, now))
	}
	return out
}

// AdvancePast restores window alignment after a pause by advancing every
// channel to a fresh accumulator for the grid window that contains t (its
// end is the first boundary after t), without emitting or backfilling the
// skipped windows.
func (ag *Aggregator) AdvancePast(t time.Time) {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	for ch := range ag.chans {
		ws := ag.alignedBoundary(t)
		ag.chans[ch] = newAccumulator(ws, ws.Add(ag.width))
	}
}
