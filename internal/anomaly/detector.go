// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package anomaly implements the per-channel Anomaly Detector state
// machine: debounced min/max limit violations, undebounced
// delta spikes, no-data timeouts, and aggregated-window quality tracking.
package anomaly

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

// State summarizes a channel's current anomaly status for health
// snapshots: Normal, Warning, Alarm, or NoData.
type State int

const (
	Normal State = iota
	Warning
	Alarm
	NoData
)

func (s State) String() string {
	switch s {
	case Warning:
		return "Warning"
	case Alarm:
		return "Alarm"
	case NoData:
		return "NoData"
	default:
		return "Normal"
	}
}

func debounce(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Detector tracks one channel's anomaly state across the lifetime of a
// running experiment.
type Detector struct {
	experimentID string
	channelIndex int
	cfg          schema.AnomalyRuleConfig

	mu sync.Mutex

	minViolateCount int
	minClearCount   int
	minOpen         *schema.AnomalyEvent

	maxViolateCount int
	maxClearCount   int
	maxOpen         *schema.AnomalyEvent

	noDataOpen    *schema.AnomalyEvent
	lastValidTime time.Time
	hasValid      bool

	hasLastValue bool
	lastValue    float64

	qualityKind schema.AnomalyKind
	qualityOpen *schema.AnomalyEvent

	seq uint64
}

// New creates a Detector for one channel of one running experiment.
func New(experimentID string, channelIndex int, cfg schema.AnomalyRuleConfig) *Detector {
	return &Detector{experimentID: experimentID, channelIndex: channelIndex, cfg: cfg}
}

func (d *Detector) nextID() string {
	d.seq++
	return fmt.Sprintf("%s-ch%d-%d", d.experimentID, d.channelIndex, d.seq)
}

func (d *Detector) newEvent(ts time.Time, kind schema.AnomalyKind, sev schema.Severity, value, threshold, delta float64, msg string) schema.AnomalyEvent {
	return schema.AnomalyEvent{
		ID:           d.nextID(),
		Timestamp:    ts,
		ExperimentID: d.experimentID,
		ChannelIndex: d.channelIndex,
		Kind:         kind,
		Severity:     sev,
		Value:        value,
		Threshold:    threshold,
		Delta:        delta,
		Message:      msg,
	}
}

// State reports the channel's current worst-case status.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateLocked()
}

func (d *Detector) stateLocked() State {
	if d.noDataOpen != nil {
		return NoData
	}
	if (d.minOpen != nil && d.minOpen.Severity == schema.SeverityCritical) ||
		(d.maxOpen != nil && d.maxOpen.Severity == schema.SeverityCritical) {
		return Alarm
	}
	if d.minOpen != nil || d.maxOpen != nil {
		return Warning
	}
	return Normal
}

// IngestSample evaluates the Min/Max/DeltaSpike/NoData rules against one
// raw sample, returning zero or more emitted/updated events in order.
func (d *Detector) IngestSample(ts time.Time, value float64) []schema.AnomalyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	var events []schema.AnomalyEvent

	if schema.IsNoData(value) {
		events = append(events, d.checkNoDataTimeout(ts)...)
		return events
	}

	if d.noDataOpen != nil {
		closed := *d.noDataOpen
		closed.EndTime = &ts
		events = append(events, closed)
		events = append(events, d.newEvent(ts, schema.KindDataRestored, schema.SeverityWarning, value, 0, 0, "channel data restored"))
		d.noDataOpen = nil
	}
	d.lastValidTime = ts
	d.hasValid = true

	events = append(events, d.checkMin(ts, value)...)
	events = append(events, d.checkMax(ts, value)...)
	events = append(events, d.checkDelta(ts, value)...)

	d.lastValue = value
	d.hasLastValue = true

	return events
}

func (d *Detector) checkMin(ts time.Time, value float64) []schema.AnomalyEvent {
	if d.cfg.MinLimit == nil {
		return nil
	}
	limit := *d.cfg.MinLimit
	var events []schema.AnomalyEvent

	if value < limit {
		d.minViolateCount++
		d.minClearCount = 0
		if d.minOpen == nil && d.minViolateCount >= debounce(d.cfg.DebounceCount) {
			sev := schema.SeverityWarning
			if d.cfg.CriticalMin != nil && value < *d.cfg.CriticalMin {
				sev = schema.SeverityCritical
			}
			e := d.newEvent(ts, schema.KindMinViolation, sev, value, limit, 0,
				fmt.Sprintf("value %.4f below minimum limit %.4f", value, limit))
			d.minOpen = &e
			events = append(events, e)
		}
		return events
	}

	d.minViolateCount = 0
	if d.minOpen == nil {
		return nil
	}
	clearLevel := limit + d.cfg.MinHysteresis
	if value > clearLevel {
		d.minClearCount++
		if d.minClearCount >= debounce(d.cfg.DebounceCount) {
			closed := *d.minOpen
			closed.EndTime = &ts
			events = append(events, closed)
			events = append(events, d.newEvent(ts, schema.KindLimitsRestored, schema.SeverityWarning, value, limit, 0,
				fmt.Sprintf("value %.4f restored above minimum limit %.4f", value, limit)))
			d.minOpen = nil
			d.minClearCount = 0
		}
	} else {
		d.minClearCount = 0
	}
	return events
}

func (d *Detector) checkMax(ts time.Time, value float64) []schema.AnomalyEvent {
	if d.cfg.MaxLimit == nil {
		return nil
	}
	limit := *d.cfg.MaxLimit
	var events []schema.AnomalyEvent

	if value > limit {
		d.maxViolateCount++
		d.maxClearCount = 0
		if d.maxOpen == nil && d.maxViolateCount >= debounce(d.cfg.DebounceCount) {
			sev := schema.SeverityWarning
			if d.cfg.CriticalMax != nil && value > *d.cfg.CriticalMax {
				sev = schema.SeverityCritical
			}
			e := d.newEvent(ts, schema.KindMaxViolation, sev, value, limit, 0,
				fmt.Sprintf("value %.4f above maximum limit %.4f", value, limit))
			d.maxOpen = &e
			events = append(events, e)
		}
		return events
	}

	d.maxViolateCount = 0
	if d.maxOpen == nil {
		return nil
	}
	clearLevel := limit - d.cfg.MaxHysteresis
	if value < clearLevel {
		d.maxClearCount++
		if d.maxClearCount >= debounce(d.cfg.DebounceCount) {
			closed := *d.maxOpen
			closed.EndTime = &ts
			events = append(events, closed)
			events = append(events, d.newEvent(ts, schema.KindLimitsRestored, schema.SeverityWarning, value, limit, 0,
				fmt.Sprintf("value %.4f restored below maximum limit %.4f", value, limit)))
			d.maxOpen = nil
			d.maxClearCount = 0
		}
	} else {
		d.maxClearCount = 0
	}
	return events
}

func (d *Detector) checkDelta(ts time.Time, value float64) []schema.AnomalyEvent {
	if d.cfg.MaxDelta == nil || !d.hasLastValue {
		return nil
	}
	delta := math.Abs(value - d.lastValue)
	if delta <= *d.cfg.MaxDelta {
		return nil
	}
	e := d.newEvent(ts, schema.KindDeltaSpike, schema.SeverityWarning, value, *d.cfg.MaxDelta, delta,
		fmt.Sprintf("delta %.4f exceeds max delta %.4f", delta, *d.cfg.MaxDelta))
	return []schema.AnomalyEvent{e}
}

// checkNoDataTimeout is evaluated whenever a no-data sample arrives; the
// timeout itself is wall-clock driven so Tick must also call this path
// (via CheckNoData) for channels that stop producing samples entirely.
func (d *Detector) checkNoDataTimeout(ts time.Time) []schema.AnomalyEvent {
	if d.cfg.NoDataTimeoutSec <= 0 || d.noDataOpen != nil {
		return nil
	}
	if !d.hasValid {
		d.lastValidTime = ts
		d.hasValid = true
		return nil
	}
	elapsed := ts.Sub(d.lastValidTime)
	timeout := time.Duration(d.cfg.NoDataTimeoutSec) * time.Second
	if elapsed < timeout {
		return nil
	}
	sev := schema.SeverityWarning
	if elapsed >= 2*timeout {
		sev = schema.SeverityCritical
	}
	e := d.newEvent(ts, schema.KindNoData, sev, 0, 0, 0,
		fmt.Sprintf("no valid sample for %.1fs (timeout %ds)", elapsed.Seconds(), d.cfg.NoDataTimeoutSec))
	d.noDataOpen = &e
	return []schema.AnomalyEvent{e}
}

// CheckNoData re-evaluates the no-data timeout at time now without a
// sample having arrived, so a channel that stops transmitting entirely is
// still flagged (called from the owning post's periodic tick).
func (d *Detector) CheckNoData(now time.Time) []schema.AnomalyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checkNoDataTimeout(now)
}

// IngestWindow tracks the Quality rule against one Aggregated Window:
// Degraded maps to KindQualityDegraded, Bad to KindQualityBad. Quality has
// no dedicated restored kind, so closing is represented by setting EndTime
// on the original entering event rather than emitting a new one.
func (d *Detector) IngestWindow(w schema.AggregatedWindow) []schema.AnomalyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	var target schema.AnomalyKind
	switch w.Quality {
	case schema.QualityDegraded:
		target = schema.KindQualityDegraded
	case schema.QualityBad:
		target = schema.KindQualityBad
	}

	if target == d.qualityKind {
		return nil
	}

	var events []schema.AnomalyEvent
	if d.qualityOpen != nil {
		closed := *d.qualityOpen
		closed.EndTime = &w.WindowEnd
		events = append(events, closed)
		d.qualityOpen = nil
	}
	if target != "" {
		e := d.newEvent(w.WindowEnd, target, schema.SeverityWarning, 0, 0, 0,
			fmt.Sprintf("window quality %s (invalid %d/%d)", w.Quality, w.InvalidCount, w.TotalCount))
		d.qualityOpen = &e
		events = append(events, e)
	}
	d.qualityKind = target
	return events
}
