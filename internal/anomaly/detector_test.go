// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package anomaly

import (
	"testing"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

func minLimit(v float64) schema.AnomalyRuleConfig {
	return schema.AnomalyRuleConfig{MinLimit: &v, DebounceCount: 3}
}

func TestDebouncedMinViolationAndRestore(t *testing.T) {
	cfg := minLimit(0)
	d := New("exp-1", 5, cfg)

	values := []float64{1, -1, -1, -1, 2, 2, 2}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var minViolations, restores int
	for i, v := range values {
		ts := start.Add(time.Duration(i) * time.Second)
		for _, e := range d.IngestSample(ts, v) {
			switch e.Kind {
			case schema.KindMinViolation:
				if e.EndTime != nil {
					// Restoring re-emits the open violation with EndTime set;
					// that closes the same event rather than firing a new one.
					if i != 6 {
						t.Fatalf("MinViolation closed at sample %d, want sample 6 (third consecutive 2)", i)
					}
					continue
				}
				minViolations++
				if i != 3 {
					t.Fatalf("MinViolation fired at sample %d, want sample 3 (third consecutive -1)", i)
				}
			case schema.KindLimitsRestored:
				restores++
				if i != 6 {
					t.Fatalf("LimitsRestored fired at sample %d, want sample 6 (third consecutive 2)", i)
				}
			}
		}
	}

	if minViolations != 1 {
		t.Fatalf("minViolations = %d, want exactly 1", minViolations)
	}
	if restores != 1 {
		t.Fatalf("restores = %d, want exactly 1", restores)
	}
}

func TestDeltaSpikeDoesNotLatch(t *testing.T) {
	delta := 5.0
	cfg := schema.AnomalyRuleConfig{MaxDelta: &delta}
	d := New("exp-1", 0, cfg)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.IngestSample(start, 10)
	events := d.IngestSample(start.Add(time.Second), 20)
	if len(events) != 1 || events[0].Kind != schema.KindDeltaSpike {
		t.Fatalf("expected exactly one DeltaSpike event, got %+v", events)
	}
	if events[0].EndTime != nil {
		t.Fatalf("DeltaSpike should never carry an end time: %+v", events[0])
	}

	// A second large jump fires again; delta spikes never latch or suppress repeats.
	events = d.IngestSample(start.Add(2*time.Second), 30)
	if len(events) != 1 || events[0].Kind != schema.KindDeltaSpike {
		t.Fatalf("expected a second independent DeltaSpike event, got %+v", events)
	}
}

func TestNoDataTimeoutAndRestore(t *testing.T) {
	cfg := schema.AnomalyRuleConfig{NoDataTimeoutSec: 10}
	d := New("exp-1", 2, cfg)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.IngestSample(start, 1.0) // establish a last-valid baseline

	events := d.CheckNoData(start.Add(5 * time.Second))
	if len(events) != 0 {
		t.Fatalf("no timeout expected before NoDataTimeoutSec elapses, got %+v", events)
	}

	events = d.CheckNoData(start.Add(11 * time.Second))
	if len(events) != 1 || events[0].Kind != schema.KindNoData {
		t.Fatalf("expected one NoData event after timeout, got %+v", events)
	}
	if events[0].Severity != schema.SeverityWarning {
		t.Fatalf("Severity = %v, want Warning before 2x timeout", events[0].Severity)
	}

	restored := d.IngestSample(start.Add(12*time.Second), 2.0)
	var sawClose, sawRestored bool
	for _, e := range restored {
		if e.Kind == schema.KindNoData && e.EndTime != nil {
			sawClose = true
		}
		if e.Kind == schema.KindDataRestored {
			sawRestored = true
		}
	}
	if !sawClose || !sawRestored {
		t.Fatalf("expected the NoData event to close and a DataRestored event to fire, got %+v", restored)
	}
}

func TestNoDataCriticalAfterDoubleTimeout(t *testing.T) {
	cfg := schema.AnomalyRuleConfig{NoDataTimeoutSec: 10}
	d := New("exp-1", 3, cfg)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.IngestSample(start, 1.0)

	events := d.CheckNoData(start.Add(25 * time.Second))
	if len(events) != 1 || events[0].Severity != schema.SeverityCritical {
		t.Fatalf("expected a Critical NoData event past 2x timeout, got %+v", events)
	}
}

func TestQualityTrackingClosesOriginalEventOnRestore(t *testing.T) {
	d := New("exp-1", 9, schema.AnomalyRuleConfig{})
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	degraded := schema.AggregatedWindow{WindowEnd: start, Quality: schema.QualityDegraded, SampleCount: 1, InvalidCount: 1, TotalCount: 2}
	events := d.IngestWindow(degraded)
	if len(events) != 1 || events[0].Kind != schema.KindQualityDegraded || events[0].EndTime != nil {
		t.Fatalf("expected one open QualityDegraded event, got %+v", events)
	}

	ok := schema.AggregatedWindow{WindowEnd: start.Add(20 * time.Second), Quality: schema.QualityOK, SampleCount: 2, TotalCount: 2}
	events = d.IngestWindow(ok)
	if len(events) != 1 || events[0].Kind != schema.KindQualityDegraded || events[0].EndTime == nil {
		t.Fatalf("expected the original QualityDegraded event to close, got %+v", events)
	}
}
