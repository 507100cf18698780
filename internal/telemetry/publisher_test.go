// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"bytes"
	"testing"
	"time"

	influx "github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

func TestNewWithNoAddressDisablesTelemetry(t *testing.T) {
	p, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p != nil {
		t.Fatal("New() with nil config should return a nil Publisher")
	}
	// Nil publisher must tolerate every call as a no-op.
	p.PublishWindow(schema.AggregatedWindow{})
	p.PublishAnomaly(schema.AnomalyEvent{})
	p.Close()
}

func TestEncodeWindowProducesDecodableLineProtocol(t *testing.T) {
	avg := 12.5
	w := schema.AggregatedWindow{
		ExperimentID: "exp-1", ChannelIndex: 16, WindowEnd: time.Unix(1000, 0),
		Avg: &avg, SampleCount: 40, TotalCount: 40, Quality: schema.QualityOK,
	}
	line, err := encodeWindow(w)
	if err != nil {
		t.Fatalf("encodeWindow() error = %v", err)
	}

	dec := influx.NewDecoder(bytes.NewReader(line))
	if !dec.Next() {
		t.Fatalf("decoder.Next() = false, err = %v", dec.Err())
	}
	measurement, err := dec.Measurement()
	if err != nil {
		t.Fatalf("Measurement() error = %v", err)
	}
	if string(measurement) != "agg_window" {
		t.Fatalf("measurement = %q, want agg_window", measurement)
	}
}

func TestEncodeAnomalyProducesDecodableLineProtocol(t *testing.T) {
	e := schema.AnomalyEvent{
		ExperimentID: "exp-1", ChannelIndex: 16, Timestamp: time.Unix(1000, 0),
		Kind: schema.KindMinViolation, Severity: schema.SeverityWarning, Value: -1, Threshold: 0,
	}
	line, err := encodeAnomaly(e)
	if err != nil {
		t.Fatalf("encodeAnomaly() error = %v", err)
	}

	dec := influx.NewDecoder(bytes.NewReader(line))
	if !dec.Next() {
		t.Fatalf("decoder.Next() = false, err = %v", dec.Err())
	}
	measurement, err := dec.Measurement()
	if err != nil {
		t.Fatalf("Measurement() error = %v", err)
	}
	if string(measurement) != "anomaly_event" {
		t.Fatalf("measurement = %q, want anomaly_event", measurement)
	}
}
