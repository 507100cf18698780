// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package telemetry publishes Aggregated Windows and Anomaly Events to an
// optional NATS subject as line-protocol v2 messages. Publication is
// fire-and-forget: a broker outage never blocks or slows acquisition, it
// only means telemetry falls behind or is silently skipped.
package telemetry

import (
	"fmt"
	"sync"

	influx "github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/nats-io/nats.go"

	"github.com/lonelywolf1981/bench-acquisition/pkg/log"
	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

const (
	windowSubject  = "bench.windows"
	anomalySubject = "bench.anomalies"
)

// Publisher wraps a NATS connection used to mirror engine output for
// external dashboards. A nil *Publisher is valid and every method is then
// a no-op, so callers need not special-case telemetry being disabled.
type Publisher struct {
	conn *nats.Conn
	mu   sync.Mutex
}

// New connects to cfg.Address using the configured credentials. A
// connection failure is non-fatal: it is logged and a disabled Publisher
// (nil, nil) is returned so the engine continues without telemetry.
func New(cfg *schema.NatsConfig) (*Publisher, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, nil
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			log.Warnf("telemetry: disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		log.Infof("telemetry: reconnected to %s", nc.ConnectedUrl())
	}))
	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		log.Warnf("telemetry: error: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		log.Warnf("telemetry: connect to %s failed, continuing without telemetry: %v", cfg.Address, err)
		return nil, nil
	}
	log.Infof("telemetry: connected to %s", cfg.Address)
	return &Publisher{conn: nc}, nil
}

// Close flushes and releases the underlying connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

func encodeWindow(w schema.AggregatedWindow) ([]byte, error) {
	var enc influx.Encoder
	enc.SetPrecision(influx.Nanosecond)
	enc.StartLine("agg_window")
	enc.AddTag("experiment_id", w.ExperimentID)
	enc.AddTag("channel", fmt.Sprintf("%d", w.ChannelIndex))
	enc.AddTag("quality", string(w.Quality))
	enc.AddField("sample_count", influx.MustNewValue(int64(w.SampleCount)))
	enc.AddField("invalid_count", influx.MustNewValue(int64(w.InvalidCount)))
	enc.AddField("total_count", influx.MustNewValue(int64(w.TotalCount)))
	if w.Avg != nil {
		enc.AddField("avg", influx.MustNewValue(*w.Avg))
	}
	if w.Min != nil {
		enc.AddField("min", influx.MustNewValue(*w.Min))
	}
	if w.Max != nil {
		enc.AddField("max", influx.MustNewValue(*w.Max))
	}
	if w.Std != nil {
		enc.AddField("std", influx.MustNewValue(*w.Std))
	}
	enc.EndLine(w.WindowEnd)
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("telemetry: encode window: %w", err)
	}
	return enc.Bytes(), nil
}

func encodeAnomaly(e schema.AnomalyEvent) ([]byte, error) {
	var enc influx.Encoder
	enc.SetPrecision(influx.Nanosecond)
	enc.StartLine("anomaly_event")
	enc.AddTag("experiment_id", e.ExperimentID)
	enc.AddTag("channel", fmt.Sprintf("%d", e.ChannelIndex))
	enc.AddTag("kind", string(e.Kind))
	enc.AddTag("severity", string(e.Severity))
	enc.AddField("value", influx.MustNewValue(e.Value))
	enc.AddField("threshold", influx.MustNewValue(e.Threshold))
	enc.AddField("delta", influx.MustNewValue(e.Delta))
	enc.AddField("closed", influx.MustNewValue(e.EndTime != nil))
	enc.EndLine(e.Timestamp)
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("telemetry: encode anomaly: %w", err)
	}
	return enc.Bytes(), nil
}

// PublishWindow mirrors one Aggregated Window to NATS. Errors are logged,
// never returned, so a caller can fire-and-forget in the hot path.
func (p *Publisher) PublishWindow(w schema.AggregatedWindow) {
	if p == nil || p.conn == nil {
		return
	}
	line, err := encodeWindow(w)
	if err != nil {
		log.Warnf("telemetry: %v", err)
		return
	}
	p.mu.Lock()
	err = p.conn.Publish(windowSubject, line)
	p.mu.Unlock()
	if err != nil {
		log.Warnf("telemetry: publish window: %v", err)
	}
}

// PublishAnomaly mirrors one Anomaly Event to NATS.
func (p *Publisher) PublishAnomaly(e schema.AnomalyEvent) {
	if p == nil || p.conn == nil {
		return
	}
	line, err := encodeAnomaly(e)
	if err != nil {
		log.Warnf("telemetry: %v", err)
		return
	}
	p.mu.Lock()
	err = p.conn.Publish(anomalySubject, line)
	p.mu.Unlock()
	if err != nil {
		log.Warnf("telemetry: publish anomaly: %v", err)
	}
}
