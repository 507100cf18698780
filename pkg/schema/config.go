// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

// Config is the single configuration object recognized by the engine
//, enriched with the ambient options a complete deployment
// needs (logging, admin endpoint, telemetry, maintenance).
type Config struct {
	Transmitter TransmitterConfig `json:"transmitter"`
	Database    DatabaseConfig    `json:"database"`
	Aggregation AggregationConfig `json:"aggregation"`
	Queues      QueueSizes        `json:"queue-sizes"`

	AnomalyRules map[string]AnomalyRuleConfig `json:"anomaly-rules"`

	Nats  *NatsConfig  `json:"nats,omitempty"`
	Admin *AdminConfig `json:"admin,omitempty"`

	Retention RetentionConfig `json:"retention"`

	LogLevel string `json:"log-level"`
	LogDate  bool   `json:"log-date"`
	Gops     bool   `json:"gops"`
}

type TransmitterConfig struct {
	IPAddress          string `json:"ip-address"`
	Port               int    `json:"port"`
	ConnectionTimeoutMs int   `json:"connection-timeout-ms"`
	ReadTimeoutMs      int    `json:"read-timeout-ms"`
}

type DatabaseConfig struct {
	DbPath           string `json:"db-path"`
	BatchSize        int    `json:"batch-size"`
	FlushIntervalSec int    `json:"flush-interval-sec"`
}

type AggregationConfig struct {
	IntervalSec int `json:"interval-sec"`
}

type QueueSizes struct {
	Ingest  int `json:"ingest"`
	Decode  int `json:"decode"`
	Persist int `json:"persist"`
}

// AnomalyRuleConfig is the per-channel tunable anomaly configuration,
// supplementing the immutable Channel Registry.
type AnomalyRuleConfig struct {
	MinLimit         *float64 `json:"min-limit,omitempty"`
	MaxLimit         *float64 `json:"max-limit,omitempty"`
	MinHysteresis    float64  `json:"min-hysteresis"`
	MaxHysteresis    float64  `json:"max-hysteresis"`
	CriticalMin      *float64 `json:"critical-min,omitempty"`
	CriticalMax      *float64 `json:"critical-max,omitempty"`
	MaxDelta         *float64 `json:"max-delta,omitempty"`
	DebounceCount    int      `json:"debounce-count"`
	NoDataTimeoutSec int      `json:"no-data-timeout-sec"`
}

type NatsConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"creds-file-path,omitempty"`
}

type AdminConfig struct {
	Addr string `json:"addr"`
}

type RetentionConfig struct {
	MaxExperimentAgeDays int    `json:"max-experiment-age-days"`
	WalCheckpointEvery   string `json:"wal-checkpoint-every"`
	MaxRunningDuration   string `json:"max-running-duration"`
}

// Defaults holds sane values applied before a config file is decoded on
// top of them.
var Defaults = Config{
	Transmitter: TransmitterConfig{
		IPAddress:           "127.0.0.1",
		Port:                9000,
		ConnectionTimeoutMs: 5000,
		ReadTimeoutMs:       1000,
	},
	Database: DatabaseConfig{
		DbPath:           "./var/bench.db",
		BatchSize:        500,
		FlushIntervalSec: 1,
	},
	Aggregation: AggregationConfig{
		IntervalSec: 20,
	},
	Queues: QueueSizes{
		Ingest:  10000,
		Decode:  5000,
		Persist: 1000,
	},
	Retention: RetentionConfig{
		MaxExperimentAgeDays: 90,
		WalCheckpointEvery:   "5m",
		MaxRunningDuration:   "0",
	},
	LogLevel: "info",
}
