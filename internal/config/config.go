// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the engine's single configuration
// file, overlaying values read from an optional .env file first.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

// Load reads envFile (if present) into the process environment, then
// decodes configPath on top of schema.Defaults. A missing configPath is
// not an error: the engine runs on defaults alone. A present file is
// validated against the embedded JSON schema before being decoded, and
// unknown fields are rejected to catch typoed keys early.
func Load(configPath, envFile string) (schema.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return schema.Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := schema.Defaults

	raw, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return schema.Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	if err := schema.ValidateConfig(bytes.NewReader(raw)); err != nil {
		return schema.Config{}, fmt.Errorf("config: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return schema.Config{}, fmt.Errorf("config: parse %s: %w", configPath, err)
	}

	resolveEnvOverrides(&cfg)
	return cfg, nil
}

// resolveEnvOverrides lets security-sensitive fields be supplied via the
// environment instead of the config file, by writing "env:VARNAME" as
// the field's value in config.json.
func resolveEnvOverrides(cfg *schema.Config) {
	if strings.HasPrefix(cfg.Database.DbPath, "env:") {
		cfg.Database.DbPath = os.Getenv(strings.TrimPrefix(cfg.Database.DbPath, "env:"))
	}
	if cfg.Nats != nil {
		if strings.HasPrefix(cfg.Nats.Password, "env:") {
			cfg.Nats.Password = os.Getenv(strings.TrimPrefix(cfg.Nats.Password, "env:"))
		}
		if strings.HasPrefix(cfg.Nats.Username, "env:") {
			cfg.Nats.Username = os.Getenv(strings.TrimPrefix(cfg.Nats.Username, "env:"))
		}
	}
}

// AnomalyRules resolves cfg's string-keyed anomaly rule overrides (as
// decoded from JSON, where object keys must be strings) into the
// channel-index-keyed map the Coordinator expects.
func AnomalyRules(cfg schema.Config) (map[int]schema.AnomalyRuleConfig, error) {
	out := make(map[int]schema.AnomalyRuleConfig, len(cfg.AnomalyRules))
	for k, v := range cfg.AnomalyRules {
		var channel int
		if _, err := fmt.Sscanf(k, "%d", &channel); err != nil {
			return nil, fmt.Errorf("config: anomaly-rules key %q is not a channel index: %w", k, err)
		}
		out[channel] = v
	}
	return out, nil
}
