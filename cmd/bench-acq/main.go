// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/lonelywolf1981/bench-acquisition/internal/admin"
	"github.com/lonelywolf1981/bench-acquisition/internal/capture"
	"github.com/lonelywolf1981/bench-acquisition/internal/config"
	"github.com/lonelywolf1981/bench-acquisition/internal/coordinator"
	"github.com/lonelywolf1981/bench-acquisition/internal/decoder"
	"github.com/lonelywolf1981/bench-acquisition/internal/engine"
	"github.com/lonelywolf1981/bench-acquisition/internal/pipeline"
	"github.com/lonelywolf1981/bench-acquisition/internal/store"
	"github.com/lonelywolf1981/bench-acquisition/internal/taskmanager"
	"github.com/lonelywolf1981/bench-acquisition/internal/telemetry"
	"github.com/lonelywolf1981/bench-acquisition/internal/writer"
	"github.com/lonelywolf1981/bench-acquisition/pkg/log"
	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

func main() {
	var flagConfigFile, flagEnvFile string
	var flagGops, flagStopImmediately bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default config options by those specified in `config.json`")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Read environment variable overrides from `file` before loading the config")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagStopImmediately, "no-server", false, "Load configuration, run migrations and recovery, then exit without starting acquisition")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	cfg, err := config.Load(flagConfigFile, flagEnvFile)
	if err != nil {
		log.Errorf("config: %v", err)
		os.Exit(2)
	}
	log.SetLevel(cfg.LogLevel)
	log.SetDateTime(cfg.LogDate)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.DbPath), 0o755); err != nil {
		log.Fatalf("create database directory: %s", err.Error())
	}

	db, err := store.Open(cfg.Database.DbPath)
	if err != nil {
		log.Fatalf("open store: %s", err.Error())
	}
	defer db.Close()

	anomalyRules, err := config.AnomalyRules(cfg)
	if err != nil {
		log.Errorf("config: %v", err)
		os.Exit(2)
	}

	ingest := pipeline.New[[]byte](cfg.Queues.Ingest)
	persist := pipeline.New[store.Record](cfg.Queues.Persist)

	capClient := capture.New(cfg.Transmitter, ingest)
	dec := decoder.New()

	defaultRule := schema.AnomalyRuleConfig{DebounceCount: 3, NoDataTimeoutSec: 10}
	coord := coordinator.New(db, persist, anomalyRules, defaultRule)

	quarantinePath := filepath.Join(filepath.Dir(cfg.Database.DbPath), "quarantine.avro")
	quarantine, err := writer.NewQuarantineLog(quarantinePath)
	if err != nil {
		log.Fatalf("open quarantine log: %s", err.Error())
	}
	checkpointPath := filepath.Join(filepath.Dir(cfg.Database.DbPath), "writer-checkpoint.avro")
	checkpoint, err := writer.NewCheckpoint(checkpointPath)
	if err != nil {
		log.Fatalf("open writer checkpoint: %s", err.Error())
	}

	flushInterval := time.Duration(cfg.Database.FlushIntervalSec) * time.Second
	w := writer.New(persist, db, quarantine, cfg.Database.BatchSize, flushInterval).WithCheckpoint(checkpoint)

	tel, err := telemetry.New(cfg.Nats)
	if err != nil {
		log.Warnf("telemetry: %v", err)
	}
	defer tel.Close()

	eng := engine.New(capClient, dec, coord, w, tel, ingest)

	// Replay any batch the writer had not yet committed when the process
	// last exited uncleanly, before the coordinator's own recovery runs.
	leftover, err := checkpoint.Load()
	if err != nil {
		log.Errorf("writer: load checkpoint: %v", err)
	} else if len(leftover) > 0 {
		log.Warnf("writer: replaying %d record(s) from a leftover checkpoint", len(leftover))
		if err := db.WriteBatch(leftover); err != nil {
			log.Errorf("writer: replay checkpoint: %v", err)
		} else if err := checkpoint.Clear(); err != nil {
			log.Errorf("writer: clear replayed checkpoint: %v", err)
		}
	}

	recovered, err := eng.RecoverAt(time.Now())
	if err != nil {
		log.Fatalf("recover: %s", err.Error())
	}
	for _, e := range recovered {
		log.Warnf("recovered interrupted experiment %s (post %s), now Stopped", e.ID, e.Post)
	}

	tm, err := taskmanager.New(db, coord, cfg.Retention)
	if err != nil {
		log.Fatalf("taskmanager: %s", err.Error())
	}
	if err := tm.Start(); err != nil {
		log.Fatalf("taskmanager: start: %s", err.Error())
	}

	if flagStopImmediately {
		if err := tm.Shutdown(); err != nil {
			log.Errorf("taskmanager: shutdown: %v", err)
		}
		return
	}

	var adminSrv *admin.Server
	if cfg.Admin != nil && cfg.Admin.Addr != "" {
		adminSrv = admin.New(cfg.Admin.Addr, admin.SnapshotSource{
			Capture:     capClient,
			Decoder:     dec,
			Coordinator: coord,
			Writer:      w,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()

	if adminSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adminSrv.ListenAndServe(); err != nil {
				log.Errorf("admin: %v", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	fmt.Fprintln(os.Stderr, "shutting down")

	cancel()
	if adminSrv != nil {
		if err := adminSrv.Shutdown(); err != nil {
			log.Errorf("admin: shutdown: %v", err)
		}
	}
	if err := tm.Shutdown(); err != nil {
		log.Errorf("taskmanager: shutdown: %v", err)
	}
	wg.Wait()
	log.Info("shutdown complete")
}
