// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine wires the Capture Client, Protocol Decoder, Experiment
// Coordinator, and Batch Writer into the running producer/consumer
// pipeline, and drives the Coordinator's time-based Tick independent of
// sample arrival.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/internal/capture"
	"github.com/lonelywolf1981/bench-acquisition/internal/coordinator"
	"github.com/lonelywolf1981/bench-acquisition/internal/decoder"
	"github.com/lonelywolf1981/bench-acquisition/internal/pipeline"
	"github.com/lonelywolf1981/bench-acquisition/internal/telemetry"
	"github.com/lonelywolf1981/bench-acquisition/internal/writer"
	"github.com/lonelywolf1981/bench-acquisition/pkg/log"
	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

// tickInterval is how often the Coordinator's Tick is driven, independent
// of whether samples are currently arriving.
const tickInterval = time.Second

// decodePollInterval bounds how long a raw chunk can sit in the Ingest
// Queue before the decode stage notices it.
const decodePollInterval = 2 * time.Millisecond

// Engine owns every moving part of one running acquisition process.
type Engine struct {
	Capture     *capture.Client
	Decoder     *decoder.Decoder
	Coordinator *coordinator.Coordinator
	Writer      *writer.Writer
	Telemetry   *telemetry.Publisher

	ingest *pipeline.Queue[[]byte]
}

// New assembles an Engine from its already-constructed components. ingest
// is the queue the Capture Client's read loop feeds and the decode stage
// drains. tel is wired onto coord so every completed window and anomaly
// event is mirrored as it is produced.
func New(cap *capture.Client, dec *decoder.Decoder, coord *coordinator.Coordinator, w *writer.Writer, tel *telemetry.Publisher, ingest *pipeline.Queue[[]byte]) *Engine {
	coord.SetTelemetry(tel)
	return &Engine{Capture: cap, Decoder: dec, Coordinator: coord, Writer: w, Telemetry: tel, ingest: ingest}
}

// Run starts every stage and blocks until ctx is canceled, then waits for
// each stage to unwind before returning.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.Capture.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("engine: capture stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runDecodeLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runTickLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.Writer.Run(ctx)
	}()

	wg.Wait()
}

// runDecodeLoop drains raw chunks from the Ingest Queue, extracts frames
// via the Protocol Decoder, and routes every decoded sample to the
// Experiment Coordinator.
func (e *Engine) runDecodeLoop(ctx context.Context) {
	poll := time.NewTicker(decodePollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			for {
				chunk, ok := e.ingest.Dequeue()
				if !ok {
					break
				}
				for _, batch := range e.Decoder.Feed(chunk) {
					samples := batch.ToSamples()
					for i := range samples {
						e.Coordinator.RouteSample(samples[i])
					}
				}
			}
		}
	}
}

// runTickLoop drives the Coordinator's Tick once per tickInterval so
// window rolling and no-data detection happen even during a lull in
// sample arrival.
func (e *Engine) runTickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.Coordinator.Tick(now)
		}
	}
}

// RecoverAt runs the Coordinator's startup recovery and returns the
// experiments it found orphaned Running from an unclean shutdown.
func (e *Engine) RecoverAt(now time.Time) ([]schema.Experiment, error) {
	return e.Coordinator.Recover(now)
}
