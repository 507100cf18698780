// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package coordinator implements the Experiment Coordinator: per-post
// lifecycle state machines (Idle, Running, Paused, Stopped, Finalized,
// Recovered), channel routing of decoded samples to every running post,
// and the per-post channel-exclusivity rule.
package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lonelywolf1981/bench-acquisition/internal/aggregate"
	"github.com/lonelywolf1981/bench-acquisition/internal/anomaly"
	"github.com/lonelywolf1981/bench-acquisition/internal/pipeline"
	"github.com/lonelywolf1981/bench-acquisition/internal/store"
	"github.com/lonelywolf1981/bench-acquisition/internal/telemetry"
	"github.com/lonelywolf1981/bench-acquisition/pkg/log"
	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

var (
	// ErrPostBusy is returned by Start when the post is not Idle.
	ErrPostBusy = errors.New("coordinator: post is not idle")
	// ErrPostNotRunning is returned by operations that require a Running post.
	ErrPostNotRunning = errors.New("coordinator: post is not running")
	// ErrPostNotPaused is returned by Resume on a post that isn't Paused.
	ErrPostNotPaused = errors.New("coordinator: post is not paused")
	// ErrChannelConflict is returned by Start when a requested channel is
	// already claimed by another Running experiment.
	ErrChannelConflict = errors.New("coordinator: channel already claimed by a running experiment")
	// ErrUnknownExperiment is returned when an operation names an experiment
	// the Coordinator has no record of.
	ErrUnknownExperiment = errors.New("coordinator: unknown experiment id")
)

// session is the Coordinator's live bookkeeping for one experiment.
type session struct {
	experiment schema.Experiment
	aggregator *aggregate.Aggregator
	detectors  map[int]*anomaly.Detector
	channels   map[int]bool
}

// Coordinator owns every live experiment session across the three posts
// and routes decoded samples to whichever sessions claim the sample's
// channel. At most one Running experiment may claim any given channel
// index at a time.
type Coordinator struct {
	db           *store.Store
	out          *pipeline.Queue[store.Record]
	anomalyRules map[int]schema.AnomalyRuleConfig
	defaultRule  schema.AnomalyRuleConfig
	telemetry    *telemetry.Publisher

	mu            sync.Mutex
	byPost        map[schema.Post]*session
	claimedByPost map[schema.Post]map[int]bool
}

// New builds a Coordinator. out receives every Aggregated Window and
// Anomaly Event produced by live sessions, for the Batch Writer to drain.
// anomalyRules maps channel index to its tunable rule configuration;
// channels absent from the map use defaultRule.
func New(db *store.Store, out *pipeline.Queue[store.Record], anomalyRules map[int]schema.AnomalyRuleConfig, defaultRule schema.AnomalyRuleConfig) *Coordinator {
	return &Coordinator{
		db:           db,
		out:          out,
		anomalyRules: anomalyRules,
		defaultRule:  defaultRule,
		byPost:       make(map[schema.Post]*session),
	}
}

// SetTelemetry attaches the Publisher every completed window and anomaly
// event is mirrored to. A nil Publisher (the default) disables mirroring;
// this may be called at most once, before any session is started.
func (c *Coordinator) SetTelemetry(p *telemetry.Publisher) {
	c.telemetry = p
}

func (c *Coordinator) ruleFor(channel int) schema.AnomalyRuleConfig {
	if r, ok := c.anomalyRules[channel]; ok {
		return r
	}
	return c.defaultRule
}

// Start begins a new Running experiment on a post, claiming its selected
// channels exclusively. It fails if the post already has a live session,
// or if any requested channel is already claimed by a different post's
// Running experiment.
func (c *Coordinator) Start(e schema.Experiment, aggregationWidth time.Duration, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.byPost[e.Post]; busy {
		return fmt.Errorf("%w: post %s", ErrPostBusy, e.Post)
	}
	for _, ch := range e.SelectedChannels {
		for post, claimed := range c.claimedByPost {
			if post == e.Post {
				continue
			}
			if claimed[ch] {
				return fmt.Errorf("%w: channel %d held by post %s", ErrChannelConflict, ch, post)
			}
		}
	}

	e.State = schema.StateRunning
	e.StartTime = now
	if err := c.db.InsertExperiment(e); err != nil {
		return fmt.Errorf("coordinator: start: %w", err)
	}

	sess := c.newSession(e, aggregationWidth, now)
	c.byPost[e.Post] = sess
	c.claim(e.Post, e.SelectedChannels)
	c.logTransition(e.ID, now, string(schema.StateIdle), string(schema.StateRunning), "start")
	log.Infof("coordinator: started experiment %s on post %s (%d channels)", e.ID, e.Post, len(e.SelectedChannels))
	return nil
}

func (c *Coordinator) newSession(e schema.Experiment, width time.Duration, now time.Time) *session {
	detectors := make(map[int]*anomaly.Detector, len(e.SelectedChannels))
	for _, ch := range e.SelectedChannels {
		detectors[ch] = anomaly.New(e.ID, ch, c.ruleFor(ch))
	}
	claimed := make(map[int]bool, len(e.SelectedChannels))
	for _, ch := range e.SelectedChannels {
		claimed[ch] = true
	}
	return &session{
		experiment: e,
		aggregator: aggregate.New(e.ID, width, now, e.SelectedChannels),
		detectors:  detectors,
		channels:   claimed,
	}
}

func (c *Coordinator) claim(post schema.Post, channels []int) {
	if c.claimedByPost == nil {
		c.claimedByPost = make(map[schema.Post]map[int]bool)
	}
	m, ok := c.claimedByPost[post]
	if !ok {
		m = make(map[int]bool, len(channels))
		c.claimedByPost[post] = m
	}
	for _, ch := range channels {
		m[ch] = true
	}
}

func (c *Coordinator) logTransition(experimentID string, ts time.Time, from, to, note string) {
	c.out.Enqueue(store.StateTransitionRecord(store.StateTransition{
		ExperimentID: experimentID, Timestamp: ts, From: from, To: to, Note: note,
	}))
}

// RouteSample delivers sample to every live session whose experiment
// claims its channel, emitting resulting Aggregated Windows and Anomaly
// Events onto the Persist Queue.
func (c *Coordinator) RouteSample(sample schema.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sess := range c.byPost {
		if sess.experiment.State != schema.StateRunning {
			continue
		}
		if !sess.channels[sample.ChannelIndex] {
			continue
		}
		for _, w := range sess.aggregator.Ingest(sample) {
			c.emitWindow(w)
			c.emitAnomalies(sess, sess.detectors[sample.ChannelIndex].IngestWindow(w))
		}
		if det, ok := sess.detectors[sample.ChannelIndex]; ok {
			c.emitAnomalies(sess, det.IngestSample(sample.Timestamp, sample.Value))
		}
	}
}

func (c *Coordinator) emitWindow(w schema.AggregatedWindow) {
	c.out.Enqueue(store.WindowRecord(w))
	c.telemetry.PublishWindow(w)
}

func (c *Coordinator) emitAnomalies(sess *session, events []schema.AnomalyEvent) {
	for _, e := range events {
		c.out.Enqueue(store.AnomalyRecord(e))
		c.telemetry.PublishAnomaly(e)
	}
}

// Tick drives every live session's time-based behavior: proactive window
// rolling on the Aggregator and no-data timeout checks on every Detector.
// It must be called regularly (e.g. once per second) independent of
// sample arrival so silence is still observed and reported.
func (c *Coordinator) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sess := range c.byPost {
		if sess.experiment.State != schema.StateRunning {
			continue
		}
		for _, w := range sess.aggregator.Tick(now) {
			c.emitWindow(w)
			if det, ok := sess.detectors[w.ChannelIndex]; ok {
				c.emitAnomalies(sess, det.IngestWindow(w))
			}
		}
		for ch, det := range sess.detectors {
			_ = ch
			c.emitAnomalies(sess, det.CheckNoData(now))
		}
	}
}

// Pause suspends a Running experiment: aggregation and anomaly detection
// stop observing new samples, but the session and its channel claims are
// retained so Resume can continue without reconfiguration.
func (c *Coordinator) Pause(post schema.Post, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.byPost[post]
	if !ok || sess.experiment.State != schema.StateRunning {
		return ErrPostNotRunning
	}
	sess.experiment.State = schema.StatePaused
	if err := c.db.UpdateExperimentState(sess.experiment.ID, schema.StatePaused, nil); err != nil {
		return fmt.Errorf("coordinator: pause: %w", err)
	}
	c.logTransition(sess.experiment.ID, now, string(schema.StateRunning), string(schema.StatePaused), "pause")
	return nil
}

// Resume reactivates a Paused experiment. The Aggregator's window grid is
// advanced past now without backfilling the windows that elapsed while
// paused, per the Aggregator's documented resume behavior.
func (c *Coordinator) Resume(post schema.Post, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.byPost[post]
	if !ok || sess.experiment.State != schema.StatePaused {
		return ErrPostNotPaused
	}
	sess.aggregator.AdvancePast(now)
	sess.experiment.State = schema.StateRunning
	if err := c.db.UpdateExperimentState(sess.experiment.ID, schema.StateRunning, nil); err != nil {
		return fmt.Errorf("coordinator: resume: %w", err)
	}
	c.logTransition(sess.experiment.ID, now, string(schema.StatePaused), string(schema.StateRunning), "resume")
	return nil
}

// Stop ends a Running or Paused experiment: every channel's partial
// window is flushed, the channel claims are released, and the session is
// removed. The experiment remains queryable in Stopped state until a
// later Finalize.
func (c *Coordinator) Stop(post schema.Post, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.byPost[post]
	if !ok {
		return ErrPostNotRunning
	}
	if sess.experiment.State != schema.StateRunning && sess.experiment.State != schema.StatePaused {
		return ErrPostNotRunning
	}

	for _, w := range sess.aggregator.FlushAll(now) {
		c.emitWindow(w)
	}

	from := string(sess.experiment.State)
	sess.experiment.State = schema.StateStopped
	sess.experiment.EndTime = &now
	if err := c.db.UpdateExperimentState(sess.experiment.ID, schema.StateStopped, &now); err != nil {
		return fmt.Errorf("coordinator: stop: %w", err)
	}
	c.logTransition(sess.experiment.ID, now, from, string(schema.StateStopped), "stop")

	delete(c.byPost, post)
	if claimed, ok := c.claimedByPost[post]; ok {
		for ch := range sess.channels {
			delete(claimed, ch)
		}
	}
	return nil
}

// Finalize sets the experiment's state to Finalized in the Store and logs a
// Stopped -> Finalized transition. It does not check the current state,
// and neither it nor the Store rejects later writes for the experiment.
// Calling it again leaves the state unchanged and logs the transition again.
func (c *Coordinator) Finalize(experimentID string, now time.Time) error {
	if err := c.db.UpdateExperimentState(experimentID, schema.StateFinalized, nil); err != nil {
		return fmt.Errorf("coordinator: finalize: %w", err)
	}
	c.logTransition(experimentID, now, string(schema.StateStopped), string(schema.StateFinalized), "finalize")
	return nil
}

// Recover runs at process startup: every experiment the Store still shows
// as Running survived an unclean shutdown. Recover transitions each
// through Recovered rather than silently resuming acquisition against a
// possibly-stale aggregation window, then on to Stopped so it settles in
// the same terminal state an orderly Stop would have left it in, without
// ever reopening capture. Recover claims no channels, so a fresh Start
// can claim the recovered experiments' channels.
func (c *Coordinator) Recover(now time.Time) ([]schema.Experiment, error) {
	running, err := c.db.RunningExperiments()
	if err != nil {
		return nil, fmt.Errorf("coordinator: recover: %w", err)
	}
	for _, e := range running {
		if err := c.db.UpdateExperimentState(e.ID, schema.StateRecovered, &now); err != nil {
			return nil, fmt.Errorf("coordinator: recover %s: %w", e.ID, err)
		}
		c.logTransition(e.ID, now, string(schema.StateRunning), string(schema.StateRecovered), "recover")

		if err := c.db.UpdateExperimentState(e.ID, schema.StateStopped, &now); err != nil {
			return nil, fmt.Errorf("coordinator: recover %s: %w", e.ID, err)
		}
		c.logTransition(e.ID, now, string(schema.StateRecovered), string(schema.StateStopped), "recover")
		log.Warnf("coordinator: recovered interrupted experiment %s on post %s, now Stopped", e.ID, e.Post)
	}
	return running, nil
}

// Snapshot reports the live state of every post, for the admin endpoint.
type Snapshot struct {
	Post         schema.Post
	ExperimentID string
	State        schema.ExperimentState
	ChannelCount int
}

// Snapshot returns a point-in-time view of every post with a live session.
func (c *Coordinator) Snapshot() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, 0, len(c.byPost))
	for post, sess := range c.byPost {
		out = append(out, Snapshot{
			Post:         post,
			ExperimentID: sess.experiment.ID,
			State:        sess.experiment.State,
			ChannelCount: len(sess.channels),
		})
	}
	return out
}
