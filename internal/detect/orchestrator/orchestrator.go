/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package orchestrator implements the Detector Orchestrator (C13): it wires
// every pipeline stage together, from an incoming Observation through to a
// broadcast, persisted Detection, and owns the LIVE/SIM mode lifecycle.
package orchestrator

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jordigilh/apisentinel/internal/bus"
	"github.com/jordigilh/apisentinel/internal/detect/feature"
	"github.com/jordigilh/apisentinel/internal/detect/filter"
	"github.com/jordigilh/apisentinel/internal/detect/history"
	"github.com/jordigilh/apisentinel/internal/detect/model"
	"github.com/jordigilh/apisentinel/internal/detect/resolution"
	"github.com/jordigilh/apisentinel/internal/detect/rootcause"
	"github.com/jordigilh/apisentinel/internal/detect/rules"
	"github.com/jordigilh/apisentinel/internal/detect/score"
	"github.com/jordigilh/apisentinel/internal/detect/simulate"
	"github.com/jordigilh/apisentinel/internal/detect/types"
	"github.com/jordigilh/apisentinel/internal/detect/window"
	"github.com/jordigilh/apisentinel/internal/metrics"
	"github.com/jordigilh/apisentinel/internal/storage"
)

// ScoringDeadline is the per-window soft deadline (§5): on expiry,
// individual submodel calls are abandoned and marked unavailable rather
// than failing the whole Detection.
const ScoringDeadline = 500 * time.Millisecond

// Counters holds the observation counters surfaced by the Control API's
// stats endpoints; the Orchestrator updates and reads them under its cMu
// mutex.
type Counters struct {
	Observed  int64
	Windows   int64
	Anomalies int64
}

// Orchestrator is the single owner of the detection pipeline's wiring. It
// routes windows for the same source through a per-source serial queue so
// window_id ordering is preserved end to end (§4.13, §5).
type Orchestrator struct {
	filter      *filter.Filter
	aggregator  *window.Aggregator
	models      *model.Holder
	rules       *rules.Engine
	scorer      *score.Scorer

	detections   *storage.DetectionRepository
	observations *storage.ObservationWriter
	bus          *bus.Bus
	simHistory   *history.Store

	simEngine *simulate.Engine

	logger *zap.Logger

	live        Counters
	sim         Counters
	liveSources map[string]int64
	simSources  map[string]int64
	cMu         sync.Mutex

	sourceQueues sync.Map // source string -> *sourceQueue
	sem          chan struct{}
}

// sourceQueue is one source's FIFO backlog of sealed windows awaiting
// scoring, plus the single-owner draining flag that serializes them. items
// and draining are both read and mutated only while mu is held, so
// "the queue is empty and nobody is draining it" is one atomic fact rather
// than two separately-observed ones: that's what closes the lost-wakeup
// window a channel-plus-TryLock pair cannot (see drainQueue).
type sourceQueue struct {
	mu       sync.Mutex
	items    []types.Window
	draining bool
}

// New wires every stage together. simHistory may be nil; when nil, C10
// recording is skipped (LIVE never populates a history store per §4.10 —
// it is simulation only).
func New(
	f *filter.Filter,
	windowSize int,
	models *model.Holder,
	ruleEngine *rules.Engine,
	scorer *score.Scorer,
	detections *storage.DetectionRepository,
	observations *storage.ObservationWriter,
	eventBus *bus.Bus,
	simHistory *history.Store,
	simEngine *simulate.Engine,
	logger *zap.Logger,
) *Orchestrator {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		filter:       f,
		aggregator:   window.New(windowSize),
		models:       models,
		rules:        ruleEngine,
		scorer:       scorer,
		detections:   detections,
		observations: observations,
		bus:          eventBus,
		simHistory:   simHistory,
		simEngine:    simEngine,
		logger:       logger,
		liveSources:  make(map[string]int64),
		simSources:   make(map[string]int64),
		sem:          make(chan struct{}, workers),
	}
}

// Observe ingests one raw request. Tracked observations flow through C1 ->
// C2; a sealed window triggers an async scoring task routed onto that
// source's serial queue.
func (o *Orchestrator) Observe(obs types.Observation) {
	if o.filter.Classify(obs) != filter.Tracked {
		return
	}

	if o.observations != nil {
		o.observations.Enqueue(obs)
	}
	o.bumpObserved(obs.Mode, obs.Source)

	win, sealed := o.aggregator.Push(obs)
	if !sealed {
		return
	}
	o.bumpWindow(obs.Mode)

	o.enqueueScore(win)
}

func (o *Orchestrator) bumpObserved(m types.Mode, source string) {
	o.cMu.Lock()
	defer o.cMu.Unlock()
	if m == types.ModeLive {
		o.live.Observed++
		o.liveSources[source]++
	} else {
		o.sim.Observed++
		o.simSources[source]++
	}
}

func (o *Orchestrator) bumpWindow(m types.Mode) {
	o.cMu.Lock()
	defer o.cMu.Unlock()
	if m == types.ModeLive {
		o.live.Windows++
	} else {
		o.sim.Windows++
	}
}

func (o *Orchestrator) bumpAnomaly(m types.Mode) {
	o.cMu.Lock()
	defer o.cMu.Unlock()
	if m == types.ModeLive {
		o.live.Anomalies++
	} else {
		o.sim.Anomalies++
	}
}

// LiveCounters and SimCounters snapshot the current observation counters
// for the Control API's stats endpoints.
func (o *Orchestrator) LiveCounters() Counters {
	o.cMu.Lock()
	defer o.cMu.Unlock()
	return o.live
}

func (o *Orchestrator) SimCounters() Counters {
	o.cMu.Lock()
	defer o.cMu.Unlock()
	return o.sim
}

// LiveSourceCounts and SimSourceCounts snapshot the per-source observation
// counts surfaced by the Control API's stats endpoints.
func (o *Orchestrator) LiveSourceCounts() map[string]int64 {
	o.cMu.Lock()
	defer o.cMu.Unlock()
	out := make(map[string]int64, len(o.liveSources))
	for k, v := range o.liveSources {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) SimSourceCounts() map[string]int64 {
	o.cMu.Lock()
	defer o.cMu.Unlock()
	out := make(map[string]int64, len(o.simSources))
	for k, v := range o.simSources {
		out[k] = v
	}
	return out
}

// CurrentWindowCount reports the number of observations buffered in the
// currently open window for (mode, source).
func (o *Orchestrator) CurrentWindowCount(mode types.Mode, source string) int {
	n, _ := o.aggregator.Snapshot(mode, source)
	return n
}

// ClearSimulation resets the simulation-mode counters and per-source
// breakdown. It does not touch LIVE state.
func (o *Orchestrator) ClearSimulation() {
	o.cMu.Lock()
	defer o.cMu.Unlock()
	o.sim = Counters{}
	o.simSources = make(map[string]int64)
}

// SimActive reports whether a simulation run is currently SCHEDULED or
// RUNNING.
func (o *Orchestrator) SimActive() bool {
	s := o.simEngine.State()
	return s == simulate.StateRunning || s == simulate.StateScheduled
}

// SimStatus reports the simulation engine's current lifecycle state and,
// when active, the target and pattern it was started with.
func (o *Orchestrator) SimStatus() (state simulate.State, target string, pattern types.Pattern) {
	return o.simEngine.Status()
}

// maxSourceBacklog bounds one source's pending-window backlog; a source
// that floods past it scores synchronously instead of growing the backlog
// without limit.
const maxSourceBacklog = 64

// enqueueScore routes a sealed window onto a per-source serial queue so
// windows for the same source score strictly in order, while windows for
// different sources score concurrently on the shared worker semaphore
// (§4.13, §5).
func (o *Orchestrator) enqueueScore(win types.Window) {
	metrics.RecordWindowSealed(string(win.Mode))

	key := string(win.Mode) + "|" + win.Source
	qAny, _ := o.sourceQueues.LoadOrStore(key, &sourceQueue{})
	q := qAny.(*sourceQueue)

	q.mu.Lock()
	if len(q.items) >= maxSourceBacklog {
		q.mu.Unlock()
		// Backlog full: score synchronously rather than drop a window.
		o.score(win)
		return
	}
	q.items = append(q.items, win)
	startDrain := !q.draining
	q.draining = true
	q.mu.Unlock()

	if startDrain {
		go o.drainQueue(q)
	}
}

// drainQueue is the single owner draining one source's backlog at a time.
// It pops and releases the lock before scoring, so scoring never runs while
// holding q.mu, but the decision to stop draining ("items is empty, so mark
// not-draining") and the decision to start a new drainer ("not draining, so
// append then spawn") both happen under the same lock. A producer that
// races the owner's exit always either lands its item before the owner
// checks (the owner keeps looping) or after the owner has already cleared
// draining (the producer spawns a fresh drainer), never in between.
func (o *Orchestrator) drainQueue(q *sourceQueue) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		win := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		o.sem <- struct{}{}
		o.score(win)
		<-o.sem
	}
}

// score runs a sealed window through C3 -> {C4, C5} -> C6 -> C7 -> C8,
// assembles a Detection, and fans it out to history/persistence/bus.
func (o *Orchestrator) score(win types.Window) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), ScoringDeadline)
	defer cancel()

	features := feature.Extract(win)
	alerts := o.rules.Evaluate(features)
	modelScores := o.runModels(ctx, features)

	risk := o.scorer.Score(alerts, modelScores)
	rc := rootcause.Classify(features, modelScores)
	items := resolution.Generate(rc.RootCause, rc.ContributingConditions, risk.Priority)

	d := types.Detection{
		ID:                     uuid.NewString(),
		Timestamp:              time.Now(),
		Mode:                   win.Mode,
		Source:                 win.Source,
		WindowID:               win.ID,
		Features:               features,
		RuleAlerts:             alerts.Alerts,
		ModelScores:            modelScores,
		RiskScore:              risk.RiskScore,
		Priority:               risk.Priority,
		IsAnomaly:              risk.IsAnomaly,
		RootCause:              rc.RootCause,
		ContributingConditions: rc.ContributingConditions,
		Resolutions:            items,
		DetectionLatencyMs:     float64(time.Since(start).Microseconds()) / 1000.0,
	}

	if win.Mode == types.ModeSim && len(win.Observations) > 0 {
		d.InjectedLabel = win.Observations[0].InjectedLabel
	}

	metrics.RecordDetectionScored(string(win.Mode), string(risk.Priority))
	metrics.RecordScoringLatency(time.Since(start))

	if risk.IsAnomaly {
		o.bumpAnomaly(win.Mode)
	}

	if win.Mode == types.ModeSim && o.simHistory != nil {
		o.simHistory.Append(d)
	}

	if o.detections != nil {
		if err := o.detections.Save(context.Background(), d); err != nil {
			o.logger.Warn("persist detection failed", zap.String("id", d.ID), zap.Error(err))
		}
	}
	if o.bus != nil {
		o.bus.Publish(context.Background(), d)
	}
}

// runModels calls the four submodels, marking any that error or exceed the
// per-window deadline as unavailable (§4.4, §5) rather than failing scoring.
// Each submodel reports its full contribution on its own single-slot
// buffered channel, so an abandoned goroutine's eventual send has somewhere
// to land and the caller never reads a field concurrently with its writer.
func (o *Orchestrator) runModels(ctx context.Context, f types.FeatureVector) types.ModelScores {
	x := f.AsSlice()

	anomalyCh := make(chan types.ModelScores, 1)
	failureCh := make(chan types.ModelScores, 1)
	clusterCh := make(chan types.ModelScores, 1)
	nextCh := make(chan types.ModelScores, 1)

	go func() {
		if v, ok := o.models.PredictIF(x); ok {
			anomalyCh <- types.ModelScores{AnomalyScore: v}
		} else {
			anomalyCh <- types.ModelScores{AnomalyUnavailable: true}
		}
	}()
	go func() {
		if v, ok := o.models.PredictFailure(x); ok {
			failureCh <- types.ModelScores{FailureProbability: v}
		} else {
			failureCh <- types.ModelScores{FailureUnavailable: true}
		}
	}()
	go func() {
		if id, dist, ok := o.models.AssignCluster(x); ok {
			clusterCh <- types.ModelScores{ClusterID: id, ClusterDistance: dist}
		} else {
			clusterCh <- types.ModelScores{ClusterUnavailable: true}
		}
	}()
	go func() {
		if v, ok := o.models.PredictNextFailure(x); ok {
			nextCh <- types.ModelScores{NextWindowFailureProbability: v}
		} else {
			nextCh <- types.ModelScores{NextWindowUnavailable: true}
		}
	}()

	var scores types.ModelScores
	deadlineHit := false

	select {
	case r := <-anomalyCh:
		scores.AnomalyScore, scores.AnomalyUnavailable = r.AnomalyScore, r.AnomalyUnavailable
	case <-ctx.Done():
		deadlineHit, scores.AnomalyUnavailable = true, true
	}
	select {
	case r := <-failureCh:
		scores.FailureProbability, scores.FailureUnavailable = r.FailureProbability, r.FailureUnavailable
	case <-ctx.Done():
		deadlineHit, scores.FailureUnavailable = true, true
	}
	select {
	case r := <-clusterCh:
		scores.ClusterID, scores.ClusterDistance, scores.ClusterUnavailable = r.ClusterID, r.ClusterDistance, r.ClusterUnavailable
	case <-ctx.Done():
		deadlineHit, scores.ClusterUnavailable = true, true
	}
	select {
	case r := <-nextCh:
		scores.NextWindowFailureProbability, scores.NextWindowUnavailable = r.NextWindowFailureProbability, r.NextWindowUnavailable
	case <-ctx.Done():
		deadlineHit, scores.NextWindowUnavailable = true, true
	}

	if deadlineHit {
		o.logger.Warn("scoring deadline exceeded, using partial model results")
	}
	return scores
}

// StartSimulation and StopSimulation forward mode control to C9 (§4.13).
func (o *Orchestrator) StartSimulation(virtualSource string, pattern types.Pattern, durationS, batchSize int) error {
	return o.simEngine.Start(virtualSource, pattern, durationS, batchSize)
}

func (o *Orchestrator) StopSimulation() error {
	return o.simEngine.Stop()
}
