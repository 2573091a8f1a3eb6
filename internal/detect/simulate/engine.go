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

// Package simulate implements the Simulation Engine (C9): a single-owner
// capability that generates labeled synthetic observations targeting one
// virtual source with one anomaly pattern, at a controlled rate, for a
// controlled duration, and never touches the LIVE pipeline.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jordigilh/apisentinel/internal/detect/types"
)

// State is one point in the SCHEDULED -> RUNNING -> STOPPING -> IDLE
// lifecycle (§4.9).
type State string

const (
	StateIdle      State = "IDLE"
	StateScheduled State = "SCHEDULED"
	StateRunning   State = "RUNNING"
	StateStopping  State = "STOPPING"
)

// Errors returned by start()/stop() (§4.9 contract).
var (
	ErrInvalidTarget  = errors.New("InvalidTarget")
	ErrInvalidPattern = errors.New("InvalidPattern")
	ErrAlreadyActive  = errors.New("AlreadyActive")
	ErrNotActive      = errors.New("NotActive")
)

// MinTargetRPS is the advertised minimum throughput at batch_size >= 100
// (§4.9: "must reach ... >= 150 emissions/second at batch_size >= 100").
const MinTargetRPS = 150

// Sink receives every emitted observation; the orchestrator wires this to
// C1/C2 on the SIM-only stream.
type Sink func(types.Observation)

// Engine owns its RNG, its virtual-route table, and its run state. A single
// value handles one simulation at a time (§9 REDESIGN FLAGS: "a single
// SimulationEngine value owns its RNG, rate-limiter, and ground-truth
// labeling tables").
type Engine struct {
	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	rngMu   sync.Mutex
	rng     *rand.Rand
	logger  *logrus.Logger
	sink    Sink
	routes  map[string]struct{}
	target  string
	pattern types.Pattern
}

func New(virtualRoutes []string, sink Sink, logger *logrus.Logger) *Engine {
	routes := make(map[string]struct{}, len(virtualRoutes))
	for _, r := range virtualRoutes {
		routes[r] = struct{}{}
	}
	return &Engine{
		state:  StateIdle,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
		sink:   sink,
		routes: routes,
	}
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status reports the engine's current lifecycle state together with the
// target/pattern of the most recently started run (valid while
// SCHEDULED/RUNNING/STOPPING; the zero value once back to IDLE).
func (e *Engine) Status() (State, string, types.Pattern) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIdle {
		return e.state, "", ""
	}
	return e.state, e.target, e.pattern
}

// Start begins a simulation run targeting virtualSource with pattern, for
// durationS seconds, emitting in batches of batchSize per tick. It returns
// with the run SCHEDULED; a background goroutine moves it to RUNNING and
// keeps it going until it completes or Stop is called.
func (e *Engine) Start(virtualSource string, pattern types.Pattern, durationS int, batchSize int) error {
	if _, ok := e.routes[virtualSource]; !ok {
		return ErrInvalidTarget
	}
	if !isValidPattern(pattern) {
		return ErrInvalidPattern
	}

	e.mu.Lock()
	if e.state == StateRunning || e.state == StateScheduled {
		e.mu.Unlock()
		return ErrAlreadyActive
	}
	e.state = StateScheduled
	e.target = virtualSource
	e.pattern = pattern
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(durationS)*time.Second)
	e.cancel = cancel
	e.mu.Unlock()

	go e.run(ctx, virtualSource, pattern, batchSize)
	return nil
}

// Stop cancels an active run. Idempotent failures are reported as
// ErrNotActive without mutating state further (§4.9).
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StateScheduled {
		e.mu.Unlock()
		return ErrNotActive
	}
	e.state = StateStopping
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	return nil
}

func (e *Engine) run(ctx context.Context, virtualSource string, pattern types.Pattern, batchSize int) {
	e.mu.Lock()
	e.state = StateRunning
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.state = StateIdle
		e.cancel = nil
		e.mu.Unlock()
	}()

	// Target RPS = batch_size per tick at a tick rate that clears
	// MinTargetRPS whenever batch_size >= 100 (§4.9 rate control).
	tickInterval := time.Second
	if batchSize > 0 {
		ticksPerSecond := float64(MinTargetRPS) / float64(batchSize)
		if ticksPerSecond > 1 {
			tickInterval = time.Duration(float64(time.Second) / ticksPerSecond)
		}
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.state = StateStopping
			e.mu.Unlock()
			return
		case <-ticker.C:
			e.emitBatch(ctx, virtualSource, pattern, batchSize*amplificationFactor(pattern))
		}
	}
}

// emitBatch fans batchSize concurrent emissions out across a small worker
// group so a large batch_size still clears the per-tick deadline, while
// guaranteeing any emission already started completes even if ctx is
// cancelled mid-batch (§5: "no partial observation is emitted").
func (e *Engine) emitBatch(ctx context.Context, virtualSource string, pattern types.Pattern, batchSize int) {
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(16)
	for i := 0; i < batchSize; i++ {
		g.Go(func() error {
			obs := e.generate(virtualSource, pattern)
			e.sink(obs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.WithError(err).Warn("simulation batch emission error")
	}
}

// amplificationFactor implements the per-pattern minimum emission-count
// multipliers (§4.9: RATE_SPIKE 5x, ENDPOINT_FLOOD 10x).
func amplificationFactor(p types.Pattern) int {
	switch p {
	case types.PatternRateSpike:
		return 5
	case types.PatternEndpointFlood:
		return 10
	default:
		return 1
	}
}

func isValidPattern(p types.Pattern) bool {
	switch p {
	case types.PatternNormal, types.PatternRateSpike, types.PatternPayloadAbuse,
		types.PatternErrorBurst, types.PatternParamRepetition, types.PatternEndpointFlood, types.PatternMixed:
		return true
	}
	return false
}

var normalUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15)",
	"Mozilla/5.0 (X11; Linux x86_64)",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)",
}

var lowEntropyUserAgents = []string{"bot/1.0"}

var methods = []string{"GET", "POST", "PUT", "DELETE"}

// generate produces one SIM-mode observation for pattern, tagging it with
// the ground-truth injected_label (§4.9 pattern semantics). Emission is
// fanned out across concurrent workers (emitBatch) but math/rand.Rand is
// not safe for concurrent use, so the whole draw is serialized under rngMu.
func (e *Engine) generate(source string, pattern types.Pattern) types.Observation {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()

	effective := pattern
	if pattern == types.PatternMixed {
		effective = types.AnomalousPatterns[e.rng.Intn(len(types.AnomalousPatterns))]
	}

	obs := types.Observation{
		MonotonicNs:   time.Now().UnixNano(),
		Timestamp:     time.Now(),
		Source:        source,
		Mode:          types.ModeSim,
		InjectedLabel: pattern,
		Route:         source,
		Method:        methods[e.rng.Intn(len(methods))],
		Params:        map[string]string{"id": fmt.Sprintf("%d", e.rng.Intn(1000))},
		UserAgent:     normalUserAgents[e.rng.Intn(len(normalUserAgents))],
	}

	switch effective {
	case types.PatternNormal:
		obs.StatusCode = weightedStatus(e.rng, 0.85)
		obs.LatencyMs = 50 + e.rng.Float64()*250
		obs.PayloadBytes = 200 + e.rng.Intn(2000)
	case types.PatternRateSpike:
		obs.StatusCode = weightedStatus(e.rng, 0.9)
		if e.rng.Float64() < 0.1 {
			obs.StatusCode = 503
		}
		obs.LatencyMs = 1 + e.rng.Float64()*19
		obs.PayloadBytes = 50 + e.rng.Intn(200)
	case types.PatternPayloadAbuse:
		obs.StatusCode = weightedStatus(e.rng, 0.7)
		obs.LatencyMs = 100 + e.rng.Float64()*400
		obs.PayloadBytes = 10_000 + e.rng.Intn(40_000)
	case types.PatternErrorBurst:
		obs.StatusCode = errorStatus(e.rng, 0.7)
		obs.LatencyMs = 100 + e.rng.Float64()*500
		obs.PayloadBytes = 100 + e.rng.Intn(1000)
	case types.PatternParamRepetition:
		obs.StatusCode = weightedStatus(e.rng, 0.8)
		obs.LatencyMs = 50 + e.rng.Float64()*200
		obs.PayloadBytes = 100 + e.rng.Intn(500)
		obs.Params = map[string]string{"q": fmt.Sprintf("v%d", e.rng.Intn(3))}
		obs.UserAgent = lowEntropyUserAgents[e.rng.Intn(len(lowEntropyUserAgents))]
	case types.PatternEndpointFlood:
		obs.StatusCode = weightedStatus(e.rng, 0.8)
		obs.LatencyMs = 20 + e.rng.Float64()*100
		obs.PayloadBytes = 100 + e.rng.Intn(500)
	}

	return obs
}

func weightedStatus(rng *rand.Rand, successRatio float64) int {
	if rng.Float64() < successRatio {
		if rng.Float64() < 0.5 {
			return 200
		}
		return 201
	}
	return errorStatus(rng, 1.0)
}

func errorStatus(rng *rand.Rand, ratio float64) int {
	if rng.Float64() >= ratio {
		return 200
	}
	codes := []int{400, 404, 500, 502, 503}
	return codes[rng.Intn(len(codes))]
}
