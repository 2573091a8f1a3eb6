package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jordigilh/apisentinel/internal/bus"
	"github.com/jordigilh/apisentinel/internal/detect/filter"
	"github.com/jordigilh/apisentinel/internal/detect/orchestrator"
	"github.com/jordigilh/apisentinel/internal/detect/rules"
	"github.com/jordigilh/apisentinel/internal/detect/score"
	"github.com/jordigilh/apisentinel/internal/detect/simulate"
	"github.com/jordigilh/apisentinel/internal/detect/types"
)

func newTestOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *bus.Bus) {
	t.Helper()
	logger := zap.NewNop()
	f := filter.New(filter.NewRoutes(nil, nil))
	ruleEngine := rules.New(rules.DefaultThresholds)
	scorer := score.New(score.DefaultWeights, score.DefaultBands)
	eventBus := bus.New(logger, 16, nil)
	simEngine := simulate.New(filter.DefaultSimRoutes, func(types.Observation) {}, nil)

	// models=nil, detections=nil, observations=nil: every stage still
	// produces a Detection with every submodel marked unavailable (§4.4).
	orch := orchestrator.New(f, 3, nil, ruleEngine, scorer, nil, nil, eventBus, nil, simEngine, logger)
	return orch, eventBus
}

func pushObservation(orch *orchestrator.Orchestrator, route, source string) {
	orch.Observe(types.Observation{
		Timestamp:  time.Now(),
		Mode:       types.ModeLive,
		Source:     source,
		Route:      route,
		Method:     "GET",
		StatusCode: 200,
		LatencyMs:  50,
	})
}

func TestObserve_SealedWindowPublishesDetectionOverTheBus(t *testing.T) {
	orch, eventBus := newTestOrchestrator(t)
	sub := eventBus.Subscribe("test")
	defer eventBus.Unsubscribe("test")

	for i := 0; i < 3; i++ {
		pushObservation(orch, "/login", "10.0.0.1")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, ok := sub.Receive(ctx)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", d.Source)
	require.Equal(t, types.ModeLive, d.Mode)
	require.True(t, d.ModelScores.AnomalyUnavailable)
	require.True(t, d.ModelScores.FailureUnavailable)
	require.True(t, d.ModelScores.ClusterUnavailable)
	require.True(t, d.ModelScores.NextWindowUnavailable)
}

func TestObserve_IgnoresUntrackedRoutes(t *testing.T) {
	orch, eventBus := newTestOrchestrator(t)
	sub := eventBus.Subscribe("test")
	defer eventBus.Unsubscribe("test")

	for i := 0; i < 5; i++ {
		orch.Observe(types.Observation{Timestamp: time.Now(), Mode: types.ModeLive, Source: "x", Route: "/not-tracked", Method: "GET"})
	}

	require.Equal(t, int64(0), orch.LiveCounters().Observed)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, ok := sub.Receive(ctx)
	require.False(t, ok)
}

func TestObserve_DifferentSourcesScoreIndependently(t *testing.T) {
	orch, eventBus := newTestOrchestrator(t)
	sub := eventBus.Subscribe("test")
	defer eventBus.Unsubscribe("test")

	for i := 0; i < 3; i++ {
		pushObservation(orch, "/login", "source-a")
	}
	for i := 0; i < 3; i++ {
		pushObservation(orch, "/login", "source-b")
	}

	seen := map[string]bool{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		d, ok := sub.Receive(ctx)
		require.True(t, ok)
		seen[d.Source] = true
	}
	require.True(t, seen["source-a"])
	require.True(t, seen["source-b"])
}

// TestObserve_ManySequentialWindowsOnOneSource_NoneStranded stresses the
// per-source drain ownership handoff: windowSize=3, so pushing 15
// observations for one source seals 5 windows back-to-back, spawning a new
// drainQueue goroutine per enqueueScore call while a prior one may still be
// exiting. A lost-wakeup in that handoff would strand a window in the
// backlog until some later, unrelated seal happened to drain it (or
// forever, in this single-burst test) - so exactly 5 Detections arriving
// promptly is the test.
func TestObserve_ManySequentialWindowsOnOneSource_NoneStranded(t *testing.T) {
	orch, eventBus := newTestOrchestrator(t)
	sub := eventBus.Subscribe("stress")
	defer eventBus.Unsubscribe("stress")

	const windows = 5
	for i := 0; i < windows*3; i++ {
		pushObservation(orch, "/login", "stress-source")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	received := 0
	for received < windows {
		_, ok := sub.Receive(ctx)
		require.True(t, ok, "expected %d detections, only received %d before timing out", windows, received)
		received++
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	_, ok := sub.Receive(shortCtx)
	require.False(t, ok, "expected exactly %d detections for a %d-observation burst, got a 6th", windows, windows*3)
}
