package simulate

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordigilh/apisentinel/internal/detect/types"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestStart_RejectsInvalidTarget(t *testing.T) {
	e := New([]string{"/sim/login"}, func(types.Observation) {}, discardLogger())
	err := e.Start("/sim/not-a-route", types.PatternNormal, 1, 10)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestStart_RejectsInvalidPattern(t *testing.T) {
	e := New([]string{"/sim/login"}, func(types.Observation) {}, discardLogger())
	err := e.Start("/sim/login", types.Pattern("NOT_A_PATTERN"), 1, 10)
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestStart_RejectsSecondStartWhileActive(t *testing.T) {
	e := New([]string{"/sim/login"}, func(types.Observation) {}, discardLogger())
	require.NoError(t, e.Start("/sim/login", types.PatternNormal, 2, 5))
	defer e.Stop()

	err := e.Start("/sim/login", types.PatternNormal, 2, 5)
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestStop_FailsWhenNotActive(t *testing.T) {
	e := New([]string{"/sim/login"}, func(types.Observation) {}, discardLogger())
	err := e.Stop()
	assert.ErrorIs(t, err, ErrNotActive)
}

// R2: starting then immediately stopping leaves state IDLE.
func TestStop_ReturnsToIdle(t *testing.T) {
	e := New([]string{"/sim/login"}, func(types.Observation) {}, discardLogger())
	require.NoError(t, e.Start("/sim/login", types.PatternNormal, 5, 10))
	require.NoError(t, e.Stop())

	assert.Eventually(t, func() bool {
		return e.State() == StateIdle
	}, time.Second, 10*time.Millisecond)
}

func TestGenerate_TagsEveryObservationSimAndWithInjectedLabel(t *testing.T) {
	var mu sync.Mutex
	var observed []types.Observation
	sink := func(o types.Observation) {
		mu.Lock()
		observed = append(observed, o)
		mu.Unlock()
	}

	e := New([]string{"/sim/payment"}, sink, discardLogger())
	require.NoError(t, e.Start("/sim/payment", types.PatternRateSpike, 1, 5))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) > 0
	}, 2*time.Second, 10*time.Millisecond)

	e.Stop()

	mu.Lock()
	defer mu.Unlock()
	for _, o := range observed {
		assert.Equal(t, types.ModeSim, o.Mode)
		assert.Equal(t, types.PatternRateSpike, o.InjectedLabel)
		assert.Equal(t, "/sim/payment", o.Source)
	}
}

func TestAmplificationFactor(t *testing.T) {
	assert.Equal(t, 5, amplificationFactor(types.PatternRateSpike))
	assert.Equal(t, 10, amplificationFactor(types.PatternEndpointFlood))
	assert.Equal(t, 1, amplificationFactor(types.PatternNormal))
}
