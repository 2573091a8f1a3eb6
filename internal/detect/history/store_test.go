package history

import (
	"testing"
	"time"

	"github.com/jordigilh/apisentinel/internal/detect/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detectionAt(risk float64, ts time.Time, label types.Pattern, isAnomaly bool, rc types.RootCause) types.Detection {
	return types.Detection{RiskScore: risk, Timestamp: ts, InjectedLabel: label, IsAnomaly: isAnomaly, RootCause: rc}
}

func TestAppend_EvictsOldestWhenFull(t *testing.T) {
	s := New(2)
	base := time.Now()
	s.Append(detectionAt(0.1, base, types.PatternNormal, false, types.RootCauseNone))
	s.Append(detectionAt(0.2, base.Add(time.Second), types.PatternNormal, false, types.RootCauseNone))
	s.Append(detectionAt(0.3, base.Add(2*time.Second), types.PatternNormal, false, types.RootCauseNone))
	assert.Equal(t, 2, s.Len())
	top := s.TopEmergencies(2)
	require.Len(t, top, 2)
	assert.Equal(t, 0.3, top[0].RiskScore)
	assert.Equal(t, 0.2, top[1].RiskScore)
}

// P5 ranking consistency.
func TestAppend_RanksByRiskThenRecency(t *testing.T) {
	s := New(10)
	base := time.Now()
	s.Append(detectionAt(0.3, base, "", false, types.RootCauseNone))
	s.Append(detectionAt(0.9, base.Add(time.Second), "", true, types.RootCauseNone))
	s.Append(detectionAt(0.9, base.Add(2*time.Second), "", true, types.RootCauseNone))

	top := s.TopEmergencies(3)
	require.Len(t, top, 3)
	assert.Equal(t, 1, top[0].EmergencyRank)
	assert.Equal(t, 0.9, top[0].RiskScore)
	// Same risk score: newer timestamp wins the tie.
	assert.True(t, top[0].Timestamp.After(top[1].Timestamp) || top[0].Timestamp.Equal(top[1].Timestamp))
	assert.Equal(t, 0.3, top[2].RiskScore)
}

func TestAccuracy_CorrectNormal(t *testing.T) {
	s := New(10)
	s.Append(detectionAt(0.1, time.Now(), types.PatternNormal, false, types.RootCauseNone))
	acc := s.Accuracy()
	assert.Equal(t, 1, acc.Total)
	assert.Equal(t, 1, acc.Correct)
	assert.Equal(t, 0, acc.FP)
	assert.Equal(t, 0, acc.FN)
}

func TestAccuracy_FalsePositive(t *testing.T) {
	s := New(10)
	s.Append(detectionAt(0.9, time.Now(), types.PatternNormal, true, types.RootCauseTrafficSurge))
	acc := s.Accuracy()
	assert.Equal(t, 1, acc.FP)
	assert.Equal(t, 0, acc.Correct)
}

func TestAccuracy_FalseNegative(t *testing.T) {
	s := New(10)
	s.Append(detectionAt(0.1, time.Now(), types.PatternRateSpike, false, types.RootCauseNone))
	acc := s.Accuracy()
	assert.Equal(t, 1, acc.FN)
}

func TestAccuracy_CorrectAnomalyMatchingRootCause(t *testing.T) {
	s := New(10)
	s.Append(detectionAt(0.9, time.Now(), types.PatternRateSpike, true, types.RootCauseTrafficSurge))
	acc := s.Accuracy()
	assert.Equal(t, 1, acc.Correct)
	assert.Equal(t, 1.0, acc.Accuracy)
}

// R3: clear() followed by zero observations yields accuracy.total == 0 and
// top_emergencies(n) == [].
func TestClear_ZerosStateAndCounters(t *testing.T) {
	s := New(10)
	s.Append(detectionAt(0.9, time.Now(), types.PatternRateSpike, true, types.RootCauseTrafficSurge))
	s.Clear()
	assert.Equal(t, 0, s.Accuracy().Total)
	assert.Empty(t, s.TopEmergencies(10))
}
