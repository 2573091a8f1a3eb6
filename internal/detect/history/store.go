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

// Package history implements the History & Ranking Store (C10): a bounded
// ring of the last HistoryCapacity Detection records, simulation mode only,
// with recomputed emergency ranks and accuracy counters on every append.
package history

import (
	"sort"
	"sync"

	"github.com/jordigilh/apisentinel/internal/detect/types"
)

// DefaultCapacity is HISTORY_CAPACITY (§6).
const DefaultCapacity = 1000

// rootCausesFor maps an injected label to the root causes that count as a
// correct detection for it (§4.10).
var rootCausesFor = map[types.Pattern][]types.RootCause{
	types.PatternRateSpike:       {types.RootCauseTrafficSurge},
	types.PatternErrorBurst:      {types.RootCauseBackendInstability},
	types.PatternPayloadAbuse:    {types.RootCauseLatencyBottleneck, types.RootCauseSystemOverload},
	types.PatternParamRepetition: {types.RootCauseAbuseOrBot},
	types.PatternEndpointFlood:   {types.RootCauseTrafficSurge, types.RootCauseAbuseOrBot},
}

// Accuracy summarizes the journal's detection accuracy (simulation only).
type Accuracy struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	FP       int     `json:"fp"`
	FN       int     `json:"fn"`
	Accuracy float64 `json:"accuracy"`
}

// Store is the bounded, rank-maintaining detection journal.
type Store struct {
	mu       sync.Mutex
	capacity int
	ring     []types.Detection
	accuracy Accuracy
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// Append pushes the newest detection, evicting the oldest if full, then
// recomputes ranks and accuracy counters.
func (s *Store) Append(d types.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring = append(s.ring, d)
	if len(s.ring) > s.capacity {
		// The ring is kept in rank order, so the oldest entry is found by
		// timestamp rather than by position.
		oldest := 0
		for i := range s.ring {
			if s.ring[i].Timestamp.Before(s.ring[oldest].Timestamp) {
				oldest = i
			}
		}
		s.ring = append(s.ring[:oldest], s.ring[oldest+1:]...)
	}

	s.recomputeRanksLocked()
	s.recomputeAccuracyLocked()
}

// recomputeRanksLocked sorts by risk_score descending, ties broken by
// newer timestamp first, and assigns 1-based ranks in place (P5).
func (s *Store) recomputeRanksLocked() {
	sort.SliceStable(s.ring, func(i, j int) bool {
		a, b := s.ring[i], s.ring[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		return a.Timestamp.After(b.Timestamp)
	})
	for i := range s.ring {
		s.ring[i].EmergencyRank = i + 1
	}
}

func isCorrect(d types.Detection) bool {
	if d.InjectedLabel == types.PatternNormal || d.InjectedLabel == "" {
		return !d.IsAnomaly
	}
	if !d.IsAnomaly {
		return false
	}
	for _, rc := range rootCausesFor[d.InjectedLabel] {
		if d.RootCause == rc {
			return true
		}
	}
	return false
}

func (s *Store) recomputeAccuracyLocked() {
	var acc Accuracy
	for _, d := range s.ring {
		acc.Total++
		switch {
		case isCorrect(d):
			acc.Correct++
		case d.InjectedLabel == types.PatternNormal || d.InjectedLabel == "":
			if d.IsAnomaly {
				acc.FP++
			}
		default:
			if !d.IsAnomaly {
				acc.FN++
			}
		}
	}
	if acc.Total > 0 {
		acc.Accuracy = float64(acc.Correct) / float64(acc.Total)
	}
	s.accuracy = acc
}

// TopEmergencies returns the current top-n detections by rank.
func (s *Store) TopEmergencies(n int) []types.Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.ring) {
		n = len(s.ring)
	}
	out := make([]types.Detection, n)
	copy(out, s.ring[:n])
	return out
}

// Accuracy returns the current accuracy counters.
func (s *Store) Accuracy() Accuracy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accuracy
}

// Clear drops the ring and zeros counters (R3).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = nil
	s.accuracy = Accuracy{}
}

// Len reports the current ring size.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ring)
}
