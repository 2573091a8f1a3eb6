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

// Package score implements the Hybrid Scorer (C6): it ensembles the rule
// score with the three model-derived terms into a single risk score and
// priority bucket.
package score

import "github.com/jordigilh/apisentinel/internal/detect/types"

// Weights is the single canonical weight scheme (§4.6, §9 Open Questions —
// this spec fixes 0.30/0.25/0.30/0.15, resolving the two conflicting
// schemes found in the source documentation).
type Weights struct {
	Rule              float64
	Anomaly           float64
	Failure           float64
	NextWindowFailure float64
}

var DefaultWeights = Weights{Rule: 0.30, Anomaly: 0.25, Failure: 0.30, NextWindowFailure: 0.15}

// Bands are the priority thresholds (§4.6), closed on the low side.
type Bands struct {
	Critical float64
	High     float64
	Medium   float64
}

var DefaultBands = Bands{Critical: 0.75, High: 0.55, Medium: 0.35}

// Scorer ensembles rule and model outputs into a risk score and priority.
type Scorer struct {
	weights Weights
	bands   Bands
}

func New(weights Weights, bands Bands) *Scorer {
	return &Scorer{weights: weights, bands: bands}
}

// Score combines alerts and model scores into a RiskResult. Terms flagged
// unavailable are omitted and the remaining weights renormalized to sum to
// 1 (§4.6) — with all four terms available no renormalization occurs.
func (s *Scorer) Score(alerts types.RuleAlertSet, models types.ModelScores) types.RiskResult {
	type term struct {
		weight      float64
		value       float64
		unavailable bool
	}
	terms := []term{
		{s.weights.Rule, alerts.RuleScore, false},
		{s.weights.Anomaly, models.AnomalyScore, models.AnomalyUnavailable},
		{s.weights.Failure, models.FailureProbability, models.FailureUnavailable},
		{s.weights.NextWindowFailure, models.NextWindowFailureProbability, models.NextWindowUnavailable},
	}

	var weightTotal float64
	for _, t := range terms {
		if !t.unavailable {
			weightTotal += t.weight
		}
	}

	var risk float64
	if weightTotal > 0 {
		for _, t := range terms {
			if !t.unavailable {
				risk += (t.weight / weightTotal) * t.value
			}
		}
	}

	priority := s.priorityFor(risk)
	isAnomaly := priority != types.PriorityLow || len(alerts.Alerts) >= 1

	return types.RiskResult{
		RiskScore: risk,
		Priority:  priority,
		IsAnomaly: isAnomaly,
	}
}

// priorityFor maps a risk score onto the four priority bands. Thresholds
// are closed on the low side: a score exactly on a boundary takes the
// higher bucket (B1).
func (s *Scorer) priorityFor(risk float64) types.Priority {
	switch {
	case risk >= s.bands.Critical:
		return types.PriorityCritical
	case risk >= s.bands.High:
		return types.PriorityHigh
	case risk >= s.bands.Medium:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}
