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

// Package rules implements the deterministic Rule Engine (C5): threshold
// checks over a feature vector, producing categorical alerts and a rule
// score. Pure, order-independent.
package rules

import "github.com/jordigilh/apisentinel/internal/detect/types"

// Thresholds are the system's calibrated defaults (§4.5), all tunable via
// configuration (RULE_THRESHOLDS, §6).
type Thresholds struct {
	RateSpikeRPS       float64
	ErrorBurstRate     float64
	BotEntropyMax      float64
	BotRepeatedRatioMin float64
	LargePayloadBytes  float64
	EndpointScanCount  float64
}

// DefaultThresholds are the values given in spec.md §4.5.
var DefaultThresholds = Thresholds{
	RateSpikeRPS:        15,
	ErrorBurstRate:      0.5,
	BotEntropyMax:       0.5,
	BotRepeatedRatioMin: 0.5,
	LargePayloadBytes:   5000,
	EndpointScanCount:   8,
}

// perAlertScore is the contribution of each fired alert to rule_score.
const perAlertScore = 0.2

// Engine evaluates the fixed set of deterministic threshold rules.
type Engine struct {
	thresholds Thresholds
}

func New(thresholds Thresholds) *Engine {
	return &Engine{thresholds: thresholds}
}

// Evaluate is pure and order independent.
func (e *Engine) Evaluate(f types.FeatureVector) types.RuleAlertSet {
	var alerts []types.RuleAlert

	if f.RequestRate > e.thresholds.RateSpikeRPS {
		alerts = append(alerts, types.AlertRateSpike)
	}
	if f.ErrorRate > e.thresholds.ErrorBurstRate {
		alerts = append(alerts, types.AlertErrorBurst)
	}
	if f.UserAgentEntropy < e.thresholds.BotEntropyMax && f.RepeatedParameterRatio > e.thresholds.BotRepeatedRatioMin {
		alerts = append(alerts, types.AlertBotPattern)
	}
	if f.AvgPayloadSize > e.thresholds.LargePayloadBytes {
		alerts = append(alerts, types.AlertLargePayload)
	}
	if f.UniqueEndpoints > e.thresholds.EndpointScanCount {
		alerts = append(alerts, types.AlertEndpointScan)
	}

	score := perAlertScore * float64(len(alerts))
	if score > 1 {
		score = 1
	}

	return types.RuleAlertSet{Alerts: alerts, RuleScore: score}
}
