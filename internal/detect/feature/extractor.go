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

// Package feature implements the Feature Extractor (C3): a pure function
// computing the nine-dimensional FeatureVector from a completed window.
package feature

import (
	"math"

	"github.com/jordigilh/apisentinel/internal/detect/types"
)

// Extract computes the feature vector for a sealed window. Never errors;
// empty collections fall back to neutral values.
func Extract(w types.Window) types.FeatureVector {
	n := len(w.Observations)
	if n == 0 {
		return types.FeatureVector{}
	}

	routes := make(map[string]struct{}, n)
	params := make(map[string]int)
	uaCounts := make(map[string]int)

	var getCount int
	var errorCount int
	var payloadSum float64
	var latencySum float64
	var maxLatency float64
	var paramOccurrences int

	for _, obs := range w.Observations {
		routes[obs.Route] = struct{}{}

		if obs.Method == "GET" {
			getCount++
		}
		if obs.StatusCode >= 400 {
			errorCount++
		}

		payloadSum += clipNonNegative(float64(obs.PayloadBytes))
		latency := clipNonNegative(obs.LatencyMs)
		latencySum += latency
		if latency > maxLatency {
			maxLatency = latency
		}

		uaCounts[obs.UserAgent]++

		for name, value := range obs.Params {
			params[name+"="+value]++
			paramOccurrences++
		}
	}

	duration := w.ClosedAt.Sub(w.OpenedAt).Seconds()
	var requestRate float64
	if duration > 0 {
		requestRate = float64(n) / duration
	}

	var repeatedRatio float64
	if paramOccurrences > 0 {
		var repeated int
		for _, count := range params {
			if count > 1 {
				repeated += count
			}
		}
		repeatedRatio = float64(repeated) / float64(paramOccurrences)
	}

	return types.FeatureVector{
		RequestRate:            requestRate,
		UniqueEndpoints:        float64(len(routes)),
		MethodRatio:            float64(getCount) / float64(n),
		AvgPayloadSize:         payloadSum / float64(n),
		ErrorRate:              float64(errorCount) / float64(n),
		RepeatedParameterRatio: repeatedRatio,
		UserAgentEntropy:       shannonEntropy(uaCounts, n),
		AvgResponseTime:        latencySum / float64(n),
		MaxResponseTime:        maxLatency,
	}
}

func clipNonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// shannonEntropy computes the log2 entropy of the empirical distribution of
// distinct user-agent strings across the window. A single distinct symbol
// (including the empty window case) has entropy 0.
func shannonEntropy(counts map[string]int, total int) float64 {
	if len(counts) <= 1 || total == 0 {
		return 0
	}
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
