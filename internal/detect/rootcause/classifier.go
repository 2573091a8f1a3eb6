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

// Package rootcause implements the Root-Cause Classifier (C7): a pure
// mapping from a scored window's feature vector and model scores onto a
// single root-cause tag, its contributing conditions, and a confidence.
package rootcause

import "github.com/jordigilh/apisentinel/internal/detect/types"

// TrafficBaseline is the baseline request rate used by the traffic_surge
// condition (§4.7: surge iff request_rate >= 2 * baseline).
const TrafficBaseline = 5

// condition is one of the four named diagnostic conditions, evaluated in
// order (§4.7).
type condition struct {
	name       string
	rootCause  types.RootCause
	confidence float64
	holds      func(types.FeatureVector, types.ModelScores) bool
}

var conditions = []condition{
	{
		name:       "latency_bottleneck",
		rootCause:  types.RootCauseLatencyBottleneck,
		confidence: 0.90,
		holds: func(f types.FeatureVector, _ types.ModelScores) bool {
			return f.AvgResponseTime > 800 && f.ErrorRate < 0.3
		},
	},
	{
		name:       "backend_instability",
		rootCause:  types.RootCauseBackendInstability,
		confidence: 0.92,
		holds: func(f types.FeatureVector, _ types.ModelScores) bool {
			return f.ErrorRate >= 0.3
		},
	},
	{
		name:       "traffic_surge",
		rootCause:  types.RootCauseTrafficSurge,
		confidence: 0.88,
		holds: func(f types.FeatureVector, _ types.ModelScores) bool {
			return f.RequestRate >= 2*TrafficBaseline
		},
	},
	{
		name:       "abuse_or_bot",
		rootCause:  types.RootCauseAbuseOrBot,
		confidence: 0.90,
		holds: func(f types.FeatureVector, m types.ModelScores) bool {
			return f.RepeatedParameterRatio > 0.7 || m.ClusterID == 2
		},
	},
}

// Classify evaluates every condition against the feature vector and model
// scores. The primary tag is the sole matching condition's root cause when
// exactly one holds, SYSTEM_OVERLOAD when two or more hold, and NONE when
// none hold. Every matching condition name is recorded regardless of which
// becomes primary.
func Classify(f types.FeatureVector, m types.ModelScores) types.RootCauseResult {
	var matched []condition
	for _, c := range conditions {
		if c.holds(f, m) {
			matched = append(matched, c)
		}
	}

	names := make([]string, len(matched))
	for i, c := range matched {
		names[i] = c.name
	}

	switch len(matched) {
	case 0:
		return types.RootCauseResult{RootCause: types.RootCauseNone, ContributingConditions: names, Confidence: 0}
	case 1:
		return types.RootCauseResult{RootCause: matched[0].rootCause, ContributingConditions: names, Confidence: matched[0].confidence}
	case 2:
		return types.RootCauseResult{RootCause: types.RootCauseSystemOverload, ContributingConditions: names, Confidence: 0.90}
	default:
		return types.RootCauseResult{RootCause: types.RootCauseSystemOverload, ContributingConditions: names, Confidence: 0.95}
	}
}
