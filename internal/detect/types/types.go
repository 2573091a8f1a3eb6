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

// Package types holds the data model shared by every detection-pipeline
// component: Observation, Window, FeatureVector, RuleAlertSet, ModelScores
// and Detection.
package types

import "time"

// Mode isolates live production traffic from the synthetic simulator.
type Mode string

const (
	ModeLive Mode = "LIVE"
	ModeSim  Mode = "SIM"
)

// Pattern is the ground-truth label a simulated observation is tagged with.
type Pattern string

const (
	PatternNormal          Pattern = "NORMAL"
	PatternRateSpike       Pattern = "RATE_SPIKE"
	PatternPayloadAbuse    Pattern = "PAYLOAD_ABUSE"
	PatternErrorBurst      Pattern = "ERROR_BURST"
	PatternParamRepetition Pattern = "PARAM_REPETITION"
	PatternEndpointFlood   Pattern = "ENDPOINT_FLOOD"
	PatternMixed           Pattern = "MIXED"
)

// AnomalousPatterns lists every pattern MIXED may uniformly sample from.
var AnomalousPatterns = []Pattern{
	PatternRateSpike,
	PatternPayloadAbuse,
	PatternErrorBurst,
	PatternParamRepetition,
	PatternEndpointFlood,
}

// Priority is the bucketed risk level assigned by the hybrid scorer.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// priorityRank orders priorities for stable sort of resolutions (§4.8).
var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// PriorityRank returns the sort rank used when merging resolution lists.
func PriorityRank(p Priority) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// RootCause is the primary diagnostic tag produced by the classifier.
type RootCause string

const (
	RootCauseLatencyBottleneck  RootCause = "LATENCY_BOTTLENECK"
	RootCauseBackendInstability RootCause = "BACKEND_INSTABILITY"
	RootCauseTrafficSurge       RootCause = "TRAFFIC_SURGE"
	RootCauseAbuseOrBot         RootCause = "ABUSE_OR_BOT"
	RootCauseSystemOverload     RootCause = "SYSTEM_OVERLOAD"
	RootCauseNone               RootCause = "NONE"
)

// RuleAlert is one deterministic, threshold-triggered categorical alert.
type RuleAlert string

const (
	AlertRateSpike     RuleAlert = "RATE_SPIKE"
	AlertErrorBurst    RuleAlert = "ERROR_BURST"
	AlertBotPattern    RuleAlert = "BOT_PATTERN"
	AlertLargePayload  RuleAlert = "LARGE_PAYLOAD"
	AlertEndpointScan  RuleAlert = "ENDPOINT_SCAN"
)

// Observation is one HTTP request as seen by the detector. Immutable once
// created; C2 treats every observation as a value copy.
type Observation struct {
	MonotonicNs    int64             `json:"monotonic_ns"`
	Timestamp      time.Time         `json:"timestamp"`
	Source         string            `json:"source"`
	Route          string            `json:"route"`
	Method         string            `json:"method"`
	StatusCode     int               `json:"status_code"`
	LatencyMs      float64           `json:"latency_ms"`
	PayloadBytes   int               `json:"payload_bytes"`
	UserAgent      string            `json:"user_agent"`
	Params         map[string]string `json:"params,omitempty"`
	Mode           Mode              `json:"mode"`
	InjectedLabel  Pattern           `json:"injected_label,omitempty"`
}

// Window is an ordered sequence of exactly WindowSize observations for one
// (mode, source) pair, exclusively owned by the window aggregator (C2).
type Window struct {
	ID           int64         `json:"id"`
	Mode         Mode          `json:"mode"`
	Source       string        `json:"source"`
	OpenedAt     time.Time     `json:"opened_at"`
	ClosedAt     time.Time     `json:"closed_at"`
	Observations []Observation `json:"observations"`
}

// FeatureVector is the nine-dimensional feature vector computed from a
// completed window (§3).
type FeatureVector struct {
	RequestRate            float64 `json:"request_rate"`
	UniqueEndpoints         float64 `json:"unique_endpoints"`
	MethodRatio             float64 `json:"method_ratio"`
	AvgPayloadSize          float64 `json:"avg_payload_size"`
	ErrorRate               float64 `json:"error_rate"`
	RepeatedParameterRatio  float64 `json:"repeated_parameter_ratio"`
	UserAgentEntropy        float64 `json:"user_agent_entropy"`
	AvgResponseTime         float64 `json:"avg_response_time"`
	MaxResponseTime         float64 `json:"max_response_time"`
}

// AsSlice returns the nine features in the stable order the model holder
// (C4) expects.
func (f FeatureVector) AsSlice() [9]float64 {
	return [9]float64{
		f.RequestRate,
		f.UniqueEndpoints,
		f.MethodRatio,
		f.AvgPayloadSize,
		f.ErrorRate,
		f.RepeatedParameterRatio,
		f.UserAgentEntropy,
		f.AvgResponseTime,
		f.MaxResponseTime,
	}
}

// RuleAlertSet is the deterministic rule engine's output (C5).
type RuleAlertSet struct {
	Alerts    []RuleAlert `json:"alerts"`
	RuleScore float64     `json:"rule_score"`
}

func (s RuleAlertSet) Has(alert RuleAlert) bool {
	for _, a := range s.Alerts {
		if a == alert {
			return true
		}
	}
	return false
}

// ModelScores is the output of the four statistical/ML submodels (C4),
// ensembled by the hybrid scorer (C6).
type ModelScores struct {
	AnomalyScore                float64 `json:"anomaly_score"`
	AnomalyUnavailable           bool    `json:"anomaly_unavailable,omitempty"`
	FailureProbability           float64 `json:"failure_probability"`
	FailureUnavailable           bool    `json:"failure_unavailable,omitempty"`
	ClusterID                    int     `json:"cluster_id"`
	ClusterDistance              float64 `json:"cluster_distance"`
	ClusterUnavailable           bool    `json:"cluster_unavailable,omitempty"`
	NextWindowFailureProbability float64 `json:"next_window_failure_probability"`
	NextWindowUnavailable        bool    `json:"next_window_unavailable,omitempty"`
}

// RiskResult is the hybrid scorer's output (C6).
type RiskResult struct {
	RiskScore  float64  `json:"risk_score"`
	Priority   Priority `json:"priority"`
	IsAnomaly  bool     `json:"is_anomaly"`
}

// RootCauseResult is the root-cause classifier's output (C7).
type RootCauseResult struct {
	RootCause               RootCause `json:"root_cause"`
	ContributingConditions  []string  `json:"contributing_conditions"`
	Confidence              float64   `json:"confidence"`
}

// ResolutionItem is one remediation suggestion (C8). Never executed
// automatically — see spec.md Non-goals.
type ResolutionItem struct {
	Category string   `json:"category"`
	Action   string   `json:"action"`
	Detail   string   `json:"detail"`
	Priority Priority `json:"priority"`
}

// Detection is the headline record produced once per completed window.
type Detection struct {
	ID                   string           `json:"id"`
	Timestamp            time.Time        `json:"timestamp"`
	Mode                 Mode             `json:"mode"`
	Source               string           `json:"source"`
	WindowID             int64            `json:"window_id"`
	Features             FeatureVector    `json:"features"`
	RuleAlerts           []RuleAlert      `json:"rule_alerts"`
	ModelScores          ModelScores      `json:"model_scores"`
	RiskScore            float64          `json:"risk_score"`
	Priority             Priority         `json:"priority"`
	IsAnomaly            bool             `json:"is_anomaly"`
	RootCause            RootCause        `json:"root_cause"`
	ContributingConditions []string       `json:"contributing_conditions"`
	Resolutions          []ResolutionItem `json:"resolutions"`
	DetectionLatencyMs   float64          `json:"detection_latency_ms"`

	// Simulation-only fields, omitted entirely for LIVE detections.
	InjectedLabel        Pattern `json:"injected_label,omitempty"`
	EmergencyRank        int     `json:"emergency_rank,omitempty"`
	IsCorrectlyDetected  *bool   `json:"is_correctly_detected,omitempty"`
}

// Key uniquely identifies a (mode, source, window) triple for the
// exactly-once persistence invariant (P2).
type Key struct {
	Mode     Mode
	Source   string
	WindowID int64
}
