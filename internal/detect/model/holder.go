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

// Package model implements the Model Holder (C4): it loads the four
// offline-trained scoring artifacts (Isolation Forest, Logistic Regression,
// K-Means, failure predictor) once at startup and serves read-only,
// immutable inference for the process lifetime. Training happens elsewhere
// (spec.md §1 Non-goals); this package only consumes serialized artifacts.
package model

import (
	"encoding/json"
	"math"
	"os"

	apperrors "github.com/jordigilh/apisentinel/internal/errors"
)

// Scaler applies a paired (mean, std) standardization before inference,
// the same transform used when the artifact was trained offline.
type Scaler struct {
	Mean [9]float64 `json:"mean"`
	Std  [9]float64 `json:"std"`
}

func (s Scaler) transform(x [9]float64) [9]float64 {
	var out [9]float64
	for i := range x {
		std := s.Std[i]
		if std == 0 {
			std = 1
		}
		out[i] = (x[i] - s.Mean[i]) / std
	}
	return out
}

func dot(w, x [9]float64) float64 {
	var sum float64
	for i := range w {
		sum += w[i] * x[i]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// linearArtifact is the on-disk shape shared by the IF and logistic-style
// models: a scaler plus a weight vector and bias computed offline.
type linearArtifact struct {
	Scaler Scaler     `json:"scaler"`
	Weights [9]float64 `json:"weights"`
	Bias    float64    `json:"bias"`
	// ScoreMin/ScoreMax calibrate the IF's raw decision-function output to
	// an order-preserving affine map onto [0,1] (higher = more anomalous).
	ScoreMin float64 `json:"score_min"`
	ScoreMax float64 `json:"score_max"`
}

// kMeansArtifact holds the three cluster centroids used to assign a window
// to its nearest behavioral cluster.
type kMeansArtifact struct {
	Scaler      Scaler      `json:"scaler"`
	Centroids   [3][9]float64 `json:"centroids"`
	MaxDistance float64     `json:"max_distance"`
}

// Holder serves read-only scoring for the four submodels. Each field is
// nil when its artifact failed to load (missing file, parse error, or
// shape mismatch) — the corresponding operation then returns Unavailable
// and the hybrid scorer (C6) treats it as score=0 with the unavailable
// flag set, degrading gracefully rather than failing the pipeline (§4.4).
type Holder struct {
	isolationForest *linearArtifact
	logisticReg     *linearArtifact
	kMeans          *kMeansArtifact
	failurePredictor *linearArtifact
}

// Paths locates the paired model+scaler artifact files (§6 configuration).
// Each artifact embeds its own scaler, so one file per model suffices.
type Paths struct {
	IsolationForest  string
	LogisticRegression string
	KMeans           string
	FailurePredictor string
}

// Load reads every configured artifact. A missing or invalid path degrades
// that submodel to Unavailable without failing the whole load (Configuration
// error class, §7): callers should log the per-artifact warnings it returns.
func Load(paths Paths) (*Holder, []error) {
	h := &Holder{}
	var warnings []error

	if a, err := loadLinear(paths.IsolationForest); err != nil {
		warnings = append(warnings, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "isolation forest artifact unavailable"))
	} else {
		h.isolationForest = a
	}

	if a, err := loadLinear(paths.LogisticRegression); err != nil {
		warnings = append(warnings, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "logistic regression artifact unavailable"))
	} else {
		h.logisticReg = a
	}

	if a, err := loadKMeans(paths.KMeans); err != nil {
		warnings = append(warnings, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "k-means artifact unavailable"))
	} else {
		h.kMeans = a
	}

	if a, err := loadLinear(paths.FailurePredictor); err != nil {
		warnings = append(warnings, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failure predictor artifact unavailable"))
	} else {
		h.failurePredictor = a
	}

	return h, warnings
}

func loadLinear(path string) (*linearArtifact, error) {
	if path == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "no artifact path configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a linearArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func loadKMeans(path string) (*kMeansArtifact, error) {
	if path == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "no artifact path configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a kMeansArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// PredictIF returns the order-preserving, [0,1]-normalized anomaly score
// from the Isolation Forest. ok is false when the artifact is unavailable.
func (h *Holder) PredictIF(x [9]float64) (score float64, ok bool) {
	if h == nil || h.isolationForest == nil {
		return 0, false
	}
	a := h.isolationForest
	scaled := a.Scaler.transform(x)
	raw := dot(a.Weights, scaled) + a.Bias
	span := a.ScoreMax - a.ScoreMin
	if span == 0 {
		return clamp01(raw), true
	}
	return clamp01((raw - a.ScoreMin) / span), true
}

// PredictFailure returns the LR failure probability for the classification
// target.
func (h *Holder) PredictFailure(x [9]float64) (prob float64, ok bool) {
	if h == nil || h.logisticReg == nil {
		return 0, false
	}
	a := h.logisticReg
	scaled := a.Scaler.transform(x)
	return sigmoid(dot(a.Weights, scaled) + a.Bias), true
}

// AssignCluster returns the nearest of the three behavioral clusters and a
// [0,1]-normalized distance to it.
func (h *Holder) AssignCluster(x [9]float64) (clusterID int, distance float64, ok bool) {
	if h == nil || h.kMeans == nil {
		return 0, 0, false
	}
	a := h.kMeans
	scaled := a.Scaler.transform(x)

	best := -1
	bestDist := math.MaxFloat64
	for i, centroid := range a.Centroids {
		d := euclidean(scaled, centroid)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	if a.MaxDistance > 0 {
		bestDist = clamp01(bestDist / a.MaxDistance)
	}
	return best, bestDist, true
}

// PredictNextFailure returns the failure predictor's probability that the
// *next* window will fail.
func (h *Holder) PredictNextFailure(x [9]float64) (prob float64, ok bool) {
	if h == nil || h.failurePredictor == nil {
		return 0, false
	}
	a := h.failurePredictor
	scaled := a.Scaler.transform(x)
	return sigmoid(dot(a.Weights, scaled) + a.Bias), true
}

func euclidean(a, b [9]float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
