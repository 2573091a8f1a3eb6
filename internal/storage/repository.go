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

package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "github.com/jordigilh/apisentinel/internal/errors"
	"github.com/jordigilh/apisentinel/internal/detect/types"
)

// DetectionRepository persists Detection records with an exactly-once
// guarantee keyed by (mode, source, window_id) (P2): a retried write for a
// window already on disk is a silent no-op, never a duplicate row.
type DetectionRepository struct {
	db     *sqlx.DB
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewDetectionRepository(db *sqlx.DB, logger *zap.Logger) *DetectionRepository {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "detection-repository",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	})
	return &DetectionRepository{db: db, cb: cb, logger: logger}
}

const upsertDetectionSQL = `
INSERT INTO detections (
	id, mode, source, window_id, features, rule_alerts, model_scores,
	risk_score, priority, is_anomaly, root_cause, contributing_conditions,
	resolutions, detection_latency_ms, injected_label, emergency_rank,
	is_correctly_detected, detected_at
) VALUES (
	:id, :mode, :source, :window_id, :features, :rule_alerts, :model_scores,
	:risk_score, :priority, :is_anomaly, :root_cause, :contributing_conditions,
	:resolutions, :detection_latency_ms, :injected_label, :emergency_rank,
	:is_correctly_detected, :detected_at
)
ON CONFLICT (mode, source, window_id) DO NOTHING`

type detectionRow struct {
	ID                     string    `db:"id"`
	Mode                   string    `db:"mode"`
	Source                 string    `db:"source"`
	WindowID               int64     `db:"window_id"`
	Features               []byte    `db:"features"`
	RuleAlerts             []byte    `db:"rule_alerts"`
	ModelScores            []byte    `db:"model_scores"`
	RiskScore              float64   `db:"risk_score"`
	Priority               string    `db:"priority"`
	IsAnomaly              bool      `db:"is_anomaly"`
	RootCause              string    `db:"root_cause"`
	ContributingConditions []byte    `db:"contributing_conditions"`
	Resolutions            []byte    `db:"resolutions"`
	DetectionLatencyMs     float64   `db:"detection_latency_ms"`
	InjectedLabel          *string   `db:"injected_label"`
	EmergencyRank          *int      `db:"emergency_rank"`
	IsCorrectlyDetected    *bool     `db:"is_correctly_detected"`
	DetectedAt             time.Time `db:"detected_at"`
}

func toDetectionRow(d types.Detection) (detectionRow, error) {
	features, err := json.Marshal(d.Features)
	if err != nil {
		return detectionRow{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal features")
	}
	ruleAlerts, err := json.Marshal(d.RuleAlerts)
	if err != nil {
		return detectionRow{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal rule alerts")
	}
	modelScores, err := json.Marshal(d.ModelScores)
	if err != nil {
		return detectionRow{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal model scores")
	}
	contributing, err := json.Marshal(d.ContributingConditions)
	if err != nil {
		return detectionRow{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal contributing conditions")
	}
	resolutions, err := json.Marshal(d.Resolutions)
	if err != nil {
		return detectionRow{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal resolutions")
	}

	var injectedLabel *string
	if d.InjectedLabel != "" {
		s := string(d.InjectedLabel)
		injectedLabel = &s
	}
	var emergencyRank *int
	if d.EmergencyRank != 0 {
		emergencyRank = &d.EmergencyRank
	}

	return detectionRow{
		ID: d.ID, Mode: string(d.Mode), Source: d.Source, WindowID: d.WindowID,
		Features: features, RuleAlerts: ruleAlerts, ModelScores: modelScores,
		RiskScore: d.RiskScore, Priority: string(d.Priority), IsAnomaly: d.IsAnomaly,
		RootCause: string(d.RootCause), ContributingConditions: contributing,
		Resolutions: resolutions, DetectionLatencyMs: d.DetectionLatencyMs,
		InjectedLabel: injectedLabel, EmergencyRank: emergencyRank,
		IsCorrectlyDetected: d.IsCorrectlyDetected, DetectedAt: d.Timestamp,
	}, nil
}

// Save upserts one detection, idempotent on (mode, source, window_id).
func (r *DetectionRepository) Save(ctx context.Context, d types.Detection) error {
	row, err := toDetectionRow(d)
	if err != nil {
		return err
	}

	_, err = r.cb.Execute(func() (interface{}, error) {
		return r.db.NamedExecContext(ctx, upsertDetectionSQL, row)
	})
	if err != nil {
		r.logger.Error("save detection failed", zap.String("id", d.ID), zap.Error(err))
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "save detection")
	}
	return nil
}

const listDetectionsSQL = `
SELECT id, mode, source, window_id, features, rule_alerts, model_scores,
	risk_score, priority, is_anomaly, root_cause, contributing_conditions,
	resolutions, detection_latency_ms, injected_label, emergency_rank,
	is_correctly_detected, detected_at
FROM detections
WHERE mode = $1
ORDER BY detected_at DESC
LIMIT $2`

func fromDetectionRow(row detectionRow) (types.Detection, error) {
	d := types.Detection{
		ID: row.ID, Mode: types.Mode(row.Mode), Source: row.Source, WindowID: row.WindowID,
		RiskScore: row.RiskScore, Priority: types.Priority(row.Priority), IsAnomaly: row.IsAnomaly,
		RootCause: types.RootCause(row.RootCause), DetectionLatencyMs: row.DetectionLatencyMs,
		Timestamp: row.DetectedAt, IsCorrectlyDetected: row.IsCorrectlyDetected,
	}
	if err := json.Unmarshal(row.Features, &d.Features); err != nil {
		return types.Detection{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal features")
	}
	if err := json.Unmarshal(row.RuleAlerts, &d.RuleAlerts); err != nil {
		return types.Detection{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal rule alerts")
	}
	if err := json.Unmarshal(row.ModelScores, &d.ModelScores); err != nil {
		return types.Detection{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal model scores")
	}
	if err := json.Unmarshal(row.ContributingConditions, &d.ContributingConditions); err != nil {
		return types.Detection{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal contributing conditions")
	}
	if err := json.Unmarshal(row.Resolutions, &d.Resolutions); err != nil {
		return types.Detection{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal resolutions")
	}
	if row.InjectedLabel != nil {
		d.InjectedLabel = types.Pattern(*row.InjectedLabel)
	}
	if row.EmergencyRank != nil {
		d.EmergencyRank = *row.EmergencyRank
	}
	return d, nil
}

// ListRecent returns up to limit persisted detections for mode, newest
// first (§6 GET /detections).
func (r *DetectionRepository) ListRecent(ctx context.Context, mode types.Mode, limit int) ([]types.Detection, error) {
	var rows []detectionRow
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.db.SelectContext(ctx, &rows, listDetectionsSQL, string(mode), limit)
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "list detections")
	}

	out := make([]types.Detection, 0, len(rows))
	for _, row := range rows {
		d, err := fromDetectionRow(row)
		if err != nil {
			r.logger.Warn("skipping malformed detection row", zap.String("id", row.ID), zap.Error(err))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// ObservationRepository appends raw observations on a best-effort basis:
// persistence failures never block the detection pipeline (§C11).
type ObservationRepository struct {
	db     *sqlx.DB
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewObservationRepository(db *sqlx.DB, logger *zap.Logger) *ObservationRepository {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "observation-repository",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
	})
	return &ObservationRepository{db: db, cb: cb, logger: logger}
}

const insertObservationSQL = `
INSERT INTO observations (
	mode, source, route, method, status_code, latency_ms, payload_bytes,
	user_agent, params, injected_label, observed_at
) VALUES (
	:mode, :source, :route, :method, :status_code, :latency_ms, :payload_bytes,
	:user_agent, :params, :injected_label, :observed_at
)`

type observationRow struct {
	Mode          string    `db:"mode"`
	Source        string    `db:"source"`
	Route         string    `db:"route"`
	Method        string    `db:"method"`
	StatusCode    int       `db:"status_code"`
	LatencyMs     float64   `db:"latency_ms"`
	PayloadBytes  int       `db:"payload_bytes"`
	UserAgent     string    `db:"user_agent"`
	Params        []byte    `db:"params"`
	InjectedLabel *string   `db:"injected_label"`
	ObservedAt    time.Time `db:"observed_at"`
}

// Save inserts one observation. Errors are logged, never returned to the
// caller: observation persistence is best-effort by design.
func (r *ObservationRepository) Save(ctx context.Context, o types.Observation) {
	params, err := json.Marshal(o.Params)
	if err != nil {
		r.logger.Warn("marshal observation params failed", zap.Error(err))
		return
	}
	var injectedLabel *string
	if o.InjectedLabel != "" {
		s := string(o.InjectedLabel)
		injectedLabel = &s
	}

	row := observationRow{
		Mode: string(o.Mode), Source: o.Source, Route: o.Route, Method: o.Method,
		StatusCode: o.StatusCode, LatencyMs: o.LatencyMs, PayloadBytes: o.PayloadBytes,
		UserAgent: o.UserAgent, Params: params, InjectedLabel: injectedLabel, ObservedAt: o.Timestamp,
	}

	_, err = r.cb.Execute(func() (interface{}, error) {
		return r.db.NamedExecContext(ctx, insertObservationSQL, row)
	})
	if err != nil {
		r.logger.Warn("save observation failed", zap.String("source", o.Source), zap.Error(err))
	}
}

// ObservationWriter drains a bounded channel of observations onto the
// repository in the background so the hot scoring path never blocks on a
// database write.
type ObservationWriter struct {
	repo  *ObservationRepository
	queue chan types.Observation
	done  chan struct{}
}

func NewObservationWriter(repo *ObservationRepository, queueDepth int) *ObservationWriter {
	w := &ObservationWriter{repo: repo, queue: make(chan types.Observation, queueDepth), done: make(chan struct{})}
	go w.run()
	return w
}

// Enqueue offers an observation for background persistence. It drops the
// observation rather than blocking the caller when the queue is full.
func (w *ObservationWriter) Enqueue(o types.Observation) {
	select {
	case w.queue <- o:
	default:
		w.repo.logger.Warn("observation write queue full, dropping", zap.String("source", o.Source))
	}
}

func (w *ObservationWriter) run() {
	ctx := context.Background()
	for {
		select {
		case o := <-w.queue:
			w.repo.Save(ctx, o)
		case <-w.done:
			return
		}
	}
}

// Close stops the background writer goroutine.
func (w *ObservationWriter) Close() {
	close(w.done)
}
