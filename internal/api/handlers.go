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

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jordigilh/apisentinel/internal/detect/simulate"
	"github.com/jordigilh/apisentinel/internal/detect/types"
)

// writeJSON encodes v as the response body. Encoding failures are logged,
// never surfaced to the caller — the status line has already been sent.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response body failed", zap.Error(err))
	}
}

// writeError writes the spec's fixed error envelope: HTTP status plus
// {"error": kind}, never a stack trace or internal detail (§6).
func writeError(w http.ResponseWriter, logger *zap.Logger, status int, kind string) {
	writeJSON(w, logger, status, map[string]string{"error": kind})
}

type sourceCountEntry struct {
	Source string `json:"source"`
	Count  int64  `json:"count"`
}

func sourceCounts(m map[string]int64) []sourceCountEntry {
	out := make([]sourceCountEntry, 0, len(m))
	for source, count := range m {
		out = append(out, sourceCountEntry{Source: source, Count: count})
	}
	return out
}

// currentWindowTotal sums the in-progress observation count across every
// (mode, source) stream that has ever been observed.
func currentWindowTotal(o interface {
	CurrentWindowCount(mode types.Mode, source string) int
}, mode types.Mode, perSource map[string]int64) int {
	total := 0
	for source := range perSource {
		total += o.CurrentWindowCount(mode, source)
	}
	return total
}

// handleLiveStats answers GET /live/stats (§6).
func (s *Server) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	counters := s.orchestrator.LiveCounters()
	status := "idle"
	if counters.Observed > 0 {
		status = "active"
	}
	perSource := s.orchestrator.LiveSourceCounts()
	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"mode":                 "LIVE",
		"total_requests":       counters.Observed,
		"current_window_count": currentWindowTotal(s.orchestrator, types.ModeLive, perSource),
		"windows_processed":    counters.Windows,
		"status":               status,
		"per_source_counts":    sourceCounts(perSource),
	})
}

// handleSimStats answers GET /sim/stats (§6).
func (s *Server) handleSimStats(w http.ResponseWriter, r *http.Request) {
	counters := s.orchestrator.SimCounters()
	state, target, pattern := s.orchestrator.SimStatus()

	var accuracy interface{}
	if s.history != nil {
		accuracy = s.history.Accuracy()
	}
	perSource := s.orchestrator.SimSourceCounts()

	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"mode":                 "SIM",
		"active":               state == simulate.StateRunning || state == simulate.StateScheduled,
		"injected_target":      target,
		"pattern":              pattern,
		"total_requests":       counters.Observed,
		"windows_processed":    counters.Windows,
		"anomalies_detected":   counters.Anomalies,
		"accuracy":             accuracy,
		"current_window_count": currentWindowTotal(s.orchestrator, types.ModeSim, perSource),
	})
}

// simStartRequest validates the POST /sim/start query parameters.
type simStartRequest struct {
	VirtualSource string `validate:"required"`
	Pattern       string `validate:"required"`
	DurationS     int    `validate:"required,gt=0"`
	BatchSize     int    `validate:"required,gt=0"`
}

// handleSimStart answers POST /sim/start (§6).
func (s *Server) handleSimStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	durationS, _ := strconv.Atoi(q.Get("duration_s"))
	batchSize, _ := strconv.Atoi(q.Get("batch_size"))

	req := simStartRequest{
		VirtualSource: q.Get("virtual_source"),
		Pattern:       q.Get("pattern"),
		DurationS:     durationS,
		BatchSize:     batchSize,
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "InvalidTarget")
		return
	}

	err := s.orchestrator.StartSimulation(req.VirtualSource, types.Pattern(req.Pattern), req.DurationS, req.BatchSize)
	switch {
	case err == nil:
		writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{
			"status":         "started",
			"virtual_source": req.VirtualSource,
			"pattern":        req.Pattern,
			"duration_s":     req.DurationS,
			"batch_size":     req.BatchSize,
		})
	case errors.Is(err, simulate.ErrInvalidTarget):
		writeError(w, s.logger, http.StatusBadRequest, "InvalidTarget")
	case errors.Is(err, simulate.ErrInvalidPattern):
		writeError(w, s.logger, http.StatusBadRequest, "InvalidPattern")
	case errors.Is(err, simulate.ErrAlreadyActive):
		writeError(w, s.logger, http.StatusConflict, "AlreadyActive")
	default:
		s.logger.Error("start simulation failed", zap.Error(err))
		writeError(w, s.logger, http.StatusInternalServerError, "Internal")
	}
}

// handleSimStop answers POST /sim/stop (§6).
func (s *Server) handleSimStop(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.StopSimulation(); err != nil {
		if errors.Is(err, simulate.ErrNotActive) {
			writeError(w, s.logger, http.StatusConflict, "NotActive")
			return
		}
		s.logger.Error("stop simulation failed", zap.Error(err))
		writeError(w, s.logger, http.StatusInternalServerError, "Internal")
		return
	}

	counters := s.orchestrator.SimCounters()
	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"status": "stopped",
		"final_stats": map[string]interface{}{
			"total_requests":     counters.Observed,
			"windows_processed":  counters.Windows,
			"anomalies_detected": counters.Anomalies,
		},
	})
}

// handleSimClear answers POST /sim/clear (§6). It refuses to clear state
// while a simulation is active.
func (s *Server) handleSimClear(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator.SimActive() {
		writeError(w, s.logger, http.StatusConflict, "AlreadyActive")
		return
	}
	if s.history != nil {
		s.history.Clear()
	}
	s.orchestrator.ClearSimulation()
	w.WriteHeader(http.StatusOK)
}

// handleDetections answers GET /detections?mode&limit (§6).
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	mode := types.Mode(r.URL.Query().Get("mode"))
	if mode != types.ModeLive && mode != types.ModeSim {
		writeError(w, s.logger, http.StatusBadRequest, "InvalidMode")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, s.logger, http.StatusBadRequest, "InvalidLimit")
			return
		}
		limit = n
	}
	if limit > 1000 {
		limit = 1000
	}

	if s.detections == nil {
		writeError(w, s.logger, http.StatusServiceUnavailable, "PersistenceUnavailable")
		return
	}

	detections, err := s.detections.ListRecent(r.Context(), mode, limit)
	if err != nil {
		s.logger.Error("list detections failed", zap.Error(err))
		writeError(w, s.logger, http.StatusInternalServerError, "Internal")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, detections)
}

// handleSimEmergencies answers GET /sim/emergencies?limit (§6).
func (s *Server) handleSimEmergencies(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, s.logger, http.StatusBadRequest, "InvalidLimit")
			return
		}
		limit = n
	}

	if s.history == nil {
		writeJSON(w, s.logger, http.StatusOK, []types.Detection{})
		return
	}
	writeJSON(w, s.logger, http.StatusOK, s.history.TopEmergencies(limit))
}
