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

// Package api implements the Control API (§6): the detector's one stable
// HTTP/JSON contract for stats, simulation control, and detection/emergency
// lookup, plus the real-time Event Bus WebSocket upgrade and a Prometheus
// /metrics endpoint.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jordigilh/apisentinel/internal/bus"
	"github.com/jordigilh/apisentinel/internal/detect/history"
	"github.com/jordigilh/apisentinel/internal/detect/orchestrator"
	"github.com/jordigilh/apisentinel/internal/storage"
)

// Server holds everything the Control API needs to answer a request. It
// owns no state of its own: every handler reads through to the
// orchestrator, the history store, or the detection repository.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	history      *history.Store
	detections   *storage.DetectionRepository
	bus          *bus.Bus
	logger       *zap.Logger
	validate     *validator.Validate
}

// NewServer wires a Server. detections and bus may be nil when the
// detector runs without persistence or the event bus respectively: with
// no repository the detections handler answers 503, and with no bus the
// /events route is not registered.
func NewServer(
	orch *orchestrator.Orchestrator,
	hist *history.Store,
	detections *storage.DetectionRepository,
	eventBus *bus.Bus,
	logger *zap.Logger,
) *Server {
	return &Server{
		orchestrator: orch,
		history:      hist,
		detections:   detections,
		bus:          eventBus,
		logger:       logger,
		validate:     validator.New(),
	}
}

// Router builds the chi router carrying every Control API route (§6), the
// WebSocket event stream, and the Prometheus metrics endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/live/stats", s.handleLiveStats)
	r.Get("/sim/stats", s.handleSimStats)
	r.Post("/sim/start", s.handleSimStart)
	r.Post("/sim/stop", s.handleSimStop)
	r.Post("/sim/clear", s.handleSimClear)
	r.Get("/detections", s.handleDetections)
	r.Get("/sim/emergencies", s.handleSimEmergencies)

	if s.bus != nil {
		r.Get("/events", s.bus.ServeWS)
	}
	r.Handle("/metrics", promhttp.Handler())

	return r
}
