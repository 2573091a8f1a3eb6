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

// Package filter implements the Observation Filter (C1): a pure,
// side-effect-free classifier deciding whether an observation enters the
// window aggregator.
package filter

import (
	"strings"

	"github.com/jordigilh/apisentinel/internal/detect/types"
)

// Decision is the filter's verdict for one observation.
type Decision string

const (
	Tracked Decision = "TRACKED"
	Ignored Decision = "IGNORED"
)

// Routes is the per-mode allow-list of tracked routes (§4.1).
type Routes struct {
	Live map[string]struct{}
	Sim  map[string]struct{}
}

// DefaultLiveRoutes are the first-class business routes tracked in LIVE.
var DefaultLiveRoutes = []string{"/login", "/signup", "/search", "/profile", "/payment", "/logout"}

// DefaultSimRoutes are the five virtual routes emitted by the simulator.
var DefaultSimRoutes = []string{"/sim/login", "/sim/search", "/sim/profile", "/sim/payment", "/sim/signup"}

// NewRoutes builds a Routes set from configured route lists, falling back
// to the defaults when a list is empty.
func NewRoutes(live, sim []string) Routes {
	if len(live) == 0 {
		live = DefaultLiveRoutes
	}
	if len(sim) == 0 {
		sim = DefaultSimRoutes
	}
	return Routes{Live: toSet(live), Sim: toSet(sim)}
}

func toSet(routes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		set[r] = struct{}{}
	}
	return set
}

// preflightMethods are cross-origin pre-flight requests, ignored regardless
// of route.
var preflightMethods = map[string]struct{}{"OPTIONS": {}}

// Filter classifies observations against the configured route allow-lists.
type Filter struct {
	routes Routes
}

func New(routes Routes) *Filter {
	return &Filter{routes: routes}
}

// Classify is pure, side-effect free and constant time.
func (f *Filter) Classify(obs types.Observation) Decision {
	if _, preflight := preflightMethods[strings.ToUpper(obs.Method)]; preflight {
		return Ignored
	}

	var tracked map[string]struct{}
	switch obs.Mode {
	case types.ModeLive:
		tracked = f.routes.Live
	case types.ModeSim:
		tracked = f.routes.Sim
	default:
		return Ignored
	}

	if _, ok := tracked[obs.Route]; ok {
		return Tracked
	}
	return Ignored
}
