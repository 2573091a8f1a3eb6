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

// Package window implements the Window Aggregator (C2): non-overlapping,
// tumbling windows of WindowSize observations, one independent stream per
// (mode, source) pair.
package window

import (
	"sync"
	"time"

	"github.com/jordigilh/apisentinel/internal/detect/types"
)

// DefaultWindowSize is WINDOW_SIZE from spec.md §6.
const DefaultWindowSize = 10

type streamKey struct {
	mode   types.Mode
	source string
}

// stream is the open-window state for one (mode, source) pair. Exclusively
// owned behind its mutex; the critical section is the only suspension
// point inside Push (§5).
type stream struct {
	mu       sync.Mutex
	nextID   int64
	opened   time.Time
	obs      []types.Observation
}

// Aggregator groups tracked observations into size-N windows, independently
// per (mode, source).
type Aggregator struct {
	windowSize int
	streams    sync.Map // streamKey -> *stream
}

func New(windowSize int) *Aggregator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Aggregator{windowSize: windowSize}
}

func (a *Aggregator) streamFor(key streamKey) *stream {
	if s, ok := a.streams.Load(key); ok {
		return s.(*stream)
	}
	s, _ := a.streams.LoadOrStore(key, &stream{})
	return s.(*stream)
}

// Push appends obs to its (mode, source) stream. If the window reaches
// WindowSize it is sealed, returned, and a fresh window begins. Push never
// fails (§4.2 Failure semantics).
func (a *Aggregator) Push(obs types.Observation) (types.Window, bool) {
	key := streamKey{mode: obs.Mode, source: obs.Source}
	s := a.streamFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.obs) == 0 {
		s.opened = time.Now()
	}
	s.obs = append(s.obs, obs)

	if len(s.obs) < a.windowSize {
		return types.Window{}, false
	}

	sealed := types.Window{
		ID:           s.nextID,
		Mode:         obs.Mode,
		Source:       obs.Source,
		OpenedAt:     s.opened,
		ClosedAt:     time.Now(),
		Observations: s.obs,
	}
	s.nextID++
	s.obs = nil
	return sealed, true
}

// Snapshot reports telemetry for one (mode, source) stream: the number of
// observations in the currently open window and the window id that will be
// assigned to the next sealed window (i.e. the count of windows already
// sealed).
func (a *Aggregator) Snapshot(mode types.Mode, source string) (openCount int, sealedTotal int64) {
	v, ok := a.streams.Load(streamKey{mode: mode, source: source})
	if !ok {
		return 0, 0
	}
	s := v.(*stream)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.obs), s.nextID
}
