package filter

import (
	"testing"

	"github.com/jordigilh/apisentinel/internal/detect/types"
	"github.com/stretchr/testify/assert"
)

func newTestFilter() *Filter {
	return New(NewRoutes(nil, nil))
}

func TestClassify_LiveTrackedRoute(t *testing.T) {
	f := newTestFilter()
	obs := types.Observation{Mode: types.ModeLive, Route: "/login", Method: "POST"}
	assert.Equal(t, Tracked, f.Classify(obs))
}

func TestClassify_LiveIgnoredRoute(t *testing.T) {
	f := newTestFilter()
	obs := types.Observation{Mode: types.ModeLive, Route: "/metrics", Method: "GET"}
	assert.Equal(t, Ignored, f.Classify(obs))
}

func TestClassify_SimTrackedRoute(t *testing.T) {
	f := newTestFilter()
	obs := types.Observation{Mode: types.ModeSim, Route: "/sim/login", Method: "POST"}
	assert.Equal(t, Tracked, f.Classify(obs))
}

func TestClassify_SimRouteNotTrackedInLive(t *testing.T) {
	f := newTestFilter()
	obs := types.Observation{Mode: types.ModeLive, Route: "/sim/login", Method: "POST"}
	assert.Equal(t, Ignored, f.Classify(obs))
}

func TestClassify_PreflightAlwaysIgnored(t *testing.T) {
	f := newTestFilter()
	obs := types.Observation{Mode: types.ModeLive, Route: "/login", Method: "OPTIONS"}
	assert.Equal(t, Ignored, f.Classify(obs))
}

func TestClassify_UnknownModeIgnored(t *testing.T) {
	f := newTestFilter()
	obs := types.Observation{Mode: types.Mode("BOGUS"), Route: "/login", Method: "GET"}
	assert.Equal(t, Ignored, f.Classify(obs))
}

func TestNewRoutes_CustomOverridesDefaults(t *testing.T) {
	r := NewRoutes([]string{"/custom"}, nil)
	f := New(r)
	assert.Equal(t, Ignored, f.Classify(types.Observation{Mode: types.ModeLive, Route: "/login", Method: "GET"}))
	assert.Equal(t, Tracked, f.Classify(types.Observation{Mode: types.ModeLive, Route: "/custom", Method: "GET"}))
}
