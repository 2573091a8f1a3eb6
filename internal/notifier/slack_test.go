package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jordigilh/apisentinel/internal/detect/types"
)

func TestShouldNotify_OnlyCritical(t *testing.T) {
	assert.True(t, shouldNotify(types.Detection{Priority: types.PriorityCritical}))
	assert.False(t, shouldNotify(types.Detection{Priority: types.PriorityHigh}))
	assert.False(t, shouldNotify(types.Detection{Priority: types.PriorityMedium}))
	assert.False(t, shouldNotify(types.Detection{Priority: types.PriorityLow}))
}

func TestFirstResolutionSummary_EmptyResolutions(t *testing.T) {
	assert.Equal(t, "no resolution available", firstResolutionSummary(types.Detection{}))
}

func TestFirstResolutionSummary_UsesFirstItem(t *testing.T) {
	d := types.Detection{Resolutions: []types.ResolutionItem{
		{Action: "Autoscale", Detail: "Scale out now"},
		{Action: "Rate limit", Detail: "Throttle clients"},
	}}
	got := firstResolutionSummary(d)
	assert.Contains(t, got, "Autoscale")
	assert.Contains(t, got, "Scale out now")
	assert.NotContains(t, got, "Rate limit")
}
