package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func TestRecordWindowSealed(t *testing.T) {
	initial := testutil.ToFloat64(WindowsSealedTotal.WithLabelValues("LIVE"))
	RecordWindowSealed("LIVE")
	after := testutil.ToFloat64(WindowsSealedTotal.WithLabelValues("LIVE"))
	assert.Equal(t, initial+1.0, after)
}

func TestRecordDetectionScored(t *testing.T) {
	initial := testutil.ToFloat64(DetectionsScoredTotal.WithLabelValues("SIM", "CRITICAL"))
	RecordDetectionScored("SIM", "CRITICAL")
	after := testutil.ToFloat64(DetectionsScoredTotal.WithLabelValues("SIM", "CRITICAL"))
	assert.Equal(t, initial+1.0, after)
}

func TestRecordScoringLatency(t *testing.T) {
	RecordScoringLatency(25 * time.Millisecond)
	metric := &dto.Metric{}
	assert.NoError(t, ScoringLatencySeconds.Write(metric))
	assert.True(t, metric.GetHistogram().GetSampleCount() > 0, "histogram should have recorded samples")
}

func TestRecordBusDrop(t *testing.T) {
	initial := testutil.ToFloat64(BusDroppedDetectionsTotal.WithLabelValues("sub-1"))
	RecordBusDrop("sub-1")
	after := testutil.ToFloat64(BusDroppedDetectionsTotal.WithLabelValues("sub-1"))
	assert.Equal(t, initial+1.0, after)
}

func TestSetBusQueueDepth(t *testing.T) {
	SetBusQueueDepth("sub-2", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(BusSubscriberQueueDepth.WithLabelValues("sub-2")))

	SetBusQueueDepth("sub-2", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(BusSubscriberQueueDepth.WithLabelValues("sub-2")))
}
