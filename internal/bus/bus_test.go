package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jordigilh/apisentinel/internal/detect/types"
	"github.com/jordigilh/apisentinel/internal/metrics"
)

func TestPublish_FansOutToAllLocalSubscribers(t *testing.T) {
	b := New(zap.NewNop(), 4, nil)
	s1 := b.Subscribe("a")
	s2 := b.Subscribe("b")

	d := types.Detection{ID: "d1"}
	b.Publish(context.Background(), d)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got1, ok1 := s1.Receive(ctx)
	got2, ok2 := s2.Receive(ctx)
	require.True(t, ok1)
	require.True(t, ok2)
	require.Equal(t, "d1", got1.ID)
	require.Equal(t, "d1", got2.ID)
}

func TestDeliver_EvictsOldestWhenQueueFull(t *testing.T) {
	b := New(zap.NewNop(), 1, nil)
	sub := b.Subscribe("evict-test")

	before := testutil.ToFloat64(metrics.BusDroppedDetectionsTotal.WithLabelValues("evict-test"))

	b.Publish(context.Background(), types.Detection{ID: "old"})
	b.Publish(context.Background(), types.Detection{ID: "new"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := sub.Receive(ctx)
	require.True(t, ok)
	require.Equal(t, "new", got.ID)

	after := testutil.ToFloat64(metrics.BusDroppedDetectionsTotal.WithLabelValues("evict-test"))
	require.Equal(t, before+1.0, after, "overflow must advance the drop-count metric (spec.md §4.12/§8 scenario 6)")
}

func TestUnsubscribe_StopsFurtherDelivery(t *testing.T) {
	b := New(zap.NewNop(), 4, nil)
	sub := b.Subscribe("a")
	b.Unsubscribe("a")
	b.Publish(context.Background(), types.Detection{ID: "d1"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := sub.Receive(ctx)
	require.False(t, ok)
}

func TestRedisBackplane_RoundTripsAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	publisher := New(zap.NewNop(), 4, client)
	subscriberInstance := New(zap.NewNop(), 4, client)
	sub := subscriberInstance.Subscribe("remote")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go subscriberInstance.RunRedisSubscriber(ctx)
	time.Sleep(50 * time.Millisecond) // let the subscribe land before publishing

	publisher.Publish(context.Background(), types.Detection{ID: "cross-instance"})

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer recvCancel()
	got, ok := sub.Receive(recvCtx)
	require.True(t, ok)
	require.Equal(t, "cross-instance", got.ID)
}
