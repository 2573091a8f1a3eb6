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

// Package bus implements the Event Bus (C12): a fan-out publisher that
// pushes every Detection to bounded per-subscriber queues and drains them
// onto WebSocket connections, with a Redis-backed backplane so more than
// one detector instance can share a single stream of detections.
package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jordigilh/apisentinel/internal/detect/types"
	"github.com/jordigilh/apisentinel/internal/metrics"
)

// DefaultQueueDepth is SUBSCRIBER_QUEUE_DEPTH's default (§6).
const DefaultQueueDepth = 256

const redisChannel = "apisentinel:detections"

// Subscriber is one bounded, FIFO delivery queue for a single consumer
// (a WebSocket connection). Oldest-drop-on-overflow keeps the publisher
// from ever blocking on a slow reader.
type Subscriber struct {
	id    string
	queue chan types.Detection
}

func newSubscriber(id string, depth int) *Subscriber {
	return &Subscriber{id: id, queue: make(chan types.Detection, depth)}
}

// Receive blocks until a detection is available or the context is done.
func (s *Subscriber) Receive(ctx context.Context) (types.Detection, bool) {
	select {
	case d := <-s.queue:
		return d, true
	case <-ctx.Done():
		return types.Detection{}, false
	}
}

func (s *Subscriber) deliver(d types.Detection, logger *zap.Logger) {
	select {
	case s.queue <- d:
		metrics.SetBusQueueDepth(s.id, len(s.queue))
		return
	default:
	}
	// Queue full: drop the oldest pending detection, then enqueue the new
	// one, so a slow subscriber always sees the most recent state. Every
	// eviction here is an observable drop (spec.md §4.12/§8 scenario 6).
	metrics.RecordBusDrop(s.id)
	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- d:
	default:
		logger.Warn("subscriber queue still full after eviction, dropping detection", zap.String("subscriber", s.id))
	}
	metrics.SetBusQueueDepth(s.id, len(s.queue))
}

// Bus fans out detections to local subscribers and, when a Redis client is
// configured, republishes them on a shared channel so every detector
// instance's subscribers see the same stream.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	queueDepth  int
	logger      *zap.Logger
	redis       *redis.Client
}

func New(logger *zap.Logger, queueDepth int, redisClient *redis.Client) *Bus {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		queueDepth:  queueDepth,
		logger:      logger,
		redis:       redisClient,
	}
}

// Subscribe registers a new subscriber and returns it. Callers must call
// Unsubscribe when the connection closes.
func (b *Bus) Subscribe(id string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := newSubscriber(id, b.queueDepth)
	b.subscribers[id] = sub
	return sub
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish fans a detection out to every local subscriber and, if Redis is
// configured, republishes it for other instances' subscribers.
func (b *Bus) Publish(ctx context.Context, d types.Detection) {
	b.publishLocal(d)

	if b.redis == nil {
		return
	}
	payload, err := json.Marshal(d)
	if err != nil {
		b.logger.Warn("marshal detection for redis publish failed", zap.Error(err))
		return
	}
	if err := b.redis.Publish(ctx, redisChannel, payload).Err(); err != nil {
		b.logger.Warn("redis publish failed", zap.Error(err))
	}
}

func (b *Bus) publishLocal(d types.Detection) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		sub.deliver(d, b.logger)
	}
}

// RunRedisSubscriber drains the shared Redis channel and republishes every
// message to local subscribers, until ctx is cancelled. Detections this
// instance itself published are delivered twice (once locally, once via
// the round trip); subscribers are expected to de-duplicate on detection
// ID if that matters to them.
func (b *Bus) RunRedisSubscriber(ctx context.Context) error {
	if b.redis == nil {
		return nil
	}
	pubsub := b.redis.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var d types.Detection
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				b.logger.Warn("unmarshal redis detection failed", zap.Error(err))
				continue
			}
			b.publishLocal(d)
		}
	}
}
