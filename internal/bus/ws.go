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

package bus

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jordigilh/apisentinel/internal/detect/types"
)

const writeTimeout = 5 * time.Second
const pingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is the event bus transport's framed message shape (§6: `{"type":
// "detection", "data": <Detection>}`; optional control pings share the same
// envelope with an empty data field).
type frame struct {
	Type string           `json:"type"`
	Data *types.Detection `json:"data,omitempty"`
}

// ServeWS upgrades an HTTP request to a WebSocket connection, registers a
// subscriber on the bus, and streams framed detections to it until the
// connection closes. The detector never depends on subscriber liveness: a
// write failure just tears down this one connection (§6).
func (b *Bus) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	sub := b.Subscribe(id)
	defer b.Unsubscribe(id)

	ctx := r.Context()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(frame{Type: "ping"}); err != nil {
				b.logger.Debug("websocket ping failed, closing", zap.String("subscriber", id), zap.Error(err))
				return
			}
		case d := <-sub.queue:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(frame{Type: "detection", Data: &d}); err != nil {
				b.logger.Debug("websocket write failed, closing", zap.String("subscriber", id), zap.Error(err))
				return
			}
		}
	}
}
