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

// Package notifier implements a supplemental Event Bus subscriber that
// posts a Slack message for every CRITICAL-priority Detection. It is
// additive: Slack delivery failures never affect scoring, persistence, or
// any other subscriber (§4.12 "Producers are never blocked").
package notifier

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/jordigilh/apisentinel/internal/bus"
	"github.com/jordigilh/apisentinel/internal/detect/types"
)

// SlackNotifier subscribes to the Event Bus and posts a message for every
// CRITICAL detection.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

func NewSlackNotifier(token, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel, logger: logger}
}

// Run subscribes to b and posts a Slack message for every CRITICAL
// detection until ctx is cancelled.
func (n *SlackNotifier) Run(ctx context.Context, b *bus.Bus) {
	sub := b.Subscribe("slack-notifier")
	defer b.Unsubscribe("slack-notifier")

	for {
		d, ok := sub.Receive(ctx)
		if !ok {
			return
		}
		if !shouldNotify(d) {
			continue
		}
		n.post(d)
	}
}

func (n *SlackNotifier) post(d types.Detection) {
	text := fmt.Sprintf(
		"*CRITICAL detection* on `%s` (%s)\nroot cause: *%s* (risk %.2f)\n%s",
		d.Source, d.Mode, d.RootCause, d.RiskScore, firstResolutionSummary(d),
	)

	_, _, err := n.client.PostMessage(n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Warn("slack notification failed", zap.String("detection_id", d.ID), zap.Error(err))
	}
}

func shouldNotify(d types.Detection) bool {
	return d.Priority == types.PriorityCritical
}

func firstResolutionSummary(d types.Detection) string {
	if len(d.Resolutions) == 0 {
		return "no resolution available"
	}
	return fmt.Sprintf("suggested: %s — %s", d.Resolutions[0].Action, d.Resolutions[0].Detail)
}
