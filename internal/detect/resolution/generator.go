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

// Package resolution implements the Resolution Generator (C8): a fixed,
// deterministic lookup from root_cause to a priority-ranked list of
// remediation actions; the Detection's priority does not change the list. Suggestions only — nothing here executes an
// action (spec.md §1 Non-goals).
package resolution

import (
	"sort"

	"github.com/jordigilh/apisentinel/internal/detect/types"
)

// catalogue is the baseline catalogue (§4.8), at least 4 items per root
// cause, in their published order.
var catalogue = map[types.RootCause][]types.ResolutionItem{
	types.RootCauseLatencyBottleneck: {
		{Category: "Caching", Action: "Add read-through cache", Detail: "Front the slow dependency with a read-through cache to cut average response time.", Priority: types.PriorityHigh},
		{Category: "Concurrency", Action: "Enable async I/O", Detail: "Move blocking calls off the request path onto async I/O to reduce tail latency.", Priority: types.PriorityHigh},
		{Category: "Database", Action: "Tune DB indexes", Detail: "Review query plans and add missing indexes on the hot query paths.", Priority: types.PriorityMedium},
		{Category: "Concurrency", Action: "Raise worker concurrency", Detail: "Increase the worker pool size to reduce queueing delay under load.", Priority: types.PriorityMedium},
	},
	types.RootCauseBackendInstability: {
		{Category: "Debugging", Action: "Inspect traces", Detail: "Pull distributed traces for the failing window to find the failing hop.", Priority: types.PriorityCritical},
		{Category: "Resilience", Action: "Enable circuit breaker", Detail: "Wrap the unstable dependency in a circuit breaker to stop cascading failures.", Priority: types.PriorityHigh},
		{Category: "Deployment", Action: "Rollback last deploy", Detail: "Roll back the most recent deployment touching this route if errors started after it.", Priority: types.PriorityHigh},
		{Category: "Resilience", Action: "Isolate failing dependency", Detail: "Bulkhead the failing dependency so its errors cannot starve unrelated requests.", Priority: types.PriorityMedium},
	},
	types.RootCauseTrafficSurge: {
		{Category: "Rate limiting", Action: "Token-bucket rate limit", Detail: "Apply a token-bucket limiter on the affected route to shed excess load.", Priority: types.PriorityCritical},
		{Category: "Scaling", Action: "Autoscale", Detail: "Trigger horizontal autoscaling for the service handling this route.", Priority: types.PriorityHigh},
		{Category: "Caching", Action: "Cache idempotent responses", Detail: "Cache idempotent GET responses to absorb repeated reads.", Priority: types.PriorityMedium},
		{Category: "Caching", Action: "Enable edge caching", Detail: "Push cacheable responses to the edge/CDN layer.", Priority: types.PriorityMedium},
	},
	types.RootCauseAbuseOrBot: {
		{Category: "Rate limiting", Action: "Adaptive rate limits", Detail: "Tighten rate limits adaptively for clients matching the bot signature.", Priority: types.PriorityCritical},
		{Category: "Network", Action: "IP reputation filter", Detail: "Filter or challenge requests from IPs with poor reputation scores.", Priority: types.PriorityHigh},
		{Category: "Auth", Action: "Auth throttling + challenge", Detail: "Add a throttle and a human challenge (captcha/MFA) on the auth path.", Priority: types.PriorityHigh},
		{Category: "WAF", Action: "WAF rules", Detail: "Add WAF rules matching the observed parameter-repetition signature.", Priority: types.PriorityMedium},
	},
	types.RootCauseSystemOverload: {
		{Category: "Scaling", Action: "Horizontal scale", Detail: "Scale out the affected service across more instances immediately.", Priority: types.PriorityCritical},
		{Category: "Backpressure", Action: "Request queue with backpressure", Detail: "Put a bounded queue in front of the service and reject past capacity.", Priority: types.PriorityHigh},
		{Category: "Resilience", Action: "Graceful degradation", Detail: "Serve a reduced-functionality response rather than failing outright.", Priority: types.PriorityHigh},
		{Category: "Payload", Action: "Payload minimisation", Detail: "Trim response payloads to reduce per-request cost while overloaded.", Priority: types.PriorityMedium},
	},
}

// rootCauseForCondition maps a contributing condition name back to the
// root-cause bucket whose items get merged into a SYSTEM_OVERLOAD
// resolution list (§4.8: "items from contributing roots are appended").
var rootCauseForCondition = map[string]types.RootCause{
	"latency_bottleneck":  types.RootCauseLatencyBottleneck,
	"backend_instability": types.RootCauseBackendInstability,
	"traffic_surge":       types.RootCauseTrafficSurge,
	"abuse_or_bot":        types.RootCauseAbuseOrBot,
}

// Generate produces the priority-ranked resolution list for one
// (root_cause, contributing_conditions) pair. priority is currently unused
// for item selection (the catalogue is keyed by root cause alone) but is
// accepted to keep the contract stable if a priority-scoped catalogue
// variant is introduced later.
func Generate(rootCause types.RootCause, contributingConditions []string, _ types.Priority) []types.ResolutionItem {
	items := append([]types.ResolutionItem(nil), catalogue[rootCause]...)

	if rootCause == types.RootCauseSystemOverload {
		for _, cond := range contributingConditions {
			rc, ok := rootCauseForCondition[cond]
			if !ok {
				continue
			}
			items = appendDeduplicated(items, catalogue[rc])
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return types.PriorityRank(items[i].Priority) < types.PriorityRank(items[j].Priority)
	})

	return items
}

func appendDeduplicated(items []types.ResolutionItem, toAdd []types.ResolutionItem) []types.ResolutionItem {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		seen[it.Category+"|"+it.Action] = struct{}{}
	}
	for _, it := range toAdd {
		key := it.Category + "|" + it.Action
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		items = append(items, it)
	}
	return items
}
