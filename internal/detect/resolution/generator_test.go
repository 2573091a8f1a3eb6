package resolution_test

import (
	"testing"

	"github.com/jordigilh/apisentinel/internal/detect/resolution"
	"github.com/jordigilh/apisentinel/internal/detect/types"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestResolutionGenerator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Resolution Generator Suite")
}

var _ = Describe("Resolution Generator", func() {
	It("carries at least four items for each named root cause", func() {
		for _, rc := range []types.RootCause{
			types.RootCauseLatencyBottleneck, types.RootCauseBackendInstability,
			types.RootCauseTrafficSurge, types.RootCauseAbuseOrBot, types.RootCauseSystemOverload,
		} {
			items := resolution.Generate(rc, nil, types.PriorityHigh)
			Expect(len(items)).To(BeNumerically(">=", 4), "root cause %s", rc)
		}
	})

	// ERROR_BURST scenario: first resolution CRITICAL category=Debugging.
	It("puts the CRITICAL Debugging item first for backend instability", func() {
		items := resolution.Generate(types.RootCauseBackendInstability, nil, types.PriorityHigh)
		Expect(items[0].Category).To(Equal("Debugging"))
		Expect(items[0].Priority).To(Equal(types.PriorityCritical))
	})

	It("sorts merged items by priority rank after a SYSTEM_OVERLOAD merge", func() {
		items := resolution.Generate(types.RootCauseSystemOverload, []string{"backend_instability", "traffic_surge"}, types.PriorityCritical)
		for i := 1; i < len(items); i++ {
			Expect(types.PriorityRank(items[i-1].Priority)).To(BeNumerically("<=", types.PriorityRank(items[i].Priority)))
		}
	})

	It("deduplicates merged items by (category, action), keeping first occurrence", func() {
		items := resolution.Generate(types.RootCauseSystemOverload, []string{"traffic_surge", "abuse_or_bot"}, types.PriorityCritical)
		seen := map[string]int{}
		for _, it := range items {
			seen[it.Category+"|"+it.Action]++
		}
		for key, count := range seen {
			Expect(count).To(Equal(1), "duplicate item %s", key)
		}
	})

	It("is deterministic for the same inputs", func() {
		a := resolution.Generate(types.RootCauseTrafficSurge, nil, types.PriorityHigh)
		b := resolution.Generate(types.RootCauseTrafficSurge, nil, types.PriorityHigh)
		Expect(a).To(Equal(b))
	})

	It("returns no items for NONE", func() {
		items := resolution.Generate(types.RootCauseNone, nil, types.PriorityLow)
		Expect(items).To(BeEmpty())
	})
})
