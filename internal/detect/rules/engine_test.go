package rules_test

import (
	"testing"

	"github.com/jordigilh/apisentinel/internal/detect/rules"
	"github.com/jordigilh/apisentinel/internal/detect/types"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRuleEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Rule Engine Suite")
}

var _ = Describe("Rule Engine", func() {
	var engine *rules.Engine

	BeforeEach(func() {
		engine = rules.New(rules.DefaultThresholds)
	})

	Context("individual thresholds", func() {
		It("fires RATE_SPIKE above 15 req/s", func() {
			set := engine.Evaluate(types.FeatureVector{RequestRate: 15.1})
			Expect(set.Has(types.AlertRateSpike)).To(BeTrue())
		})

		It("does not fire RATE_SPIKE at exactly 15", func() {
			set := engine.Evaluate(types.FeatureVector{RequestRate: 15})
			Expect(set.Has(types.AlertRateSpike)).To(BeFalse())
		})

		It("fires ERROR_BURST above 0.5", func() {
			set := engine.Evaluate(types.FeatureVector{ErrorRate: 0.51})
			Expect(set.Has(types.AlertErrorBurst)).To(BeTrue())
		})

		It("fires BOT_PATTERN only when both conditions hold", func() {
			set := engine.Evaluate(types.FeatureVector{UserAgentEntropy: 0.4, RepeatedParameterRatio: 0.6})
			Expect(set.Has(types.AlertBotPattern)).To(BeTrue())

			set = engine.Evaluate(types.FeatureVector{UserAgentEntropy: 0.9, RepeatedParameterRatio: 0.6})
			Expect(set.Has(types.AlertBotPattern)).To(BeFalse())
		})

		It("fires LARGE_PAYLOAD above 5000 bytes", func() {
			set := engine.Evaluate(types.FeatureVector{AvgPayloadSize: 5001})
			Expect(set.Has(types.AlertLargePayload)).To(BeTrue())
		})

		It("fires ENDPOINT_SCAN above 8 unique endpoints", func() {
			set := engine.Evaluate(types.FeatureVector{UniqueEndpoints: 9})
			Expect(set.Has(types.AlertEndpointScan)).To(BeTrue())
		})
	})

	Context("rule_score", func() {
		It("is 0 when no alerts fire", func() {
			set := engine.Evaluate(types.FeatureVector{})
			Expect(set.RuleScore).To(Equal(0.0))
			Expect(set.Alerts).To(BeEmpty())
		})

		It("contributes 0.2 per fired alert", func() {
			set := engine.Evaluate(types.FeatureVector{RequestRate: 100, ErrorRate: 0.9})
			Expect(set.RuleScore).To(BeNumerically("~", 0.4, 1e-9))
		})

		It("caps at 1 even with all five alerts", func() {
			set := engine.Evaluate(types.FeatureVector{
				RequestRate: 100, ErrorRate: 0.9, UserAgentEntropy: 0, RepeatedParameterRatio: 1,
				AvgPayloadSize: 10000, UniqueEndpoints: 20,
			})
			Expect(set.RuleScore).To(Equal(1.0))
			Expect(set.Alerts).To(HaveLen(5))
		})
	})

	It("is order independent", func() {
		a := engine.Evaluate(types.FeatureVector{RequestRate: 100, ErrorRate: 0.9})
		b := engine.Evaluate(types.FeatureVector{ErrorRate: 0.9, RequestRate: 100})
		Expect(a).To(Equal(b))
	})
})
