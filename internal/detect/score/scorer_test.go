package score_test

import (
	"testing"

	"github.com/jordigilh/apisentinel/internal/detect/score"
	"github.com/jordigilh/apisentinel/internal/detect/types"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestHybridScorer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Hybrid Scorer Suite")
}

var _ = Describe("Hybrid Scorer", func() {
	var scorer *score.Scorer

	BeforeEach(func() {
		scorer = score.New(score.DefaultWeights, score.DefaultBands)
	})

	It("combines all four terms with the canonical weights", func() {
		alerts := types.RuleAlertSet{RuleScore: 1.0}
		models := types.ModelScores{AnomalyScore: 1.0, FailureProbability: 1.0, NextWindowFailureProbability: 1.0}
		result := scorer.Score(alerts, models)
		Expect(result.RiskScore).To(BeNumerically("~", 1.0, 1e-9))
	})

	// B1 boundary behaviors.
	It("classifies exactly 0.75 as CRITICAL", func() {
		alerts := types.RuleAlertSet{RuleScore: 0.75}
		result := scorer.Score(alerts, types.ModelScores{
			AnomalyUnavailable: true, FailureUnavailable: true, NextWindowUnavailable: true,
		})
		Expect(result.RiskScore).To(BeNumerically("~", 0.75, 1e-9))
		Expect(result.Priority).To(Equal(types.PriorityCritical))
	})

	It("classifies exactly 0.55 as HIGH", func() {
		alerts := types.RuleAlertSet{RuleScore: 0.55}
		result := scorer.Score(alerts, types.ModelScores{
			AnomalyUnavailable: true, FailureUnavailable: true, NextWindowUnavailable: true,
		})
		Expect(result.Priority).To(Equal(types.PriorityHigh))
	})

	It("classifies exactly 0.35 as MEDIUM", func() {
		alerts := types.RuleAlertSet{RuleScore: 0.35}
		result := scorer.Score(alerts, types.ModelScores{
			AnomalyUnavailable: true, FailureUnavailable: true, NextWindowUnavailable: true,
		})
		Expect(result.Priority).To(Equal(types.PriorityMedium))
	})

	It("classifies below 0.35 as LOW", func() {
		result := scorer.Score(types.RuleAlertSet{}, types.ModelScores{
			AnomalyUnavailable: true, FailureUnavailable: true, NextWindowUnavailable: true,
		})
		Expect(result.Priority).To(Equal(types.PriorityLow))
	})

	// B3: with all submodels unavailable, risk_score reduces to rule_score.
	It("reduces to rule_score when all submodels are unavailable", func() {
		alerts := types.RuleAlertSet{RuleScore: 0.6}
		result := scorer.Score(alerts, types.ModelScores{
			AnomalyUnavailable: true, FailureUnavailable: true, NextWindowUnavailable: true,
		})
		Expect(result.RiskScore).To(BeNumerically("~", 0.6, 1e-9))
	})

	It("renormalizes remaining weights when one submodel is unavailable", func() {
		alerts := types.RuleAlertSet{RuleScore: 1.0}
		models := types.ModelScores{AnomalyUnavailable: true, FailureProbability: 1.0, NextWindowFailureProbability: 1.0}
		result := scorer.Score(alerts, models)
		// Remaining weights: rule 0.30, failure 0.30, next 0.15 -> sum 0.75; all inputs 1.0 -> risk 1.0.
		Expect(result.RiskScore).To(BeNumerically("~", 1.0, 1e-9))
	})

	It("marks is_anomaly true when priority is at least MEDIUM", func() {
		alerts := types.RuleAlertSet{RuleScore: 0.35}
		result := scorer.Score(alerts, types.ModelScores{
			AnomalyUnavailable: true, FailureUnavailable: true, NextWindowUnavailable: true,
		})
		Expect(result.IsAnomaly).To(BeTrue())
	})

	It("marks is_anomaly true on any fired alert even at LOW priority", func() {
		alerts := types.RuleAlertSet{Alerts: []types.RuleAlert{types.AlertRateSpike}, RuleScore: 0.2}
		result := scorer.Score(alerts, types.ModelScores{
			AnomalyUnavailable: true, FailureUnavailable: true, NextWindowUnavailable: true,
		})
		Expect(result.IsAnomaly).To(BeTrue())
	})

	It("marks is_anomaly false for LOW priority with no alerts", func() {
		result := scorer.Score(types.RuleAlertSet{}, types.ModelScores{
			AnomalyUnavailable: true, FailureUnavailable: true, NextWindowUnavailable: true,
		})
		Expect(result.IsAnomaly).To(BeFalse())
	})

	// P7 determinism.
	It("is deterministic for identical inputs", func() {
		alerts := types.RuleAlertSet{RuleScore: 0.4}
		models := types.ModelScores{AnomalyScore: 0.3, FailureProbability: 0.6, NextWindowFailureProbability: 0.2}
		a := scorer.Score(alerts, models)
		b := scorer.Score(alerts, models)
		Expect(a).To(Equal(b))
	})
})
