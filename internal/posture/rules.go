package posture

import (
	"gonum.org/v1/gonum/floats"
)

// Pressure-geometry thresholds for the rule tree (tuned on the reference
// hardware; a 1.5x side imbalance or 1.3x front/back imbalance is well past
// normal fidgeting).
const (
	// SideDominanceRatio is the left/right imbalance that marks a lean or
	// leg-cross posture.
	SideDominanceRatio = 1.5
	// FrontBackDominanceRatio is the front/back imbalance that marks a
	// forward or slouched posture.
	FrontBackDominanceRatio = 1.3
	// FrontCellSpikeRatio separates a turtle-neck spike on the front cells
	// from a plain forward head position.
	FrontCellSpikeRatio = 1.5

	// RuleConfidenceMin and RuleConfidenceMax bound every rule-tree
	// confidence.
	RuleConfidenceMin = 0.3
	RuleConfidenceMax = 0.95

	// ZeroPressureConfidence is returned for an empty seat.
	ZeroPressureConfidence = 0.5
)

// Cell index sets for front/back pressure. The seat lays out cells 0-4 on the
// left half and 5-10 on the right, front-most cells first within each half.
var (
	frontCells = []int{0, 1, 5, 6}
	backCells  = []int{3, 4, 8, 9}
)

// RuleClassifier is the deterministic fallback posture classifier. It holds no
// learned state and operates purely on pressure-vector geometry, so it always
// yields a usable answer when no scoring model is available.
type RuleClassifier struct{}

// NewRuleClassifier creates a RuleClassifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify maps an 11-cell pressure vector to a posture label and confidence.
// Rules are evaluated in fixed priority order: side dominance first, then
// back, then front, then balance.
func (rc *RuleClassifier) Classify(features []float64) (Label, float64) {
	features = NormalizeVector(features, PressureVectorLen)

	total := floats.Sum(features)
	if total == 0 {
		// Empty seat: report normal at the neutral confidence.
		return LabelNormal, ZeroPressureConfidence
	}

	left := floats.Sum(features[:5])
	right := floats.Sum(features[5:])
	front := sumAt(features, frontCells)
	back := sumAt(features, backCells)

	switch {
	case left > right*SideDominanceRatio:
		if front > back {
			return LabelLeftLegCross, dominanceConfidence(left, right)
		}
		return LabelLeanLeft, dominanceConfidence(left, right)

	case right > left*SideDominanceRatio:
		if front > back {
			return LabelRightLegCross, dominanceConfidence(right, left)
		}
		return LabelLeanRight, dominanceConfidence(right, left)

	case back > front*FrontBackDominanceRatio:
		return LabelSlouching, dominanceConfidence(back, front)

	case front > back*FrontBackDominanceRatio:
		mean := total / PressureVectorLen
		if floats.Max(features[:3]) > mean*FrontCellSpikeRatio {
			return LabelTurtleNeck, dominanceConfidence(front, back)
		}
		return LabelNeckDown, dominanceConfidence(front, back)

	default:
		balance := 1 - abs(left-right)/total
		return LabelNormal, clampConfidence(0.3+balance, RuleConfidenceMin, RuleConfidenceMax)
	}
}

// dominanceConfidence scales confidence with how far past the threshold the
// dominant side is. A ratio barely above threshold lands near 0.6; a strongly
// one-sided vector saturates at the cap.
func dominanceConfidence(dominant, weaker float64) float64 {
	return clampConfidence(0.6+0.5*(dominant/weaker-1), RuleConfidenceMin, RuleConfidenceMax)
}

func sumAt(v []float64, idx []int) float64 {
	var s float64
	for _, i := range idx {
		s += v[i]
	}
	return s
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
