package posture

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// PointPredictor is the minimum capability a scoring model must provide: map
// a feature vector to a single label.
type PointPredictor interface {
	Predict(features []float64) (Label, error)
}

// ProbabilisticPredictor additionally exposes a full per-class probability
// distribution. Whether a model supports it is decided once at load time; the
// voting loop branches on the interface, never on runtime introspection.
type ProbabilisticPredictor interface {
	PointPredictor
	PredictProbabilities(features []float64) ([]float64, error)
}

// Model pairs a loaded predictor with its ensemble voting weight. Immutable
// after load and safe for concurrent use: prediction never mutates state.
type Model struct {
	Name      string
	Weight    float64
	Predictor PointPredictor
}

// modelWeights is the fixed per-model vote weight table. Unknown model names
// vote at weight 1.0.
var modelWeights = map[string]float64{
	"lr": 1.2, // logistic regression, well calibrated probabilities
	"rf": 1.5, // random forest, strongest single model on held-out data
	"dt": 0.8, // decision tree, weakest but cheap diversity
	"kn": 1.0, // nearest-neighbour point predictor
}

// weightFor returns the voting weight for a model name.
func weightFor(name string) float64 {
	if w, ok := modelWeights[name]; ok {
		return w
	}
	return 1.0
}

// StandardScaler is the shared per-stage normalization transform: subtract
// the training mean and divide by the training scale, element-wise.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform returns the standardized copy of features. Scale entries of zero
// pass the centred value through unchanged rather than dividing by zero.
func (s *StandardScaler) Transform(features []float64) []float64 {
	out := make([]float64, len(features))
	for i, v := range features {
		m, sc := 0.0, 1.0
		if i < len(s.Mean) {
			m = s.Mean[i]
		}
		if i < len(s.Scale) && s.Scale[i] != 0 {
			sc = s.Scale[i]
		}
		out[i] = (v - m) / sc
	}
	return out
}

// linearModel is a multinomial linear scorer: per-class dot products plus
// intercepts, softmaxed into probabilities. Loaded from exported logistic
// regression weights.
type linearModel struct {
	coefficients [][]float64
	intercepts   []float64
}

func (m *linearModel) scores(features []float64) ([]float64, error) {
	if len(m.coefficients) == 0 {
		return nil, fmt.Errorf("linear model has no coefficients")
	}
	scores := make([]float64, len(m.coefficients))
	for class, row := range m.coefficients {
		if len(row) != len(features) {
			return nil, fmt.Errorf("class %d expects %d features, got %d", class, len(row), len(features))
		}
		scores[class] = floats.Dot(row, features)
		if class < len(m.intercepts) {
			scores[class] += m.intercepts[class]
		}
	}
	return scores, nil
}

func (m *linearModel) Predict(features []float64) (Label, error) {
	scores, err := m.scores(features)
	if err != nil {
		return 0, err
	}
	return Label(floats.MaxIdx(scores)), nil
}

func (m *linearModel) PredictProbabilities(features []float64) ([]float64, error) {
	scores, err := m.scores(features)
	if err != nil {
		return nil, err
	}
	// Softmax, shifted by the max score for numeric stability.
	max := floats.Max(scores)
	var sum float64
	probs := make([]float64, len(scores))
	for i, s := range scores {
		probs[i] = math.Exp(s - max)
		sum += probs[i]
	}
	floats.Scale(1/sum, probs)
	return probs, nil
}

// centroidModel classifies by nearest class centroid. Point prediction only:
// distances do not calibrate into probabilities, so it votes with its full
// weight on a single class.
type centroidModel struct {
	centroids [][]float64
}

func (m *centroidModel) Predict(features []float64) (Label, error) {
	if len(m.centroids) == 0 {
		return 0, fmt.Errorf("centroid model has no centroids")
	}
	best, bestDist := 0, math.Inf(1)
	for class, c := range m.centroids {
		if len(c) != len(features) {
			return 0, fmt.Errorf("class %d centroid expects %d features, got %d", class, len(c), len(features))
		}
		d := floats.Distance(c, features, 2)
		if d < bestDist {
			best, bestDist = class, d
		}
	}
	return Label(best), nil
}
