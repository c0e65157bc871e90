package posture

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitsense/posture.report/internal/monitoring"
)

// fixedProbs always answers with the same distribution.
type fixedProbs struct {
	probs []float64
}

func (f *fixedProbs) Predict([]float64) (Label, error) {
	best, bestP := 0, -1.0
	for i, p := range f.probs {
		if p > bestP {
			best, bestP = i, p
		}
	}
	return Label(best), nil
}

func (f *fixedProbs) PredictProbabilities([]float64) ([]float64, error) {
	return f.probs, nil
}

// fixedPoint always answers with the same label, no distribution.
type fixedPoint struct {
	label Label
}

func (f *fixedPoint) Predict([]float64) (Label, error) { return f.label, nil }

// failing always errors.
type failing struct{}

func (failing) Predict([]float64) (Label, error) { return 0, errors.New("boom") }

// panicking blows up on every call.
type panicking struct{}

func (panicking) Predict([]float64) (Label, error) { panic("model gone wrong") }

func probsFor(label Label, p float64) []float64 {
	probs := make([]float64, NumLabels)
	rest := (1 - p) / float64(NumLabels-1)
	for i := range probs {
		probs[i] = rest
	}
	probs[label] = p
	return probs
}

func pressureFrame() *SensorFrame {
	return &SensorFrame{
		MessageID: 1,
		Pressure:  []float64{489, 625, 512, 530, 498, 470, 605, 520, 515, 505, 490},
	}
}

func imuFrame() *SensorFrame {
	f := pressureFrame()
	f.IMU = &IMUSample{Accel: [3]float64{0.1, 0.2, 9.8}, Gyro: [3]float64{0, 0, 0}}
	return f
}

func TestClassifyWeightedVote(t *testing.T) {
	// rf (weight 1.5) says slouching, lr (1.2) says normal: slouching wins.
	e := NewEnsemble([]*Model{
		{Name: "lr", Weight: 1.2, Predictor: &fixedProbs{probsFor(LabelNormal, 0.9)}},
		{Name: "rf", Weight: 1.5, Predictor: &fixedProbs{probsFor(LabelSlouching, 0.95)}},
	}, nil, nil, nil)

	result := e.Classify(pressureFrame())
	assert.Equal(t, LabelSlouching, result.Label)
	assert.Equal(t, MethodEnsembleStage1, result.Method)
	require.Len(t, result.ModelBreakdown, 2)
	assert.Len(t, result.VotingScores, NumLabels)
	assert.GreaterOrEqual(t, result.Confidence, EnsembleConfidenceMin)
	assert.LessOrEqual(t, result.Confidence, EnsembleConfidenceMax)
	assert.Greater(t, result.ProcessingTime.Nanoseconds(), int64(0))
}

func TestClassifyPointModelVotesFullWeight(t *testing.T) {
	// A lone point model puts its whole weight on one class.
	e := NewEnsemble([]*Model{
		{Name: "kn", Weight: 1.0, Predictor: &fixedPoint{LabelLeanLeft}},
	}, nil, nil, nil)

	result := e.Classify(pressureFrame())
	assert.Equal(t, LabelLeanLeft, result.Label)
	assert.Equal(t, MethodEnsembleStage1, result.Method)
	require.Len(t, result.ModelBreakdown, 1)
	assert.False(t, result.ModelBreakdown[0].Probabilistic)
	assert.Equal(t, PointVoteConfidence, result.ModelBreakdown[0].Confidence)
}

func TestClassifySkipsFailingModels(t *testing.T) {
	restore := monitoring.Mute()
	defer restore()

	e := NewEnsemble([]*Model{
		{Name: "dt", Weight: 0.8, Predictor: failing{}},
		{Name: "kn", Weight: 1.0, Predictor: panicking{}},
		{Name: "rf", Weight: 1.5, Predictor: &fixedPoint{LabelNeckDown}},
	}, nil, nil, nil)

	result := e.Classify(pressureFrame())
	assert.Equal(t, LabelNeckDown, result.Label)
	// Only the surviving model appears in the breakdown.
	require.Len(t, result.ModelBreakdown, 1)
	assert.Equal(t, "rf", result.ModelBreakdown[0].Model)
}

func TestClassifyAllModelsFailFallsBackToRules(t *testing.T) {
	restore := monitoring.Mute()
	defer restore()

	e := NewEnsemble([]*Model{
		{Name: "dt", Weight: 0.8, Predictor: failing{}},
	}, nil, nil, nil)

	result := e.Classify(pressureFrame())
	assert.Equal(t, MethodRuleBased, result.Method)
	assert.Equal(t, LabelNormal, result.Label)
}

func TestVoteDegenerateScoresUseMajority(t *testing.T) {
	restore := monitoring.Mute()
	defer restore()

	// All-zero probability vectors leave the score accumulator empty while
	// votes exist: unweighted majority at the fixed confidence.
	zero := make([]float64, NumLabels)
	e := NewEnsemble(nil, nil, nil, nil)
	result, ok := e.vote(1, []*Model{
		{Name: "a", Weight: 1, Predictor: &fixedProbs{zero}},
		{Name: "b", Weight: 1, Predictor: &fixedProbs{zero}},
	}, nil, make([]float64, PressureVectorLen))

	require.True(t, ok)
	assert.Equal(t, MajorityVoteConfidence, result.Confidence)
	assert.True(t, result.Label.Valid())
}

func TestMajorityLabel(t *testing.T) {
	assert.Equal(t, LabelNormal, majorityLabel(nil))
	assert.Equal(t, LabelSlouching,
		majorityLabel([]Label{LabelSlouching, LabelNormal, LabelSlouching}))
	// Ties go to the lowest label.
	assert.Equal(t, LabelTurtleNeck,
		majorityLabel([]Label{LabelNeckDown, LabelTurtleNeck}))
}

func TestStage2RequiresAmbiguousLabelAndIMU(t *testing.T) {
	stage1 := []*Model{
		{Name: "rf", Weight: 1.5, Predictor: &fixedProbs{probsFor(LabelNormal, 0.9)}},
	}
	stage2 := []*Model{
		{Name: "lr", Weight: 1.2, Predictor: &fixedProbs{probsFor(LabelNeckDown, 0.9)}},
	}
	e := NewEnsemble(stage1, stage2, nil, nil)

	// No IMU: stage 2 never runs.
	result := e.Classify(pressureFrame())
	assert.Equal(t, LabelNormal, result.Label)
	assert.Equal(t, MethodEnsembleStage1, result.Method)
	assert.Len(t, result.ModelBreakdown, 1)

	// IMU present and stage-1 label ambiguous: stage 2 overrides.
	result = e.Classify(imuFrame())
	assert.Equal(t, LabelNeckDown, result.Label)
	assert.Equal(t, MethodEnsembleStage1Plus2, result.Method)
	assert.Len(t, result.ModelBreakdown, 2)

	// A non-ambiguous stage-1 label skips the cascade even with IMU data.
	confident := NewEnsemble([]*Model{
		{Name: "rf", Weight: 1.5, Predictor: &fixedProbs{probsFor(LabelLeanRight, 0.9)}},
	}, stage2, nil, nil)
	result = confident.Classify(imuFrame())
	assert.Equal(t, LabelLeanRight, result.Label)
	assert.Equal(t, MethodEnsembleStage1, result.Method)
}

func TestStage2OverrideIsAsymmetric(t *testing.T) {
	stage1 := []*Model{
		{Name: "rf", Weight: 1.5, Predictor: &fixedProbs{probsFor(LabelTurtleNeck, 0.9)}},
	}

	// Stage 2 answering "normal" never overrides stage 1.
	e := NewEnsemble(stage1, []*Model{
		{Name: "lr", Weight: 1.2, Predictor: &fixedProbs{probsFor(LabelNormal, 0.99)}},
	}, nil, nil)
	result := e.Classify(imuFrame())
	assert.Equal(t, LabelTurtleNeck, result.Label)
	assert.Equal(t, MethodEnsembleStage1, result.Method)
	// The stage-2 votes still show up in the breakdown.
	assert.Len(t, result.ModelBreakdown, 2)

	// A low-confidence stage-2 opinion is recorded but not applied.
	e = NewEnsemble(stage1, []*Model{
		{Name: "kn", Weight: 1.0, Predictor: &fixedProbs{probsFor(LabelNeckDown, 0.3)}},
	}, nil, nil)
	result = e.Classify(imuFrame())
	assert.Equal(t, LabelTurtleNeck, result.Label)
	assert.Equal(t, MethodEnsembleStage1, result.Method)
}

func TestStage2AllFailKeepsStage1(t *testing.T) {
	restore := monitoring.Mute()
	defer restore()

	e := NewEnsemble([]*Model{
		{Name: "rf", Weight: 1.5, Predictor: &fixedProbs{probsFor(LabelNormal, 0.9)}},
	}, []*Model{
		{Name: "lr", Weight: 1.2, Predictor: failing{}},
	}, nil, nil)

	result := e.Classify(imuFrame())
	assert.Equal(t, LabelNormal, result.Label)
	assert.Equal(t, MethodEnsembleStage1, result.Method)
}

func TestClassifyIgnoresIMUWithoutStage2Models(t *testing.T) {
	e := NewEnsemble(nil, nil, nil, nil)
	withIMU := e.Classify(imuFrame())
	withoutIMU := e.Classify(pressureFrame())
	assert.Equal(t, withoutIMU.Label, withIMU.Label)
	assert.Equal(t, withoutIMU.Method, withIMU.Method)
}

func TestRandomResultBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := randomResult()
		assert.True(t, r.Label.Valid())
		assert.GreaterOrEqual(t, r.Confidence, 0.4)
		assert.LessOrEqual(t, r.Confidence, 0.8)
		assert.Equal(t, MethodRandomFallback, r.Method)
	}
}

func TestClassifyScalerApplied(t *testing.T) {
	// A scaler that zeroes every feature pushes the linear model to the class
	// with the largest intercept.
	scaler := &StandardScaler{
		Mean:  []float64{500, 500, 500, 500, 500, 500, 500, 500, 500, 500, 500},
		Scale: []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	}
	coeffs := make([][]float64, NumLabels)
	intercepts := make([]float64, NumLabels)
	for i := range coeffs {
		coeffs[i] = make([]float64, PressureVectorLen)
	}
	intercepts[LabelLeanLeft] = 5

	e := NewEnsemble([]*Model{
		{Name: "lr", Weight: 1.2, Predictor: &linearModel{coefficients: coeffs, intercepts: intercepts}},
	}, nil, scaler, nil)

	result := e.Classify(&SensorFrame{
		Pressure: []float64{500, 500, 500, 500, 500, 500, 500, 500, 500, 500, 500},
	})
	assert.Equal(t, LabelLeanLeft, result.Label)
}
