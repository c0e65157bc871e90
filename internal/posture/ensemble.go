package posture

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/sitsense/posture.report/internal/monitoring"
)

// Ensemble voting policy constants. The override threshold is a fixed policy
// value carried over from the reference system, not a derived quantity.
const (
	// PointVoteConfidence is the flat confidence attributed to a model that
	// votes without a probability distribution.
	PointVoteConfidence = 0.7
	// MajorityVoteConfidence is used when the weighted scores degenerate to
	// all zeros and the label comes from a raw majority vote.
	MajorityVoteConfidence = 0.6
	// Stage2OverrideConfidence is the minimum stage-2 confidence required to
	// override a stage-1 decision.
	Stage2OverrideConfidence = 0.6
	// EnsembleConfidenceMin and EnsembleConfidenceMax bound the final
	// ensemble confidence.
	EnsembleConfidenceMin = 0.3
	EnsembleConfidenceMax = 0.95
)

// stage2Ambiguous is the stage-1 label set that triggers the inertial
// refinement cascade: the two postures the pressure channel confuses most.
var stage2Ambiguous = map[Label]bool{
	LabelNormal:     true,
	LabelTurtleNeck: true,
}

// Ensemble is the two-stage cascaded posture classifier. Stage 1 votes over
// the pressure vector; stage 2 conditionally refines ambiguous stage-1
// decisions using the inertial vector. All fields are immutable after
// construction, so one Ensemble is safely shared across every connection.
type Ensemble struct {
	stage1Models []*Model
	stage2Models []*Model
	stage1Scaler *StandardScaler
	stage2Scaler *StandardScaler
	rules        *RuleClassifier
}

// NewEnsemble builds an Ensemble from already-loaded models. Either stage may
// be empty; stage 1 then falls back to the rule classifier and stage 2 becomes
// a no-op.
func NewEnsemble(stage1, stage2 []*Model, stage1Scaler, stage2Scaler *StandardScaler) *Ensemble {
	return &Ensemble{
		stage1Models: stage1,
		stage2Models: stage2,
		stage1Scaler: stage1Scaler,
		stage2Scaler: stage2Scaler,
		rules:        NewRuleClassifier(),
	}
}

// LoadEnsemble loads both stages from modelDir (stage1/ and stage2/
// subdirectories). Every load failure is per-model and non-fatal: a system
// with no loadable models still classifies via the rule tree.
func LoadEnsemble(modelDir string) *Ensemble {
	return LoadEnsembleWeighted(modelDir, nil)
}

// LoadEnsembleWeighted is LoadEnsemble with per-model vote weight overrides
// applied to both stages.
func LoadEnsembleWeighted(modelDir string, weights map[string]float64) *Ensemble {
	stage1Dir := filepath.Join(modelDir, "stage1")
	stage2Dir := filepath.Join(modelDir, "stage2")

	stage1Scaler, err := LoadScaler(stage1Dir)
	if err != nil {
		monitoring.Logf("stage 1 scaler unavailable: %v", err)
	}
	stage2Scaler, err := LoadScaler(stage2Dir)
	if err != nil {
		monitoring.Logf("stage 2 scaler unavailable: %v", err)
	}

	return NewEnsemble(
		LoadModelsWeighted(stage1Dir, weights),
		LoadModelsWeighted(stage2Dir, weights),
		stage1Scaler, stage2Scaler,
	)
}

// Classify runs the full cascade for one sensor frame. It never fails the
// caller: if both the ensemble and the rule tree blow up, the result is a
// uniformly random label tagged MethodRandomFallback so the degraded mode is
// visible in the log.
func (e *Ensemble) Classify(frame *SensorFrame) (result ClassificationResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("classification panic, returning random fallback: %v", r)
			result = randomResult()
		}
		result.ProcessingTime = time.Since(start)
	}()

	features := NormalizeVector(frame.Pressure, PressureVectorLen)
	result = e.PredictStage1(features)

	if e.shouldRefine(result, frame) {
		result = e.refineWithStage2(result, frame.IMU.Vector())
	}
	return result
}

// PredictStage1 produces the pressure-only decision: a weighted vote over the
// stage-1 models, or the rule tree when no model is loaded or every model
// fails.
func (e *Ensemble) PredictStage1(features []float64) ClassificationResult {
	if len(e.stage1Models) > 0 {
		if result, ok := e.vote(1, e.stage1Models, e.stage1Scaler, features); ok {
			result.Method = MethodEnsembleStage1
			return result
		}
		monitoring.Logf("all stage 1 models failed, using rule classifier")
	}
	label, confidence := e.rules.Classify(features)
	return ClassificationResult{
		Label:      label,
		Confidence: confidence,
		Method:     MethodRuleBased,
	}
}

// PredictStage2 produces the inertial refinement decision over a 6-value
// feature vector. ok is false when no stage-2 model produced a vote.
func (e *Ensemble) PredictStage2(inertial []float64) (ClassificationResult, bool) {
	if len(e.stage2Models) == 0 {
		return ClassificationResult{}, false
	}
	return e.vote(2, e.stage2Models, e.stage2Scaler, NormalizeVector(inertial, InertialVectorLen))
}

// shouldRefine reports whether the cascade fires: ambiguous stage-1 label,
// inertial data supplied, and at least one stage-2 model loaded. Absence of
// any of these is a normal no-op, not an error.
func (e *Ensemble) shouldRefine(stage1 ClassificationResult, frame *SensorFrame) bool {
	return stage2Ambiguous[stage1.Label] && frame.IMU != nil && len(e.stage2Models) > 0
}

// refineWithStage2 applies the asymmetric override rule: stage 2 replaces the
// stage-1 decision only when it moves away from normal with confidence above
// the threshold. A stage-2 "normal" can never reinforce or restore stage 1 --
// the inertial channel is low-signal, and letting it flip results both ways
// causes label flapping. Either way the stage-2 votes are merged into the
// breakdown for observability.
func (e *Ensemble) refineWithStage2(stage1 ClassificationResult, inertial []float64) ClassificationResult {
	stage2, ok := e.PredictStage2(inertial)
	if !ok {
		monitoring.Logf("stage 2 produced no votes, keeping stage 1 result")
		return stage1
	}

	merged := stage1
	merged.ModelBreakdown = append(merged.ModelBreakdown, stage2.ModelBreakdown...)

	if stage2.Label != LabelNormal && stage2.Confidence > Stage2OverrideConfidence {
		merged.Label = stage2.Label
		merged.Confidence = stage2.Confidence
		merged.Method = MethodEnsembleStage1Plus2
	}
	return merged
}

// vote runs the weighted ensemble vote for one stage. ok is false when no
// model produced a usable vote (the caller decides the fallback).
func (e *Ensemble) vote(stage int, models []*Model, scaler *StandardScaler, features []float64) (ClassificationResult, bool) {
	scaled := features
	if scaler != nil {
		scaled = scaler.Transform(features)
	} else {
		monitoring.Logf("stage %d has no scaler, voting on raw features", stage)
	}

	scores := make([]float64, NumLabels)
	var breakdown []ModelVote
	var rawVotes []Label

	for _, m := range models {
		label, probs, err := predictOne(m, scaled)
		if err != nil {
			// Partial failure tolerance: one broken model costs one vote.
			monitoring.Logf("stage %d model %s skipped: %v", stage, m.Name, err)
			continue
		}

		confidence := PointVoteConfidence
		if probs != nil {
			for i := 0; i < NumLabels && i < len(probs); i++ {
				scores[i] += m.Weight * probs[i]
			}
			confidence = floats.Max(probs)
		} else if label.Valid() {
			scores[label] += m.Weight
		}

		rawVotes = append(rawVotes, label)
		breakdown = append(breakdown, ModelVote{
			Model:         m.Name,
			Stage:         stage,
			Label:         label,
			Confidence:    confidence,
			Probabilistic: probs != nil,
		})
	}

	if len(rawVotes) == 0 {
		return ClassificationResult{}, false
	}

	result := ClassificationResult{
		VotingScores:   scores,
		ModelBreakdown: breakdown,
	}

	sum := floats.Sum(scores)
	if sum == 0 {
		// Degenerate vote: fall back to an unweighted majority of the raw
		// per-model predictions.
		result.Label = majorityLabel(rawVotes)
		result.Confidence = MajorityVoteConfidence
		return result, true
	}

	winner := floats.MaxIdx(scores)
	result.Label = Label(winner)
	result.Confidence = clampConfidence(scores[winner]/sum, EnsembleConfidenceMin, EnsembleConfidenceMax)
	return result, true
}

// predictOne invokes a single model, converting panics into errors so one
// misbehaving model cannot take down the vote. Probabilistic models return
// their full distribution; point models return probs == nil.
func predictOne(m *Model, features []float64) (label Label, probs []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()

	if pp, ok := m.Predictor.(ProbabilisticPredictor); ok {
		probs, err = pp.PredictProbabilities(features)
		if err != nil {
			return 0, nil, err
		}
		return Label(floats.MaxIdx(probs)), probs, nil
	}

	label, err = m.Predictor.Predict(features)
	return label, nil, err
}

// majorityLabel returns the most common label in votes, lowest label winning
// ties. An empty vote set maps to normal.
func majorityLabel(votes []Label) Label {
	if len(votes) == 0 {
		return LabelNormal
	}
	var counts [NumLabels]int
	for _, v := range votes {
		if v.Valid() {
			counts[v]++
		}
	}
	best := LabelNormal
	for l, c := range counts {
		if c > counts[best] {
			best = Label(l)
		}
	}
	return best
}

// randomResult is the never-leave-the-caller-without-an-answer last resort.
func randomResult() ClassificationResult {
	return ClassificationResult{
		Label:      Label(rand.Intn(NumLabels)),
		Confidence: 0.4 + rand.Float64()*0.4,
		Method:     MethodRandomFallback,
	}
}
