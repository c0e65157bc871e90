// Package posture implements the real-time posture classification pipeline:
// feature preprocessing, a rule-based fallback classifier, and a two-stage
// cascaded ensemble over independently loaded scoring models.
package posture

import "time"

// Label identifies one of the eight recognised sitting postures.
type Label int

const (
	// LabelNormal is an upright, balanced sitting posture.
	LabelNormal Label = 0
	// LabelTurtleNeck is a lowered head looking at a phone.
	LabelTurtleNeck Label = 1
	// LabelNeckDown is a forward head position without the phone-lean signature.
	LabelNeckDown Label = 2
	// LabelSlouching is hips forward, back against the backrest.
	LabelSlouching Label = 3
	// LabelLeanRight is weight shifted onto the right armrest.
	LabelLeanRight Label = 4
	// LabelLeanLeft is weight shifted onto the left armrest.
	LabelLeanLeft Label = 5
	// LabelRightLegCross is the right leg crossed over the left.
	LabelRightLegCross Label = 6
	// LabelLeftLegCross is the left leg crossed over the right.
	LabelLeftLegCross Label = 7

	// NumLabels is the size of the label space.
	NumLabels = 8
)

// labelNames maps labels to their display names, in label order.
var labelNames = [NumLabels]string{
	"normal",
	"turtle neck",
	"neck down",
	"slouching",
	"lean right",
	"lean left",
	"right leg cross",
	"left leg cross",
}

// Name returns the human-readable name for the label, or "unknown" for
// out-of-range values.
func (l Label) Name() string {
	if l < 0 || l >= NumLabels {
		return "unknown"
	}
	return labelNames[l]
}

// Valid reports whether the label is inside the recognised label space.
func (l Label) Valid() bool {
	return l >= 0 && l < NumLabels
}

// Sensor vector lengths fixed by the hardware contract.
const (
	// PressureVectorLen is the number of FSR cells in the seat.
	PressureVectorLen = 11
	// InertialVectorLen is accel xyz + gyro xyz from the companion IMU.
	InertialVectorLen = 6
)

// IMUSample is one reading from the companion motion sensor.
type IMUSample struct {
	Accel [3]float64 `json:"accel"`
	Gyro  [3]float64 `json:"gyro"`
}

// Vector flattens the sample into the fixed inertial feature order
// (accel x,y,z then gyro x,y,z).
func (s IMUSample) Vector() []float64 {
	return []float64{
		s.Accel[0], s.Accel[1], s.Accel[2],
		s.Gyro[0], s.Gyro[1], s.Gyro[2],
	}
}

// SensorFrame is one inbound message from a seating device. It is built per
// message and consumed immediately; nothing retains it after classification.
type SensorFrame struct {
	MessageID int64      `json:"id"`
	DeviceID  string     `json:"device_id"`
	Pressure  []float64  `json:"FSR"`
	IMU       *IMUSample `json:"IMU,omitempty"`
}

// Classification method tags. These are recorded with every result so the
// degraded paths are observable downstream.
const (
	// MethodRuleBased marks results from the deterministic fallback tree.
	MethodRuleBased = "rule_based"
	// MethodEnsembleStage1 marks a pressure-only ensemble decision.
	MethodEnsembleStage1 = "ensemble_stage1"
	// MethodEnsembleStage1Plus2 marks a stage-1 decision overridden by the
	// inertial refinement stage.
	MethodEnsembleStage1Plus2 = "ensemble_stage1_plus_stage2"
	// MethodRandomFallback marks the never-fail-the-caller last resort.
	// Its presence in the log means both classifier paths blew up.
	MethodRandomFallback = "random_fallback"
)

// ModelVote records one model's contribution to an ensemble decision.
type ModelVote struct {
	Model         string  `json:"model"`
	Stage         int     `json:"stage"`
	Label         Label   `json:"label"`
	Confidence    float64 `json:"confidence"`
	Probabilistic bool    `json:"probabilistic"`
}

// ClassificationResult is the outcome of classifying one sensor frame.
// Immutable once produced; the session manager returns it to the caller and
// appends it to the durable log.
type ClassificationResult struct {
	Label          Label         `json:"label"`
	Confidence     float64       `json:"confidence"`
	Method         string        `json:"method"`
	VotingScores   []float64     `json:"voting_scores,omitempty"`
	ModelBreakdown []ModelVote   `json:"model_breakdown,omitempty"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
}

// clampConfidence clamps a confidence value to the range [min, max].
func clampConfidence(value, min, max float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}
