package history

import (
	"fmt"
	"math"

	"github.com/sitsense/posture.report/internal/posture"
)

// Scoring policy constants. The four components are additive: good posture
// earns up to 60, bad posture deducts up to 40, session stability and break
// frequency add recovery bonuses, and the sum is clamped to [0, 100].
const (
	GoodPostureCap    = 60
	GoodPostureFactor = 0.6

	PenaltyCap    = 40
	PenaltyFactor = 0.15

	DefaultSeverityWeight = 2.0
)

// severityWeights ranks how damaging each non-neutral posture is. Cervical
// strain postures weigh heaviest, leg crossing lightest. Indexed by label.
var severityWeights = map[posture.Label]float64{
	posture.LabelTurtleNeck:    4,
	posture.LabelNeckDown:      3,
	posture.LabelSlouching:     3,
	posture.LabelLeanRight:     2,
	posture.LabelLeanLeft:      2,
	posture.LabelRightLegCross: 1,
	posture.LabelLeftLegCross:  1,
}

func severityWeight(label posture.Label) float64 {
	if w, ok := severityWeights[label]; ok {
		return w
	}
	return DefaultSeverityWeight
}

// DailyScore is the 0-100 wellness score for one calendar day, with the
// component breakdown exposed so clients can explain the number.
type DailyScore struct {
	Date               string  `json:"date"`
	TotalScore         int     `json:"total_score"`
	Grade              string  `json:"grade"`
	GoodPostureScore   int     `json:"good_posture_score"`
	PenaltyScore       int     `json:"penalty_score"`
	StabilityScore     int     `json:"stability_score"`
	FrequencyScore     int     `json:"frequency_score"`
	GoodPosturePercent float64 `json:"good_posture_percentage"`
	TotalMinutes       float64 `json:"total_minutes"`
	SessionCount       int     `json:"session_count"`
	WorstPosture       string  `json:"worst_posture,omitempty"`
	WorstMinutes       float64 `json:"worst_posture_minutes,omitempty"`
	Feedback           string  `json:"feedback"`
}

// ScoreDay computes the wellness score for one day's sessions. A day with no
// sessions scores zero with grade F.
func ScoreDay(date string, sessions []Session) DailyScore {
	if len(sessions) == 0 {
		return DailyScore{
			Date:     date,
			Grade:    "F",
			Feedback: "No monitoring data recorded for this day.",
		}
	}

	var totalMinutes, goodMinutes float64
	for _, s := range sessions {
		totalMinutes += s.DurationMinutes
		if s.Label == posture.LabelNormal {
			goodMinutes += s.DurationMinutes
		}
	}

	goodPct := goodMinutes / totalMinutes * 100
	good := int(math.Min(GoodPostureCap, math.Floor(goodPct*GoodPostureFactor)))

	var rawPenalty float64
	var worst posture.Label
	var worstSeverity, worstMinutes float64
	perLabelMinutes := map[posture.Label]float64{}
	for _, s := range sessions {
		if s.Label == posture.LabelNormal {
			continue
		}
		perLabelMinutes[s.Label] += s.DurationMinutes
	}
	for label, minutes := range perLabelMinutes {
		weight := severityWeight(label)
		rawPenalty += minutes / totalMinutes * 100 * weight * PenaltyFactor
		if severity := minutes * weight; severity > worstSeverity {
			worstSeverity = severity
			worst = label
			worstMinutes = minutes
		}
	}
	penalty := int(math.Min(PenaltyCap, rawPenalty))

	avgSession := totalMinutes / float64(len(sessions))
	stability := stabilityScore(avgSession)
	frequency := frequencyScore(len(sessions))

	total := good - penalty + stability + frequency
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	score := DailyScore{
		Date:               date,
		TotalScore:         total,
		Grade:              gradeFor(total),
		GoodPostureScore:   good,
		PenaltyScore:       penalty,
		StabilityScore:     stability,
		FrequencyScore:     frequency,
		GoodPosturePercent: goodPct,
		TotalMinutes:       totalMinutes,
		SessionCount:       len(sessions),
	}
	if worstSeverity > 0 {
		score.WorstPosture = worst.Name()
		score.WorstMinutes = worstMinutes
	}
	score.Feedback = feedbackFor(score)
	return score
}

// stabilityScore rewards sustained but not marathon sitting. The sweet spot
// is an average session of 5-15 minutes; very short or very long sessions
// earn less.
func stabilityScore(avgSessionMinutes float64) int {
	switch {
	case avgSessionMinutes >= 5 && avgSessionMinutes <= 15:
		return 10
	case (avgSessionMinutes >= 3 && avgSessionMinutes < 5) ||
		(avgSessionMinutes > 15 && avgSessionMinutes <= 20):
		return 8
	case (avgSessionMinutes >= 1 && avgSessionMinutes < 3) ||
		(avgSessionMinutes > 20 && avgSessionMinutes <= 30):
		return 5
	default:
		return 2
	}
}

// frequencyScore rewards posture changes, which act as micro-breaks.
func frequencyScore(sessionCount int) int {
	switch {
	case sessionCount >= 3:
		return 10
	case sessionCount >= 2:
		return 7
	case sessionCount >= 1:
		return 5
	default:
		return 0
	}
}

func gradeFor(total int) string {
	switch {
	case total >= 85:
		return "A+"
	case total >= 75:
		return "A"
	case total >= 65:
		return "B+"
	case total >= 55:
		return "B"
	case total >= 45:
		return "C+"
	case total >= 35:
		return "C"
	default:
		return "D"
	}
}

func feedbackFor(score DailyScore) string {
	var msg string
	switch {
	case score.TotalScore >= 85:
		msg = "Excellent posture today. Keep it up."
	case score.TotalScore >= 65:
		msg = "Good posture overall with room to improve."
	case score.TotalScore >= 45:
		msg = "Fair posture. Try to sit upright more consistently."
	default:
		msg = "Poor posture today. Consider adjusting your workstation."
	}
	if score.WorstPosture != "" {
		msg += fmt.Sprintf(" Most costly posture: %s (%.0f min).",
			score.WorstPosture, score.WorstMinutes)
	}
	return msg
}
