// Package history reconstructs posture sessions from the durable
// classification log and scores them per day. Everything here is a pure
// function over already-fetched records; the package holds no state.
package history

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sitsense/posture.report/internal/db"
	"github.com/sitsense/posture.report/internal/posture"
)

// Session is a maximal contiguous run of records with the same posture label.
// Sessions partition the observed time range: one session is open at any
// instant, with no gaps or overlaps.
type Session struct {
	Label           posture.Label `json:"posture_id"`
	PostureName     string        `json:"posture_name"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	DurationMinutes float64       `json:"duration_minutes"`
	AvgConfidence   float64       `json:"avg_confidence"`
}

// SegmentSessions merges the time-ordered record stream into contiguous
// same-label sessions. A session ends at the timestamp of the first record
// carrying a different label; the final session ends at the last record in
// range, so its duration is a lower bound on the true one, never an
// extrapolation. Zero and negative durations (duplicate or out-of-order
// timestamps) are dropped.
func SegmentSessions(records []db.PredictionRecord) []Session {
	if len(records) == 0 {
		return nil
	}

	var sessions []Session
	current := records[0].Label
	start := records[0].Timestamp
	confidences := []float64{records[0].Confidence}

	closeSession := func(end time.Time) {
		duration := end.Sub(start).Minutes()
		if duration <= 0 {
			return
		}
		sessions = append(sessions, Session{
			Label:           current,
			PostureName:     current.Name(),
			StartTime:       start,
			EndTime:         end,
			DurationMinutes: duration,
			AvgConfidence:   stat.Mean(confidences, nil),
		})
	}

	for _, rec := range records[1:] {
		if rec.Label != current {
			closeSession(rec.Timestamp)
			current = rec.Label
			start = rec.Timestamp
			confidences = confidences[:0]
		}
		confidences = append(confidences, rec.Confidence)
	}
	closeSession(records[len(records)-1].Timestamp)

	return sessions
}

// LabelStats summarises the sessions of one posture label.
type LabelStats struct {
	Label                  posture.Label `json:"posture_id"`
	PostureName            string        `json:"posture_name"`
	TotalDurationMinutes   float64       `json:"total_duration_minutes"`
	SessionCount           int           `json:"session_count"`
	AverageSessionDuration float64       `json:"average_session_duration"`
	Percentage             float64       `json:"percentage"`
	FirstDetected          time.Time     `json:"first_detected"`
	LastDetected           time.Time     `json:"last_detected"`
}

// AggregateStats rolls sessions up into per-label totals, ordered by total
// duration descending.
func AggregateStats(sessions []Session) []LabelStats {
	if len(sessions) == 0 {
		return nil
	}

	var totalMinutes float64
	byLabel := map[posture.Label]*LabelStats{}
	for _, s := range sessions {
		totalMinutes += s.DurationMinutes
		ls, ok := byLabel[s.Label]
		if !ok {
			ls = &LabelStats{
				Label:         s.Label,
				PostureName:   s.PostureName,
				FirstDetected: s.StartTime,
			}
			byLabel[s.Label] = ls
		}
		ls.TotalDurationMinutes += s.DurationMinutes
		ls.SessionCount++
		ls.LastDetected = s.EndTime
	}

	stats := make([]LabelStats, 0, len(byLabel))
	for _, ls := range byLabel {
		ls.AverageSessionDuration = ls.TotalDurationMinutes / float64(ls.SessionCount)
		if totalMinutes > 0 {
			ls.Percentage = ls.TotalDurationMinutes / totalMinutes * 100
		}
		stats = append(stats, *ls)
	}
	sortStatsByDuration(stats)
	return stats
}

func sortStatsByDuration(stats []LabelStats) {
	// Insertion sort: the slice has at most NumLabels entries.
	for i := 1; i < len(stats); i++ {
		for j := i; j > 0 && stats[j].TotalDurationMinutes > stats[j-1].TotalDurationMinutes; j-- {
			stats[j], stats[j-1] = stats[j-1], stats[j]
		}
	}
}
