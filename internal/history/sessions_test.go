package history

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitsense/posture.report/internal/db"
	"github.com/sitsense/posture.report/internal/posture"
)

func at(minute int) time.Time {
	return time.Date(2026, 3, 14, 9, minute, 0, 0, time.UTC)
}

func rec(minute int, label posture.Label, confidence float64) db.PredictionRecord {
	return db.PredictionRecord{
		Timestamp:  at(minute),
		Label:      label,
		Confidence: confidence,
	}
}

func TestSegmentSessionsEmpty(t *testing.T) {
	assert.Nil(t, SegmentSessions(nil))
	assert.Nil(t, SegmentSessions([]db.PredictionRecord{}))
}

func TestSegmentSessionsSingleRecord(t *testing.T) {
	// One record spans zero time, so no session survives.
	sessions := SegmentSessions([]db.PredictionRecord{rec(0, posture.LabelNormal, 0.9)})
	assert.Empty(t, sessions)
}

func TestSegmentSessionsMergesRuns(t *testing.T) {
	records := []db.PredictionRecord{
		rec(0, posture.LabelNormal, 0.9),
		rec(1, posture.LabelNormal, 0.8),
		rec(2, posture.LabelNormal, 0.7),
		rec(3, posture.LabelSlouching, 0.6),
		rec(5, posture.LabelSlouching, 0.8),
		rec(8, posture.LabelNormal, 0.9),
		rec(10, posture.LabelNormal, 0.9),
	}

	sessions := SegmentSessions(records)
	require.Len(t, sessions, 3)

	want := []Session{
		{
			Label:           posture.LabelNormal,
			PostureName:     "normal",
			StartTime:       at(0),
			EndTime:         at(3),
			DurationMinutes: 3,
			AvgConfidence:   0.8,
		},
		{
			Label:           posture.LabelSlouching,
			PostureName:     "slouching",
			StartTime:       at(3),
			EndTime:         at(8),
			DurationMinutes: 5,
			AvgConfidence:   0.7,
		},
		{
			Label:           posture.LabelNormal,
			PostureName:     "normal",
			StartTime:       at(8),
			EndTime:         at(10),
			DurationMinutes: 2,
			AvgConfidence:   0.9,
		},
	}
	if diff := cmp.Diff(want, sessions, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestSegmentSessionsCoversRange(t *testing.T) {
	// Sessions must partition the observed range: each session starts where
	// the previous one ended, and the last ends at the final record.
	records := []db.PredictionRecord{
		rec(0, posture.LabelNormal, 0.9),
		rec(4, posture.LabelLeanLeft, 0.7),
		rec(9, posture.LabelTurtleNeck, 0.8),
		rec(12, posture.LabelTurtleNeck, 0.8),
	}

	sessions := SegmentSessions(records)
	require.NotEmpty(t, sessions)
	assert.Equal(t, at(0), sessions[0].StartTime)
	assert.Equal(t, at(12), sessions[len(sessions)-1].EndTime)
	for i := 1; i < len(sessions); i++ {
		assert.Equal(t, sessions[i-1].EndTime, sessions[i].StartTime)
	}
}

func TestSegmentSessionsIdempotentOverRuns(t *testing.T) {
	// Splitting a run into more records with the same label must not change
	// the session boundaries.
	sparse := []db.PredictionRecord{
		rec(0, posture.LabelNormal, 0.8),
		rec(6, posture.LabelSlouching, 0.8),
		rec(10, posture.LabelSlouching, 0.8),
	}
	dense := []db.PredictionRecord{
		rec(0, posture.LabelNormal, 0.8),
		rec(2, posture.LabelNormal, 0.8),
		rec(4, posture.LabelNormal, 0.8),
		rec(6, posture.LabelSlouching, 0.8),
		rec(8, posture.LabelSlouching, 0.8),
		rec(10, posture.LabelSlouching, 0.8),
	}

	a := SegmentSessions(sparse)
	b := SegmentSessions(dense)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Label, b[i].Label)
		assert.Equal(t, a[i].StartTime, b[i].StartTime)
		assert.Equal(t, a[i].EndTime, b[i].EndTime)
	}
}

func TestSegmentSessionsDropsZeroDuration(t *testing.T) {
	records := []db.PredictionRecord{
		rec(0, posture.LabelNormal, 0.9),
		rec(0, posture.LabelSlouching, 0.6), // duplicate timestamp
		rec(5, posture.LabelSlouching, 0.6),
	}

	sessions := SegmentSessions(records)
	require.Len(t, sessions, 1)
	assert.Equal(t, posture.LabelSlouching, sessions[0].Label)
	assert.Equal(t, 5.0, sessions[0].DurationMinutes)
}

func TestAggregateStats(t *testing.T) {
	sessions := SegmentSessions([]db.PredictionRecord{
		rec(0, posture.LabelNormal, 0.9),
		rec(10, posture.LabelSlouching, 0.7),
		rec(15, posture.LabelNormal, 0.9),
		rec(35, posture.LabelNormal, 0.9),
	})

	stats := AggregateStats(sessions)
	require.Len(t, stats, 2)

	// Sorted by total duration descending: normal 30 min, slouching 5 min.
	assert.Equal(t, posture.LabelNormal, stats[0].Label)
	assert.InDelta(t, 30.0, stats[0].TotalDurationMinutes, 1e-9)
	assert.Equal(t, 2, stats[0].SessionCount)
	assert.InDelta(t, 15.0, stats[0].AverageSessionDuration, 1e-9)
	assert.InDelta(t, 30.0/35.0*100, stats[0].Percentage, 1e-9)
	assert.Equal(t, at(0), stats[0].FirstDetected)
	assert.Equal(t, at(35), stats[0].LastDetected)

	assert.Equal(t, posture.LabelSlouching, stats[1].Label)
	assert.InDelta(t, 5.0, stats[1].TotalDurationMinutes, 1e-9)
}

func TestAggregateStatsEmpty(t *testing.T) {
	assert.Nil(t, AggregateStats(nil))
}
