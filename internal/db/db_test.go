package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitsense/posture.report/internal/monitoring"
	"github.com/sitsense/posture.report/internal/posture"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	restore := monitoring.Mute()
	t.Cleanup(restore)

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAppendAndQueryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rec := PredictionRecord{
		ClientID:         "client-1",
		DeviceID:         "seat-01",
		Timestamp:        ts,
		Label:            posture.LabelSlouching,
		Confidence:       0.87,
		Method:           "ensemble_stage1",
		ProcessingTimeMs: 1.25,
		VotingScores:     []float64{0.1, 0, 0, 0.9, 0, 0, 0, 0},
		ModelBreakdown: []posture.ModelVote{
			{Model: "rf", Stage: 1, Label: posture.LabelSlouching, Confidence: 0.9, Probabilistic: true},
		},
	}
	require.NoError(t, db.AppendPrediction(ctx, rec))

	records, err := db.PredictionRecords(ctx, RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Equal(t, "seat-01", got.DeviceID)
	assert.Equal(t, ts, got.Timestamp)
	assert.Equal(t, posture.LabelSlouching, got.Label)
	assert.Equal(t, 0.87, got.Confidence)
	assert.Equal(t, "ensemble_stage1", got.Method)
	assert.Equal(t, 1.25, got.ProcessingTimeMs)
	assert.Equal(t, rec.VotingScores, got.VotingScores)
	assert.Equal(t, rec.ModelBreakdown, got.ModelBreakdown)
}

func TestPredictionRecordsFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seed := func(day string, device string) {
		ts, err := time.Parse("2006-01-02", day)
		require.NoError(t, err)
		require.NoError(t, db.AppendPrediction(ctx, PredictionRecord{
			ClientID:  "c",
			DeviceID:  device,
			Timestamp: ts.Add(10 * time.Hour),
			Label:     posture.LabelNormal,
			Method:    "rule_based",
		}))
	}
	seed("2026-03-12", "seat-01")
	seed("2026-03-13", "seat-01")
	seed("2026-03-14", "seat-02")

	records, err := db.PredictionRecords(ctx, RecordFilter{StartDate: "2026-03-13"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = db.PredictionRecords(ctx, RecordFilter{EndDate: "2026-03-12"})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// Date bounds are inclusive.
	records, err = db.PredictionRecords(ctx, RecordFilter{StartDate: "2026-03-13", EndDate: "2026-03-13"})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = db.PredictionRecords(ctx, RecordFilter{DeviceID: "seat-02"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "seat-02", records[0].DeviceID)
}

func TestPredictionRecordsOrdered(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	// Insert out of chronological order.
	for _, offset := range []time.Duration{5 * time.Minute, 0, 2 * time.Minute} {
		require.NoError(t, db.AppendPrediction(ctx, PredictionRecord{
			ClientID:  "c",
			Timestamp: base.Add(offset),
			Label:     posture.LabelNormal,
			Method:    "rule_based",
		}))
	}

	records, err := db.PredictionRecords(ctx, RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i := 1; i < len(records); i++ {
		assert.False(t, records[i].Timestamp.Before(records[i-1].Timestamp))
	}
}

func TestMethodStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	seed := func(device, method string, confidence, latency float64) {
		require.NoError(t, db.AppendPrediction(ctx, PredictionRecord{
			ClientID:         "c",
			DeviceID:         device,
			Timestamp:        base,
			Label:            posture.LabelNormal,
			Confidence:       confidence,
			Method:           method,
			ProcessingTimeMs: latency,
		}))
	}
	seed("seat-01", "ensemble_stage1", 0.8, 2)
	seed("seat-01", "ensemble_stage1", 0.6, 4)
	seed("seat-02", "rule_based", 0.5, 1)

	stats, err := db.MethodStats(ctx, RecordFilter{})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "ensemble_stage1", stats[0].Method)
	assert.Equal(t, int64(2), stats[0].Count)
	assert.InDelta(t, 0.7, stats[0].AvgConfidence, 1e-9)
	assert.InDelta(t, 3.0, stats[0].AvgProcessingMs, 1e-9)
	assert.Equal(t, "rule_based", stats[1].Method)
	assert.Equal(t, int64(1), stats[1].Count)

	stats, err = db.MethodStats(ctx, RecordFilter{DeviceID: "seat-02"})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "rule_based", stats[0].Method)

	stats, err = db.MethodStats(ctx, RecordFilter{StartDate: "2026-03-15"})
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestRecentPredictions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, db.AppendPrediction(ctx, PredictionRecord{
			ClientID:  "c",
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
			Label:     posture.LabelNormal,
			Method:    "rule_based",
		}))
	}
	// One stale record outside any reasonable window.
	require.NoError(t, db.AppendPrediction(ctx, PredictionRecord{
		ClientID:  "c",
		Timestamp: now.Add(-48 * time.Hour),
		Label:     posture.LabelNormal,
		Method:    "rule_based",
	}))

	records, err := db.RecentPredictions(ctx, 24, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Newest first.
	assert.False(t, records[0].Timestamp.Before(records[1].Timestamp))

	records, err = db.RecentPredictions(ctx, 24, 100)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestConnectionLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, db.LogConnection(ctx, "client-1", "seat-01", at))
	require.NoError(t, db.LogConnection(ctx, "client-2", "", at))

	var active int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM client_connections WHERE is_active = TRUE`).Scan(&active))
	assert.Equal(t, 2, active)

	require.NoError(t, db.LogDisconnection(ctx, "client-1", at.Add(time.Hour)))

	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM client_connections WHERE is_active = TRUE`).Scan(&active))
	assert.Equal(t, 1, active)

	// Disconnecting an unknown client is a no-op, not an error.
	require.NoError(t, db.LogDisconnection(ctx, "client-99", at))
}

func TestResetAll(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.AppendPrediction(ctx, PredictionRecord{
			ClientID:  "c",
			Timestamp: time.Now().UTC(),
			Label:     posture.LabelNormal,
			Method:    "rule_based",
		}))
	}
	require.NoError(t, db.LogConnection(ctx, "client-1", "seat-01", time.Now().UTC()))

	deleted, err := db.ResetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	n, err := db.CountPredictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// IDs restart from 1 after a reset.
	require.NoError(t, db.AppendPrediction(ctx, PredictionRecord{
		ClientID:  "c",
		Timestamp: time.Now().UTC(),
		Label:     posture.LabelNormal,
		Method:    "rule_based",
	}))
	records, err := db.PredictionRecords(ctx, RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].ID)
}

func TestScanToleratesBadJSONColumns(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx,
		`INSERT INTO posture_predictions (
			client_id, device_id, timestamp, predicted_posture, confidence,
			method, processing_time_ms, voting_scores, model_breakdown
		) VALUES ('c', 'd', '2026-03-14 09:00:00', 0, 0.9, 'rule_based', 1.0, '{{{', 'nope')`)
	require.NoError(t, err)

	records, err := db.PredictionRecords(ctx, RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].VotingScores)
	assert.Nil(t, records[0].ModelBreakdown)
}

func TestMigrateVersion(t *testing.T) {
	db := newTestDB(t)
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)
}
