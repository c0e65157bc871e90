// Package db implements the durable classification log on SQLite: an
// append-mostly store of per-frame classification results plus client
// connection records, queryable by time range and device.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sitsense/posture.report/internal/monitoring"
	"github.com/sitsense/posture.report/internal/posture"
)

// timeFormat is the canonical timestamp encoding in the log, UTC.
const timeFormat = "2006-01-02 15:04:05"

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the posture database at path and brings
// the schema up to date.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The log has many concurrent appenders but SQLite wants one writer;
	// serialise at the pool level rather than retrying SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// PredictionRecord is one appended classification result with its client and
// device identifiers. VotingScores and ModelBreakdown are stored as JSON text
// columns; they are observability payload, never queried relationally.
type PredictionRecord struct {
	ID               int64               `json:"id"`
	ClientID         string              `json:"client_id"`
	DeviceID         string              `json:"device_id"`
	Timestamp        time.Time           `json:"timestamp"`
	Label            posture.Label       `json:"label"`
	Confidence       float64             `json:"confidence"`
	Method           string              `json:"method"`
	ProcessingTimeMs float64             `json:"processing_time_ms"`
	VotingScores     []float64           `json:"voting_scores,omitempty"`
	ModelBreakdown   []posture.ModelVote `json:"model_breakdown,omitempty"`
}

// AppendPrediction appends one classification result to the log.
func (db *DB) AppendPrediction(ctx context.Context, rec PredictionRecord) error {
	scores, err := json.Marshal(rec.VotingScores)
	if err != nil {
		return fmt.Errorf("failed to encode voting scores: %w", err)
	}
	breakdown, err := json.Marshal(rec.ModelBreakdown)
	if err != nil {
		return fmt.Errorf("failed to encode model breakdown: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO posture_predictions (
			client_id, device_id, timestamp, predicted_posture, confidence,
			method, processing_time_ms, voting_scores, model_breakdown
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ClientID, rec.DeviceID, rec.Timestamp.UTC().Format(timeFormat),
		int(rec.Label), rec.Confidence, rec.Method, rec.ProcessingTimeMs,
		string(scores), string(breakdown),
	)
	return err
}

// RecordFilter narrows a prediction query. Dates are YYYY-MM-DD and
// inclusive; empty fields match everything.
type RecordFilter struct {
	StartDate string
	EndDate   string
	DeviceID  string
}

// PredictionRecords returns the matching log entries in timestamp order.
// The aggregation engine depends on that ordering.
func (db *DB) PredictionRecords(ctx context.Context, filter RecordFilter) ([]PredictionRecord, error) {
	query := `SELECT id, client_id, device_id, timestamp, predicted_posture,
		confidence, method, processing_time_ms, voting_scores, model_breakdown
		FROM posture_predictions WHERE 1=1`
	var args []interface{}

	if filter.StartDate != "" {
		query += " AND date(timestamp) >= ?"
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		query += " AND date(timestamp) <= ?"
		args = append(args, filter.EndDate)
	}
	if filter.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, filter.DeviceID)
	}
	query += " ORDER BY timestamp, id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPredictionRows(rows)
}

// MethodStat aggregates prediction outcomes for one classification method.
type MethodStat struct {
	Method          string  `json:"method"`
	Count           int64   `json:"count"`
	AvgConfidence   float64 `json:"avg_confidence"`
	AvgProcessingMs float64 `json:"avg_processing_time_ms"`
}

// MethodStats returns per-method aggregates over the matching records,
// ordered by method name.
func (db *DB) MethodStats(ctx context.Context, filter RecordFilter) ([]MethodStat, error) {
	query := `SELECT method, COUNT(*), AVG(confidence), AVG(processing_time_ms)
		FROM posture_predictions WHERE 1=1`
	var args []interface{}

	if filter.StartDate != "" {
		query += " AND date(timestamp) >= ?"
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		query += " AND date(timestamp) <= ?"
		args = append(args, filter.EndDate)
	}
	if filter.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, filter.DeviceID)
	}
	query += " GROUP BY method ORDER BY method"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []MethodStat
	for rows.Next() {
		var st MethodStat
		if err := rows.Scan(&st.Method, &st.Count, &st.AvgConfidence, &st.AvgProcessingMs); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// RecentPredictions returns up to limit entries from the last hours hours,
// newest first. Used by the prediction-log endpoint.
func (db *DB) RecentPredictions(ctx context.Context, hours, limit int) ([]PredictionRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, client_id, device_id, timestamp, predicted_posture,
			confidence, method, processing_time_ms, voting_scores, model_breakdown
		FROM posture_predictions
		WHERE timestamp >= datetime('now', ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`,
		fmt.Sprintf("-%d hours", hours), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPredictionRows(rows)
}

func scanPredictionRows(rows *sql.Rows) ([]PredictionRecord, error) {
	var records []PredictionRecord
	for rows.Next() {
		var (
			rec       PredictionRecord
			ts        string
			label     int64
			scores    sql.NullString
			breakdown sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.ClientID, &rec.DeviceID, &ts, &label,
			&rec.Confidence, &rec.Method, &rec.ProcessingTimeMs,
			&scores, &breakdown,
		); err != nil {
			return nil, err
		}

		parsed, err := time.Parse(timeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q in log: %w", ts, err)
		}
		rec.Timestamp = parsed
		rec.Label = posture.Label(label)

		// Decoding failures on the JSON side columns lose observability
		// detail, not the record.
		if scores.Valid && scores.String != "" {
			if err := json.Unmarshal([]byte(scores.String), &rec.VotingScores); err != nil {
				monitoring.Logf("bad voting_scores for record %d: %v", rec.ID, err)
			}
		}
		if breakdown.Valid && breakdown.String != "" {
			if err := json.Unmarshal([]byte(breakdown.String), &rec.ModelBreakdown); err != nil {
				monitoring.Logf("bad model_breakdown for record %d: %v", rec.ID, err)
			}
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// LogConnection records a new client connection.
func (db *DB) LogConnection(ctx context.Context, clientID, deviceID string, at time.Time) error {
	var device interface{}
	if deviceID != "" {
		device = deviceID
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO client_connections (client_id, device_id, connect_time, is_active)
		VALUES (?, ?, ?, TRUE)`,
		clientID, device, at.UTC().Format(timeFormat),
	)
	return err
}

// LogDisconnection marks every active connection row for the client closed.
func (db *DB) LogDisconnection(ctx context.Context, clientID string, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE client_connections
		SET disconnect_time = ?, is_active = FALSE
		WHERE client_id = ? AND is_active = TRUE`,
		at.UTC().Format(timeFormat), clientID,
	)
	return err
}

// CountPredictions returns the total number of logged predictions.
func (db *DB) CountPredictions(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posture_predictions`).Scan(&n)
	return n, err
}

// ResetAll deletes every prediction and connection record and returns the
// number of deleted rows. Destructive and unrecoverable; the API layer gates
// it behind an explicit confirmation flag.
func (db *DB) ResetAll(ctx context.Context) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			monitoring.Logf("warning: failed to rollback reset transaction: %v", err)
		}
	}()

	var deleted int64
	for _, table := range []string{"posture_predictions", "client_connections"} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table)
		if err != nil {
			return 0, fmt.Errorf("failed to clear %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	// Reset the AUTOINCREMENT counters too so a wiped install starts clean.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sqlite_sequence WHERE name IN ('posture_predictions', 'client_connections')`,
	); err != nil && !strings.Contains(err.Error(), "no such table") {
		return 0, fmt.Errorf("failed to reset sequences: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	monitoring.Logf("history reset: deleted %d records", deleted)
	return deleted, nil
}
