package posture

import (
	"context"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sitsense/posture.report/internal/monitoring"
	"github.com/sitsense/posture.report/internal/timeutil"
)

// LatencyWindowSize is the number of recent per-frame latencies kept for the
// mean-latency report.
const LatencyWindowSize = 100

// PredictionStats tracks classification throughput and latency with
// thread-safe operations. One instance is shared by every connection; the
// periodic reporter only reads a snapshot, never per-connection state.
type PredictionStats struct {
	mu          sync.Mutex
	clock       timeutil.Clock
	total       int64
	started     time.Time
	latencies   []time.Duration // ring buffer, most recent LatencyWindowSize
	latencyNext int
}

// NewPredictionStats creates a PredictionStats instance using the given
// clock.
func NewPredictionStats(clock timeutil.Clock) *PredictionStats {
	return &PredictionStats{
		clock:   clock,
		started: clock.Now(),
	}
}

// AddPrediction records one completed classification and its latency.
func (ps *PredictionStats) AddPrediction(latency time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.total++
	if len(ps.latencies) < LatencyWindowSize {
		ps.latencies = append(ps.latencies, latency)
		return
	}
	ps.latencies[ps.latencyNext] = latency
	ps.latencyNext = (ps.latencyNext + 1) % LatencyWindowSize
}

// Metrics is an immutable snapshot of the aggregate throughput numbers.
type Metrics struct {
	TotalPredictions     int64   `json:"total_predictions"`
	PredictionsPerSecond float64 `json:"predictions_per_second"`
	MeanLatencyMs        float64 `json:"avg_response_time_ms"`
	UptimeSeconds        float64 `json:"uptime_seconds"`
}

// Snapshot computes current metrics without resetting counters.
func (ps *PredictionStats) Snapshot() Metrics {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	elapsed := ps.clock.Since(ps.started).Seconds()
	m := Metrics{
		TotalPredictions: ps.total,
		UptimeSeconds:    elapsed,
	}
	if elapsed > 0 {
		m.PredictionsPerSecond = float64(ps.total) / elapsed
	}
	if len(ps.latencies) > 0 {
		ms := make([]float64, len(ps.latencies))
		for i, d := range ps.latencies {
			ms[i] = float64(d.Nanoseconds()) / 1e6
		}
		m.MeanLatencyMs = stat.Mean(ms, nil)
	}
	return m
}

// Report runs the periodic throughput log until ctx is cancelled. It is
// independent of any connection lifecycle and holds no lock while logging.
func (ps *PredictionStats) Report(ctx context.Context, interval time.Duration) {
	ticker := ps.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m := ps.Snapshot()
			monitoring.Logf("prediction stats: %d total, %.2f/sec, %.1fms mean latency",
				m.TotalPredictions, m.PredictionsPerSecond, m.MeanLatencyMs)
		}
	}
}
