// Package seatlink ingests sensor frames from a seat controller attached
// over a serial line. It is the local counterpart to the websocket ingest
// path: same classifier, same durable log, no network in between.
//
// The controller emits one frame per line as comma-separated values: 11
// pressure readings, optionally followed by 6 inertial readings (accel
// x,y,z then gyro x,y,z).
package seatlink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sitsense/posture.report/internal/db"
	"github.com/sitsense/posture.report/internal/monitoring"
	"github.com/sitsense/posture.report/internal/posture"
	"github.com/sitsense/posture.report/internal/timeutil"
)

// clientID marks records ingested over the serial line in the prediction log.
const clientID = "seatlink"

// Porter is the minimal surface of a serial port. The abstraction enables
// unit testing without real hardware.
type Porter interface {
	io.Reader
	io.Closer
}

// Reader drains frames from a seat controller and feeds them through the
// classifier into the durable log.
type Reader struct {
	port     Porter
	engine   *posture.Ensemble
	store    *db.DB
	deviceID string
	clock    timeutil.Clock
}

func NewReader(port Porter, engine *posture.Ensemble, store *db.DB, deviceID string, clock timeutil.Clock) *Reader {
	return &Reader{
		port:     port,
		engine:   engine,
		store:    store,
		deviceID: deviceID,
		clock:    clock,
	}
}

// Monitor reads lines until the port closes or the context is cancelled.
// Malformed lines are logged and skipped; the stream keeps going.
func (r *Reader) Monitor(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.port.Close()
	}()

	scanner := bufio.NewScanner(r.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		frame, err := ParseLine(line)
		if err != nil {
			monitoring.Logf("seatlink: skipping line: %v", err)
			continue
		}
		r.ingest(ctx, frame)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("seatlink read failed: %w", err)
	}
	return ctx.Err()
}

func (r *Reader) ingest(ctx context.Context, frame *posture.SensorFrame) {
	frame.DeviceID = r.deviceID
	result := r.engine.Classify(frame)

	rec := db.PredictionRecord{
		ClientID:         clientID,
		DeviceID:         r.deviceID,
		Timestamp:        r.clock.Now(),
		Label:            result.Label,
		Confidence:       result.Confidence,
		Method:           result.Method,
		ProcessingTimeMs: float64(result.ProcessingTime) / float64(time.Millisecond),
		VotingScores:     result.VotingScores,
		ModelBreakdown:   result.ModelBreakdown,
	}
	if err := r.store.AppendPrediction(ctx, rec); err != nil {
		monitoring.Logf("seatlink: failed to log prediction: %v", err)
	}
}

// ParseLine decodes one controller line into a sensor frame. Accepted shapes
// are 11 values (pressure only) and 17 values (pressure plus inertial).
func ParseLine(line string) (*posture.SensorFrame, error) {
	fields := strings.Split(line, ",")
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q in line %q", f, line)
		}
		values = append(values, v)
	}

	switch len(values) {
	case posture.PressureVectorLen:
		return &posture.SensorFrame{Pressure: values}, nil
	case posture.PressureVectorLen + posture.InertialVectorLen:
		imu := &posture.IMUSample{}
		copy(imu.Accel[:], values[posture.PressureVectorLen:posture.PressureVectorLen+3])
		copy(imu.Gyro[:], values[posture.PressureVectorLen+3:])
		return &posture.SensorFrame{
			Pressure: values[:posture.PressureVectorLen],
			IMU:      imu,
		}, nil
	default:
		return nil, fmt.Errorf("line has %d values, expected %d or %d",
			len(values), posture.PressureVectorLen,
			posture.PressureVectorLen+posture.InertialVectorLen)
	}
}
