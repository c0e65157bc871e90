package posture

import (
	"errors"
	"math"

	"github.com/sitsense/posture.report/internal/monitoring"
)

// Validation errors returned by ValidatePressure. The session manager reports
// these to the client on the same connection and keeps the connection open.
var (
	ErrEmptyVector      = errors.New("pressure vector is empty")
	ErrNonNumericVector = errors.New("pressure vector contains non-finite values")
)

// ValidatePressure is the input gate for raw pressure readings. It requires a
// non-empty sequence of finite numbers. Negative values are logged and kept:
// noisy hardware produces occasional negative cell readings and dropping whole
// frames for them loses more signal than it protects.
func ValidatePressure(raw []float64) error {
	if len(raw) == 0 {
		return ErrEmptyVector
	}
	for i, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonNumericVector
		}
		if v < 0 {
			monitoring.Logf("negative pressure value at cell %d: %v", i, v)
		}
	}
	return nil
}

// NormalizeVector forces raw to exactly expectedLen values: short vectors are
// right-padded with zeros, long vectors truncated. Order is preserved. The
// result is always a fresh slice; models never alias caller memory.
func NormalizeVector(raw []float64, expectedLen int) []float64 {
	out := make([]float64, expectedLen)
	copy(out, raw)
	return out
}
