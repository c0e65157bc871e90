// Package config loads optional tuning overrides from a JSON file. Fields
// omitted from the file keep their built-in defaults, so partial configs are
// safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// maxFileSize caps tuning files at 1MB.
const maxFileSize = 1 * 1024 * 1024

// Tuning holds the startup-time classifier knobs. Everything here defaults
// sensibly when absent; the file exists for fleet-specific calibration, not
// for day-to-day operation.
type Tuning struct {
	// ModelWeights overrides the ensemble vote weight per model name.
	ModelWeights map[string]float64 `json:"model_weights,omitempty"`

	// SerialBaudRate overrides the seat controller baud rate.
	SerialBaudRate *int `json:"serial_baud_rate,omitempty"`
}

// Load reads a Tuning from a JSON file. The file must have a .json extension
// and be under the max file size.
func Load(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var t Tuning
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &t, nil
}

// Validate rejects values that would silently disable parts of the
// classifier.
func (t *Tuning) Validate() error {
	for name, w := range t.ModelWeights {
		if w <= 0 {
			return fmt.Errorf("model weight for %q must be positive, got %v", name, w)
		}
	}
	if t.SerialBaudRate != nil && *t.SerialBaudRate <= 0 {
		return fmt.Errorf("serial baud rate must be positive, got %d", *t.SerialBaudRate)
	}
	return nil
}
