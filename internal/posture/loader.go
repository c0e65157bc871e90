package posture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sitsense/posture.report/internal/monitoring"
)

// scalerFileName is the per-stage normalization transform, stored alongside
// the model files.
const scalerFileName = "scaler.json"

// maxModelFileSize caps model files at 4MB. Exported weight files for this
// feature space are a few KB; anything larger is a broken export.
const maxModelFileSize = 4 * 1024 * 1024

// modelFile is the on-disk JSON schema for an exported scoring model.
type modelFile struct {
	Name         string      `json:"name"`
	Type         string      `json:"type"` // "linear" or "centroid"
	Coefficients [][]float64 `json:"coefficients,omitempty"`
	Intercepts   []float64   `json:"intercepts,omitempty"`
	Centroids    [][]float64 `json:"centroids,omitempty"`
}

// LoadScaler reads the stage scaler from dir, or returns nil if the file does
// not exist. A missing scaler is a normal configuration: stage voting then
// runs on raw features with a logged warning.
func LoadScaler(dir string) (*StandardScaler, error) {
	path := filepath.Join(dir, scalerFileName)
	data, err := readModelFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s StandardScaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scaler %s: %w", path, err)
	}
	if len(s.Mean) == 0 || len(s.Scale) == 0 {
		return nil, fmt.Errorf("scaler %s has empty mean or scale", path)
	}
	return &s, nil
}

// LoadModels reads every model file in dir and returns the ones that loaded.
// Loading is per-model and non-fatal: a corrupt or missing file costs one
// voter, never the stage. The returned slice is ordered by model name so
// voting breakdowns are deterministic.
func LoadModels(dir string) []*Model {
	return LoadModelsWeighted(dir, nil)
}

// LoadModelsWeighted is LoadModels with per-model vote weight overrides from
// the tuning config. Models absent from overrides keep their table weight.
func LoadModelsWeighted(dir string, overrides map[string]float64) []*Model {
	entries, err := os.ReadDir(dir)
	if err != nil {
		monitoring.Logf("no models loaded from %s: %v", dir, err)
		return nil
	}

	var models []*Model
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == scalerFileName || !strings.HasSuffix(name, ".json") {
			continue
		}
		m, err := loadModel(filepath.Join(dir, name))
		if err != nil {
			monitoring.Logf("skipping model %s: %v", name, err)
			continue
		}
		if w, ok := overrides[m.Name]; ok {
			m.Weight = w
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	monitoring.Logf("loaded %d models from %s", len(models), dir)
	return models
}

// loadModel parses a single model file and wraps it in the predictor variant
// its type declares.
func loadModel(path string) (*Model, error) {
	data, err := readModelFile(path)
	if err != nil {
		return nil, err
	}

	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse model file: %w", err)
	}
	if mf.Name == "" {
		mf.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	var predictor PointPredictor
	switch mf.Type {
	case "linear":
		if len(mf.Coefficients) == 0 {
			return nil, fmt.Errorf("linear model %s has no coefficients", mf.Name)
		}
		predictor = &linearModel{coefficients: mf.Coefficients, intercepts: mf.Intercepts}
	case "centroid":
		if len(mf.Centroids) == 0 {
			return nil, fmt.Errorf("centroid model %s has no centroids", mf.Name)
		}
		predictor = &centroidModel{centroids: mf.Centroids}
	default:
		return nil, fmt.Errorf("unknown model type %q", mf.Type)
	}

	return &Model{
		Name:      mf.Name,
		Weight:    weightFor(mf.Name),
		Predictor: predictor,
	}, nil
}

// readModelFile validates and reads a model file: .json extension and a sane
// size, same policy as the tuning config loader.
func readModelFile(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("model file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxModelFileSize {
		return nil, fmt.Errorf("model file too large: %d bytes (max %d)", info.Size(), maxModelFileSize)
	}
	return os.ReadFile(cleanPath)
}
