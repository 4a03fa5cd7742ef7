package signal

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"idx-signals/models"
)

// Artifact is the trained up-move classifier: a logistic model exported
// as JSON. Feature order in Features matches Coefficients.
type Artifact struct {
	Features         []string  `json:"features"`
	Target           string    `json:"target"`
	ThresholdDefault float64   `json:"threshold_default"`
	Coefficients     []float64 `json:"coefficients"`
	Intercept        float64   `json:"intercept"`
}

// LoadArtifact reads and validates a model artifact from disk.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse model artifact %s: %w", path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact %s: %w", path, err)
	}
	return &a, nil
}

// Validate checks structural consistency of the artifact.
func (a *Artifact) Validate() error {
	if len(a.Features) == 0 {
		return fmt.Errorf("no features")
	}
	if len(a.Coefficients) != len(a.Features) {
		return fmt.Errorf("%d coefficients for %d features",
			len(a.Coefficients), len(a.Features))
	}
	for _, c := range a.Coefficients {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("non-finite coefficient")
		}
	}
	if math.IsNaN(a.Intercept) || math.IsInf(a.Intercept, 0) {
		return fmt.Errorf("non-finite intercept")
	}
	return nil
}

// PredictProbability scores one snapshot row. Absent features contribute
// zero, matching the training-time imputation.
func (a *Artifact) PredictProbability(row *models.SnapshotRow) float64 {
	z := a.Intercept
	for i, name := range a.Features {
		z += a.Coefficients[i] * row.Feature(name)
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	// Large negative z would overflow exp; split on sign for stability.
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
