package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog/log"
)

// LogisticParams holds the fitted coefficients of the approval classifier.
// Weights are indexed by transformed feature position; FeatureNames documents
// the ordering the model was fitted against.
type LogisticParams struct {
	FeatureNames []string  `json:"feature_names"`
	Weights      []float64 `json:"weights"`
	Intercept    float64   `json:"intercept"`
}

// Logistic is a fitted logistic-regression classifier over standardized
// features. All state is read-only after construction.
type Logistic struct {
	weights   []float64
	intercept float64
	names     []string
}

func NewLogistic(p LogisticParams) (*Logistic, error) {
	if len(p.Weights) == 0 {
		return nil, fmt.Errorf("logistic params: no weights")
	}
	if len(p.FeatureNames) != 0 && len(p.FeatureNames) != len(p.Weights) {
		return nil, fmt.Errorf("logistic params: %d feature names for %d weights",
			len(p.FeatureNames), len(p.Weights))
	}
	for i, w := range p.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("logistic params: weight %d is not finite", i)
		}
	}
	return &Logistic{
		weights:   append([]float64(nil), p.Weights...),
		intercept: p.Intercept,
		names:     append([]string(nil), p.FeatureNames...),
	}, nil
}

// LoadLogistic reads fitted parameters from a JSON file written at training
// time.
func LoadLogistic(path string) (*Logistic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model params %s: %w", path, err)
	}
	var p LogisticParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse model params %s: %w", path, err)
	}
	m, err := NewLogistic(p)
	if err != nil {
		return nil, err
	}
	log.Info().Str("params_path", path).Int("features", m.NumFeatures()).Msg("logistic model loaded")
	return m, nil
}

func (m *Logistic) NumFeatures() int {
	return len(m.weights)
}

// Probability returns sigmoid(w·vec + b).
func (m *Logistic) Probability(vec []float64) (float64, error) {
	if len(vec) != len(m.weights) {
		return 0, &InferenceError{
			Reason: fmt.Sprintf("expected %d features, got %d", len(m.weights), len(vec)),
		}
	}
	z := m.intercept
	for i, w := range m.weights {
		z += w * vec[i]
	}
	p := 1 / (1 + math.Exp(-z))
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, &InferenceError{Reason: fmt.Sprintf("score %v outside [0,1]", p)}
	}
	return p, nil
}

// DefaultLogistic returns the shipped classifier, fitted against
// feature.DefaultSchema's vector layout. Used for tests and local runs when
// no params file is configured.
func DefaultLogistic() *Logistic {
	m, err := NewLogistic(LogisticParams{
		FeatureNames: []string{
			"no_of_dependents", "income_annum", "loan_amount", "loan_term",
			"cibil_score", "residential_assets_value", "commercial_assets_value",
			"luxury_assets_value", "bank_asset_value",
			"education=Graduate", "education=Not Graduate",
			"self_employed=No", "self_employed=Yes",
		},
		Weights: []float64{
			-0.08, 0.45, -0.52, -0.18,
			2.35, 0.12, 0.10,
			0.07, 0.15,
			0.05, -0.05,
			0.02, -0.02,
		},
		Intercept: 0.85,
	})
	if err != nil {
		// Parameters are compile-time constants; this cannot fail.
		panic(err)
	}
	return m
}
