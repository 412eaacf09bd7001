package feature

import (
	"fmt"
	"math"
)

// NumericField describes one standardized numeric input: the value is centered
// on Mean and scaled by Std, both fixed at fit time.
type NumericField struct {
	Name string  `json:"name" yaml:"name"`
	Mean float64 `json:"mean" yaml:"mean"`
	Std  float64 `json:"std" yaml:"std"`
}

// CategoricalField describes one one-hot expanded input and its fitted
// vocabulary. Vocabulary order determines slot order and never changes after
// fitting.
type CategoricalField struct {
	Name       string   `json:"name" yaml:"name"`
	Vocabulary []string `json:"vocabulary" yaml:"vocabulary"`
}

// Schema is the fitted transformation configuration. AllowUnknownCategories
// selects the policy for categorical values outside the fitted vocabulary:
// when true the value encodes as all-zero one-hot slots (the "ignore"
// handling the model was fitted with); when false it is a SchemaError.
type Schema struct {
	Numeric                []NumericField     `json:"numeric" yaml:"numeric"`
	Categorical            []CategoricalField `json:"categorical" yaml:"categorical"`
	AllowUnknownCategories bool               `json:"allow_unknown_categories" yaml:"allowUnknownCategories"`
}

// Transformer converts applications into the model's input vectors. It holds
// only fitted, read-only state and is safe for concurrent use.
type Transformer struct {
	schema   Schema
	names    []string
	baseline []float64
}

// NewTransformer builds a transformer from a fitted schema. The transformed
// feature-name list is fixed here: numeric fields first in schema order, then
// one one-hot slot per vocabulary entry named "field=value".
func NewTransformer(schema Schema) (*Transformer, error) {
	names := make([]string, 0, len(schema.Numeric)+len(schema.Categorical))
	for _, nf := range schema.Numeric {
		if nf.Std <= 0 {
			return nil, fmt.Errorf("numeric field %q: std must be positive, got %v", nf.Name, nf.Std)
		}
		names = append(names, nf.Name)
	}
	for _, cf := range schema.Categorical {
		if len(cf.Vocabulary) == 0 {
			return nil, fmt.Errorf("categorical field %q: empty vocabulary", cf.Name)
		}
		for _, v := range cf.Vocabulary {
			names = append(names, cf.Name+"="+v)
		}
	}

	t := &Transformer{schema: schema, names: names}

	baseline, err := t.Transform(BaselineApplication())
	if err != nil {
		return nil, fmt.Errorf("transform baseline: %w", err)
	}
	t.baseline = baseline
	return t, nil
}

// FeatureNames returns the transformed feature names in vector order. The
// returned slice is shared and must not be modified.
func (t *Transformer) FeatureNames() []string {
	return t.names
}

// NumFeatures returns the transformed vector length.
func (t *Transformer) NumFeatures() int {
	return len(t.names)
}

// Baseline returns the neutral reference vector used as the attribution
// starting point. The returned slice is shared and must not be modified.
func (t *Transformer) Baseline() []float64 {
	return t.baseline
}

// Transform maps an application to its standardized, one-hot expanded vector.
// Transforming the same application twice yields identical vectors.
func (t *Transformer) Transform(app Application) ([]float64, error) {
	if err := Validate(app); err != nil {
		return nil, err
	}

	vec := make([]float64, 0, len(t.names))
	for _, nf := range t.schema.Numeric {
		raw, ok := numericValue(app, nf.Name)
		if !ok {
			return nil, &SchemaError{Field: nf.Name, Reason: "unknown numeric field in fitted schema"}
		}
		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			return nil, &SchemaError{Field: nf.Name, Reason: "value is not a finite number"}
		}
		vec = append(vec, (raw-nf.Mean)/nf.Std)
	}

	for _, cf := range t.schema.Categorical {
		raw, ok := categoricalValue(app, cf.Name)
		if !ok {
			return nil, &SchemaError{Field: cf.Name, Reason: "unknown categorical field in fitted schema"}
		}
		matched := false
		for _, v := range cf.Vocabulary {
			if raw == v {
				vec = append(vec, 1)
				matched = true
			} else {
				vec = append(vec, 0)
			}
		}
		if !matched && !t.schema.AllowUnknownCategories {
			return nil, &SchemaError{
				Field:  cf.Name,
				Reason: fmt.Sprintf("value %q not in fitted vocabulary %v", raw, cf.Vocabulary),
			}
		}
	}

	return vec, nil
}

func numericValue(app Application, name string) (float64, bool) {
	switch name {
	case "no_of_dependents":
		return app.NoOfDependents, true
	case "income_annum":
		return app.IncomeAnnum, true
	case "loan_amount":
		return app.LoanAmount, true
	case "loan_term":
		return app.LoanTerm, true
	case "cibil_score":
		return app.CibilScore, true
	case "residential_assets_value":
		return app.ResidentialAssetsValue, true
	case "commercial_assets_value":
		return app.CommercialAssetsValue, true
	case "luxury_assets_value":
		return app.LuxuryAssetsValue, true
	case "bank_asset_value":
		return app.BankAssetValue, true
	}
	return 0, false
}

func categoricalValue(app Application, name string) (string, bool) {
	switch name {
	case "education":
		return app.Education, true
	case "self_employed":
		return app.SelfEmployed, true
	}
	return "", false
}
