package feature

// DefaultSchema returns the transformation parameters the shipped model was
// fitted with: per-field mean/std from the training set, and the two
// categorical vocabularies. Unknown categorical values are encoded as
// all-zero one-hot groups, matching the fit-time handling.
func DefaultSchema() Schema {
	return Schema{
		Numeric: []NumericField{
			{Name: "no_of_dependents", Mean: 2.50, Std: 1.70},
			{Name: "income_annum", Mean: 5_059_000, Std: 2_806_000},
			{Name: "loan_amount", Mean: 15_133_000, Std: 9_043_000},
			{Name: "loan_term", Mean: 10.9, Std: 5.71},
			{Name: "cibil_score", Mean: 600, Std: 172.4},
			{Name: "residential_assets_value", Mean: 7_473_000, Std: 6_503_000},
			{Name: "commercial_assets_value", Mean: 4_973_000, Std: 4_388_000},
			{Name: "luxury_assets_value", Mean: 15_126_000, Std: 9_103_000},
			{Name: "bank_asset_value", Mean: 4_976_000, Std: 3_250_000},
		},
		Categorical: []CategoricalField{
			{Name: "education", Vocabulary: []string{"Graduate", "Not Graduate"}},
			{Name: "self_employed", Vocabulary: []string{"No", "Yes"}},
		},
		AllowUnknownCategories: true,
	}
}

// BaselineApplication is the fixed neutral record all attributions are
// measured against: zero-valued numerics with the modal categorical values.
func BaselineApplication() Application {
	return Application{
		NoOfDependents: 0,
		Education:      "Graduate",
		SelfEmployed:   "No",
	}
}
