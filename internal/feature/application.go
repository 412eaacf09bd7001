// Package feature maps raw loan applications to the numeric vectors the
// probability model consumes. The transformation is a pure function of the
// fitted schema (standardization parameters and categorical vocabularies),
// so it is safe to call from any number of request goroutines.
package feature

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Application is one applicant's raw input record. Values are immutable once
// submitted; the pipeline never writes back into an Application.
type Application struct {
	NoOfDependents         float64 `json:"no_of_dependents" validate:"gte=0"`
	Education              string  `json:"education" validate:"required"`
	SelfEmployed           string  `json:"self_employed" validate:"required"`
	IncomeAnnum            float64 `json:"income_annum" validate:"gte=0"`
	LoanAmount             float64 `json:"loan_amount" validate:"gte=0"`
	LoanTerm               float64 `json:"loan_term" validate:"gte=0"`
	CibilScore             float64 `json:"cibil_score" validate:"gte=0"`
	ResidentialAssetsValue float64 `json:"residential_assets_value" validate:"gte=0"`
	CommercialAssetsValue  float64 `json:"commercial_assets_value" validate:"gte=0"`
	LuxuryAssetsValue      float64 `json:"luxury_assets_value" validate:"gte=0"`
	BankAssetValue         float64 `json:"bank_asset_value" validate:"gte=0"`
}

// wireFields lists every field an application record must carry, in wire
// order. Presence is checked explicitly on decode: an omitted numeric would
// otherwise coerce to zero and be standardized as a declared value of 0.
var wireFields = []string{
	"no_of_dependents",
	"education",
	"self_employed",
	"income_annum",
	"loan_amount",
	"loan_term",
	"cibil_score",
	"residential_assets_value",
	"commercial_assets_value",
	"luxury_assets_value",
	"bank_asset_value",
}

// UnmarshalJSON rejects records with unknown or missing fields before the
// struct-level constraints run. Every wire field is required.
func (a *Application) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	known := make(map[string]bool, len(wireFields))
	for _, f := range wireFields {
		known[f] = true
	}
	for key := range raw {
		if !known[key] {
			return &SchemaError{Field: key, Reason: "unknown field"}
		}
	}
	for _, f := range wireFields {
		if _, ok := raw[f]; !ok {
			return &SchemaError{Field: f, Reason: "missing required field"}
		}
	}

	type plain Application
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Application(p)
	return nil
}

// TotalAssets sums the four declared asset classes.
func (a Application) TotalAssets() float64 {
	return a.ResidentialAssetsValue + a.CommercialAssetsValue + a.LuxuryAssetsValue + a.BankAssetValue
}

// SchemaError reports a malformed or incomplete application. It is
// user-correctable and carries the offending field so callers can surface
// field-level detail.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid application field %q: %s", e.Field, e.Reason)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct-level constraints on an application and converts
// the first violation into a SchemaError. Vocabulary membership of
// categorical values is checked later by the transformer, which owns the
// fitted vocabularies.
func Validate(app Application) error {
	err := validate.Struct(app)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return &SchemaError{
			Field:  jsonFieldName(fe.StructField()),
			Reason: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
		}
	}
	return fmt.Errorf("validate application: %w", err)
}

// jsonFieldName maps a struct field name back to its wire name so SchemaError
// reports the field the caller actually sent.
func jsonFieldName(structField string) string {
	names := map[string]string{
		"NoOfDependents":         "no_of_dependents",
		"Education":              "education",
		"SelfEmployed":           "self_employed",
		"IncomeAnnum":            "income_annum",
		"LoanAmount":             "loan_amount",
		"LoanTerm":               "loan_term",
		"CibilScore":             "cibil_score",
		"ResidentialAssetsValue": "residential_assets_value",
		"CommercialAssetsValue":  "commercial_assets_value",
		"LuxuryAssetsValue":      "luxury_assets_value",
		"BankAssetValue":         "bank_asset_value",
	}
	if name, ok := names[structField]; ok {
		return name
	}
	return structField
}
