// Package policy turns a model probability into the institutional credit
// decision: verdict, confidence, risk band, derived financial ratios, and a
// single actionable recommendation.
package policy

import (
	"fmt"
	"math"

	"fintech-approve/internal/explain"
	"fintech-approve/internal/feature"
)

type Verdict string

const (
	VerdictApproved Verdict = "Approved"
	VerdictRejected Verdict = "Rejected"
)

type RiskBand string

const (
	RiskLow    RiskBand = "Low"
	RiskMedium RiskBand = "Medium"
	RiskHigh   RiskBand = "High"
)

// PolicyError reports a probability outside [0,1]. A valid model cannot
// produce one, so this is an integrity violation and is never clamped away.
type PolicyError struct {
	Probability float64
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy: probability %v outside [0,1]", e.Probability)
}

// FinancialRatios are derived from the raw application, independent of the
// model. Denominators are floored at 1 to guard zero and near-zero values.
type FinancialRatios struct {
	AnnualEMI     float64 `json:"annual_emi"`
	DebtToIncome  float64 `json:"debt_to_income"`
	TotalAssets   float64 `json:"total_assets"`
	AssetCoverage float64 `json:"asset_coverage"`
}

// Decision is the full outcome for one application. Created once per request
// and never updated in place.
type Decision struct {
	Verdict        Verdict          `json:"loan_approval"`
	Probability    float64          `json:"approval_probability"`
	Confidence     float64          `json:"confidence"`
	RiskBand       RiskBand         `json:"risk_band"`
	Drivers        []explain.Driver `json:"risk_drivers"`
	Ratios         FinancialRatios  `json:"financial_ratios"`
	Recommendation string           `json:"recommendation"`
}

// Policy is the deterministic decision rule. Threshold is fixed at
// construction; evaluation is pure and lock-free.
type Policy struct {
	threshold float64
}

func New(threshold float64) *Policy {
	return &Policy{threshold: threshold}
}

// Evaluate applies the approval rule and risk banding. The band boundaries
// are business policy: approved probabilities above 0.8 are Low risk,
// rejected probabilities below 0.3 are High risk, everything else is Medium.
// Exactly 0.8 and exactly 0.3 both land in Medium.
func (p *Policy) Evaluate(prob float64, app feature.Application) (Decision, error) {
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return Decision{}, &PolicyError{Probability: prob}
	}

	d := Decision{Probability: prob}
	if prob >= p.threshold {
		d.Verdict = VerdictApproved
		d.Confidence = prob
		if prob > 0.8 {
			d.RiskBand = RiskLow
		} else {
			d.RiskBand = RiskMedium
		}
	} else {
		d.Verdict = VerdictRejected
		d.Confidence = 1 - prob
		if prob < 0.3 {
			d.RiskBand = RiskHigh
		} else {
			d.RiskBand = RiskMedium
		}
	}

	d.Ratios = Ratios(app)
	return d, nil
}

// Ratios computes the applicant's financial ratios from raw fields.
func Ratios(app feature.Application) FinancialRatios {
	emi := app.LoanAmount / math.Max(app.LoanTerm, 1)
	total := app.TotalAssets()
	return FinancialRatios{
		AnnualEMI:     emi,
		DebtToIncome:  emi / math.Max(app.IncomeAnnum, 1),
		TotalAssets:   total,
		AssetCoverage: total / math.Max(app.LoanAmount, 1),
	}
}
