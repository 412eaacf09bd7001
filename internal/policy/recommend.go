package policy

import (
	"fmt"
	"strings"

	"fintech-approve/internal/explain"
)

// recommendationRule pairs a feature-category predicate with the advice given
// when that category drives a rejection. Rules are evaluated in order; the
// first match wins.
type recommendationRule struct {
	category string
	matches  func(featureName string) bool
	message  string
}

var rejectionRules = []recommendationRule{
	{
		category: "credit",
		matches:  containsAny("cibil", "credit"),
		message:  "Improve your credit history: clearing existing dues and keeping utilisation low will lift your CIBIL score, the strongest factor in this decision.",
	},
	{
		category: "income",
		matches:  containsAny("income", "loan_amount", "loan_term", "dependents"),
		message:  "Reduce the requested loan amount or extend the term so the repayment burden fits your declared annual income.",
	},
	{
		category: "assets",
		matches:  containsAny("asset", "bank"),
		message:  "Strengthen your declared collateral: a higher asset coverage of the requested amount materially improves approval odds.",
	},
}

func containsAny(keywords ...string) func(string) bool {
	return func(name string) bool {
		lower := strings.ToLower(name)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	}
}

const (
	maintainMessage = "Approval is within policy but the margin is moderate. Maintain your current repayment trajectory and avoid taking on new liabilities."
	strongMessage   = "Your financial profile is strong across all assessed factors. No corrective action is needed."
)

// Recommend produces the single recommendation for a decision. For
// rejections it targets the highest-ranked driver that supported the
// rejection; drivers must already be ranked by absolute contribution.
func Recommend(verdict Verdict, band RiskBand, drivers []explain.Driver) string {
	if verdict == VerdictApproved {
		if band == RiskLow {
			return strongMessage
		}
		return maintainMessage
	}

	var target *explain.Driver
	for i := range drivers {
		if drivers[i].Effect == explain.EffectSupportsRejection {
			target = &drivers[i]
			break
		}
	}
	if target == nil {
		if len(drivers) == 0 {
			return "The application fell below the approval threshold. Review the submitted financial details and reapply."
		}
		target = &drivers[0]
	}

	for _, rule := range rejectionRules {
		if rule.matches(target.Feature) {
			return rule.message
		}
	}
	return fmt.Sprintf("The decision was driven primarily by %q. Improving this factor would have the largest effect on a future application.", target.Feature)
}
