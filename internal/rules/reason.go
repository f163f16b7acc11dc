package rules

import (
	"fmt"

	"github.com/Veraticus/taxflow/internal/model"
)

// Explain creates a human-readable explanation for why a rule applied to a record.
func Explain(rec model.Record, rule Rule) string {
	subject := rec.ProductType
	if subject == "" {
		subject = rec.Vendor
	}

	reason := fmt.Sprintf("Rule %s: %s", rule.ID, subject)

	switch rule.AmountCondition {
	case model.AmountLessThan:
		if rule.AmountValue != nil {
			reason += fmt.Sprintf(" under $%.2f", *rule.AmountValue)
		}
	case model.AmountGreaterThan:
		if rule.AmountValue != nil {
			reason += fmt.Sprintf(" over $%.2f", *rule.AmountValue)
		}
	case model.AmountRange:
		if rule.AmountMin != nil && rule.AmountMax != nil {
			reason += fmt.Sprintf(" between $%.2f and $%.2f", *rule.AmountMin, *rule.AmountMax)
		}
	}

	reason += fmt.Sprintf(" is %s", rule.Outcome)
	if rule.Citation != "" {
		reason += fmt.Sprintf(" (%s)", rule.Citation)
	}

	return reason
}
