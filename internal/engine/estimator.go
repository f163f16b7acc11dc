package engine

import (
	"strings"

	"github.com/Veraticus/taxflow/internal/model"
)

// Estimator computes the monetary estimate stored with a result.
type Estimator struct {
	refundable map[string]bool
}

// NewEstimator treats the given outcome labels as refundable.
func NewEstimator(refundableOutcomes []string) Estimator {
	set := make(map[string]bool, len(refundableOutcomes))
	for _, o := range refundableOutcomes {
		set[strings.ToLower(strings.TrimSpace(o))] = true
	}
	return Estimator{refundable: set}
}

// Estimate returns the tax paid when outcome is refundable, zero otherwise.
// A reasoning-supplied figure wins when it lies within [0, tax paid].
func (e Estimator) Estimate(rec model.Record, outcome string, supplied *float64) float64 {
	if supplied != nil && *supplied >= 0 && *supplied <= rec.TaxAmount {
		return *supplied
	}
	if e.refundable[strings.ToLower(strings.TrimSpace(outcome))] {
		return rec.TaxAmount
	}
	return 0
}
