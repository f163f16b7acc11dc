package model

// StaticRule is a curated product-type or vendor mapping to an outcome.
type StaticRule struct {
	AmountValue        *float64            `json:"amount_value,omitempty" yaml:"amount_value,omitempty"`
	AmountMin          *float64            `json:"amount_min,omitempty" yaml:"amount_min,omitempty"`
	AmountMax          *float64            `json:"amount_max,omitempty" yaml:"amount_max,omitempty"`
	ID                 string              `json:"id" yaml:"id"`
	Name               string              `json:"name" yaml:"name"`
	Description        string              `json:"description,omitempty" yaml:"description,omitempty"`
	ProductTypePattern string              `json:"product_type_pattern,omitempty" yaml:"product_type_pattern,omitempty"`
	VendorPattern      string              `json:"vendor_pattern,omitempty" yaml:"vendor_pattern,omitempty"`
	AmountCondition    AmountConditionType `json:"amount_condition,omitempty" yaml:"amount_condition,omitempty"`
	Outcome            string              `json:"outcome" yaml:"outcome"`
	Citation           string              `json:"citation,omitempty" yaml:"citation,omitempty"`
	Priority           int                 `json:"priority" yaml:"priority"`
	Confidence         float64             `json:"confidence" yaml:"confidence"`
	IsActive           bool                `json:"is_active" yaml:"is_active"`
	IsRegex            bool                `json:"is_regex" yaml:"is_regex"`
}

// AmountConditionType represents the type of amount comparison.
type AmountConditionType string

// Amount condition constants.
const (
	AmountLessThan     AmountConditionType = "lt"
	AmountLessEqual    AmountConditionType = "le"
	AmountEqual        AmountConditionType = "eq"
	AmountGreaterEqual AmountConditionType = "ge"
	AmountGreaterThan  AmountConditionType = "gt"
	AmountRange        AmountConditionType = "range"
	AmountAny          AmountConditionType = "any"
)
