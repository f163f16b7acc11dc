package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
)

// File is the on-disk layout of a static rules file.
type File struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFile reads and validates a YAML rules file. A missing path yields no rules.
func LoadFile(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}

	// #nosec G304 - path comes from user configuration
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	return Parse(bytes.NewReader(data))
}

// Parse decodes and validates rules from YAML.
func Parse(r io.Reader) ([]Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse rules: %w", common.ErrConfiguration, err)
	}

	seen := make(map[string]bool, len(f.Rules))
	for i := range f.Rules {
		if err := Validate(&f.Rules[i]); err != nil {
			return nil, fmt.Errorf("%w: rule %d: %w", common.ErrConfiguration, i, err)
		}
		if seen[f.Rules[i].ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %q", common.ErrConfiguration, f.Rules[i].ID)
		}
		seen[f.Rules[i].ID] = true
	}

	// Validate regexes up front
	if _, err := NewMatcher(f.Rules); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConfiguration, err)
	}

	return f.Rules, nil
}

// Validate checks a single rule.
func Validate(rule *Rule) error {
	err := validation.ValidateStruct(rule,
		validation.Field(&rule.ID, validation.Required),
		validation.Field(&rule.Outcome, validation.Required),
		validation.Field(&rule.Confidence, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&rule.AmountCondition, validation.In(
			model.AmountAny, model.AmountLessThan, model.AmountLessEqual, model.AmountEqual,
			model.AmountGreaterEqual, model.AmountGreaterThan, model.AmountRange,
		)),
	)
	if err != nil {
		return err
	}
	if rule.ProductTypePattern == "" && rule.VendorPattern == "" {
		return errors.New("rule needs a product_type_pattern or vendor_pattern")
	}
	switch rule.AmountCondition {
	case model.AmountLessThan, model.AmountLessEqual, model.AmountEqual,
		model.AmountGreaterEqual, model.AmountGreaterThan:
		if rule.AmountValue == nil {
			return fmt.Errorf("amount condition %q requires amount_value", rule.AmountCondition)
		}
	}
	return nil
}
