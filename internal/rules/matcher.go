// Package rules evaluates curated static rules that map product types and vendors to outcomes.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/Veraticus/taxflow/internal/model"
)

// Rule is an alias to the model.StaticRule type for convenience.
type Rule = model.StaticRule

// Matcher evaluates records against static rules.
type Matcher struct {
	productRegex map[string]*regexp.Regexp
	vendorRegex  map[string]*regexp.Regexp
	rules        []Rule
}

// NewMatcher creates a matcher, pre-compiling regex patterns. Rules with an
// invalid regex are rejected.
func NewMatcher(rules []Rule) (*Matcher, error) {
	m := &Matcher{
		rules:        rules,
		productRegex: make(map[string]*regexp.Regexp),
		vendorRegex:  make(map[string]*regexp.Regexp),
	}

	for _, rule := range rules {
		if !rule.IsRegex {
			continue
		}
		if rule.ProductTypePattern != "" {
			re, err := regexp.Compile("(?i)" + rule.ProductTypePattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: invalid product type pattern: %w", rule.ID, err)
			}
			m.productRegex[rule.ID] = re
		}
		if rule.VendorPattern != "" {
			re, err := regexp.Compile("(?i)" + rule.VendorPattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: invalid vendor pattern: %w", rule.ID, err)
			}
			m.vendorRegex[rule.ID] = re
		}
	}

	return m, nil
}

// Rules returns the configured rules.
func (m *Matcher) Rules() []Rule {
	return m.rules
}

// Match evaluates a record against all active rules, highest priority first.
func (m *Matcher) Match(_ context.Context, rec model.Record) ([]Rule, error) {
	var matches []Rule

	for _, rule := range m.rules {
		if !rule.IsActive {
			continue
		}

		if m.matchesRule(rec, rule) {
			matches = append(matches, rule)
		}
	}

	// Priority desc, then ID for a stable order
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].ID < matches[j].ID
	})

	return matches, nil
}

// First returns the highest-priority matching rule, or nil.
func (m *Matcher) First(ctx context.Context, rec model.Record) *Rule {
	matches, err := m.Match(ctx, rec)
	if err != nil {
		slog.Warn("Static rule evaluation failed", "record_id", rec.ID, "error", err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}

// matchesRule checks if a record matches a specific rule.
func (m *Matcher) matchesRule(rec model.Record, rule Rule) bool {
	// A rule must constrain at least one text field
	if rule.ProductTypePattern == "" && rule.VendorPattern == "" {
		return false
	}

	if !m.matchesText(rec.ProductType, rule.ProductTypePattern, m.productRegex[rule.ID], rule.IsRegex) {
		return false
	}

	if !m.matchesText(rec.Vendor, rule.VendorPattern, m.vendorRegex[rule.ID], rule.IsRegex) {
		return false
	}

	return m.matchesAmount(rec, rule)
}

func (m *Matcher) matchesText(value, pattern string, re *regexp.Regexp, isRegex bool) bool {
	if pattern == "" {
		return true // No pattern means match all
	}

	if isRegex {
		return re != nil && re.MatchString(value)
	}

	// Exact match (case-insensitive)
	return strings.EqualFold(strings.TrimSpace(pattern), strings.TrimSpace(value))
}

// matchesAmount checks if the record amount matches the rule condition.
func (m *Matcher) matchesAmount(rec model.Record, rule Rule) bool {
	amount := rec.Amount

	switch rule.AmountCondition {
	case model.AmountAny, "":
		return true
	case model.AmountLessThan:
		return rule.AmountValue != nil && amount < *rule.AmountValue
	case model.AmountLessEqual:
		return rule.AmountValue != nil && amount <= *rule.AmountValue
	case model.AmountEqual:
		return rule.AmountValue != nil && amount == *rule.AmountValue
	case model.AmountGreaterEqual:
		return rule.AmountValue != nil && amount >= *rule.AmountValue
	case model.AmountGreaterThan:
		return rule.AmountValue != nil && amount > *rule.AmountValue
	case model.AmountRange:
		if rule.AmountMin != nil && amount < *rule.AmountMin {
			return false
		}
		if rule.AmountMax != nil && amount > *rule.AmountMax {
			return false
		}
		return true
	}

	return false
}
