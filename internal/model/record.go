// Package model defines the core data structures for the taxflow pipeline.
package model

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Record is one unit of work, typically a single transaction line.
type Record struct {
	Date        time.Time         `json:"date" yaml:"date"`
	Extra       map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
	ID          string            `json:"id" yaml:"id"`
	Vendor      string            `json:"vendor" yaml:"vendor"`
	Description string            `json:"description" yaml:"description"`
	ProductType string            `json:"product_type" yaml:"product_type"`
	Category    string            `json:"category" yaml:"category"`
	Hash        string            `json:"hash,omitempty" yaml:"hash,omitempty"`
	Amount      float64           `json:"amount" yaml:"amount"`
	TaxAmount   float64           `json:"tax_amount" yaml:"tax_amount"`
}

// Validate checks the fields every record must carry.
func (r *Record) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.Vendor, validation.Required),
	)
}

// ComputeHash returns the SHA-256 of a canonical serialization of every field except Hash.
func (r *Record) ComputeHash() string {
	var b strings.Builder
	write := func(name, value string) {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(value))
		b.WriteByte('\n')
	}

	write("id", r.ID)
	write("vendor", r.Vendor)
	write("description", r.Description)
	write("product_type", r.ProductType)
	write("category", r.Category)
	write("amount", strconv.FormatFloat(r.Amount, 'f', -1, 64))
	write("tax_amount", strconv.FormatFloat(r.TaxAmount, 'f', -1, 64))
	if r.Date.IsZero() {
		write("date", "")
	} else {
		write("date", r.Date.UTC().Format(time.RFC3339Nano))
	}

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write("extra."+k, r.Extra[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum)
}

// Text joins the free-text fields used for keyword extraction and retrieval queries.
func (r *Record) Text() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{r.Vendor, r.Description, r.ProductType, r.Category} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
