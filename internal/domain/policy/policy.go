// Package policy holds the invoice approval policy and the deterministic engine that
// turns an extraction result and a compliance opinion into a routing decision.
package policy

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"gopkg.in/yaml.v3"
)

// Field names an ExtractionResult attribute that a policy can require
type Field string

const (
	FieldSupplierName  Field = "supplier_name"
	FieldInvoiceNumber Field = "invoice_number"
	FieldInvoiceDate   Field = "invoice_date"
	FieldTotalAmount   Field = "total_amount"
	FieldCurrency      Field = "currency"
	FieldLineItems     Field = "line_items"
)

var knownFields = map[Field]bool{
	FieldSupplierName:  true,
	FieldInvoiceNumber: true,
	FieldInvoiceDate:   true,
	FieldTotalAmount:   true,
	FieldCurrency:      true,
	FieldLineItems:     true,
}

// ConfigError reports a malformed policy. It is fatal at startup.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid policy: %s: %s", e.Field, e.Message)
}

func configErr(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TierConfig is one tier boundary as written in the policy file.
// An empty UpperBound marks the unbounded top tier.
type TierConfig struct {
	UpperBound string `yaml:"upper_bound"`
	Tier       string `yaml:"tier"`
}

// Config is the on-disk shape of a policy file
type Config struct {
	Version            string       `yaml:"version"`
	AutoApproveCeiling string       `yaml:"auto_approve_ceiling"`
	TierBoundaries     []TierConfig `yaml:"tier_boundaries"`
	DisallowedKeywords []string     `yaml:"disallowed_keywords"`
	RequiredFields     []string     `yaml:"required_fields"`
	MaxInvoiceAgeDays  int          `yaml:"max_invoice_age_days"`
}

// TierBoundary maps amounts up to and including UpperBound to Tier.
// A nil UpperBound is unbounded.
type TierBoundary struct {
	UpperBound *entity.Amount
	Tier       entity.ApproverTier
}

// Policy is a validated, immutable approval policy
type Policy struct {
	Version            string
	AutoApproveCeiling entity.Amount
	TierBoundaries     []TierBoundary
	DisallowedKeywords []string
	RequiredFields     []Field
	MaxInvoiceAgeDays  int
}

// New validates cfg and builds a Policy
func New(cfg Config) (*Policy, error) {
	ceiling, err := entity.ParseAmount(cfg.AutoApproveCeiling)
	if err != nil {
		return nil, configErr("auto_approve_ceiling", "%v", err)
	}
	if ceiling < 0 {
		return nil, configErr("auto_approve_ceiling", "must not be negative, got %s", ceiling)
	}

	if cfg.MaxInvoiceAgeDays <= 0 {
		return nil, configErr("max_invoice_age_days", "must be positive, got %d", cfg.MaxInvoiceAgeDays)
	}

	tiers, err := buildTiers(cfg.TierBoundaries)
	if err != nil {
		return nil, err
	}

	fields := make([]Field, 0, len(cfg.RequiredFields))
	seenField := make(map[Field]bool)
	for _, raw := range cfg.RequiredFields {
		f := Field(strings.ToLower(strings.TrimSpace(raw)))
		if !knownFields[f] {
			return nil, configErr("required_fields", "unknown field %q", raw)
		}
		if seenField[f] {
			continue
		}
		seenField[f] = true
		fields = append(fields, f)
	}

	return &Policy{
		Version:            cfg.Version,
		AutoApproveCeiling: ceiling,
		TierBoundaries:     tiers,
		DisallowedKeywords: normalizeKeywords(cfg.DisallowedKeywords),
		RequiredFields:     fields,
		MaxInvoiceAgeDays:  cfg.MaxInvoiceAgeDays,
	}, nil
}

func buildTiers(raw []TierConfig) ([]TierBoundary, error) {
	if len(raw) == 0 {
		return nil, configErr("tier_boundaries", "at least one tier is required")
	}

	tiers := make([]TierBoundary, 0, len(raw))
	for i, tc := range raw {
		tier := entity.ApproverTier(strings.TrimSpace(tc.Tier))
		if !tier.Valid() {
			return nil, configErr("tier_boundaries", "entry %d: unknown tier %q", i, tc.Tier)
		}

		boundary := TierBoundary{Tier: tier}
		if strings.TrimSpace(tc.UpperBound) != "" {
			bound, err := entity.ParseAmount(tc.UpperBound)
			if err != nil {
				return nil, configErr("tier_boundaries", "entry %d: %v", i, err)
			}
			boundary.UpperBound = &bound
		}

		if i > 0 {
			prev := tiers[i-1]
			if prev.UpperBound == nil {
				return nil, configErr("tier_boundaries", "entry %d follows the unbounded tier", i)
			}
			if boundary.UpperBound != nil && *boundary.UpperBound <= *prev.UpperBound {
				return nil, configErr("tier_boundaries", "entry %d: bounds must be strictly ascending (%s after %s)",
					i, *boundary.UpperBound, *prev.UpperBound)
			}
			if tier.Rank() <= prev.Tier.Rank() {
				return nil, configErr("tier_boundaries", "entry %d: tier %s must be more senior than %s",
					i, tier, prev.Tier)
			}
		}
		tiers = append(tiers, boundary)
	}

	if tiers[len(tiers)-1].UpperBound != nil {
		return nil, configErr("tier_boundaries", "the last tier must be unbounded")
	}
	return tiers, nil
}

// normalizeKeywords lower-cases, trims and de-duplicates keywords keeping their order
func normalizeKeywords(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool)
	for _, k := range raw {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// Parse decodes a YAML policy document; unknown keys are rejected
func Parse(data []byte) (*Policy, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, configErr("document", "%v", err)
	}
	return New(cfg)
}

// LoadFile reads and validates a YAML policy file
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// HighestTier returns the most senior tier the policy defines
func (p *Policy) HighestTier() entity.ApproverTier {
	return p.TierBoundaries[len(p.TierBoundaries)-1].Tier
}

// TierFor returns the smallest tier whose upper bound covers amount
func (p *Policy) TierFor(amount entity.Amount) entity.ApproverTier {
	for _, b := range p.TierBoundaries {
		if b.UpperBound == nil || amount <= *b.UpperBound {
			return b.Tier
		}
	}
	return p.HighestTier()
}

// Requires reports whether f is a required field
func (p *Policy) Requires(f Field) bool {
	for _, rf := range p.RequiredFields {
		if rf == f {
			return true
		}
	}
	return false
}
