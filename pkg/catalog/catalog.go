package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/medcanon-ai/platform/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// ConversionRule maps a source unit to the parameter's standard unit by a
// multiplicative factor.
type ConversionRule struct {
	FromUnit string  `yaml:"from_unit" json:"from_unit"`
	ToUnit   string  `yaml:"to_unit" json:"to_unit"`
	Factor   float64 `yaml:"factor" json:"factor"`
}

// ValuePattern infers a likely source unit from the raw magnitude when no
// unit label was recorded and no smart heuristic matched.
type ValuePattern struct {
	Range      models.ReferenceRange `yaml:"range" json:"range"`
	LikelyUnit string                `yaml:"likely_unit" json:"likely_unit"`
	Confidence float64               `yaml:"confidence" json:"confidence"`
}

// ParameterDefinition is one catalog entry. Immutable at run time.
type ParameterDefinition struct {
	Metric          string                `yaml:"metric" json:"metric"`
	StandardUnit    string                `yaml:"standard_unit" json:"standard_unit"`
	NormalRange     models.ReferenceRange `yaml:"normal_range" json:"normal_range"`
	CriticalRange   models.ReferenceRange `yaml:"critical_range" json:"critical_range"`
	ConversionRules []ConversionRule      `yaml:"conversion_rules,omitempty" json:"conversion_rules,omitempty"`
	ValuePatterns   []ValuePattern        `yaml:"value_patterns,omitempty" json:"value_patterns,omitempty"`
	Aliases         []string              `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

type Catalog struct {
	Parameters map[string]ParameterDefinition `yaml:"parameters" json:"parameters"`
}

// Load reads a catalog YAML file, falling back to the built-in catalog when
// no path is configured. Definitions whose ranges are not properly nested
// are rejected. Every failure path returns the built-in catalog alongside
// the error, so a caller that logs and continues never runs with zero
// parameters.
func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return DefaultCatalog(), fmt.Errorf("failed to parse parameter catalog: %w", err)
	}
	if len(cat.Parameters) == 0 {
		return DefaultCatalog(), fmt.Errorf("parameter catalog empty")
	}
	for key, def := range cat.Parameters {
		if err := def.validate(); err != nil {
			return DefaultCatalog(), fmt.Errorf("parameter %s: %w", key, err)
		}
	}
	return cat, nil
}

func (d ParameterDefinition) validate() error {
	if d.StandardUnit == "" {
		return fmt.Errorf("standard unit missing")
	}
	if d.CriticalRange.Min > d.NormalRange.Min ||
		d.NormalRange.Min > d.NormalRange.Max ||
		d.NormalRange.Max > d.CriticalRange.Max {
		return fmt.Errorf("normal range must nest inside critical range")
	}
	return nil
}

// Lookup resolves a metric name: exact key first, then normalized alias
// match ignoring case, spacing and punctuation.
func (c Catalog) Lookup(name string) (ParameterDefinition, bool) {
	if c.Parameters == nil {
		return ParameterDefinition{}, false
	}
	if def, ok := c.Parameters[strings.ToLower(strings.TrimSpace(name))]; ok {
		return def, true
	}
	normalized := NormalizeName(name)
	for key, def := range c.Parameters {
		if NormalizeName(key) == normalized {
			return def, true
		}
		for _, alias := range def.Aliases {
			if NormalizeName(alias) == normalized {
				return def, true
			}
		}
	}
	return ParameterDefinition{}, false
}

// NormalizeName lowercases a metric name and strips spacing and punctuation
// so that "S. Bilirubin (Total)" and "bilirubin-total" compare equal.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Molar-mass constants used for µmol/L to mg/dL conversion.
const (
	BilirubinMolarFactor  = 17.1
	CreatinineMolarFactor = 88.4
)

func DefaultCatalog() Catalog {
	return Catalog{Parameters: map[string]ParameterDefinition{
		"bilirubin": {
			Metric:        "bilirubin",
			StandardUnit:  "mg/dL",
			NormalRange:   models.ReferenceRange{Min: 0.2, Max: 1.2},
			CriticalRange: models.ReferenceRange{Min: 0.1, Max: 30},
			ConversionRules: []ConversionRule{
				{FromUnit: "µmol/L", ToUnit: "mg/dL", Factor: 1 / BilirubinMolarFactor},
				{FromUnit: "umol/L", ToUnit: "mg/dL", Factor: 1 / BilirubinMolarFactor},
			},
			ValuePatterns: []ValuePattern{
				{Range: models.ReferenceRange{Min: 20, Max: 600}, LikelyUnit: "µmol/L", Confidence: 0.7},
			},
			Aliases: []string{"total bilirubin", "bilirubin total", "tbil", "s. bilirubin"},
		},
		"creatinine": {
			Metric:        "creatinine",
			StandardUnit:  "mg/dL",
			NormalRange:   models.ReferenceRange{Min: 0.7, Max: 1.3},
			CriticalRange: models.ReferenceRange{Min: 0.2, Max: 25},
			ConversionRules: []ConversionRule{
				{FromUnit: "µmol/L", ToUnit: "mg/dL", Factor: 1 / CreatinineMolarFactor},
				{FromUnit: "umol/L", ToUnit: "mg/dL", Factor: 1 / CreatinineMolarFactor},
			},
			ValuePatterns: []ValuePattern{
				{Range: models.ReferenceRange{Min: 40, Max: 1500}, LikelyUnit: "µmol/L", Confidence: 0.7},
			},
			Aliases: []string{"serum creatinine", "creat", "s. creatinine"},
		},
		"albumin": {
			Metric:        "albumin",
			StandardUnit:  "g/dL",
			NormalRange:   models.ReferenceRange{Min: 3.5, Max: 5.0},
			CriticalRange: models.ReferenceRange{Min: 1.0, Max: 7.0},
			ConversionRules: []ConversionRule{
				{FromUnit: "g/L", ToUnit: "g/dL", Factor: 0.1},
			},
			ValuePatterns: []ValuePattern{
				{Range: models.ReferenceRange{Min: 15, Max: 60}, LikelyUnit: "g/L", Confidence: 0.75},
			},
			Aliases: []string{"serum albumin", "alb", "s. albumin"},
		},
		"alt": {
			Metric:        "alt",
			StandardUnit:  "U/L",
			NormalRange:   models.ReferenceRange{Min: 7, Max: 56},
			CriticalRange: models.ReferenceRange{Min: 1, Max: 5000},
			Aliases:       []string{"sgpt", "alanine aminotransferase", "alanine transaminase"},
		},
		"ast": {
			Metric:        "ast",
			StandardUnit:  "U/L",
			NormalRange:   models.ReferenceRange{Min: 10, Max: 40},
			CriticalRange: models.ReferenceRange{Min: 1, Max: 5000},
			Aliases:       []string{"sgot", "aspartate aminotransferase", "aspartate transaminase"},
		},
		"platelets": {
			Metric:        "platelets",
			StandardUnit:  "×10³/µL",
			NormalRange:   models.ReferenceRange{Min: 150, Max: 450},
			CriticalRange: models.ReferenceRange{Min: 10, Max: 1500},
			ConversionRules: []ConversionRule{
				{FromUnit: "cells/µL", ToUnit: "×10³/µL", Factor: 0.001},
				{FromUnit: "/µL", ToUnit: "×10³/µL", Factor: 0.001},
				{FromUnit: "lakhs/µL", ToUnit: "×10³/µL", Factor: 100},
				{FromUnit: "lakh", ToUnit: "×10³/µL", Factor: 100},
			},
			ValuePatterns: []ValuePattern{
				{Range: models.ReferenceRange{Min: 10000, Max: 2000000}, LikelyUnit: "cells/µL", Confidence: 0.85},
			},
			Aliases: []string{"platelet count", "plt", "thrombocytes"},
		},
		"inr": {
			Metric:        "inr",
			StandardUnit:  "ratio",
			NormalRange:   models.ReferenceRange{Min: 0.8, Max: 1.2},
			CriticalRange: models.ReferenceRange{Min: 0.5, Max: 10},
			Aliases:       []string{"international normalized ratio", "pt inr", "pt-inr"},
		},
		"sodium": {
			Metric:        "sodium",
			StandardUnit:  "mEq/L",
			NormalRange:   models.ReferenceRange{Min: 136, Max: 145},
			CriticalRange: models.ReferenceRange{Min: 110, Max: 160},
			ConversionRules: []ConversionRule{
				{FromUnit: "mmol/L", ToUnit: "mEq/L", Factor: 1},
			},
			Aliases: []string{"na", "serum sodium", "s. sodium"},
		},
		"total protein": {
			Metric:        "total protein",
			StandardUnit:  "g/dL",
			NormalRange:   models.ReferenceRange{Min: 6.0, Max: 8.3},
			CriticalRange: models.ReferenceRange{Min: 3.0, Max: 12.0},
			ConversionRules: []ConversionRule{
				{FromUnit: "g/L", ToUnit: "g/dL", Factor: 0.1},
			},
			ValuePatterns: []ValuePattern{
				{Range: models.ReferenceRange{Min: 35, Max: 95}, LikelyUnit: "g/L", Confidence: 0.7},
			},
			Aliases: []string{"protein total", "tp", "serum protein"},
		},
		"hemoglobin": {
			Metric:        "hemoglobin",
			StandardUnit:  "g/dL",
			NormalRange:   models.ReferenceRange{Min: 12.0, Max: 17.5},
			CriticalRange: models.ReferenceRange{Min: 3.0, Max: 25.0},
			ConversionRules: []ConversionRule{
				{FromUnit: "g/L", ToUnit: "g/dL", Factor: 0.1},
			},
			ValuePatterns: []ValuePattern{
				{Range: models.ReferenceRange{Min: 60, Max: 200}, LikelyUnit: "g/L", Confidence: 0.7},
			},
			Aliases: []string{"hb", "hgb", "haemoglobin"},
		},
	}}
}
