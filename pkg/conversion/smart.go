package conversion

import (
	"strings"

	"github.com/medcanon-ai/platform/pkg/catalog"
)

// Resolution is the outcome of a single unit-resolution step: the factor to
// apply, the rule that produced it, and the method's base confidence.
type Resolution struct {
	Factor     float64
	Rule       string
	SourceUnit string
	Confidence float64
}

// SmartRule is a metric-specific magnitude heuristic applied when no
// explicit conversion rule matched the raw unit. Source unit labels are
// frequently missing or inconsistent, so these look at the number itself.
type SmartRule interface {
	Resolve(def catalog.ParameterDefinition, value float64, unit string) (Resolution, bool)
}

// defaultSmartRules registers the built-in heuristics keyed by normalized
// metric name. Adding a metric is additive; nothing branches on names
// outside this table.
func defaultSmartRules() map[string]SmartRule {
	return map[string]SmartRule{
		"platelets":  plateletRule{},
		"bilirubin":  molarRule{factor: catalog.BilirubinMolarFactor, minMagnitude: 20},
		"creatinine": molarRule{factor: catalog.CreatinineMolarFactor, minMagnitude: 40},
		"albumin":    gramsPerLiterRule{min: 15, max: 60},
	}
}

// plateletRule handles the two dominant mislabelings of platelet counts:
// raw cells/µL (lab analyzers) and lakhs/µL (South Asian reports).
type plateletRule struct{}

func (plateletRule) Resolve(def catalog.ParameterDefinition, value float64, unit string) (Resolution, bool) {
	normalized := normalizeUnit(unit)
	switch {
	case value >= 50000:
		return Resolution{
			Factor:     0.001,
			Rule:       "smart:platelets-cells-per-ul",
			SourceUnit: "cells/µL",
			Confidence: 0.85,
		}, true
	case strings.Contains(normalized, "lakh") || (unit == "" && value >= 0.5 && value <= 10):
		return Resolution{
			Factor:     100,
			Rule:       "smart:platelets-lakhs",
			SourceUnit: "lakhs/µL",
			Confidence: 0.8,
		}, true
	}
	return Resolution{}, false
}

// molarRule divides by a molar-mass constant when the magnitude or the unit
// token implies µmol/L instead of mg/dL.
type molarRule struct {
	factor       float64
	minMagnitude float64
}

func (r molarRule) Resolve(def catalog.ParameterDefinition, value float64, unit string) (Resolution, bool) {
	normalized := normalizeUnit(unit)
	implied := strings.Contains(normalized, "mol")
	if !implied && unit == "" && value >= r.minMagnitude {
		implied = true
	}
	if !implied {
		return Resolution{}, false
	}
	return Resolution{
		Factor:     1 / r.factor,
		Rule:       "smart:umol-to-mg-dl",
		SourceUnit: "µmol/L",
		Confidence: 0.85,
	}, true
}

// gramsPerLiterRule divides by 10 when magnitude or unit implies g/L.
type gramsPerLiterRule struct {
	min, max float64
}

func (r gramsPerLiterRule) Resolve(def catalog.ParameterDefinition, value float64, unit string) (Resolution, bool) {
	normalized := normalizeUnit(unit)
	implied := normalized == "g/l" || normalized == "gl"
	if !implied && unit == "" && value >= r.min && value <= r.max {
		implied = true
	}
	if !implied {
		return Resolution{}, false
	}
	return Resolution{
		Factor:     0.1,
		Rule:       "smart:g-l-to-g-dl",
		SourceUnit: "g/L",
		Confidence: 0.85,
	}, true
}

func normalizeUnit(unit string) string {
	unit = strings.ToLower(strings.TrimSpace(unit))
	unit = strings.ReplaceAll(unit, " ", "")
	unit = strings.ReplaceAll(unit, "μ", "µ")
	return unit
}
