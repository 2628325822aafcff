package conversion

import (
	"context"
	"strings"
	"time"

	"github.com/medcanon-ai/platform/pkg/catalog"
	"github.com/medcanon-ai/platform/pkg/common/models"
	"github.com/medcanon-ai/platform/pkg/observability/metrics"
)

// Confidence tiers. These drive human triage only; no code path rejects a
// value on confidence alone without an explicit error verdict.
const (
	confidenceExplicit = 0.95
	confidenceSmart    = 0.85
	confidenceFallback = 0.6
	confidenceUnknown  = 0.3
)

// Converter resolves raw (value, unit-or-empty) pairs to the catalog's
// standard unit and attaches a plausibility verdict. It never returns an
// error for malformed input; failures are encoded in ValidationStatus.
type Converter struct {
	catalog    catalog.Catalog
	cache      Cache
	smartRules map[string]SmartRule
}

func NewConverter(cat catalog.Catalog, cache Cache) *Converter {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Converter{
		catalog:    cat,
		cache:      cache,
		smartRules: defaultSmartRules(),
	}
}

// RegisterSmartRule adds or replaces the magnitude heuristic for a metric.
func (c *Converter) RegisterSmartRule(metric string, rule SmartRule) {
	c.smartRules[catalog.NormalizeName(metric)] = rule
}

// Convert resolves one measurement. Resolution order: explicit catalog rule
// on the raw unit, metric-specific smart heuristic, catalog value-pattern
// inference, then standard-unit fallback.
func (c *Converter) Convert(ctx context.Context, metric string, value float64, unit string, cc *models.ClinicalContext) models.ConversionResult {
	key := CacheKey(metric, value, unit, cc)
	if cached, ok := c.cache.Get(ctx, key); ok {
		metrics.IncConversionCacheHit()
		return *cached
	}

	result := c.convert(metric, value, unit)
	c.cache.Set(ctx, key, result)
	return result
}

func (c *Converter) convert(metric string, value float64, unit string) models.ConversionResult {
	result := models.ConversionResult{
		Metric:           metric,
		Value:            value,
		Unit:             unit,
		OriginalValue:    value,
		OriginalUnit:     unit,
		WasConverted:     false,
		ValidationStatus: models.ValidationUnknown,
		ConfidenceScore:  confidenceUnknown,
	}

	def, ok := c.catalog.Lookup(metric)
	if !ok {
		result.ValidationNotes = append(result.ValidationNotes, "metric not present in parameter catalog")
		return result
	}

	// Already in the standard unit: nothing to convert, only validate.
	if unitsEqual(unit, def.StandardUnit) {
		result.Unit = def.StandardUnit
		c.applyRangeValidation(&result, def, confidenceExplicit)
		return result
	}

	if res, ok := c.resolveExplicit(def, unit); ok {
		c.applyResolution(&result, def, res)
		return result
	}

	if rule, ok := c.smartRules[catalog.NormalizeName(metric)]; ok {
		if res, ok := rule.Resolve(def, value, unit); ok {
			c.applyResolution(&result, def, res)
			return result
		}
	}

	if res, ok := resolvePattern(def, value); ok {
		c.applyResolution(&result, def, res)
		return result
	}

	// Fallback: assume the value is already in the standard unit.
	result.Unit = def.StandardUnit
	result.ConversionRule = "fallback:assume-standard-unit"
	if unit == "" {
		result.ValidationNotes = append(result.ValidationNotes, "no unit recorded; assumed standard unit")
	}
	c.applyRangeValidation(&result, def, confidenceFallback)
	return result
}

// resolveExplicit matches the raw unit against the catalog conversion
// rules: case-insensitive equality first, then fuzzy substring.
func (c *Converter) resolveExplicit(def catalog.ParameterDefinition, unit string) (Resolution, bool) {
	if unit == "" {
		return Resolution{}, false
	}
	normalized := normalizeUnit(unit)
	for _, rule := range def.ConversionRules {
		if normalizeUnit(rule.FromUnit) == normalized {
			return Resolution{
				Factor:     rule.Factor,
				Rule:       "explicit:" + rule.FromUnit,
				SourceUnit: rule.FromUnit,
				Confidence: confidenceExplicit,
			}, true
		}
	}
	for _, rule := range def.ConversionRules {
		from := normalizeUnit(rule.FromUnit)
		if strings.Contains(normalized, from) || strings.Contains(from, normalized) {
			return Resolution{
				Factor:     rule.Factor,
				Rule:       "explicit-fuzzy:" + rule.FromUnit,
				SourceUnit: rule.FromUnit,
				Confidence: confidenceExplicit,
			}, true
		}
	}
	return Resolution{}, false
}

// resolvePattern infers a likely source unit from the raw magnitude via the
// catalog value patterns, then reuses the matching explicit rule's factor.
func resolvePattern(def catalog.ParameterDefinition, value float64) (Resolution, bool) {
	for _, pattern := range def.ValuePatterns {
		if !pattern.Range.Contains(value) {
			continue
		}
		for _, rule := range def.ConversionRules {
			if normalizeUnit(rule.FromUnit) == normalizeUnit(pattern.LikelyUnit) {
				return Resolution{
					Factor:     rule.Factor,
					Rule:       "pattern:" + pattern.LikelyUnit,
					SourceUnit: pattern.LikelyUnit,
					Confidence: pattern.Confidence,
				}, true
			}
		}
	}
	return Resolution{}, false
}

func (c *Converter) applyResolution(result *models.ConversionResult, def catalog.ParameterDefinition, res Resolution) {
	now := time.Now().UTC()
	result.Value = result.OriginalValue * res.Factor
	result.Unit = def.StandardUnit
	result.WasConverted = true
	result.ConversionFactor = res.Factor
	result.ConversionRule = res.Rule
	result.ConversionDate = &now
	if result.OriginalUnit == "" {
		result.ValidationNotes = append(result.ValidationNotes, "source unit inferred as "+res.SourceUnit)
	}
	c.applyRangeValidation(result, def, res.Confidence)
}

// applyRangeValidation classifies the resolved value against the catalog
// ranges. The final confidence is the lower of the resolution method's
// confidence and the range verdict's confidence, so explicit conversions
// never score below pattern-inferred ones for the same input.
func (c *Converter) applyRangeValidation(result *models.ConversionResult, def catalog.ParameterDefinition, methodConfidence float64) {
	value := result.Value
	cr := def.CriticalRange

	switch {
	case value > cr.Max*100 || value < cr.Min*0.01:
		result.ValidationStatus = models.ValidationError
		result.ConfidenceScore = 0.2
		result.ValidationNotes = append(result.ValidationNotes, "value breaches critical range beyond 100x tolerance; likely data error")
	case value > cr.Max*10 || value < cr.Min*0.1:
		result.ValidationStatus = models.ValidationSuspicious
		result.ConfidenceScore = minFloat(methodConfidence, 0.5)
		result.ValidationNotes = append(result.ValidationNotes, "value breaches critical range beyond 10x tolerance")
	case def.NormalRange.Contains(value):
		result.ValidationStatus = models.ValidationValid
		result.ConfidenceScore = minFloat(methodConfidence, 0.95)
	case cr.Contains(value):
		result.ValidationStatus = models.ValidationValid
		result.ConfidenceScore = minFloat(methodConfidence, 0.8)
		result.ValidationNotes = append(result.ValidationNotes, "value outside normal range but clinically plausible")
	default:
		result.ValidationStatus = models.ValidationSuspicious
		result.ConfidenceScore = minFloat(methodConfidence, 0.5)
		result.ValidationNotes = append(result.ValidationNotes, "value outside critical range")
	}
}

func unitsEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return normalizeUnit(a) == normalizeUnit(b)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
