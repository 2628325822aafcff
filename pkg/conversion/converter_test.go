package conversion

import (
	"context"
	"math"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/medcanon-ai/platform/pkg/catalog"
	"github.com/medcanon-ai/platform/pkg/common/logger"
	"github.com/medcanon-ai/platform/pkg/common/models"
	"github.com/medcanon-ai/platform/pkg/observability/metrics"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func newTestConverter() *Converter {
	return NewConverter(catalog.DefaultCatalog(), NewMemoryCache())
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 0.001
}

func TestConvertPlateletsRawCountNoUnit(t *testing.T) {
	converter := newTestConverter()
	result := converter.Convert(context.Background(), "platelets", 180000, "", nil)

	if !result.WasConverted {
		t.Fatal("expected conversion")
	}
	if result.Value != 180 || result.Unit != "×10³/µL" {
		t.Fatalf("expected 180 ×10³/µL, got %g %s", result.Value, result.Unit)
	}
	if result.ValidationStatus != models.ValidationValid {
		t.Fatalf("180 is in normal range, got status %s", result.ValidationStatus)
	}
	if result.ConversionRule != "smart:platelets-cells-per-ul" {
		t.Fatalf("unexpected rule %s", result.ConversionRule)
	}
	if result.OriginalValue != 180000 || result.OriginalUnit != "" {
		t.Fatal("original value and unit must be preserved")
	}
}

func TestConvertPlateletsLakhs(t *testing.T) {
	converter := newTestConverter()
	result := converter.Convert(context.Background(), "platelets", 2.5, "", nil)

	if !result.WasConverted || result.Value != 250 {
		t.Fatalf("expected 2.5 lakhs to resolve to 250, got %g (converted=%t)", result.Value, result.WasConverted)
	}
	if result.ConversionRule != "smart:platelets-lakhs" {
		t.Fatalf("unexpected rule %s", result.ConversionRule)
	}
}

func TestConvertBilirubinMicromolar(t *testing.T) {
	converter := newTestConverter()
	result := converter.Convert(context.Background(), "bilirubin", 35, "µmol/L", nil)

	if !result.WasConverted {
		t.Fatal("expected conversion")
	}
	if !approx(result.Value, 35/17.1) {
		t.Fatalf("expected ≈2.047 mg/dL, got %g", result.Value)
	}
	if result.Unit != "mg/dL" {
		t.Fatalf("unexpected unit %s", result.Unit)
	}
	// 2.05 is above normal but within the critical range: plausible, flagged.
	if result.ValidationStatus != models.ValidationValid {
		t.Fatalf("unexpected status %s", result.ValidationStatus)
	}
	if len(result.ValidationNotes) == 0 {
		t.Fatal("expected an out-of-normal-range note")
	}
	if result.OriginalValue != 35 || result.OriginalUnit != "µmol/L" {
		t.Fatal("original value and unit must be preserved")
	}
}

func TestConvertGreekMuVariantMatchesExplicitRule(t *testing.T) {
	converter := newTestConverter()
	result := converter.Convert(context.Background(), "bilirubin", 35, "μmol/L", nil)

	if !result.WasConverted || !approx(result.Value, 35/17.1) {
		t.Fatalf("Greek mu spelling must match the explicit rule, got %g (converted=%t)",
			result.Value, result.WasConverted)
	}
	if result.ConversionRule != "explicit:µmol/L" {
		t.Fatalf("unexpected rule %s", result.ConversionRule)
	}
}

func TestConvertStandardUnitIsIdempotent(t *testing.T) {
	converter := newTestConverter()
	result := converter.Convert(context.Background(), "platelets", 250, "×10³/µL", nil)

	if result.WasConverted {
		t.Fatal("value already in standard unit must not be converted")
	}
	if result.Value != 250 {
		t.Fatalf("value must be unchanged, got %g", result.Value)
	}
	if result.ValidationStatus != models.ValidationValid {
		t.Fatalf("unexpected status %s", result.ValidationStatus)
	}
}

func TestConvertUnknownMetric(t *testing.T) {
	converter := newTestConverter()
	result := converter.Convert(context.Background(), "quantum flux", 42, "units", nil)

	if result.WasConverted {
		t.Fatal("unknown metric must not be converted")
	}
	if result.ValidationStatus != models.ValidationUnknown {
		t.Fatalf("unexpected status %s", result.ValidationStatus)
	}
	if result.ConfidenceScore != 0.3 {
		t.Fatalf("unexpected confidence %g", result.ConfidenceScore)
	}
	if result.Value != 42 || result.Unit != "units" {
		t.Fatal("unknown metric must pass value and unit through untouched")
	}
}

func TestConvertFallbackAssumesStandardUnit(t *testing.T) {
	converter := newTestConverter()
	// sodium has no smart rule and no value patterns
	result := converter.Convert(context.Background(), "sodium", 140, "", nil)

	if result.WasConverted {
		t.Fatal("fallback must not mark the record converted")
	}
	if result.ConversionRule != "fallback:assume-standard-unit" {
		t.Fatalf("unexpected rule %s", result.ConversionRule)
	}
	if result.Unit != "mEq/L" {
		t.Fatalf("fallback must report the standard unit, got %s", result.Unit)
	}
	if result.ConfidenceScore != 0.6 {
		t.Fatalf("fallback confidence must be 0.6, got %g", result.ConfidenceScore)
	}
	found := false
	for _, note := range result.ValidationNotes {
		if note == "no unit recorded; assumed standard unit" {
			found = true
		}
	}
	if !found {
		t.Fatal("fallback on an unlabeled value must be noted")
	}
}

func TestConvertImplausibleMagnitudeIsError(t *testing.T) {
	converter := newTestConverter()
	result := converter.Convert(context.Background(), "sodium", 20000, "mEq/L", nil)

	if result.ValidationStatus != models.ValidationError {
		t.Fatalf("100x critical breach must be an error, got %s", result.ValidationStatus)
	}
	if result.ConfidenceScore != 0.2 {
		t.Fatalf("unexpected confidence %g", result.ConfidenceScore)
	}
}

func TestConvertSuspiciousMagnitude(t *testing.T) {
	converter := newTestConverter()
	result := converter.Convert(context.Background(), "sodium", 2000, "mEq/L", nil)

	if result.ValidationStatus != models.ValidationSuspicious {
		t.Fatalf("10x critical breach must be suspicious, got %s", result.ValidationStatus)
	}
	if result.ConfidenceScore > 0.5 {
		t.Fatalf("suspicious verdict caps confidence at 0.5, got %g", result.ConfidenceScore)
	}
}

func TestExplicitOutscoresPatternInference(t *testing.T) {
	converter := newTestConverter()
	explicit := converter.Convert(context.Background(), "bilirubin", 35, "µmol/L", nil)
	// unrecognized unit label falls through to value-pattern inference
	inferred := converter.Convert(context.Background(), "bilirubin", 35, "IU", nil)

	if !inferred.WasConverted || !approx(inferred.Value, 35/17.1) {
		t.Fatalf("pattern inference should resolve the same factor, got %g", inferred.Value)
	}
	if explicit.ConfidenceScore <= inferred.ConfidenceScore {
		t.Fatalf("explicit conversion must outscore pattern inference: %g vs %g",
			explicit.ConfidenceScore, inferred.ConfidenceScore)
	}
}

func TestConvertUsesCache(t *testing.T) {
	cache := NewMemoryCache()
	converter := NewConverter(catalog.DefaultCatalog(), cache)
	ctx := context.Background()

	first := converter.Convert(ctx, "bilirubin", 35, "µmol/L", nil)
	if cache.Len() != 1 {
		t.Fatalf("expected 1 cache entry, got %d", cache.Len())
	}

	// Poison the cached entry; a cache hit returns it verbatim.
	key := CacheKey("bilirubin", 35, "µmol/L", nil)
	poisoned := first
	poisoned.ConversionRule = "cached-sentinel"
	cache.Set(ctx, key, poisoned)

	second := converter.Convert(ctx, "bilirubin", 35, "µmol/L", nil)
	if second.ConversionRule != "cached-sentinel" {
		t.Fatal("expected cache hit to short-circuit conversion")
	}
}

func scrapeMetric(name string) (float64, bool) {
	rec := httptest.NewRecorder()
	metrics.WritePrometheus(rec)
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, name+" ") {
			value, err := strconv.ParseFloat(strings.TrimPrefix(line, name+" "), 64)
			if err == nil {
				return value, true
			}
		}
	}
	return 0, false
}

func TestCacheHitIncrementsCounter(t *testing.T) {
	converter := newTestConverter()
	ctx := context.Background()

	converter.Convert(ctx, "bilirubin", 35, "µmol/L", nil)
	before, ok := scrapeMetric("medcanon_conversion_cache_hits_total")
	if !ok {
		t.Fatal("cache-hit counter not exposed")
	}

	converter.Convert(ctx, "bilirubin", 35, "µmol/L", nil)
	after, _ := scrapeMetric("medcanon_conversion_cache_hits_total")
	if after != before+1 {
		t.Fatalf("expected cache-hit counter to advance by 1, got %g -> %g", before, after)
	}
}

func TestCacheKeyIncludesClinicalContext(t *testing.T) {
	bare := CacheKey("creatinine", 1.0, "mg/dL", nil)
	female := CacheKey("creatinine", 1.0, "mg/dL", &models.ClinicalContext{Age: 40, Gender: "female"})
	male := CacheKey("creatinine", 1.0, "mg/dL", &models.ClinicalContext{Age: 40, Gender: "male"})

	if bare == female || female == male {
		t.Fatal("clinical context must change the cache key")
	}
}

func TestRegisterSmartRuleOverride(t *testing.T) {
	converter := newTestConverter()
	converter.RegisterSmartRule("Platelets", smartRuleFunc(func(def catalog.ParameterDefinition, value float64, unit string) (Resolution, bool) {
		return Resolution{Factor: 0.5, Rule: "smart:test-override", SourceUnit: "test", Confidence: 0.85}, true
	}))

	result := converter.Convert(context.Background(), "platelets", 600, "oddball", nil)
	if result.ConversionRule != "smart:test-override" || result.Value != 300 {
		t.Fatalf("expected override rule to apply, got %s value %g", result.ConversionRule, result.Value)
	}
}

type smartRuleFunc func(def catalog.ParameterDefinition, value float64, unit string) (Resolution, bool)

func (f smartRuleFunc) Resolve(def catalog.ParameterDefinition, value float64, unit string) (Resolution, bool) {
	return f(def, value, unit)
}
