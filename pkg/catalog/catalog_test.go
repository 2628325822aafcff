package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookupExactAndAlias(t *testing.T) {
	cat := DefaultCatalog()

	if _, ok := cat.Lookup("bilirubin"); !ok {
		t.Fatal("exact key must resolve")
	}
	if def, ok := cat.Lookup("SGPT"); !ok || def.Metric != "alt" {
		t.Fatalf("alias SGPT must resolve to alt, got %q ok=%t", def.Metric, ok)
	}
	if def, ok := cat.Lookup("S. Bilirubin"); !ok || def.Metric != "bilirubin" {
		t.Fatalf("punctuated alias must resolve, got %q ok=%t", def.Metric, ok)
	}
	if def, ok := cat.Lookup("Platelet Count"); !ok || def.Metric != "platelets" {
		t.Fatalf("spaced alias must resolve, got %q ok=%t", def.Metric, ok)
	}
	if _, ok := cat.Lookup("ferritin"); ok {
		t.Fatal("unlisted metric must not resolve")
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"S. Bilirubin (Total)": "sbilirubintotal",
		"bilirubin-total":      "bilirubintotal",
		"PT-INR":               "ptinr",
		"  Platelet Count  ":   "plateletcount",
	}
	for input, want := range cases {
		if got := NormalizeName(input); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestDefaultCatalogRangesNest(t *testing.T) {
	for key, def := range DefaultCatalog().Parameters {
		if err := def.validate(); err != nil {
			t.Errorf("parameter %s: %v", key, err)
		}
	}
}

func TestLoadEmptyPathUsesBuiltin(t *testing.T) {
	cat, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cat.Lookup("creatinine"); !ok {
		t.Fatal("built-in catalog must be returned")
	}
}

func TestLoadMissingFileFallsBackWithError(t *testing.T) {
	cat, err := Load("/nonexistent/catalog.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, ok := cat.Lookup("creatinine"); !ok {
		t.Fatal("missing file must still yield the built-in catalog")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	content := `
parameters:
  glucose:
    metric: glucose
    standard_unit: mg/dL
    normal_range:
      min: 70
      max: 100
    critical_range:
      min: 20
      max: 600
    conversion_rules:
      - from_unit: mmol/L
        to_unit: mg/dL
        factor: 18.0182
    aliases:
      - blood sugar
      - fbs
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp catalog: %v", err)
	}

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def, ok := cat.Lookup("blood sugar")
	if !ok || def.Metric != "glucose" {
		t.Fatalf("expected alias resolution from loaded file, got %q ok=%t", def.Metric, ok)
	}
	if len(def.ConversionRules) != 1 || def.ConversionRules[0].Factor != 18.0182 {
		t.Fatalf("conversion rules not loaded: %+v", def.ConversionRules)
	}
}

func TestLoadRejectsBadRangeNesting(t *testing.T) {
	content := `
parameters:
  broken:
    metric: broken
    standard_unit: mg/dL
    normal_range:
      min: 10
      max: 5
    critical_range:
      min: 1
      max: 100
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp catalog: %v", err)
	}
	cat, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for inverted normal range")
	}
	if _, ok := cat.Lookup("creatinine"); !ok {
		t.Fatal("rejected file must still yield the built-in catalog")
	}
	if _, ok := cat.Lookup("broken"); ok {
		t.Fatal("rejected definitions must not be loaded")
	}
}

func TestLoadMalformedYAMLFallsBackToBuiltin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("parameters: [not a map"), 0o644); err != nil {
		t.Fatalf("write temp catalog: %v", err)
	}
	cat, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error for malformed YAML")
	}
	if len(cat.Parameters) == 0 {
		t.Fatal("malformed file must never yield an empty catalog")
	}
	if _, ok := cat.Lookup("creatinine"); !ok {
		t.Fatal("malformed file must still yield the built-in catalog")
	}
}
