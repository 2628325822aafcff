package validation

import (
	"github.com/medcanon-ai/platform/pkg/catalog"
	"github.com/medcanon-ai/platform/pkg/common/models"
)

// Rule assesses one converted value for a specific metric. Implementations
// adjust the reference range from clinical context, classify severity, and
// append recommendations.
type Rule interface {
	Assess(def catalog.ParameterDefinition, result models.ConversionResult, cc *models.ClinicalContext) models.ValidationOutcome
}

// Validator dispatches to per-metric rules with a generic range comparison
// as the default branch. Metrics without a bespoke rule are not an error.
type Validator struct {
	catalog catalog.Catalog
	rules   map[string]Rule
	generic Rule
}

func NewValidator(cat catalog.Catalog) *Validator {
	return &Validator{
		catalog: cat,
		rules: map[string]Rule{
			"bilirubin":  bilirubinRule{},
			"creatinine": creatinineRule{},
			"albumin":    albuminRule{},
			"alt":        aminotransferaseRule{name: "ALT"},
			"ast":        aminotransferaseRule{name: "AST"},
			"platelets":  plateletRule{},
			"inr":        inrRule{},
		},
		generic: genericRule{},
	}
}

// RegisterRule adds or replaces the bespoke rule for a metric.
func (v *Validator) RegisterRule(metric string, rule Rule) {
	v.rules[catalog.NormalizeName(metric)] = rule
}

// Validate assesses a single converted value. Context is advisory; nil is
// always accepted.
func (v *Validator) Validate(metric string, result models.ConversionResult, cc *models.ClinicalContext) models.ValidationOutcome {
	def, ok := v.catalog.Lookup(metric)
	if !ok {
		return models.ValidationOutcome{
			Metric:               metric,
			RiskLevel:            models.RiskLow,
			ClinicalSignificance: "metric not in catalog; no clinical assessment performed",
		}
	}

	rule, ok := v.rules[catalog.NormalizeName(def.Metric)]
	if !ok {
		rule = v.generic
	}
	outcome := rule.Assess(def, result, cc)
	outcome.Metric = def.Metric
	outcome.NormalRange = def.NormalRange
	return outcome
}

// ValidateSet assesses a group of values measured together and applies the
// cross-value consistency rules on top of the individual assessments.
func (v *Validator) ValidateSet(results []models.ConversionResult, cc *models.ClinicalContext) ([]models.ValidationOutcome, []models.ClinicalAlert) {
	outcomes := make([]models.ValidationOutcome, 0, len(results))
	for _, result := range results {
		outcomes = append(outcomes, v.Validate(result.Metric, result, cc))
	}
	return outcomes, v.crossChecks(results)
}

func riskAtLeast(current, proposed string) string {
	rank := map[string]int{
		models.RiskLow:      0,
		models.RiskMedium:   1,
		models.RiskHigh:     2,
		models.RiskCritical: 3,
	}
	if rank[proposed] > rank[current] {
		return proposed
	}
	return current
}
