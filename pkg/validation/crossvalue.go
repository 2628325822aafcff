package validation

import (
	"fmt"

	"github.com/medcanon-ai/platform/pkg/catalog"
	"github.com/medcanon-ai/platform/pkg/common/models"
)

// crossChecks applies consistency rules that only make sense across a full
// set of values from the same report. Each rule fires only when every
// metric it needs is present.
func (v *Validator) crossChecks(results []models.ConversionResult) []models.ClinicalAlert {
	values := make(map[string]float64, len(results))
	for _, result := range results {
		if def, ok := v.catalog.Lookup(result.Metric); ok {
			values[catalog.NormalizeName(def.Metric)] = result.Value
		}
	}

	var alerts []models.ClinicalAlert

	if ast, okAST := values["ast"]; okAST {
		if alt, okALT := values["alt"]; okALT && alt > 0 {
			if ratio := ast / alt; ratio > 3 {
				alerts = append(alerts, models.ClinicalAlert{
					Type:     "ast-alt-ratio",
					Severity: models.SeverityWarning,
					Message:  fmt.Sprintf("AST/ALT ratio %.1f exceeds 3; suggests non-hepatic source or severe hepatic damage", ratio),
					Action:   "correlate with CK and clinical picture",
					Urgency:  "routine",
				})
			}
		}
	}

	if albumin, okAlb := values["albumin"]; okAlb {
		if protein, okTP := values["totalprotein"]; okTP && protein > 0 {
			if ratio := albumin / protein; ratio < 0.3 || ratio > 0.8 {
				alerts = append(alerts, models.ClinicalAlert{
					Type:     "albumin-protein-ratio",
					Severity: models.SeverityWarning,
					Message:  fmt.Sprintf("albumin/total-protein ratio %.2f outside expected 0.3-0.8", ratio),
					Action:   "verify both values; consider protein electrophoresis",
					Urgency:  "routine",
				})
			}
		}
	}

	if sodium, ok := values["sodium"]; ok && sodium < 125 {
		alerts = append(alerts, models.ClinicalAlert{
			Type:     "severe-hyponatremia",
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("sodium %.0f mEq/L below 125; severe hyponatremia, relevant to MELD-Na", sodium),
			Action:   "urgent sodium correction per protocol",
			Urgency:  "immediate",
		})
	}

	return alerts
}
