package validation

import (
	"fmt"

	"github.com/medcanon-ai/platform/pkg/catalog"
	"github.com/medcanon-ai/platform/pkg/common/models"
)

// genericRule is the default branch: plain normal/critical range comparison
// for metrics without a bespoke rule.
type genericRule struct{}

func (genericRule) Assess(def catalog.ParameterDefinition, result models.ConversionResult, cc *models.ClinicalContext) models.ValidationOutcome {
	outcome := models.ValidationOutcome{RiskLevel: models.RiskLow}
	value := result.Value
	switch {
	case def.NormalRange.Contains(value):
		outcome.ClinicalSignificance = "within normal range"
	case !def.CriticalRange.Contains(value):
		outcome.RiskLevel = models.RiskCritical
		outcome.ClinicalSignificance = "outside critical range"
		outcome.Alerts = append(outcome.Alerts, models.ClinicalAlert{
			Type:     "critical-range-breach",
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("%s value %.2f %s outside critical range %.2f-%.2f", def.Metric, value, def.StandardUnit, def.CriticalRange.Min, def.CriticalRange.Max),
			Action:   "verify source value and repeat test",
			Urgency:  "urgent",
		})
	default:
		outcome.RiskLevel = models.RiskMedium
		outcome.ClinicalSignificance = "outside normal range"
		outcome.Recommendations = append(outcome.Recommendations, "correlate clinically and consider repeat testing")
	}
	return outcome
}

type bilirubinRule struct{}

func (bilirubinRule) Assess(def catalog.ParameterDefinition, result models.ConversionResult, cc *models.ClinicalContext) models.ValidationOutcome {
	outcome := models.ValidationOutcome{RiskLevel: models.RiskLow}
	value := result.Value

	switch {
	case value > 3.0:
		outcome.RiskLevel = models.RiskCritical
		outcome.ClinicalSignificance = "severe hyperbilirubinemia"
		outcome.Alerts = append(outcome.Alerts, models.ClinicalAlert{
			Type:     "hyperbilirubinemia",
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("bilirubin %.2f mg/dL exceeds 3.0; significant hepatic dysfunction likely", value),
			Action:   "urgent hepatology evaluation",
			Urgency:  "immediate",
		})
		outcome.Recommendations = append(outcome.Recommendations, "assess for biliary obstruction and hepatocellular injury")
	case value > 2.0:
		outcome.RiskLevel = models.RiskHigh
		outcome.ClinicalSignificance = "marked hyperbilirubinemia"
		outcome.Recommendations = append(outcome.Recommendations, "fractionate bilirubin and review liver panel trend")
	case value > def.NormalRange.Max:
		outcome.RiskLevel = models.RiskMedium
		outcome.ClinicalSignificance = "mild hyperbilirubinemia"
		outcome.Recommendations = append(outcome.Recommendations, "consider Gilbert syndrome if isolated and unconjugated")
	default:
		outcome.ClinicalSignificance = "within normal range"
	}
	return outcome
}

type creatinineRule struct{}

func (creatinineRule) Assess(def catalog.ParameterDefinition, result models.ConversionResult, cc *models.ClinicalContext) models.ValidationOutcome {
	outcome := models.ValidationOutcome{RiskLevel: models.RiskLow}
	value := result.Value

	adjusted := def.NormalRange
	if cc != nil {
		switch cc.Gender {
		case "female":
			adjusted = models.ReferenceRange{Min: 0.6, Max: 1.1}
		case "male":
			adjusted = models.ReferenceRange{Min: 0.7, Max: 1.3}
		}
		// Muscle mass declines with age; tolerate a slightly higher upper bound.
		if cc.Age >= 65 {
			adjusted.Max += 0.2
		}
	}
	if adjusted != def.NormalRange {
		outcome.AdjustedRange = &adjusted
	}

	// Dialysis patients run elevated by design; normal-range flagging is
	// meaningless for them.
	if cc != nil && cc.OnDialysis {
		outcome.ClinicalSignificance = "dialysis patient; creatinine interpreted against dialysis baseline"
		if !def.CriticalRange.Contains(value) {
			outcome.RiskLevel = models.RiskHigh
			outcome.Recommendations = append(outcome.Recommendations, "verify value; outside plausible range even for dialysis")
		}
		return outcome
	}

	switch {
	case value >= 4.0:
		outcome.RiskLevel = models.RiskCritical
		outcome.ClinicalSignificance = "severe renal impairment"
		outcome.Alerts = append(outcome.Alerts, models.ClinicalAlert{
			Type:     "renal-failure",
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("creatinine %.2f mg/dL indicates severe renal impairment", value),
			Action:   "urgent nephrology referral",
			Urgency:  "immediate",
		})
	case value >= 2.0:
		outcome.RiskLevel = models.RiskHigh
		outcome.ClinicalSignificance = "moderate renal impairment"
		outcome.Recommendations = append(outcome.Recommendations, "estimate GFR and review nephrotoxic medications")
	case value > adjusted.Max:
		outcome.RiskLevel = models.RiskMedium
		outcome.ClinicalSignificance = "mildly elevated creatinine"
		outcome.Recommendations = append(outcome.Recommendations, "repeat with hydration status noted")
	case value < adjusted.Min:
		outcome.RiskLevel = models.RiskLow
		outcome.ClinicalSignificance = "low creatinine; usually reflects low muscle mass"
	default:
		outcome.ClinicalSignificance = "within adjusted normal range"
	}
	return outcome
}

type albuminRule struct{}

func (albuminRule) Assess(def catalog.ParameterDefinition, result models.ConversionResult, cc *models.ClinicalContext) models.ValidationOutcome {
	outcome := models.ValidationOutcome{RiskLevel: models.RiskLow}
	value := result.Value

	adjusted := def.NormalRange
	if cc != nil && cc.Pregnant {
		// Hemodilution of pregnancy lowers the expected floor.
		adjusted.Min -= 0.5
		outcome.AdjustedRange = &adjusted
	}

	switch {
	case value < 2.5:
		outcome.RiskLevel = models.RiskHigh
		outcome.ClinicalSignificance = "severe hypoalbuminemia"
		outcome.Alerts = append(outcome.Alerts, models.ClinicalAlert{
			Type:     "hypoalbuminemia",
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("albumin %.2f g/dL; severe synthetic dysfunction or protein loss", value),
			Action:   "assess nutrition, proteinuria, and hepatic synthetic function",
			Urgency:  "urgent",
		})
	case value < adjusted.Min:
		outcome.RiskLevel = models.RiskMedium
		outcome.ClinicalSignificance = "hypoalbuminemia"
		outcome.Recommendations = append(outcome.Recommendations, "check total protein and urine protein")
	case value > 5.5:
		outcome.RiskLevel = models.RiskMedium
		outcome.ClinicalSignificance = "elevated albumin; usually hemoconcentration"
		outcome.Recommendations = append(outcome.Recommendations, "assess hydration status")
	default:
		outcome.ClinicalSignificance = "within normal range"
	}
	return outcome
}

// aminotransferaseRule covers ALT and AST, which share severity tiers
// anchored on multiples of the upper reference limit.
type aminotransferaseRule struct {
	name string
}

func (r aminotransferaseRule) Assess(def catalog.ParameterDefinition, result models.ConversionResult, cc *models.ClinicalContext) models.ValidationOutcome {
	outcome := models.ValidationOutcome{RiskLevel: models.RiskLow}
	value := result.Value
	upper := def.NormalRange.Max

	switch {
	case value >= 1000:
		outcome.RiskLevel = models.RiskCritical
		outcome.ClinicalSignificance = "massive hepatocellular injury"
		outcome.Alerts = append(outcome.Alerts, models.ClinicalAlert{
			Type:     "acute-hepatocellular-injury",
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("%s %.0f U/L; consistent with ischemic, toxic, or viral injury", r.name, value),
			Action:   "immediate evaluation for acute liver failure",
			Urgency:  "immediate",
		})
	case value > upper*5:
		outcome.RiskLevel = models.RiskHigh
		outcome.ClinicalSignificance = "marked transaminase elevation"
		outcome.Recommendations = append(outcome.Recommendations, "hepatitis serologies and medication review")
	case value > upper*2:
		outcome.RiskLevel = models.RiskMedium
		outcome.ClinicalSignificance = "moderate transaminase elevation"
		outcome.Recommendations = append(outcome.Recommendations, "repeat in 2-4 weeks; review alcohol and hepatotoxic drugs")
	case value > upper:
		outcome.RiskLevel = models.RiskLow
		outcome.ClinicalSignificance = "mild transaminase elevation"
	default:
		outcome.ClinicalSignificance = "within normal range"
	}
	return outcome
}

type plateletRule struct{}

func (plateletRule) Assess(def catalog.ParameterDefinition, result models.ConversionResult, cc *models.ClinicalContext) models.ValidationOutcome {
	outcome := models.ValidationOutcome{RiskLevel: models.RiskLow}
	value := result.Value

	adjusted := def.NormalRange
	if cc != nil && cc.Pregnant {
		// Gestational thrombocytopenia commonly drifts below 150.
		adjusted.Min = 100
		outcome.AdjustedRange = &adjusted
	}

	switch {
	case value < 50:
		outcome.RiskLevel = models.RiskCritical
		outcome.ClinicalSignificance = "severe thrombocytopenia"
		outcome.Alerts = append(outcome.Alerts, models.ClinicalAlert{
			Type:     "bleeding-risk",
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("platelets %.0f ×10³/µL; spontaneous bleeding risk", value),
			Action:   "avoid invasive procedures; consider hematology consult",
			Urgency:  "immediate",
		})
	case value < 100:
		outcome.RiskLevel = models.RiskHigh
		outcome.ClinicalSignificance = "moderate thrombocytopenia"
		outcome.Recommendations = append(outcome.Recommendations, "review medications and repeat count")
	case value < adjusted.Min:
		outcome.RiskLevel = models.RiskMedium
		outcome.ClinicalSignificance = "mild thrombocytopenia"
	case value > 450:
		outcome.RiskLevel = models.RiskMedium
		outcome.ClinicalSignificance = "thrombocytosis"
		outcome.Recommendations = append(outcome.Recommendations, "exclude reactive causes; consider repeat testing")
	default:
		outcome.ClinicalSignificance = "within normal range"
	}
	return outcome
}

type inrRule struct{}

func (inrRule) Assess(def catalog.ParameterDefinition, result models.ConversionResult, cc *models.ClinicalContext) models.ValidationOutcome {
	outcome := models.ValidationOutcome{RiskLevel: models.RiskLow}
	value := result.Value

	anticoagulated := false
	if cc != nil {
		for _, med := range cc.Medications {
			if catalog.NormalizeName(med) == "warfarin" {
				anticoagulated = true
			}
		}
	}
	if anticoagulated {
		// Therapeutic target on warfarin is 2.0-3.0.
		adjusted := models.ReferenceRange{Min: 2.0, Max: 3.0}
		outcome.AdjustedRange = &adjusted
		switch {
		case value > 4.5:
			outcome.RiskLevel = models.RiskCritical
			outcome.Alerts = append(outcome.Alerts, supratherapeuticINRAlert(value))
		case value > 3.0:
			outcome.RiskLevel = models.RiskMedium
			outcome.ClinicalSignificance = "above therapeutic target"
			outcome.Recommendations = append(outcome.Recommendations, "adjust warfarin dose")
		case value < 2.0:
			outcome.RiskLevel = models.RiskMedium
			outcome.ClinicalSignificance = "below therapeutic target"
		default:
			outcome.ClinicalSignificance = "within therapeutic target"
		}
		return outcome
	}

	switch {
	case value > 4.5:
		outcome.RiskLevel = models.RiskCritical
		outcome.ClinicalSignificance = "severe coagulopathy"
		outcome.Alerts = append(outcome.Alerts, supratherapeuticINRAlert(value))
	case value > 2.0:
		outcome.RiskLevel = models.RiskHigh
		outcome.ClinicalSignificance = "marked coagulopathy; consider hepatic synthetic failure"
		outcome.Recommendations = append(outcome.Recommendations, "assess hepatic synthetic function and vitamin K status")
	case value > def.NormalRange.Max:
		outcome.RiskLevel = models.RiskMedium
		outcome.ClinicalSignificance = "mildly prolonged INR"
	default:
		outcome.ClinicalSignificance = "within normal range"
	}
	return outcome
}

func supratherapeuticINRAlert(value float64) models.ClinicalAlert {
	return models.ClinicalAlert{
		Type:     "bleeding-risk",
		Severity: models.SeverityCritical,
		Message:  fmt.Sprintf("INR %.1f; major bleeding risk", value),
		Action:   "hold anticoagulation; consider reversal",
		Urgency:  "immediate",
	}
}
