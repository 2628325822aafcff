package models

import (
	"time"
)

// Validation verdicts attached to a conversion.
const (
	ValidationValid      = "valid"
	ValidationSuspicious = "suspicious"
	ValidationError      = "error"
	ValidationUnknown    = "unknown"
)

// Risk levels produced by clinical validation.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// RawMeasurement is a lab value as extracted from a document or entered
// manually, before unit normalization. Immutable once conversion starts.
type RawMeasurement struct {
	Metric        string    `json:"metric"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit,omitempty"` // empty when the source carried no unit label
	Source        string    `json:"source,omitempty"`
	ExtractedText string    `json:"extracted_text,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ConversionResult is the canonical representation of a measurement after
// unit resolution. OriginalValue/OriginalUnit are preserved for every
// converted record; rollback depends on them.
type ConversionResult struct {
	Metric           string     `json:"metric"`
	Value            float64    `json:"value"`
	Unit             string     `json:"unit"`
	OriginalValue    float64    `json:"original_value"`
	OriginalUnit     string     `json:"original_unit"`
	WasConverted     bool       `json:"was_converted"`
	ConversionFactor float64    `json:"conversion_factor,omitempty"`
	ConversionRule   string     `json:"conversion_rule,omitempty"`
	ConversionDate   *time.Time `json:"conversion_date,omitempty"`
	ValidationStatus string     `json:"validation_status"`
	ValidationNotes  []string   `json:"validation_notes,omitempty"`
	ConfidenceScore  float64    `json:"confidence_score"`
}

// ClinicalContext carries optional per-patient attributes. Absence of any
// field never blocks conversion or validation.
type ClinicalContext struct {
	Age            int        `json:"age,omitempty"`
	Gender         string     `json:"gender,omitempty"` // male, female
	Pregnant       bool       `json:"pregnant,omitempty"`
	OnDialysis     bool       `json:"on_dialysis,omitempty"`
	Medications    []string   `json:"medications,omitempty"`
	CollectionTime *time.Time `json:"collection_time,omitempty"`
}

// ReferenceRange is an inclusive numeric interval.
type ReferenceRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func (r ReferenceRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// ClinicalAlert is a single finding raised by the clinical validator.
type ClinicalAlert struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Action   string `json:"action,omitempty"`
	Urgency  string `json:"urgency,omitempty"` // immediate, urgent, routine
}

// ValidationOutcome is the clinical assessment of one converted value.
type ValidationOutcome struct {
	Metric               string          `json:"metric"`
	RiskLevel            string          `json:"risk_level"`
	ClinicalSignificance string          `json:"clinical_significance,omitempty"`
	Alerts               []ClinicalAlert `json:"alerts,omitempty"`
	Recommendations      []string        `json:"recommendations,omitempty"`
	NormalRange          ReferenceRange  `json:"normal_range"`
	AdjustedRange        *ReferenceRange `json:"adjusted_range,omitempty"`
}

// BatchProgress is a snapshot of one batch worker's counters. It is owned
// exclusively by the worker processing that batch.
type BatchProgress struct {
	BatchID        string    `json:"batch_id"`
	BatchNumber    int       `json:"batch_number"`
	TotalBatches   int       `json:"total_batches"`
	RecordsInBatch int       `json:"records_in_batch"`
	Processed      int       `json:"processed"`
	Converted      int       `json:"converted"`
	Skipped        int       `json:"skipped"`
	Errored        int       `json:"errored"`
	StartTime      time.Time `json:"start_time"`
}

// BatchError reports a single record or batch level failure.
type BatchError struct {
	BatchID   string    `json:"batch_id"`
	RecordID  string    `json:"record_id,omitempty"`
	Metric    string    `json:"metric,omitempty"`
	Severity  string    `json:"severity"` // error, critical
	Message   string    `json:"message"`
	Attempts  int       `json:"attempts,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchResult summarizes a completed batch.
type BatchResult struct {
	BatchID          string        `json:"batch_id"`
	BatchNumber      int           `json:"batch_number"`
	RecordsInBatch   int           `json:"records_in_batch"`
	Processed        int           `json:"processed"`
	Converted        int           `json:"converted"`
	Skipped          int           `json:"skipped"`
	Errored          int           `json:"errored"`
	Duration         time.Duration `json:"duration"`
	RecordsPerSecond float64       `json:"records_per_second"`
	Failed           bool          `json:"failed"`
	FailureReason    string        `json:"failure_reason,omitempty"`
}

// PerformanceMetrics aggregates batch timings across a run.
type PerformanceMetrics struct {
	FastestBatch     time.Duration `json:"fastest_batch"`
	SlowestBatch     time.Duration `json:"slowest_batch"`
	AverageBatchTime time.Duration `json:"average_batch_time"`
	ErrorRate        float64       `json:"error_rate"` // percent of processed records
}

// ExecutionSummary is the final report of a migration run. Returned even
// when the run aborted early, so partial progress is never lost.
type ExecutionSummary struct {
	RunID              string             `json:"run_id"`
	DryRun             bool               `json:"dry_run"`
	TotalBatches       int                `json:"total_batches"`
	SuccessfulBatches  int                `json:"successful_batches"`
	FailedBatches      int                `json:"failed_batches"`
	TotalRecords       int                `json:"total_records"`
	Processed          int                `json:"processed"`
	Converted          int                `json:"converted"`
	Skipped            int                `json:"skipped"`
	Errored            int                `json:"errored"`
	Aborted            bool               `json:"aborted"`
	StartTime          time.Time          `json:"start_time"`
	EndTime            time.Time          `json:"end_time"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	Errors             []BatchError       `json:"errors,omitempty"`
}

// Alert is a monitor-owned alert. Mutated only via acknowledge/clear.
type Alert struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Severity     string                 `json:"severity"`
	Message      string                 `json:"message"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Acknowledged bool                   `json:"acknowledged"`
}

// MonitoringReport is the monitor's periodic rollup.
type MonitoringReport struct {
	OverallStatus   string    `json:"overall_status"` // healthy, warning, critical
	ActiveAlerts    []Alert   `json:"active_alerts"`
	Recommendations []string  `json:"recommendations,omitempty"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// RecoveryPlan is the rollback pre-flight analysis.
type RecoveryPlan struct {
	ConvertedRecords  int           `json:"converted_records"`
	MissingOriginals  int           `json:"missing_originals"`
	HighRiskRecordIDs []string      `json:"high_risk_record_ids,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	GeneratedAt       time.Time     `json:"generated_at"`
}

// RollbackError reports a record that could not be rolled back.
type RollbackError struct {
	RecordID string `json:"record_id"`
	Metric   string `json:"metric,omitempty"`
	Message  string `json:"message"`
}

// RollbackResult summarizes a rollback or emergency-recovery run.
type RollbackResult struct {
	DryRun       bool            `json:"dry_run"`
	Attempted    int             `json:"attempted"`
	RolledBack   int             `json:"rolled_back"`
	Recovered    int             `json:"recovered,omitempty"`
	ResetToError int             `json:"reset_to_error,omitempty"`
	Failed       int             `json:"failed"`
	Errors       []RollbackError `json:"errors,omitempty"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
}

// Event is the bus envelope shared by all services.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // measurement, converted, alert, summary
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// ConvertRequest is the conversion-service API payload.
type ConvertRequest struct {
	Metric  string           `json:"metric"`
	Value   float64          `json:"value"`
	Unit    string           `json:"unit,omitempty"`
	Context *ClinicalContext `json:"context,omitempty"`
}

// ConvertResponse pairs the conversion with its clinical assessment.
type ConvertResponse struct {
	Conversion ConversionResult   `json:"conversion"`
	Validation *ValidationOutcome `json:"validation,omitempty"`
}

// BatchConvertRequest converts a set of measurements together so that
// cross-value rules (AST/ALT ratio, albumin/protein ratio, sodium) can fire.
type BatchConvertRequest struct {
	Measurements []ConvertRequest `json:"measurements"`
	Context      *ClinicalContext `json:"context,omitempty"`
}

type BatchConvertResponse struct {
	Results     []ConvertResponse `json:"results"`
	CrossChecks []ClinicalAlert   `json:"cross_checks,omitempty"`
}
