package migration

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/medcanon-ai/platform/pkg/common/logger"
	"github.com/medcanon-ai/platform/pkg/common/models"
)

// RollbackOptions configures a rollback run.
type RollbackOptions struct {
	ValidateBeforeRollback     bool
	CreateBackupBeforeRollback bool
	DryRun                     bool
	PageSize                   int
}

const (
	defaultRollbackPageSize = 200
	// per-record estimate used by Analyze
	rollbackRecordCost = 25 * time.Millisecond
	// cap on record IDs listed in a recovery plan
	planHighRiskLimit = 100
)

// Rollback reverses committed conversions using the preserved original
// values, and performs best-effort recovery when originals are missing.
type Rollback struct {
	store RollbackStore
}

func NewRollback(store RollbackStore) *Rollback {
	return &Rollback{store: store}
}

// Analyze produces a pre-flight plan: how many records are affected, which
// cannot be rolled back, and a duration estimate.
func (s *Rollback) Analyze(ctx context.Context) (*models.RecoveryPlan, error) {
	count, err := s.store.CountConverted(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count converted records: %w", err)
	}

	plan := &models.RecoveryPlan{
		ConvertedRecords:  int(count),
		EstimatedDuration: time.Duration(count) * rollbackRecordCost,
		GeneratedAt:       time.Now().UTC(),
	}

	records, err := s.snapshotConverted(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.OriginalValue == nil {
			plan.MissingOriginals++
			if len(plan.HighRiskRecordIDs) < planHighRiskLimit {
				plan.HighRiskRecordIDs = append(plan.HighRiskRecordIDs, record.ID)
			}
		}
	}
	return plan, nil
}

// Execute rolls converted records back most-recent-first. A record with no
// preserved original value is reported as an error and left unmodified;
// the run keeps going and still reports success for the rest.
func (s *Rollback) Execute(ctx context.Context, opts RollbackOptions) (*models.RollbackResult, error) {
	result := &models.RollbackResult{
		DryRun:    opts.DryRun,
		StartTime: time.Now().UTC(),
	}

	if opts.CreateBackupBeforeRollback && !opts.DryRun {
		name, err := s.store.BackupConverted(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		logger.Log.WithField("backup_table", name).Info("Created rollback backup")
	}

	records, err := s.snapshotConverted(ctx)
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		if ctx.Err() != nil {
			break
		}
		result.Attempted++

		if record.OriginalValue == nil {
			result.Failed++
			result.Errors = append(result.Errors, models.RollbackError{
				RecordID: record.ID,
				Metric:   record.Metric,
				Message:  "original value missing; cannot roll back without manual intervention",
			})
			continue
		}

		if opts.ValidateBeforeRollback {
			if err := validateReversible(record); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, models.RollbackError{
					RecordID: record.ID,
					Metric:   record.Metric,
					Message:  err.Error(),
				})
				continue
			}
		}

		if opts.DryRun {
			logger.Log.WithFields(map[string]interface{}{
				"record_id":     record.ID,
				"restore_value": *record.OriginalValue,
				"restore_unit":  record.OriginalUnit,
				"current_value": record.Value,
				"current_unit":  record.Unit,
			}).Info("Dry run: would roll back record")
			result.RolledBack++
			continue
		}

		if err := s.store.RestoreOriginal(ctx, record.ID, *record.OriginalValue, record.OriginalUnit); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, models.RollbackError{
				RecordID: record.ID,
				Metric:   record.Metric,
				Message:  fmt.Sprintf("restore failed: %v", err),
			})
			continue
		}
		result.RolledBack++
	}

	result.EndTime = time.Now().UTC()
	logger.Log.WithFields(map[string]interface{}{
		"attempted":   result.Attempted,
		"rolled_back": result.RolledBack,
		"failed":      result.Failed,
		"dry_run":     opts.DryRun,
	}).Info("Rollback finished")
	return result, nil
}

// EmergencyRecover handles records whose conversion metadata is already
// corrupted. It reverse-derives the original from the conversion factor
// when one is present; otherwise it resets the record to an explicit
// unconverted error state. It never fabricates a plausible original value.
func (s *Rollback) EmergencyRecover(ctx context.Context, opts RollbackOptions) (*models.RollbackResult, error) {
	result := &models.RollbackResult{
		DryRun:    opts.DryRun,
		StartTime: time.Now().UTC(),
	}

	records, err := s.snapshotConverted(ctx)
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		if ctx.Err() != nil {
			break
		}
		if record.OriginalValue != nil {
			// Intact metadata belongs to the normal rollback path.
			continue
		}
		result.Attempted++

		switch {
		case record.ConversionFactor != 0:
			derived := record.Value / record.ConversionFactor
			unit := record.OriginalUnit
			if unit == "" {
				unit = record.Unit
			}
			if opts.DryRun {
				logger.Log.WithFields(map[string]interface{}{
					"record_id":     record.ID,
					"derived_value": derived,
					"unit":          unit,
				}).Info("Dry run: would recover record by reverse-derivation")
				result.Recovered++
				continue
			}
			if err := s.store.RestoreOriginal(ctx, record.ID, derived, unit); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, models.RollbackError{
					RecordID: record.ID,
					Metric:   record.Metric,
					Message:  fmt.Sprintf("recovery restore failed: %v", err),
				})
				continue
			}
			result.Recovered++
		default:
			note := "conversion metadata corrupted; original value unrecoverable"
			if opts.DryRun {
				logger.Log.WithField("record_id", record.ID).Info("Dry run: would reset record to unconverted error state")
				result.ResetToError++
				continue
			}
			if err := s.store.ResetToError(ctx, record.ID, note); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, models.RollbackError{
					RecordID: record.ID,
					Metric:   record.Metric,
					Message:  fmt.Sprintf("reset failed: %v", err),
				})
				continue
			}
			result.ResetToError++
		}
	}

	result.EndTime = time.Now().UTC()
	logger.Log.WithFields(map[string]interface{}{
		"attempted":      result.Attempted,
		"recovered":      result.Recovered,
		"reset_to_error": result.ResetToError,
		"failed":         result.Failed,
		"dry_run":        opts.DryRun,
	}).Info("Emergency recovery finished")
	return result, nil
}

// snapshotConverted pages the full converted set up front so restores do
// not shift offsets mid-run. Pages arrive most-recent-conversion-first and
// the order is preserved.
func (s *Rollback) snapshotConverted(ctx context.Context) ([]Record, error) {
	var all []Record
	offset := 0
	for {
		page, err := s.store.FetchConvertedPage(ctx, offset, defaultRollbackPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to page converted records: %w", err)
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		offset += len(page)
	}
}

// validateReversible checks that the stored factor is consistent with the
// value pair before trusting it for a restore.
func validateReversible(record Record) error {
	if record.ConversionFactor == 0 {
		return nil
	}
	expected := *record.OriginalValue * record.ConversionFactor
	if expected == 0 {
		return nil
	}
	if math.Abs(expected-record.Value)/math.Abs(expected) > 0.01 {
		return fmt.Errorf("stored value %.4f inconsistent with original %.4f x factor %.6f; manual review required",
			record.Value, *record.OriginalValue, record.ConversionFactor)
	}
	return nil
}
