package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medcanon-ai/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MeasurementModel is the persisted row. Conversion columns are nullable;
// rollback nulls them out together with the value/unit restore.
type MeasurementModel struct {
	ID               string         `gorm:"primaryKey;column:id"`
	Metric           string         `gorm:"column:metric;index"`
	Value            *float64       `gorm:"column:value"`
	Unit             string         `gorm:"column:unit"`
	Source           string         `gorm:"column:source"`
	WasConverted     bool           `gorm:"column:was_converted;index"`
	OriginalValue    *float64       `gorm:"column:original_value"`
	OriginalUnit     *string        `gorm:"column:original_unit"`
	ConversionFactor *float64       `gorm:"column:conversion_factor"`
	ConversionRule   *string        `gorm:"column:conversion_rule"`
	ConversionDate   *time.Time     `gorm:"column:conversion_date;index"`
	ValidationStatus *string        `gorm:"column:validation_status"`
	ValidationNotes  datatypes.JSON `gorm:"column:validation_notes"`
	ConfidenceScore  *float64       `gorm:"column:confidence_score"`
	CreatedAt        time.Time      `gorm:"column:created_at;index"`
	UpdatedAt        time.Time      `gorm:"column:updated_at"`
}

func (MeasurementModel) TableName() string {
	return "lab_measurements"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&MeasurementModel{})
}

// Insert stores a new unconverted measurement.
func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	model := &MeasurementModel{
		ID:        rec.ID,
		Metric:    rec.Metric,
		Value:     &rec.Value,
		Unit:      rec.Unit,
		Source:    rec.Source,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func unconvertedScope(db *gorm.DB) *gorm.DB {
	return db.Where("value IS NOT NULL AND was_converted = ?", false)
}

func (r *Repository) CountUnconverted(ctx context.Context) (int64, error) {
	var count int64
	err := unconvertedScope(r.db.WithContext(ctx).Model(&MeasurementModel{})).Count(&count).Error
	return count, err
}

func (r *Repository) ListUnconvertedIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := unconvertedScope(r.db.WithContext(ctx).Model(&MeasurementModel{})).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *Repository) FetchByIDs(ctx context.Context, ids []string) ([]Record, error) {
	var rows []MeasurementModel
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for i := range rows {
		records = append(records, modelToRecord(&rows[i]))
	}
	return records, nil
}

func (r *Repository) SaveConverted(ctx context.Context, id string, result models.ConversionResult) error {
	notes, _ := json.Marshal(result.ValidationNotes)
	updates := map[string]interface{}{
		"value":             result.Value,
		"unit":              result.Unit,
		"was_converted":     true,
		"original_value":    result.OriginalValue,
		"original_unit":     result.OriginalUnit,
		"conversion_factor": result.ConversionFactor,
		"conversion_rule":   result.ConversionRule,
		"conversion_date":   result.ConversionDate,
		"validation_status": result.ValidationStatus,
		"validation_notes":  datatypes.JSON(notes),
		"confidence_score":  result.ConfidenceScore,
		"updated_at":        time.Now().UTC(),
	}
	tx := r.db.WithContext(ctx).Model(&MeasurementModel{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("record %s not found", id)
	}
	return nil
}

func (r *Repository) CountConverted(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&MeasurementModel{}).
		Where("was_converted = ?", true).
		Count(&count).Error
	return count, err
}

func (r *Repository) FetchConvertedPage(ctx context.Context, offset, limit int) ([]Record, error) {
	var rows []MeasurementModel
	if err := r.db.WithContext(ctx).
		Where("was_converted = ?", true).
		Order("conversion_date DESC").
		Offset(offset).Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for i := range rows {
		records = append(records, modelToRecord(&rows[i]))
	}
	return records, nil
}

func (r *Repository) RestoreOriginal(ctx context.Context, id string, value float64, unit string) error {
	updates := map[string]interface{}{
		"value":             value,
		"unit":              unit,
		"was_converted":     false,
		"original_value":    nil,
		"original_unit":     nil,
		"conversion_factor": nil,
		"conversion_rule":   nil,
		"conversion_date":   nil,
		"validation_status": nil,
		"validation_notes":  nil,
		"confidence_score":  nil,
		"updated_at":        time.Now().UTC(),
	}
	tx := r.db.WithContext(ctx).Model(&MeasurementModel{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("record %s not found", id)
	}
	return nil
}

func (r *Repository) ResetToError(ctx context.Context, id string, note string) error {
	notes, _ := json.Marshal([]string{note})
	status := models.ValidationError
	updates := map[string]interface{}{
		"was_converted":     false,
		"original_value":    nil,
		"original_unit":     nil,
		"conversion_factor": nil,
		"conversion_rule":   nil,
		"conversion_date":   nil,
		"validation_status": status,
		"validation_notes":  datatypes.JSON(notes),
		"confidence_score":  nil,
		"updated_at":        time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Model(&MeasurementModel{}).Where("id = ?", id).Updates(updates).Error
}

func (r *Repository) BackupConverted(ctx context.Context) (string, error) {
	name := fmt.Sprintf("lab_measurements_backup_%s", time.Now().UTC().Format("20060102150405"))
	sql := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM lab_measurements WHERE was_converted = true", name)
	if err := r.db.WithContext(ctx).Exec(sql).Error; err != nil {
		return "", err
	}
	return name, nil
}

func modelToRecord(m *MeasurementModel) Record {
	rec := Record{
		ID:            m.ID,
		Metric:        m.Metric,
		Unit:          m.Unit,
		Source:        m.Source,
		CreatedAt:     m.CreatedAt,
		WasConverted:  m.WasConverted,
		OriginalValue: m.OriginalValue,
	}
	if m.Value != nil {
		rec.Value = *m.Value
	}
	if m.OriginalUnit != nil {
		rec.OriginalUnit = *m.OriginalUnit
	}
	if m.ConversionFactor != nil {
		rec.ConversionFactor = *m.ConversionFactor
	}
	if m.ConversionRule != nil {
		rec.ConversionRule = *m.ConversionRule
	}
	rec.ConversionDate = m.ConversionDate
	if m.ValidationStatus != nil {
		rec.ValidationStatus = *m.ValidationStatus
	}
	if len(m.ValidationNotes) > 0 {
		_ = json.Unmarshal(m.ValidationNotes, &rec.ValidationNotes)
	}
	if m.ConfidenceScore != nil {
		rec.ConfidenceScore = *m.ConfidenceScore
	}
	return rec
}
