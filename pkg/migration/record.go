package migration

import (
	"context"
	"time"

	"github.com/medcanon-ai/platform/pkg/common/models"
)

// Record is a persisted lab measurement row. OriginalValue is a pointer
// because its absence on a converted row is a rollback-blocking state, not
// a zero.
type Record struct {
	ID               string
	Metric           string
	Value            float64
	Unit             string
	Source           string
	CreatedAt        time.Time
	WasConverted     bool
	OriginalValue    *float64
	OriginalUnit     string
	ConversionFactor float64
	ConversionRule   string
	ConversionDate   *time.Time
	ValidationStatus string
	ValidationNotes  []string
	ConfidenceScore  float64
}

// RecordStore is the persisted-store surface the batch runner consumes.
// wasConverted is the single source of truth for "needs processing"; the
// unconverted filter excludes rows a previous run already committed, so a
// resumed run never reprocesses them.
type RecordStore interface {
	CountUnconverted(ctx context.Context) (int64, error)
	// ListUnconvertedIDs snapshots the IDs of all unconverted rows in
	// stable oldest-created-first order. The runner partitions this
	// snapshot into batches so each record is owned by exactly one batch
	// even while commits shrink the live filter.
	ListUnconvertedIDs(ctx context.Context) ([]string, error)
	FetchByIDs(ctx context.Context, ids []string) ([]Record, error)
	// SaveConverted writes the full conversion result onto the row and
	// flips wasConverted in the same update.
	SaveConverted(ctx context.Context, id string, result models.ConversionResult) error
}

// RollbackStore is the surface the rollback/recovery service consumes.
type RollbackStore interface {
	CountConverted(ctx context.Context) (int64, error)
	// FetchConvertedPage pages converted rows most-recent-conversion-first.
	FetchConvertedPage(ctx context.Context, offset, limit int) ([]Record, error)
	// RestoreOriginal writes value/unit back from the originals and nulls
	// every conversion field in a single update.
	RestoreOriginal(ctx context.Context, id string, value float64, unit string) error
	// ResetToError marks a row unconverted with an error status when its
	// conversion metadata is beyond recovery.
	ResetToError(ctx context.Context, id string, note string) error
	// BackupConverted copies all converted rows to a timestamped backup
	// table and returns its name.
	BackupConverted(ctx context.Context) (string, error)
}
