package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medcanon-ai/platform/pkg/common/logger"
	"github.com/medcanon-ai/platform/pkg/common/models"
	"github.com/medcanon-ai/platform/pkg/conversion"
	"github.com/medcanon-ai/platform/pkg/observability/metrics"
	"github.com/medcanon-ai/platform/pkg/validation"
)

// Run states.
const (
	StateIdle        = "idle"
	StateAnalyzing   = "analyzing"
	StatePaging      = "paging"
	StateRunning     = "running"
	StateSummarizing = "summarizing"
)

// Options configures one migration run.
type Options struct {
	BatchSize            int
	MaxConcurrentBatches int
	RetryAttempts        int
	RetryDelay           time.Duration
	DryRun               bool
	SkipValidation       bool
	ContinueOnError      bool
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:            100,
		MaxConcurrentBatches: 3,
		RetryAttempts:        3,
		RetryDelay:           time.Second,
		DryRun:               false,
		SkipValidation:       false,
		ContinueOnError:      true,
	}
}

func (o *Options) normalize() {
	defaults := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = defaults.BatchSize
	}
	if o.MaxConcurrentBatches <= 0 {
		o.MaxConcurrentBatches = defaults.MaxConcurrentBatches
	}
	if o.RetryAttempts < 0 {
		o.RetryAttempts = defaults.RetryAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaults.RetryDelay
	}
}

// Callbacks are fire-and-forget notification hooks for CLI/UI collaborators.
// Every field is optional; the runner works with none attached.
type Callbacks struct {
	OnProgress func(models.BatchProgress)
	OnError    func(models.BatchError)
	OnAlert    func(models.Alert)
	OnSummary  func(models.ExecutionSummary)
}

func (c Callbacks) progress(p models.BatchProgress) {
	if c.OnProgress != nil {
		c.OnProgress(p)
	}
}

func (c Callbacks) errored(e models.BatchError) {
	if c.OnError != nil {
		c.OnError(e)
	}
}

func (c Callbacks) alert(a models.Alert) {
	if c.OnAlert != nil {
		c.OnAlert(a)
	}
}

func (c Callbacks) summary(s models.ExecutionSummary) {
	if c.OnSummary != nil {
		c.OnSummary(s)
	}
}

// Stats is a cumulative snapshot of the current run, polled by the monitor.
type Stats struct {
	State            string
	TotalBatches     int
	CompletedBatches int
	ActiveBatches    int
	Processed        int64
	Converted        int64
	Skipped          int64
	Errored          int64
	SlowestBatch     time.Duration
	StartTime        time.Time
}

// Runner executes batch migrations: it pages unconverted records, converts
// and validates each under a bounded concurrent worker model, and commits
// results (or simulates them in dry-run).
type Runner struct {
	store     RecordStore
	converter *conversion.Converter
	validator *validation.Validator
	callbacks Callbacks

	mu      sync.Mutex
	state   string
	stats   Stats
	stopped bool
}

func NewRunner(store RecordStore, converter *conversion.Converter, validator *validation.Validator, callbacks Callbacks) *Runner {
	return &Runner{
		store:     store,
		converter: converter,
		validator: validator,
		callbacks: callbacks,
		state:     StateIdle,
	}
}

func (r *Runner) setState(state string) {
	r.mu.Lock()
	r.state = state
	r.stats.State = state
	r.mu.Unlock()
}

// State reports the run state machine's current state.
func (r *Runner) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns a snapshot for observers. Never blocks record processing
// beyond a counter mutex.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Stop requests a cooperative halt. New batches stop being scheduled and
// active batches stop at the next record boundary; the in-flight record
// operation completes so no row is left half-converted.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

func (r *Runner) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Execute runs one migration. A failed run still returns a complete
// summary with partial results; the error reports why it ended early.
func (r *Runner) Execute(ctx context.Context, opts Options) (*models.ExecutionSummary, error) {
	opts.normalize()

	runID := uuid.New().String()
	start := time.Now().UTC()

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return nil, fmt.Errorf("migration already in progress")
	}
	r.state = StateAnalyzing
	r.stopped = false
	r.stats = Stats{State: StateAnalyzing, StartTime: start}
	r.mu.Unlock()

	defer r.setState(StateIdle)

	summary := &models.ExecutionSummary{
		RunID:     runID,
		DryRun:    opts.DryRun,
		StartTime: start,
	}

	ids, err := r.store.ListUnconvertedIDs(ctx)
	if err != nil {
		summary.Aborted = true
		summary.EndTime = time.Now().UTC()
		r.callbacks.summary(*summary)
		return summary, fmt.Errorf("failed to enumerate unconverted records: %w", err)
	}

	totalBatches := (len(ids) + opts.BatchSize - 1) / opts.BatchSize
	summary.TotalRecords = len(ids)
	summary.TotalBatches = totalBatches

	r.mu.Lock()
	r.stats.TotalBatches = totalBatches
	r.mu.Unlock()

	logger.Log.WithFields(map[string]interface{}{
		"run_id":        runID,
		"total_records": len(ids),
		"total_batches": totalBatches,
		"batch_size":    opts.BatchSize,
		"dry_run":       opts.DryRun,
	}).Info("Starting migration run")

	r.setState(StatePaging)

	workers := make(chan struct{}, opts.MaxConcurrentBatches)
	var wg sync.WaitGroup
	var resultsMu sync.Mutex
	batchResults := make([]models.BatchResult, 0, totalBatches)
	runErrors := make([]models.BatchError, 0)

	r.setState(StateRunning)

	for batchNumber := 1; batchNumber <= totalBatches; batchNumber++ {
		if r.stopRequested(ctx) {
			break
		}

		offset := (batchNumber - 1) * opts.BatchSize
		end := offset + opts.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batchIDs := ids[offset:end]

		wg.Add(1)
		go func(batchNumber int, batchIDs []string) {
			defer wg.Done()
			workers <- struct{}{}
			defer func() { <-workers }()

			if r.stopRequested(ctx) {
				return
			}

			r.mu.Lock()
			r.stats.ActiveBatches++
			active := r.stats.ActiveBatches
			r.mu.Unlock()
			metrics.ObserveActiveBatches(active)

			result, errors := r.runBatch(ctx, opts, batchNumber, totalBatches, batchIDs)

			r.mu.Lock()
			r.stats.ActiveBatches--
			active = r.stats.ActiveBatches
			r.stats.CompletedBatches++
			if result.Duration > r.stats.SlowestBatch {
				r.stats.SlowestBatch = result.Duration
			}
			r.mu.Unlock()
			metrics.ObserveActiveBatches(active)

			resultsMu.Lock()
			batchResults = append(batchResults, result)
			runErrors = append(runErrors, errors...)
			resultsMu.Unlock()
		}(batchNumber, batchIDs)
	}

	wg.Wait()
	r.setState(StateSummarizing)

	summary.EndTime = time.Now().UTC()
	r.mu.Lock()
	summary.Aborted = r.stopped
	r.mu.Unlock()
	aggregate(summary, batchResults, runErrors)

	metrics.ObserveMigrationCounts(summary.Processed, summary.Converted, summary.Skipped, summary.Errored, 0)

	logger.Log.WithFields(map[string]interface{}{
		"run_id":    runID,
		"processed": summary.Processed,
		"converted": summary.Converted,
		"skipped":   summary.Skipped,
		"errored":   summary.Errored,
		"aborted":   summary.Aborted,
	}).Info("Migration run finished")

	r.callbacks.summary(*summary)
	return summary, nil
}

// runBatch processes one batch sequentially. Sequential per-record
// processing keeps retry/backoff simple and log output ordered.
func (r *Runner) runBatch(ctx context.Context, opts Options, batchNumber, totalBatches int, batchIDs []string) (models.BatchResult, []models.BatchError) {
	batchID := uuid.New().String()
	start := time.Now().UTC()

	progress := models.BatchProgress{
		BatchID:        batchID,
		BatchNumber:    batchNumber,
		TotalBatches:   totalBatches,
		RecordsInBatch: len(batchIDs),
		StartTime:      start,
	}

	var errors []models.BatchError

	records, err := r.store.FetchByIDs(ctx, batchIDs)
	if err != nil {
		// Store unreachable is fatal to this batch only; siblings keep
		// running.
		batchErr := models.BatchError{
			BatchID:   batchID,
			Severity:  models.SeverityCritical,
			Message:   fmt.Sprintf("failed to fetch batch page: %v", err),
			Timestamp: time.Now().UTC(),
		}
		r.callbacks.errored(batchErr)
		errors = append(errors, batchErr)
		return models.BatchResult{
			BatchID:        batchID,
			BatchNumber:    batchNumber,
			RecordsInBatch: len(batchIDs),
			Duration:       time.Since(start),
			Failed:         true,
			FailureReason:  batchErr.Message,
		}, errors
	}

	for i := range records {
		if r.stopRequested(ctx) {
			break
		}

		record := &records[i]
		converted, recordErr := r.processRecord(ctx, opts, record)
		progress.Processed++
		r.bumpStats(func(s *Stats) { s.Processed++ })

		switch {
		case recordErr != nil:
			progress.Errored++
			r.bumpStats(func(s *Stats) { s.Errored++ })
			batchErr := models.BatchError{
				BatchID:   batchID,
				RecordID:  record.ID,
				Metric:    record.Metric,
				Severity:  models.SeverityError,
				Message:   recordErr.Error(),
				Attempts:  opts.RetryAttempts + 1,
				Timestamp: time.Now().UTC(),
			}
			r.callbacks.errored(batchErr)
			errors = append(errors, batchErr)
			if !opts.ContinueOnError {
				r.Stop()
			}
		case converted:
			progress.Converted++
			r.bumpStats(func(s *Stats) { s.Converted++ })
		default:
			progress.Skipped++
			r.bumpStats(func(s *Stats) { s.Skipped++ })
		}

		r.callbacks.progress(progress)
	}

	duration := time.Since(start)
	result := models.BatchResult{
		BatchID:        batchID,
		BatchNumber:    batchNumber,
		RecordsInBatch: len(records),
		Processed:      progress.Processed,
		Converted:      progress.Converted,
		Skipped:        progress.Skipped,
		Errored:        progress.Errored,
		Duration:       duration,
	}
	if duration > 0 {
		result.RecordsPerSecond = float64(progress.Processed) / duration.Seconds()
	}

	logger.Log.WithFields(map[string]interface{}{
		"batch_id":     batchID,
		"batch_number": batchNumber,
		"processed":    progress.Processed,
		"converted":    progress.Converted,
		"skipped":      progress.Skipped,
		"errored":      progress.Errored,
		"duration_ms":  duration.Milliseconds(),
	}).Info("Batch completed")

	return result, errors
}

// processRecord attempts conversion+validation+commit with linear backoff.
// Conversion itself is pure computation and never fails; only the store
// write is retried.
func (r *Runner) processRecord(ctx context.Context, opts Options, record *Record) (bool, error) {
	result := r.converter.Convert(ctx, record.Metric, record.Value, record.Unit, nil)

	if !opts.SkipValidation && r.validator != nil {
		outcome := r.validator.Validate(record.Metric, result, nil)
		for _, alert := range outcome.Alerts {
			if alert.Severity == models.SeverityCritical {
				r.callbacks.alert(models.Alert{
					ID:       uuid.New().String(),
					Type:     alert.Type,
					Severity: alert.Severity,
					Message:  alert.Message,
					Details: map[string]interface{}{
						"record_id": record.ID,
						"metric":    record.Metric,
						"value":     result.Value,
						"unit":      result.Unit,
					},
					Timestamp: time.Now().UTC(),
				})
			}
		}
	}

	// Nothing to convert: leave the row untouched so a future run with
	// better rules can still claim it.
	if !result.WasConverted {
		return false, nil
	}

	if opts.DryRun {
		return true, nil
	}

	var lastErr error
	for attempt := 0; attempt <= opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := opts.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(delay):
			}
		}
		if lastErr = r.store.SaveConverted(ctx, record.ID, result); lastErr == nil {
			return true, nil
		}
		logger.Log.WithError(lastErr).WithFields(map[string]interface{}{
			"record_id": record.ID,
			"attempt":   attempt + 1,
		}).Warn("Record commit failed")
	}
	return false, fmt.Errorf("record %s failed after %d attempts: %w", record.ID, opts.RetryAttempts+1, lastErr)
}

func (r *Runner) bumpStats(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func aggregate(summary *models.ExecutionSummary, results []models.BatchResult, errors []models.BatchError) {
	var totalDuration time.Duration
	for _, result := range results {
		summary.Processed += result.Processed
		summary.Converted += result.Converted
		summary.Skipped += result.Skipped
		summary.Errored += result.Errored
		if result.Failed {
			summary.FailedBatches++
		} else {
			summary.SuccessfulBatches++
		}
		totalDuration += result.Duration
		if summary.PerformanceMetrics.FastestBatch == 0 || result.Duration < summary.PerformanceMetrics.FastestBatch {
			summary.PerformanceMetrics.FastestBatch = result.Duration
		}
		if result.Duration > summary.PerformanceMetrics.SlowestBatch {
			summary.PerformanceMetrics.SlowestBatch = result.Duration
		}
	}
	if len(results) > 0 {
		summary.PerformanceMetrics.AverageBatchTime = totalDuration / time.Duration(len(results))
	}
	if summary.Processed > 0 {
		summary.PerformanceMetrics.ErrorRate = float64(summary.Errored) / float64(summary.Processed) * 100
	}
	summary.Errors = errors
}
