package migration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medcanon-ai/platform/pkg/catalog"
	"github.com/medcanon-ai/platform/pkg/common/logger"
	"github.com/medcanon-ai/platform/pkg/common/models"
	"github.com/medcanon-ai/platform/pkg/conversion"
	"github.com/medcanon-ai/platform/pkg/observability/metrics"
	"github.com/medcanon-ai/platform/pkg/validation"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func newTestRunner(store RecordStore, callbacks Callbacks) *Runner {
	cat := catalog.DefaultCatalog()
	converter := conversion.NewConverter(cat, conversion.NewMemoryCache())
	validator := validation.NewValidator(cat)
	return NewRunner(store, converter, validator, callbacks)
}

// seedPlatelets adds n unconverted raw platelet counts (cells/µL
// magnitude, no unit label) with strictly increasing creation times.
func seedPlatelets(store *memStore, n int) []string {
	base := time.Now().UTC().Add(-time.Hour)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("rec-%04d", i)
		store.add(Record{
			ID:        id,
			Metric:    "platelets",
			Value:     250000,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		ids = append(ids, id)
	}
	return ids
}

func fastOptions() Options {
	return Options{
		BatchSize:            100,
		MaxConcurrentBatches: 2,
		RetryAttempts:        3,
		RetryDelay:           time.Millisecond,
		ContinueOnError:      true,
	}
}

func TestExecuteConvertsAndAccounts(t *testing.T) {
	store := newMemStore()
	ids := seedPlatelets(store, 250)

	runner := newTestRunner(store, Callbacks{})
	summary, err := runner.Execute(context.Background(), fastOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.TotalBatches != 3 {
		t.Fatalf("expected 3 batches for 250 records at size 100, got %d", summary.TotalBatches)
	}
	if summary.Processed != 250 || summary.Converted != 250 {
		t.Fatalf("expected 250 processed and converted, got %d/%d", summary.Processed, summary.Converted)
	}
	if summary.Processed != summary.Converted+summary.Skipped+summary.Errored {
		t.Fatalf("accounting invariant violated: %d != %d+%d+%d",
			summary.Processed, summary.Converted, summary.Skipped, summary.Errored)
	}
	if summary.SuccessfulBatches != 3 || summary.FailedBatches != 0 {
		t.Fatalf("expected 3 successful batches, got %d successful %d failed",
			summary.SuccessfulBatches, summary.FailedBatches)
	}

	rec := store.get(ids[0])
	if !rec.WasConverted {
		t.Fatal("expected record to be committed as converted")
	}
	if rec.Value != 250 {
		t.Fatalf("expected canonical value 250, got %g", rec.Value)
	}
	if rec.OriginalValue == nil || *rec.OriginalValue != 250000 {
		t.Fatal("expected original value 250000 to be preserved")
	}
	if runner.State() != StateIdle {
		t.Fatalf("expected runner to return to idle, got %s", runner.State())
	}
}

func TestExecuteResumeSkipsConverted(t *testing.T) {
	store := newMemStore()
	seedPlatelets(store, 250)

	runner := newTestRunner(store, Callbacks{})
	if _, err := runner.Execute(context.Background(), fastOptions()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	summary, err := runner.Execute(context.Background(), fastOptions())
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	if summary.TotalRecords != 0 || summary.TotalBatches != 0 {
		t.Fatalf("resumed run must not reprocess converted records, got %d records in %d batches",
			summary.TotalRecords, summary.TotalBatches)
	}
}

func TestExecuteSkipsRecordsAlreadyCanonical(t *testing.T) {
	store := newMemStore()
	store.add(Record{
		ID:        "canonical-1",
		Metric:    "platelets",
		Value:     200,
		Unit:      "×10³/µL",
		CreatedAt: time.Now().UTC(),
	})

	runner := newTestRunner(store, Callbacks{})
	summary, err := runner.Execute(context.Background(), fastOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Skipped != 1 || summary.Converted != 0 {
		t.Fatalf("expected 1 skipped, got skipped=%d converted=%d", summary.Skipped, summary.Converted)
	}
	if store.saves != 0 {
		t.Fatalf("skip must not write, got %d saves", store.saves)
	}
	if store.get("canonical-1").WasConverted {
		t.Fatal("skipped record must stay unconverted")
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	store := newMemStore()
	seedPlatelets(store, 50)

	runner := newTestRunner(store, Callbacks{})
	opts := fastOptions()
	opts.DryRun = true
	summary, err := runner.Execute(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Converted != 50 {
		t.Fatalf("dry run should compute conversions, got %d converted", summary.Converted)
	}
	if store.saves != 0 {
		t.Fatalf("dry run must not write, got %d saves", store.saves)
	}
	count, _ := store.CountUnconverted(context.Background())
	if count != 50 {
		t.Fatalf("dry run must leave all records unconverted, got %d remaining", count)
	}
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	store := newMemStore()
	ids := seedPlatelets(store, 5)
	store.saveFails[ids[2]] = 2 // fails twice, succeeds on third attempt

	runner := newTestRunner(store, Callbacks{})
	summary, err := runner.Execute(context.Background(), fastOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Errored != 0 || summary.Converted != 5 {
		t.Fatalf("expected retries to recover, got converted=%d errored=%d", summary.Converted, summary.Errored)
	}
}

func TestRecordFailureContinuesRun(t *testing.T) {
	store := newMemStore()
	ids := seedPlatelets(store, 5)
	store.saveFails[ids[1]] = 100 // exhausts all attempts

	var mu sync.Mutex
	var errs []models.BatchError
	runner := newTestRunner(store, Callbacks{
		OnError: func(e models.BatchError) {
			mu.Lock()
			errs = append(errs, e)
			mu.Unlock()
		},
	})

	summary, err := runner.Execute(context.Background(), fastOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Errored != 1 || summary.Converted != 4 {
		t.Fatalf("expected 1 errored and 4 converted, got %d/%d", summary.Errored, summary.Converted)
	}
	if summary.Aborted {
		t.Fatal("run must not abort when continueOnError is true")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error callback, got %d", len(errs))
	}
	if errs[0].Severity != models.SeverityError || errs[0].RecordID != ids[1] {
		t.Fatalf("unexpected error payload: %+v", errs[0])
	}
}

func TestContinueOnErrorFalseAborts(t *testing.T) {
	store := newMemStore()
	ids := seedPlatelets(store, 20)
	store.saveFails[ids[0]] = 100

	runner := newTestRunner(store, Callbacks{})
	opts := fastOptions()
	opts.BatchSize = 5
	opts.MaxConcurrentBatches = 1
	opts.ContinueOnError = false

	summary, err := runner.Execute(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.Aborted {
		t.Fatal("expected run to abort on first record failure")
	}
	if summary.Processed >= 20 {
		t.Fatalf("expected early halt, processed %d", summary.Processed)
	}
}

func TestBatchFatalFailureDoesNotHaltRun(t *testing.T) {
	store := newMemStore()
	seedPlatelets(store, 30)
	store.failFetch = true

	runner := newTestRunner(store, Callbacks{})
	opts := fastOptions()
	opts.BatchSize = 10

	summary, err := runner.Execute(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.FailedBatches != 3 {
		t.Fatalf("expected all 3 batches to fail, got %d", summary.FailedBatches)
	}
	if summary.Aborted {
		t.Fatal("batch-fatal failures must not mark the run aborted")
	}
	for _, e := range summary.Errors {
		if e.Severity != models.SeverityCritical {
			t.Fatalf("batch-level failure must be critical, got %s", e.Severity)
		}
	}
}

func TestStopHaltsAtRecordBoundary(t *testing.T) {
	store := newMemStore()
	seedPlatelets(store, 100)

	var runner *Runner
	var once sync.Once
	runner = newTestRunner(store, Callbacks{
		OnProgress: func(p models.BatchProgress) {
			once.Do(func() { runner.Stop() })
		},
	})

	opts := fastOptions()
	opts.MaxConcurrentBatches = 1
	opts.BatchSize = 10

	summary, err := runner.Execute(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.Aborted {
		t.Fatal("expected stopped run to report aborted")
	}
	if summary.Processed == 0 {
		t.Fatal("in-flight record must complete before stopping")
	}
	if summary.Processed >= 100 {
		t.Fatalf("expected stop to halt scheduling, processed %d", summary.Processed)
	}
	if summary.Processed != summary.Converted+summary.Skipped+summary.Errored {
		t.Fatal("accounting invariant must hold for partial runs")
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

func TestActiveBatchesGaugeTracksRun(t *testing.T) {
	store := newMemStore()
	seedPlatelets(store, 30)

	var mu sync.Mutex
	var peak float64
	runner := newTestRunner(store, Callbacks{
		OnProgress: func(p models.BatchProgress) {
			if value, ok := scrapeMetric("medcanon_migration_active_batches"); ok {
				mu.Lock()
				if value > peak {
					peak = value
				}
				mu.Unlock()
			}
		},
	})

	opts := fastOptions()
	opts.BatchSize = 10
	opts.MaxConcurrentBatches = 1
	if _, err := runner.Execute(context.Background(), opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	observed := peak
	mu.Unlock()
	if observed < 1 {
		t.Fatalf("gauge must show active batches mid-run, peak %g", observed)
	}
	final, ok := scrapeMetric("medcanon_migration_active_batches")
	if !ok || final != 0 {
		t.Fatalf("gauge must return to 0 after the run, got %g", final)
	}
}

func TestExecuteReturnsSummaryOnEnumerationFailure(t *testing.T) {
	store := newMemStore()
	store.failList = true

	runner := newTestRunner(store, Callbacks{})
	summary, err := runner.Execute(context.Background(), fastOptions())
	if err == nil {
		t.Fatal("expected error when enumeration fails")
	}
	if summary == nil || !summary.Aborted {
		t.Fatal("failed run must still return a summary marked aborted")
	}
}
