package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	migrationProcessed atomic.Int64
	migrationConverted atomic.Int64
	migrationSkipped   atomic.Int64
	migrationErrored   atomic.Int64
	migrationActive    atomic.Int64
	alertsWarning      atomic.Int64
	alertsCritical     atomic.Int64
	conversionRequests atomic.Int64
	conversionCacheHit atomic.Int64
)

func Init() {}

func ObserveMigrationCounts(processed, converted, skipped, errored, activeBatches int) {
	migrationProcessed.Store(int64(processed))
	migrationConverted.Store(int64(converted))
	migrationSkipped.Store(int64(skipped))
	migrationErrored.Store(int64(errored))
	migrationActive.Store(int64(activeBatches))
}

func ObserveActiveBatches(n int) {
	migrationActive.Store(int64(n))
}

func ObserveAlertCounts(warning, critical int) {
	alertsWarning.Store(int64(warning))
	alertsCritical.Store(int64(critical))
}

func IncConversionRequest() {
	conversionRequests.Add(1)
}

func IncConversionCacheHit() {
	conversionCacheHit.Add(1)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP medcanon_migration_processed_total Records processed in the latest migration run.\n")
	fmt.Fprintf(w, "# TYPE medcanon_migration_processed_total gauge\n")
	fmt.Fprintf(w, "medcanon_migration_processed_total %d\n", migrationProcessed.Load())

	fmt.Fprintf(w, "# HELP medcanon_migration_converted_total Records converted in the latest migration run.\n")
	fmt.Fprintf(w, "# TYPE medcanon_migration_converted_total gauge\n")
	fmt.Fprintf(w, "medcanon_migration_converted_total %d\n", migrationConverted.Load())

	fmt.Fprintf(w, "# HELP medcanon_migration_skipped_total Records skipped in the latest migration run.\n")
	fmt.Fprintf(w, "# TYPE medcanon_migration_skipped_total gauge\n")
	fmt.Fprintf(w, "medcanon_migration_skipped_total %d\n", migrationSkipped.Load())

	fmt.Fprintf(w, "# HELP medcanon_migration_errored_total Records errored in the latest migration run.\n")
	fmt.Fprintf(w, "# TYPE medcanon_migration_errored_total gauge\n")
	fmt.Fprintf(w, "medcanon_migration_errored_total %d\n", migrationErrored.Load())

	fmt.Fprintf(w, "# HELP medcanon_migration_active_batches Batches currently executing.\n")
	fmt.Fprintf(w, "# TYPE medcanon_migration_active_batches gauge\n")
	fmt.Fprintf(w, "medcanon_migration_active_batches %d\n", migrationActive.Load())

	fmt.Fprintf(w, "# HELP medcanon_monitor_alerts_warning Unacknowledged warning alerts.\n")
	fmt.Fprintf(w, "# TYPE medcanon_monitor_alerts_warning gauge\n")
	fmt.Fprintf(w, "medcanon_monitor_alerts_warning %d\n", alertsWarning.Load())

	fmt.Fprintf(w, "# HELP medcanon_monitor_alerts_critical Unacknowledged critical alerts.\n")
	fmt.Fprintf(w, "# TYPE medcanon_monitor_alerts_critical gauge\n")
	fmt.Fprintf(w, "medcanon_monitor_alerts_critical %d\n", alertsCritical.Load())

	fmt.Fprintf(w, "# HELP medcanon_conversion_requests_total Conversion requests served since start.\n")
	fmt.Fprintf(w, "# TYPE medcanon_conversion_requests_total counter\n")
	fmt.Fprintf(w, "medcanon_conversion_requests_total %d\n", conversionRequests.Load())

	fmt.Fprintf(w, "# HELP medcanon_conversion_cache_hits_total Conversion cache hits since start.\n")
	fmt.Fprintf(w, "# TYPE medcanon_conversion_cache_hits_total counter\n")
	fmt.Fprintf(w, "medcanon_conversion_cache_hits_total %d\n", conversionCacheHit.Load())
}
