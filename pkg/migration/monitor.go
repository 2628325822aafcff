package migration

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/medcanon-ai/platform/pkg/common/logger"
	"github.com/medcanon-ai/platform/pkg/common/models"
	"github.com/medcanon-ai/platform/pkg/observability/metrics"
)

// StatsSource is what the monitor observes. The runner implements it; tests
// substitute a stub.
type StatsSource interface {
	Stats() Stats
}

// MonitorConfig holds the threshold rules.
type MonitorConfig struct {
	SampleInterval     time.Duration
	ErrorRateWarn      float64 // percent over the sampling window
	ErrorRateCritical  float64
	SlowBatchThreshold time.Duration
	MaxMemoryMB        int
	MinFreeDiskMB      int
	DiskPath           string
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval:     5 * time.Second,
		ErrorRateWarn:      5,
		ErrorRateCritical:  15,
		SlowBatchThreshold: 30 * time.Second,
		MaxMemoryMB:        1024,
		MinFreeDiskMB:      512,
		DiskPath:           "/",
	}
}

// Monitor passively samples runner stats on its own timer and raises
// threshold alerts. It never mutates migration state and never blocks the
// runner; the only shared surface is the runner's stats snapshot.
type Monitor struct {
	source    StatsSource
	config    MonitorConfig
	callbacks Callbacks

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	alerts     []models.Alert
	lastSample Stats

	// breach-state latches so each breach event alerts exactly once
	errorRateBreached bool
	memoryBreached    bool
	diskBreached      bool
	slowBatchAlerted  time.Duration
}

func NewMonitor(source StatsSource, config MonitorConfig, callbacks Callbacks) *Monitor {
	if config.SampleInterval <= 0 {
		config.SampleInterval = DefaultMonitorConfig().SampleInterval
	}
	if config.DiskPath == "" {
		config.DiskPath = "/"
	}
	return &Monitor{
		source:    source,
		config:    config,
		callbacks: callbacks,
	}
}

// Start begins sampling. Idempotent while running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.lastSample = m.source.Stats()
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.config.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()

	logger.Log.WithField("interval", m.config.SampleInterval.String()).Info("Migration monitor started")
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.cancel()
	logger.Log.Info("Migration monitor stopped")
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// sample evaluates every threshold rule against the latest stats snapshot.
func (m *Monitor) sample() {
	stats := m.source.Stats()

	m.mu.Lock()
	last := m.lastSample
	m.lastSample = stats
	m.mu.Unlock()

	m.checkErrorRate(last, stats)
	m.checkSlowBatch(stats)
	m.checkMemory()
	m.checkDisk()

	warning, critical := m.unacknowledgedCounts()
	metrics.ObserveAlertCounts(warning, critical)
}

func (m *Monitor) checkErrorRate(last, current Stats) {
	deltaProcessed := current.Processed - last.Processed
	if deltaProcessed <= 0 {
		return
	}
	deltaErrored := current.Errored - last.Errored
	rate := float64(deltaErrored) / float64(deltaProcessed) * 100

	m.mu.Lock()
	breached := m.errorRateBreached
	m.mu.Unlock()

	switch {
	case rate >= m.config.ErrorRateCritical:
		if !breached {
			m.raise("error-rate", models.SeverityCritical,
				fmt.Sprintf("error rate %.1f%% over sampling window exceeds critical threshold %.1f%%", rate, m.config.ErrorRateCritical),
				map[string]interface{}{"rate": rate, "window_processed": deltaProcessed})
		}
		m.setErrorRateBreached(true)
	case rate >= m.config.ErrorRateWarn:
		if !breached {
			m.raise("error-rate", models.SeverityWarning,
				fmt.Sprintf("error rate %.1f%% over sampling window exceeds warning threshold %.1f%%", rate, m.config.ErrorRateWarn),
				map[string]interface{}{"rate": rate, "window_processed": deltaProcessed})
		}
		m.setErrorRateBreached(true)
	default:
		m.setErrorRateBreached(false)
	}
}

func (m *Monitor) setErrorRateBreached(v bool) {
	m.mu.Lock()
	m.errorRateBreached = v
	m.mu.Unlock()
}

func (m *Monitor) checkSlowBatch(stats Stats) {
	if m.config.SlowBatchThreshold <= 0 || stats.SlowestBatch < m.config.SlowBatchThreshold {
		return
	}
	m.mu.Lock()
	alreadyAlerted := stats.SlowestBatch <= m.slowBatchAlerted
	if !alreadyAlerted {
		m.slowBatchAlerted = stats.SlowestBatch
	}
	m.mu.Unlock()
	if alreadyAlerted {
		return
	}
	m.raise("slow-batch", models.SeverityWarning,
		fmt.Sprintf("batch duration %s exceeds slow-batch threshold %s", stats.SlowestBatch, m.config.SlowBatchThreshold),
		map[string]interface{}{"duration_ms": stats.SlowestBatch.Milliseconds()})
}

func (m *Monitor) checkMemory() {
	if m.config.MaxMemoryMB <= 0 {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usedMB := int(ms.Alloc / (1024 * 1024))

	m.mu.Lock()
	breached := m.memoryBreached
	m.mu.Unlock()

	if usedMB >= m.config.MaxMemoryMB {
		if !breached {
			m.raise("memory", models.SeverityCritical,
				fmt.Sprintf("heap usage %d MB exceeds limit %d MB", usedMB, m.config.MaxMemoryMB),
				map[string]interface{}{"used_mb": usedMB})
		}
		m.setMemoryBreached(true)
	} else {
		m.setMemoryBreached(false)
	}
}

func (m *Monitor) setMemoryBreached(v bool) {
	m.mu.Lock()
	m.memoryBreached = v
	m.mu.Unlock()
}

func (m *Monitor) checkDisk() {
	if m.config.MinFreeDiskMB <= 0 {
		return
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(m.config.DiskPath, &stat); err != nil {
		return
	}
	freeMB := int(stat.Bavail * uint64(stat.Bsize) / (1024 * 1024))

	m.mu.Lock()
	breached := m.diskBreached
	m.mu.Unlock()

	if freeMB < m.config.MinFreeDiskMB {
		if !breached {
			m.raise("disk-space", models.SeverityCritical,
				fmt.Sprintf("free disk %d MB below minimum %d MB", freeMB, m.config.MinFreeDiskMB),
				map[string]interface{}{"free_mb": freeMB, "path": m.config.DiskPath})
		}
		m.setDiskBreached(true)
	} else {
		m.setDiskBreached(false)
	}
}

func (m *Monitor) setDiskBreached(v bool) {
	m.mu.Lock()
	m.diskBreached = v
	m.mu.Unlock()
}

func (m *Monitor) raise(alertType, severity, message string, details map[string]interface{}) {
	alert := models.Alert{
		ID:        uuid.New().String(),
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()

	logger.Log.WithFields(map[string]interface{}{
		"alert_id": alert.ID,
		"type":     alertType,
		"severity": severity,
	}).Warn(message)

	m.callbacks.alert(alert)
}

// Acknowledge marks an alert handled. Alerts are never auto-deduplicated;
// acknowledging is always explicit.
func (m *Monitor) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acknowledged = true
			return nil
		}
	}
	return fmt.Errorf("alert %s not found", id)
}

// ClearAcknowledged drops acknowledged alerts from the active list.
func (m *Monitor) ClearAcknowledged() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.alerts[:0]
	cleared := 0
	for _, alert := range m.alerts {
		if alert.Acknowledged {
			cleared++
			continue
		}
		kept = append(kept, alert)
	}
	m.alerts = kept
	return cleared
}

func (m *Monitor) ActiveAlerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

func (m *Monitor) unacknowledgedCounts() (warning, critical int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, alert := range m.alerts {
		if alert.Acknowledged {
			continue
		}
		switch alert.Severity {
		case models.SeverityCritical:
			critical++
		case models.SeverityWarning:
			warning++
		}
	}
	return warning, critical
}

// Report rolls up the current alert state. Critical outranks warning
// outranks healthy; only unacknowledged alerts count.
func (m *Monitor) Report() models.MonitoringReport {
	warning, critical := m.unacknowledgedCounts()

	status := "healthy"
	var recommendations []string
	switch {
	case critical > 0:
		status = "critical"
		recommendations = append(recommendations, "investigate critical alerts before continuing the migration")
	case warning > 0:
		status = "warning"
		recommendations = append(recommendations, "review warning alerts; consider lowering batch concurrency")
	}

	return models.MonitoringReport{
		OverallStatus:   status,
		ActiveAlerts:    m.ActiveAlerts(),
		Recommendations: recommendations,
		GeneratedAt:     time.Now().UTC(),
	}
}
