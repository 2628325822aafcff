package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/medcanon-ai/platform/pkg/catalog"
	"github.com/medcanon-ai/platform/pkg/common/config"
	"github.com/medcanon-ai/platform/pkg/common/database"
	"github.com/medcanon-ai/platform/pkg/common/kafka"
	"github.com/medcanon-ai/platform/pkg/common/logger"
	"github.com/medcanon-ai/platform/pkg/common/models"
	"github.com/medcanon-ai/platform/pkg/conversion"
	"github.com/medcanon-ai/platform/pkg/migration"
	"github.com/medcanon-ai/platform/pkg/observability/metrics"
	"github.com/medcanon-ai/platform/pkg/validation"
)

type MigrationService struct {
	cfg      *config.Config
	runner   *migration.Runner
	monitor  *migration.Monitor
	rollback *migration.Rollback

	mu          sync.Mutex
	running     bool
	lastSummary *models.ExecutionSummary
}

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Log.WithError(err).Warn("Falling back to built-in parameter catalog")
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Database unavailable")
	}
	repo := migration.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate schema")
	}

	cache := conversion.NewRedisCache(database.GetRedis(), cfg.ConversionCacheTTL)
	converter := conversion.NewConverter(cat, cache)
	validator := validation.NewValidator(cat)

	producer := kafka.NewProducer("migration-events")
	defer producer.Close()

	callbacks := migration.Callbacks{
		OnError: func(batchErr models.BatchError) {
			_ = producer.PublishEvent(context.Background(), "batch-error", "migration-service", map[string]interface{}{
				"error": batchErr,
			})
		},
		OnAlert: func(alert models.Alert) {
			_ = producer.PublishEvent(context.Background(), "alert", "migration-service", map[string]interface{}{
				"alert": alert,
			})
		},
		OnSummary: func(summary models.ExecutionSummary) {
			_ = producer.PublishEvent(context.Background(), "summary", "migration-service", map[string]interface{}{
				"summary": summary,
			})
		},
	}

	runner := migration.NewRunner(repo, converter, validator, callbacks)
	monitor := migration.NewMonitor(runner, migration.MonitorConfig{
		SampleInterval:     cfg.MonitorSampleInterval,
		ErrorRateWarn:      cfg.MonitorErrorRateWarn,
		ErrorRateCritical:  cfg.MonitorErrorRateCritical,
		SlowBatchThreshold: cfg.MonitorSlowBatchThreshold,
		MaxMemoryMB:        cfg.MonitorMaxMemoryMB,
		MinFreeDiskMB:      cfg.MonitorMinFreeDiskMB,
		DiskPath:           "/",
	}, callbacks)

	service := &MigrationService{
		cfg:      cfg,
		runner:   runner,
		monitor:  monitor,
		rollback: migration.NewRollback(repo),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)
	defer monitor.Stop()

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods("GET")
	router.HandleFunc("/api/v1/migration/execute", service.handleExecute).Methods("POST")
	router.HandleFunc("/api/v1/migration/status", service.handleStatus).Methods("GET")
	router.HandleFunc("/api/v1/migration/stop", service.handleStop).Methods("POST")
	router.HandleFunc("/api/v1/monitor/report", service.handleReport).Methods("GET")
	router.HandleFunc("/api/v1/monitor/alerts/{id}/ack", service.handleAcknowledge).Methods("POST")
	router.HandleFunc("/api/v1/rollback/analyze", service.handleAnalyze).Methods("GET")
	router.HandleFunc("/api/v1/rollback/execute", service.handleRollback).Methods("POST")
	router.HandleFunc("/api/v1/rollback/recover", service.handleRecover).Methods("POST")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Migration Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Migration Service...")
	service.runner.Stop()
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Migration Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

type executeRequest struct {
	BatchSize            int   `json:"batch_size"`
	MaxConcurrentBatches int   `json:"max_concurrent_batches"`
	RetryAttempts        *int  `json:"retry_attempts"`
	RetryDelayMs         int   `json:"retry_delay_ms"`
	DryRun               bool  `json:"dry_run"`
	SkipValidation       bool  `json:"skip_validation"`
	ContinueOnError      *bool `json:"continue_on_error"`
}

func (s *MigrationService) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
	}

	opts := migration.Options{
		BatchSize:            s.cfg.MigrationBatchSize,
		MaxConcurrentBatches: s.cfg.MigrationMaxConcurrentBatches,
		RetryAttempts:        s.cfg.MigrationRetryAttempts,
		RetryDelay:           s.cfg.MigrationRetryDelay,
		DryRun:               req.DryRun,
		SkipValidation:       req.SkipValidation,
		ContinueOnError:      true,
	}
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}
	if req.MaxConcurrentBatches > 0 {
		opts.MaxConcurrentBatches = req.MaxConcurrentBatches
	}
	if req.RetryAttempts != nil {
		opts.RetryAttempts = *req.RetryAttempts
	}
	if req.RetryDelayMs > 0 {
		opts.RetryDelay = time.Duration(req.RetryDelayMs) * time.Millisecond
	}
	if req.ContinueOnError != nil {
		opts.ContinueOnError = *req.ContinueOnError
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "migration already in progress", http.StatusConflict)
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		summary, err := s.runner.Execute(context.Background(), opts)
		if err != nil {
			logger.Log.WithError(err).Error("Migration run ended with error")
		}
		s.mu.Lock()
		s.running = false
		s.lastSummary = summary
		s.mu.Unlock()
	}()

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]interface{}{"status": "started", "options": opts})
}

func (s *MigrationService) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	lastSummary := s.lastSummary
	s.mu.Unlock()

	writeJSON(w, map[string]interface{}{
		"running":      running,
		"state":        s.runner.State(),
		"stats":        s.runner.Stats(),
		"last_summary": lastSummary,
	})
}

func (s *MigrationService) handleStop(w http.ResponseWriter, r *http.Request) {
	s.runner.Stop()
	writeJSON(w, map[string]interface{}{"status": "stopping"})
}

func (s *MigrationService) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Report())
}

func (s *MigrationService) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.monitor.Acknowledge(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "acknowledged", "id": id})
}

func (s *MigrationService) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	plan, err := s.rollback.Analyze(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("Rollback analysis failed")
		http.Error(w, "rollback analysis failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, plan)
}

type rollbackRequest struct {
	ValidateBeforeRollback     bool `json:"validate_before_rollback"`
	CreateBackupBeforeRollback bool `json:"create_backup_before_rollback"`
	DryRun                     bool `json:"dry_run"`
}

func (s *MigrationService) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
	}
	result, err := s.rollback.Execute(r.Context(), migration.RollbackOptions{
		ValidateBeforeRollback:     req.ValidateBeforeRollback,
		CreateBackupBeforeRollback: req.CreateBackupBeforeRollback,
		DryRun:                     req.DryRun,
	})
	if err != nil {
		logger.Log.WithError(err).Error("Rollback failed")
		http.Error(w, "rollback failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func (s *MigrationService) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
	}
	result, err := s.rollback.EmergencyRecover(r.Context(), migration.RollbackOptions{DryRun: req.DryRun})
	if err != nil {
		logger.Log.WithError(err).Error("Emergency recovery failed")
		http.Error(w, "emergency recovery failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
