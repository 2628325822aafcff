package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
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

type ConversionService struct {
	converter *conversion.Converter
	validator *validation.Validator
	repo      *migration.Repository
	producer  *kafka.Producer
	consumer  *kafka.Consumer
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

	service := &ConversionService{
		converter: conversion.NewConverter(cat, cache),
		validator: validation.NewValidator(cat),
		repo:      repo,
	}

	service.producer = kafka.NewProducer("converted-measurements")
	defer service.producer.Close()

	service.consumer = kafka.NewConsumer("lab-measurements", "conversion-service")
	defer service.consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := service.consumer.Consume(ctx, service.processEvent); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("Consumer error")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods("GET")
	router.HandleFunc("/api/v1/convert", service.handleConvert).Methods("POST")
	router.HandleFunc("/api/v1/convert/batch", service.handleBatchConvert).Methods("POST")

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
		}).Info("Conversion Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Conversion Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Conversion Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// processEvent persists an incoming raw measurement as an unconverted row
// and publishes its conversion for downstream consumers. The stored row is
// committed by a migration run, not here; ingestion never mutates history.
func (s *ConversionService) processEvent(ctx context.Context, event models.Event) error {
	logger.Log.WithField("event_id", event.ID).Debug("Processing measurement event")

	raw, err := extractMeasurement(event.Data)
	if err != nil {
		logger.Log.WithError(err).Warn("Malformed measurement event; dropping")
		return nil
	}

	record := &migration.Record{
		ID:     uuid.New().String(),
		Metric: raw.Metric,
		Value:  raw.Value,
		Unit:   raw.Unit,
		Source: raw.Source,
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		return err
	}

	metrics.IncConversionRequest()
	result := s.converter.Convert(ctx, raw.Metric, raw.Value, raw.Unit, nil)
	outcome := s.validator.Validate(raw.Metric, result, nil)

	return s.producer.PublishEvent(ctx, "converted", "conversion-service", map[string]interface{}{
		"record_id":  record.ID,
		"conversion": result,
		"validation": outcome,
	})
}

func extractMeasurement(data map[string]interface{}) (models.RawMeasurement, error) {
	var raw models.RawMeasurement
	if data == nil {
		return raw, fmt.Errorf("event data missing")
	}
	metric, _ := data["metric"].(string)
	if metric == "" {
		return raw, fmt.Errorf("metric missing")
	}
	value, ok := data["value"].(float64)
	if !ok {
		return raw, fmt.Errorf("value missing or not numeric")
	}
	raw.Metric = metric
	raw.Value = value
	raw.Unit, _ = data["unit"].(string)
	raw.Source, _ = data["source"].(string)
	raw.Timestamp = time.Now().UTC()
	return raw, nil
}

func (s *ConversionService) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req models.ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Metric == "" {
		http.Error(w, "metric is required", http.StatusBadRequest)
		return
	}

	metrics.IncConversionRequest()
	result := s.converter.Convert(r.Context(), req.Metric, req.Value, req.Unit, req.Context)
	outcome := s.validator.Validate(req.Metric, result, req.Context)

	writeJSON(w, models.ConvertResponse{Conversion: result, Validation: &outcome})
}

func (s *ConversionService) handleBatchConvert(w http.ResponseWriter, r *http.Request) {
	var req models.BatchConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if len(req.Measurements) == 0 {
		http.Error(w, "measurements are required", http.StatusBadRequest)
		return
	}

	results := make([]models.ConversionResult, 0, len(req.Measurements))
	for _, m := range req.Measurements {
		metrics.IncConversionRequest()
		cc := m.Context
		if cc == nil {
			cc = req.Context
		}
		results = append(results, s.converter.Convert(r.Context(), m.Metric, m.Value, m.Unit, cc))
	}

	outcomes, crossChecks := s.validator.ValidateSet(results, req.Context)

	response := models.BatchConvertResponse{CrossChecks: crossChecks}
	for i := range results {
		outcome := outcomes[i]
		response.Results = append(response.Results, models.ConvertResponse{
			Conversion: results[i],
			Validation: &outcome,
		})
	}
	writeJSON(w, response)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
