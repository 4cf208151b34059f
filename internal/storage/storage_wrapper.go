package storage

import (
	"context"
	"errors"
	"time"

	"github.com/smartdevs17/casino-ledger/internal/metrics"
	"github.com/smartdevs17/casino-ledger/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metrics *metrics.PrometheusMetrics
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	w := &StorageWithMetrics{Storage: storage}
	if metricsManager != nil {
		w.metrics = metricsManager.GetPrometheusMetrics()
	}
	return w
}

func (s *StorageWithMetrics) record(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, ErrAlreadyExists):
		status = "duplicate"
	case err != nil:
		status = "error"
	}
	s.metrics.RecordDatabaseOperation(operation, status, time.Since(start))
}

// Insert appends an entry and records metrics
func (s *StorageWithMetrics) Insert(ctx context.Context, entry *models.LedgerEntry) (int64, error) {
	start := time.Now()
	id, err := s.Storage.Insert(ctx, entry)
	s.record("insert", start, err)
	return id, err
}

// InsertIfAbsent appends an entry if absent and records metrics
func (s *StorageWithMetrics) InsertIfAbsent(ctx context.Context, key models.IdempotencyKey, entry *models.LedgerEntry) (int64, error) {
	start := time.Now()
	id, err := s.Storage.InsertIfAbsent(ctx, key, entry)
	s.record("insert_if_absent", start, err)
	return id, err
}

// Page reads a page and records metrics
func (s *StorageWithMetrics) Page(ctx context.Context, pageIndex, pageSize int) (*models.Page, error) {
	start := time.Now()
	page, err := s.Storage.Page(ctx, pageIndex, pageSize)
	s.record("page", start, err)
	return page, err
}

// GetHealth reports backend health and mirrors it into the component health gauge
func (s *StorageWithMetrics) GetHealth() *StorageHealth {
	health := s.Storage.GetHealth()
	if s.metrics != nil {
		s.metrics.UpdateComponentHealth("storage", health.Healthy)
	}
	return health
}
