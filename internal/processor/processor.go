// File: internal/processor/processor.go
package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/casino-ledger/internal/metrics"
	"github.com/smartdevs17/casino-ledger/internal/models"
	"github.com/smartdevs17/casino-ledger/internal/storage"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

// Recorder turns decoded contract events into ledger rows
type Recorder interface {
	// RecordSpin persists the spin at most once per source log. A redelivered log
	// returns the existing row's ID and storage.ErrAlreadyExists.
	RecordSpin(ctx context.Context, spin *models.SpinResult) (int64, error)
	GetStats() *ProcessorStats
}

// LedgerRecorder implements Recorder on top of a Storage
type LedgerRecorder struct {
	storage storage.Storage
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry
	config  *ProcessorConfig

	mu    sync.RWMutex
	stats ProcessorStats
}

// ProcessorConfig holds recorder configuration
type ProcessorConfig struct {
	// RetryAttempts bounds retries of transient database failures; 0 means a single attempt
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
	WriteTimeout  time.Duration `json:"write_timeout"`
}

// ProcessorStats contains recorder statistics
type ProcessorStats struct {
	Recorded       uint64     `json:"recorded"`
	Duplicates     uint64     `json:"duplicates"`
	Failed         uint64     `json:"failed"`
	LastRecordedID int64      `json:"last_recorded_id"`
	LastRecordedAt *time.Time `json:"last_recorded_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// DefaultProcessorConfig returns the recorder defaults
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{
		RetryAttempts: 2,
		RetryDelay:    200 * time.Millisecond,
		WriteTimeout:  10 * time.Second,
	}
}

// NewLedgerRecorder creates a recorder. metricsManager may be nil.
func NewLedgerRecorder(store storage.Storage, metricsManager *metrics.Manager, config *ProcessorConfig) *LedgerRecorder {
	if config == nil {
		config = DefaultProcessorConfig()
	}
	r := &LedgerRecorder{
		storage: store,
		logger:  utils.ComponentLogger("recorder"),
		config:  config,
	}
	if metricsManager != nil {
		r.metrics = metricsManager.GetPrometheusMetrics()
	}
	return r
}

// RecordSpin maps the spin to a ledger row and inserts it keyed by (tx hash, log index)
func (r *LedgerRecorder) RecordSpin(ctx context.Context, spin *models.SpinResult) (int64, error) {
	entry := SpinToEntry(spin)
	key := spin.Key()

	var (
		id  int64
		err error
	)
retry:
	for attempt := 0; ; attempt++ {
		id, err = r.insert(ctx, key, entry)
		if err == nil || !retryable(err) || attempt >= r.config.RetryAttempts {
			break
		}
		r.logger.WithFields(logrus.Fields{
			"tx_hash":   key.TxHash,
			"log_index": key.LogIndex,
			"attempt":   attempt + 1,
			"error":     err,
		}).Warn("Ledger insert failed, retrying")

		select {
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		case <-time.After(r.config.RetryDelay * time.Duration(attempt+1)):
		}
	}

	switch {
	case err == nil:
		now := time.Now()
		r.mu.Lock()
		r.stats.Recorded++
		r.stats.LastRecordedID = id
		r.stats.LastRecordedAt = &now
		r.mu.Unlock()
		r.recordMetric("inserted")
	case errors.Is(err, storage.ErrAlreadyExists):
		r.mu.Lock()
		r.stats.Duplicates++
		r.mu.Unlock()
		r.recordMetric("duplicate")
	default:
		r.mu.Lock()
		r.stats.Failed++
		r.stats.LastError = err.Error()
		r.mu.Unlock()
		r.recordMetric("error")
	}

	return id, err
}

func (r *LedgerRecorder) insert(ctx context.Context, key models.IdempotencyKey, entry *models.LedgerEntry) (int64, error) {
	if r.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.WriteTimeout)
		defer cancel()
	}
	return r.storage.InsertIfAbsent(ctx, key, entry)
}

// retryable reports whether err is a database failure worth another attempt
func retryable(err error) bool {
	if errors.Is(err, storage.ErrAlreadyExists) || errors.Is(err, context.Canceled) {
		return false
	}
	return utils.ErrorCode(err) == utils.ErrCodeDatabase
}

func (r *LedgerRecorder) recordMetric(result string) {
	if r.metrics != nil {
		r.metrics.RecordLedgerInsert(result)
	}
}

// GetStats returns a copy of the recorder statistics
func (r *LedgerRecorder) GetStats() *ProcessorStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := r.stats
	return &stats
}
