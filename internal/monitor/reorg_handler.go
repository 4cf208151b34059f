// File: internal/monitor/reorg_handler.go
package monitor

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/casino-ledger/internal/metrics"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

// ReorgHandler handles logs retracted by a chain reorganization.
// The ledger is append-only, so a retracted log never produces or removes a row;
// it is reported so an operator can reconcile the row recorded for it, if any.
type ReorgHandler struct {
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	mu           sync.RWMutex
	removedCount uint64
	lastRemoved  *RemovedLog
}

// RemovedLog describes the most recent retracted log
type RemovedLog struct {
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint      `json:"log_index"`
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	DetectedAt  time.Time `json:"detected_at"`
}

// NewReorgHandler creates a new reorganization handler. metrics may be nil.
func NewReorgHandler(metrics *metrics.PrometheusMetrics) *ReorgHandler {
	return &ReorgHandler{
		metrics: metrics,
		logger:  utils.ComponentLogger("reorg"),
	}
}

// HandleRemoved records a log delivered with Removed set
func (rh *ReorgHandler) HandleRemoved(log types.Log) {
	removed := &RemovedLog{
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.Index,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		DetectedAt:  time.Now(),
	}

	rh.mu.Lock()
	rh.removedCount++
	rh.lastRemoved = removed
	rh.mu.Unlock()

	if rh.metrics != nil {
		rh.metrics.RecordReorgRemoval()
	}

	rh.logger.WithFields(logrus.Fields{
		"tx_hash":      removed.TxHash,
		"log_index":    removed.LogIndex,
		"block_number": removed.BlockNumber,
		"block_hash":   removed.BlockHash,
	}).Warn("Log retracted by chain reorganization; ledger entry, if recorded, is kept")
}

// RemovedCount returns the number of retracted logs seen
func (rh *ReorgHandler) RemovedCount() uint64 {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	return rh.removedCount
}

// LastRemoved returns the most recent retracted log, or nil
func (rh *ReorgHandler) LastRemoved() *RemovedLog {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	if rh.lastRemoved == nil {
		return nil
	}
	last := *rh.lastRemoved
	return &last
}
