// File: internal/monitor/monitor.go
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/casino-ledger/internal/connection"
	"github.com/smartdevs17/casino-ledger/internal/metrics"
	"github.com/smartdevs17/casino-ledger/internal/processor"
	"github.com/smartdevs17/casino-ledger/internal/storage"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

var errSubscriptionClosed = errors.New("subscription closed by upstream")

// Monitor defines the event monitor interface
type Monitor interface {
	// Lifecycle management
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool

	// Statistics and monitoring
	State() State
	Status() *MonitorStatus
	GetStats() *MonitorStats
}

// Dialer opens a connection to the upstream node
type Dialer interface {
	Dial(ctx context.Context) (connection.LogSource, error)
}

// State is the upstream subscription state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// MarshalText renders the state by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventMonitor subscribes to the contract's SpinResult logs and records each one in the ledger
type EventMonitor struct {
	// Dependencies
	dialer   Dialer
	recorder processor.Recorder
	logger   *logrus.Entry
	metrics  *metrics.PrometheusMetrics

	// Configuration
	config *MonitorConfig

	// State management
	mu      sync.RWMutex
	running bool
	state   State
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Components
	parser       *SpinParser
	filter       *EventFilter
	reorgHandler *ReorgHandler

	// Statistics
	stats MonitorStats
}

// MonitorConfig holds monitor configuration
type MonitorConfig struct {
	ContractAddress common.Address `json:"contract_address"`
	RetryDelay      time.Duration  `json:"retry_delay"`
	MaxRetryDelay   time.Duration  `json:"max_retry_delay"`
	PollInterval    time.Duration  `json:"poll_interval"`
	BufferSize      int            `json:"buffer_size"`
	StrictReels     bool           `json:"strict_reels"`
	WriteTimeout    time.Duration  `json:"write_timeout"`
}

// MonitorStats provides monitoring statistics
type MonitorStats struct {
	StartTime       time.Time  `json:"start_time"`
	Received        uint64     `json:"received"`
	Decoded         uint64     `json:"decoded"`
	Recorded        uint64     `json:"recorded"`
	Duplicates      uint64     `json:"duplicates"`
	Skipped         uint64     `json:"skipped"`
	Removed         uint64     `json:"removed"`
	DecodeFailures  uint64     `json:"decode_failures"`
	PersistFailures uint64     `json:"persist_failures"`
	Reconnects      uint64     `json:"reconnects"`
	Polling         bool       `json:"polling"`
	LastBlockSeen   uint64     `json:"last_block_seen"`
	LastError       *string    `json:"last_error,omitempty"`
	LastErrorTime   *time.Time `json:"last_error_time,omitempty"`
}

// MonitorStatus is the externally visible monitor state
type MonitorStatus struct {
	Running         bool          `json:"running"`
	State           State         `json:"state"`
	ContractAddress string        `json:"contract_address"`
	Uptime          time.Duration `json:"uptime"`
	Stats           MonitorStats  `json:"stats"`
}

// NewEventMonitor creates a new event monitor. metricsManager may be nil.
func NewEventMonitor(dialer Dialer, recorder processor.Recorder, config *MonitorConfig, metricsManager *metrics.Manager) *EventMonitor {
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.MaxRetryDelay < config.RetryDelay {
		config.MaxRetryDelay = config.RetryDelay
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}

	monitor := &EventMonitor{
		dialer:   dialer,
		recorder: recorder,
		config:   config,
		logger:   utils.ComponentLogger("monitor").WithField("contract", config.ContractAddress.Hex()),
		state:    StateDisconnected,
	}
	if metricsManager != nil {
		monitor.metrics = metricsManager.GetPrometheusMetrics()
	}

	// Initialize components
	monitor.parser = NewSpinParser(config.StrictReels)
	monitor.filter = NewEventFilter(config.ContractAddress)
	monitor.reorgHandler = NewReorgHandler(monitor.metrics)

	return monitor
}

// Start launches the subscription loop. It returns immediately; connection
// problems are handled by the loop and never surface here.
func (em *EventMonitor) Start(ctx context.Context) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Monitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	em.cancel = cancel
	em.running = true
	em.stats.StartTime = time.Now()

	em.wg.Add(1)
	go em.run(runCtx)

	em.logger.WithField("signature", SpinResultSignature).Info("Event monitor started")
	return nil
}

// Stop cancels the subscription loop and waits for it to exit
func (em *EventMonitor) Stop() error {
	em.mu.Lock()
	if !em.running {
		em.mu.Unlock()
		return nil
	}
	em.logger.Info("Stopping event monitor")
	em.cancel()
	em.mu.Unlock()

	// Wait for goroutines to finish
	em.wg.Wait()

	em.mu.Lock()
	em.running = false
	em.mu.Unlock()
	em.setState(StateDisconnected)

	em.logger.Info("Event monitor stopped")
	return nil
}

// IsRunning returns whether the monitor is running
func (em *EventMonitor) IsRunning() bool {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.running
}

// State returns the current subscription state
func (em *EventMonitor) State() State {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.state
}

// GetStats returns a copy of the monitor statistics
func (em *EventMonitor) GetStats() *MonitorStats {
	em.mu.RLock()
	defer em.mu.RUnlock()
	stats := em.stats
	return &stats
}

// Status returns state and statistics together
func (em *EventMonitor) Status() *MonitorStatus {
	em.mu.RLock()
	defer em.mu.RUnlock()

	status := &MonitorStatus{
		Running:         em.running,
		State:           em.state,
		ContractAddress: em.config.ContractAddress.Hex(),
		Stats:           em.stats,
	}
	if em.running {
		status.Uptime = time.Since(em.stats.StartTime)
	}
	return status
}

// run keeps a subscription alive until ctx is cancelled, backing off
// exponentially between failed attempts. Each new subscription starts at the latest block.
func (em *EventMonitor) run(ctx context.Context) {
	defer em.wg.Done()

	delay := em.config.RetryDelay
	for {
		subscribed, err := em.subscribe(ctx)
		em.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}

		if subscribed {
			delay = em.config.RetryDelay
		}
		em.recordError(err)
		em.logger.WithFields(logrus.Fields{
			"error":       err,
			"retry_delay": delay,
		}).Warn("Upstream subscription lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, em.config.MaxRetryDelay)

		em.mu.Lock()
		em.stats.Reconnects++
		em.mu.Unlock()
		if em.metrics != nil {
			em.metrics.RecordReconnect()
		}
	}
}

// subscribe dials, subscribes and consumes logs until the subscription fails.
// It reports whether the subscription was established.
func (em *EventMonitor) subscribe(ctx context.Context) (bool, error) {
	em.setState(StateConnecting)

	source, err := em.dialer.Dial(ctx)
	if err != nil {
		return false, err
	}

	logs := make(chan types.Log, max(1, em.config.BufferSize))
	query := em.filter.Query()

	var sub ethereum.Subscription
	sub, err = source.SubscribeFilterLogs(ctx, query, logs)
	polling := false
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		em.logger.Info("Node does not support subscriptions, falling back to polling")
		poller := NewLogPoller(source, query, em.config.PollInterval, logs)
		if err := poller.Start(ctx); err != nil {
			return false, err
		}
		sub, err, polling = poller, nil, true
	}
	if err != nil {
		return false, utils.WrapAppError(utils.ErrCodeBlockchain, "Failed to subscribe to logs", err)
	}
	defer sub.Unsubscribe()

	em.mu.Lock()
	em.stats.Polling = polling
	em.mu.Unlock()
	em.setState(StateSubscribed)
	em.logger.WithField("polling", polling).Info("Subscribed to contract logs")

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				err = errSubscriptionClosed
			}
			return true, err
		case log := <-logs:
			em.handleLog(ctx, log)
		}
	}
}

// handleLog decodes and records a single log. Failures are logged and counted; none stop the loop.
func (em *EventMonitor) handleLog(ctx context.Context, log types.Log) {
	fields := logrus.Fields{
		"tx_hash":      log.TxHash.Hex(),
		"log_index":    log.Index,
		"block_number": log.BlockNumber,
	}

	em.mu.Lock()
	em.stats.Received++
	if log.BlockNumber > em.stats.LastBlockSeen {
		em.stats.LastBlockSeen = log.BlockNumber
	}
	em.mu.Unlock()
	if em.metrics != nil {
		em.metrics.UpdateLatestBlockSeen(log.BlockNumber)
	}

	if log.Removed {
		em.reorgHandler.HandleRemoved(log)
		em.count(func(s *MonitorStats) { s.Removed++ }, "removed")
		return
	}

	if !em.filter.Matches(log) {
		em.count(func(s *MonitorStats) { s.Skipped++ }, "skipped")
		return
	}

	spin, err := em.parser.Parse(log)
	if errors.Is(err, ErrUnsupportedSignature) {
		em.logger.WithFields(fields).Debug("Skipping log with unsupported signature")
		em.count(func(s *MonitorStats) { s.Skipped++ }, "skipped")
		return
	}
	if err != nil {
		reason := decodeReason(err)
		em.logger.WithFields(fields).WithFields(logrus.Fields{
			"reason": reason,
			"error":  err,
		}).Warn("Failed to decode SpinResult log")
		em.recordError(err)
		em.count(func(s *MonitorStats) { s.DecodeFailures++ }, "decode_error")
		if em.metrics != nil {
			em.metrics.RecordDecodeFailure(reason)
		}
		return
	}
	em.count(func(s *MonitorStats) { s.Decoded++ }, "")

	// An accepted log is persisted even if shutdown begins mid-write.
	writeCtx := context.WithoutCancel(ctx)
	if em.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(writeCtx, em.config.WriteTimeout)
		defer cancel()
	}

	id, err := em.recorder.RecordSpin(writeCtx, spin)
	switch {
	case err == nil:
		em.logger.WithFields(fields).WithFields(logrus.Fields{
			"entry_id":    id,
			"player":      spin.Player.Hex(),
			"slot_result": spin.SlotResult(),
		}).Info("Recorded spin")
		em.count(func(s *MonitorStats) { s.Recorded++ }, "recorded")
	case errors.Is(err, storage.ErrAlreadyExists):
		em.logger.WithFields(fields).WithField("entry_id", id).Debug("Duplicate log, already recorded")
		em.count(func(s *MonitorStats) { s.Duplicates++ }, "duplicate")
	default:
		em.logger.WithFields(fields).WithField("error", err).Error("Failed to persist ledger entry; entry is missing from the ledger")
		em.recordError(err)
		em.count(func(s *MonitorStats) { s.PersistFailures++ }, "persist_error")
	}
}

// count applies update to the stats and, when outcome is set, counts it in metrics
func (em *EventMonitor) count(update func(*MonitorStats), outcome string) {
	em.mu.Lock()
	update(&em.stats)
	em.mu.Unlock()
	if outcome != "" && em.metrics != nil {
		em.metrics.RecordLogReceived(outcome)
	}
}

func (em *EventMonitor) setState(state State) {
	em.mu.Lock()
	changed := em.state != state
	em.state = state
	em.mu.Unlock()

	if em.metrics != nil {
		em.metrics.UpdateSubscriptionState(int(state))
	}
	if changed {
		em.logger.WithField("state", state.String()).Debug("Subscription state changed")
	}
}

func (em *EventMonitor) recordError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	now := time.Now()

	em.mu.Lock()
	em.stats.LastError = &msg
	em.stats.LastErrorTime = &now
	em.mu.Unlock()
}

// ReorgHandler exposes the handler for status reporting
func (em *EventMonitor) ReorgHandler() *ReorgHandler {
	return em.reorgHandler
}
