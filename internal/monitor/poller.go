// File: internal/monitor/poller.go
package monitor

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/casino-ledger/internal/connection"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

// maxPollRange caps the block span of a single eth_getLogs call
const maxPollRange = 2000

// LogPoller emulates a log subscription on nodes that only speak HTTP by
// polling FilterLogs over each new block range. It implements ethereum.Subscription.
type LogPoller struct {
	source   connection.LogSource
	query    ethereum.FilterQuery
	interval time.Duration
	sink     chan<- types.Log
	logger   *logrus.Entry

	errCh     chan error
	quit      chan struct{}
	quitOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu         sync.RWMutex
	nextBlock  uint64
	pollCount  uint64
	errorCount uint64
}

// NewLogPoller creates a poller delivering matching logs to sink
func NewLogPoller(source connection.LogSource, query ethereum.FilterQuery, interval time.Duration, sink chan<- types.Log) *LogPoller {
	return &LogPoller{
		source:   source,
		query:    query,
		interval: interval,
		sink:     sink,
		logger:   utils.ComponentLogger("poller"),
		errCh:    make(chan error, 1),
		quit:     make(chan struct{}),
	}
}

// Start anchors the poller after the current head block and begins polling.
// Like a subscription from "latest", only logs in later blocks are delivered.
func (lp *LogPoller) Start(ctx context.Context) error {
	head, err := lp.source.BlockNumber(ctx)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeBlockchain, "Failed to get block number", err)
	}

	lp.mu.Lock()
	lp.nextBlock = head + 1
	lp.mu.Unlock()

	lp.logger.WithFields(logrus.Fields{
		"from_block": head + 1,
		"interval":   lp.interval,
	}).Info("Polling for logs")

	lp.wg.Add(1)
	go lp.loop(ctx)
	return nil
}

func (lp *LogPoller) loop(ctx context.Context) {
	defer lp.wg.Done()

	ticker := time.NewTicker(lp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-lp.quit:
			return
		case <-ticker.C:
			if err := lp.poll(ctx); err != nil {
				lp.mu.Lock()
				lp.errorCount++
				lp.mu.Unlock()
				if ctx.Err() != nil {
					return
				}
				lp.errCh <- err
				return
			}
		}
	}
}

// poll fetches logs from nextBlock up to the head, at most maxPollRange blocks at a time
func (lp *LogPoller) poll(ctx context.Context) error {
	head, err := lp.source.BlockNumber(ctx)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeBlockchain, "Failed to get block number", err)
	}

	lp.mu.Lock()
	lp.pollCount++
	from := lp.nextBlock
	lp.mu.Unlock()

	for from <= head {
		to := min(head, from+maxPollRange-1)

		query := lp.query
		query.FromBlock = new(big.Int).SetUint64(from)
		query.ToBlock = new(big.Int).SetUint64(to)

		logs, err := lp.source.FilterLogs(ctx, query)
		if err != nil {
			return utils.WrapAppError(utils.ErrCodeBlockchain, "Failed to filter logs", err)
		}

		for _, log := range logs {
			select {
			case lp.sink <- log:
			case <-lp.quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		from = to + 1
		lp.mu.Lock()
		lp.nextBlock = from
		lp.mu.Unlock()
	}
	return nil
}

// Unsubscribe stops polling and closes the error channel
func (lp *LogPoller) Unsubscribe() {
	lp.quitOnce.Do(func() { close(lp.quit) })
	lp.wg.Wait()
	lp.closeOnce.Do(func() { close(lp.errCh) })
}

// Err returns the channel that receives the polling error that ended the poller
func (lp *LogPoller) Err() <-chan error {
	return lp.errCh
}

// GetStats returns poller statistics
func (lp *LogPoller) GetStats() map[string]interface{} {
	lp.mu.RLock()
	defer lp.mu.RUnlock()

	return map[string]interface{}{
		"next_block":  lp.nextBlock,
		"poll_count":  lp.pollCount,
		"error_count": lp.errorCount,
	}
}
