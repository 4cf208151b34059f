package connection

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/casino-ledger/internal/config"
	"github.com/smartdevs17/casino-ledger/internal/metrics"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

// LogSource is the part of a node client the ledger needs: log filters,
// push subscriptions and the head block number
type LogSource interface {
	ethereum.LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Manager defines the connection manager interface
type Manager interface {
	Dial(ctx context.Context) (LogSource, error)
	HealthCheck(ctx context.Context) error
	IsConnected() bool
	Close() error
	Stats() ConnectionStats
}

// ConnectionManager dials the configured node, falling back to backup URLs
type ConnectionManager struct {
	config       *config.ChainConfig
	urls         []string
	currentIndex int
	client       *ethclient.Client
	mu           sync.RWMutex
	logger       *logrus.Entry
	stats        ConnectionStats
	metrics      *metrics.PrometheusMetrics
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	Dials           uint64    `json:"dials"`
	FailedDials     uint64    `json:"failed_dials"`
	CurrentURL      string    `json:"current_url"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
	NetworkID       uint64    `json:"network_id"`
	LatestBlock     uint64    `json:"latest_block"`
}

// NewConnectionManager creates a new connection manager. metricsManager may be nil.
func NewConnectionManager(cfg *config.ChainConfig, metricsManager *metrics.Manager) *ConnectionManager {
	urls := []string{cfg.NodeURL}
	urls = append(urls, cfg.BackupNodeURLs...)

	cm := &ConnectionManager{
		config: cfg,
		urls:   urls,
		logger: utils.ComponentLogger("connection"),
		stats: ConnectionStats{
			CurrentURL: cfg.NodeURL,
		},
	}
	if metricsManager != nil {
		cm.metrics = metricsManager.GetPrometheusMetrics()
	}
	return cm
}

// Dial closes any previous client and connects to the first reachable node,
// retrying the whole URL list RetryAttempts times
func (cm *ConnectionManager) Dial(ctx context.Context) (LogSource, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}
	cm.stats.IsHealthy = false

	attempts := max(1, cm.config.RetryAttempts)
	urls := cm.rotatedURLs()

	for attempt := 0; attempt < attempts; attempt++ {
		for _, url := range urls {
			cm.stats.Dials++
			log := cm.logger.WithFields(logrus.Fields{"url": url, "attempt": attempt + 1})
			log.Info("Attempting connection")

			client, err := cm.dialWithTimeout(ctx, url)
			if err != nil {
				cm.stats.FailedDials++
				log.WithField("error", err).Warn("Connection failed")
				continue
			}

			networkID, err := cm.quickHealthCheck(ctx, client)
			if err != nil {
				client.Close()
				cm.stats.FailedDials++
				log.WithField("error", err).Warn("Health check failed after connection")
				continue
			}

			cm.client = client
			cm.currentIndex = cm.indexOf(url)
			cm.stats.CurrentURL = url
			cm.stats.NetworkID = networkID
			cm.stats.LastConnectedAt = time.Now()
			cm.stats.LastHealthCheck = time.Now()
			cm.stats.IsHealthy = true
			cm.updateHealth(true)

			log.WithField("network_id", networkID).Info("Connected to node")
			return client, nil
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cm.config.RetryDelay):
			}
		}
	}

	cm.updateHealth(false)
	return nil, utils.NewAppError(utils.ErrCodeConnection, "Failed to connect to any node",
		"All connection attempts exhausted")
}

// dialWithTimeout creates a connection with timeout
func (cm *ConnectionManager) dialWithTimeout(ctx context.Context, url string) (*ethclient.Client, error) {
	if cm.config.RequestTimeout <= 0 {
		return ethclient.DialContext(ctx, url)
	}
	dialCtx, cancel := context.WithTimeout(ctx, cm.config.RequestTimeout)
	defer cancel()

	return ethclient.DialContext(dialCtx, url)
}

// quickHealthCheck verifies the node answers, returning its network ID
func (cm *ConnectionManager) quickHealthCheck(ctx context.Context, client *ethclient.Client) (uint64, error) {
	timeout := cm.config.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	networkID, err := client.NetworkID(checkCtx)
	if err != nil {
		return 0, err
	}
	return networkID.Uint64(), nil
}

// HealthCheck queries the current node's head block
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	cm.mu.RLock()
	client := cm.client
	cm.mu.RUnlock()

	if client == nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Not connected")
	}

	blockNumber, err := client.BlockNumber(ctx)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.stats.LastHealthCheck = time.Now()
	if err != nil {
		cm.stats.IsHealthy = false
		cm.updateHealth(false)
		return utils.WrapAppError(utils.ErrCodeConnection, "Failed to get latest block", err)
	}
	cm.stats.LatestBlock = blockNumber
	cm.stats.IsHealthy = true
	cm.updateHealth(true)
	return nil
}

// IsConnected returns whether the manager holds a healthy client
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.client != nil && cm.stats.IsHealthy
}

// Close closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}

	cm.stats.IsHealthy = false
	cm.logger.Info("Connection manager closed")
	return nil
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}

// rotatedURLs returns all URLs starting from the last one that worked
func (cm *ConnectionManager) rotatedURLs() []string {
	if cm.currentIndex > 0 && cm.currentIndex < len(cm.urls) {
		rotated := make([]string, 0, len(cm.urls))
		rotated = append(rotated, cm.urls[cm.currentIndex:]...)
		return append(rotated, cm.urls[:cm.currentIndex]...)
	}
	return cm.urls
}

func (cm *ConnectionManager) indexOf(url string) int {
	for i, u := range cm.urls {
		if u == url {
			return i
		}
	}
	return 0
}

func (cm *ConnectionManager) updateHealth(healthy bool) {
	if cm.metrics != nil {
		cm.metrics.UpdateComponentHealth("upstream", healthy)
	}
}
