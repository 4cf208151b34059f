// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

// EnvPrefix is the prefix for environment overrides, e.g. CASINO_LEDGER_CHAIN_NODE_URL
const EnvPrefix = "CASINO_LEDGER"

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Chain   ChainConfig   `mapstructure:"chain"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ChainConfig contains upstream node and contract configuration
type ChainConfig struct {
	NodeURL         string        `mapstructure:"node_url"`
	BackupNodeURLs  []string      `mapstructure:"backup_node_urls"`
	ContractAddress string        `mapstructure:"contract_address"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay   time.Duration `mapstructure:"max_retry_delay"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BufferSize      int           `mapstructure:"buffer_size"`
	StrictReels     bool          `mapstructure:"strict_reels"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	BusyTimeout      time.Duration `mapstructure:"busy_timeout"` // sqlite only
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables.
// An empty configPath searches ./config.yaml and ./config/config.yaml.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by the original deployment manifests
	_ = v.BindEnv("chain.node_url", EnvPrefix+"_CHAIN_NODE_URL", "WEB3_NODE_URL")
	_ = v.BindEnv("chain.contract_address", EnvPrefix+"_CHAIN_CONTRACT_ADDRESS", "WEB3_CONTRACT_ADDRESS")
	_ = v.BindEnv("storage.connection_string", EnvPrefix+"_STORAGE_CONNECTION_STRING", "DATABASE_URL")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && configPath == "" {
			utils.GetLogger().Debug("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "casino-ledger")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")

	v.SetDefault("chain.node_url", "ws://127.0.0.1:8545")
	v.SetDefault("chain.request_timeout", "15s")
	v.SetDefault("chain.retry_attempts", 3)
	v.SetDefault("chain.retry_delay", "2s")
	v.SetDefault("chain.max_retry_delay", "1m")
	v.SetDefault("chain.poll_interval", "5s")
	v.SetDefault("chain.buffer_size", 128)
	v.SetDefault("chain.strict_reels", false)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/ledger.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")
	v.SetDefault("storage.busy_timeout", "5s")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.NodeURL == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Node URL is required")
	}
	if c.Chain.ContractAddress == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Contract address is required")
	}
	if !utils.IsValidAddress(c.Chain.ContractAddress) {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Contract address is not a valid hex address", c.Chain.ContractAddress)
	}
	if c.Chain.RetryDelay <= 0 || c.Chain.MaxRetryDelay < c.Chain.RetryDelay {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Retry delay must be positive and not exceed max retry delay")
	}
	if c.Chain.PollInterval <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Poll interval must be positive")
	}
	if c.Chain.BufferSize <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Buffer size must be positive")
	}
	if c.Storage.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Server port out of range", fmt.Sprint(c.Server.Port))
	}
	return nil
}
