package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smartdevs17/casino-ledger/internal/config"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

// AppVersion is overridden at build time with -ldflags "-X main.AppVersion=..."
var AppVersion = "1.0.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "casino-ledger",
	Short:         "Slot machine spin ledger",
	Long:          `Records SpinResult events from a slot machine contract into a ledger and serves it over HTTP.`,
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event monitor and the ledger API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.App.Version == "" {
			cfg.App.Version = AppVersion
		}

		app, err := NewApplication(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.Run(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logCfg := cfg.Logging
		if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		store, err := openStorage(&cfg.Storage)
		if err != nil {
			return err
		}
		defer store.Close()

		utils.GetLogger().WithField("type", cfg.Storage.Type).Info("Migrations applied")
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		fmt.Fprintf(cmd.OutOrStdout(), "Node: %s\n", cfg.Chain.NodeURL)
		fmt.Fprintf(cmd.OutOrStdout(), "Contract: %s\n", cfg.Chain.ContractAddress)
		fmt.Fprintf(cmd.OutOrStdout(), "Storage: %s\n", cfg.Storage.Type)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "casino-ledger %s\n", AppVersion)
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logrus.Fatal(err)
	}
}
