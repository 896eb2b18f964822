package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lorawan-server/lorawan-tester/internal/config"
	"github.com/lorawan-server/lorawan-tester/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	version  string

	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "lorawan-tester",
	Short: "LoRaWAN session security tester",
	Long: `lorawan-tester observes LoRaWAN OTAA handshakes, derives the session keys
from a known root key, decrypts data frames and forges join and ACK frames
for replay against a test network.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

// Execute executes the root command.
func Execute(v string) {
	version = v

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	// console logging until the config is read
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Server.Version = version
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logCloser = logging.Setup(cfg.Log)
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print a summary of the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg.PrintConfigSummary(cmd.OutOrStdout())
	},
}
