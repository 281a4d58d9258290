package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventfeed/cli/pkg/output"
	"github.com/telhawk-systems/eventfeed/common/config"
	"github.com/telhawk-systems/eventfeed/common/logging"
)

var (
	cfgFile    string
	saveTokens bool
	cfg        *config.Config
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "feedctl",
	Short: "Event feed client",
	Long: `feedctl drives an event-service channel from the terminal.

Manage OAuth2 tokens and channel filters, poll and acknowledge batches,
or stream the channel into JSON lines, pcap files, NATS and OpenSearch
with optional L2/L3 session correlation.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		output.Error("%v", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.eventfeed/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", output.FormatTable, "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level")
	rootCmd.PersistentFlags().BoolVar(&saveTokens, "save-tokens", false, "write rotated tokens back to the config file")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		output.Warn("Could not load config: %v", err)
		cfg = config.Default()
	}

	level := cfg.Logging.Level
	if flag, _ := rootCmd.PersistentFlags().GetString("log-level"); flag != "" {
		level = flag
	}
	logger = logging.New(logging.ParseLevel(level), cfg.Logging.Format).Logger
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}

func validateConfig() error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", cfg.Path(), err)
	}
	return nil
}
