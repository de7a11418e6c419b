package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamusis/posematch/internal/config"
)

var (
	flagConfig   string
	flagLogLevel string
)

// logger is configured from --log-level before any command runs.
var logger = slog.New(slog.DiscardHandler)

var rootCmd = &cobra.Command{
	Use:          "posematch",
	Short:        "posematch: gesture-indexed pose retrieval",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `posematch indexes a directory of recorded poses (feature descriptor plus
image) and answers, for each live feature vector, which recorded pose is
closest. Index and matcher snapshots live under ~/.posematch/data/.`,
	PersistentPreRunE: setupLogging,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to posematch.yaml (default ~/.posematch/posematch.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level: debug, info, warn or error (env "+config.EnvLogLevel+")")
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	level := flagLogLevel
	if !cmd.Flags().Changed("log-level") {
		if v, err := config.GetConfigValue(config.EnvLogLevel); err == nil && v != "" {
			level = v
		}
	}
	lv, err := parseLogLevel(level)
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q (want debug, info, warn or error)", s)
	}
	return lv, nil
}

// loadConfig reads --config when given, else ~/.posematch/posematch.yaml.
func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		p, err := config.ExpandPath(flagConfig)
		if err != nil {
			return nil, err
		}
		return config.LoadFrom(filepath.Clean(p))
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w\nRun 'posematch init' first.", err)
	}
	return cfg, nil
}
