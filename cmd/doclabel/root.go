package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/doclabel/internal/config"
	"github.com/jackzampolin/doclabel/internal/home"
	"github.com/jackzampolin/doclabel/internal/output"
	"github.com/jackzampolin/doclabel/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	verbose      bool

	logger  *slog.Logger
	printer *output.Printer
)

var rootCmd = &cobra.Command{
	Use:   "doclabel",
	Short: "Adaptive document classification and field extraction",
	Long: `doclabel sorts a folder of documents into labels and extracts
structured fields from each one.

Documents are matched against known labels by keyword. When nothing
matches, an LLM proposes a new label with keywords and extraction
rules; the label is saved and reused for every later document of the
same kind, so the model is consulted once per document type.

State lives in the home directory (default ~/.doclabel):
  labels.json       learned label catalog
  results.json      extracted records
  llm_calls.jsonl   log of every inference call`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.doclabel/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "doclabel home directory (default: ~/.doclabel)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.PersistentPreRunE = setup

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(labelsCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(callsCmd)
	rootCmd.AddCommand(configCmd)
}

// getHome resolves and creates the home directory.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}
	return h, nil
}

// loadConfig reads configuration, preferring --config, then a config file
// inside an explicit --home, then the default search path.
func loadConfig(h *home.Dir) (*config.Manager, error) {
	path := cfgFile
	if path == "" && homeDir != "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	return config.NewManager(path)
}

// setup builds the logger and output printer before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	printer = output.NewPrinter(cmd.OutOrStdout(), format)
	return nil
}
