package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/doclabel/internal/ingest"
)

var watchExisting bool

var watchCmd = &cobra.Command{
	Use:   "watch <folder>",
	Short: "Process documents as they arrive in a folder",
	Long: `Watch a folder and process each supported file once it has been
written. Runs until interrupted. Changes to the LLM settings in the
config file are picked up without a restart.

Examples:
  doclabel watch ./inbox
  doclabel watch ./inbox --existing   # also process files already there`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp()
		if err != nil {
			return err
		}
		a.watchConfig()

		paths, err := a.extractor.Watch(ctx, ingest.WatchConfig{
			Folder:      args[0],
			InitialScan: watchExisting,
			Debounce:    a.cfg.Get().Ingest.Debounce(),
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		logger.Info("watching for documents", "folder", args[0], "run_id", a.orch.RunID())

		for path := range paths {
			doc, err := a.extractor.Extract(ctx, path)
			if err != nil {
				logger.Warn("failed to read document", "path", path, "error", err)
				continue
			}
			out, err := a.orch.Process(ctx, doc)
			if err != nil {
				return err
			}
			if err := printer.Print(out); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "process files already in the folder first")
}
