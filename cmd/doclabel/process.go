package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <folder>",
	Short: "Classify and extract every document in a folder",
	Long: `Process every supported file in a folder, in name order.

Each document is matched against the known labels. Unmatched documents
are sent to the LLM once to learn a new label, which is saved before its
rules run. Results are appended to results.json and a summary is printed.

Examples:
  doclabel process ./inbox
  doclabel process ./inbox -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp()
		if err != nil {
			return err
		}

		docs, err := a.extractor.LoadFolder(ctx, args[0])
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			logger.Warn("no documents found", "folder", args[0])
		}

		summary, runErr := a.orch.Run(ctx, docs)
		if err := printer.Print(summary); err != nil {
			return err
		}
		if runErr != nil {
			return fmt.Errorf("run stopped: %w", runErr)
		}
		return nil
	},
}
