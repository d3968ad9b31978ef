package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/doclabel/internal/llmcall"
	"github.com/jackzampolin/doclabel/internal/results"
)

var (
	resultsLabel  string
	resultsStatus string
	resultsLimit  int

	callsRun      string
	callsDocument string
	callsFailed   bool
	callsSince    time.Duration
	callsLimit    int
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect extracted records",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted records, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		recs, err := results.NewStore(h.ResultsPath(), logger).Load()
		if err != nil {
			return err
		}

		out := make([]results.Record, 0, len(recs))
		for _, r := range recs {
			if resultsLabel != "" && r.Label != resultsLabel {
				continue
			}
			if resultsStatus != "" && string(r.Status) != resultsStatus {
				continue
			}
			out = append(out, r)
		}
		if resultsLimit > 0 && len(out) > resultsLimit {
			out = out[len(out)-resultsLimit:]
		}
		return printer.Print(out)
	},
}

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Inspect the LLM call log",
}

var callsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded inference calls",
	Long: `List inference calls from llm_calls.jsonl, newest last.

Examples:
  doclabel calls list --failed
  doclabel calls list --document fatura_3.pdf
  doclabel calls list --since 1h --limit 5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		calls, err := listCalls()
		if err != nil {
			return err
		}
		return printer.Print(calls)
	},
}

var callsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize token usage and latency of recorded calls",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		calls, err := listCalls()
		if err != nil {
			return err
		}
		return printer.Print(llmcall.Summarize(calls))
	},
}

// listCalls reads the call log with the filters from the calls flags.
func listCalls() ([]llmcall.Call, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	filter := llmcall.QueryFilter{
		RunID:      callsRun,
		DocumentID: callsDocument,
		Limit:      callsLimit,
	}
	if callsFailed {
		ok := false
		filter.Success = &ok
	}
	if callsSince > 0 {
		after := time.Now().Add(-callsSince)
		filter.After = &after
	}
	return llmcall.List(h.CallsPath(), filter)
}

func init() {
	resultsListCmd.Flags().StringVar(&resultsLabel, "label", "", "only records with this label")
	resultsListCmd.Flags().StringVar(&resultsStatus, "status", "", "only records with this status (extracted, skipped)")
	resultsListCmd.Flags().IntVar(&resultsLimit, "limit", 0, "show only the last N records")
	resultsCmd.AddCommand(resultsListCmd)

	callsCmd.PersistentFlags().StringVar(&callsRun, "run", "", "only calls from this run id")
	callsCmd.PersistentFlags().StringVar(&callsDocument, "document", "", "only calls for this document id")
	callsCmd.PersistentFlags().BoolVar(&callsFailed, "failed", false, "only failed calls")
	callsCmd.PersistentFlags().DurationVar(&callsSince, "since", 0, "only calls newer than this (e.g. 30m)")
	callsCmd.PersistentFlags().IntVar(&callsLimit, "limit", 0, "only the last N calls")
	callsCmd.AddCommand(callsListCmd)
	callsCmd.AddCommand(callsStatsCmd)
}
