package main

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/doclabel/internal/classify"
	"github.com/jackzampolin/doclabel/internal/labels"
	"github.com/jackzampolin/doclabel/internal/rules"
)

var (
	labelsFile   string
	labelsSample string
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Inspect and seed the label catalog",
}

// labelSummary is the list view of a definition.
type labelSummary struct {
	Label    string   `json:"label" yaml:"label"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Fields   []string `json:"fields" yaml:"fields"`
}

var labelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known labels in match order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		snap := catalog.Snapshot()
		out := make([]labelSummary, 0, snap.Len())
		for _, d := range snap.Definitions {
			out = append(out, labelSummary{
				Label:    d.Label,
				Keywords: d.Keywords,
				Fields:   sortedKeys(d.ExtractRules),
			})
		}
		return printer.Print(out)
	},
}

// sampleCheck reports how a label's keywords fare against a sample text.
type sampleCheck struct {
	Label           string   `json:"label" yaml:"label"`
	Keywords        []string `json:"keywords" yaml:"keywords"`
	Matches         bool     `json:"matches" yaml:"matches"`
	MissingKeywords []string `json:"missing_keywords,omitempty" yaml:"missing_keywords,omitempty"`
}

func checkSample(def labels.Definition, text string) sampleCheck {
	check := sampleCheck{
		Label:    def.Label,
		Keywords: def.Keywords,
		Matches:  classify.Match(text, def.Keywords),
	}
	for _, kw := range def.Keywords {
		if !classify.Match(text, []string{kw}) {
			check.MissingKeywords = append(check.MissingKeywords, kw)
		}
	}
	return check
}

var labelsShowCmd = &cobra.Command{
	Use:   "show <label>",
	Short: "Show a label's keywords, schema and rules",
	Long: `Show a label definition. With --sample, report instead whether the
text in that file matches the label's keywords and which ones are missing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		def, ok := catalog.Get(args[0])
		if !ok {
			return fmt.Errorf("label %q not found", args[0])
		}
		if labelsSample != "" {
			text, err := os.ReadFile(labelsSample)
			if err != nil {
				return err
			}
			return printer.Print(checkSample(def, string(text)))
		}
		return printer.Print(def)
	},
}

var labelsAddCmd = &cobra.Command{
	Use:   "add --file <definitions.yaml>",
	Short: "Add hand-written labels to the catalog",
	Long: `Add one or more label definitions from a YAML or JSON file. The file
holds either a single definition or a list of them:

  - label: fatura
    keywords: [fatura, vencimento]
    extraction_schema:
      valor: valor total
    extract_rules:
      valor: number(capture(text, "(?i)valor[^0-9]*([0-9.,]+)"))

Every rule is compiled before anything is saved. Labels that already
exist are reported and skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := readDefinitions(labelsFile)
		if err != nil {
			return err
		}

		engine, err := rules.NewEngine(rules.Options{Logger: logger})
		if err != nil {
			return err
		}
		for i := range defs {
			defs[i].Label = labels.NormalizeLabel(defs[i].Label)
			if err := defs[i].Validate(); err != nil {
				return err
			}
			for field, rule := range defs[i].ExtractRules {
				if err := engine.Check(rule); err != nil {
					return fmt.Errorf("label %s field %s: %w", defs[i].Label, field, err)
				}
			}
		}

		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		added := make([]string, 0, len(defs))
		for _, d := range defs {
			switch err := catalog.Insert(d); {
			case err == nil:
				added = append(added, d.Label)
			case errors.Is(err, labels.ErrDuplicateLabel):
				logger.Warn("label already exists, skipping", "label", d.Label)
			default:
				return err
			}
		}
		return printer.Print(map[string]any{"added": added})
	},
}

func init() {
	labelsAddCmd.Flags().StringVarP(&labelsFile, "file", "f", "", "YAML or JSON file with definitions")
	_ = labelsAddCmd.MarkFlagRequired("file")
	labelsShowCmd.Flags().StringVar(&labelsSample, "sample", "", "text file to check against the label's keywords")

	labelsCmd.AddCommand(labelsListCmd)
	labelsCmd.AddCommand(labelsShowCmd)
	labelsCmd.AddCommand(labelsAddCmd)
}

func openCatalog() (*labels.Registry, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	return labels.Open(labels.NewFileStore(h.LabelsPath()), logger)
}

// readDefinitions decodes a single definition or a list of them.
func readDefinitions(path string) ([]labels.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%s holds no definitions", path)
	}

	root := doc.Content[0]
	if root.Kind == yaml.SequenceNode {
		var defs []labels.Definition
		if err := root.Decode(&defs); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return defs, nil
	}
	var def labels.Definition
	if err := root.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return []labels.Definition{def}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
