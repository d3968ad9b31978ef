// Package pipeline drives each document through classification, label
// synthesis, rule extraction and persistence.
//
// A document's failure stays with that document: synthesis and extraction
// problems are reported in its Outcome and the run continues. Only failures
// to persist the label catalog or a result stop a run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/doclabel/internal/classify"
	"github.com/jackzampolin/doclabel/internal/ingest"
	"github.com/jackzampolin/doclabel/internal/labels"
	"github.com/jackzampolin/doclabel/internal/results"
	"github.com/jackzampolin/doclabel/internal/rules"
	"github.com/jackzampolin/doclabel/internal/synth"
)

// ErrEmptyDocument is recorded for documents with no text to classify.
var ErrEmptyDocument = errors.New("document has no text")

// State names a step of the per-document state machine.
type State string

const (
	StateClassify        State = "classify"
	StateMatchedKnown    State = "matched_known"
	StateUnmatched       State = "unmatched"
	StateSynthesisOK     State = "synthesis_ok"
	StateSynthesisFailed State = "synthesis_failed"
	StateExtract         State = "extract"
	StatePersist         State = "persist"
	StateDone            State = "done"
)

// Catalog is the label registry as seen by the pipeline.
type Catalog interface {
	Snapshot() labels.Snapshot
	Get(label string) (labels.Definition, bool)
	Insert(def labels.Definition) error
}

// Synthesizer proposes a definition for an unmatched document.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (labels.Definition, error)
}

// RuleRunner applies extraction rules to text.
type RuleRunner interface {
	Extract(ctx context.Context, text string, exprs map[string]string) rules.Report
}

// ResultSink persists one outcome.
type ResultSink interface {
	Append(rec results.Record) (results.Record, error)
}

// Options configures an Orchestrator.
type Options struct {
	// RecordSkipped persists a "skipped" record for documents whose
	// label could not be resolved.
	RecordSkipped bool
	Logger        *slog.Logger
}

// Orchestrator runs documents through the pipeline.
type Orchestrator struct {
	catalog Catalog
	synth   Synthesizer
	rules   RuleRunner
	sink    ResultSink
	opts    Options
	logger  *slog.Logger
	runID   string

	// mu serializes classification with catalog mutation so a label learned
	// from one document is visible to the next.
	mu sync.Mutex
}

// New creates an Orchestrator.
func New(catalog Catalog, s Synthesizer, r RuleRunner, sink ResultSink, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		catalog: catalog,
		synth:   s,
		rules:   r,
		sink:    sink,
		opts:    opts,
		logger:  logger,
		runID:   uuid.New().String(),
	}
}

// RunID identifies this orchestrator's run in results and call logs.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Outcome reports what happened to one document.
type Outcome struct {
	DocumentID   string         `json:"document_id" yaml:"document_id"`
	Label        string         `json:"label,omitempty" yaml:"label,omitempty"`
	Path         State          `json:"path" yaml:"path"`
	State        State          `json:"state" yaml:"state"`
	NewLabel     bool           `json:"new_label,omitempty" yaml:"new_label,omitempty"`
	Reused       bool           `json:"reused_label,omitempty" yaml:"reused_label,omitempty"`
	Fields       map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	FailedFields []string       `json:"failed_fields,omitempty" yaml:"failed_fields,omitempty"`
	RecordID     string         `json:"record_id,omitempty" yaml:"record_id,omitempty"`
	Error        string         `json:"error,omitempty" yaml:"error,omitempty"`
	ElapsedMS    int64          `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// Resolved reports whether the document ended up with a label.
func (o Outcome) Resolved() bool {
	return o.Path == StateMatchedKnown || o.Path == StateSynthesisOK
}

// Process runs one document through the pipeline. The returned error is
// non-nil only when the catalog or result store could not be written.
func (o *Orchestrator) Process(ctx context.Context, doc ingest.Document) (Outcome, error) {
	start := time.Now()
	logger := o.logger.With("run_id", o.runID, "document_id", doc.ID)
	out := Outcome{DocumentID: doc.ID, State: StateClassify}
	finish := func() Outcome {
		out.ElapsedMS = time.Since(start).Milliseconds()
		return out
	}

	def, err := o.resolve(ctx, doc, &out, logger)
	if err != nil {
		return finish(), err
	}

	if !out.Resolved() {
		if !o.opts.RecordSkipped {
			out.State = StateDone
			return finish(), nil
		}
		out.State = StatePersist
		rec, err := o.sink.Append(results.Record{
			DocumentID: doc.ID,
			Status:     results.StatusSkipped,
			Error:      out.Error,
		})
		if err != nil {
			logger.Error("failed to persist result", "error", err)
			return finish(), err
		}
		out.RecordID = rec.ID
		out.State = StateDone
		return finish(), nil
	}

	out.State = StateExtract
	report := o.rules.Extract(ctx, doc.Content, def.ExtractRules)
	out.Fields = report.Fields
	out.FailedFields = report.Failed()
	if len(out.FailedFields) > 0 {
		logger.Warn("some fields could not be extracted", "label", def.Label, "failed", out.FailedFields)
	}

	out.State = StatePersist
	rec, err := o.sink.Append(results.Record{
		DocumentID:  doc.ID,
		Label:       def.Label,
		Status:      results.StatusExtracted,
		Fields:      report.Fields,
		FieldErrors: out.FailedFields,
	})
	if err != nil {
		logger.Error("failed to persist result", "label", def.Label, "error", err)
		return finish(), err
	}
	out.RecordID = rec.ID
	out.State = StateDone

	logger.Info("document processed",
		"label", def.Label,
		"path", out.Path,
		"fields", len(report.Fields),
		"failed_fields", len(out.FailedFields),
		"elapsed_ms", time.Since(start).Milliseconds())
	return finish(), nil
}

// resolve classifies doc and, when nothing matches, synthesizes and
// registers a new label. It holds o.mu for the whole step.
func (o *Orchestrator) resolve(ctx context.Context, doc ingest.Document, out *Outcome, logger *slog.Logger) (labels.Definition, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := o.catalog.Snapshot()
	label := classify.Classify(doc.Content, snap)
	if label != classify.Unknown {
		def, _ := snap.Get(label)
		out.Label = label
		out.Path = StateMatchedKnown
		logger.Info("document matched known label", "label", label)
		return def, nil
	}

	out.Path = StateUnmatched
	out.State = StateUnmatched
	if doc.Content == "" {
		out.Path = StateSynthesisFailed
		out.Error = ErrEmptyDocument.Error()
		logger.Warn("skipping document without text")
		return labels.Definition{}, nil
	}

	known := make([]string, 0, snap.Len())
	for _, d := range snap.Definitions {
		known = append(known, d.Label)
	}

	logger.Info("no label matched, synthesizing", "known_labels", len(known))
	def, err := o.synth.Synthesize(ctx, synth.Request{
		RunID:       o.runID,
		DocumentID:  doc.ID,
		Text:        doc.Content,
		KnownLabels: known,
	})
	if err != nil {
		out.Path = StateSynthesisFailed
		out.State = StateSynthesisFailed
		out.Error = err.Error()
		logger.Warn("label synthesis failed", "error", err)
		return labels.Definition{}, nil
	}

	out.Path = StateSynthesisOK
	out.State = StateSynthesisOK
	out.Label = def.Label

	if existing, ok := o.catalog.Get(def.Label); ok {
		out.Reused = true
		logger.Info("synthesized label already registered, reusing", "label", def.Label)
		return existing, nil
	}

	switch err := o.catalog.Insert(def); {
	case err == nil:
		out.NewLabel = true
		return def, nil
	case errors.Is(err, labels.ErrDuplicateLabel):
		existing, ok := o.catalog.Get(def.Label)
		if !ok {
			return labels.Definition{}, fmt.Errorf("label %s reported duplicate but not found: %w", def.Label, err)
		}
		out.Reused = true
		return existing, nil
	default:
		out.Error = err.Error()
		logger.Error("failed to register label", "label", def.Label, "error", err)
		return labels.Definition{}, err
	}
}

// Summary totals a run.
type Summary struct {
	RunID         string    `json:"run_id" yaml:"run_id"`
	Documents     int       `json:"documents" yaml:"documents"`
	Matched       int       `json:"matched_known" yaml:"matched_known"`
	Synthesized   int       `json:"synthesized" yaml:"synthesized"`
	NewLabels     int       `json:"new_labels" yaml:"new_labels"`
	Failed        int       `json:"synthesis_failed" yaml:"synthesis_failed"`
	Recorded      int       `json:"recorded" yaml:"recorded"`
	FieldFailures int       `json:"field_failures" yaml:"field_failures"`
	Outcomes      []Outcome `json:"outcomes" yaml:"outcomes"`
}

func (s *Summary) add(out Outcome) {
	s.Documents++
	switch out.Path {
	case StateMatchedKnown:
		s.Matched++
	case StateSynthesisOK:
		s.Synthesized++
	case StateSynthesisFailed:
		s.Failed++
	}
	if out.NewLabel {
		s.NewLabels++
	}
	if out.RecordID != "" {
		s.Recorded++
	}
	s.FieldFailures += len(out.FailedFields)
	s.Outcomes = append(s.Outcomes, out)
}

// Run processes docs in order. It stops early only on cancellation or a
// persistence failure; the summary covers the documents seen so far.
func (o *Orchestrator) Run(ctx context.Context, docs []ingest.Document) (Summary, error) {
	summary := Summary{RunID: o.runID, Outcomes: make([]Outcome, 0, len(docs))}
	logger := o.logger.With("run_id", o.runID)
	logger.Info("run started", "documents", len(docs))

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		out, err := o.Process(ctx, doc)
		summary.add(out)
		if err != nil {
			return summary, fmt.Errorf("document %s: %w", doc.ID, err)
		}
	}

	logger.Info("run finished",
		"documents", summary.Documents,
		"matched_known", summary.Matched,
		"synthesized", summary.Synthesized,
		"synthesis_failed", summary.Failed)
	return summary, nil
}
