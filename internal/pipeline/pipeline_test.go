package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jackzampolin/doclabel/internal/ingest"
	"github.com/jackzampolin/doclabel/internal/labels"
	"github.com/jackzampolin/doclabel/internal/providers"
	"github.com/jackzampolin/doclabel/internal/results"
	"github.com/jackzampolin/doclabel/internal/rules"
	"github.com/jackzampolin/doclabel/internal/synth"
)

const faturaResponse = `Here you go:
` + "```json" + `
{
  "label": "Fatura",
  "keywords": ["fatura", "vencimento"],
  "extraction_schema": {"valor": "valor total", "vencimento": "data de vencimento", "cnpj": "CNPJ do emissor"},
  "extract_rules": {
    "valor": "number(capture(text, \"(?i)valor[^0-9]*([0-9.,]+)\"))",
    "vencimento": "capture(text, \"Vencimento:\\\\s*([0-9/]+)\")",
    "cnpj": "capture(text, \"CNPJ:\\\\s*([0-9./-]+)\")"
  }
}
` + "```"

var (
	faturaOne = ingest.Document{ID: "fatura_1.pdf", Content: "FATURA Nº 1\nVencimento: 10/05/2024\nValor total: R$ 450,00"}
	faturaTwo = ingest.Document{ID: "fatura_2.pdf", Content: "Fatura nº 2\nVencimento: 01/06/2024\nValor: R$ 1.234,56"}
)

type fixture struct {
	orch     *Orchestrator
	registry *labels.Registry
	store    *results.Store
	client   *providers.MockClient
	dir      string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()

	registry, err := labels.Open(labels.NewFileStore(filepath.Join(dir, "labels.json")), nil)
	if err != nil {
		t.Fatalf("labels.Open() error = %v", err)
	}
	engine, err := rules.NewEngine(rules.Options{})
	if err != nil {
		t.Fatalf("rules.NewEngine() error = %v", err)
	}

	client := providers.NewMockClient()
	client.ResponseText = faturaResponse
	s := synth.New(client, synth.Config{Timeout: 5 * time.Second, RetryDelay: time.Millisecond}, nil, engine, nil)
	store := results.NewStore(filepath.Join(dir, "results.json"), nil)

	return &fixture{
		orch:     New(registry, s, engine, store, opts),
		registry: registry,
		store:    store,
		client:   client,
		dir:      dir,
	}
}

func TestRun_LearnsLabelThenMatchesIt(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, Options{RecordSkipped: true})
	summary, err := f.orch.Run(context.Background(), []ingest.Document{faturaOne, faturaTwo})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := f.client.RequestCount(); got != 1 {
		t.Errorf("expected 1 inference call, got %d", got)
	}
	if summary.Documents != 2 || summary.Synthesized != 1 || summary.Matched != 1 || summary.NewLabels != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.RunID != f.orch.RunID() {
		t.Errorf("summary run id = %q, want %q", summary.RunID, f.orch.RunID())
	}

	first, second := summary.Outcomes[0], summary.Outcomes[1]
	if first.Path != StateSynthesisOK || !first.NewLabel || first.Label != "fatura" {
		t.Errorf("first outcome = %+v", first)
	}
	if second.Path != StateMatchedKnown || second.Label != "fatura" {
		t.Errorf("second outcome = %+v", second)
	}
	for _, out := range summary.Outcomes {
		if out.State != StateDone {
			t.Errorf("%s ended in state %s", out.DocumentID, out.State)
		}
	}

	recs, err := f.store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	wantValor := []float64{450, 1234.56}
	wantVenc := []string{"10/05/2024", "01/06/2024"}
	for i, rec := range recs {
		if rec.Label != "fatura" || rec.Status != results.StatusExtracted {
			t.Errorf("record %d = %+v", i, rec)
		}
		if rec.Fields["valor"] != wantValor[i] {
			t.Errorf("record %d valor = %#v, want %v", i, rec.Fields["valor"], wantValor[i])
		}
		if rec.Fields["vencimento"] != wantVenc[i] {
			t.Errorf("record %d vencimento = %#v, want %v", i, rec.Fields["vencimento"], wantVenc[i])
		}
		if v, ok := rec.Fields["cnpj"]; !ok || v != nil {
			t.Errorf("record %d cnpj = %#v (present %v), want null", i, v, ok)
		}
		if len(rec.FieldErrors) != 1 || rec.FieldErrors[0] != "cnpj" {
			t.Errorf("record %d field errors = %v", i, rec.FieldErrors)
		}
	}
	if summary.FieldFailures != 2 {
		t.Errorf("field failures = %d, want 2", summary.FieldFailures)
	}

	// The learned label survives a restart.
	reopened, err := labels.Open(labels.NewFileStore(filepath.Join(f.dir, "labels.json")), nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if _, ok := reopened.Get("fatura"); !ok || reopened.Len() != 1 {
		t.Errorf("expected persisted fatura label, got %d labels", reopened.Len())
	}
}

func TestRun_SynthesisFailureIsLocal(t *testing.T) {
	tests := []struct {
		name          string
		recordSkipped bool
		wantRecords   int
	}{
		{"records skipped", true, 2},
		{"drops skipped", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{RecordSkipped: tt.recordSkipped})
			f.client.Responses = []string{"I am not sure what this is."}

			summary, err := f.orch.Run(context.Background(), []ingest.Document{faturaOne, faturaTwo})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if summary.Failed != 1 || summary.Synthesized != 1 {
				t.Errorf("unexpected summary: %+v", summary)
			}

			failed := summary.Outcomes[0]
			if failed.Path != StateSynthesisFailed || failed.Label != "" || failed.Error == "" {
				t.Errorf("failed outcome = %+v", failed)
			}
			if f.client.RequestCount() != 2 {
				t.Errorf("expected 2 inference calls, got %d", f.client.RequestCount())
			}

			recs, err := f.store.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(recs) != tt.wantRecords {
				t.Fatalf("expected %d records, got %d", tt.wantRecords, len(recs))
			}
			if tt.recordSkipped {
				skipped := recs[0]
				if skipped.Status != results.StatusSkipped || skipped.Label != "" || len(skipped.Fields) != 0 {
					t.Errorf("skipped record = %+v", skipped)
				}
				if skipped.Label == "Unknown" {
					t.Error("skipped record must not carry the Unknown label")
				}
			}
		})
	}
}

func TestProcess_ReusesExistingLabelOnNameCollision(t *testing.T) {
	f := newFixture(t, Options{})
	existing := labels.Definition{
		Label:        "fatura",
		Keywords:     []string{"boleto bancario"},
		ExtractRules: map[string]string{"numero": `find(text, "[0-9]+")`},
	}
	if err := f.registry.Insert(existing); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	out, err := f.orch.Process(context.Background(), faturaOne)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !out.Reused || out.NewLabel || out.Path != StateSynthesisOK {
		t.Errorf("outcome = %+v", out)
	}
	if out.Fields["numero"] != "1" {
		t.Errorf("expected existing rules to run, got fields %v", out.Fields)
	}
	if f.registry.Len() != 1 {
		t.Errorf("registry grew to %d labels", f.registry.Len())
	}
	def, _ := f.registry.Get("fatura")
	if def.Keywords[0] != "boleto bancario" {
		t.Errorf("existing definition was replaced: %+v", def)
	}
}

func TestProcess_EmptyDocumentSkipsSynthesis(t *testing.T) {
	f := newFixture(t, Options{RecordSkipped: true})

	out, err := f.orch.Process(context.Background(), ingest.Document{ID: "blank.pdf"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.Path != StateSynthesisFailed || out.Error != ErrEmptyDocument.Error() {
		t.Errorf("outcome = %+v", out)
	}
	if f.client.RequestCount() != 0 {
		t.Errorf("expected no inference call, got %d", f.client.RequestCount())
	}
	if out.RecordID == "" {
		t.Error("expected a skipped record")
	}
}

type failingSink struct{}

func (failingSink) Append(results.Record) (results.Record, error) {
	return results.Record{}, fmt.Errorf("%w: disk full", results.ErrPersistence)
}

type failingStore struct{}

func (failingStore) Load() ([]labels.Definition, error) { return nil, nil }
func (failingStore) Save([]labels.Definition) error { return errors.New("read-only filesystem") }

func TestRun_PersistenceFailuresAbort(t *testing.T) {
	t.Run("result store", func(t *testing.T) {
		f := newFixture(t, Options{})
		orch := New(f.registry, f.orch.synth, f.orch.rules, failingSink{}, Options{})

		summary, err := orch.Run(context.Background(), []ingest.Document{faturaOne, faturaTwo})
		if !errors.Is(err, results.ErrPersistence) {
			t.Fatalf("expected ErrPersistence, got %v", err)
		}
		if summary.Documents != 1 {
			t.Errorf("run continued past failure: %d documents", summary.Documents)
		}
	})

	t.Run("label catalog", func(t *testing.T) {
		f := newFixture(t, Options{})
		registry, err := labels.Open(failingStore{}, nil)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		orch := New(registry, f.orch.synth, f.orch.rules, f.store, Options{RecordSkipped: true})

		_, err = orch.Run(context.Background(), []ingest.Document{faturaOne})
		if !errors.Is(err, labels.ErrPersistence) {
			t.Fatalf("expected labels.ErrPersistence, got %v", err)
		}
		if registry.Len() != 0 {
			t.Error("label registered despite failed save")
		}
		recs, _ := f.store.Load()
		if len(recs) != 0 {
			t.Errorf("expected no records, got %d", len(recs))
		}
	})
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.orch.Run(ctx, []ingest.Document{faturaOne})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.Documents != 0 || f.client.RequestCount() != 0 {
		t.Errorf("work done after cancel: %+v", summary)
	}
}

func TestProcess_ConcurrentDocumentsLearnOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, Options{})
	docs := []ingest.Document{faturaOne, faturaTwo, faturaOne, faturaTwo}

	errc := make(chan error, len(docs))
	for _, doc := range docs {
		go func() {
			_, err := f.orch.Process(context.Background(), doc)
			errc <- err
		}()
	}
	for range docs {
		if err := <-errc; err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}

	if got := f.client.RequestCount(); got != 1 {
		t.Errorf("expected 1 inference call, got %d", got)
	}
	recs, err := f.store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(recs) != len(docs) {
		t.Errorf("expected %d records, got %d", len(docs), len(recs))
	}
}
