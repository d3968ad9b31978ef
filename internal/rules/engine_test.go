package rules

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const faturaText = `FATURA Nº 123
Cliente: Maria Souza
Vencimento: 10/05/2024
Valor total: R$ 450,00`

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestEngine_Extract(t *testing.T) {
	e := newEngine(t, Options{})

	report := e.Extract(context.Background(), faturaText, map[string]string{
		"valor":      `number(capture(text, "(?i)valor[^0-9]*([0-9]+(?:[.,][0-9]+)?)"))`,
		"vencimento": `capture(text, "Vencimento:\\s*([0-9/]+)")`,
		"cliente":    `between(text, "Cliente:", "\n")`,
		"numero":     `find(text, "[0-9]+")`,
		"upper":      `text.contains("FATURA")`,
	})

	want := map[string]any{
		"valor":      450.0,
		"vencimento": "10/05/2024",
		"cliente":    "Maria Souza",
		"numero":     "123",
		"upper":      true,
	}
	for field, w := range want {
		if got := report.Fields[field]; got != w {
			t.Errorf("field %s = %#v, want %#v", field, got, w)
		}
	}
	if len(report.Errors) != 0 {
		t.Errorf("unexpected errors: %v", report.Errors)
	}
}

func TestEngine_FieldIsolation(t *testing.T) {
	e := newEngine(t, Options{})

	report := e.Extract(context.Background(), faturaText, map[string]string{
		"good":      `capture(text, "Cliente: (.+)")`,
		"no_match":  `capture(text, "CNPJ: ([0-9]+)")`,
		"bad_regex": `find(text, "([")`,
		"syntax":    `capture(text,`,
		"unknown":   `readFile("/etc/passwd")`,
		"bad_num":   `number("abc")`,
		"null":      `null`,
	})

	if report.Fields["good"] != "Maria Souza" {
		t.Errorf("good = %#v", report.Fields["good"])
	}
	for _, field := range []string{"no_match", "bad_regex", "syntax", "unknown", "bad_num", "null"} {
		t.Run(field, func(t *testing.T) {
			v, ok := report.Fields[field]
			if !ok {
				t.Fatalf("field %s missing from report", field)
			}
			if v != nil {
				t.Errorf("expected nil, got %#v", v)
			}
			fe := report.Errors[field]
			if fe == nil {
				t.Fatal("expected field error")
			}
			if !errors.Is(fe, ErrFieldExtraction) {
				t.Errorf("expected ErrFieldExtraction, got %v", fe)
			}
		})
	}
	if len(report.Fields) != 7 {
		t.Errorf("expected 7 fields, got %d", len(report.Fields))
	}
	if got := report.Failed(); len(got) != 6 || got[0] != "bad_num" {
		t.Errorf("Failed() = %v", got)
	}
}

func TestEngine_CollectionResults(t *testing.T) {
	e := newEngine(t, Options{})
	text := "item: A\nitem: B\nitem: C"

	report := e.Extract(context.Background(), text, map[string]string{
		"items": `captureAll(text, "item: ([A-Z])")`,
		"obj":   `{"first": capture(text, "item: ([A-Z])"), "count": size(captureAll(text, "item: ([A-Z])"))}`,
	})

	items, ok := report.Fields["items"].([]any)
	if !ok || len(items) != 3 || items[2] != "C" {
		t.Fatalf("items = %#v", report.Fields["items"])
	}
	obj, ok := report.Fields["obj"].(map[string]any)
	if !ok {
		t.Fatalf("obj = %#v", report.Fields["obj"])
	}
	if obj["first"] != "A" || obj["count"] != 3.0 {
		t.Errorf("obj = %#v", obj)
	}
}

func TestEngine_Bounds(t *testing.T) {
	t.Run("cost limit", func(t *testing.T) {
		e := newEngine(t, Options{CostLimit: 5})
		text := strings.Repeat("word ", 200)

		report := e.Extract(context.Background(), text, map[string]string{
			"all": `text.split(" ").all(w, w.size() >= 0)`,
		})
		if report.Fields["all"] != nil {
			t.Errorf("expected nil, got %#v", report.Fields["all"])
		}
		if report.Errors["all"] == nil {
			t.Error("expected cost limit error")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		e := newEngine(t, Options{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report := e.Extract(ctx, faturaText, map[string]string{
			"a": `find(text, "FATURA")`,
			"b": `text.size()`,
		})
		for _, field := range []string{"a", "b"} {
			if report.Fields[field] != nil {
				t.Errorf("%s: expected nil", field)
			}
			if fe := report.Errors[field]; fe == nil || !errors.Is(fe, context.Canceled) {
				t.Errorf("%s: expected context.Canceled, got %v", field, fe)
			}
		}
	})
}

func TestEngine_Check(t *testing.T) {
	e := newEngine(t, Options{})

	if err := e.Check(`capture(text, "x(y)")`); err != nil {
		t.Errorf("expected valid rule, got %v", err)
	}
	if err := e.Check(`exec("rm -rf /")`); err == nil {
		t.Error("expected error for undeclared function")
	}
	if err := e.Check(`os.Getenv("HOME")`); err == nil {
		t.Error("expected error for undeclared identifier")
	}
}

func TestEngine_ProgramCache(t *testing.T) {
	e := newEngine(t, Options{})
	rule := `find(text, "a+")`

	for i := 0; i < 3; i++ {
		report := e.Extract(context.Background(), "baaa", map[string]string{"f": rule})
		if report.Fields["f"] != "aaa" {
			t.Fatalf("iteration %d: f = %#v", i, report.Fields["f"])
		}
	}
	e.mu.RLock()
	n := len(e.prgs)
	e.mu.RUnlock()
	if n != 1 {
		t.Errorf("expected 1 cached program, got %d", n)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"450,00", 450, false},
		{"R$ 1.234,56", 1234.56, false},
		{"$1,234.56", 1234.56, false},
		{"1.234.567", 1234567, false},
		{"1,234,567", 1234567, false},
		{"12.5", 12.5, false},
		{"-3,5", -3.5, false},
		{"42", 42, false},
		{"12.5 kg", 12.5, false},
		{"R$ -1.234,56", -1234.56, false},
		{"450,00.", 450, false},
		{"abc", 0, true},
		{"", 0, true},
		{"-", 0, true},
		{"1e400", 0, true},
		{"10-20", 0, true},
		{"1 234", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNumber(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNumber(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseNumber(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
