// Package labels owns the persisted catalog of document labels.
//
// A label carries the keywords used to recognise a document type and the
// extraction rules used to pull structured fields out of it. The catalog only
// grows: definitions are appended whole and never edited or removed here.
package labels

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxKeywords bounds the number of keywords on a definition.
const MaxKeywords = 3

var (
	// ErrDuplicateLabel is returned when inserting a label that already exists.
	ErrDuplicateLabel = errors.New("duplicate label")

	// ErrInvalidDefinition is returned for definitions that cannot be registered.
	ErrInvalidDefinition = errors.New("invalid label definition")

	// ErrPersistence wraps failures to durably write the catalog.
	ErrPersistence = errors.New("label catalog persistence failed")
)

// Definition is one entry in the label catalog.
type Definition struct {
	Label            string            `json:"label" yaml:"label"`
	Keywords         []string          `json:"keywords" yaml:"keywords"`
	ExtractionSchema map[string]string `json:"extraction_schema" yaml:"extraction_schema"`
	ExtractRules     map[string]string `json:"extract_rules" yaml:"extract_rules"`
}

// Validate checks the structural invariants a definition must meet before
// it can be registered.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Label) == "" {
		return fmt.Errorf("%w: label is empty", ErrInvalidDefinition)
	}
	if len(d.Keywords) == 0 {
		return fmt.Errorf("%w: %s has no keywords", ErrInvalidDefinition, d.Label)
	}
	if len(d.Keywords) > MaxKeywords {
		return fmt.Errorf("%w: %s has %d keywords (max %d)", ErrInvalidDefinition, d.Label, len(d.Keywords), MaxKeywords)
	}
	for i, k := range d.Keywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: %s keyword %d is empty", ErrInvalidDefinition, d.Label, i)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can't mutate catalog state.
func (d Definition) Clone() Definition {
	out := Definition{
		Label:    d.Label,
		Keywords: append([]string(nil), d.Keywords...),
	}
	if d.ExtractionSchema != nil {
		out.ExtractionSchema = make(map[string]string, len(d.ExtractionSchema))
		for k, v := range d.ExtractionSchema {
			out.ExtractionSchema[k] = v
		}
	}
	if d.ExtractRules != nil {
		out.ExtractRules = make(map[string]string, len(d.ExtractRules))
		for k, v := range d.ExtractRules {
			out.ExtractRules[k] = v
		}
	}
	return out
}

// NormalizeLabel turns free text into a lowercase snake_case token.
// "Nota Fiscal (NF-e)" becomes "nota_fiscal_nf_e".
func NormalizeLabel(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
	}
	return b.String()
}
