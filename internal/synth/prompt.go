package synth

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"text/template"
	"unicode/utf8"
)

//go:embed system.tmpl
var systemPromptTmpl string

//go:embed user.tmpl
var userPromptTmpl string

var (
	systemTemplate = template.Must(template.New("system").Parse(systemPromptTmpl))
	userTemplate   = template.Must(template.New("user").Parse(userPromptTmpl))
)

// Prompt keys
const (
	SystemPromptKey = "synth.label.system"
	UserPromptKey   = "synth.label.user"
)

type systemData struct {
	MaxKeywords int
	KnownLabels []string
}

type userData struct {
	Text      string
	Truncated bool
}

// SystemPrompt renders the instruction sent with every synthesis request.
func SystemPrompt(maxKeywords int, known []string) string {
	var buf bytes.Buffer
	if err := systemTemplate.Execute(&buf, systemData{MaxKeywords: maxKeywords, KnownLabels: known}); err != nil {
		// Fallback to raw template on error
		return systemPromptTmpl
	}
	return buf.String()
}

// UserPrompt carries the document text, cut to maxChars runes when positive.
func UserPrompt(text string, maxChars int) string {
	data := userData{Text: text}
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		data.Text = string([]rune(text)[:maxChars])
		data.Truncated = true
	}
	var buf bytes.Buffer
	if err := userTemplate.Execute(&buf, data); err != nil {
		return data.Text
	}
	return buf.String()
}

// hashText returns a SHA256 hash of the text for change detection.
func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
