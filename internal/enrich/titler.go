// Package enrich generates short human-readable titles for initiatives.
// It is a degraded feature: any failure leaves the title empty and never
// stops ingestion.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/legis-cli/internal/model"
	"github.com/sells-group/legis-cli/internal/resilience"
	"github.com/sells-group/legis-cli/pkg/anthropic"
)

// ErrEmptyTitle is returned when the collaborator produced no usable text.
var ErrEmptyTitle = eris.New("enrich: empty title")

// Prompt is the context handed to a Titler for one initiative.
type Prompt struct {
	Expediente string
	Kind       string
	Subject    string
	Promoter   string
	Stage      model.Stage
	Evidence   []Snippet
}

// Titler produces a title for one initiative.
type Titler interface {
	Title(ctx context.Context, p Prompt) (string, error)
}

// TitlerFunc adapts a function to Titler.
type TitlerFunc func(ctx context.Context, p Prompt) (string, error)

// Title calls f.
func (f TitlerFunc) Title(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

const systemPrompt = `You write titles for Spanish parliamentary initiatives.
Given the initiative's type, subject, promoter and procedural stage, reply with
one short title in Spanish (at most 12 words). Reply with the title only: no
quotes, no trailing period, no explanation.`

// maxSubjectRunes bounds the subject text sent to the model.
const maxSubjectRunes = 2000

// AnthropicTitler asks a Claude model for titles.
type AnthropicTitler struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicTitler creates a Titler backed by client.
func NewAnthropicTitler(client anthropic.Client, model string, maxTokens int64) *AnthropicTitler {
	if maxTokens <= 0 {
		maxTokens = 128
	}
	return &AnthropicTitler{client: client, model: model, maxTokens: maxTokens}
}

// Title implements Titler. API errors with a retryable status are marked
// transient.
func (t *AnthropicTitler) Title(ctx context.Context, p Prompt) (string, error) {
	temp := 0.0
	resp, err := t.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       t.model,
		MaxTokens:   t.maxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: userMessage(p)}},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.IsTransientStatus(code) {
			err = resilience.Transient(err, code)
		}
		return "", eris.Wrapf(err, "enrich: title %s", p.Expediente)
	}
	resp.Usage.Log(t.model, "title")

	title := Clean(resp.Text())
	if title == "" {
		return "", eris.Wrapf(ErrEmptyTitle, "enrich: title %s", p.Expediente)
	}
	return title, nil
}

func userMessage(p Prompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Expediente: %s\n", p.Expediente)
	fmt.Fprintf(&b, "Tipo: %s\n", p.Kind)
	if p.Promoter != "" {
		fmt.Fprintf(&b, "Autor: %s\n", p.Promoter)
	}
	if p.Stage != "" {
		fmt.Fprintf(&b, "Fase: %s\n", p.Stage)
	}
	fmt.Fprintf(&b, "Objeto: %s\n", truncate(p.Subject, maxSubjectRunes))
	if len(p.Evidence) > 0 {
		b.WriteString("\nContexto adicional:\n")
		for _, s := range p.Evidence {
			fmt.Fprintf(&b, "- [%s] %s\n", s.Source, truncate(s.Text, maxSubjectRunes/4))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

var quotePairs = [][2]string{
	{`"`, `"`}, {`'`, `'`}, {"«", "»"}, {"“", "”"}, {"‘", "’"}, {"`", "`"},
}

var firstUpper = cases.Upper(language.Spanish)

// Clean trims model output into a title: surrounding whitespace and one
// pair of surrounding quotes are removed and the first letter capitalised.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
			break
		}
	}
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return firstUpper.String(string(r)) + s[size:]
}
