package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davrin/sqlmentor/internal/memory"
	"github.com/davrin/sqlmentor/internal/provider"
	"go.uber.org/zap"
)

const extractSystemPrompt = `You are a precise information extractor for a natural-language-to-SQL assistant.
The user message is feedback from a database mentor. Extract every concrete fact it states as a JSON array.

Each fact is an object with these fields:
- "kind": one of "table-mapping", "join-path", "value-alias", "constraint", "other"
- "subject": the term, table, or concept the fact is about
- "object": the table, value, or statement the subject maps to
- "via": for join-path only, the join column
- "column": for value-alias only, the column holding the encoded value

Guidance:
- "table-mapping": a business term should be answered from a specific table. subject = the term, object = the table.
- "join-path": two tables relate through a column. subject = the first table, object = the second, via = the column.
- "value-alias": a human-readable value is stored encoded. subject = the readable value, object = the stored value, column = the column.
- "constraint": a rule queries must always follow. subject = what it applies to, object = the rule text.
- Use "other" only when nothing else fits.
- Subjects should use the wording a question would use.
- Return ONLY the JSON array, no prose. Return [] if the text contains no usable fact.`

// extractedFact is the wire shape the extraction model is asked to emit.
type extractedFact struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Object  string `json:"object"`
	Via     string `json:"via,omitempty"`
	Column  string `json:"column,omitempty"`
}

// extract asks the extraction model to structure the feedback and validates
// the result. Any output that cannot be turned into well-formed rules is a
// ParseError for the mentor to act on.
func (ing *Ingestor) extract(ctx context.Context, rawText string) ([]memory.Rule, error) {
	sys := extractSystemPrompt
	if ing.catalog != nil {
		sys += "\n\nTarget database schema for reference:\n" + ing.catalog.Render()
	}

	resp, err := ing.router.Route(ctx, provider.PurposeExtract, &provider.ChatRequest{
		Model: ing.model,
		Messages: []provider.Message{
			{Role: "system", Content: sys},
			{Role: "user", Content: rawText},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}

	facts, err := parseFacts(resp.Content)
	if err != nil {
		ing.logger.Warn("feedback extraction produced unusable output",
			zap.String("output", truncate(resp.Content, 200)), zap.Error(err))
		return nil, &ParseError{Reason: err.Error(), Raw: rawText}
	}

	rules := make([]memory.Rule, 0, len(facts))
	for _, f := range facts {
		rule, err := f.toRule()
		if err != nil {
			return nil, &ParseError{Reason: err.Error(), Raw: rawText}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// parseFacts strips optional code fences and decodes the JSON array.
func parseFacts(content string) ([]extractedFact, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	// Some models wrap the array in prose despite instructions; recover the
	// outermost array if one is present.
	if !strings.HasPrefix(text, "[") {
		start := strings.Index(text, "[")
		end := strings.LastIndex(text, "]")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON array in extraction output")
		}
		text = text[start : end+1]
	}

	var facts []extractedFact
	if err := json.Unmarshal([]byte(text), &facts); err != nil {
		return nil, fmt.Errorf("decode extraction output: %w", err)
	}
	if len(facts) == 0 {
		return nil, fmt.Errorf("no facts extracted from feedback")
	}
	return facts, nil
}

// toRule validates one extracted fact against the fixed kind vocabulary.
func (f extractedFact) toRule() (memory.Rule, error) {
	kind := memory.Kind(strings.ToLower(strings.TrimSpace(f.Kind)))
	if !kind.Valid() {
		return memory.Rule{}, fmt.Errorf("unknown fact kind %q", f.Kind)
	}

	rule := memory.Rule{
		Kind:    kind,
		Subject: strings.TrimSpace(f.Subject),
		Object:  strings.TrimSpace(f.Object),
		Via:     strings.TrimSpace(f.Via),
		Column:  strings.TrimSpace(f.Column),
	}
	if rule.Subject == "" {
		return memory.Rule{}, fmt.Errorf("fact of kind %q has no subject", kind)
	}
	if rule.Object == "" {
		return memory.Rule{}, fmt.Errorf("fact %q has no object", rule.Subject)
	}
	switch kind {
	case memory.KindJoinPath:
		if rule.Via == "" {
			return memory.Rule{}, fmt.Errorf("join path %s to %s has no join column", rule.Subject, rule.Object)
		}
	case memory.KindValueAlias:
		if rule.Column == "" {
			return memory.Rule{}, fmt.Errorf("value alias %q has no column", rule.Subject)
		}
	}
	return rule, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
