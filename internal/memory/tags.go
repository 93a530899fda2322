package memory

import "strings"

// Tokenize splits text into lowercase word tokens, keeping identifier
// characters so table and column names like X_SUB or DEVICE_CODE survive
// intact. Single characters and common stopwords are dropped. Both the
// ingestor's tag derivation and the retriever's question analysis use this
// tokenizer, so the two sides share one vocabulary.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})

	seen := make(map[string]bool, len(fields))
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		result = append(result, w)
	}
	return result
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true,
	"but": true, "not": true, "you": true, "all": true,
	"can": true, "had": true, "her": true, "was": true,
	"one": true, "our": true, "out": true, "has": true,
	"have": true, "been": true, "this": true, "that": true,
	"with": true, "from": true, "they": true, "will": true,
	"what": true, "when": true, "make": true, "like": true,
	"just": true, "into": true, "than": true, "them": true,
	"some": true, "could": true, "would": true, "there": true,
	"must": true, "use": true, "using": true, "their": true,
	"via": true, "is": true, "as": true, "in": true, "of": true,
	"to": true, "an": true, "on": true, "by": true, "list": true,
	"show": true, "find": true, "found": true, "table": true,
	"column": true, "value": true, "queries": true, "query": true,
}
