package retrieve

import (
	"math"
	"strings"

	"github.com/davrin/sqlmentor/internal/memory"
)

// lexicalSimilarity scores how well the question's tokens match a knowledge
// item's raw feedback text. It blends a Jaccard-style overlap with coverage
// of the question tokens, with partial credit for substring hits. Pure and
// deterministic, which keeps retrieval reproducible for a fixed store state.
func lexicalSimilarity(questionTokens []string, rawText string) float64 {
	if len(questionTokens) == 0 {
		return 0
	}

	target := strings.ToLower(rawText)
	targetTokens := memory.Tokenize(target)
	targetSet := make(map[string]bool, len(targetTokens))
	for _, w := range targetTokens {
		targetSet[w] = true
	}

	var matched int
	var weighted float64
	for _, tok := range questionTokens {
		if targetSet[tok] {
			matched++
			weighted += 1.0
		} else if strings.Contains(target, tok) {
			matched++
			weighted += 0.7 // partial substring match
		}
	}
	if matched == 0 {
		return 0
	}

	overlap := float64(matched)
	union := float64(len(questionTokens) + len(targetSet) - matched)
	jaccard := overlap / math.Max(union, 1)
	coverage := weighted / float64(len(questionTokens))

	return 0.4*jaccard + 0.6*coverage
}
