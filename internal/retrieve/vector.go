package retrieve

import (
	"context"
	"fmt"

	"github.com/davrin/sqlmentor/internal/embedding"
	"github.com/davrin/sqlmentor/internal/vectorstore"
)

// VectorRanker adds a semantic relevance signal on top of lexical ranking.
// Knowledge items are indexed at ingestion time; here the question is embedded
// and searched against that index.
type VectorRanker struct {
	embedder embedding.Provider
	index    *vectorstore.Index
	topK     uint64
}

// NewVectorRanker creates a ranker over the knowledge vector index.
func NewVectorRanker(embedder embedding.Provider, index *vectorstore.Index, topK int) *VectorRanker {
	if topK <= 0 {
		topK = 32
	}
	return &VectorRanker{embedder: embedder, index: index, topK: uint64(topK)}
}

// Scores returns itemID -> similarity for the nearest indexed items.
func (v *VectorRanker) Scores(ctx context.Context, question string) (map[string]float64, error) {
	vectors, err := v.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	hits, err := v.index.Search(ctx, vectors[0], v.topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		scores[h.ItemID] = float64(h.Score)
	}
	return scores, nil
}
