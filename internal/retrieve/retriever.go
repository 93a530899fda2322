package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/davrin/sqlmentor/internal/memory"
	"github.com/davrin/sqlmentor/internal/schema"
	"go.uber.org/zap"
)

// Config holds the ranking weights and the result bound. The weights are
// tunable; exact-tag overlap deliberately dominates the fuzzy text score.
type Config struct {
	TopK         int     `json:"top_k"`
	TagWeight    float64 `json:"tag_weight"`
	FuzzyWeight  float64 `json:"fuzzy_weight"`
	VectorWeight float64 `json:"vector_weight"`
}

// DefaultConfig returns the standard retrieval parameters.
func DefaultConfig() Config {
	return Config{TopK: 10, TagWeight: 1.0, FuzzyWeight: 0.5, VectorWeight: 0.5}
}

// Retriever selects the ranked, bounded subset of active knowledge relevant
// to a question. It holds no state across calls: identical store contents and
// identical question text yield identical output.
type Retriever struct {
	store    memory.Store
	catalog  *schema.Catalog
	semantic *VectorRanker // optional; nil keeps retrieval fully lexical
	cfg      Config
	logger   *zap.Logger
}

// New creates a Retriever over the given store and schema catalog.
func New(store memory.Store, catalog *schema.Catalog, cfg Config, logger *zap.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	return &Retriever{store: store, catalog: catalog, cfg: cfg, logger: logger}
}

// SetSemanticRanker plugs in the optional vector ranker. Retrieval falls back
// to pure lexical ranking whenever the ranker is absent or fails.
func (r *Retriever) SetSemanticRanker(v *VectorRanker) { r.semantic = v }

// Result is a ranked retrieval outcome. Conflicts carries contradictions
// detected between selected items; they indicate store corruption and are
// reported for audit, never silently merged.
type Result struct {
	Items     []*memory.KnowledgeItem
	Conflicts []*memory.ConflictError
}

type scored struct {
	item  *memory.KnowledgeItem
	score float64
}

// Retrieve ranks the active knowledge against the question and returns the
// top-K items in descending relevance, newer items first on ties.
func (r *Retriever) Retrieve(ctx context.Context, question string) (*Result, error) {
	active, err := r.store.ActiveItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active knowledge: %w", err)
	}
	if len(active) == 0 {
		return &Result{}, nil
	}

	tokens := memory.Tokenize(question)
	qTags := r.questionTags(tokens, active)

	var semScores map[string]float64
	if r.semantic != nil {
		semScores, err = r.semantic.Scores(ctx, question)
		if err != nil {
			r.logger.Warn("semantic ranking unavailable, using lexical only", zap.Error(err))
			semScores = nil
		}
	}

	var ranked []scored
	for _, it := range active {
		var overlap int
		for _, t := range it.Tags {
			if qTags[strings.ToLower(t)] {
				overlap++
			}
		}
		score := r.cfg.TagWeight*float64(overlap) +
			r.cfg.FuzzyWeight*lexicalSimilarity(tokens, it.RawText)
		if semScores != nil {
			score += r.cfg.VectorWeight * semScores[it.ID]
		}
		if score > 0 {
			ranked = append(ranked, scored{item: it, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].item.CreatedAt.Equal(ranked[j].item.CreatedAt) {
			// Prefer newer guidance on ties.
			return ranked[i].item.CreatedAt.After(ranked[j].item.CreatedAt)
		}
		return ranked[i].item.ID < ranked[j].item.ID
	})

	if len(ranked) > r.cfg.TopK {
		ranked = ranked[:r.cfg.TopK]
	}

	res := &Result{}
	seen := make(map[memory.Key]*memory.KnowledgeItem)
	for _, s := range ranked {
		key := s.item.Key()
		if prior, dup := seen[key]; dup {
			// Two active items for one key should be impossible; keep the
			// later one and flag the contradiction for audit.
			kept, dropped := prior, s.item
			if dropped.CreatedAt.After(kept.CreatedAt) {
				kept, dropped = dropped, kept
				replaceItem(res.Items, prior, kept)
			}
			seen[key] = kept
			res.Conflicts = append(res.Conflicts, &memory.ConflictError{
				Key:    key,
				Reason: fmt.Sprintf("contradictory active items %s and %s; retained the newer", kept.ID, dropped.ID),
			})
			continue
		}
		seen[key] = s.item
		res.Items = append(res.Items, s.item)
	}

	r.logger.Debug("retrieval complete",
		zap.Int("active", len(active)),
		zap.Int("selected", len(res.Items)),
		zap.Int("conflicts", len(res.Conflicts)))
	return res, nil
}

// questionTags extracts candidate tags from question tokens using the shared
// vocabulary: schema identifiers plus every tag carried by active knowledge.
func (r *Retriever) questionTags(tokens []string, active []*memory.KnowledgeItem) map[string]bool {
	vocab := r.catalog.Identifiers()
	for _, it := range active {
		for _, t := range it.Tags {
			vocab[strings.ToLower(t)] = true
		}
	}
	qTags := make(map[string]bool)
	for _, tok := range tokens {
		if vocab[tok] {
			qTags[tok] = true
		}
	}
	return qTags
}

func replaceItem(items []*memory.KnowledgeItem, old, new_ *memory.KnowledgeItem) {
	for i, it := range items {
		if it == old {
			items[i] = new_
			return
		}
	}
}
