package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/davrin/sqlmentor/internal/embedding"
	"github.com/davrin/sqlmentor/internal/memory"
	"github.com/davrin/sqlmentor/internal/provider"
	"github.com/davrin/sqlmentor/internal/schema"
	"github.com/davrin/sqlmentor/internal/vectorstore"
	"go.uber.org/zap"
)

// ParseError reports mentor feedback that could not be turned into
// well-formed structured facts. It is surfaced to the mentor for rephrasing,
// never guessed around.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string { return "feedback parse failed: " + e.Reason }

// Feedback is one mentor correction to ingest.
type Feedback struct {
	RawText  string
	SourceID string
	// Supersede authorizes replacing the current active item for any key the
	// extracted facts collide with. Without it, a contradicting fact is a
	// ConflictError.
	Supersede bool
	// AppliedIDs lists the knowledge items used by the attempt this feedback
	// corrects. A collision with one of them counts as explicit targeting.
	AppliedIDs []string
}

// Ingestor turns mentor free text into committed knowledge items. Fact
// extraction is delegated to the generation engine; the ingestor only
// validates the output and owns the commit.
type Ingestor struct {
	store    memory.Store
	router   *provider.Router
	catalog  *schema.Catalog
	model    string
	embedder embedding.Provider // optional, for the semantic index
	index    *vectorstore.Index // optional
	logger   *zap.Logger
}

// New creates an Ingestor. embedder and index may be nil.
func New(store memory.Store, router *provider.Router, catalog *schema.Catalog, model string, logger *zap.Logger) *Ingestor {
	return &Ingestor{store: store, router: router, catalog: catalog, model: model, logger: logger}
}

// SetSemanticIndex enables best-effort vector indexing of committed items.
func (ing *Ingestor) SetSemanticIndex(embedder embedding.Provider, index *vectorstore.Index) {
	ing.embedder = embedder
	ing.index = index
}

// Ingest extracts structured facts from the feedback and commits them,
// returning the ids of the affected knowledge items in extraction order.
// Re-ingesting a fact identical to the active one is a no-op that returns the
// existing id.
func (ing *Ingestor) Ingest(ctx context.Context, fb Feedback) ([]string, error) {
	if strings.TrimSpace(fb.RawText) == "" {
		return nil, &ParseError{Reason: "empty feedback text", Raw: fb.RawText}
	}

	rules, err := ing.extract(ctx, fb.RawText)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rules))
	for _, rule := range rules {
		id, err := ing.commit(ctx, rule, fb)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// commit stores one rule, retrying once when a concurrent writer moved the
// active pointer underneath us.
func (ing *Ingestor) commit(ctx context.Context, rule memory.Rule, fb Feedback) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		item, existingID, err := ing.prepare(ctx, rule, fb)
		if err != nil {
			return "", err
		}
		if existingID != "" {
			ing.logger.Debug("idempotent ingest, fact already active",
				zap.String("id", existingID), zap.String("subject", rule.Subject))
			return existingID, nil
		}

		err = ing.store.Put(ctx, item)
		if err == nil {
			ing.indexItem(ctx, item)
			return item.ID, nil
		}
		if memory.IsConflict(err) && attempt == 0 {
			continue // re-read the new state and retry once
		}
		return "", err
	}
	return "", &memory.ConflictError{Key: memory.KeyOf(rule), Reason: "lost supersede race twice"}
}

// prepare resolves the rule against the current active item for its key.
// It returns either a ready-to-put item or the id of an identical active one.
func (ing *Ingestor) prepare(ctx context.Context, rule memory.Rule, fb Feedback) (*memory.KnowledgeItem, string, error) {
	key := memory.KeyOf(rule)
	item := &memory.KnowledgeItem{
		SourceID: fb.SourceID,
		RawText:  fb.RawText,
		Rule:     rule,
		Tags:     ing.deriveTags(rule, fb.RawText),
	}

	active, err := ing.store.Active(ctx, key)
	switch {
	case err == nil:
		if active.Rule.Equal(rule) {
			return nil, active.ID, nil
		}
		if !fb.Supersede && !contains(fb.AppliedIDs, active.ID) {
			return nil, "", &memory.ConflictError{
				Key:    key,
				Reason: fmt.Sprintf("contradicts active item %s; resubmit with an explicit supersede", active.ID),
			}
		}
		item.Supersedes = active.ID
	case err == memory.ErrNotFound:
		// first fact for this key
	default:
		return nil, "", fmt.Errorf("check active item: %w", err)
	}
	return item, "", nil
}

// deriveTags computes retrieval keywords from the rule's identifiers plus any
// schema identifiers mentioned in the raw feedback text.
func (ing *Ingestor) deriveTags(rule memory.Rule, rawText string) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(parts ...string) {
		for _, p := range parts {
			for _, tok := range memory.Tokenize(p) {
				if !seen[tok] {
					seen[tok] = true
					tags = append(tags, tok)
				}
			}
		}
	}

	add(rule.Subject, rule.Object, rule.Via, rule.Column)

	ids := ing.catalog.Identifiers()
	for _, tok := range memory.Tokenize(rawText) {
		if ids[tok] && !seen[tok] {
			seen[tok] = true
			tags = append(tags, tok)
		}
	}
	return tags
}

// indexItem upserts the item into the vector index. Failures degrade
// retrieval quality, not correctness, so they are logged and swallowed.
func (ing *Ingestor) indexItem(ctx context.Context, item *memory.KnowledgeItem) {
	if ing.embedder == nil || ing.index == nil {
		return
	}
	vectors, err := ing.embedder.Embed(ctx, []string{item.RawText})
	if err != nil || len(vectors) == 0 {
		ing.logger.Warn("embed knowledge item failed", zap.Error(err))
		return
	}
	payload := map[string]string{
		"kind":    string(item.Rule.Kind),
		"subject": item.Rule.Subject,
	}
	if err := ing.index.UpsertItem(ctx, item.ID, vectors[0], payload); err != nil {
		ing.logger.Warn("index knowledge item failed", zap.String("id", item.ID), zap.Error(err))
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
