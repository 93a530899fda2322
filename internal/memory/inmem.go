package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InMem is a process-local Store. It backs tests and degraded runs where no
// PostgreSQL DSN is configured; the supersede semantics are identical to the
// durable store.
type InMem struct {
	mu     sync.RWMutex
	items  map[string]*KnowledgeItem
	active map[Key]string // key -> id of current active item
	order  []string       // ids in commit order
	logger *zap.Logger
}

// NewInMem creates an empty in-memory store.
func NewInMem(logger *zap.Logger) *InMem {
	return &InMem{
		items:  make(map[string]*KnowledgeItem),
		active: make(map[Key]string),
		logger: logger,
	}
}

// Put commits a new item under the store lock, so the supersede pointer swap
// is atomic with respect to every reader.
func (s *InMem) Put(_ context.Context, item *KnowledgeItem) error {
	if err := validateItem(item); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := item.Key()
	currentID, hasActive := s.active[key]

	if item.Supersedes == "" {
		if hasActive {
			return &ConflictError{Key: key, Reason: "an active item already exists and was not explicitly superseded"}
		}
	} else {
		prior, ok := s.items[item.Supersedes]
		if !ok {
			return &ConflictError{Key: key, Reason: "superseded item does not exist"}
		}
		if prior.Key() != key {
			return &ConflictError{Key: key, Reason: "superseded item belongs to a different key"}
		}
		if !hasActive || currentID != item.Supersedes {
			return &ConflictError{Key: key, Reason: "superseded item is no longer active; retry against the current state"}
		}
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	s.items[item.ID] = item.clone()
	s.active[key] = item.ID
	s.order = append(s.order, item.ID)

	s.logger.Debug("knowledge item committed",
		zap.String("id", item.ID),
		zap.String("kind", string(item.Rule.Kind)),
		zap.String("subject", item.Rule.Subject),
		zap.Bool("supersede", item.Supersedes != ""))
	return nil
}

// Active returns the current active item for a key.
func (s *InMem) Active(_ context.Context, key Key) (*KnowledgeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.items[id].clone(), nil
}

// ActiveItems returns all active items ordered by CreatedAt ascending.
func (s *InMem) ActiveItems(_ context.Context) ([]*KnowledgeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*KnowledgeItem, 0, len(s.active))
	for _, id := range s.order {
		it := s.items[id]
		if s.active[it.Key()] == id {
			out = append(out, it.clone())
		}
	}
	sortByCreatedAsc(out)
	return out, nil
}

// ByTags returns active items whose tags intersect the given set.
func (s *InMem) ByTags(ctx context.Context, tags []string) ([]*KnowledgeItem, error) {
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[strings.ToLower(t)] = true
	}

	all, err := s.ActiveItems(ctx)
	if err != nil {
		return nil, err
	}
	var out []*KnowledgeItem
	for _, it := range all {
		for _, t := range it.Tags {
			if want[strings.ToLower(t)] {
				out = append(out, it)
				break
			}
		}
	}
	return out, nil
}

// History returns the full supersede chain for a key, oldest first.
func (s *InMem) History(_ context.Context, key Key) ([]*KnowledgeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*KnowledgeItem
	for _, id := range s.order {
		it := s.items[id]
		if it.Key() == key {
			out = append(out, it.clone())
		}
	}
	sortByCreatedAsc(out)
	return out, nil
}

func sortByCreatedAsc(items []*KnowledgeItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
