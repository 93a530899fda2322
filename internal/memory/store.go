package memory

import (
	"context"
	"errors"
	"fmt"
)

// Store is the durable, versioned repository of knowledge items. Put is the
// only mutating operation; readers always observe a consistent snapshot in
// which at most one item is active per key.
type Store interface {
	// Put commits a new item. The item's ID and CreatedAt are assigned if
	// empty. Superseding an existing active item must be explicit: a Put
	// whose key already has an active item fails with *ConflictError unless
	// item.Supersedes names that exact item. A stale Supersedes pointer
	// (the named item is no longer active) also fails with *ConflictError
	// so the loser of a concurrent write can retry against the new state.
	Put(ctx context.Context, item *KnowledgeItem) error

	// Active returns the current active item for a key, or ErrNotFound.
	Active(ctx context.Context, key Key) (*KnowledgeItem, error)

	// ActiveItems returns all active items ordered by CreatedAt ascending.
	ActiveItems(ctx context.Context) ([]*KnowledgeItem, error)

	// ByTags returns active items whose tags intersect the given set.
	ByTags(ctx context.Context, tags []string) ([]*KnowledgeItem, error)

	// History returns the full supersede chain for a key, oldest first.
	History(ctx context.Context, key Key) ([]*KnowledgeItem, error)
}

// ErrNotFound is returned when no active item exists for a key.
var ErrNotFound = errors.New("knowledge item not found")

// ConflictError reports a write that would violate the one-active-item-per-key
// invariant, or a supersede pointer that lost a race to a concurrent writer.
type ConflictError struct {
	Key    Key
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("knowledge conflict on (%s, %q): %s", e.Key.Kind, e.Key.Subject, e.Reason)
}

// IsConflict reports whether err is a knowledge write conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func validateItem(item *KnowledgeItem) error {
	if !item.Rule.Kind.Valid() {
		return fmt.Errorf("invalid rule kind %q", item.Rule.Kind)
	}
	if item.Rule.Subject == "" {
		return fmt.Errorf("rule subject must not be empty")
	}
	return nil
}
