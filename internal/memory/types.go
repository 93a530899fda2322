package memory

import (
	"strings"
	"time"
)

// Kind classifies a mentor rule. The vocabulary is fixed; extraction output
// with any other kind is rejected at ingestion.
type Kind string

const (
	KindTableMapping Kind = "table-mapping"
	KindJoinPath     Kind = "join-path"
	KindValueAlias   Kind = "value-alias"
	KindConstraint   Kind = "constraint"
	KindOther        Kind = "other"
)

// Valid reports whether k is part of the fixed rule vocabulary.
func (k Kind) Valid() bool {
	switch k {
	case KindTableMapping, KindJoinPath, KindValueAlias, KindConstraint, KindOther:
		return true
	}
	return false
}

// Rule is the structured form of one mentor fact. Field use depends on Kind:
//
//	table-mapping: Subject = business term, Object = table name
//	join-path:     Subject = source table, Object = target table, Via = join column
//	value-alias:   Subject = domain term, Object = encoded value, Column = column name
//	constraint:    Subject = scope (table or term), Object = constraint text
//	other:         Subject + Object freeform
type Rule struct {
	Kind    Kind   `json:"kind"`
	Subject string `json:"subject"`
	Object  string `json:"object"`
	Via     string `json:"via,omitempty"`
	Column  string `json:"column,omitempty"`
}

// Equal reports whether two rules carry the same fact.
func (r Rule) Equal(other Rule) bool {
	return r.Kind == other.Kind &&
		strings.EqualFold(r.Subject, other.Subject) &&
		strings.EqualFold(r.Object, other.Object) &&
		strings.EqualFold(r.Via, other.Via) &&
		strings.EqualFold(r.Column, other.Column)
}

// Key identifies the fact a rule is about. At most one active item may exist
// per key at any time.
type Key struct {
	Kind    Kind   `json:"kind"`
	Subject string `json:"subject"`
}

// KeyOf derives the normalized key of a rule. Subjects are compared
// case-insensitively so "Customer Data" and "customer data" collide.
func KeyOf(r Rule) Key {
	return Key{Kind: r.Kind, Subject: strings.ToLower(strings.TrimSpace(r.Subject))}
}

// KnowledgeItem is one immutable unit of durable mentor feedback. Items are
// never mutated in place; a correction appends a new item whose Supersedes
// field points at the one it replaces.
type KnowledgeItem struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	SourceID   string    `json:"source_id"`
	RawText    string    `json:"raw_text"`
	Rule       Rule      `json:"rule"`
	Tags       []string  `json:"tags"`
	Supersedes string    `json:"supersedes,omitempty"`
}

// Key returns the item's fact key.
func (it *KnowledgeItem) Key() Key { return KeyOf(it.Rule) }

// clone returns a copy so stored items stay immutable to callers.
func (it *KnowledgeItem) clone() *KnowledgeItem {
	cp := *it
	cp.Tags = append([]string(nil), it.Tags...)
	return &cp
}
