package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no attempt record exists for an id.
var ErrNotFound = errors.New("attempt record not found")

// Record is the audit trail of one question attempt: which knowledge was
// applied, what statement came out, and how the attempt ended.
type Record struct {
	ID                  string    `json:"id"`
	QuestionID          string    `json:"question_id"`
	SessionID           string    `json:"session_id,omitempty"`
	Question            string    `json:"question"`
	AppliedKnowledgeIDs []string  `json:"applied_knowledge_ids,omitempty"`
	Statement           string    `json:"statement,omitempty"`
	Status              string    `json:"status"`
	Detail              string    `json:"detail,omitempty"`
	AttemptNumber       int       `json:"attempt_number"`
	CreatedAt           time.Time `json:"created_at"`
}

// Recorder persists attempt records so feedback can reference the attempt it
// corrects.
type Recorder interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
}

// InMem keeps the most recent attempt records in a bounded ring. It is the
// recorder of last resort when no Redis endpoint is configured.
type InMem struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
	max     int
}

// NewInMem creates an in-memory recorder holding at most max records.
func NewInMem(max int) *InMem {
	if max <= 0 {
		max = 1000
	}
	return &InMem{records: make(map[string]*Record), max: max}
}

func (m *InMem) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; !ok {
		m.order = append(m.order, rec.ID)
		for len(m.order) > m.max {
			delete(m.records, m.order[0])
			m.order = m.order[1:]
		}
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *InMem) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}
