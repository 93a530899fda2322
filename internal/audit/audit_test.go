package audit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func record(id string) *Record {
	return &Record{
		ID:            id,
		QuestionID:    "q-" + id,
		Question:      "list customers",
		Status:        "failed",
		AttemptNumber: 1,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestInMemSaveAndGet(t *testing.T) {
	m := NewInMem(10)
	ctx := context.Background()

	rec := record("a1")
	rec.AppliedKnowledgeIDs = []string{"k1", "k2"}
	if err := m.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.QuestionID != "q-a1" || len(got.AppliedKnowledgeIDs) != 2 {
		t.Errorf("got %+v", got)
	}

	if _, err := m.Get(ctx, "missing"); err != ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestInMemUpdateInPlace(t *testing.T) {
	m := NewInMem(10)
	ctx := context.Background()

	rec := record("a1")
	m.Save(ctx, rec)
	rec.Status = "succeeded"
	m.Save(ctx, rec)

	got, err := m.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "succeeded" {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
}

func TestInMemEvictsOldest(t *testing.T) {
	m := NewInMem(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.Save(ctx, record(fmt.Sprintf("a%d", i)))
	}

	if _, err := m.Get(ctx, "a0"); err != ErrNotFound {
		t.Errorf("oldest record survived eviction: %v", err)
	}
	if _, err := m.Get(ctx, "a4"); err != nil {
		t.Errorf("newest record evicted: %v", err)
	}
}
