package compose

import (
	"strings"
	"testing"

	"github.com/davrin/sqlmentor/internal/memory"
	"github.com/davrin/sqlmentor/internal/schema"
)

func telecomCatalog() *schema.Catalog {
	return schema.NewCatalog([]schema.Table{
		{Name: "X_SUB", Columns: []schema.Column{
			{Name: "SUB_ID", Type: "bigint"},
			{Name: "EMAIL", Type: "text"},
		}},
		{Name: "UEQ", Columns: []schema.Column{
			{Name: "SUB_ID", Type: "bigint"},
			{Name: "DEVICE_CODE", Type: "text"},
		}},
	})
}

func scenarioItems() []*memory.KnowledgeItem {
	return []*memory.KnowledgeItem{
		{ID: "k1", Rule: memory.Rule{Kind: memory.KindTableMapping, Subject: "customers", Object: "X_SUB"}},
		{ID: "k2", Rule: memory.Rule{Kind: memory.KindJoinPath, Subject: "X_SUB", Object: "UEQ", Via: "SUB_ID"}},
		{ID: "k3", Rule: memory.Rule{Kind: memory.KindValueAlias, Subject: "iPhone", Object: "APL", Column: "DEVICE_CODE"}},
	}
}

func TestBuildIncludesSchemaAndQuestion(t *testing.T) {
	question := "list customers using an iPhone"
	ctx := Build(telecomCatalog(), nil, question)

	if !strings.Contains(ctx.System, "Table: X_SUB") {
		t.Error("system prompt missing schema excerpt")
	}
	if !strings.Contains(ctx.User, question) {
		t.Error("user prompt missing the question")
	}
	if strings.Contains(ctx.System, "Mentor directives") {
		t.Error("directive section rendered with no knowledge")
	}
	if len(ctx.AppliedIDs) != 0 {
		t.Errorf("applied ids = %v, want empty", ctx.AppliedIDs)
	}
}

func TestBuildPreservesDirectiveOrder(t *testing.T) {
	items := scenarioItems()
	ctx := Build(telecomCatalog(), items, "list customers using an iPhone")

	if len(ctx.AppliedIDs) != 3 {
		t.Fatalf("applied ids len = %d, want 3", len(ctx.AppliedIDs))
	}
	for i, want := range []string{"k1", "k2", "k3"} {
		if ctx.AppliedIDs[i] != want {
			t.Errorf("applied[%d] = %s, want %s", i, ctx.AppliedIDs[i], want)
		}
	}

	// Directives appear numbered, in retriever order.
	first := strings.Index(ctx.System, "1. "+Directive(items[0].Rule))
	second := strings.Index(ctx.System, "2. "+Directive(items[1].Rule))
	third := strings.Index(ctx.System, "3. "+Directive(items[2].Rule))
	if first < 0 || second < 0 || third < 0 {
		t.Fatal("directives not rendered with their rank")
	}
	if !(first < second && second < third) {
		t.Error("directive order does not follow input order")
	}
}

func TestBuildIsPure(t *testing.T) {
	items := scenarioItems()
	a := Build(telecomCatalog(), items, "list customers")
	b := Build(telecomCatalog(), items, "list customers")

	if a.System != b.System || a.User != b.User {
		t.Error("identical inputs produced different contexts")
	}
}

func TestDirectiveRendering(t *testing.T) {
	cases := []struct {
		rule memory.Rule
		want string
	}{
		{
			memory.Rule{Kind: memory.KindTableMapping, Subject: "customers", Object: "X_SUB"},
			`Questions about "customers" must use table X_SUB.`,
		},
		{
			memory.Rule{Kind: memory.KindJoinPath, Subject: "X_SUB", Object: "UEQ", Via: "SUB_ID"},
			"To relate X_SUB to UEQ, join via column SUB_ID.",
		},
		{
			memory.Rule{Kind: memory.KindValueAlias, Subject: "iPhone", Object: "APL", Column: "DEVICE_CODE"},
			`"iPhone" is encoded as value "APL" in column DEVICE_CODE.`,
		},
		{
			memory.Rule{Kind: memory.KindConstraint, Subject: "X_SUB", Object: "always filter on ACTIVE = 'Y'"},
			"Constraint on X_SUB: always filter on ACTIVE = 'Y'.",
		},
	}
	for _, tc := range cases {
		if got := Directive(tc.rule); got != tc.want {
			t.Errorf("Directive(%s) = %q, want %q", tc.rule.Kind, got, tc.want)
		}
	}
}
