package compose

import (
	"fmt"
	"strings"

	"github.com/davrin/sqlmentor/internal/memory"
	"github.com/davrin/sqlmentor/internal/schema"
)

// Context is the generation context handed to the external generator. It is a
// pure function of its inputs: knowledge directives appear exactly in the
// retriever's order, never reordered or truncated here.
type Context struct {
	System     string
	User       string
	AppliedIDs []string // knowledge item ids, in directive order
}

// Build merges the schema excerpt, the ranked knowledge directives, and the
// question into a generation context.
func Build(catalog *schema.Catalog, items []*memory.KnowledgeItem, question string) Context {
	var sys strings.Builder
	sys.WriteString("You are an expert SQL developer. Convert the user's natural language question into a single SQL SELECT query.\n\n")
	sys.WriteString("Rules:\n")
	sys.WriteString("1. Only generate SELECT queries.\n")
	sys.WriteString("2. Return ONLY the SQL query, no explanations.\n")
	sys.WriteString("3. Generate exactly one statement.\n")
	sys.WriteString("4. Use LIMIT to avoid returning too many rows.\n")
	sys.WriteString("5. Only reference tables and columns from the schema below.\n\n")
	sys.WriteString("Database Schema:\n")
	sys.WriteString(catalog.Render())

	if len(items) > 0 {
		sys.WriteString("\nMentor directives (follow these over your own assumptions):\n")
		for i, it := range items {
			sys.WriteString(fmt.Sprintf("%d. %s\n", i+1, Directive(it.Rule)))
		}
	}

	ctx := Context{
		System: sys.String(),
		User:   "Natural language question: " + question + "\n\nGenerate the SQL query:",
	}
	for _, it := range items {
		ctx.AppliedIDs = append(ctx.AppliedIDs, it.ID)
	}
	return ctx
}

// Directive renders one rule as an explicit natural-language instruction.
func Directive(r memory.Rule) string {
	switch r.Kind {
	case memory.KindTableMapping:
		return fmt.Sprintf("Questions about %q must use table %s.", r.Subject, r.Object)
	case memory.KindJoinPath:
		return fmt.Sprintf("To relate %s to %s, join via column %s.", r.Subject, r.Object, r.Via)
	case memory.KindValueAlias:
		return fmt.Sprintf("%q is encoded as value %q in column %s.", r.Subject, r.Object, r.Column)
	case memory.KindConstraint:
		return fmt.Sprintf("Constraint on %s: %s.", r.Subject, r.Object)
	default:
		return fmt.Sprintf("%s: %s.", r.Subject, r.Object)
	}
}
