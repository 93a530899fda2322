package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/davrin/sqlmentor/internal/executor"
	"github.com/davrin/sqlmentor/internal/schema"
	"go.uber.org/zap"
)

// UnsafeStatementError reports a statement that is not a single read-only
// query. Such statements never reach the execution engine.
type UnsafeStatementError struct {
	Reason string
}

func (e *UnsafeStatementError) Error() string { return "unsafe statement: " + e.Reason }

// SchemaMismatchError reports a reference to a table or column the target
// schema does not contain.
type SchemaMismatchError struct {
	Identifier string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("statement references unknown identifier %q", e.Identifier)
}

// Validator checks a generated statement for safety and schema consistency,
// then forwards it to the execution engine under a time budget.
type Validator struct {
	catalog *schema.Catalog
	exec    executor.Executor
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Validator over the given catalog and executor.
func New(catalog *schema.Catalog, exec executor.Executor, timeout time.Duration, logger *zap.Logger) *Validator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Validator{catalog: catalog, exec: exec, timeout: timeout, logger: logger}
}

// Check runs the static checks only: single read-only statement, then
// identifier existence. It never touches the database.
func (v *Validator) Check(stmt string) error {
	toks, err := lexSQL(stmt)
	if err != nil {
		return &UnsafeStatementError{Reason: err.Error()}
	}
	if err := checkReadOnly(toks); err != nil {
		return err
	}
	return v.checkIdentifiers(toks)
}

// Run validates the statement and, on success, executes it with the
// configured timeout, wrapping the engine's result or error.
func (v *Validator) Run(ctx context.Context, stmt string) (*executor.Rows, error) {
	if err := v.Check(stmt); err != nil {
		return nil, err
	}
	rows, err := v.exec.Execute(ctx, stmt, v.timeout)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// forbiddenVerbs are statement kinds that modify data or schema, or escape
// the read-only sandbox. Matched as whole word tokens, so occurrences inside
// string literals are fine.
var forbiddenVerbs = map[string]bool{
	"insert": true, "update": true, "delete": true, "drop": true,
	"alter": true, "create": true, "truncate": true, "grant": true,
	"revoke": true, "merge": true, "copy": true, "vacuum": true,
	"attach": true, "detach": true, "pragma": true, "call": true,
	"do": true, "set": true, "execute": true, "lock": true,
	"reindex": true, "comment": true,
}

func checkReadOnly(toks []token) error {
	if len(toks) == 0 {
		return &UnsafeStatementError{Reason: "empty statement"}
	}

	// A trailing semicolon is tolerated; any other semicolon means a second
	// statement is riding along.
	for i, t := range toks {
		if t.kind == tokSymbol && t.text == ";" && i != len(toks)-1 {
			return &UnsafeStatementError{Reason: "multiple statements"}
		}
	}

	first := toks[0]
	if first.kind != tokWord || (first.text != "select" && first.text != "with") {
		return &UnsafeStatementError{Reason: "only SELECT queries are allowed"}
	}

	for _, t := range toks {
		if t.kind == tokWord && forbiddenVerbs[t.text] {
			return &UnsafeStatementError{Reason: fmt.Sprintf("data-modifying verb %q", t.text)}
		}
	}
	return nil
}

// checkIdentifiers resolves table references from FROM/JOIN clauses and then
// verifies every referenced column against the catalog. CTEs and derived
// tables are tracked as unchecked sources: columns that may originate from
// them are given the benefit of the doubt.
func (v *Validator) checkIdentifiers(toks []token) error {
	refs := collectTableRefs(toks)

	for _, tbl := range refs.tables {
		if !v.catalog.HasTable(tbl) {
			return &SchemaMismatchError{Identifier: tbl}
		}
	}

	for i, t := range toks {
		if t.kind != tokWord || refs.skip[i] || sqlKeywords[t.text] {
			continue
		}
		// Function call.
		if i+1 < len(toks) && toks[i+1].kind == tokSymbol && toks[i+1].text == "(" {
			continue
		}

		qualifier, hasQualifier := "", false
		if i >= 2 && toks[i-1].kind == tokSymbol && toks[i-1].text == "." && toks[i-2].kind == tokWord {
			qualifier, hasQualifier = toks[i-2].text, true
		}
		// The qualifier itself is checked via its column reference.
		if i+1 < len(toks) && toks[i+1].kind == tokSymbol && toks[i+1].text == "." {
			continue
		}

		if hasQualifier {
			tbl, known := refs.aliases[qualifier]
			if !known {
				// Unchecked source (CTE or derived table alias).
				continue
			}
			if !v.catalog.HasColumn(tbl, t.text) {
				return &SchemaMismatchError{Identifier: qualifier + "." + t.text}
			}
			continue
		}

		if refs.defined[t.text] || refs.aliases[t.text] != "" || refs.unchecked[t.text] {
			continue
		}
		if refs.hasUncheckedSource {
			// Column may come from a CTE or derived table; cannot verify.
			continue
		}
		found := false
		for _, tbl := range refs.tables {
			if v.catalog.HasColumn(tbl, t.text) {
				found = true
				break
			}
		}
		if !found {
			return &SchemaMismatchError{Identifier: t.text}
		}
	}
	return nil
}

// tableRefs holds everything collected from FROM/JOIN and AS clauses.
type tableRefs struct {
	tables             []string          // real tables to verify
	aliases            map[string]string // alias (or table name) -> table
	unchecked          map[string]bool   // CTE names and derived-table aliases
	defined            map[string]bool   // output aliases introduced with AS
	skip               map[int]bool      // token indexes consumed as table refs
	hasUncheckedSource bool
}

func collectTableRefs(toks []token) *tableRefs {
	refs := &tableRefs{
		aliases:   make(map[string]string),
		unchecked: make(map[string]bool),
		defined:   make(map[string]bool),
		skip:      make(map[int]bool),
	}

	isWord := func(i int, w string) bool {
		return i < len(toks) && toks[i].kind == tokWord && toks[i].text == w
	}
	isSym := func(i int, s string) bool {
		return i < len(toks) && toks[i].kind == tokSymbol && toks[i].text == s
	}

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tokWord {
			continue
		}

		// `name AS (` defines a CTE; `expr AS name` defines an output alias.
		if t.text == "as" {
			if i+1 < len(toks) && toks[i+1].kind == tokWord {
				refs.defined[toks[i+1].text] = true
				refs.skip[i+1] = true
			}
			if i >= 1 && toks[i-1].kind == tokWord && isSym(i+1, "(") {
				refs.unchecked[toks[i-1].text] = true
				refs.hasUncheckedSource = true
				refs.skip[i-1] = true
			}
			continue
		}

		if t.text != "from" && t.text != "join" {
			continue
		}

		// Parse the table list that follows. JOIN takes one ref; FROM may
		// take a comma-separated list.
		j := i + 1
		for {
			if isSym(j, "(") {
				// Derived table; its alias is captured after the matching
				// paren by the generic alias rules above. Mark the source.
				refs.hasUncheckedSource = true
				break
			}
			if j >= len(toks) || toks[j].kind != tokWord || sqlKeywords[toks[j].text] {
				break
			}
			name := toks[j].text
			refs.skip[j] = true
			j++
			// schema-qualified name: keep the last part
			for isSym(j, ".") && j+1 < len(toks) && toks[j+1].kind == tokWord {
				name = toks[j+1].text
				refs.skip[j+1] = true
				j += 2
			}

			if !refs.unchecked[name] {
				refs.tables = append(refs.tables, name)
				refs.aliases[name] = name
			}

			// Optional alias, with or without AS.
			alias := ""
			if isWord(j, "as") && j+1 < len(toks) && toks[j+1].kind == tokWord {
				alias = toks[j+1].text
				refs.skip[j+1] = true
				j += 2
			} else if j < len(toks) && toks[j].kind == tokWord && !sqlKeywords[toks[j].text] {
				alias = toks[j].text
				refs.skip[j] = true
				j++
			}
			if alias != "" {
				if refs.unchecked[name] {
					refs.unchecked[alias] = true
				} else {
					refs.aliases[alias] = name
				}
			}

			if isSym(j, ",") {
				j++
				continue
			}
			break
		}
		i = j - 1
	}
	return refs
}

// sqlKeywords are words that are never column references.
var sqlKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "join": true,
	"inner": true, "left": true, "right": true, "full": true,
	"outer": true, "cross": true, "on": true, "and": true, "or": true,
	"not": true, "null": true, "as": true, "group": true, "by": true,
	"order": true, "limit": true, "offset": true, "having": true,
	"distinct": true, "union": true, "all": true, "in": true,
	"exists": true, "between": true, "like": true, "ilike": true,
	"is": true, "case": true, "when": true, "then": true, "else": true,
	"end": true, "asc": true, "desc": true, "with": true, "using": true,
	"intersect": true, "except": true, "true": true, "false": true,
	"cast": true, "interval": true, "over": true, "partition": true,
	"rows": true, "fetch": true, "first": true, "next": true,
	"only": true, "any": true, "some": true, "values": true,
	"natural": true, "lateral": true, "recursive": true,
}
