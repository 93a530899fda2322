package schema

import (
	"sort"
	"strings"
)

// Column describes one column of a target-database table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table describes one target-database table.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Catalog is the read-only view of the target database schema. It is loaded
// once per process and assumed static for the lifetime of the run.
type Catalog struct {
	tables map[string]Table // lowercase name -> table
	names  []string         // original names, sorted
}

// NewCatalog builds a catalog from a table list. Lookups are case-insensitive.
func NewCatalog(tables []Table) *Catalog {
	c := &Catalog{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		c.tables[strings.ToLower(t.Name)] = t
		c.names = append(c.names, t.Name)
	}
	sort.Strings(c.names)
	return c
}

// HasTable reports whether the named table exists.
func (c *Catalog) HasTable(name string) bool {
	_, ok := c.tables[strings.ToLower(name)]
	return ok
}

// Table returns the named table.
func (c *Catalog) Table(name string) (Table, bool) {
	t, ok := c.tables[strings.ToLower(name)]
	return t, ok
}

// HasColumn reports whether the named table has the named column.
func (c *Catalog) HasColumn(table, column string) bool {
	t, ok := c.tables[strings.ToLower(table)]
	if !ok {
		return false
	}
	for _, col := range t.Columns {
		if strings.EqualFold(col.Name, column) {
			return true
		}
	}
	return false
}

// Tables returns all tables sorted by name.
func (c *Catalog) Tables() []Table {
	out := make([]Table, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.tables[strings.ToLower(n)])
	}
	return out
}

// Identifiers returns the lowercase set of every table and column name. The
// ingestor and retriever use it as the schema half of the tag vocabulary.
func (c *Catalog) Identifiers() map[string]bool {
	ids := make(map[string]bool)
	for _, t := range c.tables {
		ids[strings.ToLower(t.Name)] = true
		for _, col := range t.Columns {
			ids[strings.ToLower(col.Name)] = true
		}
	}
	return ids
}

// Render produces the schema excerpt injected into generation contexts.
func (c *Catalog) Render() string {
	var b strings.Builder
	for _, name := range c.names {
		t := c.tables[strings.ToLower(name)]
		b.WriteString("Table: ")
		b.WriteString(t.Name)
		b.WriteString("\n")
		for _, col := range t.Columns {
			b.WriteString("  - ")
			b.WriteString(col.Name)
			b.WriteString(": ")
			b.WriteString(col.Type)
			b.WriteString("\n")
		}
	}
	return b.String()
}
