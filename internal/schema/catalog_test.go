package schema

import (
	"strings"
	"testing"
)

func telecomCatalog() *Catalog {
	return NewCatalog([]Table{
		{Name: "X_SUB", Columns: []Column{
			{Name: "SUB_ID", Type: "bigint"},
			{Name: "EMAIL", Type: "text"},
		}},
		{Name: "UEQ", Columns: []Column{
			{Name: "SUB_ID", Type: "bigint"},
			{Name: "DEVICE_CODE", Type: "text"},
		}},
	})
}

func TestCatalogLookupIsCaseInsensitive(t *testing.T) {
	c := telecomCatalog()

	if !c.HasTable("x_sub") || !c.HasTable("X_SUB") {
		t.Error("HasTable should be case-insensitive")
	}
	if c.HasTable("customers") {
		t.Error("HasTable returned true for unknown table")
	}
	if !c.HasColumn("ueq", "device_code") {
		t.Error("HasColumn should be case-insensitive")
	}
	if c.HasColumn("ueq", "email") {
		t.Error("HasColumn returned true for column of another table")
	}
}

func TestCatalogIdentifiers(t *testing.T) {
	ids := telecomCatalog().Identifiers()
	for _, want := range []string{"x_sub", "ueq", "sub_id", "email", "device_code"} {
		if !ids[want] {
			t.Errorf("missing identifier %q", want)
		}
	}
	if ids["X_SUB"] {
		t.Error("identifiers must be lowercase")
	}
}

func TestCatalogRender(t *testing.T) {
	out := telecomCatalog().Render()

	if !strings.Contains(out, "Table: X_SUB") {
		t.Errorf("missing table header in %q", out)
	}
	if !strings.Contains(out, "  - DEVICE_CODE: text") {
		t.Errorf("missing column line in %q", out)
	}
	// Deterministic: sorted by table name.
	if strings.Index(out, "Table: UEQ") > strings.Index(out, "Table: X_SUB") {
		t.Error("tables not rendered in sorted order")
	}
}
