package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/davrin/sqlmentor/internal/executor"
	"github.com/davrin/sqlmentor/internal/schema"
)

type stubExec struct {
	rows    *executor.Rows
	err     error
	called  bool
	gotStmt string
}

func (s *stubExec) Execute(_ context.Context, stmt string, _ time.Duration) (*executor.Rows, error) {
	s.called = true
	s.gotStmt = stmt
	return s.rows, s.err
}

func telecomCatalog() *schema.Catalog {
	return schema.NewCatalog([]schema.Table{
		{Name: "X_SUB", Columns: []schema.Column{
			{Name: "SUB_ID", Type: "bigint"},
			{Name: "EMAIL", Type: "text"},
			{Name: "NOTE", Type: "text"},
		}},
		{Name: "UEQ", Columns: []schema.Column{
			{Name: "SUB_ID", Type: "bigint"},
			{Name: "DEVICE_CODE", Type: "text"},
		}},
	})
}

func newValidator(exec executor.Executor) *Validator {
	return New(telecomCatalog(), exec, time.Second, zap.NewNop())
}

func TestCheckRejectsNonSelect(t *testing.T) {
	v := newValidator(&stubExec{})
	stmts := []string{
		"INSERT INTO x_sub (email) VALUES ('a@b.c')",
		"UPDATE x_sub SET email = 'a@b.c'",
		"DELETE FROM x_sub",
		"DROP TABLE x_sub",
		"TRUNCATE x_sub",
		"CREATE TABLE t (id int)",
		"GRANT ALL ON x_sub TO public",
		"",
		"   ",
	}
	for _, stmt := range stmts {
		err := v.Check(stmt)
		var unsafe *UnsafeStatementError
		if !errors.As(err, &unsafe) {
			t.Errorf("Check(%q) = %v, want UnsafeStatementError", stmt, err)
		}
	}
}

func TestCheckRejectsMultipleStatements(t *testing.T) {
	v := newValidator(&stubExec{})
	err := v.Check("SELECT email FROM x_sub; DROP TABLE x_sub")
	var unsafe *UnsafeStatementError
	if !errors.As(err, &unsafe) {
		t.Fatalf("got %v, want UnsafeStatementError", err)
	}

	// A single trailing semicolon is fine.
	if err := v.Check("SELECT email FROM x_sub;"); err != nil {
		t.Errorf("trailing semicolon rejected: %v", err)
	}
}

func TestCheckRejectsEmbeddedVerbs(t *testing.T) {
	v := newValidator(&stubExec{})
	err := v.Check("SELECT email FROM x_sub WHERE 1=1 UNION SELECT 1 FROM x_sub; DELETE FROM x_sub")
	var unsafe *UnsafeStatementError
	if !errors.As(err, &unsafe) {
		t.Errorf("got %v, want UnsafeStatementError", err)
	}
}

func TestCheckAllowsVerbInsideStringLiteral(t *testing.T) {
	v := newValidator(&stubExec{})
	if err := v.Check("SELECT email FROM x_sub WHERE note = 'please delete my update'"); err != nil {
		t.Errorf("verb inside string literal rejected: %v", err)
	}
}

func TestCheckRejectsUnknownTable(t *testing.T) {
	v := newValidator(&stubExec{})
	err := v.Check("SELECT name FROM customers")
	var mismatch *SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("got %v, want SchemaMismatchError", err)
	}
	if mismatch.Identifier != "customers" {
		t.Errorf("identifier = %q, want customers", mismatch.Identifier)
	}
}

func TestCheckRejectsUnknownColumn(t *testing.T) {
	v := newValidator(&stubExec{})

	err := v.Check("SELECT phone_number FROM x_sub")
	var mismatch *SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("got %v, want SchemaMismatchError", err)
	}

	err = v.Check("SELECT s.device_code FROM x_sub s")
	if !errors.As(err, &mismatch) {
		t.Fatalf("qualified: got %v, want SchemaMismatchError", err)
	}
}

func TestCheckAcceptsValidStatements(t *testing.T) {
	v := newValidator(&stubExec{})
	stmts := []string{
		"SELECT email FROM x_sub",
		"SELECT s.email FROM x_sub s JOIN ueq u ON s.sub_id = u.sub_id WHERE u.device_code = 'APL'",
		"SELECT s.email FROM x_sub AS s WHERE s.sub_id > 100 ORDER BY s.email LIMIT 10",
		"SELECT COUNT(*) AS total FROM x_sub",
		"SELECT email FROM x_sub WHERE sub_id IN (SELECT sub_id FROM ueq)",
		"SELECT \"EMAIL\" FROM x_sub",
		"WITH apple AS (SELECT sub_id FROM ueq WHERE device_code = 'APL') SELECT email FROM x_sub WHERE sub_id IN (SELECT sub_id FROM apple)",
		"SELECT email FROM x_sub -- trailing comment",
		"SELECT email FROM x_sub WHERE note = $$please delete my update$$",
		"SELECT email FROM x_sub WHERE note = $q$drop table x_sub$q$",
	}
	for _, stmt := range stmts {
		if err := v.Check(stmt); err != nil {
			t.Errorf("Check(%q) = %v, want nil", stmt, err)
		}
	}
}

func TestCheckRejectsUnterminatedLiteral(t *testing.T) {
	v := newValidator(&stubExec{})
	stmts := []string{
		"SELECT email FROM x_sub WHERE note = 'oops",
		"SELECT email FROM x_sub WHERE note = $$oops",
	}
	for _, stmt := range stmts {
		err := v.Check(stmt)
		var unsafe *UnsafeStatementError
		if !errors.As(err, &unsafe) {
			t.Errorf("Check(%q) = %v, want UnsafeStatementError", stmt, err)
		}
	}
}

func TestRunExecutesOnlyValidStatements(t *testing.T) {
	exec := &stubExec{rows: &executor.Rows{Columns: []string{"email"}, Values: [][]string{{"a@b.c"}}}}
	v := newValidator(exec)

	rows, err := v.Run(context.Background(), "SELECT email FROM x_sub")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !exec.called || exec.gotStmt != "SELECT email FROM x_sub" {
		t.Error("executor not invoked with the statement")
	}
	if len(rows.Values) != 1 {
		t.Errorf("rows = %+v", rows)
	}

	exec2 := &stubExec{}
	v2 := newValidator(exec2)
	if _, err := v2.Run(context.Background(), "DROP TABLE x_sub"); err == nil {
		t.Fatal("unsafe statement executed")
	}
	if exec2.called {
		t.Error("executor reached by an unsafe statement")
	}
}

func TestRunPropagatesExecutionErrors(t *testing.T) {
	wantErr := &executor.TimeoutError{Timeout: time.Second}
	v := newValidator(&stubExec{err: wantErr})

	_, err := v.Run(context.Background(), "SELECT email FROM x_sub")
	var timeout *executor.TimeoutError
	if !errors.As(err, &timeout) {
		t.Errorf("got %v, want TimeoutError", err)
	}
}
