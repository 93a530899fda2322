package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Rows is the ordered result of a read-only statement.
type Rows struct {
	Columns   []string   `json:"columns"`
	Values    [][]string `json:"values"`
	Truncated bool       `json:"truncated,omitempty"`
}

// Executor runs a single read-only statement against the target database.
// Callers never issue data-modifying statements through this interface; the
// validator enforces that upstream and the implementation guards it again.
type Executor interface {
	Execute(ctx context.Context, stmt string, timeout time.Duration) (*Rows, error)
}

// TimeoutError reports a statement that exceeded its execution budget.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("statement exceeded execution budget of %s", e.Timeout)
}

// ExecError reports a runtime failure of an otherwise-valid statement.
type ExecError struct {
	Cause error
}

func (e *ExecError) Error() string { return "statement execution failed: " + e.Cause.Error() }
func (e *ExecError) Unwrap() error { return e.Cause }

// PG executes statements against a PostgreSQL target inside read-only
// transactions.
type PG struct {
	pool    *pgxpool.Pool
	maxRows int
	logger  *zap.Logger
}

// NewPG creates a PostgreSQL executor. maxRows caps the returned result set.
func NewPG(pool *pgxpool.Pool, maxRows int, logger *zap.Logger) *PG {
	if maxRows <= 0 {
		maxRows = 100
	}
	return &PG{pool: pool, maxRows: maxRows, logger: logger}
}

// Execute runs the statement with the given timeout and returns at most
// maxRows rows. A read-only transaction makes the no-writes contract a
// database-level guarantee, not just a validator promise.
func (p *PG) Execute(ctx context.Context, stmt string, timeout time.Duration) (*Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, p.classify(ctx, timeout, fmt.Errorf("begin read-only tx: %w", err))
	}
	defer tx.Rollback(context.Background())

	rows, err := tx.Query(ctx, stmt)
	if err != nil {
		return nil, p.classify(ctx, timeout, err)
	}
	defer rows.Close()

	out := &Rows{}
	for _, fd := range rows.FieldDescriptions() {
		out.Columns = append(out.Columns, string(fd.Name))
	}

	for rows.Next() {
		if len(out.Values) >= p.maxRows {
			out.Truncated = true
			p.logger.Warn("result set truncated", zap.Int("max_rows", p.maxRows))
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, p.classify(ctx, timeout, err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				row[i] = ""
				continue
			}
			row[i] = fmt.Sprint(v)
		}
		out.Values = append(out.Values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, p.classify(ctx, timeout, err)
	}
	return out, nil
}

func (p *PG) classify(ctx context.Context, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: timeout}
	}
	return &ExecError{Cause: err}
}
