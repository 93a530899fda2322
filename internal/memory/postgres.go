package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres is the durable Store. Knowledge items live in an append-only table;
// the active item per key is the single row whose superseded_by is NULL,
// enforced by a partial unique index so concurrent writers cannot both win.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects a pgx pool to the knowledge database.
func NewPostgres(dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("knowledge store connected")
	return &Postgres{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Postgres) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("migration applied", zap.String("file", f))
	}
	return nil
}

// Close shuts down the connection pool.
func (s *Postgres) Close() {
	s.db.Close()
}

// Put inserts the item and flips the prior active row's superseded_by pointer
// in one transaction. The prior row is locked FOR UPDATE, so no reader ever
// observes two active items for the same key and no two writers both believe
// they created the latest version.
func (s *Postgres) Put(ctx context.Context, item *KnowledgeItem) error {
	if err := validateItem(item); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	key := item.Key()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer tx.Rollback(ctx)

	var activeID string
	err = tx.QueryRow(ctx, `
		SELECT id FROM knowledge_items
		WHERE kind = $1 AND subject_norm = $2 AND superseded_by IS NULL
		FOR UPDATE`,
		string(key.Kind), key.Subject,
	).Scan(&activeID)
	hasActive := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock active item: %w", err)
	}

	if item.Supersedes == "" {
		if hasActive {
			return &ConflictError{Key: key, Reason: "an active item already exists and was not explicitly superseded"}
		}
	} else {
		if !hasActive || activeID != item.Supersedes {
			return &ConflictError{Key: key, Reason: "superseded item is no longer active; retry against the current state"}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE knowledge_items SET superseded_by = $1 WHERE id = $2`,
			item.ID, item.Supersedes,
		); err != nil {
			return fmt.Errorf("mark superseded: %w", err)
		}
	}

	ruleJSON, err := json.Marshal(item.Rule)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	tags := make([]string, len(item.Tags))
	for i, t := range item.Tags {
		tags[i] = strings.ToLower(t)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO knowledge_items
			(id, kind, subject_norm, source_id, raw_text, rule, tags, supersedes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		item.ID, string(key.Kind), key.Subject, item.SourceID,
		item.RawText, ruleJSON, tags, item.Supersedes, item.CreatedAt,
	)
	if err != nil {
		// A concurrent original insert for the same key trips the partial
		// unique index; report it as a conflict, not a storage failure.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &ConflictError{Key: key, Reason: "a concurrent write created an active item for this key"}
		}
		return fmt.Errorf("insert knowledge item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}

	s.logger.Debug("knowledge item committed",
		zap.String("id", item.ID),
		zap.String("kind", string(key.Kind)),
		zap.String("subject", item.Rule.Subject),
		zap.Bool("supersede", item.Supersedes != ""))
	return nil
}

const itemColumns = `id, source_id, raw_text, rule, tags, COALESCE(supersedes, ''), created_at`

// Active returns the current active item for a key.
func (s *Postgres) Active(ctx context.Context, key Key) (*KnowledgeItem, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+itemColumns+` FROM knowledge_items
		WHERE kind = $1 AND subject_norm = $2 AND superseded_by IS NULL`,
		string(key.Kind), key.Subject)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active item: %w", err)
	}
	return it, nil
}

// ActiveItems returns all active items ordered by CreatedAt ascending.
func (s *Postgres) ActiveItems(ctx context.Context) ([]*KnowledgeItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+itemColumns+` FROM knowledge_items
		WHERE superseded_by IS NULL
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active items: %w", err)
	}
	return scanItems(rows)
}

// ByTags returns active items whose tags intersect the given set.
func (s *Postgres) ByTags(ctx context.Context, tags []string) ([]*KnowledgeItem, error) {
	lowered := make([]string, len(tags))
	for i, t := range tags {
		lowered[i] = strings.ToLower(t)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+itemColumns+` FROM knowledge_items
		WHERE superseded_by IS NULL AND tags && $1
		ORDER BY created_at ASC, id ASC`, lowered)
	if err != nil {
		return nil, fmt.Errorf("list items by tags: %w", err)
	}
	return scanItems(rows)
}

// History returns the full supersede chain for a key, oldest first.
func (s *Postgres) History(ctx context.Context, key Key) ([]*KnowledgeItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+itemColumns+` FROM knowledge_items
		WHERE kind = $1 AND subject_norm = $2
		ORDER BY created_at ASC, id ASC`,
		string(key.Kind), key.Subject)
	if err != nil {
		return nil, fmt.Errorf("item history: %w", err)
	}
	return scanItems(rows)
}

func scanItem(row pgx.Row) (*KnowledgeItem, error) {
	var it KnowledgeItem
	var ruleJSON []byte
	if err := row.Scan(&it.ID, &it.SourceID, &it.RawText, &ruleJSON, &it.Tags, &it.Supersedes, &it.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ruleJSON, &it.Rule); err != nil {
		return nil, fmt.Errorf("unmarshal rule: %w", err)
	}
	return &it, nil
}

func scanItems(rows pgx.Rows) ([]*KnowledgeItem, error) {
	defer rows.Close()
	var out []*KnowledgeItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
