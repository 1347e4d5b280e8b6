package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/stixyie/protogen-memory/internal/model"
)

// timeFormat is ISO-8601 UTC with millisecond precision. Fixed width keeps
// lexicographic and chronological order identical.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// SQLiteStore implements Store on a single SQLite database. It is the
// alternate driver for deployments that prefer one file over a directory
// tree; the on-wire chunk semantics are identical to FileStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		category    TEXT NOT NULL,
		content     TEXT NOT NULL,
		sequence    INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		size_bytes  INTEGER NOT NULL,
		metadata    TEXT,
		role        TEXT NOT NULL DEFAULT 'user',
		analyzed    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (entity_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_entity_created ON chunks(entity_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_chunks_entity_category ON chunks(entity_id, category);
	CREATE INDEX IF NOT EXISTS idx_chunks_analyzed ON chunks(analyzed);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, c *model.Chunk) error {
	if c.ID == "" {
		return fmt.Errorf("chunk id is empty")
	}
	if err := model.ValidEntityID(c.EntityID); err != nil {
		return err
	}
	c.SizeBytes = int64(len(c.Content))

	var metaJSON *string
	if len(c.Metadata) > 0 {
		b, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		str := string(b)
		metaJSON = &str
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, entity_id, category, content, sequence, created_at, size_bytes, metadata, role, analyzed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EntityID, c.Category, c.Content, c.Sequence,
		c.CreatedAt.UTC().Format(timeFormat), c.SizeBytes, metaJSON, c.Role, boolInt(c.Analyzed))
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

const chunkColumns = `id, entity_id, category, content, sequence, created_at, size_bytes, metadata, role, analyzed`

func (s *SQLiteStore) Get(ctx context.Context, entityID, chunkID string) (*model.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE entity_id = ? AND id = ?`, entityID, chunkID)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound{EntityID: entityID, ChunkID: chunkID}
	}
	return c, err
}

func (s *SQLiteStore) Delete(ctx context.Context, entityID, chunkID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE entity_id = ? AND id = ?`, entityID, chunkID)
	if err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound{EntityID: entityID, ChunkID: chunkID}
	}
	return nil
}

func (s *SQLiteStore) ListEntity(ctx context.Context, entityID string) ([]model.Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, category, sequence, created_at, size_bytes, role, analyzed
		 FROM chunks WHERE entity_id = ? ORDER BY created_at, sequence, id`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []model.Info
	for rows.Next() {
		var info model.Info
		var createdAt string
		var analyzed int
		if err := rows.Scan(&info.ID, &info.EntityID, &info.Category, &info.Sequence,
			&createdAt, &info.SizeBytes, &info.Role, &analyzed); err != nil {
			return nil, err
		}
		t, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			s.logger.Warn("skipping corrupt chunk record",
				zap.String("entity", info.EntityID), zap.String("chunk", info.ID), zap.Error(err))
			continue
		}
		info.CreatedAt = t
		info.Analyzed = analyzed != 0
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) Entities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT entity_id FROM chunks ORDER BY entity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Walk(ctx context.Context, fn func(*model.Chunk) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks ORDER BY entity_id, created_at, sequence, id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			if IsCorrupt(err) {
				s.logger.Warn("skipping corrupt chunk record", zap.Error(err))
				continue
			}
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) MarkAnalyzed(ctx context.Context, entityID, chunkID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET analyzed = 1 WHERE entity_id = ? AND id = ?`, entityID, chunkID)
	if err != nil {
		return fmt.Errorf("mark analyzed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound{EntityID: entityID, ChunkID: chunkID}
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]model.Chunk, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	where := []string{"content LIKE ? COLLATE NOCASE"}
	args := []interface{}{"%" + p.Query + "%"}
	if p.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, p.EntityID)
	}
	if p.Category != "" {
		where = append(where, "category = ?")
		args = append(args, p.Category)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM chunks WHERE %s ORDER BY created_at DESC LIMIT ?`,
		chunkColumns, strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			if IsCorrupt(err) {
				continue
			}
			return nil, err
		}
		results = append(results, *c)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row scanner) (*model.Chunk, error) {
	var c model.Chunk
	var createdAt string
	var metaJSON sql.NullString
	var analyzed int

	err := row.Scan(&c.ID, &c.EntityID, &c.Category, &c.Content, &c.Sequence,
		&createdAt, &c.SizeBytes, &metaJSON, &c.Role, &analyzed)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return nil, ErrCorrupt{Path: c.EntityID + "/" + c.ID, Err: fmt.Errorf("bad created_at: %w", err)}
	}
	c.CreatedAt = t
	c.Analyzed = analyzed != 0
	c.SizeBytes = int64(len(c.Content))

	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
			return nil, ErrCorrupt{Path: c.EntityID + "/" + c.ID, Err: fmt.Errorf("bad metadata: %w", err)}
		}
	}
	return &c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
