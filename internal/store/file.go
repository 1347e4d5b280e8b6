package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/stixyie/protogen-memory/internal/model"
)

const (
	chunkExt      = ".json"
	tmpExt        = ".json.tmp"
	schemaVersion = 1

	cacheMaxCost  = 64 << 20 // bytes of chunk content held in memory
	cacheCounters = 100_000
)

// record is the on-disk schema: the chunk fields plus a schema version and a
// content checksum. Unknown fields in older or newer files are ignored;
// missing fields default rather than fail.
type record struct {
	model.Chunk
	Schema   int    `json:"v"`
	Checksum string `json:"checksum,omitempty"`
}

// FileStore persists one JSON file per chunk under one directory per entity.
// Writes go to a temp file in the same directory followed by an atomic
// rename, so a crash mid-write never leaves a partially visible chunk.
type FileStore struct {
	dir    string
	logger *zap.Logger
	cache  *ristretto.Cache
}

// NewFileStore opens or creates a file store rooted at dir.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create read cache: %w", err)
	}
	return &FileStore{dir: dir, logger: logger, cache: cache}, nil
}

func (s *FileStore) entityDir(entityID string) string {
	return filepath.Join(s.dir, entityID)
}

func (s *FileStore) chunkPath(entityID, chunkID string) string {
	return filepath.Join(s.dir, entityID, chunkID+chunkExt)
}

func cacheKey(entityID, chunkID string) string {
	return entityID + "/" + chunkID
}

func contentChecksum(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (s *FileStore) Put(ctx context.Context, c *model.Chunk) error {
	if c.ID == "" {
		return fmt.Errorf("chunk id is empty")
	}
	if err := model.ValidEntityID(c.EntityID); err != nil {
		return err
	}
	c.SizeBytes = int64(len(c.Content))

	if err := os.MkdirAll(s.entityDir(c.EntityID), 0o755); err != nil {
		return fmt.Errorf("create entity dir: %w", err)
	}

	rec := record{Chunk: *c, Schema: schemaVersion, Checksum: contentChecksum(c.Content)}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}

	path := s.chunkPath(c.EntityID, c.ID)
	tmp := filepath.Join(s.dir, c.EntityID, c.ID+tmpExt)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit chunk: %w", err)
	}

	s.cache.Set(cacheKey(c.EntityID, c.ID), *c, max(c.SizeBytes, 1))
	// Apply the buffered cache write before returning so a rewritten record
	// (MarkAnalyzed) is never shadowed by its older cached copy.
	s.cache.Wait()
	return nil
}

func (s *FileStore) Get(ctx context.Context, entityID, chunkID string) (*model.Chunk, error) {
	if v, ok := s.cache.Get(cacheKey(entityID, chunkID)); ok {
		if c, ok := v.(model.Chunk); ok {
			return &c, nil
		}
	}
	c, err := s.readChunk(entityID, chunkID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cacheKey(entityID, chunkID), *c, max(c.SizeBytes, 1))
	return c, nil
}

// readChunk loads and validates a chunk file, bypassing the cache.
func (s *FileStore) readChunk(entityID, chunkID string) (*model.Chunk, error) {
	path := s.chunkPath(entityID, chunkID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound{EntityID: entityID, ChunkID: chunkID}
		}
		return nil, fmt.Errorf("read chunk: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrCorrupt{Path: path, Err: err}
	}
	if rec.ID == "" || rec.ID != chunkID {
		return nil, ErrCorrupt{Path: path, Err: fmt.Errorf("record id %q does not match file", rec.ID)}
	}
	if rec.Checksum != "" && rec.Checksum != contentChecksum(rec.Content) {
		return nil, ErrCorrupt{Path: path, Err: fmt.Errorf("content checksum mismatch")}
	}

	c := rec.Chunk
	c.EntityID = entityID
	c.SizeBytes = int64(len(c.Content))
	return &c, nil
}

func (s *FileStore) Delete(ctx context.Context, entityID, chunkID string) error {
	path := s.chunkPath(entityID, chunkID)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound{EntityID: entityID, ChunkID: chunkID}
		}
		return fmt.Errorf("delete chunk: %w", err)
	}
	s.cache.Del(cacheKey(entityID, chunkID))
	s.cache.Wait()
	// Drop the entity directory once its last chunk is gone. Fails while
	// non-empty, which is fine.
	os.Remove(s.entityDir(entityID))
	return nil
}

func (s *FileStore) ListEntity(ctx context.Context, entityID string) ([]model.Info, error) {
	entries, err := os.ReadDir(s.entityDir(entityID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list entity: %w", err)
	}

	var infos []model.Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), chunkExt) || strings.HasSuffix(e.Name(), tmpExt) {
			continue
		}
		chunkID := strings.TrimSuffix(e.Name(), chunkExt)
		c, err := s.readChunk(entityID, chunkID)
		if err != nil {
			if IsCorrupt(err) {
				s.logger.Warn("skipping corrupt chunk record", zap.String("entity", entityID), zap.String("chunk", chunkID), zap.Error(err))
				continue
			}
			if IsNotFound(err) {
				continue // removed between ReadDir and read
			}
			return nil, err
		}
		infos = append(infos, c.Info())
	}

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		if infos[i].Sequence != infos[j].Sequence {
			return infos[i].Sequence < infos[j].Sequence
		}
		return infos[i].ID < infos[j].ID
	})
	return infos, nil
}

func (s *FileStore) Entities(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Walk(ctx context.Context, fn func(*model.Chunk) error) error {
	entities, err := s.Entities(ctx)
	if err != nil {
		return err
	}
	for _, entityID := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := os.ReadDir(s.entityDir(entityID))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("walk entity: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), chunkExt) || strings.HasSuffix(e.Name(), tmpExt) {
				continue
			}
			chunkID := strings.TrimSuffix(e.Name(), chunkExt)
			c, err := s.readChunk(entityID, chunkID)
			if err != nil {
				if IsCorrupt(err) {
					s.logger.Warn("skipping corrupt chunk record", zap.String("entity", entityID), zap.String("chunk", chunkID), zap.Error(err))
					continue
				}
				if IsNotFound(err) {
					continue
				}
				return err
			}
			if err := fn(c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *FileStore) MarkAnalyzed(ctx context.Context, entityID, chunkID string) error {
	c, err := s.readChunk(entityID, chunkID)
	if err != nil {
		return err
	}
	if c.Analyzed {
		return nil
	}
	c.Analyzed = true
	return s.Put(ctx, c)
}

func (s *FileStore) Search(ctx context.Context, p SearchParams) ([]model.Chunk, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	needle := strings.ToLower(p.Query)

	var results []model.Chunk
	err := s.Walk(ctx, func(c *model.Chunk) error {
		if p.EntityID != "" && c.EntityID != p.EntityID {
			return nil
		}
		if p.Category != "" && c.Category != p.Category {
			return nil
		}
		if !strings.Contains(strings.ToLower(c.Content), needle) {
			return nil
		}
		results = append(results, *c)
		if len(results) >= limit {
			return errSearchDone
		}
		return nil
	})
	if err != nil && err != errSearchDone {
		return nil, err
	}
	return results, nil
}

var errSearchDone = fmt.Errorf("search limit reached")

func (s *FileStore) Close() error {
	s.cache.Close()
	return nil
}
