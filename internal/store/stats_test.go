package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stixyie/protogen-memory/internal/model"
)

func TestCollect(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	now := time.Now().UTC()
	s.Put(ctx, mkChunk("alice", "c1", model.CategoryConversation, "aaaa", now, 0))
	s.Put(ctx, mkChunk("alice", "c2", model.CategoryAnalysis, "bb", now, 0))
	s.Put(ctx, mkChunk("bob", "c3", model.CategoryConversation, "cccccccc", now, 0))

	stats, err := Collect(ctx, s)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if stats.TotalChunks != 3 || stats.TotalBytes != 14 {
		t.Errorf("totals: %d chunks / %d bytes", stats.TotalChunks, stats.TotalBytes)
	}
	// Sorted by bytes descending: bob (8) before alice (6).
	if len(stats.Entities) != 2 || stats.Entities[0].EntityID != "bob" {
		t.Errorf("entity order: %+v", stats.Entities)
	}
	alice := stats.Entities[1]
	if alice.Chunks != 2 || alice.Categories[model.CategoryConversation] != 1 || alice.Categories[model.CategoryAnalysis] != 1 {
		t.Errorf("alice stats: %+v", alice)
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	s.Put(ctx, mkChunk("alice", "c1", model.CategoryConversation, "first", base, 0))
	s.Put(ctx, mkChunk("alice", "c2", model.CategoryConversation, "second", base.Add(time.Second), 0))

	var buf bytes.Buffer
	count, err := Export(ctx, s, "alice", &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 exported, got %d", count)
	}

	// One JSON object per line, oldest first.
	sc := bufio.NewScanner(&buf)
	var contents []string
	for sc.Scan() {
		var c model.Chunk
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("bad export line: %v", err)
		}
		contents = append(contents, c.Content)
	}
	if len(contents) != 2 || contents[0] != "first" || contents[1] != "second" {
		t.Errorf("export order: %v", contents)
	}
}

func TestExportUnknownEntity(t *testing.T) {
	s := newFileStore(t)
	var buf bytes.Buffer
	count, err := Export(context.Background(), s, "ghost", &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if count != 0 || buf.Len() != 0 {
		t.Errorf("expected empty export, got %d chunks / %d bytes", count, buf.Len())
	}
}
