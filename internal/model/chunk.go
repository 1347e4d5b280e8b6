// Package model defines the core chunk data types.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Built-in categories. Custom categories are allowed as long as they pass
// ValidCategory; these are the ones the subsystem itself writes.
const (
	CategoryConversation    = "conversation"
	CategorySystemState     = "system-state"
	CategoryRewardHistory   = "reward-history"
	CategoryLearningHistory = "learning-history"
	CategoryAnalysis        = "analysis"
)

// Roles distinguish entity-authored from bot-authored content.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// BuiltinCategories are the categories the subsystem knows about.
var BuiltinCategories = map[string]bool{
	CategoryConversation:    true,
	CategorySystemState:     true,
	CategoryRewardHistory:   true,
	CategoryLearningHistory: true,
	CategoryAnalysis:        true,
}

// ValidRoles are the allowed role values.
var ValidRoles = map[string]bool{
	RoleUser:      true,
	RoleAssistant: true,
}

// Chunk is the atomic persisted unit of memory content.
// Once persisted a chunk is never mutated in place; updates are modeled as
// delete-then-create.
type Chunk struct {
	ID        string         `json:"id"`
	EntityID  string         `json:"entityId"`
	Category  string         `json:"category"`
	Content   string         `json:"content"`
	Sequence  int            `json:"sequence"`
	CreatedAt time.Time      `json:"createdAt"`
	SizeBytes int64          `json:"sizeBytes"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Role      string         `json:"role"`
	Analyzed  bool           `json:"analyzed"`
}

// Info is chunk metadata without the content payload. Listings return Info so
// content can be loaded lazily per chunk.
type Info struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entityId"`
	Category  string    `json:"category"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`
	SizeBytes int64     `json:"sizeBytes"`
	Role      string    `json:"role"`
	Analyzed  bool      `json:"analyzed"`
}

// Info returns the chunk's metadata view.
func (c *Chunk) Info() Info {
	return Info{
		ID:        c.ID,
		EntityID:  c.EntityID,
		Category:  c.Category,
		Sequence:  c.Sequence,
		CreatedAt: c.CreatedAt,
		SizeBytes: c.SizeBytes,
		Role:      c.Role,
		Analyzed:  c.Analyzed,
	}
}

// ValidEntityID reports whether id is usable as an entity identifier.
// Entity IDs become directory names, so path separators and relative-path
// names are rejected.
func ValidEntityID(id string) error {
	if id == "" {
		return fmt.Errorf("entity id is empty")
	}
	if id == "." || id == ".." {
		return fmt.Errorf("invalid entity id %q", id)
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("invalid entity id %q", id)
	}
	return nil
}

// ValidCategory reports whether c is usable as a category. Built-in
// categories always pass; custom categories must be non-empty printable
// names without path separators.
func ValidCategory(c string) error {
	if BuiltinCategories[c] {
		return nil
	}
	if c == "" {
		return fmt.Errorf("category is empty")
	}
	if strings.ContainsAny(c, "/\\\x00\n") {
		return fmt.Errorf("invalid category %q", c)
	}
	return nil
}
