package store

import "errors"

// ErrNotFound is returned when a chunk doesn't exist in the store.
type ErrNotFound struct {
	EntityID string
	ChunkID  string
}

func (e ErrNotFound) Error() string {
	if e.ChunkID == "" {
		return "entity not found: " + e.EntityID
	}
	return "chunk not found: " + e.EntityID + "/" + e.ChunkID
}

// ErrCorrupt marks a persisted record that failed checksum or parse
// validation. Corrupt records are skipped and logged on list/walk paths,
// never surfaced as valid data.
type ErrCorrupt struct {
	Path string
	Err  error
}

func (e ErrCorrupt) Error() string {
	if e.Err == nil {
		return "corrupt chunk record: " + e.Path
	}
	return "corrupt chunk record: " + e.Path + ": " + e.Err.Error()
}

func (e ErrCorrupt) Unwrap() error { return e.Err }

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var e ErrNotFound
	return errors.As(err, &e)
}

// IsCorrupt reports whether err is an ErrCorrupt.
func IsCorrupt(err error) bool {
	var e ErrCorrupt
	return errors.As(err, &e)
}
