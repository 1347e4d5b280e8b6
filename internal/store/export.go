package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Export writes an entity's chunks to w as JSON Lines, oldest first.
// Returns the number of chunks written.
func Export(ctx context.Context, s Store, entityID string, w io.Writer) (int, error) {
	infos, err := s.ListEntity(ctx, entityID)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	count := 0
	for _, info := range infos {
		c, err := s.Get(ctx, entityID, info.ID)
		if err != nil {
			if IsNotFound(err) || IsCorrupt(err) {
				continue
			}
			return count, fmt.Errorf("export %s/%s: %w", entityID, info.ID, err)
		}
		if err := enc.Encode(c); err != nil {
			return count, fmt.Errorf("encode chunk: %w", err)
		}
		count++
	}
	return count, nil
}
