package store

import (
	"context"
	"sort"
)

// Stats holds store-wide statistics.
type Stats struct {
	TotalChunks int           `json:"total_chunks"`
	TotalBytes  int64         `json:"total_bytes"`
	Entities    []EntityStats `json:"entities"`
}

// EntityStats holds per-entity counts.
type EntityStats struct {
	EntityID   string         `json:"entity_id"`
	Chunks     int            `json:"chunks"`
	Bytes      int64          `json:"bytes"`
	Categories map[string]int `json:"categories"`
}

// Collect computes statistics by enumerating the store.
func Collect(ctx context.Context, s Store) (*Stats, error) {
	entities, err := s.Entities(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{}
	for _, entityID := range entities {
		infos, err := s.ListEntity(ctx, entityID)
		if err != nil {
			return nil, err
		}
		if len(infos) == 0 {
			continue
		}
		es := EntityStats{EntityID: entityID, Categories: map[string]int{}}
		for _, info := range infos {
			es.Chunks++
			es.Bytes += info.SizeBytes
			es.Categories[info.Category]++
		}
		st.TotalChunks += es.Chunks
		st.TotalBytes += es.Bytes
		st.Entities = append(st.Entities, es)
	}

	sort.Slice(st.Entities, func(i, j int) bool {
		return st.Entities[i].Bytes > st.Entities[j].Bytes
	})
	return st, nil
}
