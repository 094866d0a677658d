package store

import (
	"context"
	"fmt"
	"sort"
)

const rrfK = 60 // RRF constant (standard value from literature)

// RankedList is one ranked result set contributing to a fusion.
type RankedList struct {
	Method string
	Weight float64
	Hits   []ChunkHit
}

// FuseRRF combines ranked lists with Reciprocal Rank Fusion:
// score = sum(weight_i / (rrfK + rank_i)). Ties break by chunk ID so the
// order is deterministic.
func FuseRRF(lists []RankedList, maxResults int) []ChunkHit {
	type fusedEntry struct {
		hit   ChunkHit
		score float64
	}
	fused := make(map[string]*fusedEntry)
	for _, l := range lists {
		for rank, h := range l.Hits {
			e, ok := fused[h.ChunkID]
			if !ok {
				e = &fusedEntry{hit: h}
				e.hit.Methods = nil
				fused[h.ChunkID] = e
			}
			e.score += l.Weight / float64(rrfK+rank+1)
			e.hit.Methods = append(e.hit.Methods, l.Method)
		}
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].hit.ChunkID < entries[j].hit.ChunkID
	})
	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	out := make([]ChunkHit, len(entries))
	for i, e := range entries {
		out[i] = e.hit
		out[i].Score = e.score
	}
	return out
}

// FusedSearch runs the vector and full-text searches over the persisted
// corpus and fuses them with equal weight. Each search fetches 2k
// candidates. It is a diagnostic view of the stored tables: assessments
// rank with corpus.Index and its configured semantic/lexical blend.
func (s *Store) FusedSearch(ctx context.Context, query string, queryEmbedding []float32, k int) ([]ChunkHit, error) {
	vec, err := s.VectorSearch(ctx, queryEmbedding, 2*k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	fts, err := s.TextSearch(ctx, query, 2*k)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	return FuseRRF([]RankedList{
		{Method: "vector", Weight: 1, Hits: vec},
		{Method: "fts", Weight: 1, Hits: fts},
	}, k), nil
}
