package sqlitestore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Growth-System-ERP/gs-assist/internal/index"
)

// Search runs one group-filtered nearest-neighbour search per query text.
// A case-insensitive exact alias hit short-circuits at distance 0 without
// touching the embedding backend; everything else is scored by cosine
// distance, brute force while the pool is small and via the ANN graph once
// it is not.
func (s *Store) Search(ctx context.Context, queries []string, opts index.SearchOptions) ([][]index.Match, error) {
	opts.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	pool := s.poolLocked(opts.Groups)
	results := make([][]index.Match, len(queries))
	if len(pool) == 0 {
		return results, nil
	}

	// Resolve exact hits first so only the remainder needs embedding.
	var pending []int
	for qi, query := range queries {
		if exact := s.exactLocked(query, pool, opts.TopK); len(exact) > 0 {
			results[qi] = exact
			continue
		}
		pending = append(pending, qi)
	}
	if len(pending) == 0 {
		return results, nil
	}

	texts := make([]string, len(pending))
	for i, qi := range pending {
		texts[i] = queries[qi]
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", index.ErrEmbedding, err)
	}

	for i, qi := range pending {
		matches, err := s.nearestLocked(vectors[i], pool, opts)
		if err != nil {
			return nil, err
		}
		results[qi] = matches
	}
	return results, nil
}

// poolLocked returns the record positions eligible for the given groups.
func (s *Store) poolLocked(groups []string) map[int]struct{} {
	pool := make(map[int]struct{})
	if len(groups) == 0 {
		for i := range s.records {
			pool[i] = struct{}{}
		}
		return pool
	}
	for _, group := range groups {
		for _, i := range s.groups[group] {
			pool[i] = struct{}{}
		}
	}
	return pool
}

// exactLocked returns all pool records whose alias equals the query,
// compared case-insensitively, at distance 0.
func (s *Store) exactLocked(query string, pool map[int]struct{}, topK int) []index.Match {
	var matches []index.Match
	for _, i := range s.texts[strings.ToLower(query)] {
		if _, ok := pool[i]; !ok {
			continue
		}
		matches = append(matches, index.Match{Record: s.records[i], Distance: 0})
		if len(matches) == topK {
			break
		}
	}
	return matches
}

// nearestLocked scores the pool against one query vector.
func (s *Store) nearestLocked(vector []float32, pool map[int]struct{}, opts index.SearchOptions) ([]index.Match, error) {
	if s.graph != nil && len(pool) >= bruteForceThreshold {
		matches, err := s.graphSearchLocked(vector, pool, opts)
		if err == nil {
			return matches, nil
		}
		s.logger.Warn("ann search failed, falling back to brute force")
	}
	return s.bruteSearchLocked(vector, pool, opts), nil
}

func (s *Store) graphSearchLocked(vector []float32, pool map[int]struct{}, opts index.SearchOptions) ([]index.Match, error) {
	hits, err := s.graph.Search(vector, opts.TopK, 4*opts.TopK, func(id int) bool {
		_, ok := pool[id]
		return ok
	})
	if err != nil {
		return nil, err
	}

	matches := make([]index.Match, 0, len(hits))
	for _, hit := range hits {
		if float64(hit.Distance) > opts.MaxDistance {
			continue
		}
		matches = append(matches, index.Match{Record: s.records[hit.ID], Distance: float64(hit.Distance)})
	}
	return matches, nil
}

func (s *Store) bruteSearchLocked(vector []float32, pool map[int]struct{}, opts index.SearchOptions) []index.Match {
	matches := make([]index.Match, 0, len(pool))
	for i := range pool {
		d := cosineDistance(vector, s.records[i].Vector)
		if d > opts.MaxDistance {
			continue
		}
		matches = append(matches, index.Match{Record: s.records[i], Distance: d})
	}
	sort.Slice(matches, func(a, b int) bool {
		if matches[a].Distance != matches[b].Distance {
			return matches[a].Distance < matches[b].Distance
		}
		return matches[a].ID < matches[b].ID
	})
	if len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches
}

// cosineDistance is 1 - dot(a, b) on unit-length vectors.
func cosineDistance(a, b []float32) float64 {
	var dot float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}
