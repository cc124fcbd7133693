package resolver

import (
	"github.com/Growth-System-ERP/gs-assist/pkg/types"
)

// minWordLength is the shortest retained token emitted as a word candidate.
const minWordLength = 3

// VocabExpander supplies domain-scoped business-term expansions for single
// words. Expansions exclude the original word.
type VocabExpander interface {
	Expand(word, domain string) []string
}

// chunk is a run of retained tokens bridged across at most one filtered
// token. Its text is the normalized-query slice from the first to the last
// token, so a bridged stop word stays embedded in the phrase.
type chunk struct {
	tokens []token
	start  int
	end    int
}

// Generator turns a raw query into a prioritized, position-tagged list of
// candidate spans.
type Generator struct {
	vocab VocabExpander
}

// NewGenerator creates a generator. vocab may be nil, which disables
// expansion candidates.
func NewGenerator(vocab VocabExpander) *Generator {
	return &Generator{vocab: vocab}
}

// Generate produces the ordered candidate list for the query. Offsets in
// the returned candidates refer to the normalized form of the query.
func (g *Generator) Generate(query, domain string) []types.Candidate {
	normalized, tokens := normalize(query)
	if len(tokens) == 0 {
		return nil
	}
	markKept(tokens)
	chunks := buildChunks(tokens)

	var candidates []types.Candidate

	// Multi-word chunks carry the most context.
	for _, c := range chunks {
		if len(c.tokens) < 2 {
			continue
		}
		candidates = append(candidates, types.Candidate{
			Text:     normalized[c.start:c.end],
			Priority: types.PriorityChunk,
			Source:   types.SourceChunk,
			Start:    c.start,
			End:      c.end,
		})
	}

	// Adjacent two-token sub-spans of multi-word chunks.
	for _, c := range chunks {
		if len(c.tokens) < 2 {
			continue
		}
		for i := 0; i+1 < len(c.tokens); i++ {
			start, end := c.tokens[i].start, c.tokens[i+1].end
			candidates = append(candidates, types.Candidate{
				Text:     normalized[start:end],
				Priority: types.PrioritySubPhrase,
				Source:   types.SourceSubPhrase,
				Start:    start,
				End:      end,
			})
		}
	}

	// Individual retained words.
	for _, c := range chunks {
		for _, t := range c.tokens {
			if len(t.text) < minWordLength {
				continue
			}
			candidates = append(candidates, types.Candidate{
				Text:     t.text,
				Priority: types.PriorityWord,
				Source:   types.SourceWord,
				Start:    t.start,
				End:      t.end,
			})
		}
	}

	// Vocabulary expansions, computed once per unique word and anchored to
	// the word's first occurrence.
	if g.vocab != nil {
		seen := make(map[string]struct{})
		for _, c := range chunks {
			for _, t := range c.tokens {
				if len(t.text) < minWordLength {
					continue
				}
				if _, ok := seen[t.text]; ok {
					continue
				}
				seen[t.text] = struct{}{}
				for _, term := range g.vocab.Expand(t.text, domain) {
					candidates = append(candidates, types.Candidate{
						Text:     term,
						Priority: types.PriorityExpansion,
						Source:   types.SourceExpandedTerm,
						Start:    t.start,
						End:      t.end,
						Origin:   t.text,
					})
				}
			}
		}
	}

	return filterOverlaps(candidates)
}

// buildChunks groups retained tokens into phrase spans. A single filtered
// token between two retained tokens does not break the chunk; two or more
// do.
func buildChunks(tokens []token) []chunk {
	var chunks []chunk
	var current []token
	gap := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, chunk{
			tokens: current,
			start:  current[0].start,
			end:    current[len(current)-1].end,
		})
		current = nil
	}

	for _, t := range tokens {
		if !t.kept {
			if len(current) > 0 {
				gap++
				if gap > 1 {
					flush()
					gap = 0
				}
			}
			continue
		}
		current = append(current, t)
		gap = 0
	}
	flush()
	return chunks
}

// filterOverlaps drops phrase candidates whose span overlaps an earlier
// phrase candidate. Word and expansion candidates always survive; they do
// not compete for a single query slot the way full phrases do.
func filterOverlaps(candidates []types.Candidate) []types.Candidate {
	filtered := make([]types.Candidate, 0, len(candidates))
	type span struct{ start, end int }
	var used []span

	for _, cand := range candidates {
		if cand.Source != types.SourceChunk && cand.Source != types.SourceSubPhrase {
			continue
		}
		overlaps := false
		for _, s := range used {
			if cand.End > s.start && cand.Start < s.end {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		filtered = append(filtered, cand)
		used = append(used, span{cand.Start, cand.End})
	}

	for _, cand := range candidates {
		if cand.Source == types.SourceWord || cand.Source == types.SourceExpandedTerm {
			filtered = append(filtered, cand)
		}
	}
	return filtered
}
