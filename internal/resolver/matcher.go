package resolver

import (
	"context"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/Growth-System-ERP/gs-assist/internal/index"
	"github.com/Growth-System-ERP/gs-assist/pkg/types"
)

const (
	// defaultMaxDistance bounds the cosine distance of retrieved matches.
	defaultMaxDistance = 1.3

	// fuzzyThreshold is the 0-100 edit-similarity above which a match is
	// treated as string-confirmed.
	fuzzyThreshold = 80

	// Blend weights for string-confirmed matches.
	fuzzyWeight  = 0.85
	vectorWeight = 0.15

	// semanticWeight caps semantic-only matches below string-confirmed ones.
	semanticWeight = 0.7

	// expansionPenalty discounts matches on expanded terms, which are
	// less trustworthy than literal query text.
	expansionPenalty = 0.8

	// minConfidence rejects weak matches outright.
	minConfidence = 0.5
)

// Matcher scores candidates against the entity vector index.
type Matcher struct {
	index  index.VectorIndex
	logger *zap.Logger
}

// NewMatcher creates a matcher over the given index.
func NewMatcher(idx index.VectorIndex, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{index: idx, logger: logger}
}

// Match resolves each candidate to its best entity, if any. All candidates
// are searched in one batched index call; a candidate without a surviving
// match simply yields no mapping. The returned context aggregates the
// record types and related record types of every accepted match.
func (m *Matcher) Match(ctx context.Context, candidates []types.Candidate, groups []string) ([]types.EntityMapping, types.QueryContext, error) {
	var qctx types.QueryContext
	if len(candidates) == 0 {
		return nil, qctx, nil
	}

	texts := make([]string, len(candidates))
	for i, cand := range candidates {
		texts[i] = cand.Text
	}

	results, err := m.index.Search(ctx, texts, index.SearchOptions{
		Groups:      groups,
		TopK:        2 * len(candidates),
		MaxDistance: defaultMaxDistance,
	})
	if err != nil {
		return nil, qctx, err
	}

	groupSet := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		groupSet[g] = struct{}{}
	}

	dtSeen := make(map[string]struct{})
	rdtSeen := make(map[string]struct{})

	var mappings []types.EntityMapping
	for i, cand := range candidates {
		best, ok := bestMatch(cand, results[i], groupSet)
		if !ok {
			continue
		}
		mappings = append(mappings, best.mapping)

		if best.match.RecordType != "" {
			if _, seen := dtSeen[best.match.RecordType]; !seen {
				dtSeen[best.match.RecordType] = struct{}{}
				qctx.DT = append(qctx.DT, best.match.RecordType)
			}
		}
		for _, rdt := range strings.Split(best.match.RelatedRecordTypes, ",") {
			rdt = strings.TrimSpace(rdt)
			if rdt == "" {
				continue
			}
			if _, seen := rdtSeen[rdt]; !seen {
				rdtSeen[rdt] = struct{}{}
				qctx.RDT = append(qctx.RDT, rdt)
			}
		}
	}

	sort.SliceStable(mappings, func(a, b int) bool {
		return mappings[a].Confidence > mappings[b].Confidence
	})
	return mappings, qctx, nil
}

type scoredMatch struct {
	mapping types.EntityMapping
	match   index.Match
}

// bestMatch keeps the single highest-confidence match for the candidate.
// The index returns matches distance-ascending, so on equal confidence the
// first-seen (closest) match wins.
func bestMatch(cand types.Candidate, matches []index.Match, groupSet map[string]struct{}) (scoredMatch, bool) {
	var best scoredMatch
	found := false

	for _, match := range matches {
		if len(groupSet) > 0 {
			if _, ok := groupSet[match.Group]; !ok {
				continue
			}
		}
		if match.Distance > defaultMaxDistance {
			continue
		}

		confidence := Confidence(cand, match.Alias, match.Distance)
		if confidence == 0 {
			continue
		}
		if !found || confidence > best.mapping.Confidence {
			best = scoredMatch{
				mapping: types.EntityMapping{
					Text:        cand.Text,
					Entity:      match.Canonical,
					Alias:       match.Alias,
					EntityGroup: match.Group,
					RecordType:  match.RecordType,
					Confidence:  confidence,
					Distance:    match.Distance,
					Source:      cand.Source,
					Start:       cand.Start,
					End:         cand.End,
				},
				match: match,
			}
			found = true
		}
	}
	return best, found
}

// Confidence blends fuzzy string similarity with vector similarity. An
// exact case-insensitive alias match scores 1.0; a string-confirmed match
// (fuzzy >= threshold) is dominated by its fuzzy score; everything else is
// semantic-only and capped lower. Expanded terms are discounted, and
// scores below the rejection floor clamp to 0.
func Confidence(cand types.Candidate, alias string, distance float64) float64 {
	var confidence float64
	if strings.EqualFold(alias, cand.Text) {
		confidence = 1.0
	} else {
		fuzzy := ratio(alias, cand.Text)
		vectorSim := (2.0 - distance) / 2.0
		if vectorSim < 0 {
			vectorSim = 0
		}
		if fuzzy >= fuzzyThreshold {
			confidence = fuzzyWeight*(fuzzy/100) + vectorWeight*vectorSim
		} else {
			confidence = semanticWeight * vectorSim
		}
	}

	if cand.Source == types.SourceExpandedTerm {
		confidence *= expansionPenalty
	}
	if confidence < minConfidence {
		return 0
	}
	return confidence
}

// ratio is a 0-100 edit similarity between two strings, case-insensitive.
func ratio(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 100
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(longest))
}
