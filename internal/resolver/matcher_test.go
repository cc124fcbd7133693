package resolver

import (
	"context"
	"math"
	"testing"

	"github.com/Growth-System-ERP/gs-assist/internal/index"
	"github.com/Growth-System-ERP/gs-assist/pkg/types"
)

// stubIndex returns canned matches per query text.
type stubIndex struct {
	results map[string][]index.Match
	lastOpt index.SearchOptions
}

func (s *stubIndex) Sync(context.Context, types.EntitySnapshot) error { return nil }
func (s *stubIndex) Delete(context.Context, string) error            { return nil }
func (s *stubIndex) Stats(context.Context) (*index.Stats, error)     { return &index.Stats{}, nil }
func (s *stubIndex) Close() error                                    { return nil }

func (s *stubIndex) Snapshots(context.Context) ([]types.EntitySnapshot, error) { return nil, nil }

func (s *stubIndex) Search(_ context.Context, queries []string, opts index.SearchOptions) ([][]index.Match, error) {
	s.lastOpt = opts
	out := make([][]index.Match, len(queries))
	for i, q := range queries {
		out[i] = s.results[q]
	}
	return out, nil
}

func match(group, canonical, alias string, distance float64) index.Match {
	return index.Match{
		Record: index.Record{
			ID:        index.RecordID(group, canonical, alias),
			Group:     group,
			Canonical: canonical,
			Alias:     alias,
		},
		Distance: distance,
	}
}

func TestConfidenceExactMatch(t *testing.T) {
	cand := types.Candidate{Text: "client", Source: types.SourceWord}
	if got := Confidence(cand, "Client", 0.9); got != 1.0 {
		t.Errorf("exact match confidence = %v, want 1.0", got)
	}
}

func TestConfidenceFuzzyConfirmed(t *testing.T) {
	cand := types.Candidate{Text: "customer", Source: types.SourceWord}

	// ratio("customers", "customer") = 100*(1 - 1/9) ~ 88.9, above the
	// threshold, so the blend applies.
	got := Confidence(cand, "customers", 0.5)
	fuzzy := 100 * (1 - 1.0/9.0)
	want := 0.85*(fuzzy/100) + 0.15*0.75
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", got, want)
	}
}

func TestConfidenceSemanticOnly(t *testing.T) {
	cand := types.Candidate{Text: "revenue", Source: types.SourceWord}

	// Dissimilar strings, close vectors: capped by the semantic weight.
	got := Confidence(cand, "sales invoice", 0.4)
	want := 0.7 * 0.8
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", got, want)
	}

	// Weak semantic match clamps to zero.
	if got := Confidence(cand, "sales invoice", 0.8); got != 0 {
		t.Errorf("weak match confidence = %v, want 0", got)
	}
}

func TestConfidenceExpansionPenaltyMonotonic(t *testing.T) {
	word := types.Candidate{Text: "sales", Source: types.SourceWord}
	expanded := types.Candidate{Text: "sales", Source: types.SourceExpandedTerm}

	for _, tc := range []struct {
		alias    string
		distance float64
	}{
		{"sales", 0.0},
		{"saless", 0.3},
		{"sales invoice", 0.2},
	} {
		w := Confidence(word, tc.alias, tc.distance)
		e := Confidence(expanded, tc.alias, tc.distance)
		if e > 0.8*w+1e-9 {
			t.Errorf("alias %q: expanded %v > 0.8 x word %v", tc.alias, e, w)
		}
	}
}

func TestMatchPicksBestAndSortsByConfidence(t *testing.T) {
	idx := &stubIndex{results: map[string][]index.Match{
		"client": {
			match("CRM", "Contact", "clientele", 0.6), // fuzzy, lower
			match("CRM", "Customer", "client", 0.0),   // exact, wins
		},
		"sales": {
			match("Sales", "Sales Invoice", "sales invoice", 0.4),
		},
	}}
	m := NewMatcher(idx, nil)

	candidates := []types.Candidate{
		{Text: "sales", Source: types.SourceWord},
		{Text: "client", Source: types.SourceWord},
	}
	mappings, _, err := m.Match(context.Background(), candidates, []string{"CRM", "Sales"})
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if len(mappings) != 2 {
		t.Fatalf("got %d mappings, want 2: %+v", len(mappings), mappings)
	}
	if mappings[0].Entity != "Customer" || mappings[0].Confidence != 1.0 {
		t.Errorf("best mapping = %+v, want Customer at 1.0", mappings[0])
	}
	if mappings[1].Confidence > mappings[0].Confidence {
		t.Error("mappings not sorted by descending confidence")
	}

	if idx.lastOpt.TopK != 2*len(candidates) {
		t.Errorf("TopK = %d, want %d", idx.lastOpt.TopK, 2*len(candidates))
	}
	if idx.lastOpt.MaxDistance != defaultMaxDistance {
		t.Errorf("MaxDistance = %v, want %v", idx.lastOpt.MaxDistance, defaultMaxDistance)
	}
}

func TestMatchSkipsForeignGroups(t *testing.T) {
	idx := &stubIndex{results: map[string][]index.Match{
		"client": {match("HR", "Employee", "client", 0.0)},
	}}
	m := NewMatcher(idx, nil)

	mappings, _, err := m.Match(context.Background(),
		[]types.Candidate{{Text: "client", Source: types.SourceWord}},
		[]string{"CRM"})
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if len(mappings) != 0 {
		t.Errorf("foreign-group match accepted: %+v", mappings)
	}
}

func TestMatchTieBreaksFirstSeen(t *testing.T) {
	// Two exact matches, both confidence 1.0: the distance-ascending
	// first result must win.
	idx := &stubIndex{results: map[string][]index.Match{
		"client": {
			match("CRM", "Customer", "client", 0.0),
			match("CRM", "Account", "client", 0.0),
		},
	}}
	m := NewMatcher(idx, nil)

	mappings, _, err := m.Match(context.Background(),
		[]types.Candidate{{Text: "client", Source: types.SourceWord}}, []string{"CRM"})
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if len(mappings) != 1 || mappings[0].Entity != "Customer" {
		t.Errorf("tie break lost first-seen match: %+v", mappings)
	}
}

func TestMatchAccumulatesContext(t *testing.T) {
	rec := match("CRM", "Customer", "client", 0.0)
	rec.RecordType = "Customer"
	rec.RelatedRecordTypes = "Sales Order,Sales Invoice"
	idx := &stubIndex{results: map[string][]index.Match{"client": {rec}}}
	m := NewMatcher(idx, nil)

	_, qctx, err := m.Match(context.Background(),
		[]types.Candidate{{Text: "client", Source: types.SourceWord}}, []string{"CRM"})
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if len(qctx.DT) != 1 || qctx.DT[0] != "Customer" {
		t.Errorf("DT = %v, want [Customer]", qctx.DT)
	}
	if len(qctx.RDT) != 2 || qctx.RDT[0] != "Sales Order" || qctx.RDT[1] != "Sales Invoice" {
		t.Errorf("RDT = %v", qctx.RDT)
	}
}

func TestMatchNoCandidates(t *testing.T) {
	m := NewMatcher(&stubIndex{}, nil)
	mappings, qctx, err := m.Match(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if len(mappings) != 0 || len(qctx.DT) != 0 {
		t.Errorf("empty input produced output: %v %v", mappings, qctx)
	}
}
