// Package schema expands resolved record types into related record types
// that share links with multiple of them. The resolution pipeline passes
// the result through untouched; it exists for downstream query planning.
package schema

import (
	"context"
	"sort"
	"sync"

	"github.com/Growth-System-ERP/gs-assist/pkg/types"
)

// maxRelated caps the ranked related-type list.
const maxRelated = 10

// Graph answers "which record types are linked to several of these?".
type Graph interface {
	// Related returns related record types connected to at least two of
	// the given record types, ranked by connection strength descending.
	Related(ctx context.Context, recordTypes []string) ([]types.RelatedType, error)
}

// LinkGraph is an in-memory Graph fed from entity snapshots: each snapshot
// links its record type to every one of its related record types. Links are
// tracked per canonical name, so re-syncing an entity replaces exactly its
// own contribution and deleting it removes exactly that. Safe for
// concurrent use.
type LinkGraph struct {
	mu    sync.RWMutex
	links map[string]map[string]map[string]struct{} // related type -> record type -> canonical names
}

// NewLinkGraph creates an empty link graph.
func NewLinkGraph() *LinkGraph {
	return &LinkGraph{links: make(map[string]map[string]map[string]struct{})}
}

// Observe records the snapshot's record-type links, replacing whatever the
// canonical name contributed before. A snapshot without a record type only
// clears its previous contribution.
func (g *LinkGraph) Observe(snapshot types.EntitySnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.forgetLocked(snapshot.CanonicalName)
	if snapshot.RecordType == "" {
		return
	}
	for _, related := range snapshot.RelatedRecordTypes {
		if related == "" {
			continue
		}
		byType := g.links[related]
		if byType == nil {
			byType = make(map[string]map[string]struct{})
			g.links[related] = byType
		}
		if byType[snapshot.RecordType] == nil {
			byType[snapshot.RecordType] = make(map[string]struct{})
		}
		byType[snapshot.RecordType][snapshot.CanonicalName] = struct{}{}
	}
}

// Forget drops all links contributed by the canonical name. Links shared
// with other entities of the same record type survive.
func (g *LinkGraph) Forget(canonical string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forgetLocked(canonical)
}

func (g *LinkGraph) forgetLocked(canonical string) {
	for related, byType := range g.links {
		for recordType, canonicals := range byType {
			delete(canonicals, canonical)
			if len(canonicals) == 0 {
				delete(byType, recordType)
			}
		}
		if len(byType) == 0 {
			delete(g.links, related)
		}
	}
}

// Related implements Graph. A related type qualifies when at least two of
// the given record types link to it; connection strength is the number of
// linking types.
func (g *LinkGraph) Related(_ context.Context, recordTypes []string) ([]types.RelatedType, error) {
	wanted := make(map[string]struct{}, len(recordTypes))
	for _, rt := range recordTypes {
		wanted[rt] = struct{}{}
	}

	g.mu.RLock()
	var related []types.RelatedType
	for candidate, byType := range g.links {
		var linked []string
		for rt := range wanted {
			if _, ok := byType[rt]; ok {
				linked = append(linked, rt)
			}
		}
		if len(linked) < 2 {
			continue
		}
		sort.Strings(linked)
		related = append(related, types.RelatedType{
			Type:               candidate,
			LinkedTypes:        linked,
			ConnectionStrength: len(linked),
		})
	}
	g.mu.RUnlock()

	sort.Slice(related, func(i, j int) bool {
		if related[i].ConnectionStrength != related[j].ConnectionStrength {
			return related[i].ConnectionStrength > related[j].ConnectionStrength
		}
		return related[i].Type < related[j].Type
	})
	if len(related) > maxRelated {
		related = related[:maxRelated]
	}
	return related, nil
}

var _ Graph = (*LinkGraph)(nil)
