// Package index defines the entity vector index contract shared by the
// SQLite-backed and Postgres-backed implementations.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Growth-System-ERP/gs-assist/pkg/types"
)

var (
	// ErrValidation indicates a malformed entity snapshot. The index is
	// left unchanged.
	ErrValidation = errors.New("invalid entity snapshot")

	// ErrEmbedding indicates the embedding backend failed. A sync that
	// fails here after removing stale records does not restore them.
	ErrEmbedding = errors.New("embedding generation failed")

	// ErrIndexWrite indicates the backing store rejected a mutation.
	ErrIndexWrite = errors.New("index write failed")
)

// Record is one indexed (group, canonical, alias) triple together with the
// alias embedding and the record-type metadata carried along for matches.
type Record struct {
	ID                 string
	Group              string
	Canonical          string
	Alias              string
	RecordType         string
	RelatedRecordTypes string
	Vector             []float32
}

// Match is a search hit. Distance is cosine distance in [0, 2]; an exact
// alias match reports 0.
type Match struct {
	Record
	Distance float64
}

// SearchOptions scope and bound a vector search.
type SearchOptions struct {
	// Groups restricts the searchable pool to records in any of these
	// entity groups. Empty means no group filter.
	Groups []string

	// TopK is the maximum number of matches per query (default: 5).
	TopK int

	// MaxDistance excludes matches farther than this cosine distance
	// (default: 2.0, i.e. no filtering).
	MaxDistance float64
}

// Normalize applies defaults and validates the SearchOptions.
func (o *SearchOptions) Normalize() {
	if o.TopK < 1 {
		o.TopK = 5
	}
	if o.MaxDistance <= 0 {
		o.MaxDistance = 2.0
	}
}

// Stats summarizes index contents.
type Stats struct {
	// TotalRecords is the number of (group, canonical, alias) records.
	TotalRecords int

	// Dimension is the embedding dimension, 0 when the index is empty.
	Dimension int

	// Groups maps each entity group to its record count.
	Groups map[string]int
}

// VectorIndex is the entity alias index. Implementations must be safe for
// concurrent use: mutations are exclusive, searches may run concurrently.
type VectorIndex interface {
	// Sync replaces every record for the snapshot's canonical name.
	// It is idempotent: syncing the same snapshot twice leaves the
	// index in the same state as syncing it once.
	Sync(ctx context.Context, snapshot types.EntitySnapshot) error

	// Delete removes all records for the canonical name. Deleting an
	// absent entity is a no-op.
	Delete(ctx context.Context, canonical string) error

	// Search runs one group-filtered nearest-neighbour search per query
	// text. Results are distance-ascending, at most TopK per query, and
	// never farther than MaxDistance.
	Search(ctx context.Context, queries []string, opts SearchOptions) ([][]Match, error)

	// Stats reports record counts and the embedding dimension.
	Stats(ctx context.Context) (*Stats, error)

	// Snapshots reassembles one entity snapshot per canonical name from
	// the indexed records. Used to reseed collaborators that do not
	// persist their own state across restarts.
	Snapshots(ctx context.Context) ([]types.EntitySnapshot, error)

	// Close releases the backing store.
	Close() error
}

// RecordID builds the stable record identifier for one indexed triple.
func RecordID(group, canonical, alias string) string {
	return group + "::" + canonical + "::" + alias
}

// BuildRecords validates a snapshot and expands it into the full record set
// to index, one record per (group, alias) pair, without vectors. Metadata
// fields are normalized: nil related-type lists become the empty string.
func BuildRecords(snapshot types.EntitySnapshot) ([]Record, error) {
	if strings.TrimSpace(snapshot.CanonicalName) == "" {
		return nil, fmt.Errorf("%w: canonical name is required", ErrValidation)
	}

	related := strings.Join(snapshot.RelatedRecordTypes, ",")
	aliases := snapshot.AliasSet()
	groups := snapshot.GroupNames()

	records := make([]Record, 0, len(groups)*len(aliases))
	for _, group := range groups {
		for _, alias := range aliases {
			records = append(records, Record{
				ID:                 RecordID(group, snapshot.CanonicalName, alias),
				Group:              group,
				Canonical:          snapshot.CanonicalName,
				Alias:              alias,
				RecordType:         snapshot.RecordType,
				RelatedRecordTypes: related,
			})
		}
	}
	return records, nil
}

// SnapshotsFromRecords inverts BuildRecords: it reassembles one snapshot per
// canonical name, in first-seen order. The lower-cased canonical name is an
// implied alias and is not repeated in the Aliases list.
func SnapshotsFromRecords(records []Record) []types.EntitySnapshot {
	type builder struct {
		snapshot  types.EntitySnapshot
		aliases   []string
		aliasSeen map[string]struct{}
		groupSeen map[string]struct{}
	}
	byCanonical := make(map[string]*builder)
	var order []string

	for _, rec := range records {
		b := byCanonical[rec.Canonical]
		if b == nil {
			b = &builder{
				snapshot: types.EntitySnapshot{
					CanonicalName: rec.Canonical,
					RecordType:    rec.RecordType,
				},
				aliasSeen: map[string]struct{}{strings.ToLower(rec.Canonical): {}},
				groupSeen: make(map[string]struct{}),
			}
			if rec.RelatedRecordTypes != "" {
				b.snapshot.RelatedRecordTypes = strings.Split(rec.RelatedRecordTypes, ",")
			}
			byCanonical[rec.Canonical] = b
			order = append(order, rec.Canonical)
		}
		if _, ok := b.groupSeen[rec.Group]; !ok {
			b.groupSeen[rec.Group] = struct{}{}
			b.snapshot.Groups = append(b.snapshot.Groups, rec.Group)
		}
		key := strings.ToLower(rec.Alias)
		if _, ok := b.aliasSeen[key]; !ok {
			b.aliasSeen[key] = struct{}{}
			b.aliases = append(b.aliases, rec.Alias)
		}
	}

	snapshots := make([]types.EntitySnapshot, 0, len(order))
	for _, canonical := range order {
		b := byCanonical[canonical]
		b.snapshot.Aliases = strings.Join(b.aliases, ", ")
		snapshots = append(snapshots, b.snapshot)
	}
	return snapshots
}
