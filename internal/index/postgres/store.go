// Package postgres implements the entity vector index on PostgreSQL with
// the pgvector extension. It is the server-grade alternative to the
// SQLite-backed store; concurrency control is delegated to the database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/Growth-System-ERP/gs-assist/internal/embedding"
	"github.com/Growth-System-ERP/gs-assist/internal/index"
	"github.com/Growth-System-ERP/gs-assist/pkg/types"
)

// Store is a pgvector-backed entity vector index.
type Store struct {
	db       *sql.DB
	embedder embedding.Generator
	logger   *zap.Logger
}

// Open connects to the database, ensures the schema exists and returns the
// store. The vector column dimension is taken from the embedder.
func Open(dsn string, embedder embedding.Generator, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS entity_records (
			id TEXT PRIMARY KEY,
			entity_group TEXT NOT NULL,
			canonical TEXT NOT NULL,
			alias TEXT NOT NULL,
			record_type TEXT NOT NULL DEFAULT '',
			related_record_types TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_entity_records_canonical ON entity_records(canonical);
		CREATE INDEX IF NOT EXISTS idx_entity_records_group ON entity_records(entity_group);
		CREATE INDEX IF NOT EXISTS idx_entity_records_alias_lower ON entity_records(lower(alias));`,
		embedder.Dimensions())
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, embedder: embedder, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sync replaces every record for the snapshot's canonical name. Embeddings
// are generated before the transaction opens, and the stale deletion and
// insert commit together, so no reader observes the canonical name with
// zero or duplicate records mid-sync.
func (s *Store) Sync(ctx context.Context, snapshot types.EntitySnapshot) error {
	records, err := index.BuildRecords(snapshot)
	if err != nil {
		return err
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Alias
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", index.ErrEmbedding, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", index.ErrIndexWrite, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_records WHERE canonical = $1`, snapshot.CanonicalName); err != nil {
		return fmt.Errorf("%w: %v", index.ErrIndexWrite, err)
	}

	for i, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity_records (id, entity_group, canonical, alias, record_type, related_record_types, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				record_type = EXCLUDED.record_type,
				related_record_types = EXCLUDED.related_record_types,
				embedding = EXCLUDED.embedding`,
			rec.ID, rec.Group, rec.Canonical, rec.Alias, rec.RecordType, rec.RelatedRecordTypes, pgvector.NewVector(vectors[i]))
		if err != nil {
			return fmt.Errorf("%w: %v", index.ErrIndexWrite, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", index.ErrIndexWrite, err)
	}
	return nil
}

// Delete removes all records for the canonical name. Deleting an absent
// entity is a no-op.
func (s *Store) Delete(ctx context.Context, canonical string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entity_records WHERE canonical = $1`, canonical); err != nil {
		return fmt.Errorf("%w: %v", index.ErrIndexWrite, err)
	}
	return nil
}

// Search runs one group-filtered nearest-neighbour search per query text.
// Exact alias hits short-circuit at distance 0 without embedding; the rest
// are ordered by pgvector cosine distance.
func (s *Store) Search(ctx context.Context, queries []string, opts index.SearchOptions) ([][]index.Match, error) {
	opts.Normalize()

	results := make([][]index.Match, len(queries))
	var pending []int
	for qi, query := range queries {
		exact, err := s.exactMatches(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		if len(exact) > 0 {
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
		matches, err := s.nearestMatches(ctx, vectors[i], opts)
		if err != nil {
			return nil, err
		}
		results[qi] = matches
	}
	return results, nil
}

func (s *Store) exactMatches(ctx context.Context, query string, opts index.SearchOptions) ([]index.Match, error) {
	// A nil slice encodes as SQL NULL and cardinality(NULL) is NULL, which
	// would filter out everything instead of nothing.
	groups := opts.Groups
	if groups == nil {
		groups = []string{}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_group, canonical, alias, record_type, related_record_types
		FROM entity_records
		WHERE lower(alias) = lower($1)
		  AND (cardinality($2::text[]) = 0 OR entity_group = ANY($2))
		LIMIT $3`,
		query, pq.Array(groups), opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("exact match query failed: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows, 0)
}

func (s *Store) nearestMatches(ctx context.Context, vector []float32, opts index.SearchOptions) ([]index.Match, error) {
	groups := opts.Groups
	if groups == nil {
		groups = []string{}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_group, canonical, alias, record_type, related_record_types,
		       embedding <=> $1::vector AS distance
		FROM entity_records
		WHERE (cardinality($2::text[]) = 0 OR entity_group = ANY($2))
		  AND embedding <=> $1::vector <= $3
		ORDER BY distance
		LIMIT $4`,
		pgvector.NewVector(vector), pq.Array(groups), opts.MaxDistance, opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search query failed: %w", err)
	}
	defer rows.Close()

	var matches []index.Match
	for rows.Next() {
		var m index.Match
		if err := rows.Scan(&m.ID, &m.Group, &m.Canonical, &m.Alias, &m.RecordType, &m.RelatedRecordTypes, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Snapshots reassembles one entity snapshot per canonical name from the
// stored records.
func (s *Store) Snapshots(ctx context.Context) ([]types.EntitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_group, canonical, alias, record_type, related_record_types
		FROM entity_records ORDER BY canonical, id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot query failed: %w", err)
	}
	defer rows.Close()

	var records []index.Record
	for rows.Next() {
		var rec index.Record
		if err := rows.Scan(&rec.ID, &rec.Group, &rec.Canonical, &rec.Alias, &rec.RecordType, &rec.RelatedRecordTypes); err != nil {
			return nil, fmt.Errorf("failed to scan entity record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return index.SnapshotsFromRecords(records), nil
}

// Stats reports record counts and the embedding dimension.
func (s *Store) Stats(ctx context.Context) (*index.Stats, error) {
	stats := &index.Stats{Groups: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_group, count(*) FROM entity_records GROUP BY entity_group`)
	if err != nil {
		return nil, fmt.Errorf("stats query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var group string
		var count int
		if err := rows.Scan(&group, &count); err != nil {
			return nil, fmt.Errorf("failed to scan group count: %w", err)
		}
		stats.Groups[group] = count
		stats.TotalRecords += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.TotalRecords > 0 {
		stats.Dimension = s.embedder.Dimensions()
	}
	return stats, nil
}

func scanMatches(rows *sql.Rows, distance float64) ([]index.Match, error) {
	var matches []index.Match
	for rows.Next() {
		var m index.Match
		if err := rows.Scan(&m.ID, &m.Group, &m.Canonical, &m.Alias, &m.RecordType, &m.RelatedRecordTypes); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.Distance = distance
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Compile-time assertion that Store satisfies the index contract.
var _ index.VectorIndex = (*Store)(nil)
