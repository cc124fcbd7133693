// Package sqlitestore implements the entity vector index on SQLite. Records
// are persisted in a single-writer WAL database and mirrored in memory for
// searching; the mirror is rebuilt on open and after every mutation.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Growth-System-ERP/gs-assist/internal/embedding"
	"github.com/Growth-System-ERP/gs-assist/internal/index"
	"github.com/Growth-System-ERP/gs-assist/internal/index/ann"
	"github.com/Growth-System-ERP/gs-assist/pkg/types"
)

// bruteForceThreshold is the filtered-pool size above which searches use
// the HNSW graph instead of a full scan.
const bruteForceThreshold = 1000

const schema = `
CREATE TABLE IF NOT EXISTS entity_records (
	id TEXT PRIMARY KEY,
	entity_group TEXT NOT NULL,
	canonical TEXT NOT NULL,
	alias TEXT NOT NULL,
	record_type TEXT NOT NULL DEFAULT '',
	related_record_types TEXT NOT NULL DEFAULT '',
	vector BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entity_records_canonical ON entity_records(canonical);
CREATE INDEX IF NOT EXISTS idx_entity_records_group ON entity_records(entity_group);
`

// Store is a SQLite-backed entity vector index. Mutations take the write
// lock; searches share the read lock.
type Store struct {
	db       *sql.DB
	embedder embedding.Generator
	logger   *zap.Logger

	mu      sync.RWMutex
	records []index.Record
	groups  map[string][]int // group -> positions in records
	texts   map[string][]int // lower(alias) -> positions in records
	graph   *ann.Graph       // nil while the pool is brute-force sized
}

// Open opens (or creates) the database at path and loads every record into
// the in-memory mirror.
func Open(path string, embedder embedding.Generator, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite allows a single writer; serialize all access
	// through one connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{
		db:       db,
		embedder: embedder,
		logger:   logger,
	}
	if err := s.reload(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sync replaces every record for the snapshot's canonical name. Stale rows
// are deleted from the database up front, but the previous records stay in
// the searchable mirror until the new ones replace them under a single
// write-lock acquisition, so no reader observes the canonical name with
// zero records mid-sync. If embedding fails after the deletion committed
// the entity ends up absent; the error is reported as an embedding failure.
func (s *Store) Sync(ctx context.Context, snapshot types.EntitySnapshot) error {
	records, err := index.BuildRecords(snapshot)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM entity_records WHERE canonical = ?`, snapshot.CanonicalName); err != nil {
		s.logger.Warn("failed to remove stale entity records, continuing",
			zap.String("canonical", snapshot.CanonicalName),
			zap.Error(err))
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Alias
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// The rows are already gone; drop the mirror entries too so
		// readers and the database agree on the entity being absent.
		s.mu.Lock()
		if s.removeCanonicalLocked(snapshot.CanonicalName) {
			s.rebuildLocked()
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", index.ErrEmbedding, err)
	}
	for i := range records {
		records[i].Vector = vectors[i]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", index.ErrIndexWrite, err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity_records (id, entity_group, canonical, alias, record_type, related_record_types, vector)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				record_type = excluded.record_type,
				related_record_types = excluded.related_record_types,
				vector = excluded.vector`,
			rec.ID, rec.Group, rec.Canonical, rec.Alias, rec.RecordType, rec.RelatedRecordTypes, encodeVector(rec.Vector))
		if err != nil {
			return fmt.Errorf("%w: %v", index.ErrIndexWrite, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", index.ErrIndexWrite, err)
	}

	s.removeCanonicalLocked(snapshot.CanonicalName)
	s.records = append(s.records, records...)
	s.rebuildLocked()
	return nil
}

// Delete removes all records for the canonical name. Deleting an absent
// entity is a no-op.
func (s *Store) Delete(ctx context.Context, canonical string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM entity_records WHERE canonical = ?`, canonical); err != nil {
		return fmt.Errorf("%w: %v", index.ErrIndexWrite, err)
	}

	if s.removeCanonicalLocked(canonical) {
		s.rebuildLocked()
	}
	return nil
}

// removeCanonicalLocked filters the canonical's records out of the mirror.
// Callers must hold the write lock. Reports whether anything was removed.
func (s *Store) removeCanonicalLocked(canonical string) bool {
	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.Canonical != canonical {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(s.records) {
		return false
	}
	s.records = kept
	return true
}

// Snapshots reassembles one entity snapshot per canonical name from the
// mirrored records.
func (s *Store) Snapshots(ctx context.Context) ([]types.EntitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return index.SnapshotsFromRecords(s.records), nil
}

// Stats reports record counts and the embedding dimension.
func (s *Store) Stats(ctx context.Context) (*index.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &index.Stats{
		TotalRecords: len(s.records),
		Groups:       make(map[string]int, len(s.groups)),
	}
	if len(s.records) > 0 {
		stats.Dimension = len(s.records[0].Vector)
	}
	for group, positions := range s.groups {
		stats.Groups[group] = len(positions)
	}
	return stats, nil
}

// reload replaces the in-memory mirror with the database contents.
func (s *Store) reload(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_group, canonical, alias, record_type, related_record_types, vector
		FROM entity_records ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to load entity records: %w", err)
	}
	defer rows.Close()

	var records []index.Record
	for rows.Next() {
		var rec index.Record
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.Group, &rec.Canonical, &rec.Alias, &rec.RecordType, &rec.RelatedRecordTypes, &blob); err != nil {
			return fmt.Errorf("failed to scan entity record: %w", err)
		}
		rec.Vector, err = decodeVector(blob)
		if err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate entity records: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.rebuildLocked()
	return nil
}

// rebuildLocked recomputes the group index, the text index and the ANN
// graph from s.records. Callers must hold the write lock.
func (s *Store) rebuildLocked() {
	s.groups = make(map[string][]int)
	s.texts = make(map[string][]int)
	for i, rec := range s.records {
		s.groups[rec.Group] = append(s.groups[rec.Group], i)
		key := strings.ToLower(rec.Alias)
		s.texts[key] = append(s.texts[key], i)
	}

	s.graph = nil
	if len(s.records) < bruteForceThreshold {
		return
	}

	graph := ann.New(len(s.records[0].Vector))
	for i, rec := range s.records {
		if _, err := graph.Add(rec.Vector); err != nil {
			s.logger.Warn("ann graph rebuild failed, falling back to brute force",
				zap.Int("record", i), zap.Error(err))
			return
		}
	}
	s.graph = graph
}

// Compile-time assertion that Store satisfies the index contract.
var _ index.VectorIndex = (*Store)(nil)
