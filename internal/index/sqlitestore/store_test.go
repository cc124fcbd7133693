package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/Growth-System-ERP/gs-assist/internal/embedding"
	"github.com/Growth-System-ERP/gs-assist/internal/index"
	"github.com/Growth-System-ERP/gs-assist/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "entities.db"), embedding.NewMockEmbedder(32), nil)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func syncTestEntities(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	snapshots := []types.EntitySnapshot{
		{
			CanonicalName:      "Customer",
			Aliases:            "client, account",
			Groups:             []string{"CRM"},
			RecordType:         "Customer",
			RelatedRecordTypes: []string{"Sales Order", "Sales Invoice"},
		},
		{
			CanonicalName: "Sales Invoice",
			Aliases:       "invoice, bill",
			Groups:        []string{"Sales"},
			RecordType:    "Sales Invoice",
		},
		{
			CanonicalName: "Item",
			Aliases:       "product, goods",
			Groups:        []string{"Inventory"},
			RecordType:    "Item",
		},
	}
	for _, snap := range snapshots {
		if err := store.Sync(ctx, snap); err != nil {
			t.Fatalf("Sync(%s) failed: %v", snap.CanonicalName, err)
		}
	}
}

func recordIDs(t *testing.T, store *Store) []string {
	t.Helper()
	store.mu.RLock()
	defer store.mu.RUnlock()
	ids := make([]string, 0, len(store.records))
	for _, rec := range store.records {
		ids = append(ids, rec.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestSyncIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := types.EntitySnapshot{
		CanonicalName: "Customer",
		Aliases:       "client, account",
		Groups:        []string{"CRM"},
		RecordType:    "Customer",
	}
	if err := store.Sync(ctx, snap); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}
	once := recordIDs(t, store)

	if err := store.Sync(ctx, snap); err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
	twice := recordIDs(t, store)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("sync not idempotent:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestSyncDropsStaleAliases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Sync(ctx, types.EntitySnapshot{CanonicalName: "Customer", Aliases: "client", Groups: []string{"CRM"}}); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if err := store.Sync(ctx, types.EntitySnapshot{CanonicalName: "Customer", Aliases: "buyer", Groups: []string{"CRM"}}); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	results, err := store.Search(ctx, []string{"client"}, index.SearchOptions{Groups: []string{"CRM"}, TopK: 5})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	for _, m := range results[0] {
		if m.Alias == "client" {
			t.Error("stale alias still indexed after re-sync")
		}
	}
}

func TestExactMatchShortCircuit(t *testing.T) {
	store := newTestStore(t)
	syncTestEntities(t, store)

	// Canonical name and aliases must hit exactly at distance 0,
	// regardless of case.
	for _, query := range []string{"customer", "Client", "ACCOUNT"} {
		results, err := store.Search(context.Background(), []string{query}, index.SearchOptions{Groups: []string{"CRM"}, TopK: 5})
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", query, err)
		}
		if len(results[0]) == 0 {
			t.Fatalf("Search(%q) returned nothing", query)
		}
		got := results[0][0]
		if got.Canonical != "Customer" {
			t.Errorf("Search(%q): canonical = %q, want Customer", query, got.Canonical)
		}
		if got.Distance != 0 {
			t.Errorf("Search(%q): distance = %v, want 0", query, got.Distance)
		}
	}
}

func TestGroupIsolation(t *testing.T) {
	store := newTestStore(t)
	syncTestEntities(t, store)
	ctx := context.Background()

	queries := []string{"customer", "invoice", "product", "anything else"}
	results, err := store.Search(ctx, queries, index.SearchOptions{Groups: []string{"Sales"}, TopK: 10, MaxDistance: 2.0})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	for qi, matches := range results {
		for _, m := range matches {
			if m.Group != "Sales" {
				t.Errorf("query %q: got record from group %q", queries[qi], m.Group)
			}
		}
	}

	// Unknown group means an empty pool, not an error.
	results, err = store.Search(ctx, []string{"customer"}, index.SearchOptions{Groups: []string{"Nope"}, TopK: 5})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(results[0]) != 0 {
		t.Errorf("unknown group returned %d matches", len(results[0]))
	}
}

func TestDeleteRemovesAllTraces(t *testing.T) {
	store := newTestStore(t)
	syncTestEntities(t, store)
	ctx := context.Background()

	if err := store.Delete(ctx, "Customer"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	results, err := store.Search(ctx, []string{"customer", "client", "account"}, index.SearchOptions{TopK: 10, MaxDistance: 2.0})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	for _, matches := range results {
		for _, m := range matches {
			if m.Canonical == "Customer" {
				t.Errorf("deleted entity still returned: %+v", m)
			}
		}
	}

	// Deleting an absent entity is a no-op.
	if err := store.Delete(ctx, "Customer"); err != nil {
		t.Errorf("repeat Delete() = %v, want nil", err)
	}
}

func TestSyncEmptyCanonicalLeavesIndexUnchanged(t *testing.T) {
	store := newTestStore(t)
	syncTestEntities(t, store)
	before := recordIDs(t, store)

	err := store.Sync(context.Background(), types.EntitySnapshot{CanonicalName: "  "})
	if !errors.Is(err, index.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}

	if after := recordIDs(t, store); !reflect.DeepEqual(before, after) {
		t.Errorf("index mutated by invalid sync:\nbefore: %v\nafter:  %v", before, after)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entities.db")
	embedder := embedding.NewMockEmbedder(32)
	ctx := context.Background()

	store, err := Open(path, embedder, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := store.Sync(ctx, types.EntitySnapshot{
		CanonicalName:      "Customer",
		Aliases:            "client",
		Groups:             []string{"CRM"},
		RecordType:         "Customer",
		RelatedRecordTypes: []string{"Sales Order"},
	}); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open(path, embedder, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	results, err := reopened.Search(ctx, []string{"client"}, index.SearchOptions{Groups: []string{"CRM"}, TopK: 5})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(results[0]) == 0 {
		t.Fatal("no matches after reopen")
	}
	got := results[0][0]
	if got.Distance != 0 || got.Canonical != "Customer" || got.RecordType != "Customer" {
		t.Errorf("reopen lost record data: %+v", got)
	}
	if got.RelatedRecordTypes != "Sales Order" {
		t.Errorf("RelatedRecordTypes = %q, want %q", got.RelatedRecordTypes, "Sales Order")
	}
	if len(got.Vector) != 32 {
		t.Errorf("vector dimension = %d, want 32", len(got.Vector))
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	syncTestEntities(t, store)

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.TotalRecords != 9 {
		t.Errorf("TotalRecords = %d, want 9", stats.TotalRecords)
	}
	if stats.Dimension != 32 {
		t.Errorf("Dimension = %d, want 32", stats.Dimension)
	}
	want := map[string]int{"CRM": 3, "Sales": 3, "Inventory": 3}
	if !reflect.DeepEqual(stats.Groups, want) {
		t.Errorf("Groups = %v, want %v", stats.Groups, want)
	}
}

func TestSearchDistanceOrderingAndTopK(t *testing.T) {
	store := newTestStore(t)
	syncTestEntities(t, store)

	results, err := store.Search(context.Background(), []string{"sales invoice summary"}, index.SearchOptions{TopK: 3, MaxDistance: 2.0})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	matches := results[0]
	if len(matches) > 3 {
		t.Fatalf("got %d matches, want <= 3", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Distance < matches[i-1].Distance {
			t.Errorf("matches not distance-ascending at %d", i)
		}
	}
}

// gatedEmbedder delegates to a MockEmbedder, but a batch call made after
// gate() blocks until the returned release channel is closed. It lets a test
// hold a Sync inside its embedding call while concurrent readers run.
type gatedEmbedder struct {
	inner *embedding.MockEmbedder

	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (g *gatedEmbedder) gate() (entered, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	return g.entered, g.release
}

func (g *gatedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	g.mu.Lock()
	entered, release := g.entered, g.release
	g.entered, g.release = nil, nil
	g.mu.Unlock()
	if entered != nil {
		close(entered)
		<-release
	}
	return g.inner.EmbedBatch(ctx, texts)
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return g.inner.Embed(ctx, text)
}

func (g *gatedEmbedder) Dimensions() int { return g.inner.Dimensions() }

func TestSyncKeepsRecordsSearchableWhileEmbedding(t *testing.T) {
	embedder := &gatedEmbedder{inner: embedding.NewMockEmbedder(32)}
	store, err := Open(filepath.Join(t.TempDir(), "entities.db"), embedder, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	snap := types.EntitySnapshot{CanonicalName: "Customer", Aliases: "client", Groups: []string{"CRM"}}
	if err := store.Sync(ctx, snap); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	entered, release := embedder.gate()
	done := make(chan error, 1)
	go func() {
		done <- store.Sync(ctx, snap)
	}()
	<-entered

	// The re-sync is parked inside its embedding call. The previous
	// records must still answer searches; an exact alias hit never
	// touches the embedder, so this cannot deadlock on the gate.
	results, err := store.Search(ctx, []string{"client"}, index.SearchOptions{Groups: []string{"CRM"}, TopK: 5})
	if err != nil {
		t.Fatalf("Search() during re-sync failed: %v", err)
	}
	if len(results[0]) == 0 {
		t.Error("entity unsearchable while its re-sync was embedding")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("re-sync failed: %v", err)
	}

	results, err = store.Search(ctx, []string{"client"}, index.SearchOptions{Groups: []string{"CRM"}, TopK: 5})
	if err != nil {
		t.Fatalf("Search() after re-sync failed: %v", err)
	}
	if len(results[0]) == 0 || results[0][0].Distance != 0 {
		t.Errorf("re-synced entity not searchable: %+v", results[0])
	}
}

// flakyEmbedder fails batch calls on demand.
type flakyEmbedder struct {
	*embedding.MockEmbedder
	fail bool
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("backend unavailable")
	}
	return f.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestSyncEmbeddingFailureLeavesEntityAbsent(t *testing.T) {
	embedder := &flakyEmbedder{MockEmbedder: embedding.NewMockEmbedder(32)}
	store, err := Open(filepath.Join(t.TempDir(), "entities.db"), embedder, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	snap := types.EntitySnapshot{CanonicalName: "Customer", Aliases: "client", Groups: []string{"CRM"}}
	if err := store.Sync(ctx, snap); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	embedder.fail = true
	err = store.Sync(ctx, snap)
	if !errors.Is(err, index.ErrEmbedding) {
		t.Fatalf("got %v, want ErrEmbedding", err)
	}

	// The failed re-sync removed the database rows; the mirror must
	// agree instead of serving records the database no longer has.
	results, err := store.Search(ctx, []string{"client"}, index.SearchOptions{Groups: []string{"CRM"}, TopK: 5})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(results[0]) != 0 {
		t.Errorf("entity still searchable after failed re-sync: %+v", results[0])
	}
}

func TestSnapshotsRebuildEntities(t *testing.T) {
	store := newTestStore(t)
	syncTestEntities(t, store)

	snapshots, err := store.Snapshots(context.Background())
	if err != nil {
		t.Fatalf("Snapshots() failed: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snapshots))
	}

	byName := make(map[string]types.EntitySnapshot, len(snapshots))
	for _, snap := range snapshots {
		byName[snap.CanonicalName] = snap
	}
	customer, ok := byName["Customer"]
	if !ok {
		t.Fatal("Customer snapshot missing")
	}
	if customer.RecordType != "Customer" {
		t.Errorf("RecordType = %q", customer.RecordType)
	}
	if !reflect.DeepEqual(customer.Groups, []string{"CRM"}) {
		t.Errorf("Groups = %v, want [CRM]", customer.Groups)
	}
	if !reflect.DeepEqual(customer.RelatedRecordTypes, []string{"Sales Order", "Sales Invoice"}) {
		t.Errorf("RelatedRecordTypes = %v", customer.RelatedRecordTypes)
	}
	if customer.Aliases != "client, account" {
		t.Errorf("Aliases = %q, want %q", customer.Aliases, "client, account")
	}
}

func TestSearchUsesGraphAboveThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	aliases := make([]string, bruteForceThreshold)
	for i := range aliases {
		aliases[i] = fmt.Sprintf("term %04d", i)
	}
	if err := store.Sync(ctx, types.EntitySnapshot{
		CanonicalName: "Catalog",
		Aliases:       strings.Join(aliases, ", "),
		Groups:        []string{"Inventory"},
	}); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	store.mu.RLock()
	total := len(store.records)
	hasGraph := store.graph != nil
	store.mu.RUnlock()
	if total < bruteForceThreshold {
		t.Fatalf("pool has %d records, want >= %d", total, bruteForceThreshold)
	}
	if !hasGraph {
		t.Fatal("ann graph not built above the brute-force threshold")
	}

	// A non-alias query takes the embed-and-score path through the graph.
	query := "term 0123 inventory lookup"
	opts := index.SearchOptions{Groups: []string{"Inventory"}, TopK: 10, MaxDistance: 2.0}
	results, err := store.Search(ctx, []string{query}, opts)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	matches := results[0]
	if len(matches) == 0 {
		t.Fatal("graph search returned nothing")
	}
	if len(matches) > opts.TopK {
		t.Fatalf("got %d matches, want <= %d", len(matches), opts.TopK)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Distance < matches[i-1].Distance {
			t.Errorf("matches not distance-ascending at %d", i)
		}
	}

	// The approximate results must substantially agree with an exhaustive
	// scan. Exact equality would be flaky; the graph trades recall for
	// speed.
	vector, err := store.embedder.Embed(ctx, query)
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	normalized := opts
	normalized.Normalize()
	store.mu.RLock()
	exact := store.bruteSearchLocked(vector, store.poolLocked(opts.Groups), normalized)
	store.mu.RUnlock()

	exactIDs := make(map[string]struct{}, len(exact))
	for _, m := range exact {
		exactIDs[m.ID] = struct{}{}
	}
	overlap := 0
	for _, m := range matches {
		if _, ok := exactIDs[m.ID]; ok {
			overlap++
		}
	}
	if overlap*2 < len(matches) {
		t.Errorf("only %d of %d graph results in the exhaustive top %d", overlap, len(matches), len(exact))
	}

	// Exact alias hits still short-circuit at distance 0 at this scale.
	results, err = store.Search(ctx, []string{"term 0042"}, opts)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(results[0]) == 0 || results[0][0].Distance != 0 {
		t.Errorf("exact alias lost above threshold: %+v", results[0])
	}
}

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0, 1, -0.5, 3.25, -2.75}
	decoded, err := decodeVector(encodeVector(vec))
	if err != nil {
		t.Fatalf("decodeVector() failed: %v", err)
	}
	if !reflect.DeepEqual(vec, decoded) {
		t.Errorf("round trip mismatch: %v -> %v", vec, decoded)
	}

	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("decodeVector() accepted malformed blob")
	}
}
