package ann

import (
	"math"
	"math/rand"
	"testing"
)

// randomUnit returns a random unit-length vector.
func randomUnit(rng *rand.Rand, dim int) []float32 {
	vec := make([]float32, dim)
	var sum float64
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
		sum += float64(vec[i]) * float64(vec[i])
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func TestGraphFindsExactVector(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	g := New(16)

	vectors := make([][]float32, 200)
	for i := range vectors {
		vectors[i] = randomUnit(rng, 16)
		if _, err := g.Add(vectors[i]); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	for _, probe := range []int{0, 57, 199} {
		results, err := g.Search(vectors[probe], 1, 64, nil)
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("got %d results, want 1", len(results))
		}
		if results[0].ID != probe {
			t.Errorf("probe %d: got id %d", probe, results[0].ID)
		}
		if results[0].Distance > 1e-5 {
			t.Errorf("probe %d: distance = %v, want ~0", probe, results[0].Distance)
		}
	}
}

func TestGraphRecallAgainstBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	dim := 24
	g := New(dim)

	vectors := make([][]float32, 500)
	for i := range vectors {
		vectors[i] = randomUnit(rng, dim)
		if _, err := g.Add(vectors[i]); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	hits := 0
	probes := 20
	for p := 0; p < probes; p++ {
		query := randomUnit(rng, dim)

		bestID, bestDist := -1, float32(math.MaxFloat32)
		for i, vec := range vectors {
			d := distance(query, vec)
			if d < bestDist {
				bestID, bestDist = i, d
			}
		}

		results, err := g.Search(query, 10, 128, nil)
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		for _, r := range results {
			if r.ID == bestID {
				hits++
				break
			}
		}
	}

	if hits < probes*8/10 {
		t.Errorf("recall too low: true nearest found in %d/%d probes", hits, probes)
	}
}

func TestGraphSearchOrderedAscending(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	g := New(8)
	for i := 0; i < 100; i++ {
		if _, err := g.Add(randomUnit(rng, 8)); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	results, err := g.Search(randomUnit(rng, 8), 10, 64, nil)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results not ascending at %d: %v < %v", i, results[i].Distance, results[i-1].Distance)
		}
	}
}

func TestGraphFilteredSearch(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	g := New(8)
	for i := 0; i < 300; i++ {
		if _, err := g.Add(randomUnit(rng, 8)); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	even := func(id int) bool { return id%2 == 0 }
	results, err := g.Search(randomUnit(rng, 8), 5, 64, even)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("filtered search returned nothing")
	}
	for _, r := range results {
		if r.ID%2 != 0 {
			t.Errorf("filter violated: id %d", r.ID)
		}
	}
}

func TestGraphDimensionMismatch(t *testing.T) {
	g := New(8)
	if _, err := g.Add(make([]float32, 4)); err == nil {
		t.Fatal("Add() accepted wrong-dimension vector")
	}
	if _, err := g.Search(make([]float32, 4), 1, 8, nil); err == nil {
		t.Fatal("Search() accepted wrong-dimension query")
	}
}
