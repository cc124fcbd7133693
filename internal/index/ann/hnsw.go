// Package ann provides a small hierarchical navigable small world (HNSW)
// graph over unit-length vectors, used to accelerate vector search once the
// filtered record pool grows past the brute-force threshold.
//
// The graph is rebuilt wholesale whenever the record set changes; entity
// syncs are rare relative to searches, so rebuild cost is acceptable.
// Mutations are not safe for concurrent use; concurrent Search calls are.
package ann

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Result is one search hit: the insertion-order id of the vector and its
// inner-product distance (1 - dot) from the query.
type Result struct {
	ID       int
	Distance float32
}

type node struct {
	vector      []float32
	connections [][]int
	layer       int
}

// Options configures graph construction.
type Options struct {
	// M is the number of links created per node and layer (default: 16).
	M int

	// EFConstruction is the candidate list size during insertion
	// (default: 200).
	EFConstruction int

	// Seed makes level assignment reproducible (default: 1).
	Seed int64
}

// Graph is an HNSW index over unit-length vectors using inner-product
// distance.
type Graph struct {
	dim      int
	m        int
	mmax0    int
	ml       float64
	efBuild  int
	ep       int
	maxLevel int
	nodes    []*node
	rng      *rand.Rand
}

// New creates an empty graph for vectors of the given dimension.
func New(dim int, optFns ...func(o *Options)) *Graph {
	opts := Options{
		M:              16,
		EFConstruction: 200,
		Seed:           1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < 2 {
		opts.M = 2
	}

	return &Graph{
		dim:     dim,
		m:       opts.M,
		mmax0:   2 * opts.M,
		ml:      1 / math.Log(float64(opts.M)),
		efBuild: opts.EFConstruction,
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}
}

// Len returns the number of indexed vectors.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Add inserts a vector and returns its id. Ids are assigned sequentially
// from zero in insertion order. The vector must already be unit length.
func (g *Graph) Add(vec []float32) (int, error) {
	if len(vec) != g.dim {
		return 0, fmt.Errorf("dimension mismatch: expected %d, got %d", g.dim, len(vec))
	}

	v := make([]float32, len(vec))
	copy(v, vec)

	id := len(g.nodes)
	layer := int(math.Floor(-math.Log(g.rng.Float64()) * g.ml))
	n := &node{
		vector:      v,
		connections: make([][]int, layer+1),
		layer:       layer,
	}

	if id == 0 {
		g.nodes = append(g.nodes, n)
		g.ep = 0
		g.maxLevel = layer
		return id, nil
	}

	// Greedy descent through layers above the new node's top layer.
	curr := g.ep
	currDist := distance(g.nodes[curr].vector, v)
	for level := g.maxLevel; level > layer; level-- {
		curr, currDist = g.greedyStep(v, curr, currDist, level)
	}

	// Link into every layer the node participates in.
	for level := min(layer, g.maxLevel); level >= 0; level-- {
		candidates := g.searchLayer(v, curr, currDist, g.efBuild, level)
		neighbours := nearest(candidates, g.m)

		n.connections[level] = make([]int, len(neighbours))
		for i, nb := range neighbours {
			n.connections[level][i] = nb.ID
		}
		if len(neighbours) > 0 {
			curr, currDist = neighbours[0].ID, neighbours[0].Distance
		}
	}

	g.nodes = append(g.nodes, n)

	for level := min(layer, g.maxLevel); level >= 0; level-- {
		for _, nb := range n.connections[level] {
			g.link(nb, id, level)
		}
	}

	if layer > g.maxLevel {
		g.ep = id
		g.maxLevel = layer
	}
	return id, nil
}

// Search returns up to k results ordered by ascending distance. ef bounds
// the candidate list at the bottom layer (values below k are raised to k).
// A non-nil allow func filters results by id; the candidate list is widened
// so filtered searches keep reasonable recall.
func (g *Graph) Search(query []float32, k, ef int, allow func(id int) bool) ([]Result, error) {
	if len(query) != g.dim {
		return nil, fmt.Errorf("dimension mismatch: expected %d, got %d", g.dim, len(query))
	}
	if len(g.nodes) == 0 || k < 1 {
		return nil, nil
	}
	if ef < k {
		ef = k
	}
	if allow != nil {
		// Filtered pools shrink the reachable result set.
		ef *= 4
	}

	curr := g.ep
	currDist := distance(g.nodes[curr].vector, query)
	for level := g.maxLevel; level > 0; level-- {
		curr, currDist = g.greedyStep(query, curr, currDist, level)
	}

	candidates := g.searchLayer(query, curr, currDist, ef, 0)

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if allow == nil || allow(c.ID) {
			results = append(results, c)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// greedyStep walks to the closest neighbour of curr at the given level
// until no neighbour improves the distance.
func (g *Graph) greedyStep(query []float32, curr int, currDist float32, level int) (int, float32) {
	for changed := true; changed; {
		changed = false
		n := g.nodes[curr]
		if level >= len(n.connections) {
			break
		}
		for _, nb := range n.connections[level] {
			d := distance(g.nodes[nb].vector, query)
			if d < currDist {
				curr, currDist = nb, d
				changed = true
			}
		}
	}
	return curr, currDist
}

// searchLayer runs the beam search at one layer, returning up to ef
// candidates in heap order.
func (g *Graph) searchLayer(query []float32, entry int, entryDist float32, ef, level int) []Result {
	visited := map[int]struct{}{entry: {}}

	candidates := &minQueue{{ID: entry, Distance: entryDist}}
	heap.Init(candidates)

	found := &maxQueue{{ID: entry, Distance: entryDist}}
	heap.Init(found)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(Result)
		if c.Distance > (*found)[0].Distance && found.Len() >= ef {
			break
		}

		n := g.nodes[c.ID]
		if level >= len(n.connections) {
			continue
		}
		for _, nb := range n.connections[level] {
			if _, ok := visited[nb]; ok {
				continue
			}
			visited[nb] = struct{}{}

			d := distance(g.nodes[nb].vector, query)
			if found.Len() < ef {
				heap.Push(found, Result{ID: nb, Distance: d})
				heap.Push(candidates, Result{ID: nb, Distance: d})
			} else if d < (*found)[0].Distance {
				heap.Pop(found)
				heap.Push(found, Result{ID: nb, Distance: d})
				heap.Push(candidates, Result{ID: nb, Distance: d})
			}
		}
	}

	return *found
}

// link connects first -> second at the given level, pruning back to the
// connection budget by keeping the closest neighbours.
func (g *Graph) link(first, second, level int) {
	maxConns := g.m
	if level == 0 {
		maxConns = g.mmax0
	}

	n := g.nodes[first]
	if level >= len(n.connections) {
		return
	}
	n.connections[level] = append(n.connections[level], second)

	if len(n.connections[level]) <= maxConns {
		return
	}

	candidates := make([]Result, 0, len(n.connections[level]))
	for _, nb := range n.connections[level] {
		candidates = append(candidates, Result{ID: nb, Distance: distance(n.vector, g.nodes[nb].vector)})
	}
	kept := nearest(candidates, maxConns)

	n.connections[level] = n.connections[level][:0]
	for _, nb := range kept {
		n.connections[level] = append(n.connections[level], nb.ID)
	}
}

// nearest returns the k smallest-distance results, ascending.
func nearest(candidates []Result, k int) []Result {
	sorted := make([]Result, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Distance < sorted[j].Distance })
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

// distance is inner-product distance: 1 - dot(a, b). Both vectors must be
// unit length, which bounds it to [0, 2] and makes it equal cosine distance.
func distance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

type minQueue []Result

func (q minQueue) Len() int            { return len(q) }
func (q minQueue) Less(i, j int) bool  { return q[i].Distance < q[j].Distance }
func (q minQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *minQueue) Push(x interface{}) { *q = append(*q, x.(Result)) }
func (q *minQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

type maxQueue []Result

func (q maxQueue) Len() int            { return len(q) }
func (q maxQueue) Less(i, j int) bool  { return q[i].Distance > q[j].Distance }
func (q maxQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *maxQueue) Push(x interface{}) { *q = append(*q, x.(Result)) }
func (q *maxQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
