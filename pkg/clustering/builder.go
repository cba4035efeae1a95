// Package clustering groups scored record pairs into entity clusters
package clustering

import (
	"cmp"
	"slices"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/models"
)

// Policy holds the thresholds the builder needs
type Policy struct {
	MatchThreshold float64
	// MinStrongEdges is the number of strong edges a cluster of LargeClusterSize or more members
	// must contain. Zero disables the guard.
	MinStrongEdges   int
	LargeClusterSize int
}

// PolicyFrom extracts the clustering policy from a resolution policy
func PolicyFrom(p *config.Policy) Policy {
	return Policy{
		MatchThreshold:   p.MatchThreshold,
		MinStrongEdges:   p.MinStrongEdgesForLargeCluster,
		LargeClusterSize: p.LargeClusterSize,
	}
}

// Result is the outcome of one clustering pass
type Result struct {
	Clusters []models.EntityCluster
	// Guarded lists edges above the match threshold that were refused by the chaining guard
	Guarded []models.CandidatePair
}

// Builder forms the transitive closure of match edges with a guard against weak chains
type Builder struct {
	policy Policy
}

// NewBuilder creates a cluster builder
func NewBuilder(policy Policy) *Builder {
	return &Builder{policy: policy}
}

// Build partitions ids into clusters. Every id lands in exactly one cluster; pairs naming ids
// outside the list are ignored. Output is independent of the order of ids and pairs.
func (b *Builder) Build(ids []models.RecordID, pairs []models.CandidatePair) Result {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	index := make(map[models.RecordID]int, len(sorted))
	for i, id := range sorted {
		index[id] = i
	}
	uf := newUnionFind(len(sorted))

	edges := make([]models.CandidatePair, 0, len(pairs))
	for _, p := range pairs {
		if p.Score < b.policy.MatchThreshold {
			continue
		}
		if _, ok := index[p.A]; !ok {
			continue
		}
		if _, ok := index[p.B]; !ok {
			continue
		}
		edges = append(edges, p)
	}
	slices.SortFunc(edges, edgeOrder)

	var strongEdges []models.CandidatePair
	for _, e := range edges {
		if e.Strong {
			strongEdges = append(strongEdges, e)
		}
	}
	// crossing counts strong edges with one end in each component, processed or not
	crossing := func(ra, rb int) int {
		n := 0
		for _, e := range strongEdges {
			x, y := uf.find(index[e.A]), uf.find(index[e.B])
			if (x == ra && y == rb) || (x == rb && y == ra) {
				n++
			}
		}
		return n
	}

	var guarded []models.CandidatePair
	for _, e := range edges {
		ra, rb := uf.find(index[e.A]), uf.find(index[e.B])
		if ra == rb {
			uf.edges[ra] = append(uf.edges[ra], e)
			continue
		}
		merged := uf.size[ra] + uf.size[rb]
		between := crossing(ra, rb)
		if b.policy.MinStrongEdges > 0 && merged >= b.policy.LargeClusterSize &&
			uf.strong[ra]+uf.strong[rb]+between < b.policy.MinStrongEdges {
			guarded = append(guarded, e)
			continue
		}
		root := uf.union(ra, rb)
		uf.edges[root] = append(uf.edges[root], e)
		uf.strong[root] += between
	}

	// A refused edge can end up inside a component joined through other edges
	var result Result
	for _, e := range guarded {
		ra, rb := uf.find(index[e.A]), uf.find(index[e.B])
		if ra == rb {
			uf.edges[ra] = append(uf.edges[ra], e)
			continue
		}
		result.Guarded = append(result.Guarded, e)
	}

	members := make(map[int][]models.RecordID)
	for i, id := range sorted {
		root := uf.find(i)
		members[root] = append(members[root], id)
	}
	for root, ms := range members {
		accepted := slices.Clone(uf.edges[root])
		slices.SortFunc(accepted, canonicalOrder)
		result.Clusters = append(result.Clusters, models.EntityCluster{
			Members:        ms,
			Representative: ms[0],
			Edges:          accepted,
			StrongEdges:    uf.strong[root],
		})
	}
	slices.SortFunc(result.Clusters, func(x, y models.EntityCluster) int {
		return cmp.Compare(x.Representative, y.Representative)
	})
	slices.SortFunc(result.Guarded, canonicalOrder)
	return result
}

// edgeOrder processes strong edges first, then higher scores, then ids
func edgeOrder(x, y models.CandidatePair) int {
	if x.Strong != y.Strong {
		if x.Strong {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(y.Score, x.Score); c != 0 {
		return c
	}
	return canonicalOrder(x, y)
}

func canonicalOrder(x, y models.CandidatePair) int {
	if c := cmp.Compare(x.A, y.A); c != 0 {
		return c
	}
	return cmp.Compare(x.B, y.B)
}

type unionFind struct {
	parent []int
	size   []int
	strong []int
	edges  [][]models.CandidatePair
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		size:   make([]int, n),
		strong: make([]int, n),
		edges:  make([][]models.CandidatePair, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

// union joins two roots and returns the surviving root. The larger tree wins, ties go to the
// lower index.
func (uf *unionFind) union(a, b int) int {
	if uf.size[a] < uf.size[b] || (uf.size[a] == uf.size[b] && b < a) {
		a, b = b, a
	}
	uf.parent[b] = a
	uf.size[a] += uf.size[b]
	uf.strong[a] += uf.strong[b]
	uf.edges[a] = append(uf.edges[a], uf.edges[b]...)
	uf.edges[b] = nil
	return a
}
