// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

// minDistance keeps lambda = 1/distance finite for duplicate points.
const minDistance = 1e-12

// HDBSCAN clusters a precomputed dissimilarity matrix hierarchically.
// Params.Eps is the cluster-selection epsilon and Params.MinClusterSize the
// minimum cluster size. MinSamples of zero ties the core-distance
// neighbourhood to the minimum cluster size.
type HDBSCAN struct {
	D          mat.Symmetric
	MinSamples int

	sorted [][]float64
}

// NewHDBSCAN prepares the sorted distance rows used for core distances.
func NewHDBSCAN(d mat.Symmetric, minSamples int) *HDBSCAN {
	n := d.SymmetricDim()
	sorted := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, n)
		for j := 0; j < n; j++ {
			row[j] = d.At(i, j)
		}
		sort.Float64s(row)
		sorted[i] = row
	}
	return &HDBSCAN{D: d, MinSamples: minSamples, sorted: sorted}
}

// Run implements Runner.
func (h *HDBSCAN) Run(p Params) (Result, error) {
	if h.sorted == nil {
		*h = *NewHDBSCAN(h.D, h.MinSamples)
	}
	mcs := p.MinClusterSize
	if mcs < 2 {
		mcs = 2
	}
	ms := h.MinSamples
	if ms <= 0 {
		ms = mcs
	}
	return Summarize(h.labels(mcs, ms, p.Eps)), nil
}

// merge is one node of the single-linkage tree.
type merge struct {
	left, right int
	dist        float64
	size        int
}

// condensedEdge records a point or a child cluster leaving a parent cluster
// at lambda = 1/distance.
type condensedEdge struct {
	parent, child int
	lambda        float64
	size          int
}

func (h *HDBSCAN) labels(minClusterSize, minSamples int, selectionEps float64) []int {
	n := h.D.SymmetricDim()
	labels := make([]int, n)
	for i := range labels {
		labels[i] = types.NoiseLabel
	}
	if n < 2 {
		return labels
	}
	if minSamples > n {
		minSamples = n
	}

	merges := h.singleLinkage(minSamples)
	tree := condense(merges, n, minClusterSize)
	selected, parentOf := selectClusters(tree, n, selectionEps)
	if len(selected) == 0 {
		return labels
	}

	ids := make([]int, 0, len(selected))
	for c := range selected {
		ids = append(ids, c)
	}
	sort.Ints(ids)
	labelOf := make(map[int]int, len(ids))
	for i, c := range ids {
		labelOf[c] = i
	}

	fallOut := make([]int, n)
	for _, e := range tree {
		if e.child < n {
			fallOut[e.child] = e.parent
		}
	}
	root := n
	for i := 0; i < n; i++ {
		c := fallOut[i]
		for c != root && !selected[c] {
			c = parentOf[c]
		}
		if selected[c] {
			labels[i] = labelOf[c]
		}
	}
	return labels
}

// singleLinkage builds the minimum spanning tree of the mutual reachability
// graph with Prim's algorithm and turns it into merges ordered by distance.
// Node i >= n is merges[i-n].
func (h *HDBSCAN) singleLinkage(minSamples int) []merge {
	n := h.D.SymmetricDim()
	core := make([]float64, n)
	for i := 0; i < n; i++ {
		core[i] = h.sorted[i][minSamples-1]
	}

	type edge struct {
		a, b int
		w    float64
	}
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]edge, 0, n-1)
	current := 0
	inTree[0] = true
	for k := 1; k < n; k++ {
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			mr := math.Max(h.D.At(current, j), math.Max(core[current], core[j]))
			if mr < best[j] {
				best[j] = mr
				from[j] = current
			}
			if next < 0 || best[j] < best[next] {
				next = j
			}
		}
		edges = append(edges, edge{a: from[next], b: next, w: best[next]})
		inTree[next] = true
		current = next
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].w < edges[j].w })

	parent := make([]int, 2*n-1)
	size := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
		if i < n {
			size[i] = 1
		}
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	merges := make([]merge, n-1)
	for i, e := range edges {
		a, b := find(e.a), find(e.b)
		node := n + i
		merges[i] = merge{left: a, right: b, dist: e.w, size: size[a] + size[b]}
		parent[a], parent[b] = node, node
		size[node] = merges[i].size
	}
	return merges
}

// condense walks the single-linkage tree from the root and keeps only
// splits where both sides reach minClusterSize. Cluster ids start at n
// (the root) and grow in breadth-first order, so children outrank parents.
func condense(merges []merge, n, minClusterSize int) []condensedEdge {
	root := 2*n - 2
	sizeOf := func(node int) int {
		if node < n {
			return 1
		}
		return merges[node-n].size
	}
	subtree := func(node int) []int {
		out := []int{node}
		for i := 0; i < len(out); i++ {
			if x := out[i]; x >= n {
				out = append(out, merges[x-n].left, merges[x-n].right)
			}
		}
		return out
	}

	relabel := make([]int, 2*n-1)
	ignore := make([]bool, 2*n-1)
	relabel[root] = n
	nextLabel := n + 1

	var tree []condensedEdge
	fallOff := func(parentLabel, node int, lambda float64) {
		for _, sub := range subtree(node) {
			if sub < n {
				tree = append(tree, condensedEdge{parent: parentLabel, child: sub, lambda: lambda, size: 1})
			}
			ignore[sub] = true
		}
	}

	for _, node := range subtree(root) {
		if node < n || ignore[node] {
			continue
		}
		m := merges[node-n]
		lambda := 1 / math.Max(m.dist, minDistance)
		lc, rc := sizeOf(m.left), sizeOf(m.right)
		label := relabel[node]

		switch {
		case lc >= minClusterSize && rc >= minClusterSize:
			relabel[m.left] = nextLabel
			nextLabel++
			tree = append(tree, condensedEdge{parent: label, child: relabel[m.left], lambda: lambda, size: lc})
			relabel[m.right] = nextLabel
			nextLabel++
			tree = append(tree, condensedEdge{parent: label, child: relabel[m.right], lambda: lambda, size: rc})
		case lc < minClusterSize && rc < minClusterSize:
			fallOff(label, m.left, lambda)
			fallOff(label, m.right, lambda)
		case lc < minClusterSize:
			relabel[m.right] = label
			fallOff(label, m.left, lambda)
		default:
			relabel[m.left] = label
			fallOff(label, m.right, lambda)
		}
	}
	return tree
}

// selectClusters runs excess-of-mass selection over the condensed tree and
// then merges selected clusters born below selectionEps into the nearest
// ancestor born above it. The root is never selected. It returns the
// selected cluster ids and the parent of every non-root cluster.
func selectClusters(tree []condensedEdge, n int, selectionEps float64) (map[int]bool, map[int]int) {
	root := n
	birth := map[int]float64{root: 0}
	parentOf := make(map[int]int)
	children := make(map[int][]int)
	maxID := root
	for _, e := range tree {
		if e.child >= n {
			birth[e.child] = e.lambda
			parentOf[e.child] = e.parent
			children[e.parent] = append(children[e.parent], e.child)
			if e.child > maxID {
				maxID = e.child
			}
		}
	}

	stability := make(map[int]float64)
	for _, e := range tree {
		stability[e.parent] += (e.lambda - birth[e.parent]) * float64(e.size)
	}

	descendants := func(c int) []int {
		var out []int
		queue := append([]int(nil), children[c]...)
		for len(queue) > 0 {
			x := queue[0]
			queue = queue[1:]
			out = append(out, x)
			queue = append(queue, children[x]...)
		}
		return out
	}

	selected := make(map[int]bool)
	for c := maxID; c > root; c-- {
		selected[c] = true
	}
	for c := maxID; c > root; c-- {
		childSum := 0.0
		for _, ch := range children[c] {
			childSum += stability[ch]
		}
		if childSum > stability[c] {
			selected[c] = false
			stability[c] = childSum
		} else {
			for _, d := range descendants(c) {
				selected[d] = false
			}
		}
	}

	out := make(map[int]bool)
	for c, ok := range selected {
		if ok {
			out[c] = true
		}
	}
	if selectionEps <= 0 || len(out) == 0 {
		return out, parentOf
	}

	var traverseUp func(leaf int) int
	traverseUp = func(leaf int) int {
		parent := parentOf[leaf]
		if parent == root {
			return leaf
		}
		if 1/birth[parent] > selectionEps {
			return parent
		}
		return traverseUp(parent)
	}

	leaves := make([]int, 0, len(out))
	for c := range out {
		leaves = append(leaves, c)
	}
	sort.Ints(leaves)

	final := make(map[int]bool)
	processed := make(map[int]bool)
	for _, leaf := range leaves {
		if 1/birth[leaf] < selectionEps {
			if processed[leaf] {
				continue
			}
			up := traverseUp(leaf)
			final[up] = true
			for _, d := range descendants(up) {
				processed[d] = true
			}
		} else {
			final[leaf] = true
		}
	}
	return final, parentOf
}
