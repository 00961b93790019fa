package gallery

import (
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/your-org/facecheck/internal/models"
)

// Index finds the gallery entry closest to a query descriptor. It returns
// entry -1 and +Inf when nothing can be compared.
type Index interface {
	Nearest(snap *Snapshot, query models.Descriptor) (entry int, distance float64)
}

// ExhaustiveIndex compares the query with every enrolled descriptor.
// Ties keep the earliest entry in gallery order.
type ExhaustiveIndex struct{}

func (ExhaustiveIndex) Nearest(snap *Snapshot, query models.Descriptor) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i, entry := range snap.Entries {
		for _, d := range entry.Descriptors {
			if dist := query.Distance(d); dist < bestDist {
				best, bestDist = i, dist
			}
		}
	}
	return best, bestDist
}

const (
	hnswMaxNeighbors = 16
	hnswEfSearch     = 64
)

// HNSWIndex answers approximately with a hierarchical navigable small world
// graph built from the snapshot. The graph is rebuilt when the snapshot
// version changes.
type HNSWIndex struct {
	dim int

	mu      sync.Mutex
	version uint64
	graph   *hnsw.Graph[int]
	owners  []int
	vectors []models.Descriptor
}

// NewHNSWIndex indexes only descriptors of length dim.
func NewHNSWIndex(dim int) *HNSWIndex {
	return &HNSWIndex{dim: dim}
}

func (h *HNSWIndex) Nearest(snap *Snapshot, query models.Descriptor) (int, float64) {
	if len(query) != h.dim {
		return -1, math.Inf(1)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil || h.version != snap.Version {
		h.build(snap)
	}
	if len(h.owners) == 0 {
		return -1, math.Inf(1)
	}

	nodes := h.graph.Search([]float32(query), 1)
	if len(nodes) == 0 {
		return -1, math.Inf(1)
	}
	key := nodes[0].Key
	return h.owners[key], query.Distance(h.vectors[key])
}

func (h *HNSWIndex) build(snap *Snapshot) {
	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.EfSearch = hnswEfSearch
	g.Distance = hnsw.EuclideanDistance

	h.owners = h.owners[:0]
	h.vectors = h.vectors[:0]
	for i, entry := range snap.Entries {
		for _, d := range entry.Descriptors {
			if len(d) != h.dim {
				continue
			}
			key := len(h.owners)
			h.owners = append(h.owners, i)
			h.vectors = append(h.vectors, d)
			g.Add(hnsw.MakeNode(key, []float32(d)))
		}
	}
	h.graph = g
	h.version = snap.Version
}
