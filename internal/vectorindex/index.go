package vectorindex

import (
	"github.com/coder/hnsw"

	"github.com/synnergy/hostnode/internal/errs"
)

const vectorDim = 384

// hnswM, hnswEfSearch are the graph construction/search parameters this
// node standardizes on (an Open Question the spec left unresolved,
// decided here): M=16 balances recall against per-node memory for
// typical few-thousand-vector personal RAG databases, ef_search=64 trades
// a modest latency cost for meaningfully better recall than the library
// default on graphs this small.
const (
	hnswM        = 16
	hnswEfSearch = 64
)

// Index wraps a built HNSW graph plus the handle name SessionStore expects
// (session.VectorHandle). One Index is built per manifest_path and cached
// for reuse across sessions that reference the same database.
type Index struct {
	name  string
	graph *hnsw.Graph[int]
	dim   int
}

func (ix *Index) Name() string { return ix.name }

// buildIndex constructs an HNSW graph over the validated vector entries.
func buildIndex(name string, entries []VectorEntry, dim int) (*Index, error) {
	g := hnsw.NewGraph[int]()
	g.M = hnswM
	g.EfSearch = hnswEfSearch
	nodes := make([]hnsw.Node[int], len(entries))
	for i, e := range entries {
		nodes[i] = hnsw.Node[int]{Key: e.Key, Value: e.Vector}
	}
	g.Add(nodes...)
	return &Index{name: name, graph: g, dim: dim}, nil
}

// SearchResult is one nearest-neighbour hit.
type SearchResult struct {
	Key   int
	Score float32
}

// Search returns the k nearest vectors to query.
func (ix *Index) Search(query []float32, k int) ([]SearchResult, error) {
	if len(query) != ix.dim {
		return nil, errs.New(errs.KindDimensionMismatch, "query vector dimension mismatch")
	}
	hits := ix.graph.Search(query, k)
	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = SearchResult{Key: h.Key}
	}
	return out, nil
}

// Len reports how many vectors are indexed.
func (ix *Index) Len() int { return ix.graph.Len() }

// NewEmptyIndex builds an index with no vectors, the target of the first
// uploadVectors call on a session that never attached a manifest-backed
// database (spec §4.10.1's uploadVectors message).
func NewEmptyIndex(name string, dim int) *Index {
	g := hnsw.NewGraph[int]()
	g.M = hnswM
	g.EfSearch = hnswEfSearch
	return &Index{name: name, graph: g, dim: dim}
}

// Add inserts additional vectors into an already-built index, keying each
// by its position after the existing contents (uploadVectors appends
// rather than replaces, per spec §4.10.1).
func (ix *Index) Add(vectors [][]float32) error {
	base := ix.graph.Len()
	nodes := make([]hnsw.Node[int], len(vectors))
	for i, v := range vectors {
		if len(v) != ix.dim {
			return errs.New(errs.KindDimensionMismatch, "uploaded vector dimension mismatch")
		}
		nodes[i] = hnsw.Node[int]{Key: base + i, Value: v}
	}
	ix.graph.Add(nodes...)
	return nil
}
