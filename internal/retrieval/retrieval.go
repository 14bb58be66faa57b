// Package retrieval ranks corpus rows by cosine similarity to a query with a
// bounded running top-k, so no full similarity array is built or sorted.
package retrieval

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"

	"etymdef/internal/domain"
	"etymdef/internal/matrix"
)

func vec(v []float32) blas32.Vector {
	return blas32.Vector{N: len(v), Data: v, Inc: 1}
}

// CosineSimilarity returns dot(a,b)/(|a||b|). It returns 0 when either vector
// has zero norm or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := float64(blas32.Nrm2(vec(a))), float64(blas32.Nrm2(vec(b)))
	if na == 0 || nb == 0 {
		return 0
	}
	return float64(blas32.Dot(vec(a), vec(b))) / (na * nb)
}

// Index holds a corpus matrix with its row norms for repeated queries.
type Index struct {
	corpus *matrix.Matrix
	norms  []float64
}

// NewIndex precomputes the row norms of corpus.
func NewIndex(corpus *matrix.Matrix) *Index {
	ix := &Index{corpus: corpus, norms: make([]float64, corpus.Rows())}
	for i := range ix.norms {
		ix.norms[i] = float64(blas32.Nrm2(vec(corpus.Row(i))))
	}
	return ix
}

// Len returns the number of corpus rows.
func (ix *Index) Len() int { return ix.corpus.Rows() }

// Search returns the min(k, rows) rows most similar to query, most similar
// first.
//
// Rows are visited in index order. While fewer than k candidates are held a
// row is always kept; afterwards it takes the place of the first held entry
// with strictly lower similarity, and the last entry drops out. Held entries
// stay in descending order, so that entry is the lowest one it beats. A row
// that only ties the held entries is discarded, which makes ties resolve to
// the earliest row seen.
func (ix *Index) Search(query []float32, k int) ([]domain.Neighbor, error) {
	if k <= 0 {
		return []domain.Neighbor{}, nil
	}
	if len(query) != ix.corpus.Dim() {
		return nil, fmt.Errorf("%w: query has %d values, corpus rows have %d", domain.ErrShape, len(query), ix.corpus.Dim())
	}
	q := vec(query)
	qn := float64(blas32.Nrm2(q))

	if k > ix.corpus.Rows() {
		k = ix.corpus.Rows()
	}
	acc := make([]domain.Neighbor, 0, k)
	for i := 0; i < ix.corpus.Rows(); i++ {
		sim := ix.similarity(i, q, qn)
		pos := len(acc)
		for j, n := range acc {
			if n.Similarity < sim {
				pos = j
				break
			}
		}
		if len(acc) < k {
			acc = append(acc, domain.Neighbor{})
		} else if pos == len(acc) {
			continue
		}
		copy(acc[pos+1:], acc[pos:len(acc)-1])
		acc[pos] = domain.Neighbor{Index: i, Similarity: sim}
	}
	return acc, nil
}

func (ix *Index) similarity(i int, q blas32.Vector, qn float64) float64 {
	if ix.norms[i] == 0 || qn == 0 {
		return 0
	}
	return float64(blas32.Dot(vec(ix.corpus.Row(i)), q)) / (ix.norms[i] * qn)
}

// TopKNeighbors ranks corpus rows against query and returns the best k with
// their similarities.
func TopKNeighbors(k int, corpus *matrix.Matrix, query []float32) ([]domain.Neighbor, error) {
	return NewIndex(corpus).Search(query, k)
}

// TopK returns the row indices of the k rows most similar to query.
func TopK(k int, corpus *matrix.Matrix, query []float32) ([]int, error) {
	ns, err := TopKNeighbors(k, corpus, query)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(ns))
	for i, n := range ns {
		out[i] = n.Index
	}
	return out, nil
}
