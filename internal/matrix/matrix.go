// Package matrix holds row-major float32 embedding matrices and their on-disk codec.
package matrix

import (
	"fmt"

	"etymdef/internal/domain"
)

// Matrix is a dense (rows, dim) float32 matrix stored row-major.
// Row i corresponds to lexicon row i.
type Matrix struct {
	rows int
	dim  int
	data []float32
}

// New allocates a zeroed matrix.
func New(rows, dim int) *Matrix {
	return &Matrix{rows: rows, dim: dim, data: make([]float32, rows*dim)}
}

// FromRows copies vectors into a matrix. All vectors must share one width.
func FromRows(vectors [][]float32) (*Matrix, error) {
	if len(vectors) == 0 {
		return &Matrix{}, nil
	}
	dim := len(vectors[0])
	m := New(len(vectors), dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: row %d has width %d, want %d", domain.ErrShape, i, len(v), dim)
		}
		copy(m.data[i*dim:], v)
	}
	return m, nil
}

// Concat stacks matrices vertically, preserving order.
func Concat(parts ...*Matrix) (*Matrix, error) {
	total := 0
	dim := -1
	for i, p := range parts {
		if p.rows == 0 {
			continue
		}
		if dim >= 0 && p.dim != dim {
			return nil, fmt.Errorf("%w: part %d has width %d, want %d", domain.ErrShape, i, p.dim, dim)
		}
		dim = p.dim
		total += p.rows
	}
	if dim < 0 {
		return &Matrix{}, nil
	}
	out := &Matrix{rows: total, dim: dim, data: make([]float32, 0, total*dim)}
	for _, p := range parts {
		out.data = append(out.data, p.data...)
	}
	return out, nil
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Dim returns the row width.
func (m *Matrix) Dim() int { return m.dim }

// Row returns row i as a slice aliasing the matrix storage.
func (m *Matrix) Row(i int) []float32 {
	return m.data[i*m.dim : (i+1)*m.dim : (i+1)*m.dim]
}

// Data exposes the row-major backing slice.
func (m *Matrix) Data() []float32 { return m.data }

// Gather returns a new matrix holding the given rows in the given order.
func (m *Matrix) Gather(indices []int) (*Matrix, error) {
	out := New(len(indices), m.dim)
	for j, i := range indices {
		if i < 0 || i >= m.rows {
			return nil, fmt.Errorf("%w: row index %d out of range [0,%d)", domain.ErrShape, i, m.rows)
		}
		copy(out.data[j*m.dim:], m.Row(i))
	}
	return out, nil
}

// Float64Row converts row i to float64 for the regression model.
func (m *Matrix) Float64Row(i int) []float64 {
	row := m.Row(i)
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = float64(v)
	}
	return out
}
