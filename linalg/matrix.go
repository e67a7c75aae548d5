package linalg

import (
	"context"
	"errors"
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/dofmap/parallel"
	"github.com/notargets/dofmap/sparsity"
)

// ErrNotInPattern reports an entry outside the preallocated sparsity
var ErrNotInPattern = errors.New("linalg: entry outside sparsity pattern")

// ErrNoPattern reports use of a matrix that was never given a pattern
var ErrNoPattern = errors.New("linalg: matrix has no sparsity pattern")

// Matrix is a distributed sparse matrix storing its owned rows. Entries are
// accumulated in dictionary-of-keys form and compressed on demand.
type Matrix struct {
	comm    *parallel.Comm
	strict  bool
	pattern *sparsity.Pattern
	rows    *sparse.DOK
	offProc map[[2]int]float64
}

// NewMatrix creates a matrix for the processor comm. A strict matrix asks for
// the full sparsity graph and rejects entries outside it.
func NewMatrix(comm *parallel.Comm, strict bool) *Matrix {
	return &Matrix{comm: comm, strict: strict, offProc: make(map[[2]int]float64)}
}

// NeedFullSparsity reports whether the column indices are needed
func (m *Matrix) NeedFullSparsity() bool { return m.strict }

// UpdateSparsityPattern reallocates the owned rows for p, dropping all entries
func (m *Matrix) UpdateSparsityPattern(p *sparsity.Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if m.strict && p.Graph == nil {
		return fmt.Errorf("strict matrix given a pattern without its graph")
	}
	m.pattern = p
	m.rows = sparse.NewDOK(max(p.NRows(), 1), max(p.NDofs, 1))
	clear(m.offProc)
	return nil
}

// Pattern is the current sparsity pattern
func (m *Matrix) Pattern() *sparsity.Pattern { return m.pattern }

func (m *Matrix) owns(i int) bool {
	return i >= m.pattern.FirstDof && i < m.pattern.EndDof
}

// Add accumulates v into entry (i, j). Rows owned elsewhere are held until
// Assemble.
func (m *Matrix) Add(i, j int, v float64) error {
	if m.pattern == nil {
		return ErrNoPattern
	}
	if j < 0 || j >= m.pattern.NDofs {
		return fmt.Errorf("column %d outside [0, %d)", j, m.pattern.NDofs)
	}
	if !m.owns(i) {
		m.offProc[[2]int{i, j}] += v
		return nil
	}
	if m.strict && !m.pattern.Contains(i, j) {
		return fmt.Errorf("(%d, %d): %w", i, j, ErrNotInPattern)
	}
	r := i - m.pattern.FirstDof
	m.rows.Set(r, j, m.rows.At(r, j)+v)
	return nil
}

// AddElementMatrix scatters a dense element matrix over rowDofs x colDofs
func (m *Matrix) AddElementMatrix(k mat.Matrix, rowDofs, colDofs []int) error {
	nr, nc := k.Dims()
	if nr != len(rowDofs) || nc != len(colDofs) {
		return fmt.Errorf("element matrix %dx%d for %dx%d dofs", nr, nc, len(rowDofs), len(colDofs))
	}
	for a, i := range rowDofs {
		for b, j := range colDofs {
			if v := k.At(a, b); v != 0 {
				if err := m.Add(i, j, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

type entry struct {
	Row, Col int
	Value    float64
}

// Assemble ships held rows to their owners. It is collective.
func (m *Matrix) Assemble(ctx context.Context, owner func(int) int) error {
	if m.pattern == nil {
		return ErrNoPattern
	}
	out := make(map[int][]entry)
	for ij, v := range m.offProc {
		p := owner(ij[0])
		out[p] = append(out[p], entry{ij[0], ij[1], v})
	}
	clear(m.offProc)
	in, err := parallel.Exchange(ctx, m.comm, out)
	if err != nil {
		return fmt.Errorf("assembling matrix: %w", err)
	}
	for from, entries := range in {
		for _, e := range entries {
			if !m.owns(e.Row) {
				return fmt.Errorf("rank %d sent row %d owned elsewhere", from, e.Row)
			}
			if err := m.Add(e.Row, e.Col, e.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// At reads entry (i, j) of an owned row
func (m *Matrix) At(i, j int) float64 {
	if m.pattern == nil || !m.owns(i) {
		return 0
	}
	return m.rows.At(i-m.pattern.FirstDof, j)
}

// NNZ is the number of stored entries in the owned rows
func (m *Matrix) NNZ() int {
	if m.rows == nil {
		return 0
	}
	return m.rows.NNZ()
}

// CSR compresses the owned rows
func (m *Matrix) CSR() *sparse.CSR {
	if m.rows == nil {
		return nil
	}
	return m.rows.ToCSR()
}

// MulVec computes y = A x over the owned rows, localizing x first. It is
// collective.
func (m *Matrix) MulVec(ctx context.Context, x, y *GhostedVector) error {
	if m.pattern == nil {
		return ErrNoPattern
	}
	if err := x.Localize(ctx); err != nil {
		return err
	}
	for i := range y.owned {
		y.owned[i] = 0
	}
	var missing error
	m.CSR().DoNonZero(func(i, j int, v float64) {
		if !x.Has(j) {
			missing = fmt.Errorf("column %d of row %d not available on rank %d", j, i+m.pattern.FirstDof, m.comm.Rank())
			return
		}
		y.owned[i] += v * x.At(j)
	})
	if missing != nil {
		return missing
	}
	return y.Localize(ctx)
}
