// Package sparsity computes the nonzero structure of matrices over a
// distributed DOF numbering.
package sparsity

import (
	"fmt"
	"sort"
)

// Graph holds, per owned row, the sorted column indices
type Graph [][]int

// ExtraFunc may append rows and columns after the structural pass. It must
// keep every row sorted and the counts consistent with the graph.
type ExtraFunc func(graph Graph, nnz, noz []int)

// Pattern is the sparsity of the rows [FirstDof, EndDof) of an NDofs square
// matrix
type Pattern struct {
	FirstDof, EndDof int
	NDofs            int

	NNZ []int // Per row: columns inside [FirstDof, EndDof)
	NOZ []int // Per row: columns outside

	Graph Graph // Nil unless the full graph was requested
}

// NRows is the number of owned rows
func (p *Pattern) NRows() int { return p.EndDof - p.FirstDof }

// TotalNonzeros sums NNZ and NOZ over all rows
func (p *Pattern) TotalNonzeros() int {
	total := 0
	for i := range p.NNZ {
		total += p.NNZ[i] + p.NOZ[i]
	}
	return total
}

// Bandwidth returns the largest per-row nonzero count
func (p *Pattern) Bandwidth() int {
	bw := 0
	for i := range p.NNZ {
		bw = max(bw, p.NNZ[i]+p.NOZ[i])
	}
	return bw
}

// Row returns the columns of global row, requiring the full graph
func (p *Pattern) Row(row int) ([]int, error) {
	if p.Graph == nil {
		return nil, fmt.Errorf("sparsity graph was not retained")
	}
	if row < p.FirstDof || row >= p.EndDof {
		return nil, fmt.Errorf("row %d outside [%d, %d)", row, p.FirstDof, p.EndDof)
	}
	return p.Graph[row-p.FirstDof], nil
}

// Contains reports whether (row, col) is in the graph
func (p *Pattern) Contains(row, col int) bool {
	cols, err := p.Row(row)
	if err != nil {
		return false
	}
	i := sort.SearchInts(cols, col)
	return i < len(cols) && cols[i] == col
}

// Validate checks the structural invariants
func (p *Pattern) Validate() error {
	if len(p.NNZ) != p.NRows() || len(p.NOZ) != p.NRows() {
		return fmt.Errorf("have %d/%d counts for %d rows", len(p.NNZ), len(p.NOZ), p.NRows())
	}
	if p.Graph == nil {
		return nil
	}
	if len(p.Graph) != p.NRows() {
		return fmt.Errorf("graph has %d rows, expected %d", len(p.Graph), p.NRows())
	}
	for i, cols := range p.Graph {
		on := 0
		for k, c := range cols {
			if c < 0 || c >= p.NDofs {
				return fmt.Errorf("row %d: column %d outside [0, %d)", p.FirstDof+i, c, p.NDofs)
			}
			if k > 0 && cols[k-1] >= c {
				return fmt.Errorf("row %d: columns not strictly increasing", p.FirstDof+i)
			}
			if c >= p.FirstDof && c < p.EndDof {
				on++
			}
		}
		if on != p.NNZ[i] || len(cols)-on != p.NOZ[i] {
			return fmt.Errorf("row %d: counts %d/%d disagree with graph %d/%d",
				p.FirstDof+i, p.NNZ[i], p.NOZ[i], on, len(cols)-on)
		}
	}
	return nil
}

// sortUnique sorts s and removes duplicates in place
func sortUnique(s []int) []int {
	if len(s) < 2 {
		return s
	}
	sort.Ints(s)
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
