package sparsity

import (
	"context"
	"fmt"

	"github.com/notargets/dofmap/ghosting"
	"github.com/notargets/dofmap/mesh"
	"github.com/notargets/dofmap/parallel"
)

// DofMap is the numbering the builder reads
type DofMap interface {
	NDofs() int
	FirstDof() int
	EndDof() int
	DofOwner(dof int) int
	NVariables() int
	VariableDofIndices(e *mesh.Elem, v int) []int

	// ConstraintSources returns the unconstrained sources of a constrained
	// DOF whose row is known on this processor
	ConstraintSources(dof int) ([]int, bool)
	// KnownConstrainedDofs lists every DOF with a row on this processor
	KnownConstrainedDofs() []int
}

// Builder computes the Pattern of the rows owned by one processor
type Builder struct {
	DofMap   DofMap
	Topology mesh.Topology
	Comm     *parallel.Comm

	// Coupling functors decide which elements couple to each local element
	Coupling []ghosting.Functor

	// Constrained substitutes constrained DOFs by their sources and adds the
	// constraint rows themselves, giving the pattern of C^T K C
	Constrained bool

	// FullGraph keeps the column indices in the result
	FullGraph bool

	// Extra hooks run after the structural pass
	Extra []ExtraFunc
}

type rowEntry struct {
	Row  int
	Cols []int
}

// Build runs the structural pass, ships rows owned elsewhere to their owners,
// and counts on- and off-processor columns. It is collective.
func (b *Builder) Build(ctx context.Context) (*Pattern, error) {
	dm := b.DofMap
	first, end := dm.FirstDof(), dm.EndDof()
	rows := make([][]int, end-first)
	nonlocal := make(map[int][]int)

	addRow := func(row int, cols []int) {
		if row >= first && row < end {
			rows[row-first] = append(rows[row-first], cols...)
		} else {
			nonlocal[row] = append(nonlocal[row], cols...)
		}
	}

	cache := make(map[*mesh.Elem][][]int)
	dofsOf := func(e *mesh.Elem, v int) []int {
		perVar, ok := cache[e]
		if !ok {
			perVar = make([][]int, dm.NVariables())
			for vi := range perVar {
				perVar[vi] = b.elementDofs(e, vi)
			}
			cache[e] = perVar
		}
		return perVar[v]
	}

	nvars := dm.NVariables()
	for _, e := range b.Topology.ActiveLocalElements(b.Comm.Rank()) {
		coupled := ghosting.Compute(b.Coupling, ghosting.AnyProcessor, []*mesh.Elem{e})
		for vi := 0; vi < nvars; vi++ {
			rowDofs := dofsOf(e, vi)
			if len(rowDofs) == 0 {
				continue
			}
			var cols []int
			for ce, cm := range coupled {
				for vj := 0; vj < nvars; vj++ {
					if cm.At(vi, vj) {
						cols = append(cols, dofsOf(ce, vj)...)
					}
				}
			}
			if len(cols) == 0 {
				continue
			}
			cols = sortUnique(cols)
			for _, r := range rowDofs {
				addRow(r, cols)
			}
		}
	}

	// A constrained row couples the DOF to its sources
	if b.Constrained {
		for _, d := range dm.KnownConstrainedDofs() {
			srcs, _ := dm.ConstraintSources(d)
			addRow(d, append([]int{d}, srcs...))
		}
	}

	if err := b.exchangeNonlocal(ctx, rows, nonlocal); err != nil {
		return nil, err
	}

	p := &Pattern{
		FirstDof: first,
		EndDof:   end,
		NDofs:    dm.NDofs(),
		NNZ:      make([]int, end-first),
		NOZ:      make([]int, end-first),
	}
	for i := range rows {
		rows[i] = sortUnique(rows[i])
		for _, c := range rows[i] {
			if c >= first && c < end {
				p.NNZ[i]++
			} else {
				p.NOZ[i]++
			}
		}
	}
	for _, f := range b.Extra {
		f(rows, p.NNZ, p.NOZ)
	}
	if b.FullGraph || len(b.Extra) > 0 {
		p.Graph = rows
	}
	return p, nil
}

// elementDofs returns the DOFs of variable v on e, with constrained DOFs
// replaced by their sources when building the constrained pattern
func (b *Builder) elementDofs(e *mesh.Elem, v int) []int {
	dofs := b.DofMap.VariableDofIndices(e, v)
	if !b.Constrained {
		return dofs
	}
	out := make([]int, 0, len(dofs))
	for _, d := range dofs {
		if srcs, ok := b.DofMap.ConstraintSources(d); ok {
			out = append(out, srcs...)
		} else {
			out = append(out, d)
		}
	}
	return out
}

func (b *Builder) exchangeNonlocal(ctx context.Context, rows [][]int, nonlocal map[int][]int) error {
	out := make(map[int][]rowEntry)
	for row, cols := range nonlocal {
		owner := b.DofMap.DofOwner(row)
		out[owner] = append(out[owner], rowEntry{Row: row, Cols: sortUnique(cols)})
	}
	in, err := parallel.Exchange(ctx, b.Comm, out)
	if err != nil {
		return fmt.Errorf("exchanging nonlocal sparsity rows: %w", err)
	}
	first, end := b.DofMap.FirstDof(), b.DofMap.EndDof()
	for from, entries := range in {
		for _, re := range entries {
			if re.Row < first || re.Row >= end {
				return fmt.Errorf("rank %d sent row %d outside [%d, %d)", from, re.Row, first, end)
			}
			rows[re.Row-first] = append(rows[re.Row-first], re.Cols...)
		}
	}
	return nil
}
