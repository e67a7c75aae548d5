package dofmap

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/btree"

	"github.com/notargets/dofmap/mesh"
)

// ConstraintRow maps source DOFs to coefficients. A constrained DOF equals
// the weighted sum of its sources plus the row's right-hand side.
type ConstraintRow map[int]float64

// Sources lists the source DOFs in increasing order
func (r ConstraintRow) Sources() []int {
	return slices.Sorted(maps.Keys(r))
}

// Clone returns an independent copy
func (r ConstraintRow) Clone() ConstraintRow {
	return maps.Clone(r)
}

func (r ConstraintRow) String() string {
	var sb strings.Builder
	for i, s := range r.Sources() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "(%d,%g)", s, r[s])
	}
	return sb.String()
}

// Primal selects the forward problem where a quantity of interest is expected
const Primal = -1

type constraintEntry struct {
	dof      int
	row      ConstraintRow
	rhs      float64
	priority int // Lower wins when two rows for one DOF meet
}

func lessEntry(a, b *constraintEntry) bool { return a.dof < b.dof }

// DofConstraints holds constraint rows keyed by DOF, their primal and adjoint
// right-hand sides, and the node constraint rows of the mesh
type DofConstraints struct {
	rows    *btree.BTreeG[*constraintEntry]
	adjoint map[int]map[int]float64 // qoi -> dof -> rhs
	nodes   map[int]mesh.NodeConstraintRow
}

// NewDofConstraints creates an empty table
func NewDofConstraints() *DofConstraints {
	return &DofConstraints{
		rows:    btree.NewG(16, lessEntry),
		adjoint: make(map[int]map[int]float64),
		nodes:   make(map[int]mesh.NodeConstraintRow),
	}
}

// Len is the number of constrained DOFs
func (c *DofConstraints) Len() int { return c.rows.Len() }

// Empty reports whether the table holds nothing at all
func (c *DofConstraints) Empty() bool {
	return c.rows.Len() == 0 && len(c.adjoint) == 0 && len(c.nodes) == 0
}

func (c *DofConstraints) get(dof int) (*constraintEntry, bool) {
	return c.rows.Get(&constraintEntry{dof: dof})
}

// IsConstrained reports whether dof has a row
func (c *DofConstraints) IsConstrained(dof int) bool {
	_, ok := c.get(dof)
	return ok
}

// Row returns a copy of the row of dof
func (c *DofConstraints) Row(dof int) (ConstraintRow, bool) {
	e, ok := c.get(dof)
	if !ok {
		return nil, false
	}
	return e.row.Clone(), true
}

// RHS is the primal right-hand side of dof, zero when unconstrained
func (c *DofConstraints) RHS(dof int) float64 {
	if e, ok := c.get(dof); ok {
		return e.rhs
	}
	return 0
}

// AdjointRHS is the right-hand side of dof for quantity of interest q
func (c *DofConstraints) AdjointRHS(q, dof int) (float64, bool) {
	v, ok := c.adjoint[q][dof]
	return v, ok
}

// insert stores a row unless one of higher precedence (lower priority)
// already exists, and reports whether it was stored
func (c *DofConstraints) insert(dof int, row ConstraintRow, rhs float64, priority int) bool {
	if prev, ok := c.get(dof); ok && prev.priority <= priority {
		return false
	}
	c.rows.ReplaceOrInsert(&constraintEntry{dof: dof, row: row, rhs: rhs, priority: priority})
	return true
}

// replace stores a row unconditionally
func (c *DofConstraints) replace(dof int, row ConstraintRow, rhs float64, priority int) {
	c.rows.ReplaceOrInsert(&constraintEntry{dof: dof, row: row, rhs: rhs, priority: priority})
}

func (c *DofConstraints) setAdjoint(q, dof int, rhs float64) {
	m, ok := c.adjoint[q]
	if !ok {
		m = make(map[int]float64)
		c.adjoint[q] = m
	}
	m[dof] = rhs
}

func (c *DofConstraints) remove(dof int) {
	c.rows.Delete(&constraintEntry{dof: dof})
	for _, m := range c.adjoint {
		delete(m, dof)
	}
}

// Dofs lists the constrained DOFs in increasing order
func (c *DofConstraints) Dofs() []int {
	out := make([]int, 0, c.rows.Len())
	c.rows.Ascend(func(e *constraintEntry) bool {
		out = append(out, e.dof)
		return true
	})
	return out
}

// Ascend visits every row in DOF order until fn returns false
func (c *DofConstraints) Ascend(fn func(dof int, row ConstraintRow, rhs float64) bool) {
	c.rows.Ascend(func(e *constraintEntry) bool {
		return fn(e.dof, e.row, e.rhs)
	})
}

// NHeterogeneous counts rows with a non-zero primal right-hand side
func (c *DofConstraints) NHeterogeneous() int {
	n := 0
	c.rows.Ascend(func(e *constraintEntry) bool {
		if e.rhs != 0 {
			n++
		}
		return true
	})
	return n
}

// IsConstrainedNode reports whether node id has a node constraint row
func (c *DofConstraints) IsConstrainedNode(id int) bool {
	_, ok := c.nodes[id]
	return ok
}

// NodeRow returns the node constraint row of node id
func (c *DofConstraints) NodeRow(id int) (mesh.NodeConstraintRow, bool) {
	r, ok := c.nodes[id]
	return r, ok
}

// NNodes is the number of constrained nodes
func (c *DofConstraints) NNodes() int { return len(c.nodes) }

// Clear empties the table
func (c *DofConstraints) Clear() {
	c.rows.Clear(false)
	c.adjoint = make(map[int]map[int]float64)
	c.nodes = make(map[int]mesh.NodeConstraintRow)
}
