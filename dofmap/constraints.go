package dofmap

import (
	"context"
	"fmt"

	"github.com/notargets/dofmap/mesh"
	"github.com/notargets/dofmap/parallel"
)

// userPriority ranks directly added rows ahead of every boundary condition
const userPriority = -1

// AddConstraintRow constrains dof to row with right-hand side rhs. An
// existing row is an error unless forced.
func (d *DofMap) AddConstraintRow(dof int, row ConstraintRow, rhs float64, force bool) error {
	if err := d.checkRow(dof, row); err != nil {
		return err
	}
	if !force && d.constraints.IsConstrained(dof) {
		return fmt.Errorf("dof %d: %w", dof, ErrConstraintOverwrite)
	}
	d.constraints.remove(dof)
	d.constraints.replace(dof, row.Clone(), rhs, userPriority)
	return nil
}

// AddAdjointConstraintRow sets the row of dof together with its adjoint
// right-hand side for quantity of interest q
func (d *DofMap) AddAdjointConstraintRow(q, dof int, row ConstraintRow, rhs float64, force bool) error {
	if q < 0 {
		return fmt.Errorf("adjoint qoi %d: %w", q, ErrInvalidVariable)
	}
	if err := d.checkRow(dof, row); err != nil {
		return err
	}
	if e, ok := d.constraints.get(dof); ok {
		if !force {
			if _, has := d.constraints.AdjointRHS(q, dof); has {
				return fmt.Errorf("adjoint row of dof %d for qoi %d: %w", dof, q, ErrConstraintOverwrite)
			}
		}
		e.row = row.Clone()
	} else {
		d.constraints.replace(dof, row.Clone(), 0, userPriority)
	}
	d.constraints.setAdjoint(q, dof, rhs)
	return nil
}

func (d *DofMap) checkRow(dof int, row ConstraintRow) error {
	if d.distributed && (dof < 0 || dof >= d.nDofs) {
		return fmt.Errorf("dof %d outside [0, %d): %w", dof, d.nDofs, ErrInvalidVariable)
	}
	if _, self := row[dof]; self {
		return fmt.Errorf("dof %d constrained in terms of itself: %w", dof, ErrConstraintLoop)
	}
	return nil
}

// IsConstrainedDof reports whether dof has a row known here
func (d *DofMap) IsConstrainedDof(dof int) bool { return d.constraints.IsConstrained(dof) }

// ConstraintRow returns a copy of the row of dof
func (d *DofMap) ConstraintRow(dof int) (ConstraintRow, bool) { return d.constraints.Row(dof) }

// ConstraintRHS is the right-hand side of dof for quantity of interest q, or
// the primal one for Primal. Missing values are zero.
func (d *DofMap) ConstraintRHS(dof, q int) float64 {
	if q == Primal {
		return d.constraints.RHS(dof)
	}
	v, _ := d.constraints.AdjointRHS(q, dof)
	return v
}

// HasHeterogeneousAdjointConstraints reports whether q has any non-zero adjoint value
func (d *DofMap) HasHeterogeneousAdjointConstraints(q int) bool {
	for _, v := range d.constraints.adjoint[q] {
		if v != 0 {
			return true
		}
	}
	return false
}

// HeterogeneousAdjointConstraint is the adjoint value of dof for q, if one
// was set
func (d *DofMap) HeterogeneousAdjointConstraint(q, dof int) (float64, bool) {
	return d.constraints.AdjointRHS(q, dof)
}

// PrimalConstraintValues maps every known constrained dof with a non-zero
// primal right-hand side to that value
func (d *DofMap) PrimalConstraintValues() map[int]float64 {
	out := make(map[int]float64)
	d.constraints.Ascend(func(dof int, _ ConstraintRow, rhs float64) bool {
		if rhs != 0 {
			out[dof] = rhs
		}
		return true
	})
	return out
}

// ConstraintSources lists the sources of a known constrained dof
func (d *DofMap) ConstraintSources(dof int) ([]int, bool) {
	e, ok := d.constraints.get(dof)
	if !ok {
		return nil, false
	}
	return e.row.Sources(), true
}

// KnownConstrainedDofs lists every DOF with a row known here
func (d *DofMap) KnownConstrainedDofs() []int { return d.constraints.Dofs() }

// NLocalConstrainedDofs counts owned constrained DOFs
func (d *DofMap) NLocalConstrainedDofs() int {
	n := 0
	for _, dof := range d.constraints.Dofs() {
		if d.LocalIndex(dof) {
			n++
		}
	}
	return n
}

// NConstrainedDofs counts constrained DOFs over all processors. It is collective.
func (d *DofMap) NConstrainedDofs(ctx context.Context) (int, error) {
	return parallel.SumInt(ctx, d.comm, d.NLocalConstrainedDofs())
}

// Constraints exposes the active table
func (d *DofMap) Constraints() *DofConstraints { return d.constraints }

// IsConstrainedNode reports whether n has a node constraint row
func (d *DofMap) IsConstrainedNode(n *mesh.Node) bool {
	return d.constraints.IsConstrainedNode(n.ID())
}

// NConstrainedNodes counts the node constraint rows
func (d *DofMap) NConstrainedNodes() int { return d.constraints.NNodes() }

// NodeConstraintRow returns the node constraint row of n
func (d *DofMap) NodeConstraintRow(n *mesh.Node) (mesh.NodeConstraintRow, bool) {
	return d.constraints.NodeRow(n.ID())
}

// StashDofConstraints sets the active constraints aside, leaving none active
func (d *DofMap) StashDofConstraints() error {
	if d.stash != nil && !d.stash.Empty() {
		return fmt.Errorf("stashing: %w", ErrStashNotEmpty)
	}
	d.stash, d.constraints = d.constraints, NewDofConstraints()
	return nil
}

// UnstashDofConstraints restores stashed constraints; the active set must be empty
func (d *DofMap) UnstashDofConstraints() error {
	if !d.constraints.Empty() {
		return fmt.Errorf("unstashing over %d active rows: %w", d.constraints.Len(), ErrStashNotEmpty)
	}
	if d.stash == nil {
		d.stash = NewDofConstraints()
	}
	d.constraints, d.stash = d.stash, nil
	return nil
}

// SwapDofConstraints exchanges the active and stashed constraints
func (d *DofMap) SwapDofConstraints() {
	if d.stash == nil {
		d.stash = NewDofConstraints()
	}
	d.constraints, d.stash = d.stash, d.constraints
}
