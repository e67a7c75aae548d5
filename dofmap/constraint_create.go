package dofmap

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/notargets/dofmap/element"
	"github.com/notargets/dofmap/mesh"
)

// Weights below this are dropped from interpolated rows
const weightTolerance = 1e-12

type constraintBuilder struct {
	d     *DofMap
	table *DofConstraints
	time  float64
}

// CreateDofConstraints rebuilds the local constraint rows from the boundary
// conditions, the hanging nodes of the mesh, its node constraints and any
// adjoint conditions. Rows are created by the processor that sees the
// geometry and are moved to their owners by ProcessConstraints.
func (d *DofMap) CreateDofConstraints(ctx context.Context, time float64) error {
	_, span := d.startSpan(ctx, "CreateDofConstraints")
	defer span.End()
	if err := d.requireDistributed(); err != nil {
		return recordError(span, err)
	}

	d.constraints = NewDofConstraints()
	b := &constraintBuilder{d: d, table: d.constraints, time: time}
	for i, bc := range d.conditions {
		if err := bc.contribute(b, i); err != nil {
			return recordError(span, fmt.Errorf("%s: %w", bc, err))
		}
	}
	// Mesh-implied rows rank after every registered condition
	priority := len(d.conditions)
	b.hangingNodes(priority)
	if err := b.nodeConstraints(priority); err != nil {
		return recordError(span, err)
	}
	for q, dbs := range d.adjointDirichlet {
		for _, db := range dbs {
			if err := b.adjointDirichlet(q, db); err != nil {
				return recordError(span, fmt.Errorf("adjoint %s for qoi %d: %w", db, q, err))
			}
		}
	}

	span.SetAttributes(attribute.Int("dofmap.created_rows", d.constraints.Len()))
	d.log.Debug("created constraints", "rows", d.constraints.Len(), "time", time)
	return nil
}

// boundarySides visits the sides of local active elements on the listed boundaries
func (b *constraintBuilder) boundarySides(ids []int, fn func(e *mesh.Elem, s int) error) error {
	for _, e := range b.d.topo.ActiveLocalElements(b.d.comm.Rank()) {
		for s := 0; s < e.Type.NSides(); s++ {
			bid := e.BoundaryID(s)
			if bid == mesh.NoBoundary {
				continue
			}
			for _, id := range ids {
				if id == bid {
					if err := fn(e, s); err != nil {
						return err
					}
					break
				}
			}
		}
	}
	return nil
}

// contribute constrains the finer of each pair of periodic sides. Sides on
// Boundary are tied to their partner on PairedBoundary unless that partner
// is refined; then the fine sides on PairedBoundary are tied back to the
// coarser side through the inverse pairing.
func (pb *PeriodicBoundary) contribute(b *constraintBuilder, priority int) error {
	d := b.d
	vars := d.nodalVariables(pb.Variables)
	forward := pb.mesh()
	err := b.boundarySides([]int{pb.Boundary}, func(e *mesh.Elem, s int) error {
		nb, ns := d.topo.PeriodicNeighbor(e, s, forward)
		if nb == nil {
			return fmt.Errorf("element %d side %d has no periodic partner", e.ID(), s)
		}
		if !nb.Active() {
			return nil
		}
		b.periodicSide(e, s, nb, ns, vars, forward.Translation, priority)
		return nil
	})
	if err != nil {
		return err
	}

	inverse := forward.Inverse()
	return b.boundarySides([]int{pb.PairedBoundary}, func(e *mesh.Elem, s int) error {
		nb, ns := d.topo.PeriodicNeighbor(e, s, inverse)
		if nb == nil {
			return fmt.Errorf("element %d side %d has no periodic partner", e.ID(), s)
		}
		if !nb.Active() || nb.Level >= e.Level {
			return nil
		}
		b.periodicSide(e, s, nb, ns, vars, inverse.Translation, priority)
		return nil
	})
}

// periodicSide ties the nodal unknowns on side s of e to the interpolant of
// side ns of nb, found translation away
func (b *constraintBuilder) periodicSide(e *mesh.Elem, s int, nb *mesh.Elem, ns int,
	vars []Variable, translation mesh.Point, priority int) {
	for _, v := range vars {
		if !v.ActiveOnSubdomain(e.SubdomainID) || !v.ActiveOnSubdomain(nb.SubdomainID) {
			continue
		}
		for _, k := range e.Type.SideNodes(s) {
			if v.Type.NDofsAtNode(e.Type, k) == 0 {
				continue
			}
			n := e.Nodes[k]
			dof := n.DofNumber(v.group, v.indexInGroup, 0)
			row := b.sideInterpolation(nb, ns, v, n.Point.Add(translation), nil)
			if _, self := row[dof]; self || len(row) == 0 {
				continue
			}
			b.table.insert(dof, row, 0, priority)
		}
	}
}

// sideInterpolation expresses the value at p, a point on side s of e, in
// terms of the nodal unknowns of v on that side. It returns nil when p is
// the node skip.
func (b *constraintBuilder) sideInterpolation(e *mesh.Elem, s int, v Variable, p mesh.Point, skip *mesh.Node) ConstraintRow {
	sideNodes := e.Type.SideNodes(s)
	phi := element.SideShape(v.Type.Order, mesh.SideParameter(e, s, p))
	row := make(ConstraintRow)
	for j, w := range phi {
		if j >= len(sideNodes) {
			break
		}
		k := sideNodes[j]
		if v.Type.NDofsAtNode(e.Type, k) == 0 {
			continue
		}
		cn := e.Nodes[k]
		if cn == skip {
			return nil
		}
		if math.Abs(w) < weightTolerance {
			continue
		}
		row[cn.DofNumber(v.group, v.indexInGroup, 0)] += w
	}
	return row
}

func (db *DirichletBoundary) contribute(b *constraintBuilder, priority int) error {
	vars := b.d.nodalVariables(db.Variables)
	return b.boundarySides(db.Boundaries, func(e *mesh.Elem, s int) error {
		for _, v := range vars {
			if !v.ActiveOnSubdomain(e.SubdomainID) {
				continue
			}
			for _, k := range e.Type.SideNodes(s) {
				if v.Type.NDofsAtNode(e.Type, k) == 0 {
					continue
				}
				n := e.Nodes[k]
				dof := n.DofNumber(v.group, v.indexInGroup, 0)
				b.table.insert(dof, ConstraintRow{}, db.value(n.Point, b.time), priority)
			}
		}
		return nil
	})
}

func (uc *UserConstraint) contribute(b *constraintBuilder, priority int) error {
	for dof, row := range uc.Rows {
		if dof < 0 || dof >= b.d.nDofs {
			return fmt.Errorf("dof %d outside [0, %d): %w", dof, b.d.nDofs, ErrInvalidVariable)
		}
		if !b.d.LocalIndex(dof) {
			continue
		}
		b.table.insert(dof, row.Clone(), uc.RHS[dof], priority)
	}
	return nil
}

// hangingNodes constrains the nodes of fine sides that face a coarser active
// neighbor to the coarse side's interpolant
func (b *constraintBuilder) hangingNodes(priority int) {
	d := b.d
	vars := d.nodalVariables(nil)
	for _, e := range d.topo.ActiveLocalElements(d.comm.Rank()) {
		for s := 0; s < e.Type.NSides(); s++ {
			nb := e.Neighbor(s)
			if nb == nil || !nb.Active() || nb.Level >= e.Level {
				continue
			}
			ns := facingSide(nb, e)
			if ns < 0 {
				continue
			}
			for _, v := range vars {
				if !v.ActiveOnSubdomain(e.SubdomainID) || !v.ActiveOnSubdomain(nb.SubdomainID) {
					continue
				}
				for _, k := range e.Type.SideNodes(s) {
					if v.Type.NDofsAtNode(e.Type, k) == 0 {
						continue
					}
					n := e.Nodes[k]
					row := b.sideInterpolation(nb, ns, v, n.Point, n)
					if row == nil {
						continue
					}
					b.table.insert(n.DofNumber(v.group, v.indexInGroup, 0), row, 0, priority)
				}
			}
		}
	}
}

// facingSide finds the side of coarse whose neighbor is an ancestor of fine
func facingSide(coarse, fine *mesh.Elem) int {
	for s := 0; s < coarse.Type.NSides(); s++ {
		if nb := coarse.Neighbor(s); nb != nil && (nb == fine || nb.IsAncestorOf(fine)) {
			return s
		}
	}
	return -1
}

// nodeConstraints turns the node constraint rows of the mesh into DOF rows
// for every nodal variable
func (b *constraintBuilder) nodeConstraints(priority int) error {
	d := b.d
	rank := d.comm.Rank()
	vars := d.nodalVariables(nil)
	for id, nrow := range d.topo.NodeConstraintRows() {
		b.table.nodes[id] = nrow
		n := d.topo.Node(id)
		if n.ProcessorID() != rank {
			continue
		}
		for _, v := range vars {
			dof := n.DofNumber(v.group, v.indexInGroup, 0)
			if dof == mesh.InvalidID {
				continue
			}
			row := make(ConstraintRow, len(nrow.Sources))
			for src, c := range nrow.Sources {
				sd := d.topo.Node(src).DofNumber(v.group, v.indexInGroup, 0)
				if sd == mesh.InvalidID {
					return fmt.Errorf("node %d constrained to node %d carrying no %s: %w",
						id, src, v.Name, ErrInconsistentDofs)
				}
				row[sd] += c
			}
			b.table.insert(dof, row, 0, priority)
		}
	}
	return nil
}

// adjointDirichlet records adjoint values on DOFs already constrained by a
// primal condition
func (b *constraintBuilder) adjointDirichlet(q int, db *DirichletBoundary) error {
	vars := b.d.nodalVariables(db.Variables)
	return b.boundarySides(db.Boundaries, func(e *mesh.Elem, s int) error {
		for _, v := range vars {
			if !v.ActiveOnSubdomain(e.SubdomainID) {
				continue
			}
			for _, k := range e.Type.SideNodes(s) {
				if v.Type.NDofsAtNode(e.Type, k) == 0 {
					continue
				}
				n := e.Nodes[k]
				dof := n.DofNumber(v.group, v.indexInGroup, 0)
				if !b.table.IsConstrained(dof) {
					return fmt.Errorf("dof %d has no primal constraint: %w", dof, ErrNotFound)
				}
				b.table.setAdjoint(q, dof, db.value(n.Point, b.time))
			}
		}
		return nil
	})
}
