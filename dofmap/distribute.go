package dofmap

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/notargets/dofmap/element"
	"github.com/notargets/dofmap/mesh"
	"github.com/notargets/dofmap/parallel"
)

// objectKey names a DOF object the same way on every processor
type objectKey struct {
	Elem bool
	ID   int
}

// Distribute numbers every unknown. Each processor numbers the objects it
// owns contiguously, the ranges are stacked in processor order, SCALAR
// unknowns go at the end of the last processor, and every processor then
// learns the numbering of the objects it does not own. It is collective.
func (d *DofMap) Distribute(ctx context.Context) error {
	ctx, span := d.startSpan(ctx, "Distribute",
		attribute.Bool("dofmap.node_major", d.opts.NodeMajorDofs))
	defer span.End()

	rank, size := d.comm.Rank(), d.comm.Size()
	d.updateDefaultFunctors()

	// Keep the previous numbering
	nvars := make([]int, len(d.groups))
	for vg, g := range d.groups {
		nvars[vg] = g.NVariables()
	}
	for _, n := range d.topo.Nodes() {
		n.SaveOldDofs()
		n.SetNVariableGroups(nvars)
	}
	for _, e := range d.topo.Elements() {
		e.SaveOldDofs()
		e.SetNVariableGroups(nvars)
	}
	d.firstOldDof, d.endOldDof, d.nOldDofs = d.firstDof, d.endDof, d.nDofs

	// Size every slot from the active elements touching it
	for _, e := range d.topo.ActiveElements() {
		for vg, g := range d.groups {
			if g.Type.Family == element.Scalar || !g.ActiveOnSubdomain(e.SubdomainID) {
				continue
			}
			if err := g.Type.Supports(e.Type); err != nil {
				return recordError(span, fmt.Errorf("variable group %v on element %d: %w: %v",
					g.Names, e.ID(), ErrInvalidVariable, err))
			}
			if nc := g.Type.NDofsPerElem(e.Type); nc > 0 {
				e.SetNComp(vg, nc)
			}
			for i, n := range e.Nodes {
				if nc := g.Type.NDofsAtNode(e.Type, i); nc > n.NComp(vg) {
					n.SetNComp(vg, nc)
				}
			}
		}
	}

	local := d.topo.ActiveLocalElements(rank)
	owned := d.ownedObjects(local)
	var next int
	if d.opts.NodeMajorDofs {
		next = d.numberNodeMajor(owned)
	} else {
		next = d.numberVarMajor(owned)
	}

	d.nSCALAR = 0
	for _, v := range d.vars {
		if v.Type.Family == element.Scalar {
			d.nSCALAR += v.Type.Order
		}
	}
	if rank == size-1 {
		next += d.nSCALAR
	}

	offset, err := parallel.ExclusiveScan(ctx, d.comm, next)
	if err != nil {
		return recordError(span, fmt.Errorf("scanning dof counts: %w", err))
	}
	ends, err := parallel.AllGather(ctx, d.comm, offset+next)
	if err != nil {
		return recordError(span, fmt.Errorf("gathering dof ranges: %w", err))
	}
	d.firstDof = make([]int, size)
	d.endDof = ends
	for p := 1; p < size; p++ {
		d.firstDof[p] = ends[p-1]
	}
	d.nDofs = ends[size-1]

	// Shift the owned numbering into this processor's range
	for _, o := range owned {
		for vg := range d.groups {
			if b := o.Base(vg); b != mesh.InvalidID {
				o.SetBase(vg, b+offset)
			}
		}
	}

	if err := d.setNonlocalDofObjects(ctx); err != nil {
		return recordError(span, err)
	}
	d.distributed = true

	span.SetAttributes(attribute.Int("dofmap.n_dofs", d.nDofs),
		attribute.Int("dofmap.n_local_dofs", d.NLocalDofs()))
	d.log.Debug("distributed dofs", "n_dofs", d.nDofs,
		"first", d.FirstDof(), "end", d.EndDof(), "scalar", d.nSCALAR)
	return nil
}

// ownedObjects lists the owned DOF objects of the local elements in
// traversal order: each element's owned nodes first, then the element
func (d *DofMap) ownedObjects(local []*mesh.Elem) []*mesh.DofObject {
	rank := d.comm.Rank()
	seen := make(map[*mesh.Node]bool)
	var out []*mesh.DofObject
	for _, e := range local {
		for _, n := range e.Nodes {
			if n.ProcessorID() == rank && !seen[n] {
				seen[n] = true
				out = append(out, &n.DofObject)
			}
		}
		out = append(out, &e.DofObject)
	}
	return out
}

// numberNodeMajor gives each object all its groups' unknowns consecutively
func (d *DofMap) numberNodeMajor(owned []*mesh.DofObject) int {
	next := 0
	for _, o := range owned {
		for vg := range d.groups {
			if o.HasDofs(vg) {
				o.SetBase(vg, next)
				s := o.Slot(vg)
				next += s.NVars * s.NComp
			}
		}
	}
	return next
}

// numberVarMajor sweeps the objects once per group
func (d *DofMap) numberVarMajor(owned []*mesh.DofObject) int {
	next := 0
	for vg := range d.groups {
		for _, o := range owned {
			if o.HasDofs(vg) {
				o.SetBase(vg, next)
				s := o.Slot(vg)
				next += s.NVars * s.NComp
			}
		}
	}
	return next
}

// setNonlocalDofObjects asks the owner of every non-owned object holding
// unknowns for its slots
func (d *DofMap) setNonlocalDofObjects(ctx context.Context) error {
	rank := d.comm.Rank()
	objects := make(map[objectKey]*mesh.DofObject)
	queries := make(map[int][]objectKey)
	add := func(key objectKey, o *mesh.DofObject) {
		objects[key] = o
		pid := o.ProcessorID()
		if pid == rank || pid == mesh.InvalidID || o.NDofs() == 0 {
			return
		}
		queries[pid] = append(queries[pid], key)
	}
	for _, n := range d.topo.Nodes() {
		add(objectKey{ID: n.ID()}, &n.DofObject)
	}
	for _, e := range d.topo.Elements() {
		add(objectKey{Elem: true, ID: e.ID()}, &e.DofObject)
	}

	answers, err := parallel.Pull(ctx, d.comm, queries,
		func(from int, keys []objectKey) ([][]mesh.Slot, error) {
			out := make([][]mesh.Slot, len(keys))
			for i, k := range keys {
				o, ok := objects[k]
				if !ok {
					return nil, fmt.Errorf("rank %d asked for unknown object %+v: %w", from, k, ErrInconsistentDofs)
				}
				out[i] = o.Slots()
			}
			return out, nil
		})
	if err != nil {
		return fmt.Errorf("fetching nonlocal dof numbering: %w", err)
	}
	for pid, slots := range answers {
		keys := queries[pid]
		for i, remote := range slots {
			o := objects[keys[i]]
			mine := o.Slots()
			if len(remote) != len(mine) {
				return fmt.Errorf("object %+v: %d groups here, %d on owner %d: %w",
					keys[i], len(mine), len(remote), pid, ErrInconsistentDofs)
			}
			for vg, s := range remote {
				if s.NVars != mine[vg].NVars || s.NComp != mine[vg].NComp {
					return fmt.Errorf("object %+v group %d: layout %+v here, %+v on owner %d: %w",
						keys[i], vg, mine[vg], s, pid, ErrInconsistentDofs)
				}
				o.SetBase(vg, s.Base)
			}
		}
	}
	return nil
}

// checkNumbering verifies the DOF ranges tile [0, NDofs) and that every
// owned unknown lies in the local range
func (d *DofMap) checkNumbering() error {
	if err := d.requireDistributed(); err != nil {
		return err
	}
	if !slices.IsSorted(d.endDof) || d.endDof[len(d.endDof)-1] != d.nDofs {
		return fmt.Errorf("ranges %v..%v do not tile %d dofs: %w", d.firstDof, d.endDof, d.nDofs, ErrInconsistentDofs)
	}
	rank := d.comm.Rank()
	for _, e := range d.topo.ActiveLocalElements(rank) {
		for _, dof := range d.DofIndices(e) {
			if dof == mesh.InvalidID || dof < 0 || dof >= d.nDofs {
				return fmt.Errorf("element %d has dof %d: %w", e.ID(), dof, ErrInconsistentDofs)
			}
		}
	}
	return nil
}
