package ghosting

import "github.com/notargets/dofmap/mesh"

// DefaultCoupling returns the active elements within NLevels face-neighbor
// hops of each input element, plus their periodic neighbors. With NLevels 0
// only the elements themselves (and periodic partners) are returned.
type DefaultCoupling struct {
	topo     mesh.Topology
	nLevels  int
	coupling *CouplingMatrix
	periodic []mesh.PeriodicBoundary
}

// NewDefaultCoupling creates a functor over topo with the given depth
func NewDefaultCoupling(topo mesh.Topology, nLevels int) *DefaultCoupling {
	return &DefaultCoupling{topo: topo, nLevels: nLevels}
}

// NLevels is the neighbor depth
func (d *DefaultCoupling) NLevels() int { return d.nLevels }

// SetNLevels changes the neighbor depth
func (d *DefaultCoupling) SetNLevels(n int) { d.nLevels = n }

// SetCouplingMatrix restricts every returned element to c; nil couples all
func (d *DefaultCoupling) SetCouplingMatrix(c *CouplingMatrix) { d.coupling = c.Clone() }

// CouplingMatrix returns the restriction applied to returned elements
func (d *DefaultCoupling) CouplingMatrix() *CouplingMatrix { return d.coupling }

// AddPeriodicBoundary makes elements across pb (and its inverse) neighbors
func (d *DefaultCoupling) AddPeriodicBoundary(pb mesh.PeriodicBoundary) {
	d.periodic = append(d.periodic, pb, pb.Inverse())
}

// Compute implements Functor
func (d *DefaultCoupling) Compute(pid int, elems []*mesh.Elem) Map {
	out := make(Map)
	add := func(e *mesh.Elem) {
		if pid == AnyProcessor || e.ProcessorID() != pid {
			out[e] = d.coupling.Clone()
		}
	}

	visited := make(map[*mesh.Elem]bool)
	frontier := make([]*mesh.Elem, 0, len(elems))
	for _, e := range elems {
		if !visited[e] {
			visited[e] = true
			frontier = append(frontier, e)
			add(e)
		}
	}
	for _, e := range frontier {
		for _, p := range d.periodicNeighbors(e) {
			if !visited[p] {
				visited[p] = true
				add(p)
			}
		}
	}
	for level := 0; level < d.nLevels; level++ {
		var next []*mesh.Elem
		for _, e := range frontier {
			for s := 0; s < e.Type.NSides(); s++ {
				for _, nb := range d.neighbors(e, s) {
					if !visited[nb] {
						visited[nb] = true
						next = append(next, nb)
						add(nb)
					}
				}
			}
		}
		frontier = next
	}
	return out
}

func (d *DefaultCoupling) neighbors(e *mesh.Elem, s int) []*mesh.Elem {
	nbs := d.topo.ActiveNeighborsAcross(e, s)
	for _, pb := range d.periodic {
		if e.BoundaryID(s) == pb.Boundary {
			nbs = append(nbs, d.topo.ActivePeriodicNeighbors(e, s, pb)...)
		}
	}
	return nbs
}

func (d *DefaultCoupling) periodicNeighbors(e *mesh.Elem) []*mesh.Elem {
	var out []*mesh.Elem
	for s := 0; s < e.Type.NSides(); s++ {
		for _, pb := range d.periodic {
			if e.BoundaryID(s) == pb.Boundary {
				out = append(out, d.topo.ActivePeriodicNeighbors(e, s, pb)...)
			}
		}
	}
	return out
}
