package mesh

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/notargets/dofmap/element"
)

// childBoxes is the reference sub-box [r0,r1,s0,s1] of each child
var childBoxes = map[int][][4]float64{
	1: {{-1, 0, 0, 0}, {0, 1, 0, 0}},
	2: {{-1, 0, -1, 0}, {0, 1, -1, 0}, {0, 1, 0, 1}, {-1, 0, 0, 1}},
}

// Refine splits an active element isotropically. Children inherit the
// parent's processor, subdomain and outer boundary ids; nodes on the parent's
// sides are shared with any neighbor that already has them.
func (m *Mesh) Refine(e *Elem) error {
	if !e.Active() {
		return fmt.Errorf("element %d is already refined", e.id)
	}
	nv := e.Type.Properties().NVp
	verts := make([]Point, nv)
	for i, n := range e.Nodes[:nv] {
		verts[i] = n.Point
	}
	for c, box := range childBoxes[e.Type.Dim()] {
		child := m.addElem(e.Type, m.referenceNodes(e.Type, verts, box[0], box[1], box[2], box[3]))
		child.Parent = e
		child.which = c
		child.Level = e.Level + 1
		child.SubdomainID = e.SubdomainID
		child.processorID = e.processorID
		for _, s := range e.Type.ChildOuterSides(c) {
			child.boundary[s] = e.boundary[s]
		}
		e.Children = append(e.Children, child)
	}
	m.updateOwnership()
	m.FindNeighbors()
	return nil
}

// sideKey identifies a side by its sorted vertex node IDs
func sideKey(e *Elem, s int) string {
	var ids []int
	for _, k := range e.Type.SideNodes(s) {
		if e.Type.Kind(k) == element.VertexNode {
			ids = append(ids, e.Nodes[k].id)
		}
	}
	sort.Ints(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, "-")
}

// FindNeighbors links every side to the element across it at the same
// level, falling back to the parent's neighbor for sides with no same-level
// partner
func (m *Mesh) FindNeighbors() {
	type sideRef struct {
		e *Elem
		s int
	}
	byKey := make(map[string][]sideRef)
	for _, e := range m.elems {
		for s := range e.neighbors {
			e.neighbors[s] = nil
			key := sideKey(e, s)
			byKey[key] = append(byKey[key], sideRef{e, s})
		}
	}
	for _, refs := range byKey {
		for i, a := range refs {
			for _, b := range refs[i+1:] {
				if a.e.Level != b.e.Level || a.e.IsAncestorOf(b.e) || b.e.IsAncestorOf(a.e) {
					continue
				}
				a.e.neighbors[a.s] = b.e
				b.e.neighbors[b.s] = a.e
			}
		}
	}
	// Parents precede their children in m.elems
	for _, e := range m.elems {
		if e.Parent == nil {
			continue
		}
		for _, s := range e.Type.ChildOuterSides(e.which) {
			if e.neighbors[s] == nil {
				e.neighbors[s] = e.Parent.neighbors[s]
			}
		}
	}
}

// ActiveNeighborsAcross returns the active elements sharing side s of e
func (m *Mesh) ActiveNeighborsAcross(e *Elem, s int) []*Elem {
	nb := e.neighbors[s]
	if nb == nil {
		return nil
	}
	if nb.Active() {
		return []*Elem{nb}
	}
	var out []*Elem
	stack := append([]*Elem(nil), nb.Children...)
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !touches(c, e) {
			continue
		}
		if c.Active() {
			out = append(out, c)
		} else {
			stack = append(stack, c.Children...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func touches(c, e *Elem) bool {
	for _, nb := range c.neighbors {
		if nb == e {
			return true
		}
	}
	return false
}

// PeriodicNeighbor returns the element, and its side, across side s of e
// when s lies on pb.Boundary. The neighbor is at the same or a coarser level.
func (m *Mesh) PeriodicNeighbor(e *Elem, s int, pb PeriodicBoundary) (*Elem, int) {
	if e.boundary[s] != pb.Boundary {
		return nil, InvalidID
	}
	target := translatedSide(e, s, pb.Translation)
	var best *Elem
	bestSide := InvalidID
	for _, o := range m.elems {
		if o.Level > e.Level || (best != nil && o.Level <= best.Level) {
			continue
		}
		for s2, b := range o.boundary {
			if b == pb.PairedBoundary && sideContains(o, s2, target) {
				best, bestSide = o, s2
				break
			}
		}
	}
	return best, bestSide
}

// ActivePeriodicNeighbors returns the active elements across side s of e
// through the periodic boundary pb
func (m *Mesh) ActivePeriodicNeighbors(e *Elem, s int, pb PeriodicBoundary) []*Elem {
	nb, _ := m.PeriodicNeighbor(e, s, pb)
	if nb == nil {
		return nil
	}
	if nb.Active() {
		return []*Elem{nb}
	}
	target := translatedSide(e, s, pb.Translation)
	var out []*Elem
	stack := append([]*Elem(nil), nb.Children...)
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		onSide := false
		for s2, b := range c.boundary {
			if b == pb.PairedBoundary && segmentContains(target, sideVertices(c, s2)) {
				onSide = true
				break
			}
		}
		if !onSide {
			continue
		}
		if c.Active() {
			out = append(out, c)
		} else {
			stack = append(stack, c.Children...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func sideVertices(e *Elem, s int) []Point {
	var pts []Point
	for _, k := range e.Type.SideNodes(s) {
		if e.Type.Kind(k) == element.VertexNode {
			pts = append(pts, e.Nodes[k].Point)
		}
	}
	return pts
}

func translatedSide(e *Elem, s int, shift Point) []Point {
	pts := sideVertices(e, s)
	for i := range pts {
		pts[i] = pts[i].Add(shift)
	}
	return pts
}

// sideContains reports whether every point lies on side s of e
func sideContains(e *Elem, s int, pts []Point) bool {
	return segmentContains(sideVertices(e, s), pts)
}

// segmentContains reports whether every point lies on the segment seg, which
// degenerates to a single point in 1D
func segmentContains(seg []Point, pts []Point) bool {
	if len(seg) == 1 {
		for _, p := range pts {
			if !p.near(seg[0]) {
				return false
			}
		}
		return true
	}
	a, b := seg[0], seg[1]
	ab := b.Sub(a)
	length2 := ab.Dot(ab)
	for _, p := range pts {
		ap := p.Sub(a)
		t := ap.Dot(ab) / length2
		cross := ab.X*ap.Y - ab.Y*ap.X
		if math.Abs(cross) > 1e-9*length2 || t < -1e-9 || t > 1+1e-9 {
			return false
		}
	}
	return true
}

// SideParameter returns the coordinate in [-1,1] of p along side s of e,
// measured from the side's first vertex
func SideParameter(e *Elem, s int, p Point) float64 {
	seg := sideVertices(e, s)
	if len(seg) == 1 {
		return -1
	}
	ab := seg[1].Sub(seg[0])
	return 2*p.Sub(seg[0]).Dot(ab)/ab.Dot(ab) - 1
}
