// Package mesh is an in-memory replicated mesh of lines and quadrilaterals
// with isotropic h-refinement. It stores DOF indices on its nodes and
// elements and answers the topology queries the DOF map needs.
package mesh

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/notargets/dofmap/element"
	"github.com/notargets/dofmap/partitions"
)

// NoBoundary marks a side without a boundary id
const NoBoundary = -1

// Point is a location in the plane; 1D meshes leave Y at zero
type Point struct {
	X, Y float64
}

func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) Scale(a float64) Point { return Point{a * p.X, a * p.Y} }
func (p Point) Dot(q Point) float64 { return p.X*q.X + p.Y*q.Y }
func (p Point) Dist(q Point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }
func (p Point) String() string { return fmt.Sprintf("(%g, %g)", p.X, p.Y) }
func (p Point) key() pointKey { return pointKey{round(p.X), round(p.Y)} }
func round(v float64) int64 { return int64(math.Round(v * 1e9)) }
func (p Point) near(q Point) bool { return p.key() == q.key() }
func lerp(a, b Point, t float64) Point { return a.Add(b.Sub(a).Scale(t)) }

type pointKey struct{ x, y int64 }

// Node is a mesh vertex or higher order geometric node
type Node struct {
	DofObject
	Point Point
}

// Elem is a mesh element. Inactive elements are refined parents.
type Elem struct {
	DofObject
	Type        element.Type
	Nodes       []*Node
	Parent      *Elem
	Children    []*Elem
	Level       int
	SubdomainID int

	which     int // Position among the parent's children
	neighbors []*Elem
	boundary  []int
}

// Active reports whether the element is a leaf of the refinement tree
func (e *Elem) Active() bool { return len(e.Children) == 0 }

// Neighbor is the element across side s at the same or a coarser level, or nil
func (e *Elem) Neighbor(s int) *Elem { return e.neighbors[s] }

// BoundaryID is the boundary id of side s, or NoBoundary
func (e *Elem) BoundaryID(s int) int { return e.boundary[s] }

// SideNodes returns the nodes on side s, vertices first
func (e *Elem) SideNodes(s int) []*Node {
	idx := e.Type.SideNodes(s)
	nodes := make([]*Node, len(idx))
	for i, k := range idx {
		nodes[i] = e.Nodes[k]
	}
	return nodes
}

// Centroid is the mean of the vertices
func (e *Elem) Centroid() Point {
	var c Point
	nv := e.Type.Properties().NVp
	for _, n := range e.Nodes[:nv] {
		c = c.Add(n.Point)
	}
	return c.Scale(1 / float64(nv))
}

// IsAncestorOf reports whether e is o or one of o's ancestors
func (e *Elem) IsAncestorOf(o *Elem) bool {
	for p := o; p != nil; p = p.Parent {
		if p == e {
			return true
		}
	}
	return false
}

// NodeConstraintRow expresses a node as a combination of other nodes
type NodeConstraintRow struct {
	Sources map[int]float64 // Source node ID -> coefficient
	Point   Point           // Reference location of the constrained node
}

// PeriodicBoundary pairs two boundaries related by a translation
type PeriodicBoundary struct {
	Boundary       int
	PairedBoundary int
	Translation    Point // Maps a point on Boundary onto PairedBoundary
}

// Inverse maps the paired boundary back
func (pb PeriodicBoundary) Inverse() PeriodicBoundary {
	return PeriodicBoundary{
		Boundary:       pb.PairedBoundary,
		PairedBoundary: pb.Boundary,
		Translation:    pb.Translation.Scale(-1),
	}
}

// Topology is the view of the mesh the DOF map consumes
type Topology interface {
	Dim() int
	NProcessors() int
	Nodes() []*Node
	Elements() []*Elem
	Node(id int) *Node
	Elem(id int) *Elem
	ActiveElements() []*Elem
	ActiveLocalElements(pid int) []*Elem
	ActiveNeighborsAcross(e *Elem, side int) []*Elem
	ActivePeriodicNeighbors(e *Elem, side int, pb PeriodicBoundary) []*Elem
	PeriodicNeighbor(e *Elem, side int, pb PeriodicBoundary) (*Elem, int)
	BoundaryIDs() []int
	NodeConstraintRows() map[int]NodeConstraintRow
}

// Mesh is a replicated mesh: every processor holds every element
type Mesh struct {
	dim             int
	nodes           []*Node
	elems           []*Elem
	pointIndex      map[pointKey]*Node
	nodeConstraints map[int]NodeConstraintRow
	nprocs          int
	balance         partitions.PartitionStats
}

var _ Topology = (*Mesh)(nil)

func newMesh(dim int) *Mesh {
	return &Mesh{
		dim:             dim,
		pointIndex:      make(map[pointKey]*Node),
		nodeConstraints: make(map[int]NodeConstraintRow),
		nprocs:          1,
	}
}

// BuildLine meshes [x0, x1] with n elements of type Edge2 or Edge3. The left
// end has boundary id 0 and the right end boundary id 1.
func BuildLine(n int, x0, x1 float64, t element.Type) (*Mesh, error) {
	if n < 1 {
		return nil, fmt.Errorf("invalid element count %d", n)
	}
	if t.Dim() != 1 {
		return nil, fmt.Errorf("BuildLine needs a 1D element type, got %s", t)
	}
	m := newMesh(1)
	h := (x1 - x0) / float64(n)
	for k := 0; k < n; k++ {
		a, b := Point{X: x0 + float64(k)*h}, Point{X: x0 + float64(k+1)*h}
		e := m.addElem(t, m.referenceNodes(t, []Point{a, b}, -1, 1, 0, 0))
		if k == 0 {
			e.boundary[0] = 0
		}
		if k == n-1 {
			e.boundary[1] = 1
		}
	}
	m.assignAll(0)
	m.FindNeighbors()
	return m, nil
}

// BuildSquare meshes the rectangle [lo, hi] with nx by ny elements of type
// Quad4 or Quad9. Boundary ids are 0 bottom, 1 right, 2 top, 3 left.
func BuildSquare(nx, ny int, lo, hi Point, t element.Type) (*Mesh, error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("invalid element counts %d x %d", nx, ny)
	}
	if t.Dim() != 2 {
		return nil, fmt.Errorf("BuildSquare needs a 2D element type, got %s", t)
	}
	m := newMesh(2)
	dx, dy := (hi.X-lo.X)/float64(nx), (hi.Y-lo.Y)/float64(ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			x, y := lo.X+float64(i)*dx, lo.Y+float64(j)*dy
			verts := []Point{{x, y}, {x + dx, y}, {x + dx, y + dy}, {x, y + dy}}
			e := m.addElem(t, m.referenceNodes(t, verts, -1, 1, -1, 1))
			if j == 0 {
				e.boundary[0] = 0
			}
			if i == nx-1 {
				e.boundary[1] = 1
			}
			if j == ny-1 {
				e.boundary[2] = 2
			}
			if i == 0 {
				e.boundary[3] = 3
			}
		}
	}
	m.assignAll(0)
	m.FindNeighbors()
	return m, nil
}

// referenceNodes finds or creates the nodes of an element of type t covering
// the reference box [r0,r1]x[s0,s1] of the element with the given vertices
func (m *Mesh) referenceNodes(t element.Type, verts []Point, r0, r1, s0, s1 float64) []*Node {
	g := t.Geometry()
	nodes := make([]*Node, t.Np())
	for i := range nodes {
		r := r0 + (g.R[i]+1)/2*(r1-r0)
		if t.Dim() == 1 {
			nodes[i] = m.nodeAt(lerp(verts[0], verts[1], (r+1)/2))
			continue
		}
		s := s0 + (g.S[i]+1)/2*(s1-s0)
		nodes[i] = m.nodeAt(bilinear(verts, r, s))
	}
	return nodes
}

func bilinear(v []Point, r, s float64) Point {
	a, b := (1-r)/2, (1+r)/2
	c, d := (1-s)/2, (1+s)/2
	return v[0].Scale(a * c).Add(v[1].Scale(b * c)).Add(v[2].Scale(b * d)).Add(v[3].Scale(a * d))
}

// nodeAt returns the node at p, creating it on first use
func (m *Mesh) nodeAt(p Point) *Node {
	if n, ok := m.pointIndex[p.key()]; ok {
		return n
	}
	n := &Node{DofObject: newDofObject(len(m.nodes)), Point: p}
	m.nodes = append(m.nodes, n)
	m.pointIndex[p.key()] = n
	return n
}

func (m *Mesh) addElem(t element.Type, nodes []*Node) *Elem {
	e := &Elem{
		DofObject: newDofObject(len(m.elems)),
		Type:      t,
		Nodes:     nodes,
		neighbors: make([]*Elem, t.NSides()),
		boundary:  make([]int, t.NSides()),
	}
	for s := range e.boundary {
		e.boundary[s] = NoBoundary
	}
	m.elems = append(m.elems, e)
	return e
}

// Dim is the spatial dimension
func (m *Mesh) Dim() int { return m.dim }

// NProcessors is the number of partitions
func (m *Mesh) NProcessors() int { return m.nprocs }

// PartitionStats is the load balance of the last Partition
func (m *Mesh) PartitionStats() partitions.PartitionStats { return m.balance }

// Nodes returns every node, indexed by ID
func (m *Mesh) Nodes() []*Node { return m.nodes }

// Elements returns every element, active or not, indexed by ID
func (m *Mesh) Elements() []*Elem { return m.elems }

// Node returns the node with the given ID
func (m *Mesh) Node(id int) *Node { return m.nodes[id] }

// Elem returns the element with the given ID
func (m *Mesh) Elem(id int) *Elem { return m.elems[id] }

// ActiveElements returns the leaves, ordered by ID
func (m *Mesh) ActiveElements() []*Elem {
	var out []*Elem
	for _, e := range m.elems {
		if e.Active() {
			out = append(out, e)
		}
	}
	return out
}

// ActiveLocalElements returns the leaves owned by pid, ordered by ID
func (m *Mesh) ActiveLocalElements(pid int) []*Elem {
	var out []*Elem
	for _, e := range m.elems {
		if e.Active() && e.processorID == pid {
			out = append(out, e)
		}
	}
	return out
}

// BoundaryIDs returns the distinct boundary ids, ascending
func (m *Mesh) BoundaryIDs() []int {
	seen := make(map[int]bool)
	for _, e := range m.elems {
		for _, b := range e.boundary {
			if b != NoBoundary {
				seen[b] = true
			}
		}
	}
	ids := make([]int, 0, len(seen))
	for b := range seen {
		ids = append(ids, b)
	}
	sort.Ints(ids)
	return ids
}

// AddNodeConstraint registers a geometric constraint on a node
func (m *Mesh) AddNodeConstraint(node int, row NodeConstraintRow) error {
	if node < 0 || node >= len(m.nodes) {
		return fmt.Errorf("constrained node %d out of range", node)
	}
	for src := range row.Sources {
		if src < 0 || src >= len(m.nodes) {
			return fmt.Errorf("node %d: source node %d out of range", node, src)
		}
		if src == node {
			return fmt.Errorf("node %d constrained in terms of itself", node)
		}
	}
	m.nodeConstraints[node] = row
	return nil
}

// NodeConstraintRows returns the node constraints keyed by node ID
func (m *Mesh) NodeConstraintRows() map[int]NodeConstraintRow {
	return m.nodeConstraints
}

// Partition assigns active elements to nparts processors and derives node
// ownership: a node belongs to the lowest processor among its active elements
func (m *Mesh) Partition(nparts int, strategy partitions.PartitionStrategy) error {
	active := m.ActiveElements()
	position := make(map[*Elem]int, len(active))
	for i, e := range active {
		position[e] = i
	}
	mc := &partitions.MeshConnectivity{
		NumElements:  len(active),
		ElementTypes: make([]element.Type, len(active)),
		Centroids:    make([][2]float64, len(active)),
		EToE:         make([][]int, len(active)),
	}
	for i, e := range active {
		mc.ElementTypes[i] = e.Type
		c := e.Centroid()
		mc.Centroids[i] = [2]float64{c.X, c.Y}
		mc.EToE[i] = make([]int, e.Type.NSides())
		for s := range mc.EToE[i] {
			mc.EToE[i][s] = -1
			if nbs := m.ActiveNeighborsAcross(e, s); len(nbs) > 0 {
				mc.EToE[i][s] = position[nbs[0]]
			}
		}
	}
	pb := &partitions.PartitionBuilder{Mesh: mc, NumPartitions: nparts, Strategy: strategy}
	layout, err := pb.BuildPartitions()
	if err != nil {
		return fmt.Errorf("partitioning %d elements: %w", len(active), err)
	}
	for i, e := range active {
		e.processorID = layout.GetPartition(i)
	}
	m.nprocs = nparts
	m.balance = layout.PartitionStatistics()
	m.updateOwnership()
	return nil
}

func (m *Mesh) assignAll(pid int) {
	for _, e := range m.elems {
		e.processorID = pid
	}
	m.updateOwnership()
}

// updateOwnership derives parent and node processor ids from the leaves
func (m *Mesh) updateOwnership() {
	for _, n := range m.nodes {
		n.processorID = InvalidID
	}
	for _, e := range m.elems {
		if !e.Active() {
			continue
		}
		for _, n := range e.Nodes {
			if n.processorID == InvalidID || e.processorID < n.processorID {
				n.processorID = e.processorID
			}
		}
	}
	for i := len(m.elems) - 1; i >= 0; i-- {
		if e := m.elems[i]; !e.Active() {
			e.processorID = e.Children[0].processorID
		}
	}
}

// Clone deep copies the mesh so each processor can number its own copy
func (m *Mesh) Clone() *Mesh {
	c := newMesh(m.dim)
	c.nprocs = m.nprocs
	c.balance = m.balance
	c.nodes = make([]*Node, len(m.nodes))
	for i, n := range m.nodes {
		cn := &Node{DofObject: n.DofObject, Point: n.Point}
		cn.slots = append([]Slot(nil), n.slots...)
		cn.oldSlots = append([]Slot(nil), n.oldSlots...)
		c.nodes[i] = cn
		c.pointIndex[n.Point.key()] = cn
	}
	c.elems = make([]*Elem, len(m.elems))
	for i, e := range m.elems {
		ce := &Elem{
			DofObject:   e.DofObject,
			Type:        e.Type,
			Level:       e.Level,
			SubdomainID: e.SubdomainID,
			which:       e.which,
			boundary:    append([]int(nil), e.boundary...),
		}
		ce.slots = append([]Slot(nil), e.slots...)
		ce.oldSlots = append([]Slot(nil), e.oldSlots...)
		ce.Nodes = make([]*Node, len(e.Nodes))
		for k, n := range e.Nodes {
			ce.Nodes[k] = c.nodes[n.id]
		}
		c.elems[i] = ce
	}
	for i, e := range m.elems {
		ce := c.elems[i]
		if e.Parent != nil {
			ce.Parent = c.elems[e.Parent.id]
		}
		for _, ch := range e.Children {
			ce.Children = append(ce.Children, c.elems[ch.id])
		}
		ce.neighbors = make([]*Elem, len(e.neighbors))
		for s, nb := range e.neighbors {
			if nb != nil {
				ce.neighbors[s] = c.elems[nb.id]
			}
		}
	}
	for id, row := range m.nodeConstraints {
		src := make(map[int]float64, len(row.Sources))
		for k, v := range row.Sources {
			src[k] = v
		}
		c.nodeConstraints[id] = NodeConstraintRow{Sources: src, Point: row.Point}
	}
	return c
}

// String returns a summary of the mesh
func (m *Mesh) String() string {
	var sb strings.Builder
	active := m.ActiveElements()
	fmt.Fprintf(&sb, "Mesh: %dD, %d nodes, %d elements (%d active), %d processors\n",
		m.dim, len(m.nodes), len(m.elems), len(active), m.nprocs)
	counts := make([]int, m.nprocs)
	maxLevel := 0
	for _, e := range active {
		if e.processorID >= 0 && e.processorID < m.nprocs {
			counts[e.processorID]++
		}
		maxLevel = max(maxLevel, e.Level)
	}
	fmt.Fprintf(&sb, "  Max refinement level: %d\n", maxLevel)
	for p, c := range counts {
		fmt.Fprintf(&sb, "  Processor %d: %d active elements\n", p, c)
	}
	if len(m.nodeConstraints) > 0 {
		fmt.Fprintf(&sb, "  Node constraints: %d\n", len(m.nodeConstraints))
	}
	return sb.String()
}
