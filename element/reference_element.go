package element

// NodeKind classifies a reference node by the topological entity it sits on
type NodeKind uint8

const (
	VertexNode   NodeKind = iota // Node at an element vertex
	SideNode                     // Node strictly inside a side (2D only)
	InteriorNode                 // Node strictly inside the element
)

// ReferenceGeometry defines the layout of nodes in reference space [-1,1]^d
type ReferenceGeometry struct {
	// Node coordinates in reference space; S is nil for 1D elements
	R, S []float64 // Length Np each

	// Node classification by topological entity
	VertexPoints   []int   // Indices of nodes located at vertices
	SidePoints     [][]int // [side][point_indices], ordered (v0, v1, mid)
	InteriorPoints []int   // Indices of nodes strictly inside the element
}

var geometries = map[Type]ReferenceGeometry{
	Edge2: {
		R:            []float64{-1, 1},
		VertexPoints: []int{0, 1},
		SidePoints:   [][]int{{0}, {1}},
	},
	Edge3: {
		R:              []float64{-1, 1, 0},
		VertexPoints:   []int{0, 1},
		SidePoints:     [][]int{{0}, {1}},
		InteriorPoints: []int{2},
	},
	Quad4: {
		R:            []float64{-1, 1, 1, -1},
		S:            []float64{-1, -1, 1, 1},
		VertexPoints: []int{0, 1, 2, 3},
		SidePoints:   [][]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}},
	},
	Quad9: {
		R:              []float64{-1, 1, 1, -1, 0, 1, 0, -1, 0},
		S:              []float64{-1, -1, 1, 1, -1, 0, 1, 0, 0},
		VertexPoints:   []int{0, 1, 2, 3},
		SidePoints:     [][]int{{0, 1, 4}, {1, 2, 5}, {2, 3, 6}, {3, 0, 7}},
		InteriorPoints: []int{8},
	},
}

// Geometry returns the reference node layout of an element type
func (t Type) Geometry() ReferenceGeometry {
	return geometries[t]
}

// SideNodes returns the local node indices on a side, vertices first
func (t Type) SideNodes(side int) []int {
	return geometries[t].SidePoints[side]
}

// Kind classifies local node i of an element type
func (t Type) Kind(i int) NodeKind {
	g := geometries[t]
	for _, v := range g.VertexPoints {
		if v == i {
			return VertexNode
		}
	}
	for _, v := range g.InteriorPoints {
		if v == i {
			return InteriorNode
		}
	}
	return SideNode
}

// ChildOuterSides returns the sides of child c that lie on the same-numbered
// side of its parent under isotropic refinement
func (t Type) ChildOuterSides(c int) []int {
	if t.Dim() == 1 {
		return []int{c}
	}
	return []int{c, (c + 3) % 4}
}
