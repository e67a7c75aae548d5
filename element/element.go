package element

import "fmt"

// Dimensionality represents the spatial dimension of an element
type Dimensionality uint8

const (
	D0 Dimensionality = iota // 0D elements (points)
	D1                       // 1D elements (lines, edges)
	D2                       // 2D elements (quadrilaterals)
)

// Type identifies the shape and geometric node count of an element
type Type uint8

const (
	Edge2 Type = iota // Linear line segment
	Edge3             // Quadratic line segment, midpoint node last
	Quad4             // Bilinear quadrilateral
	Quad9             // Biquadratic quadrilateral
)

// ElementProperties contains metadata describing an element type
type ElementProperties struct {
	Name       string         // Full descriptive name (e.g., "Lagrange Quadrilateral Order 2")
	ShortName  string         // Abbreviated name (e.g., "Quad9")
	Type       Type           // Element shape
	Order      int            // Geometric polynomial order
	Np         int            // Total number of nodes in element
	NSp        int            // Number of nodes per side
	NVp        int            // Number of vertex nodes (equals number of vertices)
	NEp        int            // Number of nodes strictly inside sides
	NIp        int            // Number of strictly interior nodes
	NSides     int            // Number of sides (points in 1D, edges in 2D)
	NChildren  int            // Number of children under isotropic h-refinement
	Dimensions Dimensionality // Spatial dimension
}

var properties = map[Type]ElementProperties{
	Edge2: {Name: "Lagrange Line Order 1", ShortName: "Edge2", Type: Edge2, Order: 1,
		Np: 2, NSp: 1, NVp: 2, NEp: 0, NIp: 0, NSides: 2, NChildren: 2, Dimensions: D1},
	Edge3: {Name: "Lagrange Line Order 2", ShortName: "Edge3", Type: Edge3, Order: 2,
		Np: 3, NSp: 1, NVp: 2, NEp: 0, NIp: 1, NSides: 2, NChildren: 2, Dimensions: D1},
	Quad4: {Name: "Lagrange Quadrilateral Order 1", ShortName: "Quad4", Type: Quad4, Order: 1,
		Np: 4, NSp: 2, NVp: 4, NEp: 0, NIp: 0, NSides: 4, NChildren: 4, Dimensions: D2},
	Quad9: {Name: "Lagrange Quadrilateral Order 2", ShortName: "Quad9", Type: Quad9, Order: 2,
		Np: 9, NSp: 3, NVp: 4, NEp: 4, NIp: 1, NSides: 4, NChildren: 4, Dimensions: D2},
}

// Properties returns the metadata for an element type
func (t Type) Properties() ElementProperties {
	p, ok := properties[t]
	if !ok {
		panic(fmt.Sprintf("element: unknown type %d", t))
	}
	return p
}

func (t Type) String() string {
	if p, ok := properties[t]; ok {
		return p.ShortName
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Np is shorthand for Properties().Np
func (t Type) Np() int { return t.Properties().Np }

// NSides is shorthand for Properties().NSides
func (t Type) NSides() int { return t.Properties().NSides }

// Dim is shorthand for Properties().Dimensions
func (t Type) Dim() int { return int(t.Properties().Dimensions) }

// ParseType converts a short name such as "Quad4" into a Type
func ParseType(name string) (Type, error) {
	for t, p := range properties {
		if p.ShortName == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown element type %q", name)
}
