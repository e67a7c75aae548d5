package element

import (
	"fmt"
	"strings"
)

// Family is the finite element family of a variable
type Family uint8

const (
	Lagrange Family = iota // Continuous nodal basis
	Monomial               // Discontinuous element-interior basis
	Scalar                 // Global unknowns not attached to any mesh entity
)

func (f Family) String() string {
	switch f {
	case Lagrange:
		return "LAGRANGE"
	case Monomial:
		return "MONOMIAL"
	case Scalar:
		return "SCALAR"
	}
	return fmt.Sprintf("Family(%d)", uint8(f))
}

// ParseFamily converts a family name into a Family, ignoring case
func ParseFamily(name string) (Family, error) {
	for _, f := range []Family{Lagrange, Monomial, Scalar} {
		if strings.EqualFold(f.String(), name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown finite element family %q", name)
}

// FEType describes the approximation of a variable
type FEType struct {
	Order  int
	Family Family
}

func (f FEType) String() string {
	return fmt.Sprintf("%s(%d)", f.Family, f.Order)
}

// IsDiscontinuous reports whether the basis has no inter-element continuity
func (f FEType) IsDiscontinuous() bool {
	return f.Family == Monomial
}

// Supports reports whether the approximation can live on an element type
func (f FEType) Supports(t Type) error {
	switch f.Family {
	case Lagrange:
		if f.Order < 1 || f.Order > t.Properties().Order {
			return fmt.Errorf("%s requires geometric order >= %d, %s has %d",
				f, f.Order, t, t.Properties().Order)
		}
	case Monomial:
		if f.Order < 0 {
			return fmt.Errorf("%s: negative order", f)
		}
	case Scalar:
		if f.Order < 1 {
			return fmt.Errorf("%s: order must count at least one unknown", f)
		}
	}
	return nil
}

// NDofsAtNode returns the number of components a variable places on local node i
func (f FEType) NDofsAtNode(t Type, i int) int {
	if f.Family != Lagrange {
		return 0
	}
	switch t.Kind(i) {
	case VertexNode:
		return 1
	default:
		if f.Order >= 2 {
			return 1
		}
	}
	return 0
}

// NDofsPerElem returns the number of components a variable places on the element itself
func (f FEType) NDofsPerElem(t Type) int {
	if f.Family != Monomial {
		return 0
	}
	p := f.Order
	if t.Dim() == 1 {
		return p + 1
	}
	return (p + 1) * (p + 2) / 2
}

// SideShape evaluates the one dimensional Lagrange basis of a side at
// parametric coordinate xi in [-1,1], ordered like SidePoints (v0, v1, mid)
func SideShape(order int, xi float64) []float64 {
	switch order {
	case 1:
		return []float64{0.5 * (1 - xi), 0.5 * (1 + xi)}
	case 2:
		return []float64{0.5 * xi * (xi - 1), 0.5 * xi * (xi + 1), 1 - xi*xi}
	}
	panic(fmt.Sprintf("element: no side basis of order %d", order))
}
