// Package ghosting decides which non-local elements a processor must see,
// either to couple matrix entries or to evaluate a solution.
package ghosting

import "github.com/notargets/dofmap/mesh"

// AnyProcessor asks a functor for every element it would return, local or not
const AnyProcessor = -1

// Map is the result of a functor: element -> coupling restriction, where a
// nil restriction couples every variable
type Map map[*mesh.Elem]*CouplingMatrix

// Functor computes the elements processor pid must see on behalf of elems.
// Elements owned by pid are omitted unless pid is AnyProcessor.
type Functor interface {
	Compute(pid int, elems []*mesh.Elem) Map
}

// FunctorFunc adapts a function to the Functor interface
type FunctorFunc func(pid int, elems []*mesh.Elem) Map

func (f FunctorFunc) Compute(pid int, elems []*mesh.Elem) Map { return f(pid, elems) }

// Merge folds src into dst. Restrictions on the same element are ORed and a
// nil restriction wins over any other.
func Merge(dst, src Map) {
	for e, cm := range src {
		prev, seen := dst[e]
		switch {
		case !seen:
			dst[e] = cm.Clone()
		case prev == nil:
		case cm == nil:
			dst[e] = nil
		default:
			if err := prev.Merge(cm); err != nil {
				// Mismatched sizes cannot be ORed; fall back to full coupling
				dst[e] = nil
			}
		}
	}
}

// Compute merges the output of every functor
func Compute(functors []Functor, pid int, elems []*mesh.Elem) Map {
	out := make(Map)
	for _, f := range functors {
		Merge(out, f.Compute(pid, elems))
	}
	return out
}
