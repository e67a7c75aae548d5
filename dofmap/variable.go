package dofmap

import (
	"fmt"
	"slices"

	"github.com/notargets/dofmap/element"
)

// Variable is a named unknown field
type Variable struct {
	Name       string
	Type       element.FEType
	Number     int   // Position among all variables of the map
	Subdomains []int // Active subdomains; empty means everywhere

	group, indexInGroup int
}

// ActiveOnSubdomain reports whether the variable lives on subdomain sid
func (v Variable) ActiveOnSubdomain(sid int) bool {
	return len(v.Subdomains) == 0 || slices.Contains(v.Subdomains, sid)
}

// Group is the index of the variable group holding v
func (v Variable) Group() int { return v.group }

// VariableGroup is a run of variables sharing one discretization, stored
// interleaved on each DOF object
type VariableGroup struct {
	Names         []string
	Type          element.FEType
	Subdomains    []int
	FirstVariable int
}

// NVariables is the number of variables in the group
func (g VariableGroup) NVariables() int { return len(g.Names) }

// ActiveOnSubdomain reports whether the group lives on subdomain sid
func (g VariableGroup) ActiveOnSubdomain(sid int) bool {
	return len(g.Subdomains) == 0 || slices.Contains(g.Subdomains, sid)
}

// AddVariable adds one variable, joining the last group when the
// discretization and subdomains match. It returns the variable number.
func (d *DofMap) AddVariable(name string, t element.FEType, subdomains ...int) (int, error) {
	return d.AddVariables([]string{name}, t, subdomains...)
}

// AddVariables adds a group of variables sharing one discretization and
// returns the number of the first
func (d *DofMap) AddVariables(names []string, t element.FEType, subdomains ...int) (int, error) {
	if len(names) == 0 {
		return 0, fmt.Errorf("empty variable group: %w", ErrInvalidVariable)
	}
	for _, name := range names {
		if _, err := d.VariableNumber(name); err == nil {
			return 0, fmt.Errorf("variable %q already exists: %w", name, ErrInvalidVariable)
		}
	}
	if t.Family == element.Scalar && t.Order < 1 {
		return 0, fmt.Errorf("SCALAR variable with order %d: %w", t.Order, ErrInvalidVariable)
	}
	subs := slices.Clone(subdomains)
	slices.Sort(subs)

	gi := len(d.groups) - 1
	if gi < 0 || d.groups[gi].Type != t || !slices.Equal(d.groups[gi].Subdomains, subs) {
		d.groups = append(d.groups, VariableGroup{Type: t, Subdomains: subs, FirstVariable: len(d.vars)})
		gi++
	}
	first := len(d.vars)
	for _, name := range names {
		d.vars = append(d.vars, Variable{
			Name:         name,
			Type:         t,
			Number:       len(d.vars),
			Subdomains:   subs,
			group:        gi,
			indexInGroup: len(d.groups[gi].Names),
		})
		d.groups[gi].Names = append(d.groups[gi].Names, name)
	}
	if t.IsDiscontinuous() {
		d.log.Debug("discontinuous variable added", "names", names, "type", t)
	}
	return first, nil
}

// NVariables is the number of variables
func (d *DofMap) NVariables() int { return len(d.vars) }

// NVariableGroups is the number of variable groups
func (d *DofMap) NVariableGroups() int { return len(d.groups) }

// Variable returns variable i; i must be in range
func (d *DofMap) Variable(i int) Variable { return d.vars[i] }

// VariableGroup returns group i; i must be in range
func (d *DofMap) VariableGroup(i int) VariableGroup { return d.groups[i] }

// VariableOrder is the approximation order of variable i
func (d *DofMap) VariableOrder(i int) int { return d.vars[i].Type.Order }

// VariableType is the discretization of variable i
func (d *DofMap) VariableType(i int) element.FEType { return d.vars[i].Type }

// VariableNumber looks a variable up by name
func (d *DofMap) VariableNumber(name string) (int, error) {
	for _, v := range d.vars {
		if v.Name == name {
			return v.Number, nil
		}
	}
	return 0, fmt.Errorf("variable %q: %w", name, ErrNotFound)
}

// HasBlockedRepresentation reports whether every entity stores all variables
// contiguously, which is the case for one group of several variables
func (d *DofMap) HasBlockedRepresentation() bool {
	return len(d.groups) == 1 && len(d.vars) > 1
}

// BlockSize is the block stride when the representation is blocked, else 1
func (d *DofMap) BlockSize() int {
	if d.HasBlockedRepresentation() {
		return len(d.vars)
	}
	return 1
}

// checkVariables validates a list of variable numbers; nil selects all
func (d *DofMap) checkVariables(vars []int) ([]int, error) {
	if vars == nil {
		all := make([]int, len(d.vars))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	for _, v := range vars {
		if v < 0 || v >= len(d.vars) {
			return nil, fmt.Errorf("variable %d of %d: %w", v, len(d.vars), ErrInvalidVariable)
		}
	}
	return vars, nil
}
