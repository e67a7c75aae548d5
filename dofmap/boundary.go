package dofmap

import (
	"context"
	"fmt"
	"slices"

	"github.com/notargets/dofmap/element"
	"github.com/notargets/dofmap/mesh"
	"github.com/notargets/dofmap/parallel"
)

// BoundaryCondition is a source of constraint rows. Conditions are applied in
// registration order and an earlier condition wins a DOF over a later one.
type BoundaryCondition interface {
	fmt.Stringer
	contribute(b *constraintBuilder, priority int) error
}

// PeriodicBoundary ties the nodal unknowns on Boundary to the matching ones
// on PairedBoundary, Translation away
type PeriodicBoundary struct {
	Boundary       int
	PairedBoundary int
	Translation    mesh.Point
	Variables      []int // Empty means every nodal variable
}

func (pb *PeriodicBoundary) String() string {
	return fmt.Sprintf("periodic %d -> %d by %v", pb.Boundary, pb.PairedBoundary, pb.Translation)
}

func (pb *PeriodicBoundary) mesh() mesh.PeriodicBoundary {
	return mesh.PeriodicBoundary{
		Boundary:       pb.Boundary,
		PairedBoundary: pb.PairedBoundary,
		Translation:    pb.Translation,
	}
}

// DirichletBoundary fixes the nodal unknowns on Boundaries to Value
type DirichletBoundary struct {
	Boundaries []int
	Variables  []int                                    // Empty means every nodal variable
	Value      func(p mesh.Point, time float64) float64 // Nil means homogeneous
}

func (db *DirichletBoundary) String() string {
	return fmt.Sprintf("dirichlet on %v", db.Boundaries)
}

func (db *DirichletBoundary) value(p mesh.Point, time float64) float64 {
	if db.Value == nil {
		return 0
	}
	return db.Value(p, time)
}

// UserConstraint injects explicit rows. Each row is created by the owner of
// its DOF.
type UserConstraint struct {
	Rows map[int]ConstraintRow
	RHS  map[int]float64
}

func (uc *UserConstraint) String() string {
	return fmt.Sprintf("user constraint on %d dofs", len(uc.Rows))
}

// AddPeriodicBoundary registers a periodic condition and makes the elements
// across it neighbors for coupling and ghosting
func (d *DofMap) AddPeriodicBoundary(pb *PeriodicBoundary) error {
	if err := d.checkBoundaries(pb.Boundary, pb.PairedBoundary); err != nil {
		return err
	}
	if _, err := d.checkVariables(nilIfEmpty(pb.Variables)); err != nil {
		return err
	}
	d.conditions = append(d.conditions, pb)
	d.periodic = append(d.periodic, *pb)
	d.defaultCoupling.AddPeriodicBoundary(pb.mesh())
	d.defaultAlgebraic.AddPeriodicBoundary(pb.mesh())
	return nil
}

// IsPeriodicBoundary reports whether boundary id takes part in a periodic pair
func (d *DofMap) IsPeriodicBoundary(id int) bool {
	for _, pb := range d.periodic {
		if pb.Boundary == id || pb.PairedBoundary == id {
			return true
		}
	}
	return false
}

// PeriodicBoundaries lists the registered periodic conditions
func (d *DofMap) PeriodicBoundaries() []PeriodicBoundary { return d.periodic }

// AddDirichletBoundary registers a Dirichlet condition
func (d *DofMap) AddDirichletBoundary(db *DirichletBoundary) error {
	if err := d.checkBoundaries(db.Boundaries...); err != nil {
		return err
	}
	if _, err := d.checkVariables(nilIfEmpty(db.Variables)); err != nil {
		return err
	}
	d.conditions = append(d.conditions, db)
	return nil
}

// RemoveDirichletBoundary unregisters db
func (d *DofMap) RemoveDirichletBoundary(db *DirichletBoundary) {
	d.conditions = slices.DeleteFunc(d.conditions, func(bc BoundaryCondition) bool { return bc == BoundaryCondition(db) })
}

// AddAdjointDirichletBoundary registers the adjoint values of quantity of
// interest q on DOFs that a primal condition already constrains
func (d *DofMap) AddAdjointDirichletBoundary(db *DirichletBoundary, q int) error {
	if q < 0 {
		return fmt.Errorf("adjoint qoi %d: %w", q, ErrInvalidVariable)
	}
	if err := d.checkBoundaries(db.Boundaries...); err != nil {
		return err
	}
	if _, err := d.checkVariables(nilIfEmpty(db.Variables)); err != nil {
		return err
	}
	d.adjointDirichlet[q] = append(d.adjointDirichlet[q], db)
	return nil
}

// RemoveAdjointDirichletBoundary unregisters db for quantity of interest q
func (d *DofMap) RemoveAdjointDirichletBoundary(db *DirichletBoundary, q int) {
	d.adjointDirichlet[q] = slices.DeleteFunc(d.adjointDirichlet[q], func(o *DirichletBoundary) bool { return o == db })
}

// HasAdjointDirichletBoundaries reports whether q has adjoint conditions
func (d *DofMap) HasAdjointDirichletBoundaries(q int) bool {
	return len(d.adjointDirichlet[q]) > 0
}

// AddUserConstraint registers explicit rows
func (d *DofMap) AddUserConstraint(uc *UserConstraint) error {
	for dof, row := range uc.Rows {
		if _, self := row[dof]; self {
			return fmt.Errorf("dof %d constrained in terms of itself: %w", dof, ErrConstraintLoop)
		}
	}
	d.conditions = append(d.conditions, uc)
	return nil
}

// BoundaryConditions lists the registered conditions in priority order
func (d *DofMap) BoundaryConditions() []BoundaryCondition { return d.conditions }

// CheckDirichletBoundaryIDConsistency verifies that every processor passed
// the same boundary ids for db and that they exist in the mesh. It is
// collective.
func (d *DofMap) CheckDirichletBoundaryIDConsistency(ctx context.Context, db *DirichletBoundary) error {
	ids := slices.Clone(db.Boundaries)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	all, err := parallel.AllGather(ctx, d.comm, ids)
	if err != nil {
		return err
	}
	for p, other := range all {
		if !slices.Equal(ids, other) {
			return fmt.Errorf("%s: processor %d has %v, processor %d has %v: %w",
				db, d.comm.Rank(), ids, p, other, ErrInconsistentBoundary)
		}
	}
	return d.checkBoundaries(ids...)
}

func (d *DofMap) checkBoundaries(ids ...int) error {
	known := d.topo.BoundaryIDs()
	for _, id := range ids {
		if !slices.Contains(known, id) {
			return fmt.Errorf("boundary %d not in %v: %w", id, known, ErrUnknownBoundary)
		}
	}
	return nil
}

// nodalVariables filters vars (nil for all) down to nodal Lagrange variables
func (d *DofMap) nodalVariables(vars []int) []Variable {
	var out []Variable
	for _, v := range d.vars {
		if v.Type.Family != element.Lagrange {
			continue
		}
		if len(vars) > 0 && !slices.Contains(vars, v.Number) {
			continue
		}
		out = append(out, v)
	}
	return out
}
