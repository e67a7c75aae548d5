package dofmap

import (
	"context"
	"fmt"
	"math"

	"github.com/notargets/dofmap/parallel"
)

// Vector is a distributed vector over the numbering of a DofMap whose
// entries of the send list can be read locally
type Vector interface {
	FirstIndex() int
	EndIndex() int
	// At reads an owned or ghosted entry
	At(i int) float64
	// SetAt writes an owned entry
	SetAt(i int, v float64)
	// Localize refreshes the ghosted entries from their owners; collective
	Localize(ctx context.Context) error
}

func (d *DofMap) checkVectorLayout(v Vector) error {
	if err := d.requireDistributed(); err != nil {
		return err
	}
	if v.FirstIndex() != d.FirstDof() || v.EndIndex() != d.EndDof() {
		return fmt.Errorf("vector range [%d, %d) against dofs [%d, %d): %w",
			v.FirstIndex(), v.EndIndex(), d.FirstDof(), d.EndDof(), ErrSizeMismatch)
	}
	return nil
}

// EnforceConstraintsExactly overwrites every owned constrained entry of v
// with its constraint equation, dropping the right-hand sides when
// homogeneous. It is collective.
func (d *DofMap) EnforceConstraintsExactly(ctx context.Context, v Vector, homogeneous bool) error {
	q := Primal
	if homogeneous {
		q = noRHS
	}
	return d.enforce(ctx, "EnforceConstraintsExactly", v, q)
}

// EnforceAdjointConstraintsExactly is EnforceConstraintsExactly with the
// adjoint right-hand sides of quantity of interest q
func (d *DofMap) EnforceAdjointConstraintsExactly(ctx context.Context, v Vector, q int) error {
	if q < 0 {
		return fmt.Errorf("adjoint qoi %d: %w", q, ErrInvalidVariable)
	}
	return d.enforce(ctx, "EnforceAdjointConstraintsExactly", v, q)
}

// noRHS selects homogeneous enforcement
const noRHS = -2

func (d *DofMap) enforce(ctx context.Context, name string, v Vector, q int) error {
	ctx, span := d.startSpan(ctx, name)
	defer span.End()
	if err := d.checkVectorLayout(v); err != nil {
		return recordError(span, err)
	}
	if err := v.Localize(ctx); err != nil {
		return recordError(span, err)
	}
	// Sources are unconstrained, so the order of updates does not matter
	d.constraints.Ascend(func(dof int, row ConstraintRow, _ float64) bool {
		if !d.LocalIndex(dof) {
			return true
		}
		val := 0.
		if q != noRHS {
			val = d.ConstraintRHS(dof, q)
		}
		for _, s := range row.Sources() {
			val += row[s] * v.At(s)
		}
		v.SetAt(dof, val)
		return true
	})
	return recordError(span, v.Localize(ctx))
}

// MaxConstraintError returns the largest absolute and relative violation of
// the homogeneous part of the constraints by v. It is collective.
func (d *DofMap) MaxConstraintError(ctx context.Context, v Vector) (float64, float64, error) {
	ctx, span := d.startSpan(ctx, "MaxConstraintError")
	defer span.End()
	if err := d.checkVectorLayout(v); err != nil {
		return 0, 0, recordError(span, err)
	}
	if err := v.Localize(ctx); err != nil {
		return 0, 0, recordError(span, err)
	}
	var maxAbs, maxRel float64
	d.constraints.Ascend(func(dof int, row ConstraintRow, _ float64) bool {
		if !d.LocalIndex(dof) {
			return true
		}
		expected := 0.
		for _, s := range row.Sources() {
			expected += row[s] * v.At(s)
		}
		diff := math.Abs(v.At(dof) - expected)
		maxAbs = math.Max(maxAbs, diff)
		if scale := math.Abs(expected); scale > 0 {
			maxRel = math.Max(maxRel, diff/scale)
		}
		return true
	})
	maxAbs, err := parallel.MaxFloat(ctx, d.comm, maxAbs)
	if err != nil {
		return 0, 0, recordError(span, err)
	}
	maxRel, err = parallel.MaxFloat(ctx, d.comm, maxRel)
	if err != nil {
		return 0, 0, recordError(span, err)
	}
	return maxAbs, maxRel, nil
}
