package dofmap

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// BuildConstraintMatrix returns C mapping the expanded DOF list to dofs, so
// that element unknowns u = C y with y over the expanded list. The expanded
// list is dofs followed by the sources of its constrained entries that it
// does not already hold. C is nil when nothing in dofs is constrained.
func (d *DofMap) BuildConstraintMatrix(dofs []int) (*mat.Dense, []int) {
	constrained := false
	pos := make(map[int]int, len(dofs))
	for i, dof := range dofs {
		if _, ok := pos[dof]; !ok {
			pos[dof] = i
		}
		if d.constraints.IsConstrained(dof) {
			constrained = true
		}
	}
	if !constrained {
		return nil, dofs
	}
	expanded := append([]int(nil), dofs...)
	for _, dof := range dofs {
		srcs, ok := d.ConstraintSources(dof)
		if !ok {
			continue
		}
		for _, s := range srcs {
			if _, ok := pos[s]; !ok {
				pos[s] = len(expanded)
				expanded = append(expanded, s)
			}
		}
	}
	c := mat.NewDense(len(dofs), len(expanded), nil)
	for i, dof := range dofs {
		e, ok := d.constraints.get(dof)
		if !ok {
			c.Set(i, i, 1)
			continue
		}
		for s, w := range e.row {
			j := pos[s]
			c.Set(i, j, c.At(i, j)+w)
		}
	}
	return c, expanded
}

// BuildConstraintMatrixAndVector also returns H with u = C y + H, holding the
// right-hand sides of quantity of interest q (or Primal)
func (d *DofMap) BuildConstraintMatrixAndVector(dofs []int, q int) (*mat.Dense, *mat.VecDense, []int) {
	c, expanded := d.BuildConstraintMatrix(dofs)
	if c == nil {
		return nil, nil, expanded
	}
	h := mat.NewVecDense(len(dofs), nil)
	for i, dof := range dofs {
		if d.constraints.IsConstrained(dof) {
			h.SetVec(i, d.ConstraintRHS(dof, q))
		}
	}
	return c, h, expanded
}

// ConstrainNothing returns dofs expanded by the sources of its constrained
// entries without touching any element data
func (d *DofMap) ConstrainNothing(dofs []int) []int {
	_, expanded := d.BuildConstraintMatrix(dofs)
	return expanded
}

func checkSquare(k mat.Matrix, n int) error {
	r, c := k.Dims()
	if r != n || c != n {
		return fmt.Errorf("matrix %dx%d for %d dofs: %w", r, c, n, ErrSizeMismatch)
	}
	return nil
}

func checkVector(f mat.Vector, n int) error {
	if f.Len() != n {
		return fmt.Errorf("vector of length %d for %d dofs: %w", f.Len(), n, ErrSizeMismatch)
	}
	return nil
}

// project computes C^T K C
func project(c *mat.Dense, k mat.Matrix) *mat.Dense {
	var kc, out mat.Dense
	kc.Mul(k, c)
	out.Mul(c.T(), &kc)
	return &out
}

// fixConstrainedRows replaces the row of every constrained DOF of the
// expanded list by the identity, or by the constraint equation itself when
// asymmetric, and sets the matching vector entry. The identity row is not a
// fixed point of a later projection, see ConstrainElementMatrix.
func (d *DofMap) fixConstrainedRows(k *mat.Dense, f *mat.VecDense, expanded []int, asymmetric, heterogeneous bool, q int) {
	pos := make(map[int]int, len(expanded))
	for i, dof := range expanded {
		if _, ok := pos[dof]; !ok {
			pos[dof] = i
		}
	}
	for i, dof := range expanded {
		e, ok := d.constraints.get(dof)
		if !ok {
			continue
		}
		if k != nil {
			_, nc := k.Dims()
			for j := 0; j < nc; j++ {
				k.Set(i, j, 0)
			}
			k.Set(i, i, 1)
			if asymmetric {
				for s, w := range e.row {
					k.Set(i, pos[s], -w)
				}
			}
		}
		if f != nil {
			v := 0.
			if heterogeneous {
				v = d.ConstraintRHS(dof, q)
			}
			f.SetVec(i, v)
		}
	}
}

// ConstrainElementMatrix returns C^T K C over the expanded DOF list with the
// rows of constrained DOFs fixed. Only the asymmetric form is idempotent:
// applying the symmetric form to its own output projects the unit diagonal
// of each constrained row again and adds w w^T to the block of its sources,
// w being the row's weights.
func (d *DofMap) ConstrainElementMatrix(k mat.Matrix, dofs []int, asymmetric bool) (*mat.Dense, []int, error) {
	if err := checkSquare(k, len(dofs)); err != nil {
		return nil, nil, err
	}
	c, expanded := d.BuildConstraintMatrix(dofs)
	if c == nil {
		return mat.DenseCopyOf(k), expanded, nil
	}
	out := project(c, k)
	d.fixConstrainedRows(out, nil, expanded, asymmetric, false, Primal)
	return out, expanded, nil
}

// ConstrainElementVector returns C^T F over the expanded DOF list with the
// entries of constrained DOFs zeroed
func (d *DofMap) ConstrainElementVector(f mat.Vector, dofs []int) (*mat.VecDense, []int, error) {
	if err := checkVector(f, len(dofs)); err != nil {
		return nil, nil, err
	}
	c, expanded := d.BuildConstraintMatrix(dofs)
	if c == nil {
		return mat.VecDenseCopyOf(f), expanded, nil
	}
	out := mat.NewVecDense(len(expanded), nil)
	out.MulVec(c.T(), f)
	d.fixConstrainedRows(nil, out, expanded, false, false, Primal)
	return out, expanded, nil
}

// ConstrainElementMatrixAndVector applies ConstrainElementMatrix and
// ConstrainElementVector together
func (d *DofMap) ConstrainElementMatrixAndVector(k mat.Matrix, f mat.Vector, dofs []int, asymmetric bool) (*mat.Dense, *mat.VecDense, []int, error) {
	kOut, expanded, err := d.ConstrainElementMatrix(k, dofs, asymmetric)
	if err != nil {
		return nil, nil, nil, err
	}
	fOut, _, err := d.ConstrainElementVector(f, dofs)
	if err != nil {
		return nil, nil, nil, err
	}
	return kOut, fOut, expanded, nil
}

// HeterogeneouslyConstrainElementMatrixAndVector applies u = C y + H:
// K' = C^T K C and F' = C^T (F - K H), and constrained rows of F' carry the
// right-hand side of quantity of interest q
func (d *DofMap) HeterogeneouslyConstrainElementMatrixAndVector(k mat.Matrix, f mat.Vector, dofs []int, asymmetric bool, q int) (*mat.Dense, *mat.VecDense, []int, error) {
	if err := checkSquare(k, len(dofs)); err != nil {
		return nil, nil, nil, err
	}
	if err := checkVector(f, len(dofs)); err != nil {
		return nil, nil, nil, err
	}
	c, h, expanded := d.BuildConstraintMatrixAndVector(dofs, q)
	if c == nil {
		return mat.DenseCopyOf(k), mat.VecDenseCopyOf(f), expanded, nil
	}
	kOut := project(c, k)
	fOut := d.heterogeneousVector(c, h, k, f, len(expanded))
	d.fixConstrainedRows(kOut, fOut, expanded, asymmetric, true, q)
	return kOut, fOut, expanded, nil
}

// HeterogeneouslyConstrainElementVector returns only the F' of
// HeterogeneouslyConstrainElementMatrixAndVector
func (d *DofMap) HeterogeneouslyConstrainElementVector(k mat.Matrix, f mat.Vector, dofs []int, q int) (*mat.VecDense, []int, error) {
	if err := checkSquare(k, len(dofs)); err != nil {
		return nil, nil, err
	}
	if err := checkVector(f, len(dofs)); err != nil {
		return nil, nil, err
	}
	c, h, expanded := d.BuildConstraintMatrixAndVector(dofs, q)
	if c == nil {
		return mat.VecDenseCopyOf(f), expanded, nil
	}
	fOut := d.heterogeneousVector(c, h, k, f, len(expanded))
	d.fixConstrainedRows(nil, fOut, expanded, false, true, q)
	return fOut, expanded, nil
}

func (d *DofMap) heterogeneousVector(c *mat.Dense, h *mat.VecDense, k mat.Matrix, f mat.Vector, n int) *mat.VecDense {
	var kh, g mat.VecDense
	kh.MulVec(k, h)
	g.SubVec(f, &kh)
	out := mat.NewVecDense(n, nil)
	out.MulVec(c.T(), &g)
	return out
}

// ConstrainElementMatrixRect applies row constraints R and column
// constraints C to a rectangular element matrix: R^T K C
func (d *DofMap) ConstrainElementMatrixRect(k mat.Matrix, rowDofs, colDofs []int, asymmetric bool) (*mat.Dense, []int, []int, error) {
	nr, nc := k.Dims()
	if nr != len(rowDofs) || nc != len(colDofs) {
		return nil, nil, nil, fmt.Errorf("matrix %dx%d for %dx%d dofs: %w", nr, nc, len(rowDofs), len(colDofs), ErrSizeMismatch)
	}
	rowC, rowExp := d.BuildConstraintMatrix(rowDofs)
	colC, colExp := d.BuildConstraintMatrix(colDofs)
	out := mat.DenseCopyOf(k)
	if colC != nil {
		var t mat.Dense
		t.Mul(out, colC)
		out = &t
	}
	if rowC != nil {
		var t mat.Dense
		t.Mul(rowC.T(), out)
		out = &t
	}
	colPos := make(map[int]int, len(colExp))
	for j, dof := range colExp {
		if _, ok := colPos[dof]; !ok {
			colPos[dof] = j
		}
	}
	_, nc = out.Dims()
	for i, dof := range rowExp {
		e, ok := d.constraints.get(dof)
		if !ok {
			continue
		}
		for j := 0; j < nc; j++ {
			out.Set(i, j, 0)
		}
		if j, ok := colPos[dof]; ok {
			out.Set(i, j, 1)
		}
		if asymmetric {
			for s, w := range e.row {
				if j, ok := colPos[s]; ok {
					out.Set(i, j, -w)
				}
			}
		}
	}
	return out, rowExp, colExp, nil
}

// ConstrainElementDyadMatrix constrains the rank one matrix v w^T by
// returning C^T v and C^T w
func (d *DofMap) ConstrainElementDyadMatrix(v, w mat.Vector, dofs []int) (*mat.VecDense, *mat.VecDense, []int, error) {
	if err := checkVector(v, len(dofs)); err != nil {
		return nil, nil, nil, err
	}
	if err := checkVector(w, len(dofs)); err != nil {
		return nil, nil, nil, err
	}
	c, expanded := d.BuildConstraintMatrix(dofs)
	if c == nil {
		return mat.VecDenseCopyOf(v), mat.VecDenseCopyOf(w), expanded, nil
	}
	vOut := mat.NewVecDense(len(expanded), nil)
	wOut := mat.NewVecDense(len(expanded), nil)
	vOut.MulVec(c.T(), v)
	wOut.MulVec(c.T(), w)
	return vOut, wOut, expanded, nil
}
