package dofmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/dofmap/mesh"
)

func hangingMap(t *testing.T) (*DofMap, *mesh.Elem) {
	t.Helper()
	d := single(t, twoQuadsLeftRefined(t), Options{}, addU)
	require.NoError(t, d.Reinit(context.Background(), 0))
	h := findNode(d.Topology(), mesh.Point{X: 1, Y: 0.5})
	for _, e := range d.Topology().ActiveElements() {
		for _, n := range e.Nodes {
			if n == h {
				return d, e
			}
		}
	}
	t.Fatal("no element holds the hanging node")
	return nil, nil
}

func laplacian4() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		4, -1, -2, -1,
		-1, 4, -1, -2,
		-2, -1, 4, -1,
		-1, -2, -1, 4,
	})
}

func TestBuildConstraintMatrix(t *testing.T) {
	d, e := hangingMap(t)
	dofs := d.DofIndices(e)
	c, expanded := d.BuildConstraintMatrix(dofs)
	require.NotNil(t, c)
	assert.Equal(t, dofs, expanded[:len(dofs)])
	// Only the coarse vertex not already on the element is appended
	assert.Len(t, expanded, len(dofs)+1)
	r, cols := c.Dims()
	assert.Equal(t, len(dofs), r)
	assert.Equal(t, len(expanded), cols)
	for i, dof := range dofs {
		rowSum := 0.
		for j := 0; j < cols; j++ {
			rowSum += c.At(i, j)
		}
		assert.InDelta(t, 1, rowSum, 1e-14, "row of dof %d", dof)
	}
	assert.Equal(t, expanded, d.ConstrainNothing(dofs))

	free := []int{findNode(d.Topology(), mesh.Point{}).DofNumber(0, 0, 0)}
	c, expanded = d.BuildConstraintMatrix(free)
	assert.Nil(t, c)
	assert.Equal(t, free, expanded)
}

func TestConstrainElementIsIdempotent(t *testing.T) {
	d, e := hangingMap(t)
	dofs := d.DofIndices(e)
	k := laplacian4()
	f := mat.NewVecDense(4, []float64{1, 2, 3, 4})

	k1, f1, exp1, err := d.ConstrainElementMatrixAndVector(k, f, dofs, true)
	require.NoError(t, err)
	k2, f2, exp2, err := d.ConstrainElementMatrixAndVector(k1, f1, exp1, true)
	require.NoError(t, err)
	assert.Equal(t, exp1, exp2)
	assert.True(t, mat.EqualApprox(k1, k2, 1e-12), "K:\n%v\n%v", mat.Formatted(k1), mat.Formatted(k2))
	assert.True(t, mat.EqualApprox(f1, f2, 1e-12))
}

func TestConstrainElementSymmetricReapplication(t *testing.T) {
	d, e := hangingMap(t)
	dofs := d.DofIndices(e)
	f := mat.NewVecDense(4, []float64{1, 2, 3, 4})

	k1, f1, exp1, err := d.ConstrainElementMatrixAndVector(laplacian4(), f, dofs, false)
	require.NoError(t, err)
	k2, f2, exp2, err := d.ConstrainElementMatrixAndVector(k1, f1, exp1, false)
	require.NoError(t, err)
	require.Equal(t, exp1, exp2)
	assert.True(t, mat.EqualApprox(f1, f2, 1e-12), "constrained entries of f are zero")

	// Each constrained row adds the outer product of its weights
	n := len(exp1)
	want := mat.NewDense(n, n, nil)
	want.Copy(k1)
	for _, dof := range exp1 {
		row, ok := d.ConstraintRow(dof)
		if !ok {
			continue
		}
		for i, si := range exp1 {
			for j, sj := range exp1 {
				want.Set(i, j, want.At(i, j)+row[si]*row[sj])
			}
		}
	}
	assert.False(t, mat.EqualApprox(k1, k2, 1e-12))
	assert.True(t, mat.EqualApprox(want, k2, 1e-12), "K:\n%v\n%v", mat.Formatted(want), mat.Formatted(k2))
}

func TestConstrainElementRows(t *testing.T) {
	d, e := hangingMap(t)
	dofs := d.DofIndices(e)
	hi := -1
	for i, dof := range dofs {
		if d.IsConstrainedDof(dof) {
			hi = i
		}
	}
	require.GreaterOrEqual(t, hi, 0)
	row, _ := d.ConstraintRow(dofs[hi])
	k := laplacian4()

	sym, expanded, err := d.ConstrainElementMatrix(k, dofs, false)
	require.NoError(t, err)
	asym, _, err := d.ConstrainElementMatrix(k, dofs, true)
	require.NoError(t, err)
	n := len(expanded)
	for j := 0; j < n; j++ {
		want := 0.
		if j == hi {
			want = 1
		}
		assert.Equal(t, want, sym.At(hi, j))
		// The constrained column is empty in both forms
		if j != hi {
			assert.Zero(t, sym.At(j, hi))
			assert.Zero(t, asym.At(j, hi))
		}
	}
	for s, w := range row {
		for j, dof := range expanded {
			if dof == s {
				assert.Equal(t, -w, asym.At(hi, j))
			}
		}
	}
	assert.True(t, mat.EqualApprox(sym, sym.T(), 1e-12), "symmetric form must stay symmetric")

	fOut, _, err := d.ConstrainElementVector(mat.NewVecDense(4, []float64{1, 1, 1, 1}), dofs)
	require.NoError(t, err)
	assert.Zero(t, fOut.AtVec(hi))
	total := 0.
	for i := 0; i < fOut.Len(); i++ {
		total += fOut.AtVec(i)
	}
	assert.InDelta(t, 4, total, 1e-14, "partition of unity keeps the load")
}

func TestConstrainElementSizeMismatch(t *testing.T) {
	d, e := hangingMap(t)
	dofs := d.DofIndices(e)
	_, _, err := d.ConstrainElementMatrix(mat.NewDense(3, 3, nil), dofs, true)
	assert.ErrorIs(t, err, ErrSizeMismatch)
	_, _, err = d.ConstrainElementVector(mat.NewVecDense(2, nil), dofs)
	assert.ErrorIs(t, err, ErrSizeMismatch)
	_, _, _, err = d.ConstrainElementMatrixRect(mat.NewDense(4, 2, nil), dofs, dofs, true)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestHeterogeneousDirichlet(t *testing.T) {
	three := func(mesh.Point, float64) float64 { return 3 }
	d := single(t, line(t, 4), Options{}, func(d *DofMap) error {
		if err := addU(d); err != nil {
			return err
		}
		return d.AddDirichletBoundary(&DirichletBoundary{Boundaries: []int{1}, Value: three})
	})
	require.NoError(t, d.Reinit(context.Background(), 0))
	e := d.Topology().ActiveElements()[3]
	dofs := d.DofIndices(e)
	require.Equal(t, []int{3, 4}, dofs)

	k := mat.NewDense(2, 2, []float64{1, -1, -1, 1})
	f := mat.NewVecDense(2, nil)
	kOut, fOut, expanded, err := d.HeterogeneouslyConstrainElementMatrixAndVector(k, f, dofs, true, Primal)
	require.NoError(t, err)
	assert.Equal(t, dofs, expanded)
	assert.True(t, mat.Equal(mat.NewDense(2, 2, []float64{1, 0, 0, 1}), kOut), "%v", mat.Formatted(kOut))
	assert.Equal(t, []float64{3, 3}, fOut.RawVector().Data)

	fOnly, _, err := d.HeterogeneouslyConstrainElementVector(k, f, dofs, Primal)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3}, fOnly.RawVector().Data)

	// Reapplying to the constrained system changes nothing
	k2, f2, _, err := d.HeterogeneouslyConstrainElementMatrixAndVector(kOut, fOut, expanded, true, Primal)
	require.NoError(t, err)
	assert.True(t, mat.Equal(kOut, k2))
	assert.True(t, mat.Equal(fOut, f2))
}

func TestConstrainRectAndDyad(t *testing.T) {
	d, e := hangingMap(t)
	dofs := d.DofIndices(e)
	k := laplacian4()

	square, expanded, err := d.ConstrainElementMatrix(k, dofs, true)
	require.NoError(t, err)
	rect, rows, cols, err := d.ConstrainElementMatrixRect(k, dofs, dofs, true)
	require.NoError(t, err)
	assert.Equal(t, expanded, rows)
	assert.Equal(t, expanded, cols)
	assert.True(t, mat.EqualApprox(square, rect, 1e-12))

	v := mat.NewVecDense(4, []float64{1, 0, 0, 0})
	w := mat.NewVecDense(4, []float64{0, 1, 1, 0})
	cv, cw, exp, err := d.ConstrainElementDyadMatrix(v, w, dofs)
	require.NoError(t, err)
	assert.Equal(t, expanded, exp)
	c, _ := d.BuildConstraintMatrix(dofs)
	var outer, want mat.Dense
	outer.Outer(1, cv, cw)
	var vw mat.Dense
	vw.Outer(1, v, w)
	want.Product(c.T(), &vw, c)
	assert.True(t, mat.EqualApprox(&want, &outer, 1e-12))
}
