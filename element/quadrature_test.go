package element

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestGaussLegendre(t *testing.T) {
	x, w := GaussLegendre(2)
	assert.InDeltaSlicef(t, []float64{-1 / math.Sqrt(3), 1 / math.Sqrt(3)}, x, 1e-14, "points")
	assert.InDeltaSlicef(t, []float64{1, 1}, w, 1e-14, "weights")

	for n := 1; n <= 5; n++ {
		x, w := GaussLegendre(n)
		// Exact up to degree 2n-1
		for deg := 0; deg <= 2*n-1; deg++ {
			var sum float64
			for i := range x {
				sum += w[i] * math.Pow(x[i], float64(deg))
			}
			want := 0.
			if deg%2 == 0 {
				want = 2 / float64(deg+1)
			}
			assert.InDeltaf(t, want, sum, 1e-13, "n=%d degree %d", n, deg)
		}
	}
}

func TestLaplacian(t *testing.T) {
	tests := []struct {
		typ  Type
		h    []float64
		want []float64
	}{
		{Edge2, []float64{2}, []float64{0.5, -0.5, -0.5, 0.5}},
		{Edge3, []float64{1}, []float64{
			7. / 3, 1. / 3, -8. / 3,
			1. / 3, 7. / 3, -8. / 3,
			-8. / 3, -8. / 3, 16. / 3,
		}},
		{Quad4, []float64{1, 1}, []float64{
			2. / 3, -1. / 6, -1. / 3, -1. / 6,
			-1. / 6, 2. / 3, -1. / 6, -1. / 3,
			-1. / 3, -1. / 6, 2. / 3, -1. / 6,
			-1. / 6, -1. / 3, -1. / 6, 2. / 3,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			k, err := Laplacian(tt.typ, tt.h...)
			require.NoError(t, err)
			assert.InDeltaSlicef(t, tt.want, k.RawMatrix().Data, 1e-13, "stiffness")
		})
	}

	// Constants are in the null space and the matrix is symmetric
	k, err := Laplacian(Quad9, 2, 0.5)
	require.NoError(t, err)
	ones := mat.NewVecDense(9, nil)
	for i := 0; i < 9; i++ {
		ones.SetVec(i, 1)
	}
	var r mat.VecDense
	r.MulVec(k, ones)
	assert.InDelta(t, 0, mat.Norm(&r, math.Inf(1)), 1e-12)
	assert.True(t, mat.EqualApprox(k, k.T(), 1e-13))

	_, err = Laplacian(Quad4, 1)
	assert.Error(t, err)
	_, err = Laplacian(Edge2, -1)
	assert.Error(t, err)
}
