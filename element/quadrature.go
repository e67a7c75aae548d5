package element

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// GaussLegendre returns the n point Gauss-Legendre rule on [-1,1], points
// ascending. It is exact for polynomials of degree 2n-1.
func GaussLegendre(n int) (x, w []float64) {
	if n < 1 {
		panic(fmt.Sprintf("GaussLegendre needs at least one point, got %d", n))
	}
	if n == 1 {
		return []float64{0}, []float64{2}
	}

	// Golub-Welsch: eigenvalues of the Jacobi matrix are the points, the
	// squared first eigenvector components scaled by 2 the weights
	jj := mat.NewSymDense(n, nil)
	for i := 1; i < n; i++ {
		k := float64(i)
		jj.SetSym(i-1, i, k/math.Sqrt(4*k*k-1))
	}
	var eig mat.EigenSym
	if !eig.Factorize(jj, true) {
		panic("eigenvalue decomposition failed")
	}
	x = eig.Values(nil)
	var vv mat.Dense
	eig.VectorsTo(&vv)
	w = make([]float64, n)
	for j := range w {
		v := vv.At(0, j)
		w[j] = 2 * v * v
	}
	return x, w
}

// lagrange1D evaluates the 1D Lagrange basis function at node a of the
// reference points and its derivative at r
func lagrange1D(points []float64, a, r float64) (l, dl float64) {
	l = 1
	for _, b := range points {
		if b == a {
			continue
		}
		l *= (r - b) / (a - b)
	}
	for _, c := range points {
		if c == a {
			continue
		}
		term := 1 / (a - c)
		for _, b := range points {
			if b == a || b == c {
				continue
			}
			term *= (r - b) / (a - b)
		}
		dl += term
	}
	return l, dl
}

func referencePoints(order int) []float64 {
	if order == 1 {
		return []float64{-1, 1}
	}
	return []float64{-1, 0, 1}
}

// Laplacian returns the stiffness matrix of the Lagrange basis of t on an
// axis-aligned element with extents h, one entry per dimension. Rows follow
// the reference node order.
func Laplacian(t Type, h ...float64) (*mat.Dense, error) {
	props := t.Properties()
	if len(h) != t.Dim() {
		return nil, fmt.Errorf("%s needs %d extents, got %d", t, t.Dim(), len(h))
	}
	for _, hd := range h {
		if hd <= 0 {
			return nil, fmt.Errorf("non-positive element extent %g", hd)
		}
	}
	g := t.Geometry()
	pts := referencePoints(props.Order)
	qx, qw := GaussLegendre(props.Order + 1)
	np := t.Np()
	k := mat.NewDense(np, np, nil)

	// grad returns the physical gradient of basis i at (r, s)
	grad := func(i int, r, s float64) (gx, gy float64) {
		lr, dlr := lagrange1D(pts, g.R[i], r)
		if t.Dim() == 1 {
			return dlr * 2 / h[0], 0
		}
		ls, dls := lagrange1D(pts, g.S[i], s)
		return dlr * ls * 2 / h[0], lr * dls * 2 / h[1]
	}

	if t.Dim() == 1 {
		detJ := h[0] / 2
		for q, r := range qx {
			for i := 0; i < np; i++ {
				gi, _ := grad(i, r, 0)
				for j := 0; j < np; j++ {
					gj, _ := grad(j, r, 0)
					k.Set(i, j, k.At(i, j)+qw[q]*gi*gj*detJ)
				}
			}
		}
		return k, nil
	}

	detJ := h[0] * h[1] / 4
	for qr, r := range qx {
		for qs, s := range qx {
			wq := qw[qr] * qw[qs] * detJ
			for i := 0; i < np; i++ {
				gix, giy := grad(i, r, s)
				for j := 0; j < np; j++ {
					gjx, gjy := grad(j, r, s)
					k.Set(i, j, k.At(i, j)+wq*(gix*gjx+giy*gjy))
				}
			}
		}
	}
	return k, nil
}
