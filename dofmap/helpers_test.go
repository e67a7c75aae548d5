package dofmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/notargets/dofmap/element"
	"github.com/notargets/dofmap/mesh"
	"github.com/notargets/dofmap/parallel"
	"github.com/notargets/dofmap/partitions"
)

var (
	lagrange1 = element.FEType{Order: 1, Family: element.Lagrange}
	monomial0 = element.FEType{Order: 0, Family: element.Monomial}
	scalar1   = element.FEType{Order: 1, Family: element.Scalar}
)

// runDofMaps partitions m and runs fn on every processor with its own copy
// of the mesh and a DofMap configured by setup
func runDofMaps(t *testing.T, m *mesh.Mesh, nprocs int, opts Options,
	setup func(d *DofMap) error, fn func(ctx context.Context, d *DofMap) error) {
	t.Helper()
	require.NoError(t, m.Partition(nprocs, partitions.BlockPartition))
	err := parallel.Run(context.Background(), nprocs, func(ctx context.Context, c *parallel.Comm) error {
		d := New(m.Clone(), c, opts)
		if setup != nil {
			if err := setup(d); err != nil {
				return err
			}
		}
		return fn(ctx, d)
	})
	require.NoError(t, err)
}

// single builds a one processor DofMap over m
func single(t *testing.T, m *mesh.Mesh, opts Options, setup func(d *DofMap) error) *DofMap {
	t.Helper()
	w := parallel.NewWorld(1)
	d := New(m, w.Comm(0), opts)
	if setup != nil {
		require.NoError(t, setup(d))
	}
	return d
}

func line(t *testing.T, n int) *mesh.Mesh {
	t.Helper()
	m, err := mesh.BuildLine(n, 0, float64(n), element.Edge2)
	require.NoError(t, err)
	return m
}

func square(t *testing.T, nx, ny int, et element.Type) *mesh.Mesh {
	t.Helper()
	m, err := mesh.BuildSquare(nx, ny, mesh.Point{}, mesh.Point{X: float64(nx), Y: float64(ny)}, et)
	require.NoError(t, err)
	return m
}

// twoQuadsLeftRefined is a 2x1 Quad4 mesh on [0,2]x[0,1] with the left
// element refined once, leaving a hanging node at (1, 0.5)
func twoQuadsLeftRefined(t *testing.T) *mesh.Mesh {
	t.Helper()
	m := square(t, 2, 1, element.Quad4)
	require.NoError(t, m.Refine(m.Elem(0)))
	return m
}

func findNode(topo mesh.Topology, p mesh.Point) *mesh.Node {
	for _, n := range topo.Nodes() {
		if n.Point.Dist(p) < 1e-12 {
			return n
		}
	}
	return nil
}

func addU(d *DofMap) error {
	_, err := d.AddVariable("u", lagrange1)
	return err
}

// denseVector is a one processor Vector
type denseVector []float64

func (v denseVector) FirstIndex() int                    { return 0 }
func (v denseVector) EndIndex() int                      { return len(v) }
func (v denseVector) At(i int) float64                   { return v[i] }
func (v denseVector) SetAt(i int, x float64)             { v[i] = x }
func (v denseVector) Localize(ctx context.Context) error { return nil }
