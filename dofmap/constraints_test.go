package dofmap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/dofmap/mesh"
)

func TestHangingNodeConstraint(t *testing.T) {
	for nprocs := 1; nprocs <= 2; nprocs++ {
		t.Run(fmt.Sprintf("procs=%d", nprocs), func(t *testing.T) {
			m := twoQuadsLeftRefined(t)
			type result struct {
				owner    bool
				row      ConstraintRow
				expected ConstraintRow
				known    bool
				total    int
			}
			results := make([]result, nprocs)
			runDofMaps(t, m, nprocs, Options{ErrorOnConstraintLoop: true}, addU,
				func(ctx context.Context, d *DofMap) error {
					if err := d.Reinit(ctx, 0); err != nil {
						return err
					}
					topo := d.Topology()
					h := findNode(topo, mesh.Point{X: 1, Y: 0.5}).DofNumber(0, 0, 0)
					a := findNode(topo, mesh.Point{X: 1, Y: 0}).DofNumber(0, 0, 0)
					b := findNode(topo, mesh.Point{X: 1, Y: 1}).DofNumber(0, 0, 0)
					r := result{owner: d.LocalIndex(h), expected: ConstraintRow{a: 0.5, b: 0.5}}
					r.row, r.known = d.ConstraintRow(h)
					n, err := d.NConstrainedDofs(ctx)
					r.total = n
					results[d.Comm().Rank()] = r
					return err
				})
			for p, r := range results {
				assert.Equal(t, 1, r.total)
				if r.owner {
					require.True(t, r.known, "owner %d lacks the hanging row", p)
				}
				if r.known {
					require.Len(t, r.row, 2)
					for s, w := range r.expected {
						assert.InDelta(t, w, r.row[s], 1e-14)
					}
				}
			}
		})
	}
}

// periodicLine is a 1D line on [0,4] whose left end is periodic with its
// right end, registered before a Dirichlet condition of 3 on the right end
func periodicLine(t *testing.T, adjoint bool) *DofMap {
	t.Helper()
	return single(t, line(t, 4), Options{ErrorOnConstraintLoop: true}, func(d *DofMap) error {
		if err := addU(d); err != nil {
			return err
		}
		err := d.AddPeriodicBoundary(&PeriodicBoundary{
			Boundary:       0,
			PairedBoundary: 1,
			Translation:    mesh.Point{X: 4},
		})
		if err != nil {
			return err
		}
		three := func(mesh.Point, float64) float64 { return 3 }
		if err := d.AddDirichletBoundary(&DirichletBoundary{Boundaries: []int{1}, Value: three}); err != nil {
			return err
		}
		if !adjoint {
			return nil
		}
		seven := func(mesh.Point, float64) float64 { return 7 }
		return d.AddAdjointDirichletBoundary(&DirichletBoundary{Boundaries: []int{1}, Value: seven}, 0)
	})
}

func TestPeriodicThenDirichletResolves(t *testing.T) {
	d := periodicLine(t, true)
	require.NoError(t, d.Reinit(context.Background(), 0))
	const a, b = 0, 4

	row, ok := d.ConstraintRow(a)
	require.True(t, ok)
	assert.Empty(t, row, "the periodic source is itself constrained and must be eliminated")
	assert.Equal(t, 3.0, d.ConstraintRHS(a, Primal))
	assert.Equal(t, 3.0, d.ConstraintRHS(b, Primal))
	assert.Equal(t, 7.0, d.ConstraintRHS(a, 0))
	assert.Equal(t, 7.0, d.ConstraintRHS(b, 0))
	assert.Zero(t, d.ConstraintRHS(a, 1), "missing adjoint values are zero")
	assert.True(t, d.HasHeterogeneousAdjointConstraints(0))
	assert.Equal(t, 2, d.NLocalConstrainedDofs())
	assert.True(t, d.IsPeriodicBoundary(1))

	v := make(denseVector, d.NDofs())
	ctx := context.Background()
	require.NoError(t, d.EnforceConstraintsExactly(ctx, v, false))
	assert.Equal(t, denseVector{3, 0, 0, 0, 3}, v)
	require.NoError(t, d.EnforceConstraintsExactly(ctx, v, true))
	assert.Equal(t, denseVector{0, 0, 0, 0, 0}, v)
	require.NoError(t, d.EnforceAdjointConstraintsExactly(ctx, v, 0))
	assert.Equal(t, denseVector{7, 0, 0, 0, 7}, v)
	assert.ErrorIs(t, d.EnforceConstraintsExactly(ctx, make(denseVector, 3), false), ErrSizeMismatch)
}

func TestPeriodicOnlyConstrainsPrimaryBoundary(t *testing.T) {
	d := single(t, line(t, 3), Options{}, func(d *DofMap) error {
		if err := addU(d); err != nil {
			return err
		}
		return d.AddPeriodicBoundary(&PeriodicBoundary{Boundary: 0, PairedBoundary: 1, Translation: mesh.Point{X: 3}})
	})
	require.NoError(t, d.Reinit(context.Background(), 0))
	row, ok := d.ConstraintRow(0)
	require.True(t, ok)
	assert.Equal(t, ConstraintRow{3: 1}, row)
	assert.False(t, d.IsConstrainedDof(3))
}

// The refined half of twoQuadsLeftRefined touches x=0, so the periodic
// sides there are finer than their partners at x=2 whichever way the pair
// is registered
func TestPeriodicWithRefinedSide(t *testing.T) {
	tests := []struct {
		name string
		pb   PeriodicBoundary
	}{
		{"fine paired side", PeriodicBoundary{Boundary: 1, PairedBoundary: 3, Translation: mesh.Point{X: -2}}},
		{"fine primary side", PeriodicBoundary{Boundary: 3, PairedBoundary: 1, Translation: mesh.Point{X: 2}}},
	}
	fine := []mesh.Point{{X: 0, Y: 0}, {X: 0, Y: 0.5}, {X: 0, Y: 1}}
	coarse := []mesh.Point{{X: 2, Y: 0}, {X: 2, Y: 1}}
	weights := [][]float64{{1, 0}, {0.5, 0.5}, {0, 1}}

	for _, tt := range tests {
		for nprocs := 1; nprocs <= 2; nprocs++ {
			t.Run(fmt.Sprintf("%s/procs=%d", tt.name, nprocs), func(t *testing.T) {
				setup := func(d *DofMap) error {
					if err := addU(d); err != nil {
						return err
					}
					pb := tt.pb
					return d.AddPeriodicBoundary(&pb)
				}
				totals := make([]int, nprocs)
				runDofMaps(t, twoQuadsLeftRefined(t), nprocs, Options{ErrorOnConstraintLoop: true}, setup,
					func(ctx context.Context, d *DofMap) error {
						if err := d.Reinit(ctx, 0); err != nil {
							return err
						}
						topo := d.Topology()
						src := make([]int, len(coarse))
						for j, p := range coarse {
							src[j] = findNode(topo, p).DofNumber(0, 0, 0)
							if d.LocalIndex(src[j]) && d.IsConstrainedDof(src[j]) {
								return fmt.Errorf("coarse node %v is constrained", p)
							}
						}
						for i, p := range fine {
							dof := findNode(topo, p).DofNumber(0, 0, 0)
							row, ok := d.ConstraintRow(dof)
							if !ok {
								if d.LocalIndex(dof) {
									return fmt.Errorf("fine node %v has no row on its owner", p)
								}
								continue
							}
							want := ConstraintRow{}
							for j, w := range weights[i] {
								if w != 0 {
									want[src[j]] = w
								}
							}
							if len(row) != len(want) {
								return fmt.Errorf("fine node %v: row %v, want %v", p, row, want)
							}
							for s, w := range want {
								if math.Abs(row[s]-w) > 1e-14 {
									return fmt.Errorf("fine node %v: row %v, want %v", p, row, want)
								}
							}
						}
						n, err := d.NConstrainedDofs(ctx)
						totals[d.Comm().Rank()] = n
						return err
					})
				// Three periodic rows plus the interior hanging node
				for _, n := range totals {
					assert.Equal(t, 4, n)
				}
			})
		}
	}
}

func TestAdjointWithoutPrimalFails(t *testing.T) {
	d := single(t, line(t, 2), Options{}, func(d *DofMap) error {
		if err := addU(d); err != nil {
			return err
		}
		return d.AddAdjointDirichletBoundary(&DirichletBoundary{Boundaries: []int{0}}, 0)
	})
	assert.ErrorIs(t, d.Reinit(context.Background(), 0), ErrNotFound)
}

func TestBoundaryRegistrationErrors(t *testing.T) {
	d := single(t, line(t, 2), Options{}, addU)
	assert.ErrorIs(t, d.AddDirichletBoundary(&DirichletBoundary{Boundaries: []int{9}}), ErrUnknownBoundary)
	assert.ErrorIs(t, d.AddDirichletBoundary(&DirichletBoundary{Boundaries: []int{0}, Variables: []int{4}}), ErrInvalidVariable)
	assert.ErrorIs(t, d.AddPeriodicBoundary(&PeriodicBoundary{Boundary: 0, PairedBoundary: 7}), ErrUnknownBoundary)
	assert.ErrorIs(t, d.AddAdjointDirichletBoundary(&DirichletBoundary{Boundaries: []int{0}}, -1), ErrInvalidVariable)
	assert.ErrorIs(t, d.AddUserConstraint(&UserConstraint{Rows: map[int]ConstraintRow{1: {1: 1}}}), ErrConstraintLoop)

	db := &DirichletBoundary{Boundaries: []int{0}}
	require.NoError(t, d.AddDirichletBoundary(db))
	assert.Len(t, d.BoundaryConditions(), 1)
	d.RemoveDirichletBoundary(db)
	assert.Empty(t, d.BoundaryConditions())
}

func TestDirichletBoundaryIDConsistency(t *testing.T) {
	runDofMaps(t, line(t, 4), 2, Options{}, addU, func(ctx context.Context, d *DofMap) error {
		same := &DirichletBoundary{Boundaries: []int{1, 0, 1}}
		if err := d.CheckDirichletBoundaryIDConsistency(ctx, same); err != nil {
			return err
		}
		unknown := &DirichletBoundary{Boundaries: []int{5}}
		if err := d.CheckDirichletBoundaryIDConsistency(ctx, unknown); !errors.Is(err, ErrUnknownBoundary) {
			return fmt.Errorf("unknown boundary: got %v", err)
		}
		differs := &DirichletBoundary{Boundaries: []int{d.Comm().Rank()}}
		if err := d.CheckDirichletBoundaryIDConsistency(ctx, differs); !errors.Is(err, ErrInconsistentBoundary) {
			return fmt.Errorf("differing boundaries: got %v", err)
		}
		return nil
	})
}

func TestBoundaryPriority(t *testing.T) {
	first := &DirichletBoundary{Boundaries: []int{0}, Value: func(mesh.Point, float64) float64 { return 1 }}
	second := &DirichletBoundary{Boundaries: []int{0}, Value: func(mesh.Point, float64) float64 { return 2 }}
	d := single(t, line(t, 2), Options{}, func(d *DofMap) error {
		if err := addU(d); err != nil {
			return err
		}
		if err := d.AddDirichletBoundary(first); err != nil {
			return err
		}
		return d.AddDirichletBoundary(second)
	})
	require.NoError(t, d.Reinit(context.Background(), 0))
	assert.Equal(t, 1.0, d.ConstraintRHS(0, Primal))
}

func TestUserConstraintChain(t *testing.T) {
	d := single(t, line(t, 4), Options{}, func(d *DofMap) error {
		if err := addU(d); err != nil {
			return err
		}
		return d.AddUserConstraint(&UserConstraint{
			Rows: map[int]ConstraintRow{0: {1: 2}, 1: {2: 0.5}},
			RHS:  map[int]float64{0: 1, 1: 4},
		})
	})
	require.NoError(t, d.Reinit(context.Background(), 0))
	row, _ := d.ConstraintRow(0)
	assert.Equal(t, ConstraintRow{2: 1}, row)
	assert.Equal(t, 9.0, d.ConstraintRHS(0, Primal))
}

func TestConstraintLoop(t *testing.T) {
	build := func(errorOnLoop bool) (*DofMap, error) {
		d := single(t, line(t, 3), Options{}, addU)
		d.SetErrorOnConstraintLoop(errorOnLoop)
		ctx := context.Background()
		require.NoError(t, d.Distribute(ctx))
		require.NoError(t, d.AddConstraintRow(0, ConstraintRow{1: 1}, 0, false))
		require.NoError(t, d.AddConstraintRow(1, ConstraintRow{0: 1}, 0, false))
		return d, d.ProcessConstraints(ctx)
	}
	_, err := build(true)
	assert.ErrorIs(t, err, ErrConstraintLoop)

	d, err := build(false)
	require.NoError(t, err)
	for _, dof := range []int{0, 1} {
		row, ok := d.ConstraintRow(dof)
		require.True(t, ok)
		assert.Empty(t, row)
	}
}

func TestAddConstraintRow(t *testing.T) {
	d := single(t, line(t, 3), Options{}, addU)
	require.NoError(t, d.Distribute(context.Background()))
	require.NoError(t, d.AddConstraintRow(1, ConstraintRow{0: 0.5, 2: 0.5}, 0, false))
	assert.ErrorIs(t, d.AddConstraintRow(1, ConstraintRow{0: 1}, 0, false), ErrConstraintOverwrite)
	require.NoError(t, d.AddConstraintRow(1, ConstraintRow{0: 1}, 2, true))
	assert.Equal(t, 2.0, d.ConstraintRHS(1, Primal))
	assert.ErrorIs(t, d.AddConstraintRow(2, ConstraintRow{2: 1}, 0, false), ErrConstraintLoop)
	assert.ErrorIs(t, d.AddConstraintRow(99, nil, 0, false), ErrInvalidVariable)

	require.NoError(t, d.AddAdjointConstraintRow(0, 3, ConstraintRow{2: 1}, 5, false))
	assert.Equal(t, 5.0, d.ConstraintRHS(3, 0))
	assert.Zero(t, d.ConstraintRHS(3, Primal))
	assert.ErrorIs(t, d.AddAdjointConstraintRow(0, 3, ConstraintRow{2: 1}, 6, false), ErrConstraintOverwrite)

	v, ok := d.HeterogeneousAdjointConstraint(0, 3)
	assert.True(t, ok)
	assert.Equal(t, 5.0, v)
	_, ok = d.HeterogeneousAdjointConstraint(1, 3)
	assert.False(t, ok)
	assert.Equal(t, map[int]float64{1: 2}, d.PrimalConstraintValues())
}

func TestStashAndSwap(t *testing.T) {
	d := single(t, line(t, 3), Options{}, addU)
	require.NoError(t, d.Distribute(context.Background()))
	require.NoError(t, d.AddConstraintRow(1, ConstraintRow{0: 1}, 0, false))

	require.NoError(t, d.StashDofConstraints())
	assert.False(t, d.IsConstrainedDof(1))
	require.NoError(t, d.AddConstraintRow(2, ConstraintRow{0: 1}, 0, false))
	assert.ErrorIs(t, d.UnstashDofConstraints(), ErrStashNotEmpty)

	d.SwapDofConstraints()
	assert.True(t, d.IsConstrainedDof(1))
	assert.False(t, d.IsConstrainedDof(2))
	assert.ErrorIs(t, d.StashDofConstraints(), ErrStashNotEmpty)

	d.SwapDofConstraints()
	assert.True(t, d.IsConstrainedDof(2))
	d.Constraints().Clear()
	require.NoError(t, d.UnstashDofConstraints())
	assert.True(t, d.IsConstrainedDof(1))
}

func TestNodeConstraints(t *testing.T) {
	m := line(t, 2)
	mid := findNode(m, mesh.Point{X: 1})
	require.NoError(t, m.AddNodeConstraint(mid.ID(), mesh.NodeConstraintRow{
		Sources: map[int]float64{findNode(m, mesh.Point{}).ID(): 0.5, findNode(m, mesh.Point{X: 2}).ID(): 0.5},
		Point:   mid.Point,
	}))
	d := single(t, m, Options{}, addU)
	require.NoError(t, d.Reinit(context.Background(), 0))
	assert.True(t, d.IsConstrainedNode(mid))
	assert.Equal(t, 1, d.NConstrainedNodes())
	nrow, ok := d.NodeConstraintRow(mid)
	require.True(t, ok)
	assert.Len(t, nrow.Sources, 2)
	row, ok := d.ConstraintRow(mid.DofNumber(0, 0, 0))
	require.True(t, ok)
	assert.Equal(t, ConstraintRow{0: 0.5, 2: 0.5}, row)
}

func TestMaxConstraintError(t *testing.T) {
	d := single(t, twoQuadsLeftRefined(t), Options{}, addU)
	ctx := context.Background()
	require.NoError(t, d.Reinit(ctx, 0))
	v := make(denseVector, d.NDofs())
	for i := range v {
		v[i] = float64(i * i)
	}
	abs, _, err := d.MaxConstraintError(ctx, v)
	require.NoError(t, err)
	assert.Greater(t, abs, 0.0)

	require.NoError(t, d.EnforceConstraintsExactly(ctx, v, false))
	abs, rel, err := d.MaxConstraintError(ctx, v)
	require.NoError(t, err)
	assert.Zero(t, abs)
	assert.Zero(t, rel)
}

func TestInfoAndPrint(t *testing.T) {
	d := periodicLine(t, false)
	ctx := context.Background()
	require.NoError(t, d.Reinit(ctx, 0))
	info, err := d.Info(ctx)
	require.NoError(t, err)
	assert.Contains(t, info, "Number of DoF Constraints = 2")
	assert.Contains(t, info, "Number of Heterogenous Constraints = 2")
	assert.Contains(t, info, "Maximum  On-Processor Bandwidth <= 5")

	var buf bytes.Buffer
	require.NoError(t, d.PrintDofConstraints(ctx, &buf, false))
	assert.Contains(t, buf.String(), "Processor 0:")
	assert.Contains(t, buf.String(), "Constraints for DoF 4: \trhs: 3")
}
