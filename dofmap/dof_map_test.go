package dofmap

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/dofmap/element"
	"github.com/notargets/dofmap/ghosting"
	"github.com/notargets/dofmap/mesh"
)

func TestAddVariableGroups(t *testing.T) {
	d := single(t, line(t, 2), Options{}, nil)
	u, err := d.AddVariable("u", lagrange1)
	require.NoError(t, err)
	v, err := d.AddVariable("v", lagrange1)
	require.NoError(t, err)
	assert.Equal(t, 0, u)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, d.NVariableGroups())
	assert.True(t, d.HasBlockedRepresentation())
	assert.Equal(t, 2, d.BlockSize())

	p, err := d.AddVariable("p", monomial0)
	require.NoError(t, err)
	assert.Equal(t, 2, d.NVariableGroups())
	assert.Equal(t, 1, d.Variable(p).Group())
	assert.False(t, d.HasBlockedRepresentation())
	assert.True(t, d.UseCoupledNeighborDofs())

	n, err := d.VariableNumber("p")
	require.NoError(t, err)
	assert.Equal(t, p, n)
	_, err = d.VariableNumber("q")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = d.AddVariable("u", lagrange1)
	assert.ErrorIs(t, err, ErrInvalidVariable)
	_, err = d.AddVariable("s", element.FEType{Family: element.Scalar})
	assert.ErrorIs(t, err, ErrInvalidVariable)
}

func TestDistributeSingleLine(t *testing.T) {
	d := single(t, line(t, 4), Options{}, addU)
	require.NoError(t, d.Distribute(context.Background()))
	assert.Equal(t, 5, d.NDofs())
	for k, e := range d.Topology().ActiveElements() {
		assert.Equal(t, []int{k, k + 1}, d.DofIndices(e))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, d.LocalDofIndices(0))
}

func TestDistributeOwnership(t *testing.T) {
	setup := func(d *DofMap) error {
		if _, err := d.AddVariable("u", lagrange1); err != nil {
			return err
		}
		if _, err := d.AddVariable("p", monomial0); err != nil {
			return err
		}
		_, err := d.AddVariable("lambda", scalar1)
		return err
	}
	// 25 vertices, 16 elements, one SCALAR
	const total = 42

	type result struct {
		first, end, n int
		dofs          map[int][]int
		local         []int
		scalar        []int
		misplaced     []string
	}
	for _, nodeMajor := range []bool{false, true} {
		for nprocs := 1; nprocs <= 4; nprocs++ {
			t.Run(fmt.Sprintf("procs=%d/nodeMajor=%v", nprocs, nodeMajor), func(t *testing.T) {
				m := square(t, 4, 4, element.Quad4)
				results := make([]result, nprocs)
				runDofMaps(t, m, nprocs, Options{NodeMajorDofs: nodeMajor}, setup,
					func(ctx context.Context, d *DofMap) error {
						if err := d.Distribute(ctx); err != nil {
							return err
						}
						r := result{
							first:  d.FirstDof(),
							end:    d.EndDof(),
							n:      d.NDofs(),
							dofs:   make(map[int][]int),
							scalar: d.SCALARDofIndices(2),
						}
						for _, e := range d.Topology().ActiveElements() {
							r.dofs[e.ID()] = d.DofIndices(e)
							for _, n := range e.Nodes {
								if p := d.DofOwner(n.DofNumber(0, 0, 0)); p != n.ProcessorID() {
									r.misplaced = append(r.misplaced, fmt.Sprintf("node %d on %d", n.ID(), p))
								}
							}
							if p := d.DofOwner(e.DofNumber(1, 0, 0)); p != e.ProcessorID() {
								r.misplaced = append(r.misplaced, fmt.Sprintf("elem %d on %d", e.ID(), p))
							}
						}
						for v := 0; v < d.NVariables(); v++ {
							r.local = append(r.local, d.LocalDofIndices(v)...)
						}
						results[d.Comm().Rank()] = r
						return d.checkNumbering()
					})

				var all []int
				for p, r := range results {
					assert.Equal(t, total, r.n)
					if p > 0 {
						assert.Equal(t, results[p-1].end, r.first)
					}
					assert.Equal(t, results[0].dofs, r.dofs, "numbering seen by processor %d", p)
					assert.Empty(t, r.misplaced)
					assert.Equal(t, []int{total - 1}, r.scalar)
					for _, dof := range r.local {
						assert.True(t, dof >= r.first && dof < r.end, "dof %d outside [%d, %d)", dof, r.first, r.end)
					}
					all = append(all, r.local...)
				}
				assert.Equal(t, 0, results[0].first)
				assert.Equal(t, total, results[nprocs-1].end)
				slices.Sort(all)
				expected := make([]int, total)
				for i := range expected {
					expected[i] = i
				}
				assert.Equal(t, expected, all)
			})
		}
	}
}

func TestOwnershipQueriesMatchLinearScan(t *testing.T) {
	m := square(t, 3, 3, element.Quad9)
	runDofMaps(t, m, 3, Options{}, addU, func(ctx context.Context, d *DofMap) error {
		if err := d.Reinit(ctx, 0); err != nil {
			return err
		}
		for dof := 0; dof < d.NDofs(); dof++ {
			owner := -1
			for p := 0; p < d.Comm().Size(); p++ {
				if dof >= d.FirstDofOn(p) && dof < d.EndDofOn(p) {
					owner = p
				}
			}
			if got := d.DofOwner(dof); got != owner {
				return fmt.Errorf("dof %d: owner %d, scan says %d", dof, got, owner)
			}
			if d.LocalIndex(dof) != (owner == d.Comm().Rank()) {
				return fmt.Errorf("dof %d: LocalIndex disagrees with owner %d", dof, owner)
			}
			inSend := slices.Contains(d.SendList(), dof)
			if d.SemilocalIndex(dof) != (d.LocalIndex(dof) || inSend) {
				return fmt.Errorf("dof %d: SemilocalIndex disagrees with scan", dof)
			}
		}
		for _, e := range d.Topology().ActiveLocalElements(d.Comm().Rank()) {
			if !d.IsEvaluable(e) {
				return fmt.Errorf("local element %d not evaluable", e.ID())
			}
		}
		return nil
	})
}

func TestSendListOnSplitLine(t *testing.T) {
	m := line(t, 4)
	lists := make([][]int, 2)
	runDofMaps(t, m, 2, Options{}, addU, func(ctx context.Context, d *DofMap) error {
		if err := d.Reinit(ctx, 0); err != nil {
			return err
		}
		lists[d.Comm().Rank()] = slices.Clone(d.SendList())
		return nil
	})
	assert.Equal(t, []int{3}, lists[0])
	assert.Equal(t, []int{1, 2}, lists[1])
}

func TestExtraSendList(t *testing.T) {
	d := single(t, line(t, 2), Options{}, addU)
	d.AddExtraSendList(func(sendList []int) []int { return append(sendList, 2, 0, 2) })
	require.NoError(t, d.Reinit(context.Background(), 0))
	// Owned entries never enter the send list
	assert.Empty(t, d.SendList())
}

func TestEmptyFunctorChangesNothing(t *testing.T) {
	empty := ghosting.FunctorFunc(func(int, []*mesh.Elem) ghosting.Map { return ghosting.Map{} })
	type result struct {
		send     []int
		nnz, noz []int
	}
	run := func(extra bool) []result {
		m := square(t, 3, 2, element.Quad4)
		out := make([]result, 2)
		runDofMaps(t, m, 2, Options{}, addU, func(ctx context.Context, d *DofMap) error {
			if extra {
				d.AddCouplingFunctor(empty)
				d.AddAlgebraicGhostingFunctor(empty)
			}
			if err := d.Reinit(ctx, 0); err != nil {
				return err
			}
			out[d.Comm().Rank()] = result{slices.Clone(d.SendList()), d.NNZ(), d.NOZ()}
			return nil
		})
		return out
	}
	assert.Equal(t, run(false), run(true))
}

func TestDiscontinuousCouplesNeighbors(t *testing.T) {
	m := line(t, 4)
	lists := make([][]int, 2)
	nnz := make([][]int, 2)
	setup := func(d *DofMap) error {
		_, err := d.AddVariable("c", monomial0)
		return err
	}
	runDofMaps(t, m, 2, Options{}, setup, func(ctx context.Context, d *DofMap) error {
		if err := d.Reinit(ctx, 0); err != nil {
			return err
		}
		lists[d.Comm().Rank()] = d.SendList()
		nnz[d.Comm().Rank()] = d.NNZ()
		return nil
	})
	// One unknown per element; each couples to its face neighbors
	assert.Equal(t, []int{2}, lists[0])
	assert.Equal(t, []int{1}, lists[1])
	assert.Equal(t, []int{2, 2}, nnz[0])
	assert.Equal(t, []int{2, 2}, nnz[1])
}

func TestRemoveDefaultGhosting(t *testing.T) {
	m := line(t, 4)
	lists := make([][]int, 2)
	nnz := make([][]int, 2)
	setup := func(d *DofMap) error {
		_, err := d.AddVariable("c", monomial0)
		d.RemoveDefaultGhosting()
		return err
	}
	runDofMaps(t, m, 2, Options{}, setup, func(ctx context.Context, d *DofMap) error {
		if len(d.CouplingFunctors()) != 0 || len(d.AlgebraicGhostingFunctors()) != 0 {
			return fmt.Errorf("default functors still registered")
		}
		if err := d.Reinit(ctx, 0); err != nil {
			return err
		}
		lists[d.Comm().Rank()] = d.SendList()
		nnz[d.Comm().Rank()] = d.NNZ()

		d.AddDefaultGhosting()
		d.AddDefaultGhosting()
		if len(d.CouplingFunctors()) != 1 || len(d.AlgebraicGhostingFunctors()) != 1 {
			return fmt.Errorf("default functors not restored exactly once")
		}
		return nil
	})
	// Nothing couples, so nothing is ghosted or preallocated
	assert.Empty(t, lists[0])
	assert.Empty(t, lists[1])
	assert.Equal(t, []int{0, 0}, nnz[0])
	assert.Equal(t, []int{0, 0}, nnz[1])
}

func TestOldDofIndices(t *testing.T) {
	d := single(t, line(t, 2), Options{}, func(d *DofMap) error {
		if _, err := d.AddVariable("u", lagrange1); err != nil {
			return err
		}
		_, err := d.AddVariable("c", monomial0)
		return err
	})
	ctx := context.Background()
	require.NoError(t, d.Distribute(ctx))
	e := d.Topology().ActiveElements()[1]
	// Variable major: all of u, then all of c
	assert.Equal(t, []int{1, 2, 4}, d.DofIndices(e))

	d.opts.NodeMajorDofs = true
	require.NoError(t, d.Distribute(ctx))
	assert.Equal(t, []int{1, 2, 4}, d.OldDofIndices(e))
	assert.Equal(t, 5, d.NOldDofs())
	assert.Equal(t, 0, d.FirstOldDof())
	assert.Equal(t, 5, d.EndOldDof())
	// Node major numbers each entity's unknowns together
	assert.Equal(t, []int{1, 3, 4}, d.DofIndices(e))

	n := findNode(d.Topology(), mesh.Point{X: 2})
	dofs, err := d.NodeDofIndices(n)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, dofs)
	dofs, err = d.NodeDofIndices(n, 1)
	require.NoError(t, err)
	assert.Empty(t, dofs, "element variables have nothing on nodes")
	_, err = d.NodeDofIndices(n, 0, 7)
	assert.ErrorIs(t, err, ErrInvalidVariable)
}

func TestQueriesRequireDistribution(t *testing.T) {
	d := single(t, line(t, 2), Options{}, addU)
	ctx := context.Background()
	assert.ErrorIs(t, d.CreateDofConstraints(ctx, 0), ErrNotDistributed)
	assert.ErrorIs(t, d.ProcessConstraints(ctx), ErrNotDistributed)
	_, err := d.BuildSparsity(ctx)
	assert.ErrorIs(t, err, ErrNotDistributed)
	assert.ErrorIs(t, d.EnforceConstraintsExactly(ctx, denseVector{}, false), ErrNotDistributed)
}

func TestClear(t *testing.T) {
	d := single(t, line(t, 2), Options{}, addU)
	require.NoError(t, d.Reinit(context.Background(), 0))
	d.Clear()
	assert.Zero(t, d.NDofs())
	assert.Zero(t, d.NVariables())
	assert.False(t, d.ComputedSparsityAlready())
	for _, n := range d.Topology().Nodes() {
		assert.Equal(t, mesh.InvalidID, n.DofNumber(0, 0, 0))
	}
}
