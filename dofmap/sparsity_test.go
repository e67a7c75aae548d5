package dofmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/dofmap/mesh"
	"github.com/notargets/dofmap/sparsity"
)

type recordingMatrix struct {
	full     bool
	patterns []*sparsity.Pattern
}

func (m *recordingMatrix) NeedFullSparsity() bool { return m.full }

func (m *recordingMatrix) UpdateSparsityPattern(p *sparsity.Pattern) error {
	m.patterns = append(m.patterns, p)
	return nil
}

func TestConstrainedSparsityOnHangingMesh(t *testing.T) {
	d := single(t, twoQuadsLeftRefined(t), Options{}, addU)
	ctx := context.Background()
	require.NoError(t, d.Reinit(ctx, 0))
	free := d.SparsityPattern()
	require.NoError(t, free.Validate())

	d.SetConstrainedSparsityConstruction(true)
	require.NoError(t, d.ComputeSparsity(ctx))
	constrained := d.SparsityPattern()
	require.NoError(t, constrained.Validate())

	h := findNode(d.Topology(), mesh.Point{X: 1, Y: 0.5}).DofNumber(0, 0, 0)
	for row := range free.NNZ {
		assert.LessOrEqual(t, constrained.NNZ[row], free.NNZ[row], "row %d", row)
	}
	// The hanging row couples only to itself and its two sources
	assert.Equal(t, 3, constrained.NNZ[h])
	assert.Greater(t, free.NNZ[h], 3)
}

func TestAttachMatrix(t *testing.T) {
	d := single(t, line(t, 3), Options{}, addU)
	counts := &recordingMatrix{}
	full := &recordingMatrix{full: true}
	require.NoError(t, d.AttachMatrix(counts))
	require.NoError(t, d.AttachMatrix(full))
	require.NoError(t, d.AttachMatrix(full))
	assert.True(t, d.IsAttached(full))
	require.False(t, d.ComputedSparsityAlready())

	var hooked int
	d.AddExtraSparsity(func(graph sparsity.Graph, nnz, noz []int) { hooked = len(graph) })
	require.NoError(t, d.Reinit(context.Background(), 0))
	require.Len(t, counts.patterns, 1)
	require.Len(t, full.patterns, 1)
	assert.NotNil(t, full.patterns[0].Graph)
	assert.Equal(t, []int{2, 3, 3, 2}, d.NNZ())
	assert.Equal(t, []int{0, 0, 0, 0}, d.NOZ())
	assert.Equal(t, 4, hooked)

	late := &recordingMatrix{}
	require.NoError(t, d.AttachMatrix(late))
	assert.Len(t, late.patterns, 1, "a matrix attached late gets the current pattern")
	detached := &recordingMatrix{}
	require.NoError(t, d.UpdateSparsityPattern(detached))
	assert.Len(t, detached.patterns, 1)
	assert.False(t, d.IsAttached(detached))

	d.ClearSparsity()
	assert.Nil(t, d.NNZ())
	assert.ErrorIs(t, d.UpdateSparsityPattern(detached), ErrNotFound)
}
