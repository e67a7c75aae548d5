package dofmap

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/notargets/dofmap/sparsity"
)

// Matrix is a distributed matrix whose storage follows a sparsity pattern
type Matrix interface {
	// NeedFullSparsity asks for the column indices, not just the counts
	NeedFullSparsity() bool
	UpdateSparsityPattern(p *sparsity.Pattern) error
}

// AttachMatrix registers m to receive every new sparsity pattern, and hands
// it the current one if that carries everything m needs. A matrix needing the
// full graph of a counts-only pattern waits for the next ComputeSparsity.
func (d *DofMap) AttachMatrix(m Matrix) error {
	if !d.IsAttached(m) {
		d.matrices = append(d.matrices, m)
	}
	if d.pattern == nil || (m.NeedFullSparsity() && d.pattern.Graph == nil) {
		return nil
	}
	return m.UpdateSparsityPattern(d.pattern)
}

// UpdateSparsityPattern hands the current pattern to m without attaching it
func (d *DofMap) UpdateSparsityPattern(m Matrix) error {
	if d.pattern == nil {
		return fmt.Errorf("no sparsity pattern computed: %w", ErrNotFound)
	}
	if m.NeedFullSparsity() && d.pattern.Graph == nil {
		return fmt.Errorf("matrix needs the full sparsity graph, pattern holds counts only: %w", ErrNotFound)
	}
	return m.UpdateSparsityPattern(d.pattern)
}

// IsAttached reports whether m is registered
func (d *DofMap) IsAttached(m Matrix) bool { return slices.Contains(d.matrices, m) }

// AddExtraSparsity registers a hook run on the pattern after the structural pass
func (d *DofMap) AddExtraSparsity(f sparsity.ExtraFunc) {
	d.extraSparsity = append(d.extraSparsity, f)
}

// SetConstrainedSparsityConstruction selects whether the pattern accounts for
// constraints
func (d *DofMap) SetConstrainedSparsityConstruction(b bool) { d.opts.ConstrainedSparsity = b }

// ConstrainedSparsityConstruction reports the setting above
func (d *DofMap) ConstrainedSparsityConstruction() bool { return d.opts.ConstrainedSparsity }

func (d *DofMap) needFullSparsity() bool {
	if d.opts.FullSparsity {
		return true
	}
	for _, m := range d.matrices {
		if m.NeedFullSparsity() {
			return true
		}
	}
	return false
}

// BuildSparsity computes the pattern of the owned rows without storing it.
// It is collective.
func (d *DofMap) BuildSparsity(ctx context.Context) (*sparsity.Pattern, error) {
	if err := d.requireDistributed(); err != nil {
		return nil, err
	}
	b := &sparsity.Builder{
		DofMap:      d,
		Topology:    d.topo,
		Comm:        d.comm,
		Coupling:    d.couplingFunctors,
		Constrained: d.opts.ConstrainedSparsity,
		FullGraph:   d.needFullSparsity(),
		Extra:       d.extraSparsity,
	}
	return b.Build(ctx)
}

// ComputeSparsity builds and stores the pattern and updates every attached
// matrix. It is collective.
func (d *DofMap) ComputeSparsity(ctx context.Context) error {
	ctx, span := d.startSpan(ctx, "ComputeSparsity",
		attribute.Bool("dofmap.constrained", d.opts.ConstrainedSparsity))
	defer span.End()
	p, err := d.BuildSparsity(ctx)
	if err != nil {
		return recordError(span, fmt.Errorf("computing sparsity: %w", err))
	}
	d.pattern = p
	for _, m := range d.matrices {
		if err := m.UpdateSparsityPattern(p); err != nil {
			return recordError(span, fmt.Errorf("updating matrix: %w", err))
		}
	}
	span.SetAttributes(attribute.Int("dofmap.local_nonzeros", p.TotalNonzeros()))
	return nil
}

// ComputedSparsityAlready reports whether a pattern is stored
func (d *DofMap) ComputedSparsityAlready() bool { return d.pattern != nil }

// ClearSparsity drops the stored pattern
func (d *DofMap) ClearSparsity() { d.pattern = nil }

// SparsityPattern is the stored pattern, or nil
func (d *DofMap) SparsityPattern() *sparsity.Pattern { return d.pattern }

// NNZ is the on-processor nonzero count of each owned row
func (d *DofMap) NNZ() []int {
	if d.pattern == nil {
		return nil
	}
	return d.pattern.NNZ
}

// NOZ is the off-processor nonzero count of each owned row
func (d *DofMap) NOZ() []int {
	if d.pattern == nil {
		return nil
	}
	return d.pattern.NOZ
}
