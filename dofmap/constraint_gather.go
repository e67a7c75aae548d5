package dofmap

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/notargets/dofmap/parallel"
)

// rowMessage carries one constraint row between processors
type rowMessage struct {
	Dof      int
	Found    bool
	Row      map[int]float64
	RHS      float64
	Priority int
	Adjoint  map[int]float64 // qoi -> rhs
}

func (c *DofConstraints) message(dof int) rowMessage {
	e, ok := c.get(dof)
	if !ok {
		return rowMessage{Dof: dof}
	}
	msg := rowMessage{Dof: dof, Found: true, Row: e.row.Clone(), RHS: e.rhs, Priority: e.priority}
	for q, m := range c.adjoint {
		if v, ok := m[dof]; ok {
			if msg.Adjoint == nil {
				msg.Adjoint = make(map[int]float64)
			}
			msg.Adjoint[q] = v
		}
	}
	return msg
}

// merge stores msg under the usual precedence and reports whether it won
func (c *DofConstraints) merge(msg rowMessage) bool {
	if !c.insert(msg.Dof, ConstraintRow(msg.Row).Clone(), msg.RHS, msg.Priority) {
		return false
	}
	for q, v := range msg.Adjoint {
		c.setAdjoint(q, msg.Dof, v)
	}
	return true
}

// overwrite stores msg unconditionally
func (c *DofConstraints) overwrite(msg rowMessage) {
	c.remove(msg.Dof)
	c.replace(msg.Dof, ConstraintRow(msg.Row).Clone(), msg.RHS, msg.Priority)
	for q, v := range msg.Adjoint {
		c.setAdjoint(q, msg.Dof, v)
	}
}

// constraintFrontier tracks the DOFs whose constraint status is still needed.
// Visiting a DOF with a known row follows its sources; visiting an unknown
// DOF owned elsewhere queues a query to its owner.
type constraintFrontier struct {
	local   func(dof int) bool
	sources func(dof int) ([]int, bool)
	visited map[int]bool
	pending []int
}

func newConstraintFrontier(local func(int) bool, sources func(int) ([]int, bool)) *constraintFrontier {
	return &constraintFrontier{local: local, sources: sources, visited: make(map[int]bool)}
}

// Visit walks dofs and everything reachable through known rows
func (f *constraintFrontier) Visit(dofs ...int) {
	stack := slices.Clone(dofs)
	for len(stack) > 0 {
		dof := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.visited[dof] {
			continue
		}
		f.visited[dof] = true
		if srcs, ok := f.sources(dof); ok {
			stack = append(stack, srcs...)
			continue
		}
		if !f.local(dof) {
			f.pending = append(f.pending, dof)
		}
	}
}

// Resolved follows a row that arrived for an already visited DOF
func (f *constraintFrontier) Resolved(dof int) {
	if srcs, ok := f.sources(dof); ok {
		f.Visit(srcs...)
	}
}

// Take returns the queued queries, sorted, and clears the queue
func (f *constraintFrontier) Take() []int {
	out := f.pending
	f.pending = nil
	slices.Sort(out)
	return out
}

func (d *DofMap) newFrontier() *constraintFrontier {
	return newConstraintFrontier(d.LocalIndex, func(dof int) ([]int, bool) {
		e, ok := d.constraints.get(dof)
		if !ok {
			return nil, false
		}
		return e.row.Sources(), true
	})
}

// scatterToOwners moves every row for a non-owned DOF to the DOF's owner,
// where the highest precedence row is kept
func (d *DofMap) scatterToOwners(ctx context.Context) error {
	out := make(map[int][]rowMessage)
	for _, dof := range d.constraints.Dofs() {
		if d.LocalIndex(dof) {
			continue
		}
		owner := d.DofOwner(dof)
		out[owner] = append(out[owner], d.constraints.message(dof))
		d.constraints.remove(dof)
	}
	in, err := parallel.Exchange(ctx, d.comm, out)
	if err != nil {
		return fmt.Errorf("sending constraint rows to owners: %w", err)
	}
	for from, msgs := range in {
		for _, msg := range msgs {
			if !d.LocalIndex(msg.Dof) {
				return fmt.Errorf("rank %d sent row for dof %d owned by %d: %w",
					from, msg.Dof, d.DofOwner(msg.Dof), ErrInconsistentDofs)
			}
			d.constraints.merge(msg)
		}
	}
	return nil
}

// pushToSourceOwners sends each owned row to the owners of its sources so
// they learn which of their DOFs constrain others
func (d *DofMap) pushToSourceOwners(ctx context.Context, f *constraintFrontier) error {
	out := make(map[int][]rowMessage)
	d.constraints.Ascend(func(dof int, row ConstraintRow, _ float64) bool {
		if !d.LocalIndex(dof) {
			return true
		}
		sent := make(map[int]bool)
		for s := range row {
			if owner := d.DofOwner(s); !d.LocalIndex(s) && !sent[owner] {
				sent[owner] = true
				out[owner] = append(out[owner], d.constraints.message(dof))
			}
		}
		return true
	})
	in, err := parallel.Exchange(ctx, d.comm, out)
	if err != nil {
		return fmt.Errorf("sending constraint rows to source owners: %w", err)
	}
	for _, msgs := range in {
		for _, msg := range msgs {
			d.constraints.overwrite(msg)
			f.Visit(msg.Dof)
			f.Resolved(msg.Dof)
		}
	}
	return nil
}

// answerRowQueries returns this processor's row for each queried DOF
func (d *DofMap) answerRowQueries(from int, dofs []int) ([]rowMessage, error) {
	out := make([]rowMessage, len(dofs))
	for i, dof := range dofs {
		if !d.LocalIndex(dof) {
			return nil, fmt.Errorf("rank %d asked for row of dof %d owned by %d: %w",
				from, dof, d.DofOwner(dof), ErrInconsistentDofs)
		}
		out[i] = d.constraints.message(dof)
	}
	return out, nil
}

// GatherConstraints fetches, from their owners, the rows of dofs and
// recursively of every constrained source those rows mention, until no
// processor has anything left to ask. It is collective.
func (d *DofMap) GatherConstraints(ctx context.Context, dofs []int) error {
	ctx, span := d.startSpan(ctx, "GatherConstraints")
	defer span.End()
	f := d.newFrontier()
	f.Visit(dofs...)
	rounds, err := d.gather(ctx, f)
	span.SetAttributes(attribute.Int("dofmap.gather_rounds", rounds))
	return recordError(span, err)
}

func (d *DofMap) gather(ctx context.Context, f *constraintFrontier) (int, error) {
	for round := 0; ; round++ {
		pending := f.Take()
		more, err := parallel.AnyTrue(ctx, d.comm, len(pending) > 0)
		if err != nil {
			return round, fmt.Errorf("constraint gather round %d: %w", round, err)
		}
		if !more {
			return round, nil
		}
		queries := make(map[int][]int)
		for _, dof := range pending {
			owner := d.DofOwner(dof)
			queries[owner] = append(queries[owner], dof)
		}
		answers, err := parallel.Pull(ctx, d.comm, queries, d.answerRowQueries)
		if err != nil {
			return round, fmt.Errorf("constraint gather round %d: %w", round, err)
		}
		for _, msgs := range answers {
			for _, msg := range msgs {
				if msg.Found {
					d.constraints.overwrite(msg)
					f.Resolved(msg.Dof)
				}
			}
		}
		d.log.Debug("constraint gather round", "round", round, "queried", len(pending))
	}
}

// AllgatherRecursiveConstraints gives every processor every constraint row.
// It is collective and only meant for small problems and debugging.
func (d *DofMap) AllgatherRecursiveConstraints(ctx context.Context) error {
	ctx, span := d.startSpan(ctx, "AllgatherRecursiveConstraints")
	defer span.End()
	var mine []rowMessage
	for _, dof := range d.constraints.Dofs() {
		if d.LocalIndex(dof) {
			mine = append(mine, d.constraints.message(dof))
		}
	}
	all, err := parallel.AllGather(ctx, d.comm, mine)
	if err != nil {
		return recordError(span, fmt.Errorf("allgathering constraints: %w", err))
	}
	for p, msgs := range all {
		if p == d.comm.Rank() {
			continue
		}
		for _, msg := range msgs {
			d.constraints.overwrite(msg)
		}
	}
	return nil
}

// ScatterConstraints sends each owned row to the owners of its non-owned
// sources, so every processor knows the rows that reference its DOFs.
// It is collective.
func (d *DofMap) ScatterConstraints(ctx context.Context) error {
	ctx, span := d.startSpan(ctx, "ScatterConstraints")
	defer span.End()
	out := make(map[int][]rowMessage)
	d.constraints.Ascend(func(dof int, row ConstraintRow, _ float64) bool {
		if !d.LocalIndex(dof) {
			return true
		}
		sent := make(map[int]bool)
		for _, s := range row.Sources() {
			owner := d.DofOwner(s)
			if d.LocalIndex(s) || sent[owner] || owner == d.comm.Rank() {
				continue
			}
			sent[owner] = true
			out[owner] = append(out[owner], d.constraints.message(dof))
		}
		return true
	})
	in, err := parallel.Exchange(ctx, d.comm, out)
	if err != nil {
		return recordError(span, fmt.Errorf("scattering constraints: %w", err))
	}
	for _, msgs := range in {
		for _, msg := range msgs {
			d.constraints.overwrite(msg)
		}
	}
	return nil
}
