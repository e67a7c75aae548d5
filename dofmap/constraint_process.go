package dofmap

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/notargets/dofmap/parallel"
)

// ProcessConstraints turns the locally created rows into the final
// constraint set: rows move to their owners, every processor gathers the
// rows reachable from the DOFs it can see, chains of constraints are
// eliminated so no row references a constrained DOF, and rows are shared
// with the owners of their sources. It is collective.
func (d *DofMap) ProcessConstraints(ctx context.Context) error {
	ctx, span := d.startSpan(ctx, "ProcessConstraints")
	defer span.End()
	if err := d.requireDistributed(); err != nil {
		return recordError(span, err)
	}

	if err := d.scatterToOwners(ctx); err != nil {
		return recordError(span, err)
	}

	f := d.newFrontier()
	if d.opts.LookForConstrainees {
		if err := d.pushToSourceOwners(ctx, f); err != nil {
			return recordError(span, err)
		}
	}
	for _, e := range d.visibleElements() {
		f.Visit(d.DofIndices(e)...)
	}
	f.Visit(d.constraints.Dofs()...)
	rounds, err := d.gather(ctx, f)
	if err != nil {
		return recordError(span, err)
	}

	if d.opts.ErrorOnConstraintLoop {
		if err := d.CheckForConstraintLoops(ctx); err != nil {
			return recordError(span, err)
		}
	}
	d.constraints.eliminate(func(dof, src int) {
		d.log.Warn("pruning constraint loop", "dof", dof, "source", src)
	})

	if err := d.ScatterConstraints(ctx); err != nil {
		return recordError(span, err)
	}
	d.addConstraintsToSendList()

	span.SetAttributes(attribute.Int("dofmap.gather_rounds", rounds),
		attribute.Int("dofmap.known_rows", d.constraints.Len()))
	d.log.Debug("processed constraints", "rows", d.constraints.Len(), "rounds", rounds)
	return nil
}

// findLoops returns the DOFs of every cycle among the known rows
func (c *DofConstraints) findLoops() [][]int {
	g := simple.NewDirectedGraph()
	var loops [][]int
	c.Ascend(func(dof int, row ConstraintRow, _ float64) bool {
		for s := range row {
			switch {
			case s == dof:
				loops = append(loops, []int{dof})
			case c.IsConstrained(s):
				g.SetEdge(g.NewEdge(simple.Node(dof), simple.Node(s)))
			}
		}
		return true
	})
	for _, scc := range topo.TarjanSCC(g) {
		if len(scc) < 2 {
			continue
		}
		loop := make([]int, len(scc))
		for i, n := range scc {
			loop[i] = int(n.ID())
		}
		slices.Sort(loop)
		loops = append(loops, loop)
	}
	slices.SortFunc(loops, func(a, b []int) int { return a[0] - b[0] })
	return loops
}

// SetErrorOnConstraintLoop selects failing on a constraint loop instead of
// pruning it
func (d *DofMap) SetErrorOnConstraintLoop(b bool) { d.opts.ErrorOnConstraintLoop = b }

// CheckForConstraintLoops fails on every processor if any processor knows a
// cyclic chain of rows. It is collective.
func (d *DofMap) CheckForConstraintLoops(ctx context.Context) error {
	loops := d.constraints.findLoops()
	anyLoop, err := parallel.AnyTrue(ctx, d.comm, len(loops) > 0)
	if err != nil {
		return err
	}
	if !anyLoop {
		return nil
	}
	if len(loops) > 0 {
		return fmt.Errorf("dofs %v: %w", loops[0], ErrConstraintLoop)
	}
	return fmt.Errorf("on another processor: %w", ErrConstraintLoop)
}

type eliminationFrame struct {
	dof  int
	srcs []int
	next int
}

const (
	unvisited uint8 = iota
	active
	done
)

// eliminate rewrites every row in terms of unconstrained DOFs, folding the
// right-hand sides of the substituted rows into the result. An edge closing
// a cycle is removed and reported through onLoop.
func (c *DofConstraints) eliminate(onLoop func(dof, src int)) {
	state := make(map[int]uint8, c.Len())
	for _, root := range c.Dofs() {
		if state[root] == done {
			continue
		}
		e, _ := c.get(root)
		state[root] = active
		stack := []eliminationFrame{{dof: root, srcs: e.row.Sources()}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.srcs) {
				s := top.srcs[top.next]
				top.next++
				se, constrained := c.get(s)
				if !constrained {
					continue
				}
				switch state[s] {
				case active:
					onLoop(top.dof, s)
					te, _ := c.get(top.dof)
					delete(te.row, s)
				case unvisited:
					state[s] = active
					stack = append(stack, eliminationFrame{dof: s, srcs: se.row.Sources()})
				}
				continue
			}
			c.resolve(top.dof)
			state[top.dof] = done
			stack = stack[:len(stack)-1]
		}
	}
}

// resolve substitutes the already resolved rows of the constrained sources of dof
func (c *DofConstraints) resolve(dof int) {
	e, _ := c.get(dof)
	row := make(ConstraintRow, len(e.row))
	rhs := e.rhs
	adj := make(map[int]float64)
	for q, m := range c.adjoint {
		if v, ok := m[dof]; ok {
			adj[q] = v
		}
	}
	for _, s := range e.row.Sources() {
		coef := e.row[s]
		se, ok := c.get(s)
		if !ok {
			row[s] += coef
			continue
		}
		for _, s2 := range se.row.Sources() {
			row[s2] += coef * se.row[s2]
		}
		rhs += coef * se.rhs
		for q, m := range c.adjoint {
			if v, ok := m[s]; ok {
				adj[q] += coef * v
			}
		}
	}
	for s, v := range row {
		if v == 0 {
			delete(row, s)
		}
	}
	e.row, e.rhs = row, rhs
	for q, v := range adj {
		c.setAdjoint(q, dof, v)
	}
}

// addConstraintsToSendList adds every non-owned source of a known row
func (d *DofMap) addConstraintsToSendList() {
	d.constraints.Ascend(func(_ int, row ConstraintRow, _ float64) bool {
		for s := range row {
			if !d.LocalIndex(s) {
				d.sendList = append(d.sendList, s)
			}
		}
		return true
	})
}
