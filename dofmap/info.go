package dofmap

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/notargets/dofmap/parallel"
)

// Info summarizes the sparsity and the constraints over all processors. It
// is collective.
func (d *DofMap) Info(ctx context.Context) (string, error) {
	var sb strings.Builder

	var onSum, offSum, onMax, offMax, rows int
	if p := d.pattern; p != nil {
		rows = p.NRows()
		for i := range p.NNZ {
			onSum += p.NNZ[i]
			offSum += p.NOZ[i]
			onMax = max(onMax, p.NNZ[i])
			offMax = max(offMax, p.NOZ[i])
		}
	}
	type counts struct{ OnSum, OffSum, OnMax, OffMax, Rows int }
	all, err := parallel.AllGather(ctx, d.comm, counts{onSum, offSum, onMax, offMax, rows})
	if err != nil {
		return "", err
	}
	var g counts
	for _, c := range all {
		g.OnSum += c.OnSum
		g.OffSum += c.OffSum
		g.Rows += c.Rows
		g.OnMax = max(g.OnMax, c.OnMax)
		g.OffMax = max(g.OffMax, c.OffMax)
	}
	if g.Rows > 0 {
		fmt.Fprintf(&sb, "DofMap Sparsity\n")
		fmt.Fprintf(&sb, "  Average  On-Processor Bandwidth <= %g\n", float64(g.OnSum)/float64(g.Rows))
		fmt.Fprintf(&sb, "  Average Off-Processor Bandwidth <= %g\n", float64(g.OffSum)/float64(g.Rows))
		fmt.Fprintf(&sb, "  Maximum  On-Processor Bandwidth <= %d\n", g.OnMax)
		fmt.Fprintf(&sb, "  Maximum Off-Processor Bandwidth <= %d\n", g.OffMax)
	}

	nCons, nHetero, maxLen, sumLen := 0, 0, 0, 0
	d.constraints.Ascend(func(dof int, row ConstraintRow, rhs float64) bool {
		if !d.LocalIndex(dof) {
			return true
		}
		nCons++
		if rhs != 0 {
			nHetero++
		}
		sumLen += len(row)
		maxLen = max(maxLen, len(row))
		return true
	})
	if nCons, err = parallel.SumInt(ctx, d.comm, nCons); err != nil {
		return "", err
	}
	if nHetero, err = parallel.SumInt(ctx, d.comm, nHetero); err != nil {
		return "", err
	}
	if sumLen, err = parallel.SumInt(ctx, d.comm, sumLen); err != nil {
		return "", err
	}
	if maxLen, err = parallel.MaxInt(ctx, d.comm, maxLen); err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "DofMap Constraints\n")
	fmt.Fprintf(&sb, "  Number of DoF Constraints = %d\n", nCons)
	if nHetero > 0 {
		fmt.Fprintf(&sb, "  Number of Heterogenous Constraints = %d\n", nHetero)
	}
	if nCons > 0 {
		fmt.Fprintf(&sb, "  Average DoF Constraint Length = %g\n", float64(sumLen)/float64(nCons))
		fmt.Fprintf(&sb, "  Maximum DoF Constraint Length = %d\n", maxLen)
	}
	fmt.Fprintf(&sb, "  Number of Node Constraints = %d\n", d.constraints.NNodes())
	return sb.String(), nil
}

// LocalConstraints lists the rows known here, only the owned ones unless
// printNonlocal
func (d *DofMap) LocalConstraints(printNonlocal bool) string {
	var sb strings.Builder
	for _, id := range slices.Sorted(maps.Keys(d.constraints.nodes)) {
		row := d.constraints.nodes[id]
		if n := d.topo.Node(id); n.ProcessorID() == d.comm.Rank() || printNonlocal {
			fmt.Fprintf(&sb, "Node Constraints for Node %d: %v at %v\n", id, row.Sources, row.Point)
		}
	}
	d.constraints.Ascend(func(dof int, row ConstraintRow, rhs float64) bool {
		if !printNonlocal && !d.LocalIndex(dof) {
			return true
		}
		fmt.Fprintf(&sb, "Constraints for DoF %d: %v\trhs: %g\n", dof, row, rhs)
		return true
	})
	return sb.String()
}

// PrintDofConstraints writes every processor's LocalConstraints to w from
// rank 0. It is collective.
func (d *DofMap) PrintDofConstraints(ctx context.Context, w io.Writer, printNonlocal bool) error {
	all, err := parallel.AllGather(ctx, d.comm, d.LocalConstraints(printNonlocal))
	if err != nil {
		return err
	}
	if d.comm.Rank() != 0 {
		return nil
	}
	for p, s := range all {
		if _, err := fmt.Fprintf(w, "Processor %d:\n%s", p, s); err != nil {
			return err
		}
	}
	return nil
}
