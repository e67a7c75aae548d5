package linalg

import (
	"context"
	"fmt"
	"sort"

	"github.com/notargets/dofmap/parallel"
)

// Layout is the distributed numbering a vector or matrix is built over
type Layout interface {
	FirstDof() int
	EndDof() int
	NDofs() int
	DofOwner(dof int) int
	SendList() []int
	Comm() *parallel.Comm
}

// GhostedVector stores the owned entries of a distributed vector plus read
// copies of the entries listed in the send list
type GhostedVector struct {
	comm       *parallel.Comm
	first, end int
	owned      []float64
	ghost      []float64
	ghostSlot  map[int]int
	plan       *parallel.ExchangePlan
	offProc    map[int]float64
}

// NewGhostedVector creates a zero vector over the layout. It is collective.
func NewGhostedVector(ctx context.Context, l Layout) (*GhostedVector, error) {
	ghosts := append([]int(nil), l.SendList()...)
	sort.Ints(ghosts)
	first := l.FirstDof()
	plan, err := parallel.NewExchangePlan(ctx, l.Comm(), ghosts, l.DofOwner,
		func(g int) int { return g - first })
	if err != nil {
		return nil, fmt.Errorf("building ghost exchange: %w", err)
	}
	v := &GhostedVector{
		comm:      l.Comm(),
		first:     first,
		end:       l.EndDof(),
		owned:     make([]float64, l.EndDof()-first),
		ghost:     make([]float64, len(ghosts)),
		ghostSlot: make(map[int]int, len(ghosts)),
		plan:      plan,
		offProc:   make(map[int]float64),
	}
	for slot, g := range ghosts {
		v.ghostSlot[g] = slot
	}
	if err := plan.Verify(ctx, v.comm, len(v.owned)); err != nil {
		return nil, fmt.Errorf("verifying ghost exchange: %w", err)
	}
	return v, nil
}

// FirstIndex is the first owned global index
func (v *GhostedVector) FirstIndex() int { return v.first }

// EndIndex is one past the last owned global index
func (v *GhostedVector) EndIndex() int { return v.end }

// Owned exposes the owned entries
func (v *GhostedVector) Owned() []float64 { return v.owned }

// Has reports whether global index i is owned or ghosted here
func (v *GhostedVector) Has(i int) bool {
	if i >= v.first && i < v.end {
		return true
	}
	_, ok := v.ghostSlot[i]
	return ok
}

// At reads an owned or ghosted entry. Reading anything else panics.
func (v *GhostedVector) At(i int) float64 {
	if i >= v.first && i < v.end {
		return v.owned[i-v.first]
	}
	slot, ok := v.ghostSlot[i]
	if !ok {
		panic(fmt.Sprintf("linalg: index %d neither owned nor ghosted on rank %d", i, v.comm.Rank()))
	}
	return v.ghost[slot]
}

// SetAt writes an owned entry. Writing anything else panics.
func (v *GhostedVector) SetAt(i int, x float64) {
	if i < v.first || i >= v.end {
		panic(fmt.Sprintf("linalg: set of index %d outside [%d, %d)", i, v.first, v.end))
	}
	v.owned[i-v.first] = x
}

// Add accumulates into entry i; contributions to entries owned elsewhere are
// held until Assemble
func (v *GhostedVector) Add(i int, x float64) {
	if i >= v.first && i < v.end {
		v.owned[i-v.first] += x
		return
	}
	v.offProc[i] += x
}

// Localize copies the owned entries of every processor into the ghost slots
// of its readers. It is collective.
func (v *GhostedVector) Localize(ctx context.Context) error {
	return parallel.ExchangeValues(ctx, v.comm, v.plan, v.owned, v.ghost)
}

type contribution struct {
	Index int
	Value float64
}

// Assemble ships held contributions to their owners, then localizes. It is
// collective.
func (v *GhostedVector) Assemble(ctx context.Context, owner func(int) int) error {
	out := make(map[int][]contribution)
	for i, x := range v.offProc {
		p := owner(i)
		out[p] = append(out[p], contribution{i, x})
	}
	v.offProc = make(map[int]float64)
	in, err := parallel.Exchange(ctx, v.comm, out)
	if err != nil {
		return fmt.Errorf("assembling vector: %w", err)
	}
	for from, cs := range in {
		for _, c := range cs {
			if c.Index < v.first || c.Index >= v.end {
				return fmt.Errorf("rank %d sent index %d outside [%d, %d)", from, c.Index, v.first, v.end)
			}
			v.owned[c.Index-v.first] += c.Value
		}
	}
	return v.Localize(ctx)
}

// Zero clears owned, ghost and held entries
func (v *GhostedVector) Zero() {
	clear(v.owned)
	clear(v.ghost)
	clear(v.offProc)
}

// Dot is the global inner product of the owned entries. It is collective.
func (v *GhostedVector) Dot(ctx context.Context, o *GhostedVector) (float64, error) {
	if len(o.owned) != len(v.owned) || o.first != v.first {
		return 0, fmt.Errorf("dot of [%d, %d) with [%d, %d)", v.first, v.end, o.first, o.end)
	}
	sum := 0.
	for i, x := range v.owned {
		sum += x * o.owned[i]
	}
	parts, err := parallel.AllGather(ctx, v.comm, sum)
	if err != nil {
		return 0, err
	}
	total := 0.
	for _, p := range parts {
		total += p
	}
	return total, nil
}
