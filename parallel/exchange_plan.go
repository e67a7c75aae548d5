package parallel

import (
	"context"
	"fmt"
	"sort"
)

// ExchangePlan holds the pick and place indices that move owned values into
// the ghost slots of the ranks that read them
type ExchangePlan struct {
	Rank, NumRanks int

	// Ghost slots on this rank, ordered as given to NewExchangePlan
	Ghosts []int

	// Pick/Place indices per peer
	PickIndices  map[int][]int // [targetRank] local indices to send
	PlaceIndices map[int][]int // [sourceRank] ghost slot positions to fill
}

// NewExchangePlan builds the plan for this rank to receive the global indices
// in ghosts. owner maps a global index to its rank and localIndex maps a
// global index owned here to a position in the owned storage.
func NewExchangePlan(ctx context.Context, c *Comm, ghosts []int,
	owner func(global int) int, localIndex func(global int) int) (*ExchangePlan, error) {

	plan := &ExchangePlan{
		Rank:         c.Rank(),
		NumRanks:     c.Size(),
		Ghosts:       ghosts,
		PickIndices:  make(map[int][]int),
		PlaceIndices: make(map[int][]int),
	}

	// Ask each owner for the globals we need, remembering where they land
	requests := make(map[int][]int)
	for slot, g := range ghosts {
		src := owner(g)
		if src == c.Rank() {
			return nil, fmt.Errorf("ghost %d is owned by this rank %d", g, c.Rank())
		}
		requests[src] = append(requests[src], g)
		plan.PlaceIndices[src] = append(plan.PlaceIndices[src], slot)
	}

	in, err := Exchange(ctx, c, requests)
	if err != nil {
		return nil, err
	}
	for target, globals := range in {
		picks := make([]int, len(globals))
		for i, g := range globals {
			if owner(g) != c.Rank() {
				return nil, fmt.Errorf("rank %d asked rank %d for %d which it does not own",
					target, c.Rank(), g)
			}
			picks[i] = localIndex(g)
		}
		plan.PickIndices[target] = picks
	}
	return plan, nil
}

// GetPickIndices returns pick indices for sending to target
func (p *ExchangePlan) GetPickIndices(target int) []int {
	return p.PickIndices[target]
}

// GetPlaceIndices returns place indices for values received from source
func (p *ExchangePlan) GetPlaceIndices(source int) []int {
	return p.PlaceIndices[source]
}

// Peers lists the ranks this plan exchanges with, ascending
func (p *ExchangePlan) Peers() []int {
	seen := make(map[int]bool)
	for r := range p.PickIndices {
		seen[r] = true
	}
	for r := range p.PlaceIndices {
		seen[r] = true
	}
	peers := make([]int, 0, len(seen))
	for r := range seen {
		peers = append(peers, r)
	}
	sort.Ints(peers)
	return peers
}

// Verify checks index validity and pick/place symmetry across ranks
func (p *ExchangePlan) Verify(ctx context.Context, c *Comm, nOwned int) error {
	// Verify 1: Local validity - all pick and place indices are within bounds
	for target, picks := range p.PickIndices {
		for _, idx := range picks {
			if idx < 0 || idx >= nOwned {
				return fmt.Errorf("invalid pick index %d for rank %d (max %d)",
					idx, target, nOwned-1)
			}
		}
	}
	filled := make([]bool, len(p.Ghosts))
	for source, places := range p.PlaceIndices {
		for _, slot := range places {
			if slot < 0 || slot >= len(p.Ghosts) {
				return fmt.Errorf("invalid place index %d from rank %d", slot, source)
			}
			if filled[slot] {
				return fmt.Errorf("ghost slot %d placed twice", slot)
			}
			filled[slot] = true
		}
	}

	// Verify 2: Correspondence - what we pick for q is what q places from us
	counts := make(map[int][]int)
	for target, picks := range p.PickIndices {
		counts[target] = []int{len(picks)}
	}
	in, err := Exchange(ctx, c, counts)
	if err != nil {
		return err
	}
	for source, places := range p.PlaceIndices {
		got := 0
		if n, ok := in[source]; ok {
			got = n[0]
		}
		if got != len(places) {
			return fmt.Errorf("count mismatch: rank %d sends %d to %d, but %d expects %d",
				source, got, p.Rank, p.Rank, len(places))
		}
	}
	for source := range in {
		if _, ok := p.PlaceIndices[source]; !ok {
			return fmt.Errorf("rank %d sends to %d, which expects nothing", source, p.Rank)
		}
	}
	return nil
}

// ExchangeValues copies owned values into every reader's ghost slots
func ExchangeValues(ctx context.Context, c *Comm, p *ExchangePlan, owned, ghost []float64) error {
	if len(ghost) != len(p.Ghosts) {
		return fmt.Errorf("ghost buffer has %d slots, plan has %d", len(ghost), len(p.Ghosts))
	}
	out := make(map[int][]float64, len(p.PickIndices))
	for target, picks := range p.PickIndices {
		buf := make([]float64, len(picks))
		for i, idx := range picks {
			buf[i] = owned[idx]
		}
		out[target] = buf
	}
	in, err := Exchange(ctx, c, out)
	if err != nil {
		return err
	}
	for source, places := range p.PlaceIndices {
		vals := in[source]
		if len(vals) != len(places) {
			return fmt.Errorf("received %d values from %d, expected %d",
				len(vals), source, len(places))
		}
		for i, slot := range places {
			ghost[slot] = vals[i]
		}
	}
	return nil
}
