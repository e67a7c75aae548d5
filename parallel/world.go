// Package parallel runs a fixed set of ranks as goroutines that share nothing
// and talk only through ordered point-to-point mailboxes. Every rank must call
// the same sequence of collectives.
package parallel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrOutOfSync is returned when ranks disagree on the collective being run
	ErrOutOfSync = errors.New("parallel: collective sequence mismatch")
	// ErrBadRank is returned for a rank outside [0, Size)
	ErrBadRank = errors.New("parallel: rank out of range")
)

// mailboxDepth bounds how far one rank may run ahead of a peer. Lockstep
// collectives need two slots, the rest is slack.
const mailboxDepth = 4

type envelope struct {
	seq     uint64
	payload any
}

// World is the shared fabric connecting Size ranks
type World struct {
	id    uuid.UUID
	size  int
	boxes [][]chan envelope // [from][to]
}

// NewWorld allocates the mailboxes for size ranks
func NewWorld(size int) *World {
	w := &World{id: uuid.New(), size: size}
	w.boxes = make([][]chan envelope, size)
	for from := range w.boxes {
		w.boxes[from] = make([]chan envelope, size)
		for to := range w.boxes[from] {
			if from != to {
				w.boxes[from][to] = make(chan envelope, mailboxDepth)
			}
		}
	}
	return w
}

// ID identifies this world in logs
func (w *World) ID() uuid.UUID { return w.id }

// Size is the number of ranks
func (w *World) Size() int { return w.size }

// Comm returns the endpoint for one rank. A Comm must only be used by the
// goroutine running that rank.
func (w *World) Comm(rank int) *Comm {
	if rank < 0 || rank >= w.size {
		panic(fmt.Sprintf("parallel: rank %d outside world of %d", rank, w.size))
	}
	return &Comm{world: w, rank: rank}
}

// Comm is one rank's view of the world
type Comm struct {
	world *World
	rank  int
	seq   uint64
}

// Rank is this processor's id
func (c *Comm) Rank() int { return c.rank }

// Size is the number of processors
func (c *Comm) Size() int { return c.world.size }

// ID is the id of the world this Comm belongs to
func (c *Comm) ID() uuid.UUID { return c.world.id }

// next starts a new collective and returns its sequence number
func (c *Comm) next() uint64 {
	c.seq++
	return c.seq
}

func (c *Comm) send(ctx context.Context, seq uint64, to int, payload any) error {
	if to < 0 || to >= c.world.size {
		return fmt.Errorf("send to %d: %w", to, ErrBadRank)
	}
	select {
	case c.world.boxes[c.rank][to] <- envelope{seq: seq, payload: payload}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("rank %d send to %d: %w", c.rank, to, ctx.Err())
	}
}

func (c *Comm) recv(ctx context.Context, seq uint64, from int) (any, error) {
	select {
	case env := <-c.world.boxes[from][c.rank]:
		if env.seq != seq {
			return nil, fmt.Errorf("rank %d expected collective %d from %d, got %d: %w",
				c.rank, seq, from, env.seq, ErrOutOfSync)
		}
		return env.payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("rank %d recv from %d: %w", c.rank, from, ctx.Err())
	}
}

// Run starts size ranks, each calling fn with its own Comm, and waits for all
// of them. The first rank to fail cancels the shared context so that peers
// blocked in a collective return instead of waiting forever.
func Run(ctx context.Context, size int, fn func(ctx context.Context, c *Comm) error) error {
	if size < 1 {
		return fmt.Errorf("run with %d ranks: %w", size, ErrBadRank)
	}
	w := NewWorld(size)
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		c := w.Comm(rank)
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				return fmt.Errorf("rank %d: %w", c.rank, err)
			}
			return nil
		})
	}
	return g.Wait()
}
