package parallel

import (
	"context"
	"fmt"
	"math"
)

// AllGather returns every rank's value, indexed by rank
func AllGather[T any](ctx context.Context, c *Comm, v T) ([]T, error) {
	seq := c.next()
	for to := 0; to < c.Size(); to++ {
		if to != c.rank {
			if err := c.send(ctx, seq, to, v); err != nil {
				return nil, err
			}
		}
	}
	out := make([]T, c.Size())
	out[c.rank] = v
	for from := 0; from < c.Size(); from++ {
		if from == c.rank {
			continue
		}
		payload, err := c.recv(ctx, seq, from)
		if err != nil {
			return nil, err
		}
		val, ok := payload.(T)
		if !ok {
			return nil, fmt.Errorf("rank %d: all-gather payload %T from %d: %w",
				c.rank, payload, from, ErrOutOfSync)
		}
		out[from] = val
	}
	return out, nil
}

// Barrier returns once every rank has reached it
func Barrier(ctx context.Context, c *Comm) error {
	_, err := AllGather(ctx, c, struct{}{})
	return err
}

// SumInt reduces by addition
func SumInt(ctx context.Context, c *Comm, v int) (int, error) {
	all, err := AllGather(ctx, c, v)
	if err != nil {
		return 0, err
	}
	sum := 0
	for _, x := range all {
		sum += x
	}
	return sum, nil
}

// MaxInt reduces by maximum
func MaxInt(ctx context.Context, c *Comm, v int) (int, error) {
	all, err := AllGather(ctx, c, v)
	if err != nil {
		return 0, err
	}
	m := math.MinInt
	for _, x := range all {
		m = max(m, x)
	}
	return m, nil
}

// MaxFloat reduces by maximum
func MaxFloat(ctx context.Context, c *Comm, v float64) (float64, error) {
	all, err := AllGather(ctx, c, v)
	if err != nil {
		return 0, err
	}
	m := math.Inf(-1)
	for _, x := range all {
		m = math.Max(m, x)
	}
	return m, nil
}

// AnyTrue is a logical-or reduction
func AnyTrue(ctx context.Context, c *Comm, b bool) (bool, error) {
	all, err := AllGather(ctx, c, b)
	if err != nil {
		return false, err
	}
	for _, x := range all {
		if x {
			return true, nil
		}
	}
	return false, nil
}

// ExclusiveScan returns the sum of v over all lower ranks
func ExclusiveScan(ctx context.Context, c *Comm, v int) (int, error) {
	all, err := AllGather(ctx, c, v)
	if err != nil {
		return 0, err
	}
	sum := 0
	for _, x := range all[:c.rank] {
		sum += x
	}
	return sum, nil
}
