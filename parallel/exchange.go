package parallel

import (
	"context"
	"fmt"
)

// Exchange delivers out[to] to rank to and returns what each rank sent here,
// keyed by sender. Ranks with nothing to say are left out of the result.
func Exchange[T any](ctx context.Context, c *Comm, out map[int][]T) (map[int][]T, error) {
	for to := range out {
		if to < 0 || to >= c.Size() {
			return nil, fmt.Errorf("exchange to %d: %w", to, ErrBadRank)
		}
	}
	seq := c.next()
	for to := 0; to < c.Size(); to++ {
		if to != c.rank {
			if err := c.send(ctx, seq, to, out[to]); err != nil {
				return nil, err
			}
		}
	}
	in := make(map[int][]T)
	if self := out[c.rank]; len(self) > 0 {
		in[c.rank] = self
	}
	for from := 0; from < c.Size(); from++ {
		if from == c.rank {
			continue
		}
		payload, err := c.recv(ctx, seq, from)
		if err != nil {
			return nil, err
		}
		msgs, ok := payload.([]T)
		if !ok {
			return nil, fmt.Errorf("rank %d: exchange payload %T from %d: %w",
				c.rank, payload, from, ErrOutOfSync)
		}
		if len(msgs) > 0 {
			in[from] = msgs
		}
	}
	return in, nil
}

// Pull sends queries[to] to each owner, lets every rank answer the queries it
// received, and returns the answers keyed by the rank that answered. Answers
// must be positionally aligned with their queries.
func Pull[Q, R any](ctx context.Context, c *Comm, queries map[int][]Q,
	answer func(from int, qs []Q) ([]R, error)) (map[int][]R, error) {

	in, err := Exchange(ctx, c, queries)
	if err != nil {
		return nil, err
	}
	replies := make(map[int][]R, len(in))
	for from, qs := range in {
		rs, err := answer(from, qs)
		if err != nil {
			return nil, err
		}
		if len(rs) != len(qs) {
			return nil, fmt.Errorf("rank %d answered %d of %d queries from %d",
				c.rank, len(rs), len(qs), from)
		}
		replies[from] = rs
	}
	return Exchange(ctx, c, replies)
}
