package orderbook

import (
	"github.com/cockroachdb/errors"

	"tickmatch/infra/memory"
)

var (
	// ErrInvariantViolated is raised (as a panic) when a completed operation
	// leaves the book crossed or an order over-filled. The owner must stop
	// using the book.
	ErrInvariantViolated = errors.New("orderbook: invariant violated")

	// ErrFillBufferExhausted means one instruction produced more fills than
	// the fill buffer holds. Matching stopped before the fill that did not
	// fit; every fill already produced is in the Result.
	ErrFillBufferExhausted = errors.Wrap(memory.ErrExhausted, "orderbook: fill buffer")
)
