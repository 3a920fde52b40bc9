package marketdata

import (
	"sync"

	"github.com/google/btree"

	"tickmatch/domain/orderbook"
)

// Level is one aggregated price level.
type Level struct {
	Price int64
	Qty   int64
}

// Depth is an L2 view of one symbol built from level changes. It is written
// by the publisher goroutine and read by gateways, never by the matcher.
type Depth struct {
	mu   sync.RWMutex
	seq  uint64
	bids *btree.BTreeG[Level]
	asks *btree.BTreeG[Level]
}

func NewDepth() *Depth {
	return &Depth{
		bids: btree.NewG(8, func(a, b Level) bool { return a.Price > b.Price }),
		asks: btree.NewG(8, func(a, b Level) bool { return a.Price < b.Price }),
	}
}

// Apply folds the changes of instruction seq into the view.
func (d *Depth) Apply(seq uint64, changes ...orderbook.LevelChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range changes {
		tree := d.asks
		if c.Side == orderbook.Bid {
			tree = d.bids
		}
		if c.TotalQty == 0 {
			tree.Delete(Level{Price: c.Price})
			continue
		}
		tree.ReplaceOrInsert(Level{Price: c.Price, Qty: c.TotalQty})
	}
	d.seq = seq
}

// Levels returns up to n levels of one side, best first, and the sequence
// the view reflects.
func (d *Depth) Levels(side orderbook.Side, n int) ([]Level, uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tree := d.asks
	if side == orderbook.Bid {
		tree = d.bids
	}
	return best(tree, n), d.seq
}

// Snapshot is both sides of the view as of one sequence.
type Snapshot struct {
	Seq  uint64
	Bids []Level
	Asks []Level
}

// Snapshot reads up to n levels per side under one lock, so bids and asks
// always come from the same instruction.
func (d *Depth) Snapshot(n int) Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{Seq: d.seq, Bids: best(d.bids, n), Asks: best(d.asks, n)}
}

func best(tree *btree.BTreeG[Level], n int) []Level {
	if n <= 0 {
		return nil
	}
	out := make([]Level, 0, min(n, tree.Len()))
	tree.Ascend(func(l Level) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, l)
		return true
	})
	return out
}
