package orderbook

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type op struct {
	cancel bool
	order  Order
}

// randomFlow builds a reproducible mix of all order types and cancels
// around a mid price of 1000.
func randomFlow(seed int64, n int) []op {
	r := rand.New(rand.NewSource(seed))
	types := []OrderType{Limit, Limit, Limit, Limit, Market, IOC, FOK, PostOnly}
	ops := make([]op, 0, n)
	for i := 1; i <= n; i++ {
		if i > 10 && r.Intn(8) == 0 {
			ops = append(ops, op{cancel: true, order: Order{ID: uint64(r.Intn(i-1) + 1)}})
			continue
		}
		side := Bid
		if r.Intn(2) == 1 {
			side = Ask
		}
		ops = append(ops, op{order: Order{
			ID:        uint64(i),
			Side:      side,
			Type:      types[r.Intn(len(types))],
			Price:     990 + int64(r.Intn(21)),
			Qty:       1 + int64(r.Intn(50)),
			Timestamp: uint64(i),
		}})
	}
	return ops
}

func run(t *testing.T, ops []op) []Fill {
	t.Helper()
	b := NewOrderBook(Config{SymbolID: 7, FillCapacity: 4096})
	var all []Fill
	for _, o := range ops {
		if o.cancel {
			b.Cancel(o.order.ID)
			continue
		}
		res, err := b.Place(o.order)
		require.NoError(t, err)
		all = append(all, res.Fills...)
		require.False(t, b.Top().Crossed(), "book crossed after order %d", o.order.ID)
	}
	return all
}

func TestDeterministicReplay(t *testing.T) {
	ops := randomFlow(1, 5000)
	first := run(t, ops)
	second := run(t, ops)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestQuantityConservation(t *testing.T) {
	ops := randomFlow(2, 5000)
	b := NewOrderBook(Config{SymbolID: 7, FillCapacity: 4096})

	filled := map[uint64]int64{}
	side := map[uint64]Side{}
	var bidTotal, askTotal int64

	for _, o := range ops {
		if o.cancel {
			b.Cancel(o.order.ID)
			continue
		}
		side[o.order.ID] = o.order.Side
		res, err := b.Place(o.order)
		require.NoError(t, err)

		var sum int64
		for _, f := range res.Fills {
			require.Positive(t, f.Qty)
			filled[f.MakerID] += f.Qty
			filled[f.TakerID] += f.Qty
			sum += f.Qty
			for _, id := range []uint64{f.MakerID, f.TakerID} {
				if side[id] == Bid {
					bidTotal += f.Qty
				} else {
					askTotal += f.Qty
				}
			}
		}
		assert.Equal(t, res.Filled, sum, "taker filled must equal its fills")
	}

	assert.Equal(t, bidTotal, askTotal)
	for id := range side {
		if o, ok := b.Order(id); ok {
			assert.Equal(t, filled[id], o.Filled, "order %d", id)
			assert.LessOrEqual(t, o.Filled, o.Qty)
		}
	}

	// level totals match the orders they hold
	for _, s := range []Side{Bid, Ask} {
		for _, lvl := range b.Depth(s, 64) {
			var sum int64
			for _, o := range b.LevelOrders(s, lvl.Price) {
				sum += o.Remaining()
			}
			assert.Equal(t, sum, lvl.TotalQty, "%s level %d", s, lvl.Price)
		}
	}
}

func TestPriceThenTimePriority(t *testing.T) {
	ops := randomFlow(3, 3000)
	b := NewOrderBook(Config{SymbolID: 7, FillCapacity: 4096})

	for _, o := range ops {
		if o.cancel {
			b.Cancel(o.order.ID)
			continue
		}
		opp := o.order.Side.Opposite()
		var bestPrice int64
		var head []Order
		if best := b.best(opp); best != nil {
			bestPrice = best.Price
			head = b.LevelOrders(opp, bestPrice)
		}

		res, err := b.Place(o.order)
		require.NoError(t, err)
		if len(res.Fills) == 0 {
			continue
		}

		first := res.Fills[0]
		assert.Equal(t, bestPrice, first.Price, "first fill must hit the best price")
		assert.Equal(t, head[0].ID, first.MakerID, "first fill must hit the oldest order at the best price")

		for i := 1; i < len(res.Fills); i++ {
			prev, cur := res.Fills[i-1], res.Fills[i]
			if o.order.Side == Bid {
				assert.GreaterOrEqual(t, cur.Price, prev.Price)
			} else {
				assert.LessOrEqual(t, cur.Price, prev.Price)
			}
			if cur.Price == prev.Price {
				assert.Greater(t, cur.MakerID, prev.MakerID, "same-price makers fill in arrival order")
			}
		}
	}
}

func TestFOKAtomicityUnderRandomBooks(t *testing.T) {
	for _, fillCap := range []int{4096, 3} {
		t.Run(fmt.Sprintf("fill capacity %d", fillCap), func(t *testing.T) {
			ops := randomFlow(4, 2000)
			b := NewOrderBook(Config{SymbolID: 7, FillCapacity: fillCap, MarketPolicy: MarketRejectUnfilled})
			for _, o := range ops {
				if o.cancel {
					b.Cancel(o.order.ID)
					continue
				}
				allOrNothing := o.order.Type == FOK || o.order.Type == Market
				if !allOrNothing {
					// small buffers may cut other types short; that is reported, not fatal
					_, err := b.Place(o.order)
					if err != nil {
						require.ErrorIs(t, err, ErrFillBufferExhausted)
					}
					continue
				}
				bids, asks := b.Depth(Bid, 64), b.Depth(Ask, 64)
				res, err := b.Place(o.order)
				require.NoError(t, err, "all-or-nothing orders never run out of fills")
				switch res.Status {
				case StatusRejected:
					assert.Empty(t, res.Fills)
					assert.Equal(t, bids, b.Depth(Bid, 64))
					assert.Equal(t, asks, b.Depth(Ask, 64))
				default:
					assert.Equal(t, StatusFilled, res.Status, "%s is all or nothing", o.order.Type)
				}
			}
		})
	}
}
