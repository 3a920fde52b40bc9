package marketdata

import (
	"sync/atomic"

	"tickmatch/domain/orderbook"
)

// Quote is an immutable top-of-book snapshot. Seq is the instruction that
// produced it.
type Quote struct {
	SymbolID uint32
	Seq      uint64
	orderbook.Top
}

// Spread is best ask minus best bid; ok is false unless both sides exist.
func (q Quote) Spread() (int64, bool) {
	if !q.HasBid || !q.HasAsk {
		return 0, false
	}
	return q.AskPrice - q.BidPrice, true
}

// QuoteCache publishes the top of book of one symbol. There is a single
// writer (the owning shard) and any number of readers; bid and ask travel
// in one pointer so a reader never sees one side from a different update
// than the other. Readers may see a stale quote.
type QuoteCache struct {
	symbolID uint32
	cur      atomic.Pointer[Quote]
}

func NewQuoteCache(symbolID uint32) *QuoteCache {
	c := &QuoteCache{symbolID: symbolID}
	c.cur.Store(&Quote{SymbolID: symbolID})
	return c
}

func (c *QuoteCache) SymbolID() uint32 { return c.symbolID }

// Update stores top if it differs from the published one and reports
// whether it did. Writer side only.
func (c *QuoteCache) Update(seq uint64, top orderbook.Top) (Quote, bool) {
	if c.cur.Load().Top == top {
		return Quote{}, false
	}
	q := &Quote{SymbolID: c.symbolID, Seq: seq, Top: top}
	c.cur.Store(q)
	return *q, true
}

func (c *QuoteCache) Load() Quote {
	return *c.cur.Load()
}

func (c *QuoteCache) BestBid() (int64, bool) {
	q := c.cur.Load()
	return q.BidPrice, q.HasBid
}

func (c *QuoteCache) BestAsk() (int64, bool) {
	q := c.cur.Load()
	return q.AskPrice, q.HasAsk
}

// Spread is derived from one load, never stored.
func (c *QuoteCache) Spread() (int64, bool) {
	return c.cur.Load().Spread()
}
