package orderbook

import (
	"github.com/cockroachdb/errors"

	"tickmatch/infra/memory"
)

// MarketPolicy decides what happens to a Market order that the book cannot
// fill completely.
type MarketPolicy uint8

const (
	// MarketDiscardRemainder fills what it can and expires the rest.
	MarketDiscardRemainder MarketPolicy = iota
	// MarketRejectUnfilled rejects the whole order, untouched, when the
	// opposite side holds less than its quantity.
	MarketRejectUnfilled
)

type Config struct {
	SymbolID      uint32
	OrderCapacity int // initial arena size; the arena grows past it
	FillCapacity  int // max fills a single instruction may produce
	MarketPolicy  MarketPolicy
}

// OrderBook is single-writer and deterministic: the same sequence of calls
// produces the same fills. It is not safe for concurrent use.
type OrderBook struct {
	symbolID uint32
	policy   MarketPolicy

	Bids *RBTree
	Asks *RBTree

	orders  *memory.Arena[Order]
	index   map[uint64]memory.Slot
	fills   *memory.Buffer[Fill]
	changes []LevelChange
}

func NewOrderBook(cfg Config) *OrderBook {
	if cfg.OrderCapacity <= 0 {
		cfg.OrderCapacity = 1 << 12
	}
	if cfg.FillCapacity <= 0 {
		cfg.FillCapacity = 1 << 10
	}
	return &OrderBook{
		symbolID: cfg.SymbolID,
		policy:   cfg.MarketPolicy,
		Bids:     NewRBTree(),
		Asks:     NewRBTree(),
		orders:   memory.NewArena[Order](cfg.OrderCapacity),
		index:    make(map[uint64]memory.Slot, cfg.OrderCapacity),
		fills:    memory.NewBuffer[Fill](cfg.FillCapacity),
		changes:  make([]LevelChange, 0, 16),
	}
}

func (b *OrderBook) SymbolID() uint32 { return b.symbolID }

// Place runs an incoming order through matching and rests any remainder its
// type allows. Rejections are reported in the Result and leave the book
// untouched. A non-nil error is only ErrFillBufferExhausted.
func (b *OrderBook) Place(in Order) (Result, error) {
	b.fills.Reset()
	b.changes = b.changes[:0]

	in.SymbolID = b.symbolID
	in.Filled = 0
	in.next, in.prev = memory.NilSlot, memory.NilSlot

	if reason := b.precheck(&in); reason != ReasonNone {
		return Result{
			OrderID:   in.ID,
			Status:    StatusRejected,
			Reason:    reason,
			Remaining: in.Qty,
		}, nil
	}

	err := b.match(&in)

	res := Result{OrderID: in.ID}
	switch {
	case in.Remaining() == 0:
		res.Status = StatusFilled
	case err == nil && in.Type.rests():
		b.rest(&in)
		res.Status = StatusRested
	default:
		res.Status = StatusExpired
	}
	res.Filled = in.Filled
	res.Remaining = in.Remaining()
	res.Fills = b.fills.Items()
	res.Changes = b.changes

	b.verify(&in)
	return res, err
}

// Cancel removes a resting order. Unknown or already completed orders are
// rejected with ReasonUnknownOrder.
func (b *OrderBook) Cancel(id uint64) Result {
	b.fills.Reset()
	b.changes = b.changes[:0]

	s, ok := b.index[id]
	if !ok {
		return Result{OrderID: id, Status: StatusRejected, Reason: ReasonUnknownOrder}
	}
	o := b.orders.At(s)
	side, price := o.Side, o.Price
	res := Result{
		OrderID:   id,
		Status:    StatusCancelled,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
	}

	tree := b.tree(side)
	lvl := tree.Find(price)
	if lvl == nil {
		panic(errors.Wrapf(ErrInvariantViolated, "order %d indexed at missing level %d", id, price))
	}
	lvl.unlink(b.orders, s)
	b.changes = append(b.changes, LevelChange{Side: side, Price: price, TotalQty: lvl.TotalQty})
	if lvl.Empty() {
		tree.Delete(price)
	}
	delete(b.index, id)
	b.orders.Deallocate(s)

	res.Changes = b.changes
	return res
}

// precheck validates the order and runs the all-or-nothing checks that must
// happen before any state changes.
func (b *OrderBook) precheck(o *Order) Reason {
	if o.Qty <= 0 {
		return ReasonInvalidQuantity
	}
	if o.Type != Market && o.Price <= 0 {
		return ReasonInvalidPrice
	}
	if _, dup := b.index[o.ID]; dup {
		return ReasonDuplicateOrderID
	}

	switch o.Type {
	case FOK:
		return b.checkAllOrNothing(o, ReasonFOKUnfilled)
	case Market:
		if b.policy == MarketRejectUnfilled {
			return b.checkAllOrNothing(o, ReasonInsufficientLiquidity)
		}
	case PostOnly:
		if best := b.best(o.Side.Opposite()); best != nil && acceptable(o, best.Price) {
			return ReasonWouldCross
		}
	}
	return ReasonNone
}

// checkAllOrNothing rejects o unless it can execute in full within this
// instruction: enough acceptable quantity, and few enough makers that
// every fill fits the fill buffer.
func (b *OrderBook) checkAllOrNothing(o *Order, short Reason) Reason {
	qty, makers := b.liquidity(o, o.Qty)
	switch {
	case qty < o.Qty:
		return short
	case makers > b.fills.Free():
		return ReasonFillCapacity
	}
	return ReasonNone
}

// liquidity sums opposite-side quantity at prices o accepts, stopping once
// want is reached, and counts the maker orders that quantity comes from.
func (b *OrderBook) liquidity(o *Order, want int64) (total int64, makers int) {
	visit := func(lvl *PriceLevel) bool {
		if !acceptable(o, lvl.Price) {
			return false
		}
		if total+lvl.TotalQty < want {
			total += lvl.TotalQty
			makers += lvl.OrderCount
			return true
		}
		for s := lvl.Front(); s != memory.NilSlot && total < want; s = b.orders.At(s).next {
			total += b.orders.At(s).Remaining()
			makers++
		}
		return false
	}
	if o.Side == Bid {
		b.Asks.Ascend(visit)
	} else {
		b.Bids.Descend(visit)
	}
	return total, makers
}

// acceptable reports whether a taker o may trade at a maker price.
func acceptable(o *Order, price int64) bool {
	if o.Type == Market {
		return true
	}
	if o.Side == Bid {
		return price <= o.Price
	}
	return price >= o.Price
}

func (b *OrderBook) match(taker *Order) error {
	makerSide := taker.Side.Opposite()
	tree := b.tree(makerSide)

	for taker.Remaining() > 0 {
		lvl := b.best(makerSide)
		if lvl == nil || !acceptable(taker, lvl.Price) {
			return nil
		}

		for !lvl.Empty() && taker.Remaining() > 0 {
			if b.fills.Free() == 0 {
				b.changes = append(b.changes, LevelChange{Side: makerSide, Price: lvl.Price, TotalQty: lvl.TotalQty})
				return ErrFillBufferExhausted
			}

			ms := lvl.Front()
			maker := b.orders.At(ms)
			qty := min(taker.Remaining(), maker.Remaining())

			taker.Filled += qty
			maker.Filled += qty
			lvl.TotalQty -= qty

			err := b.fills.Append(Fill{
				MakerID:   maker.ID,
				TakerID:   taker.ID,
				SymbolID:  b.symbolID,
				TakerSide: taker.Side,
				Price:     maker.Price,
				Qty:       qty,
				Timestamp: taker.Timestamp,
				Index:     uint32(b.fills.Len()),
			})
			if err != nil {
				panic(errors.Wrapf(ErrInvariantViolated, "fill dropped after capacity check: %v", err))
			}

			if maker.Remaining() == 0 {
				lvl.popFront(b.orders)
				delete(b.index, maker.ID)
				b.orders.Deallocate(ms)
			}
		}

		price := lvl.Price
		b.changes = append(b.changes, LevelChange{Side: makerSide, Price: price, TotalQty: lvl.TotalQty})
		if lvl.Empty() {
			tree.Delete(price)
		}
	}
	return nil
}

func (b *OrderBook) rest(o *Order) {
	s := b.orders.Allocate(*o)
	lvl := b.tree(o.Side).GetOrCreate(o.Price)
	lvl.enqueue(b.orders, s)
	b.index[o.ID] = s
	b.changes = append(b.changes, LevelChange{Side: o.Side, Price: o.Price, TotalQty: lvl.TotalQty})
}

// verify panics on a state that must never survive a completed operation.
func (b *OrderBook) verify(taker *Order) {
	if taker.Filled < 0 || taker.Filled > taker.Qty {
		panic(errors.Wrapf(ErrInvariantViolated, "order %d filled %d of %d", taker.ID, taker.Filled, taker.Qty))
	}
	if top := b.Top(); top.Crossed() {
		panic(errors.Wrapf(ErrInvariantViolated, "crossed book bid=%d ask=%d", top.BidPrice, top.AskPrice))
	}
}

func (b *OrderBook) tree(s Side) *RBTree {
	if s == Bid {
		return b.Bids
	}
	return b.Asks
}

func (b *OrderBook) best(s Side) *PriceLevel {
	if s == Bid {
		return b.Bids.Max()
	}
	return b.Asks.Min()
}

// ---- read helpers ----

func (b *OrderBook) Top() Top {
	var t Top
	if lvl := b.Bids.Max(); lvl != nil {
		t.BidPrice, t.BidQty, t.HasBid = lvl.Price, lvl.TotalQty, true
	}
	if lvl := b.Asks.Min(); lvl != nil {
		t.AskPrice, t.AskQty, t.HasAsk = lvl.Price, lvl.TotalQty, true
	}
	return t
}

// Len is the number of resting orders.
func (b *OrderBook) Len() int {
	return len(b.index)
}

// Order returns a copy of a resting order.
func (b *OrderBook) Order(id uint64) (Order, bool) {
	s, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	return *b.orders.At(s), true
}

// LevelOrders copies the orders resting at one price, in queue order.
func (b *OrderBook) LevelOrders(side Side, price int64) []Order {
	lvl := b.tree(side).Find(price)
	if lvl == nil {
		return nil
	}
	out := make([]Order, 0, lvl.OrderCount)
	for s := lvl.Front(); s != memory.NilSlot; {
		o := b.orders.At(s)
		out = append(out, *o)
		s = o.next
	}
	return out
}

// Depth returns up to n levels of one side, best first.
func (b *OrderBook) Depth(side Side, n int) []LevelChange {
	if n <= 0 {
		return nil
	}
	out := make([]LevelChange, 0, n)
	visit := func(lvl *PriceLevel) bool {
		if len(out) == n {
			return false
		}
		out = append(out, LevelChange{Side: side, Price: lvl.Price, TotalQty: lvl.TotalQty})
		return true
	}
	if side == Bid {
		b.Bids.Descend(visit)
	} else {
		b.Asks.Ascend(visit)
	}
	return out
}
