package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBook struct {
	*OrderBook
	t   *testing.T
	seq uint64
}

func newTestBook(t *testing.T) *testBook {
	return &testBook{OrderBook: NewOrderBook(Config{SymbolID: 1}), t: t}
}

func (b *testBook) place(side Side, typ OrderType, price, qty int64) Result {
	b.t.Helper()
	b.seq++
	res, err := b.Place(Order{
		ID:        b.seq,
		Side:      side,
		Type:      typ,
		Price:     price,
		Qty:       qty,
		Timestamp: b.seq,
	})
	require.NoError(b.t, err)
	// Fills are a view into the book's buffer; keep a copy for assertions.
	res.Fills = append([]Fill(nil), res.Fills...)
	res.Changes = append([]LevelChange(nil), res.Changes...)
	return res
}

// ---- example scenarios ----

func TestWalkTheBookFillsAtMakerPrices(t *testing.T) {
	b := newTestBook(t)
	a101 := b.place(Ask, Limit, 101, 100)
	a100 := b.place(Ask, Limit, 100, 50)

	res := b.place(Bid, Limit, 101, 120)

	require.Len(t, res.Fills, 2)
	assert.Equal(t, a100.OrderID, res.Fills[0].MakerID)
	assert.Equal(t, int64(100), res.Fills[0].Price)
	assert.Equal(t, int64(50), res.Fills[0].Qty)
	assert.Equal(t, a101.OrderID, res.Fills[1].MakerID)
	assert.Equal(t, int64(101), res.Fills[1].Price)
	assert.Equal(t, int64(70), res.Fills[1].Qty)
	assert.Equal(t, StatusFilled, res.Status)

	assert.Equal(t, 0, b.Bids.Len(), "no bid may rest")
	require.Equal(t, 1, b.Asks.Len())
	lvl := b.Asks.Find(101)
	require.NotNil(t, lvl)
	assert.Equal(t, int64(30), lvl.TotalQty)
}

func TestTimePriorityWithinLevel(t *testing.T) {
	b := newTestBook(t)
	first := b.place(Bid, Limit, 100, 10)
	second := b.place(Bid, Limit, 100, 10)

	res := b.place(Ask, Limit, 100, 10)

	require.Len(t, res.Fills, 1)
	assert.Equal(t, first.OrderID, res.Fills[0].MakerID)
	assert.Equal(t, int64(10), res.Fills[0].Qty)

	rest := b.LevelOrders(Bid, 100)
	require.Len(t, rest, 1)
	assert.Equal(t, second.OrderID, rest[0].ID)
	assert.Equal(t, int64(0), rest[0].Filled, "later order must be untouched")
}

func TestFOKRejectedWithoutSideEffects(t *testing.T) {
	b := newTestBook(t)
	b.place(Ask, Limit, 99, 100)
	b.place(Ask, Limit, 100, 50)
	b.place(Ask, Limit, 101, 500) // beyond the FOK limit
	before := b.Depth(Ask, 10)

	res := b.place(Bid, FOK, 100, 200)

	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, ReasonFOKUnfilled, res.Reason)
	assert.Empty(t, res.Fills)
	assert.Equal(t, before, b.Depth(Ask, 10))
	assert.Equal(t, 0, b.Bids.Len())
}

func TestIOCRemainderDiscarded(t *testing.T) {
	b := newTestBook(t)
	b.place(Ask, Limit, 100, 30)

	res := b.place(Bid, IOC, 100, 50)

	require.Len(t, res.Fills, 1)
	assert.Equal(t, int64(30), res.Fills[0].Qty)
	assert.Equal(t, StatusExpired, res.Status)
	assert.Equal(t, int64(20), res.Remaining)
	assert.Equal(t, 0, b.Bids.Len(), "IOC must never rest")
	assert.Equal(t, 0, b.Asks.Len())
}

// ---- order types ----

func TestFOKFillsCompletelyWhenLiquiditySuffices(t *testing.T) {
	b := newTestBook(t)
	b.place(Ask, Limit, 99, 100)
	b.place(Ask, Limit, 100, 100)

	res := b.place(Bid, FOK, 100, 150)

	assert.Equal(t, StatusFilled, res.Status)
	require.Len(t, res.Fills, 2)
	assert.Equal(t, int64(50), b.Asks.Find(100).TotalQty)
}

func TestMarketDiscardsRemainderByDefault(t *testing.T) {
	b := newTestBook(t)
	b.place(Bid, Limit, 90, 10)
	b.place(Bid, Limit, 50, 10)

	res := b.place(Ask, Market, 0, 35)

	require.Len(t, res.Fills, 2)
	assert.Equal(t, int64(90), res.Fills[0].Price)
	assert.Equal(t, int64(50), res.Fills[1].Price)
	assert.Equal(t, StatusExpired, res.Status)
	assert.Equal(t, int64(15), res.Remaining)
	assert.Equal(t, 0, b.Asks.Len(), "market orders never rest")
	assert.Equal(t, 0, b.Bids.Len())
}

func TestMarketRejectPolicy(t *testing.T) {
	b := &testBook{OrderBook: NewOrderBook(Config{SymbolID: 1, MarketPolicy: MarketRejectUnfilled}), t: t}
	b.place(Ask, Limit, 100, 10)

	res := b.place(Bid, Market, 0, 11)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, ReasonInsufficientLiquidity, res.Reason)
	assert.Equal(t, int64(10), b.Asks.Find(100).TotalQty)

	res = b.place(Bid, Market, 0, 10)
	assert.Equal(t, StatusFilled, res.Status)
}

func TestMarketOnEmptyBookExpires(t *testing.T) {
	b := newTestBook(t)
	res := b.place(Bid, Market, 0, 5)
	assert.Equal(t, StatusExpired, res.Status)
	assert.Empty(t, res.Fills)
}

func TestPostOnly(t *testing.T) {
	b := newTestBook(t)
	b.place(Ask, Limit, 101, 5)

	res := b.place(Bid, PostOnly, 100, 5)
	assert.Equal(t, StatusRested, res.Status)

	res = b.place(Bid, PostOnly, 101, 5)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, ReasonWouldCross, res.Reason)
	assert.Equal(t, int64(5), b.Asks.Find(101).TotalQty)
}

func TestLimitPartialFillRests(t *testing.T) {
	b := newTestBook(t)
	b.place(Ask, Limit, 100, 4)

	res := b.place(Bid, Limit, 100, 10)

	assert.Equal(t, StatusRested, res.Status)
	assert.Equal(t, int64(4), res.Filled)
	o, ok := b.Order(res.OrderID)
	require.True(t, ok)
	assert.Equal(t, int64(6), o.Remaining())
	assert.Equal(t, int64(6), b.Bids.Find(100).TotalQty)
	assert.Equal(t, 0, b.Asks.Len())
}

func TestValidationRejects(t *testing.T) {
	b := newTestBook(t)
	cases := []struct {
		name   string
		typ    OrderType
		price  int64
		qty    int64
		reason Reason
	}{
		{"zero qty", Limit, 100, 0, ReasonInvalidQuantity},
		{"negative qty", IOC, 100, -3, ReasonInvalidQuantity},
		{"zero price", Limit, 0, 10, ReasonInvalidPrice},
		{"negative price", FOK, -1, 10, ReasonInvalidPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := b.place(Bid, tc.typ, tc.price, tc.qty)
			assert.Equal(t, StatusRejected, res.Status)
			assert.Equal(t, tc.reason, res.Reason)
		})
	}
	assert.Equal(t, 0, b.Len())
}

func TestDuplicateRestingIDRejected(t *testing.T) {
	b := newTestBook(t)
	_, err := b.Place(Order{ID: 42, Side: Bid, Type: Limit, Price: 100, Qty: 1})
	require.NoError(t, err)
	res, err := b.Place(Order{ID: 42, Side: Bid, Type: Limit, Price: 99, Qty: 1})
	require.NoError(t, err)
	assert.Equal(t, ReasonDuplicateOrderID, res.Reason)
	assert.Nil(t, b.Bids.Find(99))
}

// ---- cancel ----

func TestCancelRemovesOrderAndEmptyLevel(t *testing.T) {
	b := newTestBook(t)
	o1 := b.place(Bid, Limit, 100, 5)
	o2 := b.place(Bid, Limit, 100, 7)

	res := b.Cancel(o1.OrderID)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, int64(7), b.Bids.Find(100).TotalQty)
	assert.Equal(t, 1, b.Bids.Find(100).OrderCount)

	b.Cancel(o2.OrderID)
	assert.Nil(t, b.Bids.Find(100), "empty level must leave the index")
	assert.Equal(t, 0, b.Len())
}

func TestCancelUnknownOrFilledOrder(t *testing.T) {
	b := newTestBook(t)
	res := b.Cancel(999)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, ReasonUnknownOrder, res.Reason)

	maker := b.place(Ask, Limit, 100, 5)
	b.place(Bid, Limit, 100, 5)
	res = b.Cancel(maker.OrderID)
	assert.Equal(t, ReasonUnknownOrder, res.Reason, "a filled order is no longer cancellable")
}

func TestCancelMiddleOfQueueKeepsOrder(t *testing.T) {
	b := newTestBook(t)
	a := b.place(Ask, Limit, 100, 1)
	mid := b.place(Ask, Limit, 100, 1)
	c := b.place(Ask, Limit, 100, 1)
	b.Cancel(mid.OrderID)

	res := b.place(Bid, Limit, 100, 2)
	require.Len(t, res.Fills, 2)
	assert.Equal(t, a.OrderID, res.Fills[0].MakerID)
	assert.Equal(t, c.OrderID, res.Fills[1].MakerID)
}

// ---- fill buffer ----

func TestFillBufferExhaustionKeepsBookConsistent(t *testing.T) {
	b := &testBook{OrderBook: NewOrderBook(Config{SymbolID: 1, FillCapacity: 2}), t: t}
	for i := 0; i < 3; i++ {
		b.place(Ask, Limit, 100, 1)
	}

	res, err := b.Place(Order{ID: 100, Side: Bid, Type: Limit, Price: 100, Qty: 3, Timestamp: 100})
	require.ErrorIs(t, err, ErrFillBufferExhausted)
	assert.Len(t, res.Fills, 2, "fills produced before exhaustion are kept")
	assert.Equal(t, StatusExpired, res.Status)
	assert.Equal(t, int64(1), res.Remaining)
	assert.Equal(t, 0, b.Bids.Len(), "remainder must not rest after exhaustion")
	assert.Equal(t, int64(1), b.Asks.Find(100).TotalQty)
}

func TestAllOrNothingRejectsWhenFillsWouldNotFit(t *testing.T) {
	cases := []struct {
		name   string
		policy MarketPolicy
		order  Order
	}{
		{"fok", MarketDiscardRemainder, Order{ID: 100, Side: Bid, Type: FOK, Price: 100, Qty: 3, Timestamp: 100}},
		{"market reject", MarketRejectUnfilled, Order{ID: 100, Side: Bid, Type: Market, Qty: 3, Timestamp: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &testBook{OrderBook: NewOrderBook(Config{SymbolID: 1, FillCapacity: 2, MarketPolicy: tc.policy}), t: t}
			for i := 0; i < 3; i++ {
				b.place(Ask, Limit, 100, 1)
			}
			before := b.Depth(Ask, 10)

			res, err := b.Place(tc.order)
			require.NoError(t, err)
			assert.Equal(t, StatusRejected, res.Status)
			assert.Equal(t, ReasonFillCapacity, res.Reason)
			assert.Empty(t, res.Fills)
			assert.Zero(t, res.Filled)
			assert.Equal(t, before, b.Depth(Ask, 10), "makers must be untouched")
		})
	}
}

func TestAllOrNothingFillsWhenFillsFitExactly(t *testing.T) {
	b := &testBook{OrderBook: NewOrderBook(Config{SymbolID: 1, FillCapacity: 2}), t: t}
	b.place(Ask, Limit, 100, 1)
	b.place(Ask, Limit, 100, 1)
	b.place(Ask, Limit, 100, 5)

	// the third maker is only needed for a larger order
	res, err := b.Place(Order{ID: 100, Side: Bid, Type: FOK, Price: 100, Qty: 2, Timestamp: 100})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, res.Status)
	assert.Len(t, res.Fills, 2)

	// one partially consumed maker counts as one fill
	res, err = b.Place(Order{ID: 101, Side: Bid, Type: FOK, Price: 100, Qty: 3, Timestamp: 101})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, res.Status)
	assert.Equal(t, int64(2), b.Asks.Find(100).TotalQty)
}

// ---- reporting ----

func TestLevelChangesReportTouchedLevels(t *testing.T) {
	b := newTestBook(t)
	b.place(Ask, Limit, 100, 5)
	b.place(Ask, Limit, 101, 5)

	res := b.place(Bid, Limit, 102, 7)
	assert.Equal(t, []LevelChange{
		{Side: Ask, Price: 100, TotalQty: 0},
		{Side: Ask, Price: 101, TotalQty: 3},
	}, res.Changes)
}

func TestTopOfBook(t *testing.T) {
	b := newTestBook(t)
	assert.Equal(t, Top{}, b.Top())

	b.place(Bid, Limit, 99, 3)
	b.place(Bid, Limit, 98, 4)
	b.place(Ask, Limit, 101, 6)
	assert.Equal(t, Top{BidPrice: 99, BidQty: 3, AskPrice: 101, AskQty: 6, HasBid: true, HasAsk: true}, b.Top())
}
