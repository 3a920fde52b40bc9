package orderbook

import "tickmatch/infra/memory"

type Side uint8
type OrderType uint8

const (
	Bid Side = iota
	Ask
)

const (
	Limit OrderType = iota
	Market
	IOC      // Immediate-Or-Cancel
	FOK      // Fill-Or-Kill
	PostOnly // rests only if it does not cross
)

func (s Side) String() string {
	if s == Ask {
		return "ASK"
	}
	return "BID"
}

// Opposite is the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case PostOnly:
		return "POST_ONLY"
	default:
		return "UNKNOWN"
	}
}

// rests reports whether an unfilled remainder of this type goes on the book.
func (t OrderType) rests() bool {
	return t == Limit || t == PostOnly
}

// Order is a pure domain entity. Price and Qty are integer ticks and lots.
type Order struct {
	ID        uint64
	SymbolID  uint32
	Price     int64
	Qty       int64
	Filled    int64
	Timestamp uint64 // arrival sequence

	Side Side
	Type OrderType

	// FIFO links inside a price level, as arena slots.
	next memory.Slot
	prev memory.Slot
}

func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}
