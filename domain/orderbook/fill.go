package orderbook

// Fill is an immutable execution record. Price is always the maker's.
type Fill struct {
	MakerID   uint64
	TakerID   uint64
	SymbolID  uint32
	TakerSide Side
	Price     int64
	Qty       int64
	Timestamp uint64 // taker arrival sequence
	Index     uint32 // position among the fills of one instruction
}

// LevelChange reports the new aggregate quantity of a touched price level.
// TotalQty == 0 means the level left the book.
type LevelChange struct {
	Side     Side
	Price    int64
	TotalQty int64
}

// Top is the best price and size on each side.
type Top struct {
	BidPrice int64
	BidQty   int64
	AskPrice int64
	AskQty   int64
	HasBid   bool
	HasAsk   bool
}

// Crossed reports a top of book with best bid >= best ask.
func (t Top) Crossed() bool {
	return t.HasBid && t.HasAsk && t.BidPrice >= t.AskPrice
}

type Status uint8

const (
	StatusRested    Status = iota // remainder rests on the book
	StatusFilled                  // fully executed
	StatusExpired                 // remainder discarded (IOC, FOK, Market)
	StatusCancelled               // resting order removed
	StatusRejected                // no state changed, see Reason
)

func (s Status) String() string {
	switch s {
	case StatusRested:
		return "RESTED"
	case StatusFilled:
		return "FILLED"
	case StatusExpired:
		return "EXPIRED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonInvalidPrice
	ReasonInvalidQuantity
	ReasonUnknownSymbol
	ReasonFOKUnfilled
	ReasonInsufficientLiquidity
	ReasonWouldCross
	ReasonDuplicateOrderID
	ReasonUnknownOrder
	ReasonShardHalted
	// ReasonFillCapacity rejects an all-or-nothing order whose execution
	// would need more fills than one instruction may produce.
	ReasonFillCapacity
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonInvalidPrice:
		return "INVALID_PRICE"
	case ReasonInvalidQuantity:
		return "INVALID_QUANTITY"
	case ReasonUnknownSymbol:
		return "UNKNOWN_SYMBOL"
	case ReasonFOKUnfilled:
		return "FOK_UNFILLED"
	case ReasonInsufficientLiquidity:
		return "INSUFFICIENT_LIQUIDITY"
	case ReasonWouldCross:
		return "WOULD_CROSS"
	case ReasonDuplicateOrderID:
		return "DUPLICATE_ORDER_ID"
	case ReasonUnknownOrder:
		return "UNKNOWN_ORDER"
	case ReasonShardHalted:
		return "SHARD_HALTED"
	case ReasonFillCapacity:
		return "FILL_CAPACITY"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of one instruction against the book.
// Fills and Changes are views into book-owned buffers and are only valid
// until the next call on the same book.
type Result struct {
	OrderID   uint64
	Status    Status
	Reason    Reason
	Filled    int64
	Remaining int64

	Fills   []Fill
	Changes []LevelChange
}
