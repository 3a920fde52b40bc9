package engine

import "tickmatch/domain/orderbook"

type Kind uint8

const (
	KindNewOrder Kind = iota + 1
	KindCancel
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindNewOrder:
		return "NEW_ORDER"
	case KindCancel:
		return "CANCEL"
	case KindShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Instruction is the tagged variant a shard consumes. Seq is stamped by the
// sequencer and doubles as the order's arrival timestamp.
type Instruction struct {
	Kind     Kind
	Seq      uint64
	SymbolID uint32
	OrderID  uint64

	// NewOrder only.
	Side  orderbook.Side
	Type  orderbook.OrderType
	Price int64
	Qty   int64
}

func NewOrder(symbolID uint32, orderID uint64, side orderbook.Side, typ orderbook.OrderType, price, qty int64) Instruction {
	return Instruction{
		Kind:     KindNewOrder,
		SymbolID: symbolID,
		OrderID:  orderID,
		Side:     side,
		Type:     typ,
		Price:    price,
		Qty:      qty,
	}
}

func CancelOrder(symbolID uint32, orderID uint64) Instruction {
	return Instruction{Kind: KindCancel, SymbolID: symbolID, OrderID: orderID}
}

func Shutdown() Instruction {
	return Instruction{Kind: KindShutdown}
}
