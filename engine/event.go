package engine

import (
	"tickmatch/domain/orderbook"
	"tickmatch/marketdata"
)

type EventKind uint8

const (
	EventFill EventKind = iota + 1
	EventLevel
	EventQuote
	EventReport
)

// Report closes the events of one instruction.
type Report struct {
	Instruction Kind
	OrderID     uint64
	Status      orderbook.Status
	Reason      orderbook.Reason
	Filled      int64
	Remaining   int64

	// FillOverflow is set when matching stopped early because the fill
	// buffer ran out; the remainder expired.
	FillOverflow bool
}

// Event is copied by value through the output ring. Only the field named by
// Kind is meaningful.
type Event struct {
	Kind     EventKind
	Seq      uint64
	SymbolID uint32

	Fill   orderbook.Fill
	Level  orderbook.LevelChange
	Quote  marketdata.Quote
	Report Report
}
