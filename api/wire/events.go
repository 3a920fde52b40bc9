package wire

import (
	"tickmatch/domain/orderbook"
	"tickmatch/marketdata"
)

// FillEvent is what leaves the engine for every execution.
//
//	message FillEvent {
//	  uint64 seq = 1;  uint32 symbol_id = 2;  uint64 maker_id = 3;
//	  uint64 taker_id = 4;  uint32 taker_side = 5;  sint64 price = 6;
//	  sint64 qty = 7;  uint64 timestamp = 8;  uint32 index = 9;
//	}
type FillEvent struct {
	Seq uint64
	orderbook.Fill
}

func (m *FillEvent) AppendWire(b []byte) []byte {
	b = appendUint(b, 1, m.Seq)
	b = appendUint(b, 2, uint64(m.SymbolID))
	b = appendUint(b, 3, m.MakerID)
	b = appendUint(b, 4, m.TakerID)
	b = appendUint(b, 5, uint64(m.TakerSide))
	b = appendInt(b, 6, m.Price)
	b = appendInt(b, 7, m.Qty)
	b = appendUint(b, 8, m.Timestamp)
	b = appendUint(b, 9, uint64(m.Index))
	return b
}

func (m *FillEvent) UnmarshalWire(b []byte) error {
	*m = FillEvent{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Seq = f.v
		case 2:
			m.SymbolID = f.uint32()
		case 3:
			m.MakerID = f.v
		case 4:
			m.TakerID = f.v
		case 5:
			m.TakerSide = orderbook.Side(f.v)
		case 6:
			m.Price = f.int64()
		case 7:
			m.Qty = f.int64()
		case 8:
			m.Timestamp = f.v
		case 9:
			m.Index = f.uint32()
		}
		return nil
	})
}

// QuoteEvent is a top-of-book change.
//
//	message QuoteEvent {
//	  uint32 symbol_id = 1;  uint64 seq = 2;
//	  sint64 bid_price = 3;  sint64 bid_qty = 4;  bool has_bid = 5;
//	  sint64 ask_price = 6;  sint64 ask_qty = 7;  bool has_ask = 8;
//	}
type QuoteEvent struct {
	marketdata.Quote
}

func (m *QuoteEvent) AppendWire(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.SymbolID))
	b = appendUint(b, 2, m.Seq)
	b = appendInt(b, 3, m.BidPrice)
	b = appendInt(b, 4, m.BidQty)
	b = appendBool(b, 5, m.HasBid)
	b = appendInt(b, 6, m.AskPrice)
	b = appendInt(b, 7, m.AskQty)
	b = appendBool(b, 8, m.HasAsk)
	return b
}

func (m *QuoteEvent) UnmarshalWire(b []byte) error {
	*m = QuoteEvent{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.SymbolID = f.uint32()
		case 2:
			m.Seq = f.v
		case 3:
			m.BidPrice = f.int64()
		case 4:
			m.BidQty = f.int64()
		case 5:
			m.HasBid = f.bool()
		case 6:
			m.AskPrice = f.int64()
		case 7:
			m.AskQty = f.int64()
		case 8:
			m.HasAsk = f.bool()
		}
		return nil
	})
}
