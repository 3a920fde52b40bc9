package wire

import (
	"tickmatch/domain/orderbook"
	"tickmatch/engine"
)

// Instruction is the journal payload of one sequenced instruction.
//
//	message Instruction {
//	  uint32 kind = 1;  uint64 seq = 2;  uint32 symbol_id = 3;
//	  uint64 order_id = 4;  uint32 side = 5;  uint32 type = 6;
//	  sint64 price = 7;  sint64 qty = 8;
//	}
type Instruction struct {
	engine.Instruction
}

func (m *Instruction) AppendWire(b []byte) []byte {
	in := &m.Instruction
	b = appendUint(b, 1, uint64(in.Kind))
	b = appendUint(b, 2, in.Seq)
	b = appendUint(b, 3, uint64(in.SymbolID))
	b = appendUint(b, 4, in.OrderID)
	b = appendUint(b, 5, uint64(in.Side))
	b = appendUint(b, 6, uint64(in.Type))
	b = appendInt(b, 7, in.Price)
	b = appendInt(b, 8, in.Qty)
	return b
}

func (m *Instruction) UnmarshalWire(b []byte) error {
	*m = Instruction{}
	in := &m.Instruction
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			in.Kind = engine.Kind(f.v)
		case 2:
			in.Seq = f.v
		case 3:
			in.SymbolID = f.uint32()
		case 4:
			in.OrderID = f.v
		case 5:
			in.Side = orderbook.Side(f.v)
		case 6:
			in.Type = orderbook.OrderType(f.v)
		case 7:
			in.Price = f.int64()
		case 8:
			in.Qty = f.int64()
		}
		return nil
	})
}
