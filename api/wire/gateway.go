package wire

// Gateway messages. Prices travel as decimal strings and are converted to
// ticks at the edge; quantities are whole lots.

//	message PlaceOrderRequest {
//	  string symbol = 1;  uint32 side = 2;  uint32 type = 3;
//	  string price = 4;  int64 qty = 5;  string client_order_id = 6;
//	}
type PlaceOrderRequest struct {
	Symbol        string
	Side          uint32
	Type          uint32
	Price         string
	Qty           int64
	ClientOrderID string
}

func (m *PlaceOrderRequest) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.Symbol)
	b = appendUint(b, 2, uint64(m.Side))
	b = appendUint(b, 3, uint64(m.Type))
	b = appendString(b, 4, m.Price)
	b = appendUint(b, 5, uint64(m.Qty))
	b = appendString(b, 6, m.ClientOrderID)
	return b
}

func (m *PlaceOrderRequest) UnmarshalWire(b []byte) error {
	*m = PlaceOrderRequest{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Symbol = f.str()
		case 2:
			m.Side = f.uint32()
		case 3:
			m.Type = f.uint32()
		case 4:
			m.Price = f.str()
		case 5:
			m.Qty = int64(f.v)
		case 6:
			m.ClientOrderID = f.str()
		}
		return nil
	})
}

// ExecutionReply answers both PlaceOrder and CancelOrder.
//
//	message ExecutionReply {
//	  uint64 order_id = 1;  uint64 seq = 2;  uint32 status = 3;
//	  uint32 reason = 4;  int64 filled = 5;  int64 remaining = 6;
//	  uint32 fills = 7;  string client_order_id = 8;  bool fill_overflow = 9;
//	}
type ExecutionReply struct {
	OrderID       uint64
	Seq           uint64
	Status        uint32
	Reason        uint32
	Filled        int64
	Remaining     int64
	Fills         uint32
	ClientOrderID string
	FillOverflow  bool
}

func (m *ExecutionReply) AppendWire(b []byte) []byte {
	b = appendUint(b, 1, m.OrderID)
	b = appendUint(b, 2, m.Seq)
	b = appendUint(b, 3, uint64(m.Status))
	b = appendUint(b, 4, uint64(m.Reason))
	b = appendUint(b, 5, uint64(m.Filled))
	b = appendUint(b, 6, uint64(m.Remaining))
	b = appendUint(b, 7, uint64(m.Fills))
	b = appendString(b, 8, m.ClientOrderID)
	b = appendBool(b, 9, m.FillOverflow)
	return b
}

func (m *ExecutionReply) UnmarshalWire(b []byte) error {
	*m = ExecutionReply{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.OrderID = f.v
		case 2:
			m.Seq = f.v
		case 3:
			m.Status = f.uint32()
		case 4:
			m.Reason = f.uint32()
		case 5:
			m.Filled = int64(f.v)
		case 6:
			m.Remaining = int64(f.v)
		case 7:
			m.Fills = f.uint32()
		case 8:
			m.ClientOrderID = f.str()
		case 9:
			m.FillOverflow = f.bool()
		}
		return nil
	})
}

// message CancelOrderRequest { string symbol = 1;  uint64 order_id = 2; }
type CancelOrderRequest struct {
	Symbol  string
	OrderID uint64
}

func (m *CancelOrderRequest) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.Symbol)
	b = appendUint(b, 2, m.OrderID)
	return b
}

func (m *CancelOrderRequest) UnmarshalWire(b []byte) error {
	*m = CancelOrderRequest{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Symbol = f.str()
		case 2:
			m.OrderID = f.v
		}
		return nil
	})
}

// message BookRequest { string symbol = 1;  uint32 levels = 2; }
type BookRequest struct {
	Symbol string
	Levels uint32
}

func (m *BookRequest) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.Symbol)
	b = appendUint(b, 2, uint64(m.Levels))
	return b
}

func (m *BookRequest) UnmarshalWire(b []byte) error {
	*m = BookRequest{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Symbol = f.str()
		case 2:
			m.Levels = f.uint32()
		}
		return nil
	})
}

// message PriceLevel { string price = 1;  int64 qty = 2; }
type PriceLevel struct {
	Price string
	Qty   int64
}

func (m *PriceLevel) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.Price)
	b = appendUint(b, 2, uint64(m.Qty))
	return b
}

func (m *PriceLevel) UnmarshalWire(b []byte) error {
	*m = PriceLevel{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Price = f.str()
		case 2:
			m.Qty = int64(f.v)
		}
		return nil
	})
}

// BookReply carries the top of book (one level per side) or the depth.
//
//	message BookReply {
//	  string symbol = 1;  uint64 seq = 2;
//	  repeated PriceLevel bids = 3;  repeated PriceLevel asks = 4;
//	}
type BookReply struct {
	Symbol string
	Seq    uint64
	Bids   []PriceLevel
	Asks   []PriceLevel
}

func (m *BookReply) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.Symbol)
	b = appendUint(b, 2, m.Seq)
	for i := range m.Bids {
		b = appendMessage(b, 3, &m.Bids[i])
	}
	for i := range m.Asks {
		b = appendMessage(b, 4, &m.Asks[i])
	}
	return b
}

func (m *BookReply) UnmarshalWire(b []byte) error {
	*m = BookReply{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Symbol = f.str()
		case 2:
			m.Seq = f.v
		case 3, 4:
			var lvl PriceLevel
			if err := lvl.UnmarshalWire(f.bytes); err != nil {
				return err
			}
			if f.num == 3 {
				m.Bids = append(m.Bids, lvl)
			} else {
				m.Asks = append(m.Asks, lvl)
			}
		}
		return nil
	})
}
