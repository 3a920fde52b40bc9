package orderbook

import "tickmatch/infra/memory"

// PriceLevel is a FIFO queue at a single price. Orders live in the book's
// arena and are linked by slot.
type PriceLevel struct {
	Price int64

	head memory.Slot
	tail memory.Slot

	TotalQty   int64
	OrderCount int
}

func (p *PriceLevel) reset(price int64) {
	*p = PriceLevel{Price: price, head: memory.NilSlot, tail: memory.NilSlot}
}

func (p *PriceLevel) enqueue(orders *memory.Arena[Order], s memory.Slot) {
	o := orders.At(s)
	o.next = memory.NilSlot
	o.prev = p.tail
	if p.tail == memory.NilSlot {
		p.head = s
	} else {
		orders.At(p.tail).next = s
	}
	p.tail = s
	p.TotalQty += o.Remaining()
	p.OrderCount++
}

// popFront unlinks the earliest order. Its remaining quantity leaves the
// level total; during matching that is zero because fills already took it.
func (p *PriceLevel) popFront(orders *memory.Arena[Order]) memory.Slot {
	s := p.head
	if s == memory.NilSlot {
		return s
	}
	p.unlink(orders, s)
	return s
}

func (p *PriceLevel) unlink(orders *memory.Arena[Order], s memory.Slot) {
	o := orders.At(s)
	if o.prev != memory.NilSlot {
		orders.At(o.prev).next = o.next
	} else {
		p.head = o.next
	}
	if o.next != memory.NilSlot {
		orders.At(o.next).prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next, o.prev = memory.NilSlot, memory.NilSlot
	p.TotalQty -= o.Remaining()
	p.OrderCount--
}

func (p *PriceLevel) Empty() bool {
	return p.head == memory.NilSlot
}

// Front is the slot of the earliest-arrived order.
func (p *PriceLevel) Front() memory.Slot {
	return p.head
}
