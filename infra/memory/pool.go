package memory

// Slot addresses a record inside an Arena. It stays valid across growth of
// the backing store, unlike a pointer into it.
type Slot int32

// NilSlot marks the absence of a slot (end of list, unknown order).
const NilSlot Slot = -1

// Arena is a typed slot store with a LIFO free list.
type Arena[T any] struct {
	slots []T
	free  []Slot
}

// NewArena pre-allocates room for capacity records.
func NewArena[T any](capacity int) *Arena[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Arena[T]{
		slots: make([]T, 0, capacity),
		free:  make([]Slot, 0, capacity),
	}
}

// Allocate stores v in the most recently freed slot, or grows the store.
func (a *Arena[T]) Allocate(v T) Slot {
	if n := len(a.free); n > 0 {
		s := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[s] = v
		return s
	}
	a.slots = append(a.slots, v)
	return Slot(len(a.slots) - 1)
}

// Deallocate returns s to the free list. The record is left as is until the
// slot is handed out again.
func (a *Arena[T]) Deallocate(s Slot) {
	a.free = append(a.free, s)
}

// At returns the record in s. The pointer is only valid until the next
// Allocate, which may move the backing store.
func (a *Arena[T]) At(s Slot) *T {
	return &a.slots[s]
}

// Live is the number of allocated, not yet freed slots.
func (a *Arena[T]) Live() int {
	return len(a.slots) - len(a.free)
}

// Cap is the number of slots the store can hold without growing.
func (a *Arena[T]) Cap() int {
	return cap(a.slots)
}
