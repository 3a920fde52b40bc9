package memory

import "github.com/cockroachdb/errors"

// ErrExhausted is returned by Buffer.Append when the buffer is full.
var ErrExhausted = errors.New("memory: buffer exhausted")

// Buffer is a fixed-capacity append buffer. It never grows: running out of
// room is reported to the caller rather than dropping records.
type Buffer[T any] struct {
	items []T
	n     int
}

func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

func (b *Buffer[T]) Append(v T) error {
	if b.n == len(b.items) {
		return ErrExhausted
	}
	b.items[b.n] = v
	b.n++
	return nil
}

// Items is a view of the appended records, valid until the next Reset.
func (b *Buffer[T]) Items() []T {
	return b.items[:b.n]
}

// Reset rewinds the cursor so the whole buffer is reused.
func (b *Buffer[T]) Reset() {
	b.n = 0
}

func (b *Buffer[T]) Len() int  { return b.n }
func (b *Buffer[T]) Free() int { return len(b.items) - b.n }
func (b *Buffer[T]) Cap() int  { return len(b.items) }
