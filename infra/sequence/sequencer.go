package sequence

import "sync/atomic"

// Sequencer hands out the global instruction sequence. Every instruction,
// on every shard, gets a distinct and strictly increasing number; it is
// also the arrival timestamp used for time priority.
type Sequencer struct {
	last atomic.Uint64
}

// New starts after last: 0 on a fresh journal, the last journaled seq
// after a replay.
func New(last uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current is the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset moves the sequencer to v. Only valid before traffic starts.
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}
