package service

import (
	"context"
	"sync"

	"tickmatch/engine"
)

type waiter struct {
	seq   uint64
	fills int
	ch    chan Execution
}

// waiters hands each instruction's report back to the goroutine that
// submitted it. It runs as the last sink of every publisher.
type waiters struct {
	mu      sync.Mutex
	pending map[uint64]*waiter
}

func newWaiters() *waiters {
	return &waiters{pending: make(map[uint64]*waiter)}
}

func (w *waiters) add(seq uint64) *waiter {
	wt := &waiter{seq: seq, ch: make(chan Execution, 1)}
	w.mu.Lock()
	w.pending[seq] = wt
	w.mu.Unlock()
	return wt
}

func (w *waiters) remove(seq uint64) {
	w.mu.Lock()
	delete(w.pending, seq)
	w.mu.Unlock()
}

func (w *waiters) Publish(_ context.Context, batch []engine.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range batch {
		ev := &batch[i]
		wt, ok := w.pending[ev.Seq]
		if !ok {
			continue
		}
		switch ev.Kind {
		case engine.EventFill:
			wt.fills++
		case engine.EventReport:
			wt.ch <- Execution{Seq: ev.Seq, Fills: wt.fills, Report: ev.Report}
			delete(w.pending, ev.Seq)
		}
	}
	return nil
}
