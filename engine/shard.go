package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"tickmatch/domain/orderbook"
	"tickmatch/infra/rbq"
	"tickmatch/marketdata"
)

// ErrShardHalted is returned for work routed to a shard that stopped on a
// fatal error.
var ErrShardHalted = errors.New("engine: shard halted")

const (
	spinIdle  = 64
	yieldIdle = 256
)

// Shard owns the books of its symbols. Apply and Run must only ever be
// called from one goroutine at a time; everything else is safe to call
// from anywhere.
type Shard struct {
	id  int
	log *slog.Logger

	books  map[uint32]*orderbook.OrderBook
	quotes map[uint32]*marketdata.QuoteCache

	in  *rbq.Ring[Instruction]
	out *rbq.Ring[Event]

	idleSleep time.Duration

	lastSeq atomic.Uint64
	halted  atomic.Bool
	err     atomic.Pointer[error]
	done    chan struct{}
}

func newShard(id int, cfg Config, symbols []uint32, log *slog.Logger) *Shard {
	s := &Shard{
		id:        id,
		log:       log.With(slog.Int("shard", id)),
		books:     make(map[uint32]*orderbook.OrderBook, len(symbols)),
		quotes:    make(map[uint32]*marketdata.QuoteCache, len(symbols)),
		in:        rbq.New[Instruction](cfg.IngressCapacity),
		out:       rbq.New[Event](cfg.OutputCapacity),
		idleSleep: cfg.IdleSleep,
		done:      make(chan struct{}),
	}
	for _, sym := range symbols {
		s.books[sym] = orderbook.NewOrderBook(orderbook.Config{
			SymbolID:      sym,
			OrderCapacity: cfg.OrderCapacity,
			FillCapacity:  cfg.FillCapacity,
			MarketPolicy:  cfg.MarketPolicy,
		})
		s.quotes[sym] = marketdata.NewQuoteCache(sym)
	}
	return s
}

func (s *Shard) ID() int { return s.id }

// Ingress is the producer side of the shard's queue. Exactly one goroutine
// may push to it.
func (s *Shard) Ingress() *rbq.Ring[Instruction] { return s.in }

// Output is the consumer side of the shard's event queue, owned by its
// Publisher.
func (s *Shard) Output() *rbq.Ring[Event] { return s.out }

func (s *Shard) Quote(symbolID uint32) *marketdata.QuoteCache { return s.quotes[symbolID] }

// Book exposes a symbol's book for recovery and tests. Callers must not use
// it while Run is active.
func (s *Shard) Book(symbolID uint32) *orderbook.OrderBook { return s.books[symbolID] }

func (s *Shard) Symbols() []uint32 {
	out := make([]uint32, 0, len(s.books))
	for sym := range s.books {
		out = append(out, sym)
	}
	return out
}

// LastSeq is the sequence of the last applied instruction.
func (s *Shard) LastSeq() uint64 { return s.lastSeq.Load() }

func (s *Shard) Halted() bool { return s.halted.Load() }

func (s *Shard) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Done is closed when Run returns.
func (s *Shard) Done() <-chan struct{} { return s.done }

// Run consumes the ingress ring until a Shutdown instruction, a halt, or
// ctx is cancelled. An empty ring is met with spinning, then yielding, then
// short sleeps; the loop never parks on a channel.
func (s *Shard) Run(ctx context.Context) error {
	defer close(s.done)
	s.log.Info("shard started", slog.Int("symbols", len(s.books)))

	idle := 0
	for {
		in, ok := s.in.TryPop()
		if !ok {
			if idle%spinIdle == 0 {
				select {
				case <-ctx.Done():
					s.log.Info("shard stopping", slog.Uint64("last_seq", s.LastSeq()))
					return ctx.Err()
				default:
				}
			}
			idle = s.backoff(idle)
			continue
		}
		idle = 0

		if stop := s.Apply(in); stop {
			if err := s.Err(); err != nil {
				return err
			}
			s.log.Info("shard shut down", slog.Uint64("last_seq", s.LastSeq()))
			return nil
		}
	}
}

func (s *Shard) backoff(idle int) int {
	idle++
	switch {
	case idle < spinIdle:
	case idle < yieldIdle || s.idleSleep <= 0:
		runtime.Gosched()
	default:
		time.Sleep(s.idleSleep)
	}
	return idle
}

// Apply executes one instruction to completion and emits its events. It
// returns true when the shard must stop: on Shutdown, or after a fatal
// error halted it.
func (s *Shard) Apply(in Instruction) (stop bool) {
	if s.halted.Load() {
		s.emit(Event{Kind: EventReport, Seq: in.Seq, SymbolID: in.SymbolID, Report: Report{
			Instruction: in.Kind,
			OrderID:     in.OrderID,
			Status:      orderbook.StatusRejected,
			Reason:      orderbook.ReasonShardHalted,
		}})
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = errors.Newf("%v", r)
			}
			s.halt(errors.Wrapf(err, "shard %d at seq %d", s.id, in.Seq))
			stop = true
		}
	}()

	switch in.Kind {
	case KindNewOrder:
		s.applyNew(in)
	case KindCancel:
		s.applyCancel(in)
	case KindShutdown:
		s.lastSeq.Store(in.Seq)
		return true
	default:
		panic(errors.Newf("unknown instruction kind %d", in.Kind))
	}
	s.lastSeq.Store(in.Seq)
	return false
}

func (s *Shard) applyNew(in Instruction) {
	book, ok := s.books[in.SymbolID]
	if !ok {
		s.reject(in, orderbook.ReasonUnknownSymbol)
		return
	}

	res, err := book.Place(orderbook.Order{
		ID:        in.OrderID,
		Side:      in.Side,
		Type:      in.Type,
		Price:     in.Price,
		Qty:       in.Qty,
		Timestamp: in.Seq,
	})
	overflow := errors.Is(err, orderbook.ErrFillBufferExhausted)
	if err != nil && !overflow {
		panic(err)
	}
	if overflow {
		s.log.Error("fill buffer exhausted, remainder expired",
			slog.Uint64("seq", in.Seq),
			slog.Uint64("order_id", in.OrderID),
			slog.Int("fills", len(res.Fills)))
	}
	s.publish(in, book, res, overflow)
}

func (s *Shard) applyCancel(in Instruction) {
	book, ok := s.books[in.SymbolID]
	if !ok {
		s.reject(in, orderbook.ReasonUnknownSymbol)
		return
	}
	s.publish(in, book, book.Cancel(in.OrderID), false)
}

func (s *Shard) reject(in Instruction, reason orderbook.Reason) {
	s.emit(Event{Kind: EventReport, Seq: in.Seq, SymbolID: in.SymbolID, Report: Report{
		Instruction: in.Kind,
		OrderID:     in.OrderID,
		Status:      orderbook.StatusRejected,
		Reason:      reason,
		Remaining:   in.Qty,
	}})
}

// publish emits fills, level changes, the new quote if the top moved, and
// finally the report, in that order.
func (s *Shard) publish(in Instruction, book *orderbook.OrderBook, res orderbook.Result, overflow bool) {
	for i := range res.Fills {
		s.emit(Event{Kind: EventFill, Seq: in.Seq, SymbolID: in.SymbolID, Fill: res.Fills[i]})
	}
	for i := range res.Changes {
		s.emit(Event{Kind: EventLevel, Seq: in.Seq, SymbolID: in.SymbolID, Level: res.Changes[i]})
	}
	if len(res.Changes) > 0 {
		if q, changed := s.quotes[in.SymbolID].Update(in.Seq, book.Top()); changed {
			s.emit(Event{Kind: EventQuote, Seq: in.Seq, SymbolID: in.SymbolID, Quote: q})
		}
	}
	s.emit(Event{Kind: EventReport, Seq: in.Seq, SymbolID: in.SymbolID, Report: Report{
		Instruction:  in.Kind,
		OrderID:      res.OrderID,
		Status:       res.Status,
		Reason:       res.Reason,
		Filled:       res.Filled,
		Remaining:    res.Remaining,
		FillOverflow: overflow,
	}})
}

// emit waits for room on the output ring. The publisher is the only thing
// that can stall the matcher.
func (s *Shard) emit(ev Event) {
	for spins := 0; !s.out.TryPush(ev); spins++ {
		if spins < spinIdle {
			continue
		}
		runtime.Gosched()
	}
}

func (s *Shard) halt(err error) {
	s.err.Store(&err)
	s.halted.Store(true)
	s.log.Error("shard halted", slog.Any("error", err))
}
