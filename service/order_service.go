package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"tickmatch/api/wire"
	"tickmatch/domain/orderbook"
	"tickmatch/engine"
	"tickmatch/infra/metrics"
	"tickmatch/infra/sequence"
	entrywal "tickmatch/infra/wal/entry"
	"tickmatch/marketdata"
)

var (
	// ErrBackpressure means the shard queue stayed full for SubmitTimeout.
	// Nothing was journaled; the caller may retry.
	ErrBackpressure = errors.New("service: shard queue full")
	ErrClosed       = errors.New("service: closed")
	// ErrJournal means an append failed; the service refuses all further
	// writes because the journal tail can no longer be trusted.
	ErrJournal = errors.New("service: journal failure")
)

type Config struct {
	SubmitTimeout time.Duration
	Publisher     engine.PublisherConfig
	Metrics       *metrics.Metrics
}

// Execution is the outcome of one instruction as the shard reported it.
type Execution struct {
	Seq   uint64
	Fills int
	engine.Report
}

type OrderService struct {
	eng     *engine.Engine
	seq     *sequence.Sequencer
	journal *entrywal.WAL
	cfg     Config
	log     *slog.Logger

	depth      *engine.DepthSink
	waiters    *waiters
	publishers map[int]*engine.Publisher

	mu         sync.Mutex
	buf        []byte
	closed     bool
	journalErr error
	started    bool
}

// New wires publishers for every shard. Each batch goes to sinks in the
// order given, then to the service's own depth view and report waiters,
// so a caller only sees its result after every sink accepted the events.
func New(
	eng *engine.Engine,
	journal *entrywal.WAL,
	cfg Config,
	log *slog.Logger,
	sinks ...engine.Sink,
) *OrderService {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 100 * time.Millisecond
	}

	var symbols []uint32
	for _, sh := range eng.Shards() {
		symbols = append(symbols, sh.Symbols()...)
	}

	s := &OrderService{
		eng:        eng,
		seq:        sequence.New(journal.LastSeq()),
		journal:    journal,
		cfg:        cfg,
		log:        log.With(slog.String("component", "order_service")),
		depth:      engine.NewDepthSink(symbols),
		waiters:    newWaiters(),
		publishers: make(map[int]*engine.Publisher, len(eng.Shards())),
		buf:        make([]byte, 0, 64),
	}

	all := append([]engine.Sink{}, sinks...)
	if cfg.Metrics != nil {
		all = append(all, cfg.Metrics)
	}
	all = append(all, s.depth, s.waiters)
	for _, sh := range eng.Shards() {
		s.publishers[sh.ID()] = engine.NewPublisher(sh, cfg.Publisher, log, all...)
		if cfg.Metrics != nil {
			cfg.Metrics.WatchShard(sh)
		}
	}
	return s
}

// Start runs the shards and their publishers. Replay must come first.
func (s *OrderService) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.eng.Start(ctx)
	for _, p := range s.publishers {
		go p.Run(ctx)
	}
}

// PlaceOrder sequences a new order and waits for its report. The order id
// is the sequence number.
func (s *OrderService) PlaceOrder(
	ctx context.Context,
	symbolID uint32,
	side orderbook.Side,
	typ orderbook.OrderType,
	price, qty int64,
) (Execution, error) {
	return s.Execute(ctx, engine.NewOrder(symbolID, 0, side, typ, price, qty))
}

func (s *OrderService) CancelOrder(ctx context.Context, symbolID uint32, orderID uint64) (Execution, error) {
	return s.Execute(ctx, engine.CancelOrder(symbolID, orderID))
}

// Execute submits in and waits until its shard reports on it.
func (s *OrderService) Execute(ctx context.Context, in engine.Instruction) (Execution, error) {
	shard, done, err := s.submit(ctx, in)
	if err != nil {
		return Execution{}, err
	}

	select {
	case ex := <-done.ch:
		return ex, nil
	case <-shard.Done():
		// the report may still be in flight through the publisher
		select {
		case <-s.publishers[shard.ID()].Done():
		case <-ctx.Done():
		}
		select {
		case ex := <-done.ch:
			return ex, nil
		default:
		}
		s.waiters.remove(done.seq)
		if err := shard.Err(); err != nil {
			return Execution{Seq: done.seq}, errors.Wrap(engine.ErrShardHalted, err.Error())
		}
		return Execution{Seq: done.seq}, ErrClosed
	case <-ctx.Done():
		s.waiters.remove(done.seq)
		return Execution{Seq: done.seq}, errors.Wrapf(ctx.Err(), "waiting for seq %d", done.seq)
	}
}

// submit is the only producer into every shard ring. Holding mu across
// wait, sequence, journal and push keeps journal order equal to queue
// order.
func (s *OrderService) submit(ctx context.Context, in engine.Instruction) (*engine.Shard, *waiter, error) {
	shard, err := s.eng.Route(in.SymbolID)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return nil, nil, ErrClosed
	case s.journalErr != nil:
		return nil, nil, s.journalErr
	case shard.Halted():
		return nil, nil, errors.Wrap(engine.ErrShardHalted, shard.Err().Error())
	}

	if err := s.waitForRoom(ctx, shard); err != nil {
		return nil, nil, err
	}

	in.Seq = s.seq.Next()
	recType := entrywal.RecordCancel
	if in.Kind == engine.KindNewOrder {
		in.OrderID = in.Seq
		recType = entrywal.RecordPlace
	}

	s.buf = (&wire.Instruction{Instruction: in}).AppendWire(s.buf[:0])
	if err := s.journal.Append(entrywal.NewRecord(recType, in.Seq, s.buf)); err != nil {
		s.journalErr = errors.Wrap(ErrJournal, err.Error())
		s.log.Error("journal append failed, refusing writes", slog.Uint64("seq", in.Seq), slog.Any("error", err))
		return nil, nil, s.journalErr
	}

	w := s.waiters.add(in.Seq)
	if !shard.Ingress().TryPush(in) {
		// waitForRoom saw space and nobody else pushes
		panic(errors.AssertionFailedf("shard %d ring full after wait", shard.ID()))
	}
	return shard, w, nil
}

func (s *OrderService) waitForRoom(ctx context.Context, shard *engine.Shard) error {
	if shard.Ingress().Free() > 0 {
		return nil
	}
	deadline := time.Now().Add(s.cfg.SubmitTimeout)
	for shard.Ingress().Free() == 0 {
		if time.Now().After(deadline) {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.Backpressure.Inc()
			}
			return errors.Wrapf(ErrBackpressure, "shard %d", shard.ID())
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		time.Sleep(10 * time.Microsecond)
	}
	return nil
}

func (s *OrderService) Quote(symbolID uint32) (marketdata.Quote, error) {
	return s.eng.Quote(symbolID)
}

// Depth returns up to n levels per side from the publisher-fed view.
func (s *OrderService) Depth(symbolID uint32, n int) (bids, asks []marketdata.Level, seq uint64, err error) {
	d, ok := s.depth.Depth(symbolID)
	if !ok {
		return nil, nil, 0, errors.Wrapf(engine.ErrUnknownSymbol, "symbol %d", symbolID)
	}
	snap := d.Snapshot(n)
	return snap.Bids, snap.Asks, snap.Seq, nil
}

// LastSeq is the last sequence handed out.
func (s *OrderService) LastSeq() uint64 { return s.seq.Current() }

// Close stops intake, lets every shard finish what is queued, waits for
// the publishers to drain and closes the journal.
func (s *OrderService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	stop := engine.Shutdown()
	stop.Seq = s.seq.Current()
	for _, sh := range s.eng.Shards() {
		if !started || sh.Halted() {
			continue
		}
		for !sh.Ingress().TryPush(stop) {
			if ctx.Err() != nil {
				break
			}
			time.Sleep(10 * time.Microsecond)
		}
	}
	s.mu.Unlock()

	if started {
		s.eng.Wait()
		for _, p := range s.publishers {
			select {
			case <-p.Done():
			case <-ctx.Done():
			}
		}
	}
	err := s.journal.Close()
	s.log.Info("order service closed", slog.Uint64("last_seq", s.seq.Current()))
	return err
}
