package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"tickmatch/marketdata"
)

// Sink receives batches of events in shard order. A batch never splits the
// events of one instruction across a call boundary it could not recover
// from: a sink that fails is retried with the same batch.
type Sink interface {
	Publish(ctx context.Context, batch []Event) error
}

type SinkFunc func(ctx context.Context, batch []Event) error

func (f SinkFunc) Publish(ctx context.Context, batch []Event) error { return f(ctx, batch) }

type PublisherConfig struct {
	BatchSize  int
	IdleSleep  time.Duration
	RetryDelay time.Duration
}

// Publisher drains one shard's output ring. It is the ring's only consumer.
type Publisher struct {
	shard *Shard
	sinks []Sink
	cfg   PublisherConfig
	log   *slog.Logger
	batch []Event
	done  chan struct{}
}

func NewPublisher(shard *Shard, cfg PublisherConfig, log *slog.Logger, sinks ...Sink) *Publisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 512
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 100 * time.Microsecond
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 50 * time.Millisecond
	}
	return &Publisher{
		shard: shard,
		sinks: sinks,
		cfg:   cfg,
		log:   log.With(slog.Int("shard", shard.ID())),
		batch: make([]Event, cfg.BatchSize),
		done:  make(chan struct{}),
	}
}

func (p *Publisher) Done() <-chan struct{} { return p.done }

// Run publishes until the shard has stopped and its ring is drained, or
// ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)
	for {
		n := p.shard.Output().PopBatch(p.batch)
		if n > 0 {
			if err := p.deliver(ctx, p.batch[:n]); err != nil {
				return
			}
			continue
		}
		select {
		case <-p.shard.Done():
			if p.shard.Output().IsEmpty() {
				return
			}
		case <-ctx.Done():
			return
		default:
			time.Sleep(p.cfg.IdleSleep)
		}
	}
}

// Drain publishes whatever is queued right now. Used during replay, where
// the shard is driven synchronously and Run is not active.
func (p *Publisher) Drain(ctx context.Context) error {
	for {
		n := p.shard.Output().PopBatch(p.batch)
		if n == 0 {
			return nil
		}
		if err := p.deliver(ctx, p.batch[:n]); err != nil {
			return err
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, batch []Event) error {
	for _, s := range p.sinks {
		for attempt := 1; ; attempt++ {
			err := s.Publish(ctx, batch)
			if err == nil {
				break
			}
			p.log.Warn("sink publish failed",
				slog.Int("attempt", attempt),
				slog.Int("events", len(batch)),
				slog.Any("error", err))
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "publisher stopped with undelivered events")
			case <-time.After(p.cfg.RetryDelay):
			}
		}
	}
	return nil
}

// DepthSink keeps an L2 view per symbol up to date from level events.
type DepthSink struct {
	books map[uint32]*marketdata.Depth
}

func NewDepthSink(symbols []uint32) *DepthSink {
	d := &DepthSink{books: make(map[uint32]*marketdata.Depth, len(symbols))}
	for _, sym := range symbols {
		d.books[sym] = marketdata.NewDepth()
	}
	return d
}

func (d *DepthSink) Depth(symbolID uint32) (*marketdata.Depth, bool) {
	book, ok := d.books[symbolID]
	return book, ok
}

func (d *DepthSink) Publish(_ context.Context, batch []Event) error {
	for i := range batch {
		ev := &batch[i]
		if ev.Kind != EventLevel {
			continue
		}
		if book, ok := d.books[ev.SymbolID]; ok {
			book.Apply(ev.Seq, ev.Level)
		}
	}
	return nil
}
