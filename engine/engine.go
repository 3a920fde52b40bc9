package engine

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"tickmatch/domain/orderbook"
	"tickmatch/marketdata"
)

var ErrUnknownSymbol = errors.New("engine: unknown symbol")

type Config struct {
	Shards          int
	IngressCapacity int
	OutputCapacity  int
	OrderCapacity   int
	FillCapacity    int
	MarketPolicy    orderbook.MarketPolicy
	IdleSleep       time.Duration
}

func (c *Config) defaults() {
	if c.Shards <= 0 {
		c.Shards = 1
	}
	if c.IngressCapacity <= 0 {
		c.IngressCapacity = 1 << 14
	}
	if c.OutputCapacity <= 0 {
		c.OutputCapacity = 1 << 16
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 50 * time.Microsecond
	}
}

// ShardFor maps a symbol to its shard. The mapping depends only on the
// symbol id and the shard count, so it is stable across restarts.
func ShardFor(symbolID uint32, shards int) int {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], symbolID)
	return int(xxhash.Sum64(b[:]) % uint64(shards))
}

// Engine owns the shards and the symbol routing table. It does not
// produce into the shard rings; that is the job of a single upstream
// stage per shard.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	session uuid.UUID

	shards []*Shard
	route  map[uint32]*Shard

	wg      sync.WaitGroup
	running bool
}

func New(cfg Config, symbols []uint32, log *slog.Logger) (*Engine, error) {
	cfg.defaults()
	if len(symbols) == 0 {
		return nil, errors.New("engine: no symbols configured")
	}

	perShard := make([][]uint32, cfg.Shards)
	seen := make(map[uint32]struct{}, len(symbols))
	for _, sym := range symbols {
		if _, dup := seen[sym]; dup {
			return nil, errors.Newf("engine: symbol %d configured twice", sym)
		}
		seen[sym] = struct{}{}
		i := ShardFor(sym, cfg.Shards)
		perShard[i] = append(perShard[i], sym)
	}

	e := &Engine{
		cfg:     cfg,
		log:     log,
		session: uuid.New(),
		shards:  make([]*Shard, cfg.Shards),
		route:   make(map[uint32]*Shard, len(symbols)),
	}
	for i := range e.shards {
		s := newShard(i, cfg, perShard[i], log)
		e.shards[i] = s
		for _, sym := range perShard[i] {
			e.route[sym] = s
		}
	}
	log.Info("engine created",
		slog.String("session", e.session.String()),
		slog.Int("shards", cfg.Shards),
		slog.Int("symbols", len(symbols)))
	return e, nil
}

// Session identifies this engine process; downstream consumers use it to
// tell a restart from a duplicate.
func (e *Engine) Session() uuid.UUID { return e.session }

func (e *Engine) Shards() []*Shard { return e.shards }

func (e *Engine) Route(symbolID uint32) (*Shard, error) {
	s, ok := e.route[symbolID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSymbol, "symbol %d", symbolID)
	}
	return s, nil
}

func (e *Engine) Quote(symbolID uint32) (marketdata.Quote, error) {
	s, err := e.Route(symbolID)
	if err != nil {
		return marketdata.Quote{}, err
	}
	return s.Quote(symbolID).Load(), nil
}

// Start launches one goroutine per shard running its matching loop. Replay
// through Shard.Apply must finish before Start.
func (e *Engine) Start(ctx context.Context) {
	e.running = true
	for _, s := range e.shards {
		e.wg.Add(1)
		go func(s *Shard) {
			defer e.wg.Done()
			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Error("shard exited", slog.Int("shard", s.ID()), slog.Any("error", err))
			}
		}(s)
	}
}

// Wait blocks until every shard loop has returned.
func (e *Engine) Wait() {
	if e.running {
		e.wg.Wait()
	}
}
