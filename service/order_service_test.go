package service

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickmatch/api/wire"
	"tickmatch/domain/orderbook"
	"tickmatch/engine"
	entrywal "tickmatch/infra/wal/entry"
	exitwal "tickmatch/infra/wal/exit"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	svc    *OrderService
	eng    *engine.Engine
	outbox *exitwal.Outbox
	walDir string
}

func newHarness(t *testing.T, walDir, outboxDir string, ecfg engine.Config, start bool) *harness {
	t.Helper()
	eng, err := engine.New(ecfg, []uint32{1, 2, 3}, discard)
	require.NoError(t, err)
	journal, err := entrywal.Open(entrywal.Config{Dir: walDir}, discard)
	require.NoError(t, err)
	outbox, err := exitwal.Open(outboxDir, discard)
	require.NoError(t, err)

	svc := New(eng, journal, Config{SubmitTimeout: 20 * time.Millisecond}, discard, NewOutboxSink(outbox))
	h := &harness{svc: svc, eng: eng, outbox: outbox, walDir: walDir}
	if start {
		svc.Start(context.Background())
	}
	return h
}

func (h *harness) close(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Close(ctx))
	require.NoError(t, h.outbox.Close())
}

func (h *harness) fills(t *testing.T) []wire.FillEvent {
	t.Helper()
	var out []wire.FillEvent
	for _, st := range []exitwal.State{exitwal.StateNew, exitwal.StateSent, exitwal.StateAcked} {
		require.NoError(t, h.outbox.ScanByState(st, 0, func(r exitwal.Record) error {
			var ev wire.FillEvent
			if err := ev.UnmarshalWire(r.Payload); err != nil {
				return err
			}
			out = append(out, ev)
			return nil
		}))
	}
	return out
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestPlaceAndMatch(t *testing.T) {
	h := newHarness(t, t.TempDir(), t.TempDir(), engine.Config{Shards: 2}, true)
	defer h.close(t)

	ask, err := h.svc.PlaceOrder(ctx(t), 1, orderbook.Ask, orderbook.Limit, 100, 10)
	require.NoError(t, err)
	assert.Equal(t, orderbook.StatusRested, ask.Status)
	assert.Equal(t, ask.Seq, ask.OrderID, "order ids are sequence numbers")

	bid, err := h.svc.PlaceOrder(ctx(t), 1, orderbook.Bid, orderbook.IOC, 101, 15)
	require.NoError(t, err)
	assert.Equal(t, orderbook.StatusExpired, bid.Status)
	assert.Equal(t, int64(10), bid.Filled)
	assert.Equal(t, int64(5), bid.Remaining)
	assert.Equal(t, 1, bid.Fills)
	assert.Greater(t, bid.Seq, ask.Seq)

	fills := h.fills(t)
	require.Len(t, fills, 1)
	assert.Equal(t, ask.OrderID, fills[0].MakerID)
	assert.Equal(t, bid.OrderID, fills[0].TakerID)
	assert.Equal(t, int64(100), fills[0].Price)

	q, err := h.svc.Quote(1)
	require.NoError(t, err)
	assert.False(t, q.HasAsk)
	assert.False(t, q.HasBid)
}

func TestCancelAndDepth(t *testing.T) {
	h := newHarness(t, t.TempDir(), t.TempDir(), engine.Config{}, true)
	defer h.close(t)

	a, err := h.svc.PlaceOrder(ctx(t), 2, orderbook.Bid, orderbook.Limit, 50, 4)
	require.NoError(t, err)
	_, err = h.svc.PlaceOrder(ctx(t), 2, orderbook.Bid, orderbook.Limit, 49, 6)
	require.NoError(t, err)

	bids, asks, seq, err := h.svc.Depth(2, 10)
	require.NoError(t, err)
	assert.Len(t, bids, 2)
	assert.Empty(t, asks)
	assert.Equal(t, h.svc.LastSeq(), seq)

	ex, err := h.svc.CancelOrder(ctx(t), 2, a.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.StatusCancelled, ex.Status)
	assert.Equal(t, int64(4), ex.Remaining)

	ex, err = h.svc.CancelOrder(ctx(t), 2, a.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.ReasonUnknownOrder, ex.Reason)

	bids, _, _, err = h.svc.Depth(2, 10)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, int64(49), bids[0].Price)

	_, err = h.svc.PlaceOrder(ctx(t), 9, orderbook.Bid, orderbook.Limit, 1, 1)
	assert.True(t, errors.Is(err, engine.ErrUnknownSymbol))
	_, _, _, err = h.svc.Depth(9, 1)
	assert.Error(t, err)
}

func TestConcurrentProducersGetTheirOwnReports(t *testing.T) {
	h := newHarness(t, t.TempDir(), t.TempDir(), engine.Config{Shards: 3, IngressCapacity: 64}, true)
	defer h.close(t)

	const workers, each = 8, 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	seqs := map[uint64]bool{}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < each; i++ {
				side := orderbook.Side(r.Intn(2))
				sym := uint32(1 + r.Intn(3))
				ex, err := h.svc.PlaceOrder(context.Background(), sym, side, orderbook.Limit, 95+int64(r.Intn(10)), 1+int64(r.Intn(5)))
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, ex.Seq, ex.OrderID)
				mu.Lock()
				assert.False(t, seqs[ex.Seq], "duplicate seq %d", ex.Seq)
				seqs[ex.Seq] = true
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	assert.Len(t, seqs, workers*each)
	assert.Equal(t, uint64(workers*each), h.svc.LastSeq())

	for _, sym := range []uint32{1, 2, 3} {
		q, err := h.svc.Quote(sym)
		require.NoError(t, err)
		assert.False(t, q.Crossed(), "symbol %d crossed", sym)
	}
}

func TestReplayRebuildsIdenticalState(t *testing.T) {
	walDir := t.TempDir()
	outboxDir := filepath.Join(t.TempDir(), "outbox")

	h := newHarness(t, walDir, outboxDir, engine.Config{Shards: 2}, true)
	r := rand.New(rand.NewSource(42))
	types := []orderbook.OrderType{orderbook.Limit, orderbook.Limit, orderbook.Limit, orderbook.IOC, orderbook.FOK, orderbook.Market, orderbook.PostOnly}
	var placed []uint64
	for i := 0; i < 600; i++ {
		sym := uint32(1 + r.Intn(3))
		if len(placed) > 0 && r.Intn(6) == 0 {
			_, err := h.svc.CancelOrder(ctx(t), sym, placed[r.Intn(len(placed))])
			require.NoError(t, err)
			continue
		}
		ex, err := h.svc.PlaceOrder(ctx(t), sym, orderbook.Side(r.Intn(2)), types[r.Intn(len(types))], 90+int64(r.Intn(20)), 1+int64(r.Intn(30)))
		require.NoError(t, err)
		placed = append(placed, ex.OrderID)
	}
	before := h.fills(t)
	require.NotEmpty(t, before)
	depthBefore := map[uint32][2][]orderbook.LevelChange{}
	for _, sym := range []uint32{1, 2, 3} {
		sh, _ := h.eng.Route(sym)
		depthBefore[sym] = [2][]orderbook.LevelChange{sh.Book(sym).Depth(orderbook.Bid, 100), sh.Book(sym).Depth(orderbook.Ask, 100)}
	}
	lastSeq := h.svc.LastSeq()
	h.close(t)

	// same outbox: replay must not add anything
	h = newHarness(t, walDir, outboxDir, engine.Config{Shards: 2}, false)
	last, err := h.svc.Replay(ctx(t), walDir)
	require.NoError(t, err)
	assert.Equal(t, lastSeq, last)
	assert.Equal(t, lastSeq, h.svc.LastSeq())
	assert.Equal(t, before, h.fills(t))
	for _, sym := range []uint32{1, 2, 3} {
		sh, _ := h.eng.Route(sym)
		assert.Equal(t, depthBefore[sym][0], sh.Book(sym).Depth(orderbook.Bid, 100))
		assert.Equal(t, depthBefore[sym][1], sh.Book(sym).Depth(orderbook.Ask, 100))
	}

	// traffic resumes after the replayed sequence
	h.svc.Start(context.Background())
	ex, err := h.svc.PlaceOrder(ctx(t), 1, orderbook.Bid, orderbook.Limit, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, lastSeq+1, ex.Seq)
	h.close(t)

	// fresh outbox: replay regenerates exactly the same fills
	h = newHarness(t, walDir, t.TempDir(), engine.Config{Shards: 2}, false)
	_, err = h.svc.Replay(ctx(t), walDir)
	require.NoError(t, err)
	assert.Equal(t, before, h.fills(t))
	h.close(t)
}

func TestBackpressure(t *testing.T) {
	h := newHarness(t, t.TempDir(), t.TempDir(), engine.Config{IngressCapacity: 2}, false)
	defer h.close(t)

	in := engine.NewOrder(1, 0, orderbook.Bid, orderbook.Limit, 100, 1)
	_, _, err := h.svc.submit(ctx(t), in)
	require.NoError(t, err)
	_, _, err = h.svc.submit(ctx(t), in)
	require.NoError(t, err)

	_, _, err = h.svc.submit(ctx(t), in)
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.Equal(t, uint64(2), h.svc.LastSeq(), "a refused submission does not consume a sequence")
}

func TestHaltedShardRefusesWork(t *testing.T) {
	h := newHarness(t, t.TempDir(), t.TempDir(), engine.Config{}, false)
	defer h.close(t)

	sh, err := h.eng.Route(1)
	require.NoError(t, err)
	sh.Apply(engine.Instruction{Kind: engine.Kind(200), Seq: 1})
	require.True(t, sh.Halted())

	_, err = h.svc.PlaceOrder(ctx(t), 1, orderbook.Bid, orderbook.Limit, 100, 1)
	assert.ErrorIs(t, err, engine.ErrShardHalted)
}

func TestClosedServiceRefusesWork(t *testing.T) {
	h := newHarness(t, t.TempDir(), t.TempDir(), engine.Config{}, true)
	h.close(t)

	_, err := h.svc.PlaceOrder(ctx(t), 1, orderbook.Bid, orderbook.Limit, 100, 1)
	assert.ErrorIs(t, err, ErrClosed)
}
