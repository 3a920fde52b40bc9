package grpcserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"tickmatch/api/wire"
	"tickmatch/config"
	"tickmatch/domain/orderbook"
	"tickmatch/engine"
	entrywal "tickmatch/infra/wal/entry"
	"tickmatch/service"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func startGateway(t *testing.T) *Client {
	t.Helper()
	instruments := config.NewInstruments([]config.Instrument{
		{Symbol: "BTC-USD", ID: 1, TickSize: decimal.RequireFromString("0.5")},
		{Symbol: "ETH-USD", ID: 2, TickSize: decimal.RequireFromString("0.01")},
	})

	eng, err := engine.New(engine.Config{Shards: 2}, instruments.IDs(), discard)
	require.NoError(t, err)
	journal, err := entrywal.Open(entrywal.Config{Dir: t.TempDir()}, discard)
	require.NoError(t, err)
	svc := service.New(eng, journal, service.Config{}, discard)
	svc.Start(context.Background())

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(discard)))
	Register(srv, NewServer(svc, instruments))
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, svc.Close(ctx))
	})
	return NewClient(conn)
}

func callCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPlaceCrossAndQueryBook(t *testing.T) {
	c := startGateway(t)
	ctx := callCtx(t)

	ask, err := c.PlaceOrder(ctx, &wire.PlaceOrderRequest{
		Symbol: "BTC-USD", Side: uint32(orderbook.Ask), Type: uint32(orderbook.Limit),
		Price: "100.5", Qty: 10, ClientOrderID: "a-1",
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(orderbook.StatusRested), ask.Status)
	assert.Equal(t, "a-1", ask.ClientOrderID)
	assert.Equal(t, ask.Seq, ask.OrderID)

	top, err := c.GetTopOfBook(ctx, &wire.BookRequest{Symbol: "BTC-USD"})
	require.NoError(t, err)
	require.Len(t, top.Asks, 1)
	assert.Equal(t, "100.5", top.Asks[0].Price)
	assert.Empty(t, top.Bids)

	bid, err := c.PlaceOrder(ctx, &wire.PlaceOrderRequest{
		Symbol: "BTC-USD", Side: uint32(orderbook.Bid), Type: uint32(orderbook.IOC),
		Price: "101", Qty: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(orderbook.StatusFilled), bid.Status)
	assert.Equal(t, int64(4), bid.Filled)
	assert.Equal(t, uint32(1), bid.Fills)

	depth, err := c.GetDepth(ctx, &wire.BookRequest{Symbol: "BTC-USD", Levels: 5})
	require.NoError(t, err)
	require.Len(t, depth.Asks, 1)
	assert.Equal(t, wire.PriceLevel{Price: "100.5", Qty: 6}, depth.Asks[0])
	assert.Equal(t, bid.Seq, depth.Seq)

	cancelled, err := c.CancelOrder(ctx, &wire.CancelOrderRequest{Symbol: "BTC-USD", OrderID: ask.OrderID})
	require.NoError(t, err)
	assert.Equal(t, uint32(orderbook.StatusCancelled), cancelled.Status)
	assert.Equal(t, int64(6), cancelled.Remaining)
}

func TestEngineRejectionIsAReply(t *testing.T) {
	c := startGateway(t)
	reply, err := c.PlaceOrder(callCtx(t), &wire.PlaceOrderRequest{
		Symbol: "ETH-USD", Side: uint32(orderbook.Bid), Type: uint32(orderbook.Limit),
		Price: "10.00", Qty: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(orderbook.StatusRejected), reply.Status)
	assert.Equal(t, uint32(orderbook.ReasonInvalidQuantity), reply.Reason)
}

func TestGatewayErrors(t *testing.T) {
	c := startGateway(t)
	ctx := callCtx(t)

	_, err := c.PlaceOrder(ctx, &wire.PlaceOrderRequest{Symbol: "DOGE-USD", Qty: 1, Price: "1"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.PlaceOrder(ctx, &wire.PlaceOrderRequest{Symbol: "BTC-USD", Qty: 1, Price: "100.25"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "off tick")

	_, err = c.PlaceOrder(ctx, &wire.PlaceOrderRequest{Symbol: "BTC-USD", Qty: 1, Price: "abc"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.PlaceOrder(ctx, &wire.PlaceOrderRequest{Symbol: "BTC-USD", Side: 7, Qty: 1, Price: "1"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.GetDepth(ctx, &wire.BookRequest{Symbol: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestToStatus(t *testing.T) {
	assert.Equal(t, codes.ResourceExhausted, status.Code(toStatus(service.ErrBackpressure)))
	assert.Equal(t, codes.Unavailable, status.Code(toStatus(engine.ErrShardHalted)))
	assert.Equal(t, codes.Unavailable, status.Code(toStatus(service.ErrClosed)))
	assert.Equal(t, codes.NotFound, status.Code(toStatus(engine.ErrUnknownSymbol)))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(toStatus(context.DeadlineExceeded)))
}
