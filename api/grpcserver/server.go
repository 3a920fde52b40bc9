package grpcserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tickmatch/api/wire"
	"tickmatch/config"
	"tickmatch/domain/orderbook"
	"tickmatch/engine"
	"tickmatch/marketdata"
	"tickmatch/service"
)

const (
	defaultDepth = 10
	maxDepth     = 100
)

// Server adapts OrderService to gRPC. Prices cross the gateway as decimal
// strings and are converted with the instrument's tick size.
type Server struct {
	svc         *service.OrderService
	instruments *config.Instruments
}

func NewServer(svc *service.OrderService, instruments *config.Instruments) *Server {
	return &Server{svc: svc, instruments: instruments}
}

// -------------------- Commands --------------------

// PlaceOrder waits for the execution report. Engine rejections are normal
// replies carrying a reason; only gateway and service failures are errors.
func (s *Server) PlaceOrder(ctx context.Context, req *wire.PlaceOrderRequest) (*wire.ExecutionReply, error) {
	inst, err := s.instrument(req.Symbol)
	if err != nil {
		return nil, err
	}
	if req.Side > uint32(orderbook.Ask) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown side %d", req.Side)
	}
	if req.Type > uint32(orderbook.PostOnly) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown order type %d", req.Type)
	}

	var ticks int64
	if req.Price != "" {
		price, err := decimal.NewFromString(req.Price)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "price %q: %v", req.Price, err)
		}
		if ticks, err = inst.ToTicks(price); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	ex, err := s.svc.PlaceOrder(ctx, inst.ID, orderbook.Side(req.Side), orderbook.OrderType(req.Type), ticks, req.Qty)
	if err != nil {
		return nil, toStatus(err)
	}
	reply := executionReply(ex)
	reply.ClientOrderID = req.ClientOrderID
	return reply, nil
}

func (s *Server) CancelOrder(ctx context.Context, req *wire.CancelOrderRequest) (*wire.ExecutionReply, error) {
	inst, err := s.instrument(req.Symbol)
	if err != nil {
		return nil, err
	}
	ex, err := s.svc.CancelOrder(ctx, inst.ID, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return executionReply(ex), nil
}

// -------------------- Queries --------------------

func (s *Server) GetTopOfBook(_ context.Context, req *wire.BookRequest) (*wire.BookReply, error) {
	inst, err := s.instrument(req.Symbol)
	if err != nil {
		return nil, err
	}
	q, err := s.svc.Quote(inst.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	reply := &wire.BookReply{Symbol: inst.Symbol, Seq: q.Seq}
	if q.HasBid {
		reply.Bids = []wire.PriceLevel{{Price: inst.FromTicks(q.BidPrice).String(), Qty: q.BidQty}}
	}
	if q.HasAsk {
		reply.Asks = []wire.PriceLevel{{Price: inst.FromTicks(q.AskPrice).String(), Qty: q.AskQty}}
	}
	return reply, nil
}

func (s *Server) GetDepth(_ context.Context, req *wire.BookRequest) (*wire.BookReply, error) {
	inst, err := s.instrument(req.Symbol)
	if err != nil {
		return nil, err
	}
	n := int(req.Levels)
	switch {
	case n == 0:
		n = defaultDepth
	case n > maxDepth:
		n = maxDepth
	}
	bids, asks, seq, err := s.svc.Depth(inst.ID, n)
	if err != nil {
		return nil, toStatus(err)
	}
	return &wire.BookReply{
		Symbol: inst.Symbol,
		Seq:    seq,
		Bids:   priceLevels(inst, bids),
		Asks:   priceLevels(inst, asks),
	}, nil
}

// -------------------- Helpers --------------------

func (s *Server) instrument(symbol string) (config.Instrument, error) {
	inst, ok := s.instruments.BySymbol(symbol)
	if !ok {
		return config.Instrument{}, status.Errorf(codes.NotFound, "unknown symbol %q", symbol)
	}
	return inst, nil
}

func priceLevels(inst config.Instrument, levels []marketdata.Level) []wire.PriceLevel {
	out := make([]wire.PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = wire.PriceLevel{Price: inst.FromTicks(l.Price).String(), Qty: l.Qty}
	}
	return out
}

func executionReply(ex service.Execution) *wire.ExecutionReply {
	return &wire.ExecutionReply{
		OrderID:      ex.OrderID,
		Seq:          ex.Seq,
		Status:       uint32(ex.Status),
		Reason:       uint32(ex.Reason),
		Filled:       ex.Filled,
		Remaining:    ex.Remaining,
		Fills:        uint32(ex.Fills),
		FillOverflow: ex.FillOverflow,
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrBackpressure):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, engine.ErrShardHalted), errors.Is(err, service.ErrClosed), errors.Is(err, service.ErrJournal):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, engine.ErrUnknownSymbol):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// LoggingInterceptor logs every call with its outcome and latency.
func LoggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelDebug
		if code != codes.OK && code != codes.NotFound && code != codes.InvalidArgument {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "grpc call",
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.Duration("took", time.Since(start)),
		)
		return resp, err
	}
}
