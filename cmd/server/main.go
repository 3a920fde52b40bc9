package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"tickmatch/api/grpcserver"
	"tickmatch/config"
	"tickmatch/engine"
	"tickmatch/infra/kafka"
	"tickmatch/infra/logging"
	"tickmatch/infra/metrics"
	entrywal "tickmatch/infra/wal/entry"
	exitwal "tickmatch/infra/wal/exit"
	"tickmatch/jobs/broadcaster"
	"tickmatch/service"
)

const outboxGCInterval = 30 * time.Second

func main() {
	path := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintf(os.Stderr, "tickmatch: %+v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log, logCloser, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- Journal & outbox ----------------

	journal, err := entrywal.Open(entrywal.Config{
		Dir:             cfg.WAL.Dir,
		SegmentSize:     int64(cfg.WAL.SegmentSizeMB) << 20,
		SyncEveryAppend: cfg.WAL.SyncEveryAppend,
	}, log)
	if err != nil {
		return err
	}
	outbox, err := exitwal.Open(cfg.Outbox.Dir, log)
	if err != nil {
		return err
	}
	defer outbox.Close()

	// ---------------- Engine ----------------

	instruments := config.NewInstruments(cfg.Instruments)
	eng, err := engine.New(cfg.EngineConfig(), instruments.IDs(), log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sinks := []engine.Sink{service.NewOutboxSink(outbox)}
	var quotes *kafka.QuoteSink
	if cfg.Kafka.Enabled() {
		quotes = kafka.NewQuoteSink(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.QuotesTopic), eng.Session())
		quotes.OnSent(func(n int) { m.QuotesSent.Add(float64(n)) })
		defer quotes.Close()
		sinks = append(sinks, quotes)
	}

	svc := service.New(eng, journal, service.Config{
		SubmitTimeout: cfg.Engine.SubmitTimeout,
		Publisher:     engine.PublisherConfig{BatchSize: cfg.Engine.PublishBatch},
		Metrics:       m,
	}, log, sinks...)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}

	// ---------------- Recovery ----------------

	last, err := svc.Replay(ctx, cfg.WAL.Dir)
	if err != nil {
		return err
	}
	log.Info("engine ready", slog.Uint64("last_seq", last), slog.String("session", eng.Session().String()))

	// Shards and publishers outlive the signal context so Close can drain them.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	svc.Start(runCtx)

	// ---------------- Background jobs ----------------

	var jobs sync.WaitGroup
	if cfg.Kafka.Enabled() {
		producer, err := broadcaster.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		bc := broadcaster.New(outbox, producer, eng.Session(), broadcaster.Config{
			Topic:      cfg.Kafka.FillsTopic,
			Interval:   cfg.Kafka.BroadcastInterval,
			BatchSize:  cfg.Kafka.BroadcastBatch,
			MaxRetries: cfg.Kafka.MaxRetries,
		}, log)
		bc.OnResult(func(result string) { m.Broadcast.WithLabelValues(result).Inc() })
		defer bc.Close()
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			if err := bc.Run(ctx); err != nil {
				log.Error("broadcaster exited", slog.Any("error", err))
			}
		}()
	}
	jobs.Add(1)
	go func() {
		defer jobs.Done()
		svc.RunOutboxGC(ctx, outbox, outboxGCInterval)
	}()

	// ---------------- HTTP ----------------

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpRouter(eng, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	// ---------------- gRPC ----------------

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.LoggingInterceptor(log)))
	grpcserver.Register(grpcSrv, grpcserver.NewServer(svc, instruments))
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("grpc server exited", slog.Any("error", err))
			stop()
		}
	}()

	log.Info("tickmatch running",
		slog.String("grpc", cfg.GRPC.Addr),
		slog.String("http", cfg.HTTP.Addr),
		slog.Int("shards", len(eng.Shards())),
	)
	<-ctx.Done()

	// ---------------- Shutdown ----------------

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcSrv.GracefulStop()
	if err := svc.Close(shutdownCtx); err != nil {
		log.Error("service close", slog.Any("error", err))
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", slog.Any("error", err))
	}
	jobs.Wait()
	return nil
}

func httpRouter(eng *engine.Engine, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		for _, sh := range eng.Shards() {
			if sh.Halted() {
				http.Error(w, fmt.Sprintf("shard %d halted: %v", sh.ID(), sh.Err()), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
