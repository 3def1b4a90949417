package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"hybridbook/api/grpcserver"
	"hybridbook/infra/curve"
	"hybridbook/infra/kafka"
	"hybridbook/infra/metrics"
	entrywal "hybridbook/infra/wal/entry"
	exitwal "hybridbook/infra/wal/exit"
	"hybridbook/jobs/broadcaster"
	"hybridbook/pkg/config"
	"hybridbook/pkg/logger"
	"hybridbook/service"
	"hybridbook/snapshot"
)

func main() {
	var cfg config.Config
	config.MustLoad(&cfg)

	lg, err := logger.NewLogger(logger.WithLoggingLevel(logger.Level(cfg.LogLevel)))
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error(err)
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config.Config, lg *logger.Logger) error {
	pools, err := config.LoadPools(cfg.PoolsFile)
	if err != nil {
		return err
	}

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error(err, logger.NewField("component", "metrics"))
		}
	}()
	defer metricsSrv.Close()

	// ---------------- Entry WAL ----------------

	walDir := filepath.Join(cfg.DataDir, "wal_entry")
	entryWAL, err := entrywal.Open(entrywal.Config{
		Dir:             walDir,
		SegmentSize:     cfg.WAL.SegmentSize,
		SegmentDuration: cfg.WAL.SegmentDuration,
		Sync:            cfg.WAL.Sync,
		Log:             lg,
	})
	if err != nil {
		return err
	}
	defer entryWAL.Close()

	// ---------------- Exit WAL ----------------

	exitWAL, err := exitwal.Open(filepath.Join(cfg.DataDir, "wal_exit"))
	if err != nil {
		return err
	}
	defer exitWAL.Close()

	settlement, err := exitwal.NewSettlement(exitWAL)
	if err != nil {
		return err
	}

	// ---------------- Curve ----------------

	// The built-in constant-product curve starts from the configured
	// reserves on every boot.
	cp := curve.NewConstantProduct()
	for _, p := range pools {
		cp.AddPool(p.Config.ID, &p.BaseReserve, &p.QuoteReserve)
	}

	// ---------------- Exchange ----------------

	opts := []service.Option{
		service.WithLogger(lg),
		service.WithMetrics(m),
		service.WithJournal(entryWAL),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		events := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		defer events.Close()
		opts = append(opts, service.WithPublisher(events, cfg.Kafka.EventQueue))
	}
	ex := service.New(cp, settlement, opts...)

	store, err := snapshotStore(cfg, lg)
	if err != nil {
		return err
	}
	if err := ex.Recover(ctx, store, walDir); err != nil {
		return err
	}
	if err := createPools(ctx, ex, pools); err != nil {
		return err
	}

	// ---------------- Background Jobs ----------------

	go ex.Run(ctx)

	job := &service.SnapshotJob{
		Exchange: ex,
		Store:    store,
		Journal:  entryWAL,
		Outbox:   exitWAL,
		Interval: cfg.Snapshot.Interval,
		Log:      lg,
	}
	go job.Run(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := broadcaster.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		bc := broadcaster.New(exitWAL, producer, cfg.Kafka.SettlementTopic, cfg.Kafka.RelayInterval, m, lg)
		defer bc.Close()
		go bc.Run(ctx)
	} else {
		lg.Warn("no kafka brokers configured, settlement relay disabled")
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	grpcSrv := grpcserver.NewGRPCServer(grpcserver.NewServer(ex), lg)

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	lg.Info("hybridbook engine running",
		logger.NewField("grpc", cfg.GRPCAddr),
		logger.NewField("metrics", cfg.MetricsAddr),
		logger.NewField("pools", len(pools)),
		logger.NewField("seq", ex.LastSeq()),
	)
	if err := grpcSrv.Serve(lis); err != nil {
		return err
	}

	// final snapshot so the next boot replays little
	return job.RunOnce(context.Background())
}

func snapshotStore(cfg config.Config, lg *logger.Logger) (snapshot.Store, error) {
	switch cfg.Snapshot.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return snapshot.NewRedisStore(client, cfg.Snapshot.Key, lg), nil
	default:
		return &snapshot.FileStore{Dir: filepath.Join(cfg.DataDir, "snapshots")}, nil
	}
}

// createPools registers configured pools the recovered state lacks.
func createPools(ctx context.Context, ex *service.Exchange, pools []config.Pool) error {
	existing, err := ex.Pools(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[string(c.ID)] = true
	}
	for _, p := range pools {
		if have[string(p.Config.ID)] {
			continue
		}
		if err := ex.CreatePool(ctx, p.Config); err != nil {
			return err
		}
	}
	return nil
}
