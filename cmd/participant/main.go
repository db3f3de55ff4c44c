// Command participant serves one LRA participant over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lra"
	"lra/api"
	"lra/circuit"
	"lra/event"
	"lra/idempotency"
	idemstore "lra/idempotency/store"
	"lra/lock"
	lockredis "lra/lock/redis"
	"lra/logging"
	"lra/metrics"
	lraprom "lra/metrics/prometheus"
	"lra/recorder"
	redisrecorder "lra/recorder/redis"
	"lra/recovery"
	mysqlstore "lra/store/mysql"
	"lra/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("LRA_CONFIG"), "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	zl, err := newZap(cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, logging.NewZap(zl)); err != nil {
		zl.Fatal("participant stopped", zap.Error(err))
	}
}

func newZap(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// backends holds the optional shared infrastructure.
type backends struct {
	recorder recorder.Recorder
	checker  idempotency.Checker
	locker   lock.Locker
	breakers []*circuit.Breaker
	closers  []func() error
	mysql    *mysqlstore.MySQLStore
}

func (b *backends) close(logger logging.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Printf("close backend: %v", err)
		}
	}
}

// openBackends wires Redis and MySQL when configured. Redis wins as the
// metric recorder since every instance of a participant must share counts;
// MySQL holds idempotency records either way.
func openBackends(ctx context.Context, cfg *Config, mt metrics.Metrics, logger logging.Logger) (*backends, error) {
	b := &backends{
		recorder: recorder.NewMemoryRecorder(),
		locker:   lock.NewMemoryLocker(),
	}
	onStateChange := circuit.WithStateChange(func(name string, from, to circuit.State) {
		logger.Printf("circuit %s: %s -> %s", name, from, to)
		mt.CircuitStateChanged(name, to)
	})

	if cfg.MySQL.DSN != "" {
		st, err := mysqlstore.Open(cfg.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		st.DB().SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		b.closers = append(b.closers, st.Close)
		if err := st.DB().PingContext(ctx); err != nil {
			b.close(logger)
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		if cfg.MySQL.Migrate {
			if err := st.Migrate(ctx); err != nil {
				b.close(logger)
				return nil, err
			}
		}

		breaker := circuit.New("mysql", circuit.WithConfig(cfg.BreakerConfig()), onStateChange)
		b.breakers = append(b.breakers, breaker)
		b.recorder = recorder.NewGuarded(st, breaker)
		b.checker = idemstore.New(st)
		b.mysql = st
		logger.Printf("mysql store enabled")
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			b.close(logger)
			return nil, fmt.Errorf("ping redis: %w", err)
		}

		breaker := circuit.New("redis", circuit.WithConfig(cfg.BreakerConfig()), onStateChange)
		b.breakers = append(b.breakers, breaker)
		b.recorder = recorder.NewGuarded(redisrecorder.New(rdb), breaker)
		b.locker = lockredis.NewRedisLocker(rdb)
		logger.Printf("redis recorder and locker enabled at %s", cfg.Redis.Addr)
	}

	return b, nil
}

func run(cfg *Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promCfg := lraprom.DefaultConfig()
	promCfg.Registry = registry
	mt := lraprom.New(promCfg)

	// Events
	bus := event.NewMemoryEventBus(
		event.WithLogger(logger),
		event.WithEventLog(logging.Named(logger, "events")))
	journal := event.NewJournal(cfg.JournalSize)
	_ = bus.SubscribeAll(journal.Handler())

	b, err := openBackends(ctx, cfg, mt, logger)
	if err != nil {
		return err
	}
	defer b.close(logger)

	machineOpts := []lra.MachineOption{
		lra.WithRecorder(b.recorder),
		lra.WithEventBus(bus),
		lra.WithMetrics(mt),
		lra.WithTracer(tracing.NewOTelTracer(tracing.DefaultConfig())),
		lra.WithLogger(logger),
		lra.WithOptions(cfg.MachineOptions()...),
	}
	if b.checker != nil {
		machineOpts = append(machineOpts, lra.WithChecker(b.checker))
	}
	machine, err := lra.NewMachine(lra.NewBaseParticipant(cfg.Participant), machineOpts...)
	if err != nil {
		return err
	}
	defer machine.Close()

	worker, err := recovery.NewWorker(machine,
		recovery.WithConfig(cfg.RecoveryWorkerConfig()),
		recovery.WithLocker(b.locker),
		recovery.WithEventBus(bus),
		recovery.WithMetrics(mt),
		recovery.WithLogger(logger))
	if err != nil {
		return err
	}
	if cfg.Recovery.Enabled {
		if err := worker.Start(ctx); err != nil {
			return err
		}
		defer worker.Stop()
	}

	if b.mysql != nil && cfg.MySQL.PurgeEvery > 0 {
		go purgeIdempotency(ctx, b.mysql, cfg.MySQL.PurgeEvery, logger)
	}

	server := api.NewServer(machine,
		api.WithAddr(cfg.Addr),
		api.WithRoot(cfg.Root),
		api.WithRecovery(worker),
		api.WithJournal(journal),
		api.WithBreakers(b.breakers...),
		api.WithLogger(logger))
	server.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// purgeIdempotency deletes expired idempotency records until ctx is done.
func purgeIdempotency(ctx context.Context, st *mysqlstore.MySQLStore, every time.Duration, logger logging.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := st.DeleteExpiredIdempotency(ctx)
			if err != nil {
				logger.Printf("purge idempotency records: %v", err)
				continue
			}
			if n > 0 {
				logger.Printf("purged %d expired idempotency records", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
