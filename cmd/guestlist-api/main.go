package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"example.com/guestlist/internal/config"
	"example.com/guestlist/internal/guestlist"
	"example.com/guestlist/internal/notify"
	"example.com/guestlist/internal/storage"
	spg "example.com/guestlist/internal/storage/postgres"
	"example.com/guestlist/internal/storage/sqlite"
	"example.com/guestlist/internal/telemetry"
	transport "example.com/guestlist/internal/transport/http"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "guestlist-api").Logger()

	cfg, err := config.Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(lvl)
	}
	nodeID := "guestlist-" + uuid.NewString()[:8]
	log = log.With().Str("node", nodeID).Logger()
	log.Info().Str("driver", cfg.StoreDriver).Str("port", cfg.Port).Msg("config loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "guestlist-api", cfg.OTelEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup")
	}
	defer func() {
		sctx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = shutdownTracing(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store")
	}
	defer store.Close()
	log.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	hub := notify.NewHub(cfg.SubscriberBuffer, metrics)
	sinks := []notify.Sink{hub}
	var relay *notify.RedisRelay
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		relay = notify.NewRedisRelay(rdb, hub, nodeID, log)
		sinks = append(sinks, relay)
	}
	dispatcher := notify.NewDispatcher(nodeID, cfg.QueueMaxSize, cfg.BatchMaxSize, cfg.BatchMaxWait, log, metrics, sinks...)

	svc := guestlist.New(store, dispatcher, guestlist.Options{
		MaxRetries:   cfg.TxMaxRetries,
		RetryBackoff: cfg.TxRetryBackoff,
		CheckInGrace: cfg.CheckInGrace,
		Log:          log,
		Metrics:      metrics,
	})

	deps := &transport.ServerDeps{
		Cfg:     cfg,
		Service: svc,
		Store:   store,
		Hub:     hub,
		Log:     log.With().Str("component", "http").Logger(),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Now:     func() time.Time { return time.Now().UTC() },
	}
	h, err := deps.Router()
	if err != nil {
		log.Fatal().Err(err).Msg("router")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
		defer c()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown with error")
		return
	}
	log.Info().Msg("stopped")
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		st, err := sqlite.Open(ctx, cfg.SQLitePath, cfg.LockTimeout)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		db, err := spg.Connect(ctx, cfg.PostgresDSN, cfg.LockTimeout)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}
}
