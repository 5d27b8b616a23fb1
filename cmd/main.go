package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/chat-relay/config"
	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/internal/metrics"
	"github.com/cwrk-planet/chat-relay/internal/postgres"
	"github.com/cwrk-planet/chat-relay/internal/relay"
	"github.com/cwrk-planet/chat-relay/internal/service"
	"github.com/cwrk-planet/chat-relay/internal/sqlite"
	grpcx "github.com/cwrk-planet/chat-relay/internal/transport/grpc"
	httpx "github.com/cwrk-planet/chat-relay/internal/transport/http"
	"github.com/cwrk-planet/chat-relay/internal/transport/ws"
	"github.com/cwrk-planet/chat-relay/pkg/logger"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type messageStore interface {
	Insert(ctx context.Context, m domain.Message) (*domain.Message, error)
	Query(ctx context.Context, roomID string) ([]domain.Message, error)
	Ping(ctx context.Context) error
}

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logging.level: %v", err)
	}
	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     level,
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	defer func() { _ = logger.Sync() }()
	slog.Info("starting chat-relay",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "store", cfg.Store.Driver)

	// spans only feed trace ids into logs; no exporter is configured
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	metrics.Init()

	// --- store ---
	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store unavailable, exiting", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = store.Ping(pingCtx)
	cancelPing()
	if err != nil {
		slog.Error("store probe failed, exiting", "err", err)
		os.Exit(1)
	}

	// --- relay ---
	registry := relay.NewRegistry()
	dispatcher := relay.NewDispatcher(registry, store,
		relay.WithQueueSize(cfg.Relay.QueueSize),
		relay.WithLogger(logger.L().With("component", "relay")),
	)
	relayCtx, stopRelay := context.WithCancel(ctx)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = dispatcher.Run(relayCtx)
	}()

	historySvc := service.NewHistoryService(store)

	// --- HTTP + WS ---
	wsServer := ws.NewServer(dispatcher, cfg.WSConfig())
	router := httpx.NewRouter(httpx.Deps{
		Handler:     httpx.NewHandler(historySvc, store),
		WS:          wsServer.HandleWS,
		Metrics:     metrics.Handler(),
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- gRPC ---
	grpcServer, grpcHealth := grpcx.New(historySvc)

	// --- run ---
	errCh := make(chan error, 2)

	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if cfg.GRPC.Addr != "" {
		go func() {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				errCh <- err
				return
			}
			slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcHealth.Shutdown()
	grpcServer.GracefulStop()
	if err := httpSrv.Shutdown(ctxShutdown); err != nil {
		slog.Warn("http shutdown", "err", err)
	}

	// let queued sends finish their inserts and broadcasts
	if err := dispatcher.Drain(ctxShutdown); err != nil {
		slog.Warn("relay drain incomplete", "err", err)
	}
	stopRelay()
	<-relayDone
	slog.Info("stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (messageStore, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		repo, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		db, err := postgres.New(ctx, cfg.PostgresConfig())
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewMessageRepository(db.Pool)
		if cfg.Postgres.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return repo, db.Close, nil
	}
}
