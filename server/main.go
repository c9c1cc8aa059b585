package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ponyo877/lobby/rpc"
	"github.com/ponyo877/lobby/server/adaptor"
	"github.com/ponyo877/lobby/server/config"
	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/logging"
	"github.com/ponyo877/lobby/server/presence"
	"github.com/ponyo877/lobby/server/repository"
	"github.com/ponyo877/lobby/server/state"
	"github.com/ponyo877/lobby/server/supervisor"
	"github.com/ponyo877/lobby/server/usecase"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("LOBBY_CONFIG"))
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		logging.Fatal().Err(err).Msg("server stopped")
	}
	logging.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := repository.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	breaker := repository.DefaultBreakerConfig()
	breaker.FailureThreshold = cfg.BreakerThreshold
	breaker.Timeout = cfg.BreakerTimeout
	repo := repository.NewRepositoryWithBreaker(db, breaker)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	for _, name := range cfg.DefaultRooms {
		if err := repo.CreateOrIgnoreRoom(ctx, name); err != nil {
			return fmt.Errorf("failed to seed room %s: %w", name, err)
		}
	}

	primary := state.NewSQLBackend(db)
	if err := primary.Migrate(ctx); err != nil {
		return err
	}
	var opts []state.Option
	switch cfg.SecondaryBackend {
	case "badger":
		bdb, err := state.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return err
		}
		defer bdb.Close()
		opts = append(opts, state.WithSecondary(state.NewBadgerBackend(bdb)))
	case "redis":
		client := state.NewRedisClient(cfg.RedisAddr)
		defer client.Close()
		opts = append(opts, state.WithSecondary(state.NewRedisBackend(client)))
	}
	store := state.NewStore(primary, opts...)

	registry := domain.NewSessionRegistry(domain.RegistryConfig{
		OutboxSize: cfg.OutboxSize,
		FloodRate:  rate.Limit(cfg.FloodRate),
		FloodBurst: cfg.FloodBurst,
	})
	if err := registry.Init(); err != nil {
		return err
	}
	defer registry.Shutdown()

	tracker := presence.NewTracker(store, registry, cfg.PresenceGrace)
	rooms := usecase.NewRoomUsecase(repo, store, tracker, registry, usecase.Config{
		StoreTimeout: cfg.StoreTimeout,
		HistoryLimit: cfg.HistoryLimit,
		TypingTTL:    cfg.TypingTTL,
	})
	streams := usecase.NewStreamUsecase(rooms)

	grpcServer := grpc.NewServer()
	rpc.RegisterLobbyServer(grpcServer, adaptor.NewGRPC(streams, rooms))

	router := adaptor.NewRouter(adaptor.NewWebSocket(streams, cfg.AllowedOrigins), streams, adaptor.RouterConfig{
		RateLimitRequests: cfg.WSRateLimit,
		RateLimitWindow:   cfg.WSRateWindow,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddStorageService(state.NewSweeper(store, cfg.SweepInterval))
	tree.AddTransportService(supervisor.NewGRPCService(grpcServer, cfg.GRPCAddr, shutdownTimeout))
	tree.AddTransportService(supervisor.NewHTTPService(httpServer, shutdownTimeout))

	logging.Info().
		Str("grpc_addr", cfg.GRPCAddr).
		Str("http_addr", cfg.HTTPAddr).
		Str("secondary_backend", cfg.SecondaryBackend).
		Strs("rooms", cfg.DefaultRooms).
		Msg("lobby server starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree failed: %w", err)
	}
	return nil
}
