package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/zoomvconnect/signaling/internal/adapters/http"
	wsignal "github.com/zoomvconnect/signaling/internal/adapters/signal"
	"github.com/zoomvconnect/signaling/internal/app"
	"github.com/zoomvconnect/signaling/internal/auth"
	"github.com/zoomvconnect/signaling/internal/backplane"
	"github.com/zoomvconnect/signaling/internal/config"
	"github.com/zoomvconnect/signaling/internal/core"
	"github.com/zoomvconnect/signaling/internal/domain"
	"github.com/zoomvconnect/signaling/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Degraded start: reads come back empty and cross-instance
		// delivery is lost, but local signaling still works.
		log.Warn().Err(err).Msg("redis unreachable at startup")
	}

	registry := app.NewRegistry()
	roomStore := store.NewRedisStore(rdb, cfg.RoomTTL)

	var coord *app.Coordinator
	bp := backplane.NewRedisBackplane(ctx, rdb, func(roomID domain.RoomID, env core.Envelope) {
		coord.HandleBackplane(roomID, env)
	})
	coord = app.NewCoordinator(registry, roomStore, bp)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	ctl := wsignal.NewController(coord, verifier, cfg)
	go ctl.RunLiveness(ctx)

	r := router.SetupRouter(ctx, cfg, ctl, coord)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := bp.Close(); err != nil {
		log.Error().Err(err).Msg("backplane close")
	}
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("redis close")
	}
	log.Info().Msg("server exited gracefully")
}
