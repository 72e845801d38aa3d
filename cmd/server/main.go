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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Space/internal/adapters/http"
	"github.com/dkeye/Space/internal/adapters/rtc"
	sig "github.com/dkeye/Space/internal/adapters/signal"
	"github.com/dkeye/Space/internal/app"
	"github.com/dkeye/Space/internal/app/orch"
	"github.com/dkeye/Space/internal/config"
	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/domain"
)

func parseLevel(s string, fallback zerolog.Level) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return fallback
	}
	return lvl
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.LogLevel, zerolog.InfoLevel))

	dialect, err := domain.DialectByName(cfg.Signal.Dialect)
	if err != nil {
		log.Fatal().Err(err).Msg("bad dialect")
	}

	engine, err := rtc.NewEngine(rtc.Config{
		ICEServers:     cfg.WebRTC.ICEServers,
		ProduceTimeout: cfg.WebRTC.ProduceTimeout,
		LogLevel:       parseLevel(cfg.WebRTC.LogLevel, zerolog.WarnLevel),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create media engine")
	}

	hub := sig.NewHub(app.PolicyByName(cfg.Signal.Backpressure))
	rooms := core.NewRoomRegistry(hub, core.WithDialect(dialect))
	o := orch.New(rooms, engine)
	ctrl := sig.NewSignalWSController(o, hub, sig.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		SendBuffer:   cfg.Signal.SendBuffer,
		ChatLimit:    cfg.Signal.ChatLimit,
		ChatInterval: cfg.Signal.ChatInterval,
	})

	r := router.SetupRouter(ctx, cfg, o, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Str("dialect", cfg.Signal.Dialect).Msg("Space server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	// stop accepting upgrades first; hijacked websockets are closed by the orchestrator
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := o.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("sessions did not close cleanly")
	}
	engine.Close()
	log.Info().Msg("Server exited gracefully")
}
