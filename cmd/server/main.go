package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	cli "github.com/spf13/pflag"

	router "github.com/voxlab/botserve/internal/adapters/http"
	"github.com/voxlab/botserve/internal/app"
	"github.com/voxlab/botserve/internal/config"
	"github.com/voxlab/botserve/internal/daily"
	"github.com/voxlab/botserve/internal/metrics"
)

func main() {
	host := cli.String("host", "", "Host address (overrides config)")
	port := cli.Int("port", 0, "Port number (overrides config)")
	cli.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if cfg.Daily.APIKey == "" {
		log.Fatal().Msg("DAILY_API_KEY not set")
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	hub := app.NewHub()
	reg := app.NewRegistry(hub, m)
	provisioner := daily.NewClient(cfg.Daily.APIKey, cfg.Daily.APIURL, cfg.Daily.RoomExpiry)
	launcher := app.NewLauncher(reg, &app.ExecSpawner{Command: cfg.Bot.Command}, provisioner, cfg.Bot.MaxPerRoom)
	launcher.Metrics = m

	ctrl := &router.Controller{
		Cfg:         cfg,
		Launcher:    launcher,
		Registry:    reg,
		Provisioner: provisioner,
		Hub:         hub,
		Metrics:     m,
		Gatherer:    promReg,
	}

	r := router.SetupRouter(ctx, ctrl)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Finished sessions are kept for a while so status probes still resolve,
	// then dropped so the registry does not grow without bound.
	reapInterval := cfg.Registry.ReapInterval
	if reapInterval <= 0 {
		reapInterval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reg.Reap(cfg.Registry.ReapRetention)
			}
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("bot server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	reg.TerminateAll()
	log.Info().Msg("Server exited gracefully")
}
