package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"hyperarb/internal/infrastructure/config"
	"hyperarb/internal/infrastructure/logger"
	"hyperarb/internal/infrastructure/svc"
)

// shutdownDrainTimeout bounds spec §5's drain sequence (dispatcher
// in-flight wait, close-all, persistence flush) so a stuck exchange call
// cannot hang the process on shutdown indefinitely.
const shutdownDrainTimeout = 15 * time.Second

func main() {
	logger.Setup()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context initialization failed")
	}
	defer func() {
		if err := sc.Close(); err != nil {
			log.Error().Err(err).Msg("error during shutdown")
		}
	}()

	log.Info().
		Str("config", *configPath).
		Str("pair", cfg.Pair.Base+"/"+cfg.Pair.Quote).
		Bool("dry_run", cfg.Strategy.DryRun).
		Str("control_surface", cfg.ControlSurface.Addr).
		Msg("hyperarb started")

	runErr := sc.Run(ctx)

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	sc.Shutdown(drainCtx)
	cancelDrain()

	if runErr != nil {
		log.Error().Err(runErr).Msg("service exited")
	}
}
