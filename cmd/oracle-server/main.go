package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/blackbox/internal/config"
	"github.com/tensorplex-labs/blackbox/internal/oracle"
	"github.com/tensorplex-labs/blackbox/internal/utils/logger"
)

func main() {
	logger.Init()
	log.Info().Msg("Starting oracle server...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}
	if cfg.Evaluation.ModelDir == "" {
		log.Fatal().Msg("BLACKBOX_MODEL_DIR is required")
	}

	bundle, err := oracle.LoadBundle(cfg.Evaluation.ModelDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load model bundle")
	}
	model, err := oracle.LoadLinear(bundle)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load model weights")
	}

	s := oracle.NewServer(model, bundle.Kind, nil)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received, stopping oracle server")
		if err := s.Shutdown(); err != nil {
			log.Error().Err(err).Msg("oracle server shutdown failed")
		}
	}()

	if err := s.Listen(cfg.Oracle.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("oracle server stopped")
	}
	log.Info().Msg("oracle server stopped")
}
