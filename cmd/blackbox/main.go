package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/blackbox/internal/annotation"
	"github.com/tensorplex-labs/blackbox/internal/blackbox"
	"github.com/tensorplex-labs/blackbox/internal/config"
	"github.com/tensorplex-labs/blackbox/internal/dataset"
	"github.com/tensorplex-labs/blackbox/internal/metrics"
	"github.com/tensorplex-labs/blackbox/internal/oracle"
	"github.com/tensorplex-labs/blackbox/internal/render"
	"github.com/tensorplex-labs/blackbox/internal/utils/logger"
	"github.com/tensorplex-labs/blackbox/internal/utils/redis"
)

var (
	summary = flag.Bool("summary", false, "also print a per-segment bar summary to stdout")
	topK    = flag.Int("top", 10, "windows listed per segment in the summary")
)

func main() {
	logger.Init()
	defer logger.Sync()
	log.Info().Msg("Starting blackbox evaluation...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		var insufficient *blackbox.DataInsufficientError
		if errors.As(err, &insufficient) {
			log.Error().Err(err).Msg("nothing to evaluate")
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("blackbox evaluation failed")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ev := cfg.Evaluation

	var storeOpts []dataset.MemoryStoreOption
	if ev.Sentinel != dataset.Sentinel {
		storeOpts = append(storeOpts, dataset.WithSentinel(ev.Sentinel))
	}
	store, err := dataset.Open(ev.DatasetPath, storeOpts...)
	if err != nil {
		return err
	}

	bundle, err := oracle.LoadBundle(ev.ModelDir)
	if err != nil {
		return err
	}

	registry := oracle.NewRegistry(oracle.LinearFactory)
	if cfg.Oracle.URL != "" {
		registry = oracle.NewRegistry(oracle.RemoteFactory(&oracle.RemoteConfig{
			BaseURL: cfg.Oracle.URL,
			Timeout: cfg.Oracle.Timeout,
		}))
	}
	model, err := registry.Load(bundle)
	if err != nil {
		return err
	}
	log.Info().Str("model", bundle.Kind.String()).Strs("targets", bundle.Targets).Msg("loaded model")

	var rec *metrics.Recorder
	if cfg.Metrics.Addr != "" {
		rec = metrics.NewRecorder()
		go func() {
			if err := rec.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	var renderer blackbox.Renderer = render.NewPNGRenderer(ev.OutputDir)
	if *summary {
		renderer = render.Multi{renderer, render.NewTerminalRenderer(os.Stdout, *topK)}
	}

	opts := []blackbox.EvaluatorOption{
		blackbox.WithPerturber(blackbox.NewPerturber(
			blackbox.WithWindowWidth(ev.WindowWidth),
			blackbox.WithWorkers(ev.Workers),
		)),
		blackbox.WithRenderer(renderer),
		blackbox.WithMetrics(rec),
	}
	if !cfg.Annotation.Disabled {
		src, closeSrc, err := annotationSource(cfg)
		if err != nil {
			return err
		}
		defer closeSrc()
		opts = append(opts, blackbox.WithAnnotations(src, cfg.Annotation.Timeout))
	}

	res, err := blackbox.NewEvaluator(opts...).Run(ctx, blackbox.Request{
		Store:   store,
		Targets: bundle.Targets,
		Stats:   bundle.Stats,
		Oracle:  model,
		Budget:  ev.Budget,
	})
	if err != nil {
		return err
	}

	for _, lr := range res.Labels {
		log.Info().
			Str("label", lr.Name).
			Float64("scale", lr.Scale).
			Float64("baseline_residual", lr.BaselineResidual).
			Str("artifact", lr.Artifact).
			Msg("label done")
	}
	for _, d := range res.Diagnostics {
		log.Warn().Msg(d)
	}
	return nil
}

// annotationSource fetches masks over HTTP behind a cache, shared through
// Redis when it is enabled and reachable.
func annotationSource(cfg *config.AppConfig) (annotation.Source, func(), error) {
	src, err := annotation.NewHTTPSource(&annotation.HTTPConfig{
		BaseURL: cfg.Annotation.BaseURL,
		Timeout: cfg.Annotation.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}

	if cfg.Redis.Enabled {
		r, err := redis.NewRedis(&cfg.Redis)
		if err == nil {
			return annotation.NewCachedSource(src, r, cfg.Annotation.CacheTTL), r.Close, nil
		}
		log.Error().Err(err).Msg("failed to init redis client, continuing with in-memory cache")
	}
	return annotation.NewCachedSource(src, annotation.NewMemoryKV(), cfg.Annotation.CacheTTL), func() {}, nil
}
