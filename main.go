package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.Stamp,
	}).With().Timestamp().Logger()

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		logger.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
	} else {
		zerolog.SetGlobalLevel(level)
	}

	manager, err := NewManager(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create manager")
	}

	if cfg.PrometheusAddr != "" {
		http.Handle("/metrics", promhttp.Handler())

		go func() {
			if err := http.ListenAndServe(cfg.PrometheusAddr, nil); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Open(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to open manager")
	}

	logger.Info().Int("start", cfg.ShardStart).Int("until", cfg.ShardUntil).Msg("Sessions have now started. Do ^C to close sessions.")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt, os.Kill)
	<-sc

	logger.Info().Msg("Closing all sessions...")
	manager.Close()
}
