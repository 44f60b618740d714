package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/caesar-terminal/caesar/internal/aggregator"
	"github.com/caesar-terminal/caesar/internal/config"
	"github.com/caesar-terminal/caesar/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars always apply)")
	human := flag.Bool("human", true, "use human-readable console logging instead of JSON lines")
	flag.Parse()

	logging.Init(zerolog.InfoLevel, *human)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Component("main")
	log.Info().Strs("pairs", pairStrings(cfg)).Msg("aggregator starting")

	agg := aggregator.New(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := agg.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start aggregator")
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, stopping tasks")

	if err := agg.Stop(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("aggregator did not shut down cleanly")
		os.Exit(1)
	}
	log.Info().Msg("aggregator stopped")
}

func pairStrings(cfg *config.Config) []string {
	out := make([]string, len(cfg.TradingPairs))
	for i, p := range cfg.TradingPairs {
		out[i] = p.String()
	}
	return out
}
