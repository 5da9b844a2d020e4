package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/feed"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/logging"
)

// Demonstrates a live candle feed: automatic strategy selection, a wait
// for the initial history and a periodic print of the latest candle.
// CANDLES_EXCHANGE, CANDLES_PAIR and CANDLES_INTERVAL override the
// defaults, from the environment or a local .env file.
func main() {
	_ = godotenv.Load()

	logger := logging.NewZapLogger(logging.WithDevelopmentMode())

	cfg := feed.Config{
		Exchange:    envOr("CANDLES_EXCHANGE", "binance"),
		TradingPair: envOr("CANDLES_PAIR", "BTC-USDT"),
		Interval:    envOr("CANDLES_INTERVAL", "1m"),
		MaxRecords:  100,
		Logger:      logger,
	}

	f, err := feed.NewFeed(cfg)
	if err != nil {
		logger.Error("invalid configuration", logging.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.Start(ctx); err != nil {
		logger.Error("failed to start feed", logging.Error(err))
		os.Exit(1)
	}
	defer f.Stop()

	readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readyCancel()
	if err := f.WaitReady(readyCtx); err != nil {
		logger.Warn("continuing with partial history", logging.Error(err))
	}
	logger.Info("feed ready",
		logging.String("state", f.State().String()),
		logging.Int("candles", len(f.GetCandles())),
	)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigs:
			logger.Info("shutting down")
			return
		case <-ticker.C:
			last, ok := f.Last()
			if !ok {
				continue
			}
			logger.Info("latest candle",
				logging.String("time", last.Time().Format(time.RFC3339)),
				logging.String("open", last.Open.String()),
				logging.String("close", last.Close.String()),
				logging.String("volume", last.Volume.String()),
				logging.Bool("final", last.Final),
			)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
