package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/bookshelf-analyzer/internal/app"
	"github.com/menta2k/bookshelf-analyzer/internal/server"
	"github.com/menta2k/bookshelf-analyzer/pkg/stats"
)

func main() {
	var configPath, addr, writeConfig string
	var pretty bool
	var statsEvery time.Duration

	flag.StringVar(&configPath, "config", "", "config file (yaml or json); environment variables override it")
	flag.StringVar(&addr, "addr", "", "listen address, overrides server.host/server.port")
	flag.BoolVar(&pretty, "pretty", false, "human-readable console logs")
	flag.DurationVar(&statsEvery, "stats-every", 5*time.Minute, "interval for logging cumulative stats, 0 disables")
	flag.StringVar(&writeConfig, "write-config", "", "write the effective configuration to this file and exit")
	flag.Parse()

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if writeConfig != "" {
		if err := cfg.SaveToFile(writeConfig); err != nil {
			log.Fatal().Err(err).Msg("write config")
		}
		log.Info().Str("path", writeConfig).Msg("config written")
		return
	}
	if pretty {
		cfg.Log.Pretty = true
	}
	app.SetupLogging(cfg.Log, os.Stderr)

	if cfg.Debug.Enabled {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	agg := stats.NewAggregator()
	scanner, err := app.NewScanner(cfg, agg)
	if err != nil {
		log.Fatal().Err(err).Msg("create scanner")
	}
	if addr == "" {
		addr = cfg.Addr()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(scanner, cfg.Server).Run(gctx, addr)
	})
	if statsEvery > 0 {
		g.Go(func() error {
			logStats(gctx, agg, statsEvery)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("run server")
	}
	scanner.Flush()
	log.Info().Interface("stats", agg.Snapshot()).Msg("server stopped")
}

// logStats periodically reports the cumulative stats until ctx is done
func logStats(ctx context.Context, agg *stats.Aggregator, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := agg.Snapshot()
			log.Info().
				Int64("requests", snap.TotalRequests).
				Int64("books", snap.TotalBooksDetected).
				Float64("overall_accuracy", snap.OverallAccuracy).
				Float64("avg_books", snap.AverageBooksPerRequest).
				Msg("cumulative stats")
		}
	}
}
