package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/withObsrvr/clearinghouse/internal/catalog"
	"github.com/withObsrvr/clearinghouse/internal/config"
	"github.com/withObsrvr/clearinghouse/internal/health"
	"github.com/withObsrvr/clearinghouse/internal/ingest"
	"github.com/withObsrvr/clearinghouse/internal/logging"
	"github.com/withObsrvr/clearinghouse/internal/metrics"
	"github.com/withObsrvr/clearinghouse/internal/source"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] invalid configuration: %v", err)
	}

	logging.Setup(cfg.Log)
	slog.Info("starting clearinghouse ingestor", "version", ingest.Version, "git_sha", ingest.GitSHA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	src, err := source.New(source.Config{
		Backend:    cfg.Source.Backend,
		Bucket:     cfg.Source.Bucket,
		Prefix:     cfg.Source.Prefix,
		Suffix:     cfg.Source.Suffix,
		LocalDir:   cfg.Source.LocalDir,
		S3Endpoint: cfg.Source.S3Endpoint,
		S3Region:   cfg.Source.S3Region,
	})
	if err != nil {
		log.Fatalf("[main] failed to create source: %v", err)
	}
	defer src.Close()

	cat, err := catalog.New(ctx, catalog.Config{
		Backend:     cfg.Catalog.Backend,
		PostgresDSN: cfg.Catalog.PostgresDSN,
	})
	if err != nil {
		log.Fatalf("[main] failed to create catalog: %v", err)
	}
	defer cat.Close()

	metrics.Init("clearinghouse")

	hs := health.New(cfg.Server.HealthAddr,
		health.Check{Name: "catalog", Fn: cat.Ping},
		health.Check{Name: "source", Fn: src.IsAccessible},
	)
	go func() {
		if err := hs.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	ing, err := ingest.New(src, cat, cfg.Poll.FileDelay)
	if err != nil {
		log.Fatalf("[main] failed to create ingestor: %v", err)
	}
	defer ing.Close()

	sched := ingest.NewScheduler(ing, cfg.Poll.Interval)
	if err := sched.Run(ctx); err != nil {
		if ctx.Err() != nil {
			slog.Info("shutdown complete")
		} else {
			log.Fatalf("[main] scheduler failed: %v", err)
		}
	}

	slog.Info("clearinghouse ingestor stopped cleanly")
	time.Sleep(100 * time.Millisecond)
}
