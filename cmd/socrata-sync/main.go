// Command socrata-sync replicates Socrata open-data catalogs into an
// S3-compatible object store.
//
// Usage:
//
//	socrata-sync -mode=validate
//	socrata-sync -mode=discover
//	socrata-sync -mode=sync [-streams=name1,name2] [-load-date=2026-01-15]
//
// Configuration comes from SOCRATA_* environment variables; see
// internal/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nucleus/socrata-core/internal/config"
	"github.com/nucleus/socrata-core/internal/connector/minio"
	"github.com/nucleus/socrata-core/internal/connector/socrata"
	"github.com/nucleus/socrata-core/internal/orchestration"
	"github.com/nucleus/socrata-core/internal/state"
)

func main() {
	mode := flag.String("mode", "sync", "run mode: validate, discover, or sync")
	streams := flag.String("streams", "", "comma-separated stream names or dataset ids to sync (default: all)")
	loadDate := flag.String("load-date", "", "load date partition (default: today, UTC)")
	flag.Parse()

	cfg := config.Load()
	if len(cfg.Domains) == 0 {
		fmt.Fprintln(os.Stderr, "SOCRATA_DOMAINS is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("interrupted, stopping after current stream")
		cancel()
	}()

	source, err := socrata.New(socrata.ParseConfig(cfg.SourceParams()))
	if err != nil {
		log.Fatalf("source: %v", err)
	}
	defer source.Close()

	var exitCode int
	switch *mode {
	case "validate":
		exitCode = runValidate(ctx, source, cfg)
	case "discover":
		exitCode = runDiscover(ctx, source)
	case "sync":
		exitCode = runSync(ctx, source, cfg, *streams, *loadDate)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		exitCode = 2
	}
	os.Exit(exitCode)
}

func runValidate(ctx context.Context, source *socrata.Socrata, cfg *config.SyncConfig) int {
	res, err := source.ValidateConfig(ctx, cfg.SourceParams())
	if err != nil {
		log.Printf("validate: %v", err)
		return 1
	}
	if !res.Valid {
		log.Printf("configuration invalid: %s", res.Message)
		return 1
	}
	log.Printf("configuration valid: %s", res.Message)
	return 0
}

func runDiscover(ctx context.Context, source *socrata.Socrata) int {
	specs, err := source.DiscoverStreams(ctx)
	if err != nil {
		log.Printf("discover: %v", err)
		return 1
	}
	for _, spec := range specs {
		watermark := "-"
		if spec.DataUpdatedAt != nil {
			watermark = socrata.FormatWatermark(*spec.DataUpdatedAt)
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", spec.Name, spec.DatasetID, spec.Domain, watermark)
	}
	log.Printf("discovered %d streams", len(specs))
	return 0
}

func runSync(ctx context.Context, source *socrata.Socrata, cfg *config.SyncConfig, streams, loadDate string) int {
	sink, err := minio.New(cfg.SinkParams())
	if err != nil {
		log.Printf("sink: %v", err)
		return 1
	}
	defer sink.Close()

	store, err := openStateStore(ctx, cfg)
	if err != nil {
		log.Printf("state store: %v", err)
		return 1
	}
	defer store.Close()

	runnerCfg := orchestration.RunnerConfig{
		BatchSize:       cfg.BatchSize,
		LoadDate:        loadDate,
		StagingProvider: cfg.StagingProvider,
		Streams:         config.SplitStreams(streams),
	}
	runner := orchestration.NewSyncRunner(source, sink, store,
		orchestration.BuildStagingRegistry(cfg.StagingDir), runnerCfg)

	summary, err := runner.Run(ctx)
	if err != nil {
		log.Printf("sync: %v", err)
		return 1
	}

	log.Printf("run %s finished in %s: %d streams, %d failed",
		summary.RunID,
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond),
		len(summary.Streams),
		summary.Failed())
	if summary.Failed() > 0 {
		return 1
	}
	return 0
}

func openStateStore(ctx context.Context, cfg *config.SyncConfig) (state.Store, error) {
	if cfg.StateDSN == "" {
		log.Println("SOCRATA_STATE_DSN not set, using in-memory bookmarks")
		return state.NewMemoryStore(), nil
	}
	return state.NewPostgresStore(ctx, cfg.StateDSN)
}
