// Command worker runs the evidence blob purge queue and the sweep that
// re-queues purges lost after a soft delete.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vexscan/api/internal/config"
	"github.com/vexscan/api/internal/infra/jobs"
	"github.com/vexscan/api/internal/infra/postgres"
	"github.com/vexscan/api/internal/infra/storage"
	"github.com/vexscan/api/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().Error("failed to load configuration", "error", err)
		return 1
	}
	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	}).With("process", "worker")
	log.SetDefault()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return 1
	}

	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	blobs, err := storage.NewS3Store(ctx, cfg.Storage, log)
	if err != nil {
		log.Error("failed to initialize object storage", "error", err)
		return 1
	}

	evidenceRepo := postgres.NewEvidenceRepository(db)

	client := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	defer func() { _ = client.Close() }()

	worker := jobs.NewWorker(jobs.WorkerConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Jobs.Concurrency,
	}, jobs.NewBlobPurgeHandler(blobs, evidenceRepo, log.Stdlib()), log)

	sweeper := jobs.NewSweeper(evidenceRepo, client, jobs.SweeperConfig{
		Spec:  cfg.Jobs.SweepSpec,
		Grace: cfg.Jobs.SweepGrace,
		Batch: cfg.Jobs.SweepBatch,
	}, log)
	if err := sweeper.Start(); err != nil {
		log.Error("failed to schedule purge sweep", "error", err)
		return 1
	}
	defer sweeper.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		// One sweep at startup catches purges lost while no worker ran.
		sctx, cancel := context.WithTimeout(gctx, time.Minute)
		defer cancel()
		n, err := sweeper.Sweep(sctx)
		if err != nil {
			log.Warn("startup purge sweep failed", "error", err)
			return nil
		}
		log.Info("startup purge sweep done", "requeued", n)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped with error", "error", err)
		return 1
	}
	log.Info("worker stopped")
	return 0
}
