package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/dharsanguruparan/learnscaffold/internal/config"
	"github.com/dharsanguruparan/learnscaffold/internal/database"
	"github.com/dharsanguruparan/learnscaffold/internal/notify"
	"github.com/dharsanguruparan/learnscaffold/internal/repository"
	"github.com/dharsanguruparan/learnscaffold/internal/s3storage"
	"github.com/dharsanguruparan/learnscaffold/internal/signing"
	"github.com/dharsanguruparan/learnscaffold/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	store := repository.NewPostgresStore(pool)

	blobs, err := s3storage.New(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if err := blobs.EnsureBuckets(ctx); err != nil {
		log.Fatalf("ensure buckets: %v", err)
	}

	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.SendGridKey != "" {
		mailer = notify.NewSendGridMailer(cfg.SendGridKey, cfg.FromName, cfg.FromAddress)
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		// Concurrency bounds how many tasks execute in parallel; the queue
		// absorbs the rest.
		Concurrency: cfg.ProcessingPool,
	})
	executor := worker.SimulatedExecutor{
		MinDelay: cfg.StepDelayMin,
		MaxDelay: cfg.StepDelayMax,
	}
	processor := worker.NewProcessor(store, blobs, signing.NewIssuer(cfg.SignedURLTTL), mailer, executor)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Printf("worker running with %d slots", cfg.ProcessingPool)
	if err := server.Run(mux); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}
