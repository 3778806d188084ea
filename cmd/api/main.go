package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/dharsanguruparan/learnscaffold/internal/api"
	"github.com/dharsanguruparan/learnscaffold/internal/config"
	"github.com/dharsanguruparan/learnscaffold/internal/database"
	"github.com/dharsanguruparan/learnscaffold/internal/queue"
	"github.com/dharsanguruparan/learnscaffold/internal/repository"
	"github.com/dharsanguruparan/learnscaffold/internal/s3storage"
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

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	server := api.New(cfg, store, blobs, queue.NewClient(client))
	if err := server.Run(ctx); err != nil {
		log.Printf("api stopped: %v", err)
		os.Exit(1)
	}
}
