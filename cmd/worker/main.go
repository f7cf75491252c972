package main

import (
	"Loop/config"
	"Loop/internal/chunkstore"
	"Loop/internal/repo"
	"Loop/internal/service"
	"Loop/internal/worker"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	config.InitConfig()
	repo.InitMysql()
	repo.InitRedis()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := worker.SweepDeps{
		Records: service.NewGormRecordStore(repo.Db, nil),
		Chunks:  chunkstore.NewGormStore(repo.Db),
		Rdb:     repo.Redis,
	}

	log.Println("sweep worker started")
	if err := worker.RunSweepWorker(ctx, deps); err != nil {
		log.Fatalf("sweep worker stopped: %v", err)
	}
}
