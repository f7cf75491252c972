package main

import (
	"Loop/config"
	"Loop/internal/chunkstore"
	"Loop/internal/handler"
	"Loop/internal/mq"
	"Loop/internal/repo"
	"Loop/internal/service"
	"Loop/internal/storage"
	"Loop/router"
	"Loop/utils"
	"log"
)

// main initializes services and starts the HTTP server.
func main() {
	config.InitConfig()
	repo.InitMysql()
	repo.InitRedis()
	objects := storage.InitMinio()

	records := service.NewGormRecordStore(repo.Db, utils.NewRedisCache(repo.Redis))
	chunks := chunkstore.NewGormStore(repo.Db)

	var cleanup service.CleanupPublisher
	if publisher, err := mq.GetPublisher(); err != nil {
		log.Printf("rabbitmq unavailable, orphan cleanup tasks disabled: %v", err)
	} else {
		cleanup = publisher
	}

	manager := service.NewFileManager(records, chunks, objects, cleanup, service.Options{
		ChunkSize:     config.AppConfig.ChunkSize,
		ImageMaxWidth: config.AppConfig.ImageMaxWidth,
		ImageQuality:  config.AppConfig.ImageQuality,
	})

	r := router.InitRouter(handler.NewFileHandler(manager))
	r.Run(config.AppConfig.ListenAddr)
}
