package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"realtime-board/internal/board"
	"realtime-board/internal/broadcast"
	"realtime-board/internal/cache"
	"realtime-board/internal/config"
	"realtime-board/internal/coordinator"
	"realtime-board/internal/database"
	"realtime-board/internal/logging"
	"realtime-board/internal/registry"
	"realtime-board/internal/server"
	"realtime-board/internal/storage"
)

func main() {
	// 설정 로드
	cfg := config.Load()
	log := logging.New(cfg.Log)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis 연결 (재시도 포함)
	rdb, err := cache.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		log.WithError(err).Fatal("Redis connection failed")
	}

	boards := board.NewStore(rdb, cfg.Board, log)
	reg := registry.New(rdb, boards, cfg.Board.SessionTTL, log)

	// 브로드캐스트: 단일 인스턴스는 Hub, 다중 인스턴스는 Redis relay
	hub := broadcast.NewHub(log)
	var pub broadcast.Publisher = hub
	relayCtx, stopRelay := context.WithCancel(ctx)
	if cfg.Fanout.Mode == "redis" {
		relay := broadcast.NewRedisRelay(hub, rdb, cfg.Fanout.Channel, log)
		ready := make(chan struct{})
		failed := make(chan error, 1)
		go func() {
			failed <- relay.Run(relayCtx, ready)
		}()
		select {
		case <-ready:
		case err := <-failed:
			log.WithError(err).Fatal("Relay subscribe failed")
		}
		pub = relay
	}

	// 업로드 카탈로그 (선택)
	var db *gorm.DB
	if cfg.Database.Enabled() {
		db, err = database.ConnectDB(cfg.Database, log)
		if err != nil {
			log.WithError(err).Warn("Catalog database unavailable, listing from storage instead")
			db = nil
		} else {
			log.WithField("host", cfg.Database.Host).Info("Catalog database connected")
		}
	}

	maps, err := newMapService(ctx, cfg, db, log)
	if err != nil {
		log.WithError(err).Fatal("Image storage initialization failed")
	}

	srv := server.New(cfg, server.Deps{
		Redis:       rdb,
		DB:          db,
		Rooms:       reg,
		Coordinator: coordinator.New(reg, boards, pub, log),
		Publisher:   pub,
		Maps:        maps,
	}, log)

	// 역순 실행: relay 중지 -> DB -> Redis
	srv.OnShutdown(func() {
		if err := rdb.Close(); err != nil {
			log.WithError(err).Warn("Redis close failed")
		}
	})
	srv.OnShutdown(func() {
		if err := database.Close(db); err != nil {
			log.WithError(err).Warn("Database close failed")
		}
	})
	srv.OnShutdown(stopRelay)

	srv.SetupMiddleware()
	srv.SetupRoutes()

	log.WithFields(logrus.Fields{
		"fanout":  cfg.Fanout.Mode,
		"storage": cfg.Storage.Driver,
	}).Info("Components ready")

	// 서버 시작
	if err := srv.Start(); err != nil {
		log.WithError(err).Fatal("Server failed to start")
	}
}

func newMapService(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logrus.Logger) (*storage.Service, error) {
	var store storage.ImageStore
	switch cfg.Storage.Driver {
	case "s3":
		s3Store, err := storage.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		log.WithField("bucket", cfg.S3.BucketName).Info("S3 image storage initialized")
		store = s3Store
	default:
		disk, err := storage.NewDiskStore(cfg.Storage.UploadDir, cfg.Storage.PublicPath)
		if err != nil {
			return nil, err
		}
		store = disk
	}

	var catalog *storage.Catalog
	if db != nil {
		catalog = storage.NewCatalog(db)
	}
	return storage.NewService(store, catalog, cfg.Storage.MaxUploadSize, log), nil
}
