package data

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lk2023060901/file-dedup-service/internal/conf"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/biz"
	fsdata "github.com/lk2023060901/file-dedup-service/internal/filestore/data"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	pkgminio "github.com/lk2023060901/file-dedup-service/internal/pkg/minio"
	pkgredis "github.com/lk2023060901/file-dedup-service/internal/pkg/redis"
)

// Storage drivers
const (
	DriverLocal = "local"
	DriverMinIO = "minio"
)

type Data struct {
	RedisClient *pkgredis.Client
	MinIOClient *pkgminio.Client // nil unless the minio driver is selected
	Blobs       biz.BlobStore
	Logger      *logger.Logger
}

func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	// Initialize Redis
	redisClient, err := pkgredis.New(&config.Redis, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	d := &Data{
		RedisClient: redisClient,
		Logger:      log,
	}

	// Initialize blob storage
	switch config.Storage.Driver {
	case DriverMinIO:
		minioClient, err := initMinIO(config, log)
		if err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("failed to init minio: %w", err)
		}
		d.MinIOClient = minioClient
		d.Blobs = fsdata.NewMinIOStore(minioClient, config.Storage.MinIO.Bucket, config.Storage.MinIO.Prefix)
	default:
		store, err := fsdata.NewLocalStore(config.Storage.UploadDir)
		if err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("failed to init local storage: %w", err)
		}
		d.Blobs = store
		log.Info("local storage initialized", zap.String("root", store.Root()))
	}

	cleanup := func() {
		log.Info("cleaning up data resources")

		if d.MinIOClient != nil {
			d.MinIOClient.Close()
		}

		if redisClient != nil {
			redisClient.Close()
		}
	}

	return d, cleanup, nil
}

func initMinIO(config *conf.Config, log *logger.Logger) (*pkgminio.Client, error) {
	cfg := config.Storage.MinIO.Config
	client, err := pkgminio.NewClient(&cfg, log.Logger)
	if err != nil {
		return nil, err
	}

	// Create bucket if not exists
	if err := client.EnsureBucket(context.Background(), config.Storage.MinIO.Bucket); err != nil {
		client.Close()
		return nil, err
	}

	log.Info("minio storage initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", config.Storage.MinIO.Bucket),
		zap.String("prefix", config.Storage.MinIO.Prefix),
	)
	return client, nil
}
