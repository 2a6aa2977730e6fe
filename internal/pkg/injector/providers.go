package injector

import (
	"context"
	"fmt"

	"github.com/lk2023060901/file-dedup-service/internal/conf"
	"github.com/lk2023060901/file-dedup-service/internal/data"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/biz"
	fsdata "github.com/lk2023060901/file-dedup-service/internal/filestore/data"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	pkgredis "github.com/lk2023060901/file-dedup-service/internal/pkg/redis"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/workerpool"
)

// Data layer helpers

func provideData(config *conf.Config, log *logger.Logger) (*data.Data, func(), error) {
	return data.NewData(config, log)
}

func provideRedisClient(d *data.Data) *pkgredis.Client {
	return d.RedisClient
}

func provideBlobStore(d *data.Data) biz.BlobStore {
	return d.Blobs
}

// provideMetadataRepo also preloads the Lua scripts so a Redis without
// scripting fails at startup rather than on the first upload.
func provideMetadataRepo(d *data.Data, config *conf.Config, log *logger.Logger) (biz.MetadataRepo, error) {
	repo := fsdata.NewMetadataRepo(d.RedisClient, config.Audit.ScanCount, log)
	if err := repo.Preload(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load metadata scripts: %w", err)
	}
	return repo, nil
}

// Use case helpers

func provideHasher(config *conf.Config) (*biz.Hasher, error) {
	return biz.NewHasher(config.FileStore.HashAlgorithm)
}

func provideIDGenerator(config *conf.Config) (biz.IDGenerator, error) {
	return biz.NewIDGenerator(config.FileStore.IDFormat)
}

func provideEngineConfig(config *conf.Config) biz.EngineConfig {
	return biz.EngineConfig{
		BusyRetries:    config.FileStore.BusyRetries,
		BusyBackoff:    config.FileStore.BusyBackoff,
		RetireLease:    config.FileStore.RetireLease,
		CleanupTimeout: config.FileStore.CleanupTimeout,
	}
}

func provideMaxUploadSize(config *conf.Config) int64 {
	return config.Server.MaxUploadSize
}

func provideAuditPool(config *conf.Config, log *logger.Logger) (*workerpool.Pool, func(), error) {
	pool, err := workerpool.New(&workerpool.Config{
		Workers:        config.Audit.Workers,
		ReleaseTimeout: workerpool.DefaultConfig().ReleaseTimeout,
	}, log.Logger)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Shutdown, nil
}
