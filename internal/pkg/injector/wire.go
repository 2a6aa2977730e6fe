//go:build wireinject
// +build wireinject

package injector

import (
	"github.com/google/wire"

	"github.com/lk2023060901/file-dedup-service/internal/conf"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/biz"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/service"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	"github.com/lk2023060901/file-dedup-service/internal/server"
)

// ProviderSet is the Wire provider set for all dependencies
var ProviderSet = wire.NewSet(
	// Data layer
	dataProviderSet,

	// Use cases
	useCaseProviderSet,

	// Services
	service.NewFileService,

	// Servers
	server.NewHTTPServer,
)

// Data layer providers
var dataProviderSet = wire.NewSet(
	provideData,
	provideRedisClient,
	provideBlobStore,
	provideMetadataRepo,
)

// Use case providers
var useCaseProviderSet = wire.NewSet(
	provideHasher,
	provideIDGenerator,
	provideEngineConfig,
	provideMaxUploadSize,
	biz.NewEngine,
)

// InitializeApp initializes the HTTP application with Wire
func InitializeApp(config *conf.Config, log *logger.Logger) (*App, func(), error) {
	wire.Build(ProviderSet, wire.Struct(new(App), "*"))
	return nil, nil, nil
}

// InitializeAuditor initializes the consistency auditor with Wire
func InitializeAuditor(config *conf.Config, log *logger.Logger) (*biz.Auditor, func(), error) {
	wire.Build(dataProviderSet, provideAuditPool, biz.NewAuditor)
	return nil, nil, nil
}
