package injector

import (
	"github.com/lk2023060901/file-dedup-service/internal/conf"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/biz"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	"github.com/lk2023060901/file-dedup-service/internal/server"
)

// App encapsulates all application dependencies
type App struct {
	Config     *conf.Config
	Logger     *logger.Logger
	Engine     *biz.Engine
	HTTPServer *server.HTTPServer
}
