package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lk2023060901/file-dedup-service/internal/conf"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/injector"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
	workers    = flag.Int("workers", 0, "concurrent storage checks, overrides audit.workers")
)

// dedup-audit cross-checks Redis metadata against blob storage and prints a
// JSON report to stdout. It never modifies anything. Exit status: 0 when
// consistent, 1 when issues were found, 2 when the audit could not run.
func main() {
	flag.Parse()

	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}
	if *workers > 0 {
		config.Audit.Workers = *workers
	}

	// Keep stdout for the report.
	config.Log.Output = "stderr"
	log, err := logger.New(&config.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(2)
	}

	os.Exit(run(config, log))
}

func run(config *conf.Config, log *logger.Logger) int {
	defer log.Sync()

	auditor, cleanup, err := injector.InitializeAuditor(config, log)
	if err != nil {
		log.Error("failed to initialize auditor", zap.Error(err))
		return 2
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := auditor.Run(ctx)
	if err != nil {
		log.Error("audit failed", zap.Error(err))
		return 2
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Error("failed to write report", zap.Error(err))
		return 2
	}

	if !report.Consistent() {
		return 1
	}
	return 0
}
