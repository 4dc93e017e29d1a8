package main

import (
	"log"

	"go.uber.org/zap"

	"github.com/relaydb/relaydb/internal/app"
	"github.com/relaydb/relaydb/internal/config"
	"github.com/relaydb/relaydb/internal/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := app.Serve(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}
