// Package logging constructs the process-wide zap.Logger. The teacher repo
// has no structured logger of its own (log/fmt only); this follows
// FerretDB's real-world choice of go.uber.org/zap for the same kind of
// system. A *zap.Logger is built once at startup and passed down
// explicitly through the dispatcher and backends — never held in a package
// global.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relaydb/relaydb/internal/config"
)

// New builds a zap.Logger from a LoggingConfig: "json" or "console"
// encoding, level parsed from the usual debug/info/warn/error names.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch cfg.Format {
	case "console":
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		zcfg.Encoding = "json"
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: building logger: %w", err)
	}
	return logger, nil
}
