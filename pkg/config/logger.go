package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger: human-readable output for local
// development, JSON for everything else, with the level taken from config.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.App.Env == "local" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	if cfg.Logger.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Logger.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %v", cfg.Logger.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	return zcfg.Build()
}
