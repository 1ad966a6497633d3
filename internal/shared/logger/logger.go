package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// GetLogger returns zap.Logger instance, but using singleton pattern creates only one reusable instace.
// APP_ENV=production switches to the JSON production config, LOG_LEVEL overrides the level.
func GetLogger() *zap.Logger {
	once.Do(func() {
		cfg := zap.NewDevelopmentConfig()
		if strings.EqualFold(os.Getenv("APP_ENV"), "production") {
			cfg = zap.NewProductionConfig()
		}
		if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
			var level zapcore.Level
			if err := level.UnmarshalText([]byte(lvl)); err == nil {
				cfg.Level = zap.NewAtomicLevelAt(level)
			}
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			panic("failed logger setup : " + err.Error())
		}
	})
	return logger
}
