package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. The returned level can be changed at run
// time; binaries wire it to config reloads.
func NewLogger(cfg LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, level, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = level
	logger, err := zc.Build()
	if err != nil {
		return nil, level, err
	}
	return logger, level, nil
}

// FollowLevel keeps level in sync with log.level across reloads.
func (l *Loader) FollowLevel(level zap.AtomicLevel, logger *zap.Logger) {
	l.Subscribe(func(cfg *Config) {
		if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			logger.Warn("ignoring log level", zap.String("level", cfg.Log.Level), zap.Error(err))
			return
		}
		logger.Info("log level changed", zap.Stringer("level", level.Level()))
	})
}
