package logging

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志配置
type Config struct {
	// debug / info / warn / error
	Level string `mapstructure:"level"`
	// json 或 console
	Format string `mapstructure:"format"`
}

// NewZap 按配置构建 zap logger
func NewZap(cfg Config, fields map[string]interface{}) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level
	zapConfig.InitialFields = fields
	zapConfig.DisableCaller = true

	return zapConfig.Build()
}

var _ log.Logger = (*Logger)(nil)

// Logger 将 zap 适配为 kratos log.Logger
type Logger struct {
	zap *zap.Logger
}

// NewLogger 创建适配器
func NewLogger(z *zap.Logger) *Logger {
	return &Logger{zap: z}
}

// Log 实现 log.Logger，msg 键作为日志正文
func (l *Logger) Log(level log.Level, keyvals ...interface{}) error {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "KEYVALS UNPAIRED")
	}

	msg := ""
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if key == log.DefaultMessageKey {
			msg = fmt.Sprint(keyvals[i+1])
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}

	if ce := l.zap.Check(zapLevel(level), msg); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

// Sync 刷新缓冲
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

func zapLevel(level log.Level) zapcore.Level {
	switch level {
	case log.LevelDebug:
		return zapcore.DebugLevel
	case log.LevelWarn:
		return zapcore.WarnLevel
	case log.LevelError:
		return zapcore.ErrorLevel
	case log.LevelFatal:
		// 不让日志调用退出进程
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
