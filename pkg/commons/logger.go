package commons

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging contract used across all bridge components. It is a
// thin facade over a zap SugaredLogger so that packages never depend on zap
// directly.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Info(msg string)

	// Benchmark records a named duration at debug level. Used on hot paths
	// where full tracing would be too expensive.
	Benchmark(name string, elapsed time.Duration)

	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// LoggerOption configures NewApplicationLogger.
type LoggerOption func(*loggerConfig)

type loggerConfig struct {
	level    zapcore.Level
	filePath string
}

// WithLevel sets the minimum log level. Accepts "debug", "info", "warn",
// "error"; anything else falls back to info.
func WithLevel(level string) LoggerOption {
	return func(c *loggerConfig) {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			c.level = parsed
		}
	}
}

// WithRotatingFile mirrors log output to a size-rotated file in addition to
// stderr.
func WithRotatingFile(path string) LoggerOption {
	return func(c *loggerConfig) { c.filePath = path }
}

// NewApplicationLogger builds the process-wide logger. Console output goes to
// stderr; when a file path is configured, output is duplicated into a
// lumberjack-rotated file.
func NewApplicationLogger(opts ...LoggerOption) (Logger, error) {
	cfg := loggerConfig{level: zapcore.InfoLevel}
	for _, opt := range opts {
		opt(&cfg)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(os.Stderr),
			cfg.level,
		),
	}

	if cfg.filePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.filePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotator),
			cfg.level,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &zapLogger{sugar: logger.Sugar()}, nil
}

func (l *zapLogger) Debugf(template string, args ...interface{}) { l.sugar.Debugf(template, args...) }
func (l *zapLogger) Infof(template string, args ...interface{})  { l.sugar.Infof(template, args...) }
func (l *zapLogger) Warnf(template string, args ...interface{})  { l.sugar.Warnf(template, args...) }
func (l *zapLogger) Errorf(template string, args ...interface{}) { l.sugar.Errorf(template, args...) }

func (l *zapLogger) Debugw(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

func (l *zapLogger) Info(msg string) { l.sugar.Info(msg) }

func (l *zapLogger) Benchmark(name string, elapsed time.Duration) {
	l.sugar.Debugw("benchmark", "stage", name, "elapsed", elapsed.String())
}

func (l *zapLogger) Sync() error { return l.sugar.Sync() }
