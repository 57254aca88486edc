// Package logging provides the structured logger used across the ETL
// pipeline, its CLI, and the scheduler.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RetailLogger is the structured logging interface every component depends
// on, rather than a concrete *zap.Logger, so tests can substitute a no-op.
type RetailLogger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, err error, fields ...zap.Field)
	Fatal(msg string, err error, fields ...zap.Field)
	With(fields ...zap.Field) RetailLogger
	Sync() error
}

// Logger implements RetailLogger using zap.
type Logger struct {
	logger *zap.Logger
}

// LoggerConfig defines logger configuration.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Development bool   `mapstructure:"development"`
}

// NewLogger creates a new structured logger based on configuration.
func NewLogger(config LoggerConfig) (RetailLogger, error) {
	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var encoderConfig zapcore.EncoderConfig
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(config.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	var writeSyncer zapcore.WriteSyncer
	switch strings.ToLower(config.Output) {
	case "stdout", "":
		writeSyncer = zapcore.AddSync(os.Stdout)
	case "stderr":
		writeSyncer = zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writeSyncer = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	var options []zap.Option
	if config.Development {
		options = append(options, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		options = append(options, zap.AddCaller())
	}

	return &Logger{logger: zap.New(core, options...)}, nil
}

// NewDefaultLogger creates a logger with sensible defaults, used when no
// configuration has been loaded yet (e.g. while parsing CLI flags).
func NewDefaultLogger() RetailLogger {
	logger, err := NewLogger(LoggerConfig{Level: "info", Format: "console", Output: "stdout", Development: true})
	if err != nil {
		zapLogger, _ := zap.NewDevelopment()
		return &Logger{logger: zapLogger}
	}
	return logger
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.logger.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.logger.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.logger.Warn(msg, fields...) }

func (l *Logger) Error(msg string, err error, fields ...zap.Field) {
	allFields := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	allFields = append(allFields, fields...)
	l.logger.Error(msg, allFields...)
}

func (l *Logger) Fatal(msg string, err error, fields ...zap.Field) {
	allFields := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	allFields = append(allFields, fields...)
	l.logger.Fatal(msg, allFields...)
}

func (l *Logger) With(fields ...zap.Field) RetailLogger {
	return &Logger{logger: l.logger.With(fields...)}
}

func (l *Logger) Sync() error { return l.logger.Sync() }

func parseLogLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

// LoggerFields provides field constructors shared across the job/batch/stage
// bound-context idiom the pipeline and its stages use on every log call.
type LoggerFields struct{}

// Fields is the package-level constructor set, e.g. logging.Fields.JobID(id).
var Fields LoggerFields

func (LoggerFields) String(key, value string) zap.Field { return zap.String(key, value) }
func (LoggerFields) Int(key string, value int) zap.Field { return zap.Int(key, value) }
func (LoggerFields) Int64(key string, value int64) zap.Field { return zap.Int64(key, value) }
func (LoggerFields) Float64(key string, value float64) zap.Field { return zap.Float64(key, value) }
func (LoggerFields) Bool(key string, value bool) zap.Field { return zap.Bool(key, value) }
func (LoggerFields) Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}
func (LoggerFields) Err(err error) zap.Field         { return zap.Error(err) }
func (LoggerFields) Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }

// JobID binds a job identifier to every subsequent log line from a logger
// returned by Logger.With(Fields.JobID(id)).
func (LoggerFields) JobID(id string) zap.Field { return zap.String("job_id", id) }

// BatchID binds a batch identifier.
func (LoggerFields) BatchID(id string) zap.Field { return zap.String("batch_id", id) }

// Stage binds the pipeline stage name.
func (LoggerFields) Stage(name string) zap.Field { return zap.String("stage", name) }

// Table binds a warehouse table name, used by QualityMonitor and Catalog.
func (LoggerFields) Table(name string) zap.Field { return zap.String("table", name) }
