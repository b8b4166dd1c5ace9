package logger

import (
	"fmt"

	"github.com/GlebRadaev/vpnshop/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeLayout = "15:04:05 02-01-2006"

var logLvlMap = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// InitLogger replaces the global zap logger. Console output is colored for
// local runs, json is meant for log shippers.
func InitLogger(conf *config.Config) error {
	logger, err := Build(conf)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	return nil
}

// Build returns a logger named after the metrics namespace and tagged with
// the shop brand, so several bots can share one log sink.
func Build(conf *config.Config) (*zap.Logger, error) {
	lvl, ok := logLvlMap[conf.LogLvl]
	if !ok {
		return nil, fmt.Errorf("unsupported log lvl: %s", conf.LogLvl)
	}
	encoding, encodeConfig, err := encoder(conf.LogFormat)
	if err != nil {
		return nil, err
	}

	c := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         encoding,
		EncoderConfig:    encodeConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if conf.Brand != "" {
		c.InitialFields = map[string]any{"brand": conf.Brand}
	}

	logger, err := c.Build()
	if err != nil {
		return nil, fmt.Errorf("unable to create zap logger, error: %w", err)
	}

	name := conf.MetricsNamespace
	if name == "" {
		name = "vpnshop"
	}
	return logger.Named(name), nil
}

func encoder(format string) (string, zapcore.EncoderConfig, error) {
	ec := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	switch format {
	case "", "console":
		ec.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return "console", ec, nil
	case "json":
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
		return "json", ec, nil
	default:
		return "", ec, fmt.Errorf("unsupported log format: %s", format)
	}
}
