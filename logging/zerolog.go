package logging

import (
	"github.com/rs/zerolog"
)

// ZerologAdapter wraps zerolog.Logger to implement the Logger interface.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a Logger from an existing zerolog.Logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// NewZerologLogger builds a zerolog backed Logger from a config.
func NewZerologLogger(cfg *LoggerConfig) *ZerologAdapter {
	w := cfg.Output
	if cfg.Format == "text" {
		w = zerolog.ConsoleWriter{Out: cfg.Output}
	}
	zl := zerolog.New(w).Level(zerologLevel(cfg.Level)).With().Timestamp()
	if cfg.Component != "" {
		zl = zl.Str("component", cfg.Component)
	}
	if cfg.AddSource {
		zl = zl.Caller()
	}
	return NewZerologAdapter(zl.Logger())
}

// Zerolog exposes the wrapped logger, e.g. for HTTP request logging middleware.
func (z *ZerologAdapter) Zerolog() zerolog.Logger { return z.logger }

// Debug logs a debug message.
func (z *ZerologAdapter) Debug(msg string, args ...any) { z.logger.Debug().Fields(args).Msg(msg) }

// Info logs an informational message.
func (z *ZerologAdapter) Info(msg string, args ...any) { z.logger.Info().Fields(args).Msg(msg) }

// Warn logs a warning message.
func (z *ZerologAdapter) Warn(msg string, args ...any) { z.logger.Warn().Fields(args).Msg(msg) }

// Error logs an error message.
func (z *ZerologAdapter) Error(msg string, args ...any) { z.logger.Error().Fields(args).Msg(msg) }

func zerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
