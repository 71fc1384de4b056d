package hostfuncs

import (
	"context"
	"log/slog"

	"github.com/gantry-dev/gantry/domain/entities"
)

// LogOption is a functional option for configuring log routing.
type LogOption func(*logConfig)

type logConfig struct {
	logger    *slog.Logger
	extension string
}

func defaultLogConfig() logConfig {
	return logConfig{
		logger: slog.Default(),
	}
}

// WithLogLogger routes extension log records to the given logger.
func WithLogLogger(logger *slog.Logger) LogOption {
	return func(c *logConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLogExtension attaches the extension name to every forwarded record.
func WithLogExtension(name string) LogOption {
	return func(c *logConfig) {
		c.extension = name
	}
}

// PerformLog forwards one extension log record to the host logger. Unknown
// levels land at info so records are never silently dropped.
func PerformLog(ctx context.Context, req entities.LogRequest, opts ...LogOption) entities.LogResponse {
	cfg := defaultLogConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	attrs := make([]any, 0, 2+2*len(req.Attrs))
	if cfg.extension != "" {
		attrs = append(attrs, "extension", cfg.extension)
	}
	for k, v := range req.Attrs {
		attrs = append(attrs, k, v)
	}

	cfg.logger.Log(ctx, parseLevel(req.Level), req.Message, attrs...)
	return entities.LogResponse{}
}

// parseLevel maps a wire level string to a slog level.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug", "trace":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
