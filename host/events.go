package host

import (
	"log/slog"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/domain/ports"
)

// LogSink returns an EventSink that writes each lifecycle event as one
// structured log line. It is the manager's default sink.
func LogSink(logger *slog.Logger) ports.EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return ports.EventSinkFunc(func(event entities.Event) {
		attrs := []any{
			"kind", string(event.Kind),
			"extension", event.Extension,
			"id", uint64(event.ID),
		}
		for k, v := range event.Detail {
			attrs = append(attrs, k, v)
		}
		logger.Info("extension event", attrs...)
	})
}
