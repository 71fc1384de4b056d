package policy

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gantry-dev/gantry/domain/ports"
)

var (
	_ ports.DenialHandler = (*StderrDenialHandler)(nil)
	_ ports.DenialHandler = (*SlogDenialHandler)(nil)
	_ ports.DenialHandler = (*NopDenialHandler)(nil)
)

// StderrDenialHandler writes denials to stderr. It is the default so that
// refused checks are never silent.
type StderrDenialHandler struct{}

func (h *StderrDenialHandler) OnDenial(kind string, request any, reason string) {
	fmt.Fprintf(os.Stderr, "policy denied %s request %v: %s\n", kind, request, reason)
}

// SlogDenialHandler logs denials through a structured logger.
type SlogDenialHandler struct {
	Logger *slog.Logger
}

func (h *SlogDenialHandler) OnDenial(kind string, request any, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("permission denied", "kind", kind, "request", fmt.Sprintf("%v", request), "reason", reason)
}

// NopDenialHandler discards denials. Tests use it to keep output quiet.
type NopDenialHandler struct{}

func (h *NopDenialHandler) OnDenial(kind string, request any, reason string) {}
