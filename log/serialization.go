package log

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"time"
)

// levelString maps a slog level onto the wire levels the host parses.
// Custom levels collapse to the nearest standard one.
func levelString(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "debug"
	case l < slog.LevelWarn:
		return "info"
	case l < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// flattenAttr renders one attribute into the flat wire map. Groups recurse
// with dotted keys; LogValuers resolve first.
func flattenAttr(dst map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = joinKey(prefix, a.Key)
		}
		for _, ga := range a.Value.Group() {
			flattenAttr(dst, groupPrefix, ga)
		}
		return
	}

	// Empty attrs are slog's discard convention.
	if a.Key == "" {
		return
	}
	dst[joinKey(prefix, a.Key)] = formatValue(a.Value)
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		av := v.Any()
		if av == nil {
			return "<nil>"
		}
		if err, ok := av.(error); ok {
			return err.Error()
		}
		if data, err := json.Marshal(av); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", av)
	default:
		return fmt.Sprintf("%v", v.Any())
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// sourceLocation resolves the call site of a record's program counter.
func sourceLocation(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", frame.File, frame.Line)
}
