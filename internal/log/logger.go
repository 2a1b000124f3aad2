package log

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattjoyce/pluginhost/internal/protocol"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger.
// logic: default to INFO and JSON. Unknown values fall back to the defaults.
// A nil writer means stderr.
func Setup(level, format string, w io.Writer) {
	once.Do(func() {
		if w == nil {
			w = os.Stderr
		}
		opts := &slog.HandlerOptions{
			Level: ParseLevel(level),
		}
		var handler slog.Handler
		if strings.EqualFold(format, "text") {
			handler = slog.NewTextHandler(w, opts)
		} else {
			handler = slog.NewJSONHandler(w, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// ParseLevel maps a level name to a slog level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "json", nil)
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithPlugin returns a logger with the plugin field set.
func WithPlugin(name string) *slog.Logger {
	return Get().With(slog.String("plugin", name))
}

// WithInstance returns a logger with the instance_id field set.
func WithInstance(id string) *slog.Logger {
	return Get().With(slog.String("instance_id", id))
}

// TraceWriter prefixes every complete line written to it with the plugin trace
// marker, so the parent agent routes host diagnostics to its own trace.
type TraceWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewTraceWriter wraps w.
func NewTraceWriter(w io.Writer) *TraceWriter {
	return &TraceWriter{w: w}
}

func (t *TraceWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	for {
		i := bytes.IndexByte(t.buf, '\n')
		if i < 0 {
			break
		}
		line := protocol.TraceLine(string(t.buf[:i])) + "\n"
		t.buf = t.buf[i+1:]
		if _, err := io.WriteString(t.w, line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
