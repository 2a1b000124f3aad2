package supervisor

import (
	"io"
	"log/slog"
	"sync"

	"github.com/mattjoyce/pluginhost/internal/protocol"
)

// Sink receives what the plugin host printed, already split on the trace marker.
type Sink interface {
	// Output receives job-visible lines.
	Output(line string)
	// Trace receives diagnostic lines with the marker stripped.
	Trace(line string)
}

type writerSink struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
}

// NewWriterSink writes job output to w and trace lines to logger at debug level.
func NewWriterSink(w io.Writer, logger *slog.Logger) Sink {
	return &writerSink{w: w, logger: logger}
}

func (s *writerSink) Output(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, line+"\n")
}

func (s *writerSink) Trace(line string) {
	s.logger.Debug(line)
}

// outputQueue buffers child output until the next drain.
type outputQueue struct {
	mu    sync.Mutex
	lines []string
}

func (q *outputQueue) push(l string) {
	q.mu.Lock()
	q.lines = append(q.lines, l)
	q.mu.Unlock()
}

func (q *outputQueue) take() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.lines
	q.lines = nil
	return out
}

// relay routes one child line to sink.
func relay(sink Sink, line string) {
	if msg, ok := protocol.SplitTrace(line); ok {
		sink.Trace(msg)
		return
	}
	sink.Output(line)
}

// cappedBuffer keeps the first max bytes of stderr.
type cappedBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *cappedBuffer) addLine(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) > 0 {
		s = "\n" + s
	}
	room := b.max - len(b.buf)
	if room <= 0 {
		return
	}
	if len(s) > room {
		s = s[:room]
	}
	b.buf = append(b.buf, s...)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
