// Package transport frames the plugin host's standard streams as lines.
//
// It carries no business logic: the parent writes one JSON line per message into
// the child's stdin, and every line the child prints on stdout or stderr travels
// back unchanged. Interpreting the lines is left to the protocol package.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// maxLineBytes bounds a single framed line. The execution context can be large
// (variables, endpoints, step map), so the scanner default of 64KB is not enough.
const maxLineBytes = 32 * 1024 * 1024

// LineReader reads newline-delimited lines.
type LineReader struct {
	sc *bufio.Scanner
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &LineReader{sc: sc}
}

// ReadLine returns the next line without its terminator. It returns io.EOF
// once the stream is exhausted.
func (r *LineReader) ReadLine() (string, error) {
	if r.sc.Scan() {
		return strings.TrimSuffix(r.sc.Text(), "\r"), nil
	}
	if err := r.sc.Err(); err != nil {
		return "", fmt.Errorf("read line: %w", err)
	}
	return "", io.EOF
}

// LineWriter writes whole lines. It is safe for concurrent use, so plugins
// running on different goroutines never interleave partial lines.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineWriter wraps w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

// WriteLine writes s followed by a newline. Embedded newlines are not allowed
// because they would split one message into several frames.
func (w *LineWriter) WriteLine(s string) error {
	if strings.ContainsAny(s, "\n") {
		return fmt.Errorf("line contains newline")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, s+"\n"); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

// WriteText writes s, splitting it on newlines into one frame per line.
func (w *LineWriter) WriteText(s string) error {
	return w.WritePrefixed("", s)
}

// WritePrefixed splits s on newlines and writes every line with prefix in front,
// holding the lock so the frames stay together.
func (w *LineWriter) WritePrefixed(prefix, s string) error {
	s = strings.TrimRight(s, "\r\n")
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, line := range strings.Split(s, "\n") {
		if _, err := io.WriteString(w.w, prefix+strings.TrimSuffix(line, "\r")+"\n"); err != nil {
			return fmt.Errorf("write line: %w", err)
		}
	}
	return nil
}

// Write implements io.Writer on top of WriteText so loggers can share the lock.
func (w *LineWriter) Write(p []byte) (int, error) {
	if err := w.WriteText(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Pump reads lines from r and hands each non-empty one to fn until r is exhausted.
// A closed pipe is treated as a normal end of stream.
func Pump(r io.Reader, fn func(line string)) error {
	lr := NewLineReader(r)
	for {
		line, err := lr.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		if line != "" {
			fn(line)
		}
	}
}
