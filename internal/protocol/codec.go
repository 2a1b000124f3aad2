package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// TraceMarker prefixes child output lines that belong in the agent trace, not the job log.
const TraceMarker = "##[plugin.trace]"

// ErrEmptyLine is returned when a framing line that must carry a payload is empty.
var ErrEmptyLine = errors.New("empty line")

// MarshalLine serializes v as a single JSON line without the trailing newline.
func MarshalLine(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode line: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// EncodeLine writes v to w as one JSON line.
func EncodeLine(w io.Writer, v any) error {
	line, err := MarshalLine(v)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	return nil
}

// DecodeHostContext parses the first stdin line of daemon and log modes.
func DecodeHostContext(line string) (*HostContext, error) {
	var c HostContext
	if err := decodeLine(line, "host context", &c); err != nil {
		return nil, err
	}
	c.normalize()
	return &c, nil
}

// DecodeTaskContext parses the first stdin line of task mode.
func DecodeTaskContext(line string) (*TaskContext, error) {
	var c TaskContext
	if err := decodeLine(line, "task context", &c); err != nil {
		return nil, err
	}
	c.normalize()
	return &c, nil
}

// DecodeCommandContext parses the first stdin line of command mode.
func DecodeCommandContext(line string) (*CommandContext, error) {
	var c CommandContext
	if err := decodeLine(line, "command context", &c); err != nil {
		return nil, err
	}
	c.normalize()
	return &c, nil
}

// DecodeJobOutput parses a data line of daemon and log modes.
func DecodeJobOutput(line string) (JobOutput, error) {
	var out JobOutput
	if err := decodeLine(line, "job output", &out); err != nil {
		return JobOutput{}, err
	}
	return out, nil
}

func decodeLine(line, what string, v any) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return fmt.Errorf("%s: %w", what, ErrEmptyLine)
	}
	if line == "null" {
		return fmt.Errorf("%s: payload is null", what)
	}
	if err := json.Unmarshal([]byte(line), v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return nil
}

// FinishSentinel returns the stdin line that tells a host in the given mode the job has finished.
func FinishSentinel(mode Mode, instanceID string) string {
	area := "logplugin"
	if mode == ModeDaemon {
		area = "daemon"
	}
	return "##vso[" + area + ".finish]" + instanceID
}

// IsFinishSentinel reports whether line is a finish sentinel for instanceID.
// The whole line must match, ignoring case.
func IsFinishSentinel(line, instanceID string) bool {
	if instanceID == "" {
		return false
	}
	return strings.EqualFold(line, FinishSentinel(ModeDaemon, instanceID)) ||
		strings.EqualFold(line, FinishSentinel(ModeLog, instanceID))
}

// TraceLine prefixes msg with the trace marker.
func TraceLine(msg string) string {
	return TraceMarker + msg
}

// SplitTrace strips the trace marker from line. ok is false for job-visible lines.
func SplitTrace(line string) (msg string, ok bool) {
	if len(line) < len(TraceMarker) || !strings.EqualFold(line[:len(TraceMarker)], TraceMarker) {
		return line, false
	}
	return line[len(TraceMarker):], true
}
