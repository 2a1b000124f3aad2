package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/pluginhost/internal/protocol"
)

// LogHost is a running daemon or log mode host. Write job output with Write,
// then call Wait exactly once.
type LogHost struct {
	*child
	mode       protocol.Mode
	instanceID string
}

// StartLogHost launches a host in daemon or log mode for pluginIDs and sends hc.
// A fresh instance id correlates the finish sentinel.
func (s *Supervisor) StartLogHost(ctx context.Context, mode protocol.Mode, pluginIDs []string, hc *protocol.HostContext) (*LogHost, error) {
	if mode != protocol.ModeDaemon && mode != protocol.ModeLog {
		return nil, fmt.Errorf("mode %q is not a log mode", mode)
	}
	if hc == nil {
		return nil, fmt.Errorf("host context is nil")
	}
	instanceID := uuid.NewString()
	args := append([]string{string(mode), instanceID}, pluginIDs...)

	c, err := s.start(ctx, args, hc)
	if err != nil {
		return nil, err
	}
	c.logger = c.logger.With("instance_id", instanceID)
	return &LogHost{child: c, mode: mode, instanceID: instanceID}, nil
}

// InstanceID returns the id passed to the host.
func (h *LogHost) InstanceID() string { return h.instanceID }

// Write sends one line of job output. Empty text is not sent.
func (h *LogHost) Write(step uuid.UUID, text string) error {
	if text == "" {
		return nil
	}
	line, err := protocol.MarshalLine(protocol.JobOutput{ID: step, Out: text})
	if err != nil {
		return err
	}
	if err := h.stdin.WriteLine(line); err != nil {
		return fmt.Errorf("send job output: %w", err)
	}
	return nil
}

// Drain relays whatever the host printed so far.
func (h *LogHost) Drain(sink Sink) { h.drain(sink) }

// Wait sends the finish sentinel, closes stdin and relays output until the host
// exits.
func (h *LogHost) Wait(sink Sink) error {
	if err := h.stdin.WriteLine(protocol.FinishSentinel(h.mode, h.instanceID)); err != nil {
		// The host is already gone; its exit status says why.
		h.logger.Debug("failed to send finish sentinel", "error", err)
	}
	h.closeStdin()
	return h.wait(sink)
}

// Issue is a task.logissue raised by a task plugin.
type Issue struct {
	Type    string
	Message string
}

// TaskResult is what a task plugin reported through logging commands.
type TaskResult struct {
	// Result is the last task.complete result, "Succeeded" when none was sent.
	Result    string
	Issues    []Issue
	Variables map[string]string
}

// Failed reports whether the task completed as failed.
func (r *TaskResult) Failed() bool {
	return strings.EqualFold(r.Result, "Failed")
}

// taskSink inspects task output for logging commands on its way to next.
type taskSink struct {
	next   Sink
	result *TaskResult
}

func (s taskSink) Output(line string) {
	if cmd, ok := protocol.ParseCommand(line); ok {
		switch {
		case cmd.Is("task", "complete"):
			if r := cmd.Properties["result"]; r != "" {
				s.result.Result = r
			}
		case cmd.Is("task", "logissue"):
			s.result.Issues = append(s.result.Issues, Issue{Type: cmd.Properties["type"], Message: cmd.Data})
		case cmd.Is("task", "setvariable"):
			if name := cmd.Properties["variable"]; name != "" {
				s.result.Variables[name] = cmd.Data
			}
		}
	}
	s.next.Output(line)
}

func (s taskSink) Trace(line string) { s.next.Trace(line) }

// RunTask runs a task plugin to completion. A task the plugin failed is a
// TaskResult with Failed() true, not an error.
func (s *Supervisor) RunTask(ctx context.Context, pluginID string, tc *protocol.TaskContext, sink Sink) (*TaskResult, error) {
	c, err := s.start(ctx, []string{string(protocol.ModeTask), pluginID}, tc)
	if err != nil {
		return nil, err
	}
	c.closeStdin()

	result := &TaskResult{Result: "Succeeded", Variables: map[string]string{}}
	if err := c.wait(taskSink{next: sink, result: result}); err != nil {
		return result, err
	}
	return result, nil
}

// RunCommand runs a command plugin. Anything the plugin wrote to stderr fails
// the command with a CommandError.
func (s *Supervisor) RunCommand(ctx context.Context, pluginID string, cc *protocol.CommandContext, sink Sink) error {
	c, err := s.start(ctx, []string{string(protocol.ModeCommand), pluginID}, cc)
	if err != nil {
		return err
	}
	c.closeStdin()

	if err := c.wait(sink); err != nil {
		return err
	}
	if stderr := c.stderr.String(); stderr != "" {
		return &CommandError{Stderr: stderr}
	}
	return nil
}
