package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/pluginhost/internal/log"
	"github.com/mattjoyce/pluginhost/internal/protocol"
	"github.com/mattjoyce/pluginhost/internal/transport"
)

// ErrUnknownStep is returned when a Job Output Record names a step the host context
// does not know. The parent must send every step up front, so this is a contract
// violation by the sender.
var ErrUnknownStep = errors.New("unknown step")

// writeLines frames msg one line at a time with prefix in front of each.
// A broken stdout means the parent is gone, so the failure is only logged.
func writeLines(w *transport.LineWriter, prefix, msg string) {
	if err := w.WritePrefixed(prefix, msg); err != nil {
		log.WithComponent("plugin").Warn("plugin output dropped", "error", err)
	}
}

// LogContext is what batch and line plugins see. One is created per plugin so
// Output can be attributed.
type LogContext struct {
	name string
	host *protocol.HostContext
	out  *transport.LineWriter
}

// NewLogContext builds the context for the plugin called name.
func NewLogContext(name string, hc *protocol.HostContext, out *transport.LineWriter) *LogContext {
	return &LogContext{name: name, host: hc, out: out}
}

// Name is the plugin's friendly name.
func (c *LogContext) Name() string { return c.name }

// Variables returns all job variables, secrets included.
func (c *LogContext) Variables() protocol.Variables { return c.host.Variables }

// Endpoints returns the job's service endpoints.
func (c *LogContext) Endpoints() []protocol.ServiceEndpoint { return c.host.Endpoints }

// Repositories returns the job's repository resources.
func (c *LogContext) Repositories() []protocol.RepositoryResource { return c.host.Repositories }

// Endpoint finds an endpoint by name, ignoring case.
func (c *LogContext) Endpoint(name string) (protocol.ServiceEndpoint, bool) {
	for _, e := range c.host.Endpoints {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return protocol.ServiceEndpoint{}, false
}

// Steps returns every step of the job ordered by name.
func (c *LogContext) Steps() []protocol.StepReference {
	out := make([]protocol.StepReference, 0, len(c.host.Steps))
	for _, s := range c.host.Steps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Step resolves the step of a Job Output Record.
func (c *LogContext) Step(id uuid.UUID) (protocol.StepReference, error) {
	s, ok := c.host.Step(id)
	if !ok {
		return protocol.StepReference{}, fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	return s, nil
}

// Trace writes to the agent trace. It never shows up in the job log.
func (c *LogContext) Trace(msg string) {
	writeLines(c.out, protocol.TraceMarker, msg)
}

// Output writes to the job log, prefixed with the plugin name.
func (c *LogContext) Output(msg string) {
	writeLines(c.out, c.name+": ", msg)
}

// Warning writes a warning to the job log.
func (c *LogContext) Warning(msg string) {
	writeLines(c.out, "##[warning]"+c.name+": ", msg)
}

// TaskContext is what task plugins see. Failures are reported through it with
// logging commands so the agent can fail the task while the host exits 0.
type TaskContext struct {
	*protocol.TaskContext
	out *transport.LineWriter
}

// NewTaskContext wraps the decoded task context.
func NewTaskContext(tc *protocol.TaskContext, out *transport.LineWriter) *TaskContext {
	return &TaskContext{TaskContext: tc, out: out}
}

// Variable looks in the task variables first, then the job variables.
func (c *TaskContext) Variable(name string) (string, bool) {
	if v, ok := c.TaskVariables.Get(name); ok {
		return v, true
	}
	return c.Variables.Get(name)
}

// Input returns a task input. A required input that is missing or blank is an error.
func (c *TaskContext) Input(name string, required bool) (string, error) {
	v := strings.TrimSpace(c.Inputs[name])
	if v == "" {
		for k, val := range c.Inputs {
			if strings.EqualFold(k, name) {
				v = strings.TrimSpace(val)
				break
			}
		}
	}
	if v == "" && required {
		return "", fmt.Errorf("input required: %s", name)
	}
	return v, nil
}

// Output writes to the job log.
func (c *TaskContext) Output(msg string) {
	writeLines(c.out, "", msg)
}

// Debug writes only when the job runs with system.debug=true.
func (c *TaskContext) Debug(msg string) {
	if c.Variables.Bool("system.debug") {
		writeLines(c.out, "##[debug]", msg)
	}
}

// Warning records a warning issue on the task.
func (c *TaskContext) Warning(msg string) {
	writeLines(c.out, "", protocol.Command{
		Area: "task", Event: "logissue",
		Properties: map[string]string{"type": "warning"},
		Data:       msg,
	}.String())
}

// Error records an error issue and marks the task failed.
func (c *TaskContext) Error(msg string) {
	writeLines(c.out, "", protocol.Command{
		Area: "task", Event: "logissue",
		Properties: map[string]string{"type": "error"},
		Data:       msg,
	}.String())
	writeLines(c.out, "", protocol.Command{
		Area: "task", Event: "complete",
		Properties: map[string]string{"result": "Failed"},
	}.String())
}

// SetVariable asks the agent to set a job variable.
func (c *TaskContext) SetVariable(name, value string, secret bool) {
	props := map[string]string{"variable": name}
	if secret {
		props["issecret"] = "true"
	}
	writeLines(c.out, "", protocol.Command{
		Area: "task", Event: "setvariable",
		Properties: props,
		Data:       value,
	}.String())
}

// CommandContext is what command plugins see. Anything written to stderr fails the
// command on the agent side, so Error is the only sink that goes there.
type CommandContext struct {
	*protocol.CommandContext
	out    *transport.LineWriter
	errOut *transport.LineWriter
}

// NewCommandContext wraps the decoded command context.
func NewCommandContext(cc *protocol.CommandContext, out, errOut *transport.LineWriter) *CommandContext {
	return &CommandContext{CommandContext: cc, out: out, errOut: errOut}
}

// Output writes to the job log.
func (c *CommandContext) Output(msg string) {
	writeLines(c.out, "", msg)
}

// Debug writes only when the job runs with system.debug=true.
func (c *CommandContext) Debug(msg string) {
	if c.Variables.Bool("system.debug") {
		writeLines(c.out, "##[debug]", msg)
	}
}

// Error fails the command.
func (c *CommandContext) Error(msg string) {
	writeLines(c.errOut, "", msg)
}
