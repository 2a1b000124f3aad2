package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/mattjoyce/pluginhost/internal/host"
	"github.com/mattjoyce/pluginhost/internal/log"
	"github.com/mattjoyce/pluginhost/internal/plugin"
	"github.com/mattjoyce/pluginhost/internal/protocol"
	"github.com/mattjoyce/pluginhost/internal/telemetry"
	"github.com/mattjoyce/pluginhost/internal/transport"
)

const (
	ExitOK      = 0
	ExitFailure = 1
)

// Dispatcher routes one host process invocation to its protocol.
type Dispatcher struct {
	registry *plugin.Registry
	stdin    io.Reader
	stdout   *transport.LineWriter
	stderr   *transport.LineWriter
	opts     host.Options
	logger   *slog.Logger
}

// New creates a Dispatcher reading from stdin and writing to stdout and stderr.
func New(reg *plugin.Registry, stdin io.Reader, stdout, stderr io.Writer, opts host.Options) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		stdin:    stdin,
		stdout:   transport.NewLineWriter(stdout),
		stderr:   transport.NewLineWriter(stderr),
		opts:     opts,
		logger:   log.WithComponent("dispatch"),
	}
}

// Stdout is the writer shared with plugins, for callers that want to route
// their own logs through it.
func (d *Dispatcher) Stdout() *transport.LineWriter { return d.stdout }

// Run executes args (mode first) and returns the process exit code.
func (d *Dispatcher) Run(ctx context.Context, args []string) (code int) {
	defer func() {
		if rec := recover(); rec != nil {
			code = d.fail(fmt.Sprintf("unhandled panic: %v\n%s", rec, debug.Stack()))
		}
	}()

	if len(args) == 0 {
		return d.fail("missing mode (task, command, daemon or log)")
	}
	mode := protocol.Mode(strings.ToLower(strings.TrimSpace(args[0])))
	switch mode {
	case protocol.ModeTask, protocol.ModeCommand, protocol.ModeDaemon, protocol.ModeLog:
	default:
		return d.fail(fmt.Sprintf("unknown mode %q", args[0]))
	}

	lr := transport.NewLineReader(d.stdin)
	first, err := lr.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return d.fail("missing execution context on stdin")
		}
		return d.fail(fmt.Sprintf("read execution context: %v", err))
	}

	logger := d.logger.With("mode", string(mode))
	logger.Debug("dispatching", "args", args[1:])

	switch mode {
	case protocol.ModeTask:
		return d.runTask(ctx, args[1:], first)
	case protocol.ModeCommand:
		return d.runCommand(ctx, args[1:], first)
	default:
		return d.runLog(ctx, args[1:], first, lr)
	}
}

// fail reports an infrastructure failure on stderr.
func (d *Dispatcher) fail(msg string) int {
	d.logger.Error("dispatch failed", "error", msg)
	if err := d.stderr.WriteText(msg); err != nil {
		d.logger.Warn("failure report dropped", "error", err)
	}
	return ExitFailure
}

// trace writes msg to the agent trace, one marked line per line of msg.
func (d *Dispatcher) trace(msg string) {
	if err := d.stdout.WritePrefixed(protocol.TraceMarker, msg); err != nil {
		d.logger.Warn("trace dropped", "error", err)
	}
}

// pluginPanic carries the stack of a panic raised by plugin code.
type pluginPanic struct {
	value any
	stack []byte
}

func (p *pluginPanic) Error() string { return fmt.Sprintf("plugin panicked: %v", p.value) }

func callPlugin(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &pluginPanic{value: rec, stack: debug.Stack()}
		}
	}()
	return fn()
}

// debugDetail is what goes to the debug sink next to a reported error.
func debugDetail(err error) string {
	var pp *pluginPanic
	if errors.As(err, &pp) {
		return string(pp.stack)
	}
	var cp *plugin.ConstructionPanic
	if errors.As(err, &cp) {
		return string(cp.Stack)
	}
	return fmt.Sprintf("%+v", err)
}

func singlePluginID(args []string, mode protocol.Mode) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%s mode takes exactly one plugin id, got %d argument(s)", mode, len(args))
	}
	return strings.TrimSpace(args[0]), nil
}

func (d *Dispatcher) runTask(ctx context.Context, args []string, line string) int {
	id, err := singlePluginID(args, protocol.ModeTask)
	if err != nil {
		return d.fail(err.Error())
	}
	tc, err := protocol.DecodeTaskContext(line)
	if err != nil {
		return d.fail(err.Error())
	}
	c := plugin.NewTaskContext(tc, d.stdout)

	sctx, span := telemetry.StartPluginSpan(ctx, "run", id, 0)
	p, err := plugin.ResolveAs[plugin.TaskPlugin](d.registry, id)
	if err == nil {
		err = callPlugin(func() error { return p.Run(sctx, c) })
	}
	telemetry.EndPluginSpan(span, err)
	if err != nil {
		d.logger.Debug("task plugin failed", "plugin", id, "error", err)
		c.Error(err.Error())
		c.Debug(debugDetail(err))
	}
	return ExitOK
}

func (d *Dispatcher) runCommand(ctx context.Context, args []string, line string) int {
	id, err := singlePluginID(args, protocol.ModeCommand)
	if err != nil {
		return d.fail(err.Error())
	}
	cc, err := protocol.DecodeCommandContext(line)
	if err != nil {
		return d.fail(err.Error())
	}
	c := plugin.NewCommandContext(cc, d.stdout, d.stderr)

	sctx, span := telemetry.StartPluginSpan(ctx, "command", id, 0)
	p, err := plugin.ResolveAs[plugin.CommandPlugin](d.registry, id)
	if err == nil {
		err = callPlugin(func() error { return p.ProcessCommand(sctx, c) })
	}
	telemetry.EndPluginSpan(span, err)
	if err != nil {
		d.logger.Debug("command plugin failed", "plugin", id, "error", err)
		c.Error(err.Error())
		c.Debug(debugDetail(err))
	}
	return ExitOK
}

// dedupe keeps the first occurrence of every non-empty id.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (d *Dispatcher) resolveLogPlugins(ids []string) []plugin.Plugin {
	var plugins []plugin.Plugin
	for _, id := range ids {
		p, err := d.registry.Resolve(id)
		if err != nil {
			d.logger.Warn("plugin resolution failed", "plugin", id, "error", err)
			d.logger.Debug("plugin resolution detail", "plugin", id, "detail", debugDetail(err))
			d.trace(fmt.Sprintf("Unable to load plugin '%s': %v", id, err))
			continue
		}
		if !plugin.IsLogPlugin(p) {
			d.trace(fmt.Sprintf("Plugin '%s' (%T) cannot process job output, skipped.", id, p))
			continue
		}
		plugins = append(plugins, p)
	}
	return plugins
}

type readResult struct {
	line string
	err  error
}

// readLines feeds lr into a channel until the stream ends or stop is closed.
// The final value carries the terminating error (io.EOF on a clean end).
func readLines(lr *transport.LineReader, stop <-chan struct{}) <-chan readResult {
	ch := make(chan readResult)
	go func() {
		defer close(ch)
		for {
			line, err := lr.ReadLine()
			select {
			case ch <- readResult{line: line, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

func (d *Dispatcher) runLog(ctx context.Context, args []string, line string, lr *transport.LineReader) int {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return d.fail("log mode requires an instance id")
	}
	instanceID := strings.TrimSpace(args[0])

	hc, err := protocol.DecodeHostContext(line)
	if err != nil {
		return d.fail(err.Error())
	}

	hc.Variables[protocol.InstanceVariable] = protocol.VariableValue{Value: instanceID}

	logger := log.WithInstance(instanceID)
	plugins := d.resolveLogPlugins(dedupe(args[1:]))
	logger.Debug("log plugins resolved", "count", len(plugins))

	h, err := host.New(hc, d.stdout, plugins, d.opts)
	if err != nil {
		return d.fail(err.Error())
	}

	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx) }()

	stop := make(chan struct{})
	defer close(stop)
	lines := readLines(lr, stop)

	var failure string
read:
	for {
		select {
		case r, ok := <-lines:
			if !ok {
				failure = "stdin closed before the finish sentinel"
				break read
			}
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					failure = "stdin closed before the finish sentinel"
				} else {
					failure = r.err.Error()
				}
				break read
			}
			if r.line == "" {
				continue
			}
			if protocol.IsFinishSentinel(r.line, instanceID) {
				logger.Debug("finish sentinel received")
				break read
			}
			rec, err := protocol.DecodeJobOutput(r.line)
			if err != nil {
				d.trace(fmt.Sprintf("Skipping malformed job output line: %v", err))
				continue
			}
			h.Enqueue(rec)
		case <-ctx.Done():
			failure = fmt.Sprintf("cancelled before the finish sentinel: %v", ctx.Err())
			break read
		}
	}

	h.Finish()
	if err := <-runErr; err != nil {
		return d.fail(err.Error())
	}
	if failure != "" {
		return d.fail(failure)
	}
	return ExitOK
}
