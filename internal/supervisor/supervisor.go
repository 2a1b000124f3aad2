// Package supervisor is the parent side of the plugin host protocol. It spawns
// the host binary, writes the execution context and job output into its stdin,
// and relays everything the host prints back to a Sink.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/pluginhost/internal/config"
	"github.com/mattjoyce/pluginhost/internal/log"
	"github.com/mattjoyce/pluginhost/internal/protocol"
	"github.com/mattjoyce/pluginhost/internal/telemetry"
	"github.com/mattjoyce/pluginhost/internal/transport"
)

// Options controls how the host process is launched and drained.
type Options struct {
	// HostPath is the plugin host binary. Empty means pluginhost next to the
	// running executable.
	HostPath string
	WorkDir  string
	// Env is appended to the parent's environment.
	Env []string
	// DrainInterval is how often child output is relayed while waiting for exit.
	DrainInterval time.Duration
	// TerminationGrace is the time between SIGTERM and SIGKILL on cancellation.
	TerminationGrace time.Duration
	MaxStderrBytes   int
}

// OptionsFromConfig maps the supervisor section of the config file.
func OptionsFromConfig(c config.SupervisorConfig) Options {
	return Options{
		HostPath:         c.HostPath,
		WorkDir:          c.WorkDir,
		DrainInterval:    c.DrainInterval,
		TerminationGrace: c.TerminationGrace,
		MaxStderrBytes:   c.MaxStderrBytes,
	}
}

func (o Options) withDefaults() Options {
	d := config.Defaults().Supervisor
	if o.DrainInterval <= 0 {
		o.DrainInterval = d.DrainInterval
	}
	if o.TerminationGrace <= 0 {
		o.TerminationGrace = d.TerminationGrace
	}
	if o.MaxStderrBytes <= 0 {
		o.MaxStderrBytes = d.MaxStderrBytes
	}
	return o
}

// DefaultHostPath returns the pluginhost binary next to the running executable.
func DefaultHostPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	name := "pluginhost"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(exe), name), nil
}

// Supervisor launches plugin host processes.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	return &Supervisor{
		opts:   opts.withDefaults(),
		logger: log.WithComponent("supervisor"),
	}
}

// child is one running host process.
type child struct {
	opts   Options
	cmd    *exec.Cmd
	stdin  *transport.LineWriter
	closer io.Closer
	out    outputQueue
	stderr cappedBuffer
	logger *slog.Logger
	span   trace.Span

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
}

func (s *Supervisor) start(ctx context.Context, args []string, execCtx any) (*child, error) {
	hostPath := s.opts.HostPath
	if hostPath == "" {
		p, err := DefaultHostPath()
		if err != nil {
			return nil, err
		}
		hostPath = p
	}

	line, err := protocol.MarshalLine(execCtx)
	if err != nil {
		return nil, err
	}

	spanCtx, span := telemetry.Tracer().Start(ctx, "supervisor."+args[0])
	span.SetAttributes(attribute.StringSlice("host.args", args))

	// Not exec.CommandContext: termination is SIGTERM first, see watch.
	cmd := exec.Command(hostPath, args...)
	cmd.Dir = s.opts.WorkDir
	cmd.Env = append(os.Environ(), s.opts.Env...)
	cmd.Env = append(cmd.Env, telemetry.Env(spanCtx)...)

	stdin, stdout, stderr, err := pipes(cmd)
	if err != nil {
		span.RecordError(err)
		span.End()
		return nil, err
	}

	c := &child{
		opts:   s.opts,
		cmd:    cmd,
		stdin:  transport.NewLineWriter(stdin),
		closer: stdin,
		stderr: cappedBuffer{max: s.opts.MaxStderrBytes},
		logger: s.logger.With("mode", args[0]),
		span:   span,
		exited: make(chan struct{}),
	}

	c.logger.Debug("spawning plugin host", "path", hostPath, "args", args)
	if err := cmd.Start(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plugin host did not start")
		span.End()
		return nil, fmt.Errorf("start plugin host: %w", err)
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		if err := transport.Pump(stdout, func(l string) { c.out.push(l) }); err != nil {
			c.logger.Warn("stdout relay failed", "error", err)
		}
	}()
	go func() {
		defer pumps.Done()
		if err := transport.Pump(stderr, func(l string) {
			c.stderr.addLine(l)
			c.out.push(l)
		}); err != nil {
			c.logger.Warn("stderr relay failed", "error", err)
		}
	}()
	go func() {
		// Wait only after both pipes are fully read.
		pumps.Wait()
		c.waitErr = cmd.Wait()
		close(c.exited)
	}()
	go c.watch(ctx)

	if err := c.stdin.WriteLine(line); err != nil {
		c.logger.Warn("failed to write execution context", "error", err)
	}
	return c, nil
}

func pipes(cmd *exec.Cmd) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	return stdin, stdout, stderr, nil
}

// watch terminates the child when ctx is cancelled: SIGTERM, then SIGKILL after
// the grace period.
func (c *child) watch(ctx context.Context) {
	select {
	case <-c.exited:
		return
	case <-ctx.Done():
	}

	c.logger.Warn("cancelled, sending SIGTERM to plugin host")
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		c.logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(c.opts.TerminationGrace)
	defer grace.Stop()
	select {
	case <-c.exited:
		c.logger.Info("plugin host exited after SIGTERM")
	case <-grace.C:
		c.logger.Warn("plugin host did not exit after SIGTERM, sending SIGKILL")
		if err := c.cmd.Process.Kill(); err != nil {
			c.logger.Error("failed to send SIGKILL", "error", err)
		}
	}
}

func (c *child) closeStdin() {
	c.closeOnce.Do(func() { _ = c.closer.Close() })
}

// drain relays everything queued so far.
func (c *child) drain(sink Sink) {
	for _, l := range c.out.take() {
		relay(sink, l)
	}
}

// wait relays output every DrainInterval until the child exits, then reports
// the exit status.
func (c *child) wait(sink Sink) error {
	defer c.span.End()

	ticker := time.NewTicker(c.opts.DrainInterval)
	defer ticker.Stop()
	for {
		c.drain(sink)
		select {
		case <-c.exited:
			c.drain(sink)
			err := c.exitResult()
			if err != nil {
				c.span.RecordError(err)
				c.span.SetStatus(codes.Error, "plugin host failed")
			}
			return err
		case <-ticker.C:
		}
	}
}

func (c *child) exitResult() error {
	if c.waitErr == nil {
		c.span.SetAttributes(attribute.Int("host.exit_code", 0))
		return nil
	}
	var ee *exec.ExitError
	if errors.As(c.waitErr, &ee) {
		c.span.SetAttributes(attribute.Int("host.exit_code", ee.ExitCode()))
		c.logger.Warn("plugin host exited with non-zero status", "exit_code", ee.ExitCode())
		return &ExitError{Code: ee.ExitCode(), Stderr: c.stderr.String()}
	}
	return fmt.Errorf("wait for plugin host: %w", c.waitErr)
}
