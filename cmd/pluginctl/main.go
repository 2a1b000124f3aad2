// Command pluginctl drives the plugin host the way an agent would: it launches
// pluginhost, feeds it an execution context and job output, and relays what the
// plugins print.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/pluginhost/internal/config"
	"github.com/mattjoyce/pluginhost/internal/log"
	"github.com/mattjoyce/pluginhost/internal/protocol"
	"github.com/mattjoyce/pluginhost/internal/supervisor"
	"github.com/mattjoyce/pluginhost/internal/telemetry"
)

// Build-time variables (set via ldflags)
var version = "dev"

const traceFlushTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app is bound into every command's Run method.
type app struct {
	ctx    context.Context
	cfg    *config.Config
	sup    *supervisor.Supervisor
	vars   protocol.Variables
	stdout io.Writer
	logger *slog.Logger

	shutdown telemetry.ShutdownFunc
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("pluginctl"),
		kong.Description("Run plugins through the out-of-process plugin host."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kongVars(),
	)
	if err != nil {
		fmt.Fprintf(stderr, "pluginctl: %v\n", err)
		return 1
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "pluginctl: %v\n", err)
		return 1
	}

	rt, err := newApp(ctx, &cli, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "pluginctl: %v\n", err)
		return 1
	}
	defer rt.flushTraces()

	var span trace.Span
	rt.ctx, span = telemetry.Tracer().Start(rt.ctx, "pluginctl."+strings.Fields(kctx.Command())[0])
	defer span.End()

	if err := kctx.Run(rt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "command failed")
		rt.logger.Debug("command failed", "command", kctx.Command(), "error", err)
		fmt.Fprintf(stderr, "pluginctl: %v\n", err)
		return 1
	}
	return 0
}

// flushTraces gives the exporter a bounded chance to send, even after a signal.
func (rt *app) flushTraces() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(rt.ctx), traceFlushTimeout)
	defer cancel()
	if err := rt.shutdown(ctx); err != nil {
		rt.logger.Warn("trace flush failed", "error", err)
	}
}

func newApp(ctx context.Context, cli *CLI, stdout, stderr io.Writer) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if cli.Config != "" {
		cfg, err = config.Load(cli.Config)
	} else {
		cfg, err = config.LoadOrDefault(executableDir())
	}
	if err != nil {
		return nil, err
	}

	level := cfg.Service.LogLevel
	if cli.Verbose {
		level = "debug"
	}
	log.Setup(level, cfg.Service.LogFormat, stderr)

	vars, err := jobVariables(cli)
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Service.Tracing, "pluginctl")
	if err != nil {
		return nil, err
	}

	opts := supervisor.OptionsFromConfig(cfg.Supervisor)
	if cli.HostPath != "" {
		opts.HostPath = cli.HostPath
	}
	return &app{
		ctx:      ctx,
		cfg:      cfg,
		sup:      supervisor.New(opts),
		vars:     vars,
		stdout:   stdout,
		logger:   log.WithComponent("pluginctl"),
		shutdown: shutdown,
	}, nil
}

// jobVariables merges the dotenv file, --var and --secret, later sources winning.
func jobVariables(cli *CLI) (protocol.Variables, error) {
	vars := protocol.Variables{}
	if cli.EnvFile != "" {
		env, err := godotenv.Read(cli.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read env file: %w", err)
		}
		for k, v := range env {
			vars[k] = protocol.VariableValue{Value: v}
		}
	}
	for k, v := range cli.Var {
		vars[k] = protocol.VariableValue{Value: v}
	}
	for k, v := range cli.Secret {
		if strings.TrimSpace(k) == "" {
			return nil, errors.New("secret variable with empty name")
		}
		vars[k] = protocol.VariableValue{Value: v, IsSecret: true}
	}
	return vars, nil
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
