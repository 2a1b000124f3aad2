// Command pluginhost is the out-of-process plugin host. The agent starts it as
//
//	pluginhost task <plugin-id>
//	pluginhost command <plugin-id>
//	pluginhost daemon|log <instance-id> <plugin-id>...
//
// and writes the execution context as the first line of stdin.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/pluginhost/internal/builtin"
	"github.com/mattjoyce/pluginhost/internal/config"
	"github.com/mattjoyce/pluginhost/internal/dispatch"
	"github.com/mattjoyce/pluginhost/internal/host"
	"github.com/mattjoyce/pluginhost/internal/log"
	"github.com/mattjoyce/pluginhost/internal/plugin"
	"github.com/mattjoyce/pluginhost/internal/telemetry"
	"github.com/mattjoyce/pluginhost/internal/transport"
)

const traceFlushTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], executableDir(), os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
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

func run(ctx context.Context, args []string, exeDir string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.LoadOrDefault(exeDir)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return dispatch.ExitFailure
	}

	// Logs share stdout with plugin output, framed as trace lines.
	out := transport.NewLineWriter(stdout)
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat, log.NewTraceWriter(out))

	reg := plugin.NewRegistry()
	if err := builtin.Register(reg, cfg); err != nil {
		fmt.Fprintf(stderr, "register builtin plugins: %v\n", err)
		return dispatch.ExitFailure
	}
	libs, err := plugin.NewLibraryLoader(cfg.Plugins.LibraryManifest)
	if err != nil {
		// A broken manifest only costs the co-located plugins.
		log.WithComponent("main").Warn("plugin library manifest ignored", "path", cfg.Plugins.LibraryManifest, "error", err)
	} else {
		reg.UseLibraries(libs)
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Service.Tracing, "pluginhost")
	if err != nil {
		fmt.Fprintf(stderr, "set up tracing: %v\n", err)
		return dispatch.ExitFailure
	}
	defer flushTraces(ctx, shutdown)

	d := dispatch.New(reg, stdin, out, stderr, host.OptionsFromConfig(cfg.Host))
	return d.Run(telemetry.FromEnv(ctx, os.Getenv), args)
}

// flushTraces gives the exporter a bounded chance to send, even after a signal.
func flushTraces(ctx context.Context, shutdown telemetry.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), traceFlushTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.WithComponent("main").Warn("trace flush failed", "error", err)
	}
}
