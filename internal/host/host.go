// Package host fans one stream of job output records out to every loaded log
// plugin. Each plugin gets its own queue and worker loop. The loop polls at an
// interval that shortens while the queue is deep and relaxes once it is drained.
// When the job finishes, the loops stop and every plugin is finalized in parallel
// with whatever it had not processed yet.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/pluginhost/internal/log"
	"github.com/mattjoyce/pluginhost/internal/plugin"
	"github.com/mattjoyce/pluginhost/internal/protocol"
	"github.com/mattjoyce/pluginhost/internal/telemetry"
	"github.com/mattjoyce/pluginhost/internal/transport"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("host already running")

type worker struct {
	name  string
	sink  sink
	lc    *plugin.LogContext
	queue Queue

	// interval is written by Enqueue and by the loop; last write wins.
	interval atomic.Int64

	errMu     sync.Mutex
	errs      []error
	errTotal  int
	maxErrors int
}

func (w *worker) sleepInterval() time.Duration {
	return time.Duration(w.interval.Load())
}

func (w *worker) recordErrors(errs []error) {
	if len(errs) == 0 {
		return
	}
	w.errMu.Lock()
	defer w.errMu.Unlock()
	for _, err := range errs {
		w.errTotal++
		if w.maxErrors > 0 && len(w.errs) < w.maxErrors {
			w.errs = append(w.errs, err)
		}
	}
}

func (w *worker) reportedErrors() ([]error, int) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return append([]error(nil), w.errs...), w.errTotal
}

// Host is the fan-out scheduler for one job.
type Host struct {
	opts    Options
	out     *transport.LineWriter
	workers []*worker
	logger  *slog.Logger

	finished   chan struct{}
	finishOnce sync.Once
	running    atomic.Bool
}

// New builds a host for plugins. Every plugin must be a batch or line plugin.
// All plugins share hc and write to out.
func New(hc *protocol.HostContext, out *transport.LineWriter, plugins []plugin.Plugin, opts Options) (*Host, error) {
	if hc == nil {
		return nil, fmt.Errorf("host context is nil")
	}
	opts = opts.withDefaults()
	h := &Host{
		opts:     opts,
		out:      out,
		logger:   log.WithComponent("host"),
		finished: make(chan struct{}),
	}
	for _, p := range plugins {
		s, err := newSink(p)
		if err != nil {
			return nil, err
		}
		name := p.FriendlyName()
		w := &worker{
			name:      name,
			sink:      s,
			lc:        plugin.NewLogContext(name, hc, out),
			maxErrors: opts.MaxReportedErrors,
		}
		w.interval.Store(int64(opts.BaselineInterval))
		h.workers = append(h.workers, w)
	}
	return h, nil
}

// Len reports how many plugins the host drives.
func (h *Host) Len() int { return len(h.workers) }

// Enqueue broadcasts rec to every plugin's queue. Records without text are
// dropped. A queue pushed past the high-water mark switches its plugin to the
// fast interval.
func (h *Host) Enqueue(rec protocol.JobOutput) {
	if rec.Out == "" {
		return
	}
	for _, w := range h.workers {
		if w.queue.Push(rec) > h.opts.HighWaterMark {
			w.interval.Store(int64(h.opts.FastInterval))
		}
	}
}

// Finish signals that the job is done. Only the first call has an effect.
func (h *Host) Finish() {
	h.finishOnce.Do(func() { close(h.finished) })
}

// Finished is closed once Finish has been called.
func (h *Host) Finished() <-chan struct{} {
	return h.finished
}

func (h *Host) trace(msg string) {
	if err := h.out.WritePrefixed(protocol.TraceMarker, msg); err != nil {
		h.logger.Warn("trace dropped", "error", err)
	}
}

// Run drives the worker loops until Finish is called or ctx is done, then
// drains and finalizes every plugin. Plugin failures are reported through the
// plugins' own output and never returned.
func (h *Host) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	stopCtx, stop := context.WithCancel(context.Background())
	defer stop()

	var wg sync.WaitGroup
	for _, w := range h.workers {
		w.lc.Trace(fmt.Sprintf("Start process task for plugin '%s'", w.name))
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			h.loop(ctx, stopCtx, w)
		}(w)
	}

	select {
	case <-h.finished:
	case <-ctx.Done():
		h.logger.Warn("context done before job finished; finalizing", "error", ctx.Err())
	}

	stop()
	wg.Wait()
	h.trace("Stop process task for all plugins")

	for _, w := range h.workers {
		if n := w.queue.Len(); n > 0 {
			w.lc.Output(fmt.Sprintf("Pending process %d log lines.", n))
		}
	}

	// Finalize gets its own chance even when the job was cancelled.
	fctx := context.WithoutCancel(ctx)
	var fwg sync.WaitGroup
	for _, w := range h.workers {
		fwg.Add(1)
		go func(w *worker) {
			defer fwg.Done()
			h.finalize(fctx, w)
		}(w)
	}
	fwg.Wait()
	return nil
}

// loop is one plugin's steady-state worker. ctx is passed to the plugin; stop
// ends the loop.
func (h *Host) loop(ctx, stop context.Context, w *worker) {
	defer w.lc.Trace(fmt.Sprintf("Plugin '%s' finished log process.", w.name))

	for {
		if stop.Err() != nil {
			return
		}
		d := h.drainOnce(ctx, w)

		t := time.NewTimer(d)
		select {
		case <-stop.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// drainOnce hands at most one batch to the plugin and returns how long to sleep
// before the next drain.
func (h *Host) drainOnce(ctx context.Context, w *worker) time.Duration {
	batch := w.queue.Drain(h.opts.BatchSize)
	if len(batch) > 0 {
		pctx, span := telemetry.StartPluginSpan(ctx, "process", w.name, len(batch))
		errs := w.sink.process(pctx, w.lc, batch)
		telemetry.EndPluginSpan(span, errs...)
		if len(errs) > 0 {
			h.logger.Debug("plugin failed to process output", "plugin", w.name, "errors", len(errs), "error", errs[0])
		}
		w.recordErrors(errs)
	}
	if len(batch) < h.opts.BatchSize {
		w.interval.Store(int64(h.opts.BaselineInterval))
	}
	return w.sleepInterval()
}

func (h *Host) finalize(ctx context.Context, w *worker) {
	w.lc.Trace(fmt.Sprintf("Start finalize for plugin '%s'", w.name))

	remaining := w.queue.DrainAll()
	fctx, span := telemetry.StartPluginSpan(ctx, "finalize", w.name, len(remaining))
	procErrs, err := w.sink.finalize(fctx, w.lc, remaining)
	telemetry.EndPluginSpan(span, append(procErrs, err)...)
	w.recordErrors(procErrs)

	if err != nil {
		h.logger.Debug("plugin finalize failed", "plugin", w.name, "error", err)
		w.lc.Output(fmt.Sprintf("Plugin '%s' failed with: %v", w.name, err))
	}

	errs, total := w.reportedErrors()
	for _, e := range errs {
		w.lc.Output(fmt.Sprintf("Plugin '%s' fail to process output: %v", w.name, e))
	}
	if total > len(errs) {
		w.lc.Trace(fmt.Sprintf("Plugin '%s' hit %d processing errors, %d reported.", w.name, total, len(errs)))
	}

	w.lc.Trace(fmt.Sprintf("Plugin '%s' finished job finalize.", w.name))
}
