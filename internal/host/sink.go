package host

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/mattjoyce/pluginhost/internal/plugin"
	"github.com/mattjoyce/pluginhost/internal/protocol"
)

// sink adapts one dispatch granularity to the shared queue mechanics. process
// returns every error it hit; finalize also returns the finalize error itself.
type sink interface {
	process(ctx context.Context, lc *plugin.LogContext, batch []protocol.JobOutput) []error
	finalize(ctx context.Context, lc *plugin.LogContext, remaining []protocol.JobOutput) (processErrs []error, err error)
}

func newSink(p plugin.Plugin) (sink, error) {
	switch v := p.(type) {
	case plugin.BatchPlugin:
		return batchSink{p: v}, nil
	case plugin.LinePlugin:
		return lineSink{p: v}, nil
	default:
		return nil, fmt.Errorf("plugin %q (%T) cannot consume job output", p.FriendlyName(), p)
	}
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return fn()
}

type batchSink struct {
	p plugin.BatchPlugin
}

func (s batchSink) process(ctx context.Context, lc *plugin.LogContext, batch []protocol.JobOutput) []error {
	if err := guard(func() error { return s.p.Process(ctx, lc, batch) }); err != nil {
		return []error{err}
	}
	return nil
}

func (s batchSink) finalize(ctx context.Context, lc *plugin.LogContext, remaining []protocol.JobOutput) ([]error, error) {
	return nil, guard(func() error { return s.p.Finalize(ctx, lc, remaining) })
}

type lineSink struct {
	p plugin.LinePlugin
}

func (s lineSink) process(ctx context.Context, lc *plugin.LogContext, batch []protocol.JobOutput) []error {
	var errs []error
	for _, rec := range batch {
		step, err := lc.Step(rec.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := guard(func() error { return s.p.ProcessLine(ctx, lc, step, rec.Out) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// finalize feeds whatever is left one line at a time before the plugin's own
// Finalize, so line plugins see every record too.
func (s lineSink) finalize(ctx context.Context, lc *plugin.LogContext, remaining []protocol.JobOutput) ([]error, error) {
	errs := s.process(ctx, lc, remaining)
	return errs, guard(func() error { return s.p.Finalize(ctx, lc) })
}
