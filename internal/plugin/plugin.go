// Package plugin defines the capabilities extension code implements, the
// contexts the host hands to it, and the registry that turns a plugin id from
// the command line into a live instance.
package plugin

import (
	"context"

	"github.com/mattjoyce/pluginhost/internal/protocol"
)

// Plugin is the common surface of every plugin. FriendlyName is only used in logs
// and job output.
type Plugin interface {
	FriendlyName() string
}

// TaskPlugin runs as a pipeline task (`task` mode).
type TaskPlugin interface {
	Plugin
	Run(ctx context.Context, tc *TaskContext) error
}

// CommandPlugin handles one `##vso[area.event]` logging command (`command` mode).
type CommandPlugin interface {
	Plugin
	ProcessCommand(ctx context.Context, cc *CommandContext) error
}

//go:generate mockgen -destination=mocks/mock_plugin.go -package=mocks github.com/mattjoyce/pluginhost/internal/plugin BatchPlugin,LinePlugin

// BatchPlugin consumes job output in batches (`daemon` and `log` modes).
// Finalize receives whatever was still queued when the job finished.
type BatchPlugin interface {
	Plugin
	Process(ctx context.Context, lc *LogContext, batch []protocol.JobOutput) error
	Finalize(ctx context.Context, lc *LogContext, remaining []protocol.JobOutput) error
}

// LinePlugin consumes job output one line at a time (`daemon` and `log` modes).
type LinePlugin interface {
	Plugin
	ProcessLine(ctx context.Context, lc *LogContext, step protocol.StepReference, line string) error
	Finalize(ctx context.Context, lc *LogContext) error
}

// Stage is the job phase a task plugin runs in.
type Stage string

const (
	StagePre  Stage = "pre"
	StageMain Stage = "main"
	StagePost Stage = "post"
)

// TaskMetadata is implemented by task plugins that can be looked up from a
// task reference.
type TaskMetadata interface {
	TaskID() string
	TaskVersion() string
	Stage() Stage
}

// CommandMetadata is implemented by command plugins that handle a logging command.
type CommandMetadata interface {
	Area() string
	Event() string
}

// IsLogPlugin reports whether p can be driven by the output fan-out.
func IsLogPlugin(p Plugin) bool {
	switch p.(type) {
	case BatchPlugin, LinePlugin:
		return true
	}
	return false
}
