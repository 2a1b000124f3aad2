// Package main defines the pluginctl CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config   string            `help:"Config file path (default: $PLUGINHOST_CONFIG, then pluginhost.yaml next to pluginctl)" type:"path"`
	HostPath string            `help:"pluginhost binary (overrides supervisor.host_path)" env:"PLUGINHOST_PATH"`
	EnvFile  string            `help:"dotenv file whose entries become job variables" type:"path"`
	Var      map[string]string `short:"V" help:"Job variable key=value (repeatable)"`
	Secret   map[string]string `help:"Secret job variable key=value (repeatable)"`
	Verbose  bool              `short:"v" help:"Log plugin host traces to stderr"`

	Log     LogCmd     `cmd:"" help:"Replay a job log file through log plugins"`
	Daemon  DaemonCmd  `cmd:"" help:"Replay a job log file through daemon plugins"`
	Task    TaskCmd    `cmd:"" help:"Run a task plugin"`
	Command CommandCmd `cmd:"" help:"Run the command plugin for a logging command"`
	Plugins PluginsCmd `cmd:"" help:"List linked-in and co-located plugins"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// LogCmd replays a text file as job output in log mode.
type LogCmd struct {
	File    string   `arg:"" type:"existingfile" help:"Job log file; '##[section]Starting: <name>' lines start a new step"`
	Plugins []string `short:"p" help:"Plugin ids (default: plugins.log from config)"`
}

// DaemonCmd replays a text file as job output in daemon mode.
type DaemonCmd struct {
	File    string   `arg:"" type:"existingfile" help:"Job log file; '##[section]Starting: <name>' lines start a new step"`
	Plugins []string `short:"p" help:"Plugin ids (default: plugins.daemon from config)"`
}

// TaskCmd runs one task plugin.
type TaskCmd struct {
	Plugin string            `arg:"" help:"Task plugin id, or task id[@version] from the catalog"`
	Input  map[string]string `short:"i" help:"Task input key=value (repeatable)"`
}

// CommandCmd runs the plugin registered for a logging command.
type CommandCmd struct {
	Line     string            `arg:"" help:"'##vso[area.event k=v]data' or area.event"`
	Data     string            `arg:"" optional:"" help:"Command data when Line is area.event"`
	Property map[string]string `short:"p" help:"Command property key=value (repeatable)"`
}

// PluginsCmd lists plugins.
type PluginsCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}

func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
