package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mattjoyce/pluginhost/internal/builtin"
	"github.com/mattjoyce/pluginhost/internal/plugin"
	"github.com/mattjoyce/pluginhost/internal/protocol"
	"github.com/mattjoyce/pluginhost/internal/supervisor"
)

// drainEvery is how many records are written between relays of host output.
const drainEvery = 100

func (c *LogCmd) Run(rt *app) error {
	return rt.replay(protocol.ModeLog, c.File, pluginIDs(c.Plugins, rt.cfg.Plugins.Log))
}

func (c *DaemonCmd) Run(rt *app) error {
	return rt.replay(protocol.ModeDaemon, c.File, pluginIDs(c.Plugins, rt.cfg.Plugins.Daemon))
}

func pluginIDs(flag, configured []string) []string {
	if len(flag) > 0 {
		return flag
	}
	return configured
}

func (rt *app) replay(mode protocol.Mode, file string, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("no %s plugins given and none configured", mode)
	}
	jl, err := readJobLog(file)
	if err != nil {
		return err
	}

	hc := &protocol.HostContext{Variables: rt.vars, Steps: jl.steps}
	h, err := rt.sup.StartLogHost(rt.ctx, mode, ids, hc)
	if err != nil {
		return err
	}
	logger := rt.logger.With("instance_id", h.InstanceID())
	logger.Info("replaying job log", "file", file, "records", len(jl.records), "steps", len(jl.steps))

	sink := supervisor.NewWriterSink(rt.stdout, logger)
	for i, rec := range jl.records {
		if err := h.Write(rec.ID, rec.Out); err != nil {
			// The host is gone; Wait reports why.
			logger.Warn("stopped writing job output", "error", err, "written", i)
			break
		}
		if i%drainEvery == 0 {
			h.Drain(sink)
		}
	}
	return h.Wait(sink)
}

// registry returns the linked-in plugins, the same set pluginhost registers.
func (rt *app) registry() (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	if err := builtin.Register(reg, rt.cfg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (c *TaskCmd) Run(rt *app) error {
	id, err := rt.taskPluginID(c.Plugin)
	if err != nil {
		return err
	}

	tc := &protocol.TaskContext{Inputs: c.Input, Variables: rt.vars}
	result, err := rt.sup.RunTask(rt.ctx, id, tc, supervisor.NewWriterSink(rt.stdout, rt.logger))
	if err != nil {
		return err
	}

	names := make([]string, 0, len(result.Variables))
	for name := range result.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(rt.stdout, "Variable %s = %s\n", name, result.Variables[name])
	}
	fmt.Fprintf(rt.stdout, "Task result: %s\n", result.Result)
	if result.Failed() {
		return fmt.Errorf("task %s failed", id)
	}
	return nil
}

// taskPluginID maps task-id@version to the main-stage plugin from the catalog.
// Anything else is taken as a plugin id.
func (rt *app) taskPluginID(ref string) (string, error) {
	taskID, version, ok := strings.Cut(ref, "@")
	if !ok {
		return ref, nil
	}
	reg, err := rt.registry()
	if err != nil {
		return "", err
	}
	cat, err := plugin.BuildCatalog(reg)
	if err != nil {
		return "", err
	}
	info, found := cat.Task(taskID, version)
	if !found || info.Main == "" {
		return "", fmt.Errorf("no plugin runs task %s", ref)
	}
	return info.Main, nil
}

func (c *CommandCmd) Run(rt *app) error {
	cmd, err := c.parse()
	if err != nil {
		return err
	}
	reg, err := rt.registry()
	if err != nil {
		return err
	}
	cat, err := plugin.BuildCatalog(reg)
	if err != nil {
		return err
	}
	info, ok := cat.Command(cmd.Area, cmd.Event)
	if !ok {
		return fmt.Errorf("no plugin handles ##vso[%s.%s]", cmd.Area, cmd.Event)
	}

	cc := &protocol.CommandContext{Data: cmd.Data, Properties: cmd.Properties, Variables: rt.vars}
	return rt.sup.RunCommand(rt.ctx, info.PluginID, cc, supervisor.NewWriterSink(rt.stdout, rt.logger))
}

func (c *CommandCmd) parse() (protocol.Command, error) {
	if strings.HasPrefix(strings.TrimSpace(c.Line), "##vso[") {
		cmd, ok := protocol.ParseCommand(c.Line)
		if !ok {
			return protocol.Command{}, fmt.Errorf("malformed logging command %q", c.Line)
		}
		return cmd, nil
	}
	area, event, ok := strings.Cut(c.Line, ".")
	if !ok || area == "" || event == "" {
		return protocol.Command{}, errors.New("command must be area.event or a ##vso[...] line")
	}
	props := c.Property
	if props == nil {
		props = map[string]string{}
	}
	return protocol.Command{Area: area, Event: event, Properties: props, Data: c.Data}, nil
}

func (c *PluginsCmd) Run(rt *app) error {
	reg, err := rt.registry()
	if err != nil {
		return err
	}
	for _, id := range reg.IDs() {
		p, err := reg.Resolve(id)
		if err != nil {
			fmt.Fprintf(rt.stdout, "%-16s error: %v\n", id, err)
			continue
		}
		fmt.Fprintf(rt.stdout, "%-16s %-22s %s\n", id, p.FriendlyName(), describe(p))
	}

	manifest := rt.cfg.Plugins.LibraryManifest
	if manifest == "" {
		return nil
	}
	m, err := plugin.LoadLibraryManifest(manifest)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range m.Plugins {
		fmt.Fprintf(rt.stdout, "%-16s %-22s library %s (%s)\n", e.ID, "", e.Library, e.Symbol)
	}
	return nil
}

func describe(p plugin.Plugin) string {
	var kinds []string
	if t, ok := p.(plugin.TaskMetadata); ok {
		kinds = append(kinds, fmt.Sprintf("task %s@%s (%s)", t.TaskID(), t.TaskVersion(), t.Stage()))
	}
	if c, ok := p.(plugin.CommandMetadata); ok {
		kinds = append(kinds, fmt.Sprintf("command ##vso[%s.%s]", c.Area(), c.Event()))
	}
	switch p.(type) {
	case plugin.BatchPlugin:
		kinds = append(kinds, "log (batch)")
	case plugin.LinePlugin:
		kinds = append(kinds, "log (line)")
	}
	return strings.Join(kinds, ", ")
}

func (c *VersionCmd) Run(rt *app) error {
	fmt.Fprintf(rt.stdout, "pluginctl version %s\n", version)
	return nil
}
