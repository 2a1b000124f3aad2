package plugin

import (
	"fmt"
	"strings"
)

// TaskInfo lists the plugin ids that implement one task version, by stage.
type TaskInfo struct {
	PreJob  string
	Main    string
	PostJob string
}

// CommandInfo names the plugin that handles a logging command.
type CommandInfo struct {
	PluginID    string
	DisplayName string
}

// Catalog indexes linked-in plugins so a task reference or a logging command can be
// turned into the plugin id to launch. Lookups ignore case.
type Catalog struct {
	tasks    map[string]TaskInfo
	commands map[string]CommandInfo
}

func taskKey(id, version string) string {
	return strings.ToLower(id) + "@" + strings.ToLower(version)
}

func commandKey(area, event string) string {
	return strings.ToLower(area) + "." + strings.ToLower(event)
}

// BuildCatalog instantiates every registered plugin once and indexes those that
// carry task or command metadata. Two plugins claiming the same slot is an error.
func BuildCatalog(r *Registry) (*Catalog, error) {
	c := &Catalog{
		tasks:    make(map[string]TaskInfo),
		commands: make(map[string]CommandInfo),
	}

	for _, id := range r.IDs() {
		p, err := r.Resolve(id)
		if err != nil {
			return nil, err
		}

		if tm, ok := p.(TaskMetadata); ok {
			if _, isTask := p.(TaskPlugin); !isTask {
				return nil, fmt.Errorf("plugin %q has task metadata but is not a task plugin", id)
			}
			key := taskKey(tm.TaskID(), tm.TaskVersion())
			info := c.tasks[key]
			var slot *string
			switch tm.Stage() {
			case StagePre:
				slot = &info.PreJob
			case StageMain:
				slot = &info.Main
			case StagePost:
				slot = &info.PostJob
			default:
				return nil, fmt.Errorf("plugin %q: unknown stage %q", id, tm.Stage())
			}
			if *slot != "" {
				return nil, fmt.Errorf("task %s %s stage %s is claimed by %q and %q", tm.TaskID(), tm.TaskVersion(), tm.Stage(), *slot, id)
			}
			*slot = id
			c.tasks[key] = info
		}

		if cm, ok := p.(CommandMetadata); ok {
			if _, isCmd := p.(CommandPlugin); !isCmd {
				return nil, fmt.Errorf("plugin %q has command metadata but is not a command plugin", id)
			}
			key := commandKey(cm.Area(), cm.Event())
			if prev, dup := c.commands[key]; dup {
				return nil, fmt.Errorf("command %s is claimed by %q and %q", key, prev.PluginID, id)
			}
			c.commands[key] = CommandInfo{PluginID: id, DisplayName: p.FriendlyName()}
		}
	}
	return c, nil
}

// Task looks up the plugins for a task version.
func (c *Catalog) Task(taskID, version string) (TaskInfo, bool) {
	info, ok := c.tasks[taskKey(taskID, version)]
	return info, ok
}

// Command looks up the plugin handling ##vso[area.event].
func (c *Catalog) Command(area, event string) (CommandInfo, bool) {
	info, ok := c.commands[commandKey(area, event)]
	return info, ok
}
