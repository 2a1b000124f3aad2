package protocol

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Mode is the first argument of the plugin host process and selects the execution protocol.
type Mode string

const (
	ModeTask    Mode = "task"
	ModeCommand Mode = "command"
	ModeDaemon  Mode = "daemon"
	ModeLog     Mode = "log"
)

// JobOutput is one line of job output tagged with the step that produced it.
type JobOutput struct {
	ID  uuid.UUID `json:"id"`
	Out string    `json:"out"`
}

// VariableValue is a job variable. Secret values come from the job's private variable set.
type VariableValue struct {
	Value    string `json:"value"`
	IsSecret bool   `json:"isSecret,omitempty"`
}

// Variables maps variable names to values.
type Variables map[string]VariableValue

// Get looks a variable up by exact name, then case-insensitively.
func (v Variables) Get(name string) (string, bool) {
	if val, ok := v[name]; ok {
		return val.Value, true
	}
	for k, val := range v {
		if strings.EqualFold(k, name) {
			return val.Value, true
		}
	}
	return "", false
}

// Bool reports whether the named variable parses as true.
func (v Variables) Bool(name string) bool {
	raw, ok := v.Get(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && b
}

// Public returns the non-secret variables as plain strings.
func (v Variables) Public() map[string]string {
	out := make(map[string]string, len(v))
	for k, val := range v {
		if !val.IsSecret {
			out[k] = val.Value
		}
	}
	return out
}

// EndpointAuthorization carries the scheme and parameters of a service endpoint.
type EndpointAuthorization struct {
	Scheme     string            `json:"scheme"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ServiceEndpoint is a named remote connection descriptor.
type ServiceEndpoint struct {
	ID            uuid.UUID              `json:"id"`
	Name          string                 `json:"name"`
	Type          string                 `json:"type"`
	URL           string                 `json:"url"`
	Authorization *EndpointAuthorization `json:"authorization,omitempty"`
	Data          map[string]string      `json:"data,omitempty"`
}

// RepositoryResource describes a repository the job works with.
type RepositoryResource struct {
	Alias      string            `json:"alias"`
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type"`
	URL        string            `json:"url,omitempty"`
	Version    string            `json:"version,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// StepReference identifies the task behind a job step.
type StepReference struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Version string    `json:"version,omitempty"`
}

// InstanceVariable is set by the host in log and daemon modes to the instance id
// it was started with.
const InstanceVariable = "pluginhost.instanceid"

// HostContext is sent as the first stdin line in daemon and log modes.
type HostContext struct {
	Endpoints    []ServiceEndpoint           `json:"endpoints"`
	Repositories []RepositoryResource        `json:"repositories"`
	Variables    Variables                   `json:"variables"`
	Steps        map[uuid.UUID]StepReference `json:"steps"`
}

// Step resolves a Job Output Record's step id.
func (c *HostContext) Step(id uuid.UUID) (StepReference, bool) {
	s, ok := c.Steps[id]
	return s, ok
}

// TaskContext is sent as the first stdin line in task mode.
type TaskContext struct {
	Inputs        map[string]string    `json:"inputs"`
	Variables     Variables            `json:"variables"`
	TaskVariables Variables            `json:"taskVariables,omitempty"`
	Endpoints     []ServiceEndpoint    `json:"endpoints"`
	Repositories  []RepositoryResource `json:"repositories"`
}

// CommandContext is sent as the first stdin line in command mode.
type CommandContext struct {
	Data       string            `json:"data"`
	Properties map[string]string `json:"properties"`
	Variables  Variables         `json:"variables"`
	Endpoints  []ServiceEndpoint `json:"endpoints"`
}

func (c *HostContext) normalize() {
	if c.Variables == nil {
		c.Variables = Variables{}
	}
	if c.Steps == nil {
		c.Steps = map[uuid.UUID]StepReference{}
	}
}

func (c *TaskContext) normalize() {
	if c.Inputs == nil {
		c.Inputs = map[string]string{}
	}
	if c.Variables == nil {
		c.Variables = Variables{}
	}
	if c.TaskVariables == nil {
		c.TaskVariables = Variables{}
	}
}

func (c *CommandContext) normalize() {
	if c.Properties == nil {
		c.Properties = map[string]string{}
	}
	if c.Variables == nil {
		c.Variables = Variables{}
	}
}
