package supervisor

import "fmt"

// ExitError is returned when the plugin host exits non-zero. That is a failure of
// the host itself, not of a plugin.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("plugin host exited with code %d", e.Code)
	}
	return fmt.Sprintf("plugin host exited with code %d: %s", e.Code, e.Stderr)
}

// CommandError is returned when a command plugin wrote to stderr.
type CommandError struct {
	Stderr string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command plugin failed: %s", e.Stderr)
}
