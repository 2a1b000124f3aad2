// Package dispatch is the entry point of the plugin host child process.
//
// The first argument selects the protocol and the first stdin line carries the
// execution context for it:
//
//   - task <pluginId>: run one task plugin against a task context
//   - command <pluginId>: let one command plugin process a logging command
//   - daemon|log <instanceId> [<pluginId> ...]: fan job output out to log plugins
//     until the finish sentinel for instanceId arrives
//
// Exit codes:
//   - 0: the dispatcher ran to completion. Plugin failures are reported through
//     the plugin contexts (logging commands, stderr in command mode, job output
//     in log mode) and do not change the exit code.
//   - 1: infrastructure failure: unknown mode, missing argument, malformed
//     context line, stdin closed before the finish sentinel, or a panic outside
//     plugin code. A diagnostic is written to stderr.
//
// Plugin resolution in log modes is isolated per plugin: an id that cannot be
// resolved is traced and skipped, and the remaining plugins still run.
package dispatch
