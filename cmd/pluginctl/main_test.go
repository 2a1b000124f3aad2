package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/mattjoyce/pluginhost/internal/log"
	"github.com/mattjoyce/pluginhost/internal/protocol"
	"github.com/mattjoyce/pluginhost/internal/telemetry/telemetrytest"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json", io.Discard) // Suppress logs in tests
	os.Exit(m.Run())
}

func writeFile(t *testing.T, dir, name, body string, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), mode))
	return p
}

// fakeHost records its arguments and stdin, then prints canned output.
func fakeHost(t *testing.T, output string) (path, record string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script hosts need a POSIX shell")
	}
	dir := t.TempDir()
	record = filepath.Join(dir, "record")
	path = writeFile(t, dir, "pluginhost", `#!/bin/sh
echo "$@" > "`+record+`"
cat >> "`+record+`"
printf '%s\n' "`+output+`"
`, 0o755)
	return path, record
}

func ctl(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("PLUGINHOST_CONFIG", "")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestReadJobLog(t *testing.T) {
	path := writeFile(t, t.TempDir(), "job.log", strings.Join([]string{
		"preamble",
		"##[section]Starting: Build",
		"compiling",
		"",
		"##[section]Starting: Test",
		"ok",
	}, "\n")+"\n", 0o644)

	jl, err := readJobLog(path)
	require.NoError(t, err)
	require.Len(t, jl.steps, 3)
	require.Len(t, jl.records, 5)

	name := func(i int) string { return jl.steps[jl.records[i].ID].Name }
	assert.Equal(t, "Job", name(0))
	assert.Equal(t, "Build", name(1))
	assert.Equal(t, "Build", name(2))
	assert.Equal(t, "Test", name(3))
	assert.Equal(t, jl.records[1].ID, jl.records[2].ID)
	assert.Equal(t, "##[section]Starting: Test", jl.records[3].Out)
}

func TestJobVariables(t *testing.T) {
	env := writeFile(t, t.TempDir(), ".env", "A=from-file\nB=file\n", 0o644)
	vars, err := jobVariables(&CLI{
		EnvFile: env,
		Var:     map[string]string{"B": "flag"},
		Secret:  map[string]string{"TOKEN": "s3cret"},
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.Variables{
		"A":     {Value: "from-file"},
		"B":     {Value: "flag"},
		"TOKEN": {Value: "s3cret", IsSecret: true},
	}, vars)

	_, err = jobVariables(&CLI{EnvFile: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestCommandParse(t *testing.T) {
	tests := []struct {
		name    string
		cmd     CommandCmd
		want    protocol.Command
		wantErr bool
	}{
		{
			name: "logging command line",
			cmd:  CommandCmd{Line: "##vso[digest.verify path=/tmp/a]abc"},
			want: protocol.Command{Area: "digest", Event: "verify", Properties: map[string]string{"path": "/tmp/a"}, Data: "abc"},
		},
		{
			name: "area.event with flags",
			cmd:  CommandCmd{Line: "digest.verify", Data: "abc", Property: map[string]string{"path": "/tmp/a"}},
			want: protocol.Command{Area: "digest", Event: "verify", Properties: map[string]string{"path": "/tmp/a"}, Data: "abc"},
		},
		{name: "no event", cmd: CommandCmd{Line: "digest"}, wantErr: true},
		{name: "unterminated", cmd: CommandCmd{Line: "##vso[digest.verify"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.parse()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogReplay(t *testing.T) {
	host, record := fakeHost(t, "resave: done")
	logFile := writeFile(t, t.TempDir(), "job.log", "##[section]Starting: Build\nhello\n", 0o644)

	code, stdout, stderr := ctl(t, "--host-path", host, "-V", "agent.homedirectory=/tmp", "log", logFile, "-p", "resave-log")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "resave: done\n", stdout)

	data, err := os.ReadFile(record)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)
	args := strings.Fields(lines[0])
	require.Len(t, args, 3)
	assert.Equal(t, "log", args[0])
	assert.Equal(t, "resave-log", args[2])

	hc, err := protocol.DecodeHostContext(lines[1])
	require.NoError(t, err)
	assert.Len(t, hc.Steps, 1)
	v, _ := hc.Variables.Get("agent.homedirectory")
	assert.Equal(t, "/tmp", v)

	rec, err := protocol.DecodeJobOutput(lines[3])
	require.NoError(t, err)
	assert.Equal(t, "hello", rec.Out)
	assert.True(t, protocol.IsFinishSentinel(lines[4], args[1]))
}

func TestLogReplayWithoutPlugins(t *testing.T) {
	logFile := writeFile(t, t.TempDir(), "job.log", "x\n", 0o644)
	code, _, stderr := ctl(t, "--host-path", "/nonexistent", "daemon", logFile)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no daemon plugins")
}

func TestTaskCommand(t *testing.T) {
	host, record := fakeHost(t, "##vso[task.setvariable variable=blake3.digest]abc")

	code, stdout, stderr := ctl(t, "--host-path", host, "task", "blake3-digest@1.0.0", "-i", "path=/tmp/x")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Variable blake3.digest = abc")
	assert.Contains(t, stdout, "Task result: Succeeded")

	data, err := os.ReadFile(record)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "task blake3-digest\n"), string(data))
	assert.Contains(t, string(data), `"inputs":{"path":"/tmp/x"}`)
}

func TestTaskCommandFailed(t *testing.T) {
	host, _ := fakeHost(t, "##vso[task.complete result=Failed]")
	code, stdout, stderr := ctl(t, "--host-path", host, "task", "blake3-digest")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "Task result: Failed")
	assert.Contains(t, stderr, "task blake3-digest failed")
}

func TestTaskUnknownCatalogEntry(t *testing.T) {
	code, _, stderr := ctl(t, "--host-path", "/nonexistent", "task", "nope@1.0.0")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no plugin runs task nope@1.0.0")
}

func TestCommandCommand(t *testing.T) {
	host, record := fakeHost(t, "Verified")
	code, stdout, stderr := ctl(t, "--host-path", host, "command", "##vso[Digest.Verify path=/tmp/a]abc")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "Verified\n", stdout)

	data, err := os.ReadFile(record)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "command digest.verify\n"), string(data))

	code, _, stderr = ctl(t, "--host-path", host, "command", "task.unknown")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no plugin handles ##vso[task.unknown]")
}

func TestPluginsCommand(t *testing.T) {
	code, stdout, stderr := ctl(t, "plugins")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "blake3-digest")
	assert.Contains(t, stdout, "task blake3-digest@1.0.0 (main)")
	assert.Contains(t, stdout, "command ##vso[digest.verify]")
	assert.Contains(t, stdout, "log (line)")
	assert.Contains(t, stdout, "log (batch)")
}

func TestTracesExported(t *testing.T) {
	col := telemetrytest.NewCollector(t)
	cfg := writeFile(t, t.TempDir(), "pluginhost.yaml",
		"service:\n  tracing:\n    exporter: otlp-http\n    endpoint: "+col.Endpoint()+"\n    insecure: true\n", 0o644)
	host, _ := fakeHost(t, "tp=$TRACEPARENT")
	t.Setenv("TRACEPARENT", "")

	code, stdout, stderr := ctl(t, "--config", cfg, "--host-path", host, "task", "blake3-digest")
	require.Equal(t, 0, code, stderr)

	roots := col.Spans("pluginctl.task")
	require.Len(t, roots, 1)
	sups := col.Spans("supervisor.task")
	require.Len(t, sups, 1)
	assert.Equal(t, roots[0].GetSpanId(), sups[0].GetParentSpanId())

	traceID := hex.EncodeToString(sups[0].GetTraceId())
	spanID := hex.EncodeToString(sups[0].GetSpanId())
	assert.Contains(t, stdout, "tp=00-"+traceID+"-"+spanID+"-01")
}

func TestFailedCommandSpan(t *testing.T) {
	col := telemetrytest.NewCollector(t)
	cfg := writeFile(t, t.TempDir(), "pluginhost.yaml",
		"service:\n  tracing:\n    exporter: otlp-http\n    endpoint: "+col.Endpoint()+"\n    insecure: true\n", 0o644)

	code, _, _ := ctl(t, "--config", cfg, "--host-path", "/nonexistent", "task", "nope@1.0.0")
	assert.Equal(t, 1, code)

	roots := col.Spans("pluginctl.task")
	require.Len(t, roots, 1)
	assert.Equal(t, tracepb.Status_STATUS_CODE_ERROR, roots[0].GetStatus().GetCode())
}
