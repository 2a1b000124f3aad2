package builtin

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/pluginhost/internal/config"
	"github.com/mattjoyce/pluginhost/internal/log"
	"github.com/mattjoyce/pluginhost/internal/plugin"
	"github.com/mattjoyce/pluginhost/internal/protocol"
	"github.com/mattjoyce/pluginhost/internal/storage"
	"github.com/mattjoyce/pluginhost/internal/transport"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json", io.Discard) // Suppress logs in tests
	os.Exit(m.Run())
}

type job struct {
	build, test uuid.UUID
	hc          *protocol.HostContext
	out         bytes.Buffer
}

func newJob(vars protocol.Variables) *job {
	j := &job{build: uuid.New(), test: uuid.New()}
	if vars == nil {
		vars = protocol.Variables{}
	}
	j.hc = &protocol.HostContext{
		Variables: vars,
		Steps: map[uuid.UUID]protocol.StepReference{
			j.build: {ID: j.build, Name: "build"},
			j.test:  {ID: j.test, Name: "test"},
		},
	}
	return j
}

func (j *job) logContext(name string) *plugin.LogContext {
	return plugin.NewLogContext(name, j.hc, transport.NewLineWriter(&j.out))
}

func blake3Hex(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestRegister(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, Register(reg, nil))
	assert.Equal(t, []string{DigestTaskID, DigestVerifyID, LogArchiveID, NATSForwardID, ResaveLogID}, reg.IDs())

	for _, id := range []string{ResaveLogID, LogArchiveID, NATSForwardID} {
		p, err := reg.Resolve(id)
		require.NoError(t, err)
		assert.True(t, plugin.IsLogPlugin(p), id)
	}
	_, err := plugin.ResolveAs[plugin.TaskPlugin](reg, DigestTaskID)
	require.NoError(t, err)
	_, err = plugin.ResolveAs[plugin.CommandPlugin](reg, DigestVerifyID)
	require.NoError(t, err)

	cat, err := plugin.BuildCatalog(reg)
	require.NoError(t, err)
	cmd, ok := cat.Command("Digest", "VERIFY")
	require.True(t, ok)
	assert.Equal(t, DigestVerifyID, cmd.PluginID)
	task, ok := cat.Task("blake3-digest", "1.0.0")
	require.True(t, ok)
	assert.Equal(t, DigestTaskID, task.Main)

	assert.Error(t, Register(reg, nil), "second registration collides")
}

func TestResaveLog(t *testing.T) {
	home := t.TempDir()
	j := newJob(protocol.Variables{
		HomeVariable: {Value: home},
		"build.id":   {Value: "42"},
		"token":      {Value: "hunter2", IsSecret: true},
	})
	lc := j.logContext("Re-save Log")
	p := NewResaveLog()
	ctx := context.Background()

	require.NoError(t, p.ProcessLine(ctx, lc, j.hc.Steps[j.build], "compiling"))
	require.NoError(t, p.ProcessLine(ctx, lc, j.hc.Steps[j.test], "ok"))
	require.NoError(t, p.Finalize(ctx, lc))

	files, err := filepath.Glob(filepath.Join(home, "_diag", "*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.NotContains(t, filepath.Base(files[0]), "-")

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "compiling\nok\n{"), text)
	assert.Contains(t, text, `"build.id": "42"`)
	assert.NotContains(t, text, "hunter2")

	assert.Equal(t, "Re-save Log: Copy... build\nRe-save Log: Copy... test\n", j.out.String())
}

func TestResaveLogWithoutHome(t *testing.T) {
	j := newJob(nil)
	p := NewResaveLog()
	err := p.ProcessLine(context.Background(), j.logContext("r"), j.hc.Steps[j.build], "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), HomeVariable)
}

func TestLogArchive(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "archive.db")
	j := newJob(protocol.Variables{
		ArchivePathVariable:       {Value: dbPath},
		protocol.InstanceVariable: {Value: "inst-1"},
	})
	lc := j.logContext("Log Archive")
	p := NewLogArchive(config.ArchiveConfig{Path: filepath.Join(t.TempDir(), "unused.db")})
	ctx := context.Background()

	err := p.Process(ctx, lc, []protocol.JobOutput{
		{ID: j.build, Out: "a"},
		{ID: uuid.New(), Out: "lost"},
		{ID: j.build, Out: "b"},
	})
	require.ErrorIs(t, err, plugin.ErrUnknownStep)
	require.NoError(t, p.Finalize(ctx, lc, []protocol.JobOutput{{ID: j.test, Out: "c"}}))

	db, err := storage.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	defer db.Close()
	archive := storage.NewArchive(db)

	lines, err := archive.Lines(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, int64(i), lines[i].Seq)
		assert.Equal(t, want, lines[i].Text)
	}
	assert.Equal(t, "test", lines[2].StepName)

	digests, err := archive.Digests(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, digests, 2)
	assert.Equal(t, storage.StepDigest{StepID: j.build.String(), StepName: "build", LineCount: 2, Blake3: blake3Hex("a\nb\n")}, digests[0])
	assert.Equal(t, storage.StepDigest{StepID: j.test.String(), StepName: "test", LineCount: 1, Blake3: blake3Hex("c\n")}, digests[1])

	assert.Contains(t, j.out.String(), "Log Archive: Archived 3 lines from 2 steps to "+dbPath)
}

func TestLogArchiveNothingToArchive(t *testing.T) {
	j := newJob(nil)
	p := NewLogArchive(config.ArchiveConfig{Path: filepath.Join(t.TempDir(), "a.db")})
	p.open = func(context.Context, string) (*sql.DB, error) {
		t.Fatal("database opened without output")
		return nil, nil
	}
	require.NoError(t, p.Finalize(context.Background(), j.logContext("a"), nil))
	assert.Empty(t, j.out.String())
}

func TestLogArchiveRejectsNetworkLocation(t *testing.T) {
	j := newJob(protocol.Variables{ArchivePathVariable: {Value: "/mnt/share/jobs.db"}})
	lc := j.logContext("Log Archive")
	p := NewLogArchive(config.ArchiveConfig{Path: filepath.Join(t.TempDir(), "unused.db")})
	checks := 0
	p.check = func(path string) (storage.Location, error) {
		checks++
		assert.Equal(t, "/mnt/share/jobs.db", path)
		return storage.Location{}, fmt.Errorf("%w: /mnt/share is on nfs", storage.ErrNetworkFilesystem)
	}
	p.open = func(context.Context, string) (*sql.DB, error) {
		t.Fatal("database opened on a rejected location")
		return nil, nil
	}

	ctx := context.Background()
	err := p.Process(ctx, lc, []protocol.JobOutput{{ID: j.build, Out: "a"}})
	require.ErrorIs(t, err, storage.ErrNetworkFilesystem)
	assert.Contains(t, err.Error(), ArchivePathVariable)
	assert.Contains(t, err.Error(), "archive.path")

	err = p.Finalize(ctx, lc, []protocol.JobOutput{{ID: j.test, Out: "b"}})
	require.ErrorIs(t, err, storage.ErrNetworkFilesystem)
	assert.Equal(t, 1, checks)
	assert.NotContains(t, j.out.String(), "Archived")
}

func TestLogArchiveTracesFilesystem(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	j := newJob(protocol.Variables{ArchivePathVariable: {Value: dbPath}})
	lc := j.logContext("Log Archive")
	p := NewLogArchive(config.ArchiveConfig{})
	p.check = func(path string) (storage.Location, error) {
		return storage.Location{Path: path, Existing: filepath.Dir(path), Filesystem: "ext4"}, nil
	}

	require.NoError(t, p.Finalize(context.Background(), lc, []protocol.JobOutput{{ID: j.build, Out: "a"}}))
	assert.Contains(t, j.out.String(), "Archive "+dbPath+" is on ext4 filesystem")
	assert.Contains(t, j.out.String(), "Archived 1 lines from 1 steps to "+dbPath)
}

type fakePublisher struct {
	subjects []string
	messages []ForwardedLine
	failOn   int
	flushed  bool
	drained  bool
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.failOn > 0 && len(f.messages)+1 == f.failOn {
		f.failOn = 0
		return errors.New("slow consumer")
	}
	var msg ForwardedLine
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.subjects = append(f.subjects, subject)
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakePublisher) Flush() error { f.flushed = true; return nil }
func (f *fakePublisher) Drain() error { f.drained = true; return nil }

func TestNATSForward(t *testing.T) {
	j := newJob(protocol.Variables{
		protocol.InstanceVariable: {Value: "inst-9"},
		NATSSubjectVariable:       {Value: "ci.logs"},
	})
	j.hc.Endpoints = []protocol.ServiceEndpoint{{Name: "NATS", URL: "nats://endpoint:4222"}}

	pub := &fakePublisher{failOn: 2}
	var dialed string
	p := NewNATSForward(config.NATSConfig{URL: "nats://config:4222", Subject: "pluginhost.joblog"}, func(url string) (publisher, error) {
		dialed = url
		return pub, nil
	})
	lc := j.logContext("NATS Forward")
	ctx := context.Background()

	err := p.Process(ctx, lc, []protocol.JobOutput{{ID: j.build, Out: "one"}, {ID: j.build, Out: "dropped"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow consumer")
	require.NoError(t, p.Finalize(ctx, lc, []protocol.JobOutput{{ID: j.test, Out: "two"}}))

	assert.Equal(t, "nats://endpoint:4222", dialed)
	assert.Equal(t, []string{"ci.logs", "ci.logs"}, pub.subjects)
	assert.Equal(t, []ForwardedLine{
		{Instance: "inst-9", Seq: 0, StepID: j.build.String(), StepName: "build", Text: "one"},
		{Instance: "inst-9", Seq: 1, StepID: j.test.String(), StepName: "test", Text: "two"},
	}, pub.messages)
	assert.True(t, pub.flushed)
	assert.True(t, pub.drained)
	assert.Contains(t, j.out.String(), "NATS Forward: Forwarded 2 lines to ci.logs")
}

func TestNATSForwardServerSelection(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  string
		variable  string
		configURL string
		want      string
		wantErr   bool
	}{
		{name: "variable over config", variable: "nats://var:4222", configURL: "nats://cfg:4222", want: "nats://var:4222"},
		{name: "config", configURL: "nats://cfg:4222", want: "nats://cfg:4222"},
		{name: "endpoint wins", endpoint: "nats://ep:4222", variable: "nats://var:4222", want: "nats://ep:4222"},
		{name: "nothing configured", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := protocol.Variables{}
			if tt.variable != "" {
				vars[NATSURLVariable] = protocol.VariableValue{Value: tt.variable}
			}
			j := newJob(vars)
			if tt.endpoint != "" {
				j.hc.Endpoints = []protocol.ServiceEndpoint{{Name: NATSEndpointName, URL: tt.endpoint}}
			}
			var dialed string
			p := NewNATSForward(config.NATSConfig{URL: tt.configURL, Subject: "s"}, func(url string) (publisher, error) {
				dialed = url
				return &fakePublisher{}, nil
			})
			err := p.Process(context.Background(), j.logContext("n"), []protocol.JobOutput{{ID: j.build, Out: "x"}})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, dialed)
		})
	}
}

func TestDigestTask(t *testing.T) {
	file := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, os.WriteFile(file, []byte("payload"), 0o644))
	sum := blake3Hex("payload")

	tests := []struct {
		name    string
		inputs  map[string]string
		wantOut []string
		wantErr string
	}{
		{
			name:    "default variable",
			inputs:  map[string]string{"path": file},
			wantOut: []string{sum + "  " + file, "##vso[task.setvariable variable=blake3.digest]" + sum},
		},
		{
			name:    "custom variable and matching expectation",
			inputs:  map[string]string{"path": file, "variable": "artifact.sum", "expected": strings.ToUpper(sum)},
			wantOut: []string{sum + "  " + file, "##vso[task.setvariable variable=artifact.sum]" + sum},
		},
		{name: "mismatch", inputs: map[string]string{"path": file, "expected": blake3Hex("other")}, wantErr: "digest mismatch"},
		{name: "missing path", inputs: map[string]string{}, wantErr: "input required: path"},
		{name: "missing file", inputs: map[string]string{"path": file + ".gone"}, wantErr: "digest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			tc := plugin.NewTaskContext(&protocol.TaskContext{Inputs: tt.inputs, Variables: protocol.Variables{}}, transport.NewLineWriter(&out))
			err := (&DigestTask{}).Run(context.Background(), tc)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.Join(tt.wantOut, "\n")+"\n", out.String())
		})
	}
}

func TestDigestVerify(t *testing.T) {
	file := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, os.WriteFile(file, []byte("payload"), 0o644))

	tests := []struct {
		name    string
		props   map[string]string
		data    string
		wantErr string
	}{
		{name: "match", props: map[string]string{"path": file}, data: blake3Hex("payload")},
		{name: "mismatch", props: map[string]string{"path": file}, data: blake3Hex("nope"), wantErr: "hash mismatch"},
		{name: "no path", props: map[string]string{}, data: "abc", wantErr: "path property"},
		{name: "no digest", props: map[string]string{"path": file}, wantErr: "expected digest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			cc := plugin.NewCommandContext(&protocol.CommandContext{Data: tt.data, Properties: tt.props, Variables: protocol.Variables{}},
				transport.NewLineWriter(&out), transport.NewLineWriter(&errOut))
			err := (&DigestVerify{}).ProcessCommand(context.Background(), cc)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Verified blake3 digest of "+file+"\n", out.String())
		})
	}
}
