package builtin

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/pluginhost/internal/config"
	"github.com/mattjoyce/pluginhost/internal/plugin"
	"github.com/mattjoyce/pluginhost/internal/protocol"
	"github.com/mattjoyce/pluginhost/internal/storage"
)

// ArchivePathVariable overrides the configured archive database for one job.
const ArchivePathVariable = "pluginhost.archive.path"

type stepHash struct {
	name  string
	count int64
	h     *blake3.Hasher
}

// LogArchive stores job output in SQLite and keeps a BLAKE3 digest of every
// step's output.
type LogArchive struct {
	cfg   config.ArchiveConfig
	check func(path string) (storage.Location, error)
	open  func(ctx context.Context, path string) (*sql.DB, error)

	// unusable is the location error, kept so the check runs once per job.
	unusable error

	db       *sql.DB
	archive  *storage.Archive
	path     string
	instance string
	seq      int64
	total    int64
	steps    map[uuid.UUID]*stepHash
}

func NewLogArchive(cfg config.ArchiveConfig) *LogArchive {
	return &LogArchive{
		cfg:   cfg,
		check: storage.CheckArchiveLocation,
		open:  storage.OpenSQLite,
		steps: make(map[uuid.UUID]*stepHash),
	}
}

func (p *LogArchive) FriendlyName() string { return "Log Archive" }

// ensureOpen opens the database on first use. The instance id comes from the
// host, or a fresh one when the plugin runs outside a host.
func (p *LogArchive) ensureOpen(ctx context.Context, lc *plugin.LogContext) error {
	if p.archive != nil {
		return nil
	}
	if p.unusable != nil {
		return p.unusable
	}
	path := p.cfg.Path
	if v, ok := lc.Variables().Get(ArchivePathVariable); ok && strings.TrimSpace(v) != "" {
		path = strings.TrimSpace(v)
	}
	loc, err := p.check(path)
	if err != nil {
		p.unusable = fmt.Errorf("archive location rejected, set %s or archive.path to a local file: %w", ArchivePathVariable, err)
		return p.unusable
	}
	lc.Trace(fmt.Sprintf("Archive %s is on %s filesystem", loc.Path, loc.Filesystem))
	path = loc.Path
	db, err := p.open(ctx, path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	p.instance, _ = lc.Variables().Get(protocol.InstanceVariable)
	if p.instance == "" {
		p.instance = uuid.NewString()
	}
	archive := storage.NewArchive(db)
	seq, err := archive.NextSeq(ctx, p.instance)
	if err != nil {
		_ = db.Close()
		return err
	}
	p.db, p.archive, p.path, p.seq = db, archive, path, seq
	lc.Trace(fmt.Sprintf("Archiving job output of instance %s to %s", p.instance, path))
	return nil
}

func (p *LogArchive) Process(ctx context.Context, lc *plugin.LogContext, batch []protocol.JobOutput) error {
	if len(batch) == 0 {
		return nil
	}
	if err := p.ensureOpen(ctx, lc); err != nil {
		return err
	}

	var errs []error
	lines := make([]storage.ArchivedLine, 0, len(batch))
	ids := make([]uuid.UUID, 0, len(batch))
	for _, rec := range batch {
		step, err := lc.Step(rec.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		lines = append(lines, storage.ArchivedLine{
			Seq:      p.seq + int64(len(lines)),
			StepID:   step.ID.String(),
			StepName: step.Name,
			Text:     rec.Out,
		})
		ids = append(ids, step.ID)
	}
	if err := p.archive.AppendLines(ctx, p.instance, lines); err != nil {
		return errors.Join(append(errs, err)...)
	}
	p.seq += int64(len(lines))
	p.total += int64(len(lines))

	for i, l := range lines {
		id := ids[i]
		sh, ok := p.steps[id]
		if !ok {
			sh = &stepHash{name: l.StepName, h: blake3.New()}
			p.steps[id] = sh
		}
		_, _ = sh.h.Write([]byte(l.Text + "\n"))
		sh.count++
	}
	return errors.Join(errs...)
}

// digests returns the current step digests ordered by step name.
func (p *LogArchive) digests() []storage.StepDigest {
	out := make([]storage.StepDigest, 0, len(p.steps))
	for id, sh := range p.steps {
		out = append(out, storage.StepDigest{
			StepID:    id.String(),
			StepName:  sh.name,
			LineCount: sh.count,
			Blake3:    hex.EncodeToString(sh.h.Sum(nil)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StepName != out[j].StepName {
			return out[i].StepName < out[j].StepName
		}
		return out[i].StepID < out[j].StepID
	})
	return out
}

func (p *LogArchive) Finalize(ctx context.Context, lc *plugin.LogContext, remaining []protocol.JobOutput) error {
	procErr := p.Process(ctx, lc, remaining)
	if p.archive == nil {
		return procErr
	}
	defer func() { _ = p.db.Close() }()

	digests := p.digests()
	if err := p.archive.PutDigests(ctx, p.instance, digests); err != nil {
		return errors.Join(procErr, err)
	}
	for _, d := range digests {
		lc.Trace(fmt.Sprintf("Step '%s': %d lines, blake3 %s", d.StepName, d.LineCount, d.Blake3))
	}
	lc.Output(fmt.Sprintf("Archived %d lines from %d steps to %s", p.total, len(digests), p.path))
	return procErr
}
