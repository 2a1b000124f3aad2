package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ArchivedLine is one job output line as stored in the archive.
type ArchivedLine struct {
	Seq      int64
	StepID   string
	StepName string
	Text     string
}

// StepDigest is the running digest of one step's output.
type StepDigest struct {
	StepID    string
	StepName  string
	LineCount int64
	Blake3    string
}

// Archive persists job output per host instance.
type Archive struct {
	db *sql.DB
}

func NewArchive(db *sql.DB) *Archive {
	return &Archive{db: db}
}

// NextSeq returns the sequence number following the last stored line of instanceID,
// so a restarted writer appends instead of colliding.
func (a *Archive) NextSeq(ctx context.Context, instanceID string) (int64, error) {
	var last sql.NullInt64
	err := a.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM log_line WHERE instance_id = ?;", instanceID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return last.Int64 + 1, nil
}

// AppendLines stores lines in one transaction.
func (a *Archive) AppendLines(ctx context.Context, instanceID string, lines []ArchivedLine) error {
	if instanceID == "" {
		return fmt.Errorf("instance id is empty")
	}
	if len(lines) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO log_line(instance_id, seq, step_id, step_name, text, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, l := range lines {
		if _, err := stmt.ExecContext(ctx, instanceID, l.Seq, l.StepID, l.StepName, l.Text, now); err != nil {
			return fmt.Errorf("insert line %d: %w", l.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// PutDigests upserts the digests of instanceID.
func (a *Archive) PutDigests(ctx context.Context, instanceID string, digests []StepDigest) error {
	if len(digests) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, d := range digests {
		_, err := tx.ExecContext(ctx, `
INSERT INTO step_digest(instance_id, step_id, step_name, line_count, blake3, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(instance_id, step_id) DO UPDATE SET
  step_name = excluded.step_name,
  line_count = excluded.line_count,
  blake3 = excluded.blake3,
  updated_at = excluded.updated_at;
`, instanceID, d.StepID, d.StepName, d.LineCount, d.Blake3, now)
		if err != nil {
			return fmt.Errorf("upsert digest for step %s: %w", d.StepID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Lines returns the archived lines of instanceID in order.
func (a *Archive) Lines(ctx context.Context, instanceID string) ([]ArchivedLine, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT seq, step_id, step_name, text FROM log_line
WHERE instance_id = ? ORDER BY seq;
`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	var out []ArchivedLine
	for rows.Next() {
		var l ArchivedLine
		if err := rows.Scan(&l.Seq, &l.StepID, &l.StepName, &l.Text); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Digests returns the step digests of instanceID ordered by step name.
func (a *Archive) Digests(ctx context.Context, instanceID string) ([]StepDigest, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT step_id, step_name, line_count, blake3 FROM step_digest
WHERE instance_id = ? ORDER BY step_name, step_id;
`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query digests: %w", err)
	}
	defer rows.Close()

	var out []StepDigest
	for rows.Next() {
		var d StepDigest
		if err := rows.Scan(&d.StepID, &d.StepName, &d.LineCount, &d.Blake3); err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
