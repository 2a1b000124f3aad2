package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFilesystem(t *testing.T, fn func(string) (string, error)) {
	t.Helper()
	prev := filesystemOf
	filesystemOf = fn
	t.Cleanup(func() { filesystemOf = prev })
}

func TestCheckArchiveLocationNewFile(t *testing.T) {
	dir := t.TempDir()
	var inspected string
	withFilesystem(t, func(path string) (string, error) {
		inspected = path
		return "ext4", nil
	})

	loc, err := CheckArchiveLocation(filepath.Join(dir, "nested", "jobs.db"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "jobs.db"), loc.Path)
	assert.Equal(t, dir, loc.Existing)
	assert.Equal(t, dir, inspected)
	assert.Equal(t, "ext4", loc.Filesystem)
	assert.True(t, loc.IsNew())
}

func TestCheckArchiveLocationExistingFile(t *testing.T) {
	db := filepath.Join(t.TempDir(), "jobs.db")
	require.NoError(t, os.WriteFile(db, nil, 0o644))
	withFilesystem(t, func(string) (string, error) { return "apfs", nil })

	loc, err := CheckArchiveLocation(db)
	require.NoError(t, err)
	assert.Equal(t, db, loc.Existing)
	assert.False(t, loc.IsNew())
}

func TestCheckArchiveLocationRejects(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	withFilesystem(t, func(string) (string, error) { return "ext4", nil })

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{name: "empty", path: "  ", wantErr: "archive path is empty"},
		{name: "directory", path: dir, wantErr: "is a directory"},
		{name: "below a file", path: filepath.Join(file, "jobs.db"), wantErr: file + " is a file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CheckArchiveLocation(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckArchiveLocationNetworkFilesystem(t *testing.T) {
	dir := t.TempDir()
	withFilesystem(t, func(string) (string, error) { return "NFS", nil })

	loc, err := CheckArchiveLocation(filepath.Join(dir, "jobs.db"))
	require.ErrorIs(t, err, ErrNetworkFilesystem)
	assert.Contains(t, err.Error(), dir+" is on NFS")
	assert.Equal(t, "NFS", loc.Filesystem)
}

func TestCheckArchiveLocationInspectFailure(t *testing.T) {
	boom := errors.New("statfs failed")
	withFilesystem(t, func(string) (string, error) { return "", boom })

	_, err := CheckArchiveLocation(filepath.Join(t.TempDir(), "jobs.db"))
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNetworkFilesystem)
}

func TestIsNetworkFilesystem(t *testing.T) {
	for _, fs := range []string{"nfs", "cifs", "smbfs", "smb2", "9p", "ceph", " AFS "} {
		assert.True(t, isNetworkFilesystem(fs), fs)
	}
	for _, fs := range []string{"ext4", "apfs", "tmpfs", "0x58465342", "unknown", ""} {
		assert.False(t, isNetworkFilesystem(fs), fs)
	}
}

func TestFilesystemTypeOfTempDir(t *testing.T) {
	fs, err := filesystemType(t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, fs)
}
