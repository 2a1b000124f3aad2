// Package builtin holds the plugins linked into the pluginhost binary.
package builtin

import (
	"github.com/mattjoyce/pluginhost/internal/config"
	"github.com/mattjoyce/pluginhost/internal/plugin"
)

// Plugin ids as they appear on the host command line.
const (
	ResaveLogID    = "resave-log"
	LogArchiveID   = "log-archive"
	NATSForwardID  = "nats-forward"
	DigestTaskID   = "blake3-digest"
	DigestVerifyID = "digest.verify"
)

// Register adds every builtin plugin to reg. cfg supplies the archive and NATS
// defaults; job variables override them per run.
func Register(reg *plugin.Registry, cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Defaults()
	}
	factories := []struct {
		id      string
		factory plugin.Factory
	}{
		{ResaveLogID, func() (plugin.Plugin, error) { return NewResaveLog(), nil }},
		{LogArchiveID, func() (plugin.Plugin, error) { return NewLogArchive(cfg.Archive), nil }},
		{NATSForwardID, func() (plugin.Plugin, error) { return NewNATSForward(cfg.NATS, connectNATS), nil }},
		{DigestTaskID, func() (plugin.Plugin, error) { return &DigestTask{}, nil }},
		{DigestVerifyID, func() (plugin.Plugin, error) { return &DigestVerify{}, nil }},
	}
	for _, f := range factories {
		if err := reg.Register(f.id, f.factory); err != nil {
			return err
		}
	}
	return nil
}
