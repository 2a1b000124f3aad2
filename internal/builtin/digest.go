package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattjoyce/pluginhost/internal/config"
	"github.com/mattjoyce/pluginhost/internal/plugin"
)

// DefaultDigestVariable receives the digest when the task sets no variable input.
const DefaultDigestVariable = "blake3.digest"

// DigestTask computes the BLAKE3 digest of a file and publishes it as a job
// variable. With an expected input it fails the task on mismatch.
type DigestTask struct{}

func (p *DigestTask) FriendlyName() string { return "BLAKE3 Digest" }
func (p *DigestTask) TaskID() string       { return "blake3-digest" }
func (p *DigestTask) TaskVersion() string  { return "1.0.0" }
func (p *DigestTask) Stage() plugin.Stage  { return plugin.StageMain }

func (p *DigestTask) Run(_ context.Context, tc *plugin.TaskContext) error {
	path, err := tc.Input("path", true)
	if err != nil {
		return err
	}
	variable, _ := tc.Input("variable", false)
	if variable == "" {
		variable = DefaultDigestVariable
	}
	expected, _ := tc.Input("expected", false)

	sum, err := config.ComputeBlake3Hash(path)
	if err != nil {
		return fmt.Errorf("digest %s: %w", path, err)
	}
	tc.Debug("blake3 " + path + " " + sum)
	if expected != "" && !strings.EqualFold(expected, sum) {
		return fmt.Errorf("digest mismatch for %s: expected %s, got %s", path, strings.ToLower(expected), sum)
	}
	tc.Output(fmt.Sprintf("%s  %s", sum, path))
	tc.SetVariable(variable, sum, false)
	return nil
}

// DigestVerify handles ##vso[digest.verify path=<file>]<blake3>. A mismatch is
// written to stderr, which fails the command.
type DigestVerify struct{}

func (p *DigestVerify) FriendlyName() string { return "Verify BLAKE3 Digest" }
func (p *DigestVerify) Area() string         { return "digest" }
func (p *DigestVerify) Event() string        { return "verify" }

func (p *DigestVerify) ProcessCommand(_ context.Context, cc *plugin.CommandContext) error {
	path := strings.TrimSpace(cc.Properties["path"])
	if path == "" {
		return fmt.Errorf("digest.verify requires a path property")
	}
	expected := strings.TrimSpace(cc.Data)
	if expected == "" {
		return fmt.Errorf("digest.verify requires the expected digest as data")
	}
	if err := config.VerifyFileHash(path, expected); err != nil {
		return err
	}
	cc.Output("Verified blake3 digest of " + path)
	return nil
}
