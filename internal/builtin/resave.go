package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/pluginhost/internal/plugin"
	"github.com/mattjoyce/pluginhost/internal/protocol"
)

// HomeVariable names the agent directory whose _diag folder receives the copy.
const HomeVariable = "agent.homedirectory"

// ResaveLog copies every line of job output into
// <agent.homedirectory>/_diag/<random>.log and appends the job's public
// variables when the job finishes.
type ResaveLog struct {
	fileName string
}

func NewResaveLog() *ResaveLog {
	return &ResaveLog{fileName: strings.ReplaceAll(uuid.NewString(), "-", "") + ".log"}
}

func (p *ResaveLog) FriendlyName() string { return "Re-save Log" }

func (p *ResaveLog) path(lc *plugin.LogContext) (string, error) {
	home, ok := lc.Variables().Get(HomeVariable)
	if !ok || strings.TrimSpace(home) == "" {
		return "", fmt.Errorf("variable %s is not set", HomeVariable)
	}
	dir := filepath.Join(home, "_diag")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create diag dir: %w", err)
	}
	return filepath.Join(dir, p.fileName), nil
}

func (p *ResaveLog) appendText(lc *plugin.LogContext, text string) error {
	path, err := p.path(lc)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func (p *ResaveLog) ProcessLine(_ context.Context, lc *plugin.LogContext, step protocol.StepReference, line string) error {
	lc.Output("Copy... " + step.Name)
	return p.appendText(lc, line+"\n")
}

func (p *ResaveLog) Finalize(_ context.Context, lc *plugin.LogContext) error {
	data, err := json.MarshalIndent(lc.Variables().Public(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode variables: %w", err)
	}
	return p.appendText(lc, string(data)+"\n")
}
