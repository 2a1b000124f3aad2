package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/mattjoyce/pluginhost/internal/config"
	"github.com/mattjoyce/pluginhost/internal/plugin"
	"github.com/mattjoyce/pluginhost/internal/protocol"
)

// Job variables and the endpoint name that override the NATS config.
const (
	NATSEndpointName    = "nats"
	NATSURLVariable     = "pluginhost.nats.url"
	NATSSubjectVariable = "pluginhost.nats.subject"
)

// publisher is the part of *nats.Conn the forwarder needs.
type publisher interface {
	Publish(subject string, data []byte) error
	Flush() error
	Drain() error
}

type connectFunc func(url string) (publisher, error)

func connectNATS(url string) (publisher, error) {
	nc, err := nats.Connect(url, nats.Name("pluginhost nats-forward"))
	if err != nil {
		return nil, err
	}
	return nc, nil
}

// ForwardedLine is the message published for every line of job output.
type ForwardedLine struct {
	Instance string `json:"instance"`
	Seq      int64  `json:"seq"`
	StepID   string `json:"step_id"`
	StepName string `json:"step_name"`
	Text     string `json:"text"`
}

// NATSForward publishes job output to a NATS subject, one message per line.
type NATSForward struct {
	cfg     config.NATSConfig
	connect connectFunc

	conn     publisher
	url      string
	subject  string
	instance string
	seq      int64
}

func NewNATSForward(cfg config.NATSConfig, connect connectFunc) *NATSForward {
	return &NATSForward{cfg: cfg, connect: connect}
}

func (p *NATSForward) FriendlyName() string { return "NATS Forward" }

// serverURL prefers the "nats" endpoint, then the job variable, then the config.
func (p *NATSForward) serverURL(lc *plugin.LogContext) string {
	if ep, ok := lc.Endpoint(NATSEndpointName); ok && ep.URL != "" {
		return ep.URL
	}
	if v, ok := lc.Variables().Get(NATSURLVariable); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return p.cfg.URL
}

func (p *NATSForward) ensureConnected(lc *plugin.LogContext) error {
	if p.conn != nil {
		return nil
	}
	url := p.serverURL(lc)
	if url == "" {
		return errors.New("no NATS server configured")
	}
	conn, err := p.connect(url)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}
	p.subject = p.cfg.Subject
	if v, ok := lc.Variables().Get(NATSSubjectVariable); ok && strings.TrimSpace(v) != "" {
		p.subject = strings.TrimSpace(v)
	}
	p.instance, _ = lc.Variables().Get(protocol.InstanceVariable)
	p.conn, p.url = conn, url
	lc.Trace(fmt.Sprintf("Forwarding job output to %s on subject %s", url, p.subject))
	return nil
}

func (p *NATSForward) Process(_ context.Context, lc *plugin.LogContext, batch []protocol.JobOutput) error {
	if len(batch) == 0 {
		return nil
	}
	if err := p.ensureConnected(lc); err != nil {
		return err
	}
	var errs []error
	for _, rec := range batch {
		step, err := lc.Step(rec.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		data, err := json.Marshal(ForwardedLine{
			Instance: p.instance,
			Seq:      p.seq,
			StepID:   step.ID.String(),
			StepName: step.Name,
			Text:     rec.Out,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.conn.Publish(p.subject, data); err != nil {
			errs = append(errs, fmt.Errorf("publish line %d: %w", p.seq, err))
			continue
		}
		p.seq++
	}
	return errors.Join(errs...)
}

func (p *NATSForward) Finalize(ctx context.Context, lc *plugin.LogContext, remaining []protocol.JobOutput) error {
	procErr := p.Process(ctx, lc, remaining)
	if p.conn == nil {
		return procErr
	}
	if err := p.conn.Flush(); err != nil {
		procErr = errors.Join(procErr, fmt.Errorf("flush: %w", err))
	}
	if err := p.conn.Drain(); err != nil {
		procErr = errors.Join(procErr, fmt.Errorf("drain: %w", err))
	}
	lc.Output(fmt.Sprintf("Forwarded %d lines to %s", p.seq, p.subject))
	return procErr
}
