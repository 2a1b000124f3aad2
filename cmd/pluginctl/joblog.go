package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/pluginhost/internal/protocol"
	"github.com/mattjoyce/pluginhost/internal/transport"
)

const sectionStart = "##[section]Starting: "

// jobLog is a text file split into steps.
type jobLog struct {
	steps   map[uuid.UUID]protocol.StepReference
	records []protocol.JobOutput
}

// readJobLog reads path. Lines before the first section header belong to a
// step called "Job".
func readJobLog(path string) (*jobLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open job log: %w", err)
	}
	defer f.Close()

	jl := &jobLog{steps: make(map[uuid.UUID]protocol.StepReference)}
	var current uuid.UUID
	newStep := func(name string) {
		current = uuid.New()
		jl.steps[current] = protocol.StepReference{ID: current, Name: name}
	}

	if err := transport.Pump(f, func(line string) {
		if name, ok := strings.CutPrefix(line, sectionStart); ok {
			newStep(strings.TrimSpace(name))
		}
		if current == uuid.Nil {
			newStep("Job")
		}
		jl.records = append(jl.records, protocol.JobOutput{ID: current, Out: line})
	}); err != nil {
		return nil, fmt.Errorf("read job log: %w", err)
	}
	return jl, nil
}
