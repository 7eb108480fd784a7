// Package processor defines the agent backends Imploid can dispatch issues
// to and the driver that supervises one backend run.
package processor

import (
	"fmt"
	"time"

	"github.com/imploid/imploid/internal/model"
)

// Processor describes one agent backend: how to name it and how to build
// its command line.
type Processor interface {
	Name() model.ProcessorName
	DisplayName() string
	// Command assembles the full argv for one run: the binary path, the
	// backend's required flags, and the prompt as a single argument.
	Command(binPath, prompt string) []string
}

// ByName returns the processor implementation for a name.
func ByName(name model.ProcessorName) (Processor, error) {
	switch name {
	case model.ProcessorClaude:
		return claudeProcessor{}, nil
	case model.ProcessorCodex:
		return codexProcessor{}, nil
	}
	return nil, fmt.Errorf("unknown processor %q", name)
}

// BranchName mints the work branch for (issue, processor) at time t:
// issue-<n>-<processor>-<14-digit timestamp>.
func BranchName(issueNumber int, processor model.ProcessorName, t time.Time) string {
	return fmt.Sprintf("issue-%d-%s-%s", issueNumber, processor, t.Format("20060102150405"))
}

type claudeProcessor struct{}

func (claudeProcessor) Name() model.ProcessorName { return model.ProcessorClaude }
func (claudeProcessor) DisplayName() string       { return "Claude" }

func (claudeProcessor) Command(binPath, prompt string) []string {
	return []string{
		binPath,
		"--dangerously-skip-permissions",
		"-p", prompt,
		"--output-format", "stream-json",
		"--verbose",
	}
}

type codexProcessor struct{}

func (codexProcessor) Name() model.ProcessorName { return model.ProcessorCodex }
func (codexProcessor) DisplayName() string       { return "Codex" }

func (codexProcessor) Command(binPath, prompt string) []string {
	return []string{
		binPath,
		"exec",
		"--full-auto",
		"--dangerously-bypass-approvals-and-sandbox",
		prompt,
	}
}
