package safetygate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// TerminalPrompter asks on a line-oriented terminal. Anything other than an
// explicit "y" or "yes" declines.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	r *bufio.Reader
}

func (p *TerminalPrompter) ConfirmVolumeWarning(_ context.Context, pr Prompt) bool {
	return p.Confirm(fmt.Sprintf("WARNING: %s\nProceed anyway?", pr.Message))
}

// Ask writes prompt and returns the reply with surrounding space removed.
// A closed input reads as an empty reply.
func (p *TerminalPrompter) Ask(prompt string) string {
	fmt.Fprint(p.Out, prompt)
	if p.r == nil {
		p.r = bufio.NewReader(p.In)
	}
	line, _ := p.r.ReadString('\n')
	return strings.TrimSpace(line)
}

func (p *TerminalPrompter) Confirm(question string) bool {
	switch strings.ToLower(p.Ask(question + " [y/N] ")) {
	case "y", "yes":
		return true
	}
	return false
}

func (p *TerminalPrompter) ShowVolumeBlock(_ context.Context, pr Prompt) {
	fmt.Fprintf(p.Out, "BLOCKED: %s\n", pr.Message)
}

// DeclinePrompter never proceeds. Used for non-interactive runs.
type DeclinePrompter struct{}

func (DeclinePrompter) ConfirmVolumeWarning(context.Context, Prompt) bool { return false }
func (DeclinePrompter) ShowVolumeBlock(context.Context, Prompt)           {}
