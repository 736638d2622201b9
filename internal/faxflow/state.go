package faxflow

import "github.com/oppdash/oppdash/internal/domain/faxing"

// State is one of Idle, PreflightPending, PreflightReady, PreflightBlocked,
// Sending, Sent or SendFailed. Only a Flow creates states.
type State interface {
	Name() string
	state()
}

type Idle struct{}

type PreflightPending struct{}

// PreflightReady: the server said a send would be accepted.
type PreflightReady struct {
	Result faxing.PreflightResult
}

// PreflightBlocked is terminal for this opening of the flow. Result is nil
// when the preflight call itself failed.
type PreflightBlocked struct {
	Result *faxing.PreflightResult
	Reason string
}

type Sending struct{}

type Sent struct {
	Response faxing.SendResponse
}

// SendFailed keeps the preflight result so the user can retry.
type SendFailed struct {
	Result faxing.PreflightResult
	Reason string
}

func (Idle) Name() string             { return "idle" }
func (PreflightPending) Name() string { return "preflight_pending" }
func (PreflightReady) Name() string   { return "preflight_ready" }
func (PreflightBlocked) Name() string { return "preflight_blocked" }
func (Sending) Name() string          { return "sending" }
func (Sent) Name() string             { return "sent" }
func (SendFailed) Name() string       { return "send_failed" }

func (Idle) state()             {}
func (PreflightPending) state() {}
func (PreflightReady) state()   {}
func (PreflightBlocked) state() {}
func (Sending) state()          {}
func (Sent) state()             {}
func (SendFailed) state()       {}

// sendable returns the preflight result backing a state that allows Send.
func sendable(s State) (faxing.PreflightResult, bool) {
	switch s := s.(type) {
	case PreflightReady:
		return s.Result, true
	case SendFailed:
		return s.Result, true
	}
	return faxing.PreflightResult{}, false
}
