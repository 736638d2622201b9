// Package faxflow drives one opportunity's fax request from preflight to a
// confirmed send. Each Flow owns its state; flows share nothing.
package faxflow

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oppdash/oppdash/internal/domain/faxing"
	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/safetygate"
)

var (
	ErrNotReady        = errors.New("send is not available")
	ErrSendInProgress  = errors.New("a send is in progress")
	ErrNotEditable     = errors.New("the fax request cannot be edited now")
	ErrAlreadyFinished = errors.New("the fax request was already sent")
)

// Remote is the server half of the flow.
type Remote interface {
	Preflight(ctx context.Context, opportunityID uuid.UUID, req faxing.PreflightRequest) (*faxing.PreflightResult, error)
	Send(ctx context.Context, opportunityID uuid.UUID, req faxing.SendRequest) (*faxing.SendResponse, error)
}

type Gate interface {
	Run(ctx context.Context, ref safetygate.OpportunityRef, target opportunity.Status,
		apply func(context.Context) error) (safetygate.Result, error)
}

// RemoteError is implemented by errors that carry a server-supplied reason.
// Errors that do not implement it are treated as transient.
type RemoteError interface {
	error
	Retryable() bool
	Reason() string
}

const (
	msgPreflightFailed = "Could not check whether this fax can be sent. Close and try again."
	msgSendFailed      = "The fax could not be sent. Check the number and try again."
)

type Flow struct {
	ref    safetygate.OpportunityRef
	npi    string
	remote Remote
	gate   Gate
	logger zerolog.Logger

	mu           sync.Mutex
	state        State
	faxNumber    string
	npiConfirmed bool
	gen          uint64
	done         chan struct{}
}

// New returns an idle flow for one opportunity. npi is the prescriber NPI on
// record and may be empty.
func New(ref safetygate.OpportunityRef, npi string, remote Remote, gate Gate, logger zerolog.Logger) *Flow {
	return &Flow{
		ref:    ref,
		npi:    npi,
		remote: remote,
		gate:   gate,
		logger: logger.With().Str("opportunity_id", ref.ID.String()).Logger(),
		state:  Idle{},
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) FaxNumber() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faxNumber
}

// Open discards any local input and runs a fresh preflight. It is refused
// while a send is in flight.
func (f *Flow) Open(ctx context.Context) (State, error) {
	f.mu.Lock()
	if _, ok := f.state.(Sending); ok {
		f.mu.Unlock()
		return Sending{}, ErrSendInProgress
	}
	f.gen++
	gen := f.gen
	f.state = PreflightPending{}
	f.faxNumber = ""
	f.npiConfirmed = false
	f.mu.Unlock()

	res, err := f.remote.Preflight(ctx, f.ref.ID, faxing.PreflightRequest{PrescriberNPI: f.npi})

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		// Closed or reopened while waiting.
		return f.state, nil
	}
	switch {
	case err != nil:
		f.logger.Warn().Err(err).Msg("preflight failed")
		f.state = PreflightBlocked{Reason: reason(err, msgPreflightFailed)}
	case !res.CanSend:
		f.state = PreflightBlocked{Result: res, Reason: strings.Join(res.Warnings, "\n")}
	default:
		f.state = PreflightReady{Result: *res}
		if res.SavedFaxNumber != nil {
			f.faxNumber = *res.SavedFaxNumber
		}
	}
	return f.state, nil
}

func (f *Flow) SetFaxNumber(number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := sendable(f.state); !ok {
		return ErrNotEditable
	}
	f.faxNumber = strings.TrimSpace(number)
	return nil
}

// ConfirmNPI records the "NPI matches hardcopy" confirmation.
func (f *Flow) ConfirmNPI(confirmed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := sendable(f.state); !ok {
		return ErrNotEditable
	}
	f.npiConfirmed = confirmed
	return nil
}

// CanSend is the guard for the send control.
func (f *Flow) CanSend() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canSendLocked()
}

func (f *Flow) canSendLocked() bool {
	_, ok := sendable(f.state)
	return ok && f.faxNumber != "" && f.npiConfirmed
}

// Send gates the change to submitted and issues exactly one transmission.
// The transmission is detached from ctx: if ctx ends first Send returns
// Sending and ctx.Err(), the call keeps running and its result is still
// applied. Wait observes the outcome.
func (f *Flow) Send(ctx context.Context) (State, error) {
	f.mu.Lock()
	if !f.canSendLocked() {
		st := f.state
		f.mu.Unlock()
		switch st.(type) {
		case Sending:
			return st, ErrSendInProgress
		case Sent:
			return st, ErrAlreadyFinished
		}
		return st, ErrNotReady
	}
	prior, _ := sendable(f.state)
	req := faxing.SendRequest{
		PrescriberFaxNumber: f.faxNumber,
		PrescriberNPI:       f.npi,
		NPIConfirmed:        true,
	}
	f.state = Sending{}
	done := make(chan struct{})
	f.done = done
	f.mu.Unlock()

	go f.transmit(context.WithoutCancel(ctx), prior, req, done)

	select {
	case <-done:
		return f.State(), nil
	case <-ctx.Done():
		return Sending{}, ctx.Err()
	}
}

func (f *Flow) transmit(ctx context.Context, prior faxing.PreflightResult, req faxing.SendRequest, done chan struct{}) {
	defer close(done)

	var resp *faxing.SendResponse
	res, err := f.gate.Run(ctx, f.ref, opportunity.StatusSubmitted, func(ctx context.Context) error {
		var sendErr error
		resp, sendErr = f.remote.Send(ctx, f.ref.ID, req)
		return sendErr
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = f.outcome(prior, res, resp, err)
	f.logger.Info().Str("state", f.state.Name()).Str("gate", string(res.Decision)).Msg("fax send finished")
}

func (f *Flow) outcome(prior faxing.PreflightResult, res safetygate.Result, resp *faxing.SendResponse, err error) State {
	switch res.Decision {
	case safetygate.DecisionBlocked:
		return PreflightBlocked{Result: &prior, Reason: res.Message}
	case safetygate.DecisionDeclined:
		return PreflightReady{Result: prior}
	case safetygate.DecisionUnavailable:
		return SendFailed{Result: prior, Reason: res.Message}
	}
	if err != nil {
		f.logger.Warn().Err(err).Msg("fax send failed")
		var re RemoteError
		if errors.As(err, &re) && !re.Retryable() {
			return PreflightBlocked{Result: &prior, Reason: reason(err, msgSendFailed)}
		}
		return SendFailed{Result: prior, Reason: reason(err, msgSendFailed)}
	}
	return Sent{Response: *resp}
}

// Wait blocks until an in-flight send finishes or ctx ends.
func (f *Flow) Wait(ctx context.Context) (State, error) {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done == nil {
		return f.State(), nil
	}
	select {
	case <-done:
		return f.State(), nil
	case <-ctx.Done():
		return f.State(), ctx.Err()
	}
}

// Close discards local input without contacting the server. It is refused
// while a send is in flight.
func (f *Flow) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.state.(Sending); ok {
		return ErrSendInProgress
	}
	f.gen++
	f.state = Idle{}
	f.faxNumber = ""
	f.npiConfirmed = false
	return nil
}

func reason(err error, fallback string) string {
	var re RemoteError
	if errors.As(err, &re) && re.Reason() != "" {
		return re.Reason()
	}
	return fallback
}
