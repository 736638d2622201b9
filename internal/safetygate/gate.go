// Package safetygate checks prescriber request volume before any status
// change that lands in an actioned status.
package safetygate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/domain/prescribervolume"
)

// ErrStatsUnavailable means the gate could not decide and nothing was applied.
var ErrStatsUnavailable = errors.New("prescriber volume stats unavailable")

type Decision string

const (
	// DecisionBypassed: target is not actioned, the gate was not consulted.
	DecisionBypassed Decision = "bypassed"
	DecisionClear    Decision = "clear"
	DecisionOverride Decision = "override"
	DecisionDeclined Decision = "declined"
	DecisionBlocked  Decision = "blocked"
	// DecisionUnavailable: stats lookup failed, nothing applied.
	DecisionUnavailable Decision = "unavailable"
)

// Applied reports whether the decision lets the status change through.
func (d Decision) Applied() bool {
	return d == DecisionBypassed || d == DecisionClear || d == DecisionOverride
}

type OpportunityRef struct {
	ID           uuid.UUID
	PrescriberID uuid.UUID
}

type StatsSource interface {
	PrescriberStats(ctx context.Context, prescriberID uuid.UUID) (*prescribervolume.Stats, error)
}

type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status opportunity.Status) error
}

// Prompt is what the user is shown when the gate stops an action.
type Prompt struct {
	Opportunity OpportunityRef
	Target      opportunity.Status
	Stats       prescribervolume.Stats
	Message     string
}

// Prompter is the interactive side of the gate. ConfirmVolumeWarning returns
// true only when the user explicitly chose to proceed. ShowVolumeBlock offers
// no choice.
type Prompter interface {
	ConfirmVolumeWarning(ctx context.Context, p Prompt) bool
	ShowVolumeBlock(ctx context.Context, p Prompt)
}

type Result struct {
	Decision Decision
	Stats    *prescribervolume.Stats
	Message  string
}

type Gate struct {
	stats    StatsSource
	updater  StatusUpdater
	prompter Prompter
	logger   zerolog.Logger
}

func New(stats StatsSource, updater StatusUpdater, prompter Prompter, logger zerolog.Logger) *Gate {
	return &Gate{
		stats:    stats,
		updater:  updater,
		prompter: prompter,
		logger:   logger.With().Str("component", "safetygate").Logger(),
	}
}

// CheckAndApply gates a direct status change and applies it through the
// StatusUpdater when allowed.
func (g *Gate) CheckAndApply(ctx context.Context, ref OpportunityRef, target opportunity.Status) (Result, error) {
	return g.Run(ctx, ref, target, func(ctx context.Context) error {
		return g.updater.UpdateStatus(ctx, ref.ID, target)
	})
}

// Run gates an arbitrary action whose effect is moving ref to target. apply
// is called at most once, and only after the stats lookup allowed it or the
// user chose to proceed past a warning.
func (g *Gate) Run(ctx context.Context, ref OpportunityRef, target opportunity.Status, apply func(context.Context) error) (Result, error) {
	if !target.IsActioned() {
		return Result{Decision: DecisionBypassed}, apply(ctx)
	}

	st, err := g.stats.PrescriberStats(ctx, ref.PrescriberID)
	if err != nil {
		g.logger.Error().Err(err).
			Str("opportunity_id", ref.ID.String()).
			Str("prescriber_id", ref.PrescriberID.String()).
			Msg("prescriber stats lookup failed; status change not applied")
		return Result{
			Decision: DecisionUnavailable,
			Message:  "Could not check this prescriber's request volume. The status was not changed; try again.",
		}, fmt.Errorf("%w: %v", ErrStatsUnavailable, err)
	}

	prompt := Prompt{Opportunity: ref, Target: target, Stats: *st}

	if blocks(st) {
		prompt.Message = BlockMessage(st)
		g.prompter.ShowVolumeBlock(ctx, prompt)
		g.logger.Warn().
			Str("opportunity_id", ref.ID.String()).
			Str("prescriber_id", ref.PrescriberID.String()).
			Int("unique_patients", st.UniquePatientsActioned).
			Msg("volume_block")
		return Result{Decision: DecisionBlocked, Stats: st, Message: prompt.Message}, nil
	}

	decision := DecisionClear
	if warns(st) {
		prompt.Message = WarnMessage(st)
		if !g.prompter.ConfirmVolumeWarning(ctx, prompt) {
			return Result{Decision: DecisionDeclined, Stats: st, Message: prompt.Message}, nil
		}
		decision = DecisionOverride
		g.logger.Warn().
			Str("opportunity_id", ref.ID.String()).
			Str("prescriber_id", ref.PrescriberID.String()).
			Str("target", string(target)).
			Int("unique_patients", st.UniquePatientsActioned).
			Int("warn_threshold", st.WarnThreshold).
			Msg("volume_warning_override")
	}

	return Result{Decision: decision, Stats: st, Message: prompt.Message}, apply(ctx)
}

// blocks trusts the counts as well as the flag so a stale or inconsistent
// ShouldBlock can never let an action through.
func blocks(st *prescribervolume.Stats) bool {
	return st.ShouldBlock || (st.BlockThreshold != nil && st.UniquePatientsActioned >= *st.BlockThreshold)
}

func warns(st *prescribervolume.Stats) bool {
	return st.ShouldWarn || (st.WarnThreshold > 0 && st.UniquePatientsActioned >= st.WarnThreshold)
}

func windowPhrase(st *prescribervolume.Stats) string {
	if st.WindowDays > 0 {
		return fmt.Sprintf(" in the last %d days", st.WindowDays)
	}
	return ""
}

func BlockMessage(st *prescribervolume.Stats) string {
	limit := 0
	if st.BlockThreshold != nil {
		limit = *st.BlockThreshold
	}
	return fmt.Sprintf(
		"This prescriber has %d unique patients (%d opportunities) actioned%s, at or above the block threshold of %d. "+
			"The request cannot be sent; an administrator must raise the threshold.",
		st.UniquePatientsActioned, st.TotalOppsActioned, windowPhrase(st), limit)
}

func WarnMessage(st *prescribervolume.Stats) string {
	return fmt.Sprintf(
		"This prescriber has %d unique patients (%d opportunities) actioned%s, at or above the warning threshold of %d.",
		st.UniquePatientsActioned, st.TotalOppsActioned, windowPhrase(st), st.WarnThreshold)
}
