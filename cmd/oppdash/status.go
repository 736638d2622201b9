package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oppdash/oppdash/internal/client"
	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/safetygate"
)

var errStatusUnchanged = errors.New("status not changed")

func statusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Change an opportunity's status",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <opportunity-id> <status>",
		Short: "Advance the status, subject to the prescriber volume check",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid opportunity id: %w", err)
			}
			target, err := opportunity.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return setStatus(cmd.Context(), a, id, target)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reopen <opportunity-id>",
		Short: "Move an opportunity back to not_submitted (pharmacists only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid opportunity id: %w", err)
			}
			o, err := a.api.Reopen(cmd.Context(), id)
			if err != nil {
				return errors.New(client.Message(err, "could not reopen the opportunity"))
			}
			a.printf("Opportunity %s reopened. Status: %s\n", o.ID, o.Status)
			return nil
		},
	})
	return cmd
}

func setStatus(ctx context.Context, a *app, id uuid.UUID, target opportunity.Status) error {
	d, err := a.api.GetOpportunity(ctx, id)
	if err != nil {
		return errors.New(client.Message(err, "could not load the opportunity"))
	}
	ref := safetygate.OpportunityRef{ID: d.ID, PrescriberID: d.PrescriberID}
	res, err := a.gate().CheckAndApply(ctx, ref, target)
	if err != nil {
		if errors.Is(err, safetygate.ErrStatsUnavailable) {
			return errors.New(res.Message)
		}
		return errors.New(client.Message(err, "could not update the status"))
	}
	switch res.Decision {
	case safetygate.DecisionBlocked, safetygate.DecisionDeclined:
		a.printf("Status left at %s.\n", d.Status)
		return errStatusUnchanged
	}
	a.printf("Status changed from %s to %s.\n", d.Status, target)
	return nil
}

func notesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Edit staff notes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <opportunity-id> <text>...",
		Short: "Replace the staff notes on an opportunity",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid opportunity id: %w", err)
			}
			if err := a.api.UpdateNotes(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
				return errors.New(client.Message(err, "could not save the notes"))
			}
			a.printf("Notes saved.\n")
			return nil
		},
	})
	return cmd
}
