package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oppdash/oppdash/internal/client"
	"github.com/oppdash/oppdash/internal/composer"
	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/export"
	"github.com/oppdash/oppdash/internal/faxflow"
	"github.com/oppdash/oppdash/internal/history"
	"github.com/oppdash/oppdash/internal/safetygate"
	"github.com/oppdash/oppdash/internal/selection"
)

var (
	errNotSent     = errors.New("fax not sent")
	errNoSelection = errors.New("nothing selected; pass --opportunity or --prescriber")
)

func faxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fax",
		Short: "Compose and send prescriber fax requests",
	}
	cmd.AddCommand(faxComposeCmd(a))
	cmd.AddCommand(faxSendCmd(a))
	return cmd
}

type composeOptions struct {
	patientID     uuid.UUID
	opportunities []uuid.UUID
	prescriber    string
	grouping      selection.Grouping
	repeatHeader  bool
	outDir        string
}

func faxComposeCmd(a *app) *cobra.Command {
	var (
		patient, prescriber, grouping, outDir string
		opps                                  []string
		repeatHeader                          bool
	)
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Write a fillable fax document for selected opportunities of one patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := composeOptions{
				prescriber:   prescriber,
				grouping:     selection.Grouping(grouping),
				repeatHeader: repeatHeader,
				outDir:       outDir,
			}
			var err error
			if opts.patientID, err = uuid.Parse(patient); err != nil {
				return fmt.Errorf("invalid --patient: %w", err)
			}
			for _, s := range opps {
				id, err := uuid.Parse(s)
				if err != nil {
					return fmt.Errorf("invalid --opportunity %q: %w", s, err)
				}
				opts.opportunities = append(opts.opportunities, id)
			}
			if opts.outDir == "" {
				opts.outDir = a.cfg.OutputDir
			}
			path, err := composeFax(cmd.Context(), a, opts)
			if err != nil {
				return err
			}
			a.printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&patient, "patient", "", "Patient ID")
	cmd.Flags().StringSliceVar(&opps, "opportunity", nil, "Opportunity ID to include (repeatable)")
	cmd.Flags().StringVar(&prescriber, "prescriber", "", "Select every opportunity for this prescriber name")
	cmd.Flags().StringVar(&grouping, "grouping", string(selection.GroupByPatient), "Dashboard grouping the selection was made under")
	cmd.Flags().BoolVar(&repeatHeader, "repeat-header", false, "Repeat the batch table header on continuation pages")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (defaults to OPPDASH_OUTPUT_DIR)")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

// candidates turns the patient's opportunity list into selection candidates
// and indexes the prescribers it mentions.
func candidates(details []*opportunity.Detail) ([]selection.Candidate, map[uuid.UUID]*opportunity.Prescriber) {
	cands := make([]selection.Candidate, 0, len(details))
	prescribers := make(map[uuid.UUID]*opportunity.Prescriber)
	for _, d := range details {
		cands = append(cands, selection.Candidate{
			OpportunitySummary: d.Opportunity.Summary(),
			PrescriberName:     d.Prescriber.Name,
		})
		p := d.Prescriber
		prescribers[d.PrescriberID] = &p
	}
	return cands, prescribers
}

func patientSummary(d *opportunity.Detail) composer.PatientSummary {
	ps := composer.PatientSummary{ID: d.PatientID, DisplayName: d.PatientName}
	if d.PatientDOB != nil {
		ps.DateOfBirth = d.PatientDOB.Format("01/02/2006")
	}
	return ps
}

// buildSelection applies the requested toggles in order. Refused toggles
// are reported and leave the selection as it was.
func buildSelection(a *app, patientID uuid.UUID, cands []selection.Candidate, opts composeOptions) (*selection.Model, error) {
	model, err := selection.New(patientID, cands)
	if err != nil {
		return nil, err
	}
	for _, id := range opts.opportunities {
		if notice, ok := model.Toggle(id); !ok {
			a.printf("%s\n", notice)
		}
	}
	if opts.prescriber != "" {
		if notice, ok := model.SelectAllForPrescriber(opts.prescriber); !ok {
			a.printf("%s\n", notice)
		}
	}
	if len(model.Selected()) == 0 {
		return nil, errNoSelection
	}
	return model, nil
}

func (a *app) pharmacySummary(ctx context.Context) (composer.PharmacySummary, error) {
	p, err := a.api.Pharmacy(ctx)
	if err != nil {
		if client.IsStatus(err, http.StatusNotFound) {
			a.logger.Warn().Msg("pharmacy profile not configured; pharmacy fields left blank")
			return composer.PharmacySummary{}, nil
		}
		return composer.PharmacySummary{}, errors.New(client.Message(err, "could not load the pharmacy profile"))
	}
	return composer.PharmacySummary{Name: p.Name, Address: p.Address(), Phone: p.Phone, Fax: p.Fax, NPI: p.NPI}, nil
}

func composeFax(ctx context.Context, a *app, opts composeOptions) (string, error) {
	details, err := a.api.ListByPatient(ctx, opts.patientID)
	if err != nil {
		return "", errors.New(client.Message(err, "could not load the patient's opportunities"))
	}
	if len(details) == 0 {
		return "", fmt.Errorf("no opportunities on file for patient %s", opts.patientID)
	}

	cands, prescribers := candidates(details)
	model, err := buildSelection(a, opts.patientID, cands, opts)
	if err != nil {
		return "", err
	}
	pr := prescribers[model.Selected()[0].PrescriberID]

	ph, err := a.pharmacySummary(ctx)
	if err != nil {
		return "", err
	}
	ps := patientSummary(details[0])
	req, err := model.ComposeRequest(opts.grouping, ps, pr.Summary(), ph, time.Now())
	if err != nil {
		return "", err
	}
	doc, err := composer.Compose(req, composer.Options{RepeatTableHeader: opts.repeatHeader})
	if err != nil {
		return "", err
	}

	name := export.FileName(ps.DisplayName, pr.Name, req.Mode, req.GeneratedAt)
	path := filepath.Join(opts.outDir, name)
	if err := writeDocument(path, doc); err != nil {
		return "", err
	}

	store, err := a.openHistory(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("history unavailable; document not logged")
		return path, nil
	}
	defer store.Close()

	ids := make([]uuid.UUID, len(req.Opportunities))
	for i, o := range req.Opportunities {
		ids[i] = o.ID
	}
	if err := store.Append(ctx, history.Entry{
		PrescriberID:   pr.ID,
		PrescriberName: pr.Name,
		PatientID:      ps.ID,
		OpportunityIDs: ids,
		Mode:           string(req.Mode),
		FileName:       name,
		CreatedAt:      req.GeneratedAt,
	}); err != nil {
		a.logger.Warn().Err(err).Msg("could not record document in history")
	}
	return path, nil
}

func writeDocument(path string, doc *composer.Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := export.Encode(doc, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func faxSendCmd(a *app) *cobra.Command {
	var (
		number     string
		confirmNPI bool
	)
	cmd := &cobra.Command{
		Use:   "send <opportunity-id>",
		Short: "Preflight and send the fax request for one opportunity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid opportunity id: %w", err)
			}
			return sendFax(cmd.Context(), a, id, number, confirmNPI)
		},
	}
	cmd.Flags().StringVar(&number, "fax", "", "Prescriber fax number (prompted when omitted)")
	cmd.Flags().BoolVar(&confirmNPI, "confirm-npi", false, "Confirm the NPI matches the hardcopy without prompting")
	return cmd
}

func sendFax(ctx context.Context, a *app, id uuid.UUID, number string, confirmNPI bool) error {
	d, err := a.api.GetOpportunity(ctx, id)
	if err != nil {
		return errors.New(client.Message(err, "could not load the opportunity"))
	}
	npi := ""
	if d.Prescriber.NPI != nil {
		npi = *d.Prescriber.NPI
	}
	ref := safetygate.OpportunityRef{ID: d.ID, PrescriberID: d.PrescriberID}
	flow := faxflow.New(ref, npi, a.api, a.gate(), a.logger)

	st, err := flow.Open(ctx)
	if err != nil {
		return err
	}
	switch s := st.(type) {
	case faxflow.PreflightBlocked:
		a.printf("Cannot send: %s\n", s.Reason)
		return errNotSent
	case faxflow.PreflightReady:
		for _, w := range s.Result.Warnings {
			a.printf("Warning: %s\n", w)
		}
		a.printf("Faxes sent today: %d of %d\n", s.Result.DailyCount, s.Result.DailyLimit)
	}

	if number == "" {
		saved := flow.FaxNumber()
		prompt := "Prescriber fax number: "
		if saved != "" {
			prompt = fmt.Sprintf("Prescriber fax number [%s]: ", saved)
		}
		if number = a.prompter.Ask(prompt); number == "" {
			number = saved
		}
	}
	if err := flow.SetFaxNumber(number); err != nil {
		return err
	}
	if !confirmNPI {
		confirmNPI = a.prompter.Confirm(fmt.Sprintf("Does NPI %s match the prescriber's hardcopy?", npi))
	}
	if err := flow.ConfirmNPI(confirmNPI); err != nil {
		return err
	}
	if !flow.CanSend() {
		_ = flow.Close()
		a.printf("A fax number and NPI confirmation are required. Nothing was sent.\n")
		return errNotSent
	}

	for {
		st, err := flow.Send(ctx)
		if errors.Is(err, context.Canceled) {
			a.printf("The fax is already in flight and cannot be cancelled; waiting for the result...\n")
			st, err = flow.Wait(context.Background())
		}
		if err != nil {
			return err
		}
		switch s := st.(type) {
		case faxflow.Sent:
			a.printf("Fax sent (transmission %s). Status: %s. Faxes sent today: %d of %d\n",
				s.Response.TransmissionID, s.Response.Status, s.Response.DailyCount, s.Response.DailyLimit)
			return nil
		case faxflow.SendFailed:
			a.printf("Send failed: %s\n", s.Reason)
			if ctx.Err() == nil && a.prompter.Confirm("Retry?") {
				continue
			}
			return errNotSent
		case faxflow.PreflightBlocked:
			a.printf("Cannot send: %s\n", s.Reason)
			return errNotSent
		case faxflow.PreflightReady:
			a.printf("Not sent. The status was left unchanged.\n")
			return nil
		default:
			return fmt.Errorf("unexpected fax state %s", st.Name())
		}
	}
}
