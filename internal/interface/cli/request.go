package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/repairdesk/internal/adapter/controller/tui"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/dto"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/service"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/di"
	"github.com/YoshitsuguKoike/repairdesk/internal/interface/cli/common"
)

type reportFlags struct {
	file        string
	client      string
	phone       string
	email       string
	device      string
	brand       string
	model       string
	serial      string
	problem     string
	diagnosis   string
	cost        string
	notes       string
	powersOn    bool
	dataLoss    bool
	liquid      bool
	screen      bool
	authData    bool
	authFee     bool
	acceptsLoss bool
}

func newRequestCmd() *cobra.Command {
	var (
		rf       reportFlags
		repairID string
		issueKey string
		noWatch  bool
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Issue a signing link for an intervention report and wait for the signature",
		Long: `Issue a signing link for an intervention report and watch it until the
customer signs or the link expires. The report comes from --report (YAML or
JSON) and/or the individual flags; flags win over the file.`,
		RunE: func(c *cobra.Command, _ []string) error {
			report, err := rf.build(c)
			if err != nil {
				return err
			}
			return asTechnician(c, func(ctx context.Context, ct *di.Container) error {
				w := ct.NewWorkflow()
				defer w.Close()

				res, err := w.RequestSignature(ctx, dto.IssueRequest{
					RepairID: repairID,
					IssueKey: issueKey,
					Report:   report,
				})
				if err != nil {
					return err
				}
				if noWatch || common.OutputFormat() == common.OutputJSON {
					if err := ct.GetPresenter().PresentSuccess("Signing link issued", res); err != nil {
						return err
					}
					if noWatch {
						return nil
					}
				}
				return follow(ctx, c, ct, w)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&repairID, "repair", "", "Repair the report belongs to")
	f.StringVar(&issueKey, "key", "", "Idempotency key; repeating it returns the original link")
	f.BoolVar(&noWatch, "no-watch", false, "Print the link and exit without waiting")
	f.StringVar(&rf.file, "report", "", "Report file (YAML or JSON)")
	f.StringVar(&rf.client, "client", "", "Client name")
	f.StringVar(&rf.phone, "phone", "", "Client phone")
	f.StringVar(&rf.email, "email", "", "Client email")
	f.StringVar(&rf.device, "device", "", "Device type")
	f.StringVar(&rf.brand, "brand", "", "Device brand")
	f.StringVar(&rf.model, "model", "", "Device model")
	f.StringVar(&rf.serial, "serial", "", "Serial number")
	f.StringVar(&rf.problem, "problem", "", "Problem description")
	f.StringVar(&rf.diagnosis, "diagnosis", "", "Diagnosis")
	f.StringVar(&rf.cost, "cost", "", "Estimated cost")
	f.StringVar(&rf.notes, "notes", "", "Free notes")
	f.BoolVar(&rf.powersOn, "powers-on", false, "Device powers on")
	f.BoolVar(&rf.screen, "screen-damaged", false, "Screen is damaged")
	f.BoolVar(&rf.liquid, "liquid-damage", false, "Liquid damage found")
	f.BoolVar(&rf.dataLoss, "data-loss-risk", false, "Repair risks data loss")
	f.BoolVar(&rf.authData, "authorizes-data-access", false, "Client authorizes data access")
	f.BoolVar(&rf.authFee, "authorizes-diagnosis-fee", false, "Client authorizes the diagnosis fee")
	f.BoolVar(&rf.acceptsLoss, "accepts-data-loss-risk", false, "Client accepts the data loss risk")
	return cmd
}

// build reads the report file, if any, and applies the flags set on c
func (rf reportFlags) build(c *cobra.Command) (intervention.ReportFields, error) {
	var r intervention.ReportFields
	if rf.file != "" {
		loaded, err := loadReportFile(rf.file)
		if err != nil {
			return r, err
		}
		r = loaded
	}

	changed := c.Flags().Changed
	for name, pair := range map[string]struct {
		dst *string
		v   string
	}{
		"client":    {&r.ClientName, rf.client},
		"phone":     {&r.ClientPhone, rf.phone},
		"email":     {&r.ClientEmail, rf.email},
		"device":    {&r.DeviceType, rf.device},
		"brand":     {&r.DeviceBrand, rf.brand},
		"model":     {&r.DeviceModel, rf.model},
		"serial":    {&r.SerialNumber, rf.serial},
		"problem":   {&r.ProblemDescription, rf.problem},
		"diagnosis": {&r.Diagnosis, rf.diagnosis},
		"cost":      {&r.EstimatedCost, rf.cost},
		"notes":     {&r.Notes, rf.notes},
	} {
		if changed(name) {
			*pair.dst = pair.v
		}
	}
	for name, pair := range map[string]struct {
		dst *bool
		v   bool
	}{
		"powers-on":                {&r.PowersOn, rf.powersOn},
		"screen-damaged":           {&r.ScreenDamaged, rf.screen},
		"liquid-damage":            {&r.LiquidDamage, rf.liquid},
		"data-loss-risk":           {&r.DataLossRisk, rf.dataLoss},
		"authorizes-data-access":   {&r.AuthorizesDataAccess, rf.authData},
		"authorizes-diagnosis-fee": {&r.AuthorizesDiagnosisFee, rf.authFee},
		"accepts-data-loss-risk":   {&r.AcceptsDataLossRisk, rf.acceptsLoss},
	} {
		if changed(name) {
			*pair.dst = pair.v
		}
	}
	return r, nil
}

// loadReportFile decodes a report written as JSON or YAML. YAML keys use
// the same camelCase names as the JSON form.
func loadReportFile(path string) (intervention.ReportFields, error) {
	var r intervention.ReportFields
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read report: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &r); err != nil {
			return r, fmt.Errorf("parse report %s: %w", path, err)
		}
		return r, nil
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return r, fmt.Errorf("parse report %s: %w", path, err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return r, fmt.Errorf("parse report %s: %w", path, err)
	}
	if err := json.Unmarshal(asJSON, &r); err != nil {
		return r, fmt.Errorf("parse report %s: %w", path, err)
	}
	return r, nil
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <repair-id>",
		Short: "Watch the latest signing link of a repair",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return asTechnician(c, func(ctx context.Context, ct *di.Container) error {
				w := ct.NewWorkflow()
				defer w.Close()

				if _, err := w.Resume(ctx, args[0]); err != nil {
					return err
				}
				return follow(ctx, c, ct, w)
			})
		},
	}
}

// follow waits for the workflow to settle and presents the outcome. The
// terminal output gets the live watch screen.
func follow(ctx context.Context, c *cobra.Command, ct *di.Container, w *service.SignatureWorkflow) error {
	var final service.WorkflowState
	if common.OutputFormat() == common.OutputCLI {
		st, err := tui.Watch(ctx, w, ct.QR(), tea.WithOutput(c.OutOrStdout()), tea.WithInput(c.InOrStdin()))
		if errors.Is(err, tui.ErrAborted) {
			return nil
		}
		if err != nil {
			return err
		}
		final = st
	} else {
		if done := w.Done(); done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		final = w.State()
	}
	return presentOutcome(ct, final)
}

func presentOutcome(ct *di.Container, s service.WorkflowState) error {
	switch s.Phase {
	case service.PhaseSigned:
		out := &dto.SignatureStatusDTO{
			ID:                s.RecordID,
			SignatureStatus:   intervention.StatusSigned.String(),
			SignatureSignedAt: s.SignedAt,
		}
		if !s.Image.IsZero() {
			out.SignatureImage = s.Image.DataURL()
		}
		return ct.GetPresenter().PresentSuccess("Report signed", out)
	case service.PhaseExpired:
		return fmt.Errorf("intervention %s: %w", s.RecordID, intervention.ErrTokenExpired)
	case service.PhaseFailed:
		return s.Err
	case service.PhaseIdle:
		if s.RecordID == "" {
			return nil
		}
		return fmt.Errorf("intervention %s has no signing link", s.RecordID)
	}
	// Interrupted while awaiting; the link stays valid
	return nil
}
