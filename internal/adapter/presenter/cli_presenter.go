package presenter

import (
	"fmt"
	"io"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/application/dto"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
)

const timeFormat = "2006-01-02 15:04:05 MST"

// CLIPresenter implements output.Presenter for terminal output
type CLIPresenter struct {
	output io.Writer
}

// NewCLIPresenter creates a new CLI presenter
func NewCLIPresenter(output io.Writer) output.Presenter {
	return &CLIPresenter{output: output}
}

// PresentSuccess presents a successful result
func (p *CLIPresenter) PresentSuccess(message string, data interface{}) error {
	fmt.Fprintf(p.output, "✓ %s\n", message)
	if data == nil {
		return nil
	}
	fmt.Fprintln(p.output)

	switch v := data.(type) {
	case *dto.IssueResult:
		p.presentIssue(v)
	case *dto.SignatureStatusDTO:
		p.presentStatus(v)
	case *dto.InterventionSummaryDTO:
		p.presentSummary(v)
	case *dto.SubmitSignatureResult:
		fmt.Fprintf(p.output, "Record: %s\n", v.ID)
		fmt.Fprintf(p.output, "Status: %s\n", v.SignatureStatus)
		fmt.Fprintf(p.output, "Signed at: %s\n", v.SignatureSignedAt.Format(timeFormat))
	case []dto.ArchivedArtifactDTO:
		p.presentArtifacts(v)
	case string:
		fmt.Fprintln(p.output, v)
	default:
		fmt.Fprintf(p.output, "%+v\n", data)
	}
	return nil
}

// PresentError presents an error
func (p *CLIPresenter) PresentError(err error) error {
	fmt.Fprintf(p.output, "✗ Error: %v\n", err)
	return err
}

func (p *CLIPresenter) presentIssue(r *dto.IssueResult) {
	fmt.Fprintf(p.output, "Record: %s\n", r.ID)
	if r.SigningURL != "" {
		fmt.Fprintf(p.output, "Signing URL: %s\n", r.SigningURL)
	}
	fmt.Fprintf(p.output, "Expires: %s\n", r.ExpiresAt.Format(timeFormat))
	if r.Replayed {
		fmt.Fprintln(p.output, "(existing link returned for this issue key)")
	}
}

func (p *CLIPresenter) presentStatus(s *dto.SignatureStatusDTO) {
	fmt.Fprintf(p.output, "Record: %s\n", s.ID)
	fmt.Fprintf(p.output, "Status: %s\n", s.SignatureStatus)
	writeTime(p.output, "Expires", s.TokenExpiresAt)
	writeTime(p.output, "Signed at", s.SignatureSignedAt)
	if s.SignatureImage != "" {
		fmt.Fprintf(p.output, "Signature: captured (%d bytes encoded)\n", len(s.SignatureImage))
	}
}

func (p *CLIPresenter) presentSummary(s *dto.InterventionSummaryDTO) {
	fmt.Fprintf(p.output, "Record: %s\n", s.ID)
	if s.RepairID != "" {
		fmt.Fprintf(p.output, "Repair: %s\n", s.RepairID)
	}
	fmt.Fprintf(p.output, "Client: %s\n", s.ClientName)
	fmt.Fprintf(p.output, "Device: %s\n", s.Device)
	fmt.Fprintf(p.output, "Status: %s\n", s.SignatureStatus)
	fmt.Fprintf(p.output, "Created: %s\n", s.CreatedAt.Format(timeFormat))
	writeTime(p.output, "Expires", s.TokenExpiresAt)
	writeTime(p.output, "Signed at", s.SignatureSignedAt)
}

func (p *CLIPresenter) presentArtifacts(list []dto.ArchivedArtifactDTO) {
	if len(list) == 0 {
		fmt.Fprintln(p.output, "No archived artifacts")
		return
	}
	for _, a := range list {
		fmt.Fprintf(p.output, "  - %-10s %8d  %s  %s\n", a.Type, a.Size, a.UploadedAt.Format(timeFormat), a.StoragePath)
	}
}

func writeTime(w io.Writer, label string, t *time.Time) {
	if t != nil {
		fmt.Fprintf(w, "%s: %s\n", label, t.Format(timeFormat))
	}
}
