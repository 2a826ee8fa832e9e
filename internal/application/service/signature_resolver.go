package service

import (
	"context"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/dto"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/input"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/repository"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/metrics"
	"github.com/YoshitsuguKoike/repairdesk/internal/pkg/clock"
)

// archiveTimeout bounds the best-effort archive after a signature
const archiveTimeout = 30 * time.Second

// SignatureResolver serves the signer's side of a signing link: it shows
// what is being signed and applies the sent -> signed transition.
type SignatureResolver struct {
	repo          repository.InterventionRepository
	archive       output.StorageGateway // optional
	maxImageBytes int
	clock         clock.Clock
	logger        app.Logger
	metrics       *metrics.Metrics
}

// NewSignatureResolver creates a resolver. archive may be nil.
func NewSignatureResolver(
	repo repository.InterventionRepository,
	archive output.StorageGateway,
	maxImageBytes int,
	clk clock.Clock,
	logger app.Logger,
	m *metrics.Metrics,
) *SignatureResolver {
	if clk == nil {
		clk = clock.System{}
	}
	return &SignatureResolver{
		repo:          repo,
		archive:       archive,
		maxImageBytes: maxImageBytes,
		clock:         clk,
		logger:        app.OrDefault(logger),
		metrics:       m,
	}
}

// Resolve returns the signing page for a token. An expired or signed
// record still resolves so the page can say so.
func (s *SignatureResolver) Resolve(ctx context.Context, rawToken string) (*dto.SigningPageView, error) {
	token, err := intervention.ParseSigningToken(rawToken)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	r := rec.Report()
	view := &dto.SigningPageView{
		Token:              token.String(),
		Status:             rec.EffectiveStatus(s.clock.Now()).String(),
		ClientName:         r.ClientName,
		Device:             r.DeviceLabel(),
		ProblemDescription: r.ProblemDescription,
		Diagnosis:          r.Diagnosis,
		EstimatedCost:      r.EstimatedCost,
		RiskFlags:          riskFlags(r),
		ExpiresAt:          rec.Grant().ExpiresAt,
		SignedAt:           rec.SignedAt(),
	}
	return view, nil
}

func riskFlags(r intervention.ReportFields) []string {
	var flags []string
	for _, f := range []struct {
		set   bool
		label string
	}{
		{!r.PowersOn, "Device does not power on"},
		{r.ScreenDamaged, "Screen damaged"},
		{r.LiquidDamage, "Liquid damage"},
		{r.PreviouslyOpened, "Previously opened"},
		{r.DataLossRisk, "Risk of data loss"},
		{r.PartsOnBackorder, "Parts on backorder"},
	} {
		if f.set {
			flags = append(flags, f.label)
		}
	}
	return flags
}

// Submit applies the signature. The transition is one conditional store
// write: of two concurrent submissions exactly one wins, the other gets
// ErrAlreadySigned. Submissions after the validity window get
// ErrTokenExpired.
func (s *SignatureResolver) Submit(ctx context.Context, rawToken, dataURL string) (*dto.SubmitSignatureResult, error) {
	token, err := intervention.ParseSigningToken(rawToken)
	if err != nil {
		s.metrics.SignatureResult("invalid")
		return nil, err
	}
	image, err := intervention.ParseSignatureImage(dataURL, s.maxImageBytes)
	if err != nil {
		s.metrics.SignatureResult("invalid")
		return nil, err
	}

	now := s.clock.Now()
	if err := s.repo.SubmitSignature(ctx, token, image, now); err != nil {
		s.metrics.SignatureResult(string(intervention.KindOf(err)))
		return nil, err
	}
	s.metrics.SignatureResult("signed")

	result := &dto.SubmitSignatureResult{
		SignatureStatus:   intervention.StatusSigned.String(),
		SignatureSignedAt: now.UTC(),
	}

	rec, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		// The signature is stored; only the archive and the echoed id are lost
		s.logger.Warn("read back signed intervention: %v", err)
		return result, nil
	}
	result.ID = rec.ID().String()
	s.logger.Info("intervention %s signed", rec.ID())

	s.archiveSigned(ctx, rec)
	return result, nil
}

// archiveSigned copies the signature image and the signed report to the
// archive. Failures are logged and counted, never returned.
func (s *SignatureResolver) archiveSigned(ctx context.Context, rec *intervention.Intervention) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	fail := func(what string, err error) {
		s.metrics.ArchiveFailed()
		s.logger.Warn("archive %s of intervention %s: %v", what, rec.ID(), err)
	}

	signedAt := ""
	if rec.SignedAt() != nil {
		signedAt = rec.SignedAt().Format(time.RFC3339Nano)
	}
	meta := map[string]string{"signed_at": signedAt}
	if rec.RepairID() != "" {
		meta["repair_id"] = rec.RepairID()
	}

	raw, err := rec.Image().Bytes()
	if err != nil {
		fail("signature", err)
	} else if _, err := s.archive.SaveArtifact(ctx, output.SaveArtifactRequest{
		RecordID:     rec.ID().String(),
		ShopID:       rec.ShopID(),
		ArtifactType: output.ArtifactTypeSignature,
		Content:      raw,
		ContentType:  rec.Image().ContentType(),
		Metadata:     meta,
	}); err != nil {
		fail("signature", err)
	}

	report, err := intervention.MarshalReport(rec.Report())
	if err != nil {
		fail("report", err)
		return
	}
	if _, err := s.archive.SaveArtifact(ctx, output.SaveArtifactRequest{
		RecordID:     rec.ID().String(),
		ShopID:       rec.ShopID(),
		ArtifactType: output.ArtifactTypeReport,
		Content:      report,
		ContentType:  "application/json",
		Metadata:     meta,
	}); err != nil {
		fail("report", err)
	}
}

// ListArchived lists the archived artifacts of a record
func (s *SignatureResolver) ListArchived(ctx context.Context, recordID string) ([]dto.ArchivedArtifactDTO, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("no signature archive configured")
	}
	id, err := intervention.NewRecordID(recordID)
	if err != nil {
		return nil, err
	}
	list, err := s.archive.ListArtifacts(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("list archived artifacts: %w", err)
	}
	out := make([]dto.ArchivedArtifactDTO, 0, len(list))
	for _, m := range list {
		out = append(out, dto.ArchivedArtifactDTO{
			Type:        string(m.Type),
			StoragePath: m.StoragePath,
			ContentType: m.ContentType,
			Size:        m.Size,
			SHA256:      m.SHA256,
			UploadedAt:  m.UploadedAt,
		})
	}
	return out, nil
}

var _ input.SigningUseCase = (*SignatureResolver)(nil)
