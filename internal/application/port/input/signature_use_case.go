package input

import (
	"context"

	"github.com/YoshitsuguKoike/repairdesk/internal/application/dto"
)

// IssueUseCase mints signing links for technicians
type IssueUseCase interface {
	// Issue creates a record awaiting signature and returns its grant
	Issue(ctx context.Context, req dto.IssueRequest) (*dto.IssueResult, error)
}

// SigningUseCase is the signer-facing side of a signing link
type SigningUseCase interface {
	// Resolve returns what the signer is asked to sign
	Resolve(ctx context.Context, token string) (*dto.SigningPageView, error)

	// Submit applies the signature image to the record behind token
	Submit(ctx context.Context, token, signatureImage string) (*dto.SubmitSignatureResult, error)
}

// InterventionQuery answers technician reads
type InterventionQuery interface {
	// SignatureStatus returns the poller view of a record, lazy expiry applied
	SignatureStatus(ctx context.Context, id string) (*dto.SignatureStatusDTO, error)

	// LatestForRepair returns the most recent record of a repair
	LatestForRepair(ctx context.Context, repairID string) (*dto.InterventionSummaryDTO, error)

	// SigningURL returns the signing URL of a record that is still awaiting
	// its signature
	SigningURL(ctx context.Context, id string) (string, error)
}
