package dto

import (
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
)

// IssueRequest represents a technician's request for a signing link
type IssueRequest struct {
	RepairID string                    `json:"repairId,omitempty"`
	IssueKey string                    `json:"issueKey,omitempty"` // Optional idempotency key
	Report   intervention.ReportFields `json:"report"`
}

// IssueResult is returned by token issuance
type IssueResult struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
	SigningURL string    `json:"signingUrl,omitempty"`
	Replayed   bool      `json:"replayed,omitempty"` // Original grant returned for a repeated IssueKey
}

// SignatureStatusDTO is the poller read contract
type SignatureStatusDTO struct {
	ID                string     `json:"id"`
	SignatureStatus   string     `json:"signatureStatus"`
	SignatureImage    string     `json:"signatureImage,omitempty"`
	SignatureSignedAt *time.Time `json:"signatureSignedAt,omitempty"`
	TokenExpiresAt    *time.Time `json:"tokenExpiresAt,omitempty"`
}

// InterventionSummaryDTO describes a record without its signature image
type InterventionSummaryDTO struct {
	ID                string     `json:"id"`
	RepairID          string     `json:"repairId,omitempty"`
	SignatureStatus   string     `json:"signatureStatus"`
	ClientName        string     `json:"clientName"`
	Device            string     `json:"device"`
	TokenExpiresAt    *time.Time `json:"tokenExpiresAt,omitempty"`
	SignatureSignedAt *time.Time `json:"signatureSignedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// SigningPageView is what the signer sees before signing
type SigningPageView struct {
	Token              string
	Status             string
	ClientName         string
	Device             string
	ProblemDescription string
	Diagnosis          string
	EstimatedCost      string
	RiskFlags          []string
	ExpiresAt          time.Time
	SignedAt           *time.Time
}

// SubmitSignatureRequest is the signer's submission
type SubmitSignatureRequest struct {
	SignatureImage string `json:"signatureImage"`
}

// SubmitSignatureResult is returned after a successful signature
type SubmitSignatureResult struct {
	ID                string    `json:"id"`
	SignatureStatus   string    `json:"signatureStatus"`
	SignatureSignedAt time.Time `json:"signatureSignedAt"`
}

// ArchivedArtifactDTO describes one archived artifact
type ArchivedArtifactDTO struct {
	Type        string    `json:"type"`
	StoragePath string    `json:"storagePath"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// NewSignatureStatusDTO converts a snapshot, which should already carry
// lazy expiry
func NewSignatureStatusDTO(s intervention.SignatureSnapshot) SignatureStatusDTO {
	out := SignatureStatusDTO{
		ID:                s.RecordID.String(),
		SignatureStatus:   s.Status.String(),
		SignatureSignedAt: s.SignedAt,
		TokenExpiresAt:    s.TokenExpiresAt,
	}
	if !s.Image.IsZero() {
		out.SignatureImage = s.Image.DataURL()
	}
	return out
}

// NewInterventionSummaryDTO converts a record with its effective status at now
func NewInterventionSummaryDTO(rec *intervention.Intervention, now time.Time) InterventionSummaryDTO {
	out := InterventionSummaryDTO{
		ID:                rec.ID().String(),
		RepairID:          rec.RepairID(),
		SignatureStatus:   rec.EffectiveStatus(now).String(),
		ClientName:        rec.Report().ClientName,
		Device:            rec.Report().DeviceLabel(),
		SignatureSignedAt: rec.SignedAt(),
		CreatedAt:         rec.CreatedAt(),
	}
	if g := rec.Grant(); g != nil {
		exp := g.ExpiresAt
		out.TokenExpiresAt = &exp
	}
	return out
}
