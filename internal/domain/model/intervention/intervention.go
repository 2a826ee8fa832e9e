package intervention

import (
	"fmt"
	"time"
)

// TokenTTL is how long a signing link stays valid after issuance
const TokenTTL = 72 * time.Hour

// Intervention is one intervention form for a repair, including its
// signature sub-state.
type Intervention struct {
	id        RecordID
	shopID    string
	repairID  string
	issueKey  string
	report    ReportFields
	grant     *SigningGrant
	status    SignatureStatus
	image     SignatureImage
	signedAt  *time.Time
	createdAt time.Time
	updatedAt time.Time
}

// NewDraft creates a pending intervention owned by shopID.
// repairID and issueKey may be empty.
func NewDraft(id RecordID, shopID, repairID, issueKey string, report ReportFields, now time.Time) (*Intervention, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidReport)
	}
	now = now.UTC()
	return &Intervention{
		id:        id,
		shopID:    shopID,
		repairID:  repairID,
		issueKey:  issueKey,
		report:    report.Normalized(),
		status:    StatusPending,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructIntervention rebuilds an Intervention from persisted data and
// rejects rows that break the record invariants.
func ReconstructIntervention(
	id RecordID,
	shopID, repairID, issueKey string,
	report ReportFields,
	grant *SigningGrant,
	status SignatureStatus,
	image SignatureImage,
	signedAt *time.Time,
	createdAt, updatedAt time.Time,
) (*Intervention, error) {
	switch {
	case status == StatusPending && grant != nil:
		return nil, fmt.Errorf("intervention %s: pending record carries a token", id)
	case status != StatusPending && grant == nil:
		return nil, fmt.Errorf("intervention %s: %s record has no token", id, status)
	case status == StatusSigned && (image.IsZero() || signedAt == nil):
		return nil, fmt.Errorf("intervention %s: signed record without image", id)
	case status != StatusSigned && (!image.IsZero() || signedAt != nil):
		return nil, fmt.Errorf("intervention %s: %s record carries an image", id, status)
	}
	return &Intervention{
		id:        id,
		shopID:    shopID,
		repairID:  repairID,
		issueKey:  issueKey,
		report:    report,
		grant:     grant,
		status:    status,
		image:     image,
		signedAt:  signedAt,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}, nil
}

// IssueToken moves a pending record to sent with a fresh grant
func (i *Intervention) IssueToken(token SigningToken, now time.Time, ttl time.Duration) error {
	if !i.status.CanTransitionTo(StatusSent) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.status, StatusSent)
	}
	if token.IsZero() {
		return ErrMalformedToken
	}
	if ttl <= 0 {
		ttl = TokenTTL
	}
	now = now.UTC()
	i.grant = &SigningGrant{Token: token, ExpiresAt: now.Add(ttl)}
	i.status = StatusSent
	i.updatedAt = now
	return nil
}

// Sign applies sent -> signed. The token must match and still be valid.
func (i *Intervention) Sign(token SigningToken, image SignatureImage, now time.Time) error {
	if i.grant == nil || i.grant.Token != token {
		return ErrTokenNotFound
	}
	if image.IsZero() {
		return ErrInvalidImage
	}
	if err := RejectSignature(i.status, i.grant.ExpiresAt, now); err != nil {
		return err
	}
	now = now.UTC()
	i.status = StatusSigned
	i.image = image
	i.signedAt = &now
	i.updatedAt = now
	return nil
}

// MarkExpired persists the lazily derived expired state. It returns false
// when the record is not a lapsed sent record.
func (i *Intervention) MarkExpired(now time.Time) bool {
	if i.status != StatusSent || !i.grant.ExpiredAt(now) {
		return false
	}
	i.status = StatusExpired
	i.updatedAt = now.UTC()
	return true
}

// EffectiveStatus is the status every reader must present: a sent record
// past its expiry reads as expired whatever is stored.
func (i *Intervention) EffectiveStatus(now time.Time) SignatureStatus {
	return effectiveStatus(i.status, i.grant, now)
}

// Snapshot returns the poller view of the record
func (i *Intervention) Snapshot() SignatureSnapshot {
	s := SignatureSnapshot{
		RecordID: i.id,
		Status:   i.status,
		Image:    i.image,
		SignedAt: i.signedAt,
	}
	if i.grant != nil {
		exp := i.grant.ExpiresAt
		s.TokenExpiresAt = &exp
	}
	return s
}

// RejectSignature decides why a signature cannot be applied to a record in
// the given state, or returns nil when it can. Stores call it after a
// conditional update touched no row.
func RejectSignature(status SignatureStatus, expiresAt time.Time, now time.Time) error {
	switch status {
	case StatusSigned:
		return ErrAlreadySigned
	case StatusExpired:
		return ErrTokenExpired
	case StatusSent:
		if now.After(expiresAt) {
			return ErrTokenExpired
		}
		return nil
	}
	return ErrTokenNotFound
}

func effectiveStatus(status SignatureStatus, grant *SigningGrant, now time.Time) SignatureStatus {
	if status == StatusSent && grant != nil && grant.ExpiredAt(now) {
		return StatusExpired
	}
	return status
}

// Getters
func (i *Intervention) ID() RecordID            { return i.id }
func (i *Intervention) ShopID() string          { return i.shopID }
func (i *Intervention) RepairID() string        { return i.repairID }
func (i *Intervention) IssueKey() string        { return i.issueKey }
func (i *Intervention) Report() ReportFields    { return i.report }
func (i *Intervention) Grant() *SigningGrant    { return i.grant }
func (i *Intervention) Status() SignatureStatus { return i.status }
func (i *Intervention) Image() SignatureImage   { return i.image }
func (i *Intervention) SignedAt() *time.Time    { return i.signedAt }
func (i *Intervention) CreatedAt() time.Time    { return i.createdAt }
func (i *Intervention) UpdatedAt() time.Time    { return i.updatedAt }
