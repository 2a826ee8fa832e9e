package intervention

import "time"

// SignatureSnapshot is what the status poller reads:
// {signatureStatus, signatureImage?, signatureSignedAt?} plus the expiry
// needed to apply the lazy expiry check.
type SignatureSnapshot struct {
	RecordID       RecordID
	Status         SignatureStatus
	Image          SignatureImage
	SignedAt       *time.Time
	TokenExpiresAt *time.Time
}

// Effective returns the snapshot with the lazy expiry check applied
func (s SignatureSnapshot) Effective(now time.Time) SignatureSnapshot {
	out := s
	var grant *SigningGrant
	if s.TokenExpiresAt != nil {
		grant = &SigningGrant{ExpiresAt: *s.TokenExpiresAt}
	}
	out.Status = effectiveStatus(s.Status, grant, now)
	return out
}
