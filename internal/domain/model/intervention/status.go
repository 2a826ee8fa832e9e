package intervention

import "fmt"

// SignatureStatus is the signature sub-state of an intervention record
type SignatureStatus string

const (
	StatusPending SignatureStatus = "pending"
	StatusSent    SignatureStatus = "sent"
	StatusSigned  SignatureStatus = "signed"
	StatusExpired SignatureStatus = "expired"
)

// ParseSignatureStatus converts a stored value into a SignatureStatus
func ParseSignatureStatus(s string) (SignatureStatus, error) {
	switch SignatureStatus(s) {
	case StatusPending, StatusSent, StatusSigned, StatusExpired:
		return SignatureStatus(s), nil
	}
	return "", fmt.Errorf("unknown signature status: %q", s)
}

// IsTerminal reports whether no further transition is possible
func (s SignatureStatus) IsTerminal() bool {
	return s == StatusSigned || s == StatusExpired
}

// CanTransitionTo reports whether next is a legal successor of s.
// pending -> sent, sent -> signed, sent -> expired. Nothing leaves a terminal state.
func (s SignatureStatus) CanTransitionTo(next SignatureStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSent
	case StatusSent:
		return next == StatusSigned || next == StatusExpired
	}
	return false
}

func (s SignatureStatus) String() string { return string(s) }
