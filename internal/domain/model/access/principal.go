package access

import "context"

// Role is the access scope a caller was authenticated under
type Role string

const (
	RoleAnonymous  Role = "anonymous"
	RoleTechnician Role = "technician"
)

// Principal identifies the caller of a store operation. Authentication
// happens elsewhere; this only carries its outcome.
type Principal struct {
	Subject string
	ShopID  string
	Role    Role
}

// Anonymous is the principal of a customer opening a signing link
var Anonymous = Principal{Role: RoleAnonymous}

// Technician returns an authenticated technician principal
func Technician(subject, shopID string) Principal {
	return Principal{Subject: subject, ShopID: shopID, Role: RoleTechnician}
}

// IsTechnician reports whether p may act within a shop scope
func (p Principal) IsTechnician() bool {
	return p.Role == RoleTechnician && p.ShopID != ""
}

type principalKey struct{}

// WithPrincipal returns a context carrying p
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal carried by ctx, or Anonymous
func FromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Anonymous
}
