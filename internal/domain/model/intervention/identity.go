package intervention

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RecordID is a value object identifying one intervention record
type RecordID struct {
	value string
}

// GenerateRecordID generates a new record ID using ULID
// Format: ULID (e.g., 01JB6X8Y2K9FQR4T3VWHGP5M2C)
// IDs generated within the same millisecond sort in generation order.
func GenerateRecordID(now time.Time) RecordID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(now), entropy)
	return RecordID{value: id.String()}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRecordID validates and wraps an existing record ID
func NewRecordID(value string) (RecordID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return RecordID{}, fmt.Errorf("%w: empty", ErrMalformedID)
	}
	id, err := ulid.ParseStrict(value)
	if err != nil {
		return RecordID{}, fmt.Errorf("%w: %q", ErrMalformedID, value)
	}
	return RecordID{value: id.String()}, nil
}

// String returns the string representation of the record ID
func (id RecordID) String() string { return id.value }

// IsZero reports whether the ID was never set
func (id RecordID) IsZero() bool { return id.value == "" }

// SigningToken is the single-use credential embedded in the signing URL
type SigningToken struct {
	value string
}

// GenerateSigningToken mints a new random token (UUIDv4 from crypto/rand)
func GenerateSigningToken() (SigningToken, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return SigningToken{}, fmt.Errorf("generate signing token: %w", err)
	}
	return SigningToken{value: u.String()}, nil
}

// ParseSigningToken validates a token received from the outside world
func ParseSigningToken(value string) (SigningToken, error) {
	u, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil || u.Version() != 4 {
		return SigningToken{}, ErrMalformedToken
	}
	return SigningToken{value: u.String()}, nil
}

// String returns the canonical token text
func (t SigningToken) String() string { return t.value }

// IsZero reports whether the token was never set
func (t SigningToken) IsZero() bool { return t.value == "" }

// SigningGrant pairs a token with its expiry. A record either carries a
// whole grant or none, so token and expiry can never drift apart.
type SigningGrant struct {
	Token     SigningToken
	ExpiresAt time.Time
}

// ExpiredAt reports whether the grant is no longer valid at now
func (g SigningGrant) ExpiredAt(now time.Time) bool {
	return now.After(g.ExpiresAt)
}
