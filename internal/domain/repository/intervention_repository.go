package repository

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
)

// InterventionRepository is the keyed read/write contract for intervention
// records. The caller's access scope travels in ctx (see model/access).
type InterventionRepository interface {
	// Create persists a new record in one statement
	Create(ctx context.Context, rec *intervention.Intervention) error

	// Find retrieves a record by ID
	Find(ctx context.Context, id intervention.RecordID) (*intervention.Intervention, error)

	// FindSignatureStatus reads only the signature sub-state of a record
	FindSignatureStatus(ctx context.Context, id intervention.RecordID) (intervention.SignatureSnapshot, error)

	// FindByToken resolves a signing token to its record
	FindByToken(ctx context.Context, token intervention.SigningToken) (*intervention.Intervention, error)

	// FindLatestByRepair returns the most recently created record of a repair
	FindLatestByRepair(ctx context.Context, repairID string) (*intervention.Intervention, error)

	// FindByIssueKey returns the record created under an idempotency key
	FindByIssueKey(ctx context.Context, shopID, issueKey string) (*intervention.Intervention, error)

	// SubmitSignature applies sent -> signed as one conditional update
	// (status = sent and not expired at now). A lost race returns
	// ErrAlreadySigned or ErrTokenExpired and leaves the stored image intact.
	SubmitSignature(ctx context.Context, token intervention.SigningToken, image intervention.SignatureImage, now time.Time) error

	// MarkExpired persists expired for sent records lapsed at now
	MarkExpired(ctx context.Context, now time.Time) (int, error)
}
