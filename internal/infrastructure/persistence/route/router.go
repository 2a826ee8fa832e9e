// Package route implements the dual-path persistence adapter: every
// operation goes to the direct route first and is retried once on the
// privileged route when, and only when, the direct route refused it for an
// authorization reason.
package route

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/repository"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/metrics"
)

// PersistenceRoute is one access path to the intervention store
type PersistenceRoute interface {
	repository.InterventionRepository
	Name() string
}

// Router implements repository.InterventionRepository over two routes.
// It holds no business logic: both routes perform the same operation.
type Router struct {
	direct     PersistenceRoute
	privileged PersistenceRoute
	logger     app.Logger
	metrics    *metrics.Metrics
}

// NewRouter creates a router. privileged may be nil, in which case
// authorization failures are terminal.
func NewRouter(direct, privileged PersistenceRoute, logger app.Logger, m *metrics.Metrics) *Router {
	return &Router{
		direct:     direct,
		privileged: privileged,
		logger:     app.OrDefault(logger),
		metrics:    m,
	}
}

var _ repository.InterventionRepository = (*Router)(nil)

func do[T any](r *Router, op string, fn func(PersistenceRoute) (T, error)) (T, error) {
	v, err := fn(r.direct)
	if err == nil {
		return v, nil
	}
	kind := intervention.KindOf(err)
	r.metrics.StoreError(r.direct.Name(), string(kind))
	if kind != intervention.KindAuthorization || r.privileged == nil {
		return v, err
	}

	r.logger.Debug("store %s: %s route refused (%v), retrying on %s route", op, r.direct.Name(), err, r.privileged.Name())
	r.metrics.StoreFallback(op)

	v, err = fn(r.privileged)
	if err != nil {
		r.metrics.StoreError(r.privileged.Name(), string(intervention.KindOf(err)))
	}
	return v, err
}

// exec adapts error-only operations to do
func exec(r *Router, op string, fn func(PersistenceRoute) error) error {
	_, err := do(r, op, func(p PersistenceRoute) (struct{}, error) {
		return struct{}{}, fn(p)
	})
	return err
}

func (r *Router) Create(ctx context.Context, rec *intervention.Intervention) error {
	return exec(r, "create", func(p PersistenceRoute) error {
		return p.Create(ctx, rec)
	})
}

func (r *Router) Find(ctx context.Context, id intervention.RecordID) (*intervention.Intervention, error) {
	return do(r, "find", func(p PersistenceRoute) (*intervention.Intervention, error) {
		return p.Find(ctx, id)
	})
}

func (r *Router) FindSignatureStatus(ctx context.Context, id intervention.RecordID) (intervention.SignatureSnapshot, error) {
	return do(r, "find_signature_status", func(p PersistenceRoute) (intervention.SignatureSnapshot, error) {
		return p.FindSignatureStatus(ctx, id)
	})
}

func (r *Router) FindByToken(ctx context.Context, token intervention.SigningToken) (*intervention.Intervention, error) {
	return do(r, "find_by_token", func(p PersistenceRoute) (*intervention.Intervention, error) {
		return p.FindByToken(ctx, token)
	})
}

func (r *Router) FindLatestByRepair(ctx context.Context, repairID string) (*intervention.Intervention, error) {
	return do(r, "find_latest_by_repair", func(p PersistenceRoute) (*intervention.Intervention, error) {
		return p.FindLatestByRepair(ctx, repairID)
	})
}

func (r *Router) FindByIssueKey(ctx context.Context, shopID, issueKey string) (*intervention.Intervention, error) {
	return do(r, "find_by_issue_key", func(p PersistenceRoute) (*intervention.Intervention, error) {
		return p.FindByIssueKey(ctx, shopID, issueKey)
	})
}

func (r *Router) SubmitSignature(ctx context.Context, token intervention.SigningToken, image intervention.SignatureImage, now time.Time) error {
	return exec(r, "submit_signature", func(p PersistenceRoute) error {
		return p.SubmitSignature(ctx, token, image, now)
	})
}

func (r *Router) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	return do(r, "mark_expired", func(p PersistenceRoute) (int, error) {
		return p.MarkExpired(ctx, now)
	})
}
