package service

import (
	"context"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/app/config"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/dto"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/input"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/access"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/repository"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/metrics"
	"github.com/YoshitsuguKoike/repairdesk/internal/pkg/clock"
)

// IssuerConfig holds token issuance settings
type IssuerConfig struct {
	TokenTTL     time.Duration // Validity window of a signing link
	PublicOrigin string        // Origin the signing URL is built on
}

// DefaultIssuerConfig returns the default issuance settings
func DefaultIssuerConfig() IssuerConfig {
	return IssuerConfig{TokenTTL: intervention.TokenTTL, PublicOrigin: "http://localhost:8080"}
}

// TokenIssuer mints signing tokens. Each issuance creates a record already
// in the sent state and persists it with a single insert, so a record is
// never observable with a token but no expiry.
type TokenIssuer struct {
	repo    repository.InterventionRepository
	config  IssuerConfig
	clock   clock.Clock
	logger  app.Logger
	metrics *metrics.Metrics
}

// NewTokenIssuer creates a token issuer
func NewTokenIssuer(repo repository.InterventionRepository, cfg IssuerConfig, clk clock.Clock, logger app.Logger, m *metrics.Metrics) *TokenIssuer {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = intervention.TokenTTL
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &TokenIssuer{repo: repo, config: cfg, clock: clk, logger: app.OrDefault(logger), metrics: m}
}

// Issue creates an intervention record for the calling technician's shop
// and returns its signing grant. Required report fields are the caller's
// responsibility.
//
// Without an IssueKey every call mints a new record. With one, a repeated
// call returns the original grant while that record is still awaiting its
// signature; once it is signed or lapsed a new record is minted.
func (s *TokenIssuer) Issue(ctx context.Context, req dto.IssueRequest) (*dto.IssueResult, error) {
	p := access.FromContext(ctx)
	if !p.IsTechnician() {
		return nil, fmt.Errorf("issue signing token: %w", intervention.ErrUnauthorized)
	}
	now := s.clock.Now()

	if req.IssueKey != "" {
		existing, err := s.repo.FindByIssueKey(ctx, p.ShopID, req.IssueKey)
		switch {
		case err == nil:
			if existing.EffectiveStatus(now) == intervention.StatusSent {
				s.logger.Info("issue key %s replayed for intervention %s", req.IssueKey, existing.ID())
				s.metrics.IssueReplayed()
				return s.result(existing, true), nil
			}
		case intervention.KindOf(err) == intervention.KindNotFound:
		default:
			return nil, fmt.Errorf("look up issue key: %w", err)
		}
	}

	rec, err := intervention.NewDraft(intervention.GenerateRecordID(now), p.ShopID, req.RepairID, req.IssueKey, req.Report, now)
	if err != nil {
		return nil, fmt.Errorf("create intervention draft: %w", err)
	}
	token, err := intervention.GenerateSigningToken()
	if err != nil {
		return nil, fmt.Errorf("generate signing token: %w", err)
	}
	if err := rec.IssueToken(token, now, s.config.TokenTTL); err != nil {
		return nil, fmt.Errorf("issue signing token: %w", err)
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist intervention: %w", err)
	}

	s.metrics.TokenIssued()
	s.logger.Info("issued signing token for intervention %s (repair %q), expires %s",
		rec.ID(), rec.RepairID(), rec.Grant().ExpiresAt.Format(time.RFC3339))
	return s.result(rec, false), nil
}

func (s *TokenIssuer) result(rec *intervention.Intervention, replayed bool) *dto.IssueResult {
	g := rec.Grant()
	return &dto.IssueResult{
		ID:         rec.ID().String(),
		Token:      g.Token.String(),
		ExpiresAt:  g.ExpiresAt,
		SigningURL: config.SigningURL(s.config.PublicOrigin, g.Token.String()),
		Replayed:   replayed,
	}
}

var _ input.IssueUseCase = (*TokenIssuer)(nil)
