package service

import (
	"context"
	"fmt"

	"github.com/YoshitsuguKoike/repairdesk/internal/app/config"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/dto"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/input"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/repository"
	"github.com/YoshitsuguKoike/repairdesk/internal/pkg/clock"
)

// InterventionQueryService implements input.InterventionQuery
type InterventionQueryService struct {
	repo   repository.InterventionRepository
	origin string
	clock  clock.Clock
}

var _ input.InterventionQuery = (*InterventionQueryService)(nil)

// NewInterventionQueryService creates a query service
func NewInterventionQueryService(repo repository.InterventionRepository, publicOrigin string, clk clock.Clock) *InterventionQueryService {
	if clk == nil {
		clk = clock.System{}
	}
	return &InterventionQueryService{repo: repo, origin: publicOrigin, clock: clk}
}

func (s *InterventionQueryService) SignatureStatus(ctx context.Context, id string) (*dto.SignatureStatusDTO, error) {
	rid, err := intervention.NewRecordID(id)
	if err != nil {
		return nil, err
	}
	snap, err := s.repo.FindSignatureStatus(ctx, rid)
	if err != nil {
		return nil, err
	}
	out := dto.NewSignatureStatusDTO(snap.Effective(s.clock.Now()))
	return &out, nil
}

func (s *InterventionQueryService) LatestForRepair(ctx context.Context, repairID string) (*dto.InterventionSummaryDTO, error) {
	if repairID == "" {
		return nil, fmt.Errorf("%w: missing repair id", intervention.ErrInvalidReport)
	}
	rec, err := s.repo.FindLatestByRepair(ctx, repairID)
	if err != nil {
		return nil, err
	}
	out := dto.NewInterventionSummaryDTO(rec, s.clock.Now())
	return &out, nil
}

func (s *InterventionQueryService) SigningURL(ctx context.Context, id string) (string, error) {
	rid, err := intervention.NewRecordID(id)
	if err != nil {
		return "", err
	}
	rec, err := s.repo.Find(ctx, rid)
	if err != nil {
		return "", err
	}
	switch st := rec.EffectiveStatus(s.clock.Now()); st {
	case intervention.StatusSent:
		return config.SigningURL(s.origin, rec.Grant().Token.String()), nil
	case intervention.StatusSigned:
		return "", intervention.ErrAlreadySigned
	case intervention.StatusExpired:
		return "", intervention.ErrTokenExpired
	default:
		return "", fmt.Errorf("%w: intervention %s is %s", intervention.ErrInvalidTransition, rec.ID(), st)
	}
}
