package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/access"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
)

// Tables is the shared in-memory data behind one or more store views
type Tables struct {
	mu      sync.RWMutex
	records map[string]*intervention.Intervention
	tokens  map[string]string // token -> record id
}

// NewTables creates empty tables
func NewTables() *Tables {
	return &Tables{
		records: make(map[string]*intervention.Intervention),
		tokens:  make(map[string]string),
	}
}

// InterventionStore is a mutex-guarded in-memory intervention store. Like
// the SQL stores it has a direct view that applies the shop policy and a
// privileged view that does not.
type InterventionStore struct {
	tables     *Tables
	privileged bool
}

// NewInterventionStore returns a store view over tables
func NewInterventionStore(tables *Tables, privileged bool) *InterventionStore {
	return &InterventionStore{tables: tables, privileged: privileged}
}

// Name identifies the route
func (s *InterventionStore) Name() string {
	if s.privileged {
		return "privileged"
	}
	return "direct"
}

func (s *InterventionStore) fail(op string, err error) error {
	return intervention.NewStoreError(op, s.Name(), err)
}

// scope returns the caller's shop filter; empty means unfiltered
func (s *InterventionStore) scope(ctx context.Context) (string, error) {
	p := access.FromContext(ctx)
	if s.privileged {
		return p.ShopID, nil
	}
	if !p.IsTechnician() {
		return "", intervention.ErrUnauthorized
	}
	return p.ShopID, nil
}

func visible(rec *intervention.Intervention, shop string) bool {
	return shop == "" || rec.ShopID() == shop
}

// Create stores a copy of rec
func (s *InterventionStore) Create(ctx context.Context, rec *intervention.Intervention) error {
	const op = "create"
	if rec == nil {
		return s.fail(op, fmt.Errorf("%w: nil record", intervention.ErrInvalidReport))
	}
	shop, err := s.scope(ctx)
	if err != nil {
		return s.fail(op, err)
	}
	if !s.privileged && rec.ShopID() != shop {
		return s.fail(op, intervention.ErrUnauthorized)
	}
	if strings.TrimSpace(rec.ShopID()) == "" {
		return s.fail(op, fmt.Errorf("%w: missing shop", intervention.ErrInvalidReport))
	}

	t := s.tables
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[rec.ID().String()]; ok {
		return &intervention.StoreError{Op: op, Route: s.Name(), Kind: intervention.KindConflict,
			Err: fmt.Errorf("duplicate id %s", rec.ID())}
	}
	if g := rec.Grant(); g != nil {
		if _, ok := t.tokens[g.Token.String()]; ok {
			return &intervention.StoreError{Op: op, Route: s.Name(), Kind: intervention.KindConflict,
				Err: fmt.Errorf("duplicate signing token")}
		}
	}
	cp, err := clone(rec)
	if err != nil {
		return s.fail(op, err)
	}
	t.records[rec.ID().String()] = cp
	if g := rec.Grant(); g != nil {
		t.tokens[g.Token.String()] = rec.ID().String()
	}
	return nil
}

// Find retrieves a record by ID
func (s *InterventionStore) Find(ctx context.Context, id intervention.RecordID) (*intervention.Intervention, error) {
	const op = "find"
	shop, err := s.scope(ctx)
	if err != nil {
		return nil, s.fail(op, err)
	}
	t := s.tables
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id.String()]
	if !ok || !visible(rec, shop) {
		return nil, s.fail(op, fmt.Errorf("%w: %s", intervention.ErrRecordNotFound, id))
	}
	return clone(rec)
}

// FindSignatureStatus reads only the signature sub-state
func (s *InterventionStore) FindSignatureStatus(ctx context.Context, id intervention.RecordID) (intervention.SignatureSnapshot, error) {
	rec, err := s.Find(ctx, id)
	if err != nil {
		return intervention.SignatureSnapshot{}, err
	}
	return rec.Snapshot(), nil
}

// FindByToken resolves a signing token to its record
func (s *InterventionStore) FindByToken(ctx context.Context, token intervention.SigningToken) (*intervention.Intervention, error) {
	const op = "find_by_token"
	shop, err := s.scope(ctx)
	if err != nil {
		return nil, s.fail(op, err)
	}
	t := s.tables
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[t.tokens[token.String()]]
	if !ok || !visible(rec, shop) {
		return nil, s.fail(op, intervention.ErrTokenNotFound)
	}
	return clone(rec)
}

// FindLatestByRepair returns the most recently created record of a repair
func (s *InterventionStore) FindLatestByRepair(ctx context.Context, repairID string) (*intervention.Intervention, error) {
	const op = "find_latest_by_repair"
	return s.latest(ctx, op, func(rec *intervention.Intervention) bool {
		return repairID != "" && rec.RepairID() == repairID
	}, "repair "+repairID)
}

// FindByIssueKey returns the latest record created under an idempotency key
func (s *InterventionStore) FindByIssueKey(ctx context.Context, shopID, issueKey string) (*intervention.Intervention, error) {
	const op = "find_by_issue_key"
	return s.latest(ctx, op, func(rec *intervention.Intervention) bool {
		return issueKey != "" && rec.ShopID() == shopID && rec.IssueKey() == issueKey
	}, "issue key "+issueKey)
}

func (s *InterventionStore) latest(ctx context.Context, op string, match func(*intervention.Intervention) bool, what string) (*intervention.Intervention, error) {
	shop, err := s.scope(ctx)
	if err != nil {
		return nil, s.fail(op, err)
	}
	t := s.tables
	t.mu.RLock()
	defer t.mu.RUnlock()

	var found []*intervention.Intervention
	for _, rec := range t.records {
		if visible(rec, shop) && match(rec) {
			found = append(found, rec)
		}
	}
	if len(found) == 0 {
		return nil, s.fail(op, fmt.Errorf("%w: %s", intervention.ErrRecordNotFound, what))
	}
	sort.Slice(found, func(i, j int) bool {
		if !found[i].CreatedAt().Equal(found[j].CreatedAt()) {
			return found[i].CreatedAt().After(found[j].CreatedAt())
		}
		return found[i].ID().String() > found[j].ID().String()
	})
	return clone(found[0])
}

// SubmitSignature applies sent -> signed under the write lock, which makes
// the check and the write one atomic step.
func (s *InterventionStore) SubmitSignature(ctx context.Context, token intervention.SigningToken, image intervention.SignatureImage, now time.Time) error {
	const op = "submit_signature"
	shop, err := s.scope(ctx)
	if err != nil {
		return s.fail(op, err)
	}
	if token.IsZero() {
		return s.fail(op, intervention.ErrMalformedToken)
	}

	t := s.tables
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[t.tokens[token.String()]]
	if !ok || !visible(rec, shop) {
		return s.fail(op, intervention.ErrTokenNotFound)
	}
	if err := rec.Sign(token, image, now); err != nil {
		return s.fail(op, err)
	}
	return nil
}

// MarkExpired persists expired for sent records lapsed at now
func (s *InterventionStore) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	const op = "mark_expired"
	shop, err := s.scope(ctx)
	if err != nil {
		return 0, s.fail(op, err)
	}
	t := s.tables
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, rec := range t.records {
		if visible(rec, shop) && rec.MarkExpired(now) {
			n++
		}
	}
	return n, nil
}

// clone copies a record so callers never alias stored state
func clone(rec *intervention.Intervention) (*intervention.Intervention, error) {
	var grant *intervention.SigningGrant
	if g := rec.Grant(); g != nil {
		cp := *g
		grant = &cp
	}
	var signedAt *time.Time
	if rec.SignedAt() != nil {
		cp := *rec.SignedAt()
		signedAt = &cp
	}
	report := rec.Report()
	if report.Extra != nil {
		extra := make(map[string]string, len(report.Extra))
		for k, v := range report.Extra {
			extra[k] = v
		}
		report.Extra = extra
	}
	return intervention.ReconstructIntervention(
		rec.ID(), rec.ShopID(), rec.RepairID(), rec.IssueKey(), report,
		grant, rec.Status(), rec.Image(), signedAt, rec.CreatedAt(), rec.UpdatedAt(),
	)
}
