package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/app/config"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/dto"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/repository"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/metrics"
	"github.com/YoshitsuguKoike/repairdesk/internal/pkg/clock"
)

// Phase is the technician-facing state of a signature request
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseIssuing  Phase = "issuing"
	PhaseAwaiting Phase = "awaiting"
	PhaseSigned   Phase = "signed"
	PhaseExpired  Phase = "expired"
	PhaseFailed   Phase = "failed"
)

// WorkflowState is the observable state of a SignatureWorkflow
type WorkflowState struct {
	Phase      Phase
	RecordID   string
	Token      string
	SigningURL string
	ExpiresAt  time.Time
	SignedAt   *time.Time
	Image      intervention.SignatureImage
	Err        error
}

// SignatureWorkflow drives one technician session: it validates and
// issues a signature request, owns the single status poller of the
// session, and publishes state changes.
type SignatureWorkflow struct {
	issuer    *TokenIssuer
	poller    *StatusPoller
	repo      repository.InterventionRepository
	validator *ReportValidator
	origin    string
	clock     clock.Clock
	logger    app.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	state     WorkflowState
	handle    *PollHandle
	gen       uint64 // incremented per poller start
	listeners []func(WorkflowState)
}

// NewSignatureWorkflow creates a workflow session
func NewSignatureWorkflow(
	issuer *TokenIssuer,
	poller *StatusPoller,
	repo repository.InterventionRepository,
	validator *ReportValidator,
	publicOrigin string,
	clk clock.Clock,
	logger app.Logger,
	m *metrics.Metrics,
) *SignatureWorkflow {
	if clk == nil {
		clk = clock.System{}
	}
	return &SignatureWorkflow{
		issuer:    issuer,
		poller:    poller,
		repo:      repo,
		validator: validator,
		origin:    publicOrigin,
		clock:     clk,
		logger:    app.OrDefault(logger),
		metrics:   m,
		state:     WorkflowState{Phase: PhaseIdle},
	}
}

// State returns the current state
func (w *SignatureWorkflow) State() WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// OnChange registers fn to receive every new state. fn may run on the
// poller goroutine and must not call Close.
func (w *SignatureWorkflow) OnChange(fn func(WorkflowState)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// setLocked replaces the state and returns the listeners to notify.
// Callers hold w.mu and notify after releasing it.
func (w *SignatureWorkflow) setLocked(s WorkflowState) []func(WorkflowState) {
	w.state = s
	return append([]func(WorkflowState){}, w.listeners...)
}

func notify(listeners []func(WorkflowState), s WorkflowState) {
	for _, fn := range listeners {
		fn(s)
	}
}

func (w *SignatureWorkflow) set(s WorkflowState) {
	w.mu.Lock()
	ls := w.setLocked(s)
	w.mu.Unlock()
	notify(ls, s)
}

// RequestSignature checks the report, issues a signing token and starts
// polling for the signature. Any poller of a previous request is stopped
// first. On failure the phase is failed and no signing URL is exposed.
func (w *SignatureWorkflow) RequestSignature(ctx context.Context, req dto.IssueRequest) (*dto.IssueResult, error) {
	w.stopPoller()
	w.set(WorkflowState{Phase: PhaseIssuing})

	if w.validator != nil {
		if err := w.validator.Validate(req.Report); err != nil {
			w.set(WorkflowState{Phase: PhaseFailed, Err: err})
			return nil, err
		}
	}

	res, err := w.issuer.Issue(ctx, req)
	if err != nil {
		w.set(WorkflowState{Phase: PhaseFailed, Err: err})
		return nil, err
	}
	id, err := intervention.NewRecordID(res.ID)
	if err != nil {
		w.set(WorkflowState{Phase: PhaseFailed, Err: err})
		return nil, err
	}

	w.await(ctx, id, WorkflowState{
		Phase:      PhaseAwaiting,
		RecordID:   res.ID,
		Token:      res.Token,
		SigningURL: res.SigningURL,
		ExpiresAt:  res.ExpiresAt,
	})
	return res, nil
}

// Resume surfaces the most recent record of a repair and polls it when it
// is still awaiting its signature
func (w *SignatureWorkflow) Resume(ctx context.Context, repairID string) (WorkflowState, error) {
	w.stopPoller()

	rec, err := w.repo.FindLatestByRepair(ctx, repairID)
	if err != nil {
		return w.State(), fmt.Errorf("resume repair %s: %w", repairID, err)
	}
	return w.Watch(ctx, rec)
}

// Watch surfaces rec and polls it when it is still awaiting its signature
func (w *SignatureWorkflow) Watch(ctx context.Context, rec *intervention.Intervention) (WorkflowState, error) {
	w.stopPoller()

	s := WorkflowState{RecordID: rec.ID().String()}
	if g := rec.Grant(); g != nil {
		s.Token = g.Token.String()
		s.ExpiresAt = g.ExpiresAt
		s.SigningURL = config.SigningURL(w.origin, g.Token.String())
	}

	switch rec.EffectiveStatus(w.clock.Now()) {
	case intervention.StatusSent:
		s.Phase = PhaseAwaiting
		w.await(ctx, rec.ID(), s)
	case intervention.StatusSigned:
		s.Phase = PhaseSigned
		s.SignedAt = rec.SignedAt()
		s.Image = rec.Image()
		w.set(s)
	case intervention.StatusExpired:
		s.Phase = PhaseExpired
		w.set(s)
	default:
		s.Phase = PhaseIdle
		w.set(s)
	}
	return w.State(), nil
}

// await publishes s and starts the session's poller for id
func (w *SignatureWorkflow) await(ctx context.Context, id intervention.RecordID, s WorkflowState) {
	w.mu.Lock()
	ls := w.setLocked(s)
	w.gen++
	gen := w.gen
	prev := w.handle
	w.handle = w.poller.Start(ctx, id, func(snap intervention.SignatureSnapshot) {
		w.applySnapshot(gen, snap)
	})
	w.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	notify(ls, s)
}

// applySnapshot folds a poll result into the state. Results from a poller
// that is no longer the session's are dropped.
func (w *SignatureWorkflow) applySnapshot(gen uint64, snap intervention.SignatureSnapshot) {
	w.mu.Lock()
	if w.gen != gen || w.handle == nil || w.state.Phase != PhaseAwaiting {
		w.mu.Unlock()
		return
	}
	s := w.state
	switch snap.Status {
	case intervention.StatusSigned:
		s.Phase = PhaseSigned
		s.SignedAt = snap.SignedAt
		s.Image = snap.Image
	case intervention.StatusExpired:
		s.Phase = PhaseExpired
	default:
		w.mu.Unlock()
		return
	}
	ls := w.setLocked(s)
	w.mu.Unlock()

	w.logger.Info("intervention %s is now %s", s.RecordID, s.Phase)
	notify(ls, s)
}

// stopPoller stops the session's poller, if any, and waits for it
func (w *SignatureWorkflow) stopPoller() {
	w.mu.Lock()
	h := w.handle
	w.handle = nil
	w.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// Done returns a channel closed when the current poller exits, or nil
// when no poller runs
func (w *SignatureWorkflow) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handle == nil {
		return nil
	}
	return w.handle.Done()
}

// Close tears the session down. The poller is stopped before Close
// returns; the last state stays readable.
func (w *SignatureWorkflow) Close() {
	w.stopPoller()
}

// Sweep persists expired for every lapsed sent record visible to the
// caller. Readers apply lazy expiry anyway; the sweep only makes the
// stored status match for reporting queries.
func (w *SignatureWorkflow) Sweep(ctx context.Context) (int, error) {
	n, err := w.repo.MarkExpired(ctx, w.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired interventions: %w", err)
	}
	w.metrics.ExpiredSwept(n)
	if n > 0 {
		w.logger.Info("marked %d intervention(s) expired", n)
	}
	return n, nil
}
