package service

import (
	"context"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/repository"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/metrics"
	"github.com/YoshitsuguKoike/repairdesk/internal/pkg/clock"
)

// DefaultPollInterval is the time between two status reads
const DefaultPollInterval = 5 * time.Second

// PollerConfig holds status poller settings
type PollerConfig struct {
	Interval   time.Duration // Time between reads
	MaxBackoff time.Duration // Cap for backoff on consecutive failures, 0 disables backoff
}

// DefaultPollerConfig returns fixed 5s polling without backoff
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Interval: DefaultPollInterval}
}

// StatusPoller watches a record's signature status from the technician's
// session, which cannot observe the signer directly.
type StatusPoller struct {
	repo    repository.InterventionRepository
	config  PollerConfig
	clock   clock.Clock
	logger  app.Logger
	metrics *metrics.Metrics
}

// NewStatusPoller creates a status poller
func NewStatusPoller(repo repository.InterventionRepository, cfg PollerConfig, clk clock.Clock, logger app.Logger, m *metrics.Metrics) *StatusPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &StatusPoller{repo: repo, config: cfg, clock: clk, logger: app.OrDefault(logger), metrics: m}
}

// PollHandle is one running poll loop. The caller that started it owns it
// and must Stop it when the session ends.
type PollHandle struct {
	recordID intervention.RecordID
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex // held while an update is delivered
	stopped bool
}

// RecordID returns the record being polled
func (h *PollHandle) RecordID() intervention.RecordID { return h.recordID }

// Done is closed when the loop has exited
func (h *PollHandle) Done() <-chan struct{} { return h.done }

// Stop ends the loop and waits for it to exit. Once Stop returns no update
// is delivered, including the result of a read that was in flight.
// Stop must not be called from inside the onUpdate callback.
func (h *PollHandle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.cancel()
	<-h.done
}

// deliver calls fn unless the handle was stopped
func (h *PollHandle) deliver(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	fn()
	return true
}

// Start polls id until its status is terminal (signed, or expired once
// lazy expiry applies), Stop is called, or ctx ends. onUpdate receives
// every successful read, with lazy expiry applied, on the poll goroutine.
// At most one read is in flight: the next read is scheduled after the
// previous one completes. Read failures are logged and counted; the loop
// keeps going.
func (p *StatusPoller) Start(ctx context.Context, id intervention.RecordID, onUpdate func(intervention.SignatureSnapshot)) *PollHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &PollHandle{recordID: id, cancel: cancel, done: make(chan struct{})}

	p.metrics.PollerStarted()
	go func() {
		defer close(h.done)
		defer p.metrics.PollerStopped()
		p.loop(ctx, h, onUpdate)
	}()
	return h
}

func (p *StatusPoller) loop(ctx context.Context, h *PollHandle, onUpdate func(intervention.SignatureSnapshot)) {
	timer := time.NewTimer(p.config.Interval)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		snap, err := p.repo.FindSignatureStatus(ctx, h.recordID)
		if ctx.Err() != nil {
			return
		}
		p.metrics.PollRead(err != nil)
		if err != nil {
			failures++
			p.logger.Warn("poll signature status of %s (attempt %d): %v", h.recordID, failures, err)
			timer.Reset(p.delay(failures))
			continue
		}
		failures = 0

		snap = snap.Effective(p.clock.Now())
		if !h.deliver(func() {
			if onUpdate != nil {
				onUpdate(snap)
			}
		}) {
			return
		}
		if snap.Status.IsTerminal() {
			p.logger.Debug("poller for %s stopping on %s", h.recordID, snap.Status)
			return
		}
		timer.Reset(p.config.Interval)
	}
}

// delay returns the wait after n consecutive failures
func (p *StatusPoller) delay(n int) time.Duration {
	if p.config.MaxBackoff <= 0 {
		return p.config.Interval
	}
	d := p.config.Interval
	for i := 1; i < n && d < p.config.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.config.MaxBackoff {
		d = p.config.MaxBackoff
	}
	return d
}
