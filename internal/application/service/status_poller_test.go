package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/repository/mock"
)

const tick = 2 * time.Millisecond

// recorder collects poller updates
type recorder struct {
	mu      sync.Mutex
	updates []intervention.SignatureSnapshot
}

func (r *recorder) record(s intervention.SignatureSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recorder) last() intervention.SignatureSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

func (f *fixture) poller(cfg PollerConfig) *StatusPoller {
	return NewStatusPoller(f.router, cfg, f.clock, app.NopLogger(), f.metrics)
}

func TestStatusPoller_StopsAfterSigned(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	id, token := mustIssue(t, f)
	rec := &recorder{}

	h := f.poller(PollerConfig{Interval: tick}).Start(technicianCtx("shop-1"), id, rec.record)
	waitFor(t, func() bool { return rec.count() >= 2 })
	assert.Equal(t, intervention.StatusSent, rec.last().Status)

	_, err := f.resolver(nil).Submit(context.Background(), token, pngDataURL("IMG"))
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after observing signed")
	}
	assert.Equal(t, intervention.StatusSigned, rec.last().Status)
	assert.Equal(t, pngDataURL("IMG"), rec.last().Image.DataURL())

	// No read is issued after the signed observation
	reads := f.direct.Calls(mock.OpFindSignatureStatus)
	time.Sleep(10 * tick)
	assert.Equal(t, reads, f.direct.Calls(mock.OpFindSignatureStatus))

	h.Stop() // idempotent after exit
}

func TestStatusPoller_LazyExpiryIsTerminal(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	id, _ := mustIssue(t, f)
	f.clock.Advance(72*time.Hour + time.Second)
	rec := &recorder{}

	h := f.poller(PollerConfig{Interval: tick}).Start(technicianCtx("shop-1"), id, rec.record)
	<-h.Done()

	require.Equal(t, 1, rec.count())
	assert.Equal(t, intervention.StatusExpired, rec.last().Status)
}

func TestStatusPoller_ToleratesReadFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	id, _ := mustIssue(t, f)
	transient := &intervention.StoreError{Op: "find_signature_status", Route: "direct", Kind: intervention.KindTransient, Err: errors.New("503")}
	f.direct.FailTimes(mock.OpFindSignatureStatus, 3, transient)
	rec := &recorder{}

	h := f.poller(PollerConfig{Interval: tick}).Start(technicianCtx("shop-1"), id, rec.record)
	defer h.Stop()

	waitFor(t, func() bool { return rec.count() >= 1 })
	assert.GreaterOrEqual(t, f.direct.Calls(mock.OpFindSignatureStatus), 4)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.PollFailuresTotal))
	assert.Equal(t, 0, f.privileged.Calls(mock.OpFindSignatureStatus), "transient failures never fall back")

	select {
	case <-h.Done():
		t.Fatal("a failed read must not stop the poller")
	default:
	}
}

func TestStatusPoller_StopDiscardsInFlightRead(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	id, token := mustIssue(t, f)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.direct.OnCall(func(op string) {
		if op != mock.OpFindSignatureStatus {
			return
		}
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	rec := &recorder{}
	h := f.poller(PollerConfig{Interval: tick}).Start(technicianCtx("shop-1"), id, rec.record)
	<-entered

	// The record becomes signed while the read is in flight
	_, err := f.resolver(nil).Submit(context.Background(), token, pngDataURL("IMG"))
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		h.Stop()
		close(stopped)
	}()
	// Stop waits for the in-flight read to unwind
	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.stopped
	})
	close(release)
	<-stopped

	assert.Equal(t, 0, rec.count())
	time.Sleep(10 * tick)
	assert.Equal(t, 0, rec.count())
}

func TestStatusPoller_StopBeforeFirstTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	id, _ := mustIssue(t, f)
	rec := &recorder{}

	h := f.poller(PollerConfig{Interval: time.Hour}).Start(technicianCtx("shop-1"), id, rec.record)
	h.Stop()

	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, f.direct.Calls(mock.OpFindSignatureStatus))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActivePollers))
}

func TestStatusPoller_ParentContextEnds(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	id, _ := mustIssue(t, f)
	ctx, cancel := context.WithCancel(technicianCtx("shop-1"))

	h := f.poller(PollerConfig{Interval: tick}).Start(ctx, id, nil)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller ignored context cancellation")
	}
}

func TestStatusPoller_Delay(t *testing.T) {
	fixed := NewStatusPoller(nil, PollerConfig{Interval: time.Second}, nil, nil, nil)
	assert.Equal(t, time.Second, fixed.delay(1))
	assert.Equal(t, time.Second, fixed.delay(10))

	backoff := NewStatusPoller(nil, PollerConfig{Interval: time.Second, MaxBackoff: 10 * time.Second}, nil, nil, nil)
	assert.Equal(t, time.Second, backoff.delay(1))
	assert.Equal(t, 2*time.Second, backoff.delay(2))
	assert.Equal(t, 4*time.Second, backoff.delay(3))
	assert.Equal(t, 8*time.Second, backoff.delay(4))
	assert.Equal(t, 10*time.Second, backoff.delay(5))
	assert.Equal(t, 10*time.Second, backoff.delay(50))

	assert.Equal(t, DefaultPollInterval, NewStatusPoller(nil, PollerConfig{}, nil, nil, nil).config.Interval)
}
