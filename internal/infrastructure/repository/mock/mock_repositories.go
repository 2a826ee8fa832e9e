package mock

import (
	"context"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/repository"
)

// Operation names used for error injection and call counting
const (
	OpCreate              = "create"
	OpFind                = "find"
	OpFindSignatureStatus = "find_signature_status"
	OpFindByToken         = "find_by_token"
	OpFindLatestByRepair  = "find_latest_by_repair"
	OpFindByIssueKey      = "find_by_issue_key"
	OpSubmitSignature     = "submit_signature"
	OpMarkExpired         = "mark_expired"
)

type injectedFailure struct {
	err       error
	remaining int // <= 0 means every call
}

// MockInterventionRoute is a scriptable intervention store route. Calls are
// counted per operation; injected errors are returned instead of reaching
// the delegate, which may be nil when every used operation fails.
type MockInterventionRoute struct {
	mu       sync.Mutex
	name     string
	delegate repository.InterventionRepository
	failures map[string]*injectedFailure
	calls    map[string]int
	hook     func(op string)
}

// NewMockInterventionRoute creates a mock route named name
func NewMockInterventionRoute(name string, delegate repository.InterventionRepository) *MockInterventionRoute {
	return &MockInterventionRoute{
		name:     name,
		delegate: delegate,
		failures: make(map[string]*injectedFailure),
		calls:    make(map[string]int),
	}
}

// Name identifies the route
func (m *MockInterventionRoute) Name() string { return m.name }

// FailWith makes every call of op return err
func (m *MockInterventionRoute) FailWith(op string, err error) {
	m.FailTimes(op, 0, err)
}

// FailTimes makes the next n calls of op return err
func (m *MockInterventionRoute) FailTimes(op string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = &injectedFailure{err: err, remaining: n}
}

// Heal removes any injected failure for op
func (m *MockInterventionRoute) Heal(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, op)
}

// OnCall registers a hook run at the start of every call, outside the lock
func (m *MockInterventionRoute) OnCall(hook func(op string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Calls returns how many times op was invoked
func (m *MockInterventionRoute) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of calls across all operations
func (m *MockInterventionRoute) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// enter records a call and returns the injected error, if any
func (m *MockInterventionRoute) enter(op string) error {
	m.mu.Lock()
	m.calls[op]++
	hook := m.hook
	var err error
	if f, ok := m.failures[op]; ok {
		err = f.err
		if f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				delete(m.failures, op)
			}
		}
	}
	m.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	if err == nil && m.delegate == nil {
		err = intervention.NewStoreError(op, m.name, intervention.ErrRecordNotFound)
	}
	return err
}

func (m *MockInterventionRoute) Create(ctx context.Context, rec *intervention.Intervention) error {
	if err := m.enter(OpCreate); err != nil {
		return err
	}
	return m.delegate.Create(ctx, rec)
}

func (m *MockInterventionRoute) Find(ctx context.Context, id intervention.RecordID) (*intervention.Intervention, error) {
	if err := m.enter(OpFind); err != nil {
		return nil, err
	}
	return m.delegate.Find(ctx, id)
}

func (m *MockInterventionRoute) FindSignatureStatus(ctx context.Context, id intervention.RecordID) (intervention.SignatureSnapshot, error) {
	if err := m.enter(OpFindSignatureStatus); err != nil {
		return intervention.SignatureSnapshot{}, err
	}
	return m.delegate.FindSignatureStatus(ctx, id)
}

func (m *MockInterventionRoute) FindByToken(ctx context.Context, token intervention.SigningToken) (*intervention.Intervention, error) {
	if err := m.enter(OpFindByToken); err != nil {
		return nil, err
	}
	return m.delegate.FindByToken(ctx, token)
}

func (m *MockInterventionRoute) FindLatestByRepair(ctx context.Context, repairID string) (*intervention.Intervention, error) {
	if err := m.enter(OpFindLatestByRepair); err != nil {
		return nil, err
	}
	return m.delegate.FindLatestByRepair(ctx, repairID)
}

func (m *MockInterventionRoute) FindByIssueKey(ctx context.Context, shopID, issueKey string) (*intervention.Intervention, error) {
	if err := m.enter(OpFindByIssueKey); err != nil {
		return nil, err
	}
	return m.delegate.FindByIssueKey(ctx, shopID, issueKey)
}

func (m *MockInterventionRoute) SubmitSignature(ctx context.Context, token intervention.SigningToken, image intervention.SignatureImage, now time.Time) error {
	if err := m.enter(OpSubmitSignature); err != nil {
		return err
	}
	return m.delegate.SubmitSignature(ctx, token, image, now)
}

func (m *MockInterventionRoute) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	if err := m.enter(OpMarkExpired); err != nil {
		return 0, err
	}
	return m.delegate.MarkExpired(ctx, now)
}
