package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repairdesk/internal/application/service"
)

var expires = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

// scriptedState is a state source tests can rewrite
type scriptedState struct {
	mu sync.Mutex
	s  service.WorkflowState
}

func (f *scriptedState) get() service.WorkflowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *scriptedState) set(s service.WorkflowState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s = s
}

type fakeQR struct{ calls int }

func (q *fakeQR) PNG(content string) ([]byte, error) { return nil, errors.New("unused") }

func (q *fakeQR) Terminal(content string) (string, error) {
	q.calls++
	return "[qr:" + content + "]\n", nil
}

func awaiting() service.WorkflowState {
	return service.WorkflowState{
		Phase:      service.PhaseAwaiting,
		RecordID:   "01JNJ3Q8ZC5V2R9M4K7T0B1HXD",
		Token:      "tok",
		SigningURL: "https://shop.example/sign/tok",
		ExpiresAt:  expires,
	}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestWatchModel_AwaitingShowsLinkAndQR(t *testing.T) {
	src := &scriptedState{s: awaiting()}
	qr := &fakeQR{}
	changed := make(chan struct{}, 1)
	m := NewWatchModel(src.get, changed, qr)

	assert.False(t, m.Finished())
	view := m.View()
	assert.Contains(t, view, "[qr:https://shop.example/sign/tok]")
	assert.Contains(t, view, "https://shop.example/sign/tok")
	assert.Contains(t, view, "Valid until:  2026-03-04 09:00 UTC")
	assert.Contains(t, view, "Waiting for the customer to sign")
	assert.Contains(t, view, "q: stop watching")

	// Re-reading the same link does not re-render the QR code
	_, cmd := m.Update(stateChangedMsg{})
	require.NotNil(t, cmd)
	assert.Equal(t, 1, qr.calls)

	// The returned command waits for the next change instead of quitting
	changed <- struct{}{}
	assert.Equal(t, stateChangedMsg{}, cmd())
}

func TestWatchModel_StillAwaitingKeepsWaiting(t *testing.T) {
	src := &scriptedState{s: awaiting()}
	changed := make(chan struct{})
	m := NewWatchModel(src.get, changed, nil)

	_, cmd := m.Update(stateChangedMsg{})
	require.NotNil(t, cmd)
	assert.False(t, m.Finished())

	close(changed)
	msg := cmd()
	assert.Equal(t, feedClosedMsg{}, msg)
	_, isQuitMsg := msg.(tea.QuitMsg)
	assert.False(t, isQuitMsg)
}

func TestWatchModel_QuitsOnOutcome(t *testing.T) {
	signedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		state service.WorkflowState
		want  string
	}{
		{"signed", service.WorkflowState{Phase: service.PhaseSigned, SignedAt: &signedAt}, "✓ Signed at 2026-03-01 10:00 UTC"},
		{"expired", service.WorkflowState{Phase: service.PhaseExpired}, "expired before it was signed"},
		{"failed", service.WorkflowState{Phase: service.PhaseFailed, Err: errors.New("store unavailable")}, "✗ Signature request failed: store unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedState{s: awaiting()}
			m := NewWatchModel(src.get, make(chan struct{}), nil)

			src.set(tt.state)
			_, cmd := m.Update(stateChangedMsg{})
			require.True(t, isQuit(cmd))
			assert.True(t, m.Finished())
			assert.False(t, m.Aborted())

			view := m.View()
			assert.Contains(t, view, tt.want)
			assert.NotContains(t, view, "q: stop watching")
		})
	}
}

func TestWatchModel_StaleNotificationCannotRollBack(t *testing.T) {
	signedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	src := &scriptedState{s: service.WorkflowState{Phase: service.PhaseSigned, SignedAt: &signedAt}}
	m := NewWatchModel(src.get, make(chan struct{}), nil)

	// Already finished at construction: Init quits immediately
	assert.True(t, m.Finished())
	assert.True(t, isQuit(m.Init()))
	assert.Equal(t, service.PhaseSigned, m.State().Phase)
}

func TestWatchModel_KeyQuitAborts(t *testing.T) {
	src := &scriptedState{s: awaiting()}
	m := NewWatchModel(src.get, make(chan struct{}), nil)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Nil(t, cmd)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.True(t, isQuit(cmd))
	assert.True(t, m.Aborted())
	assert.False(t, m.Finished())
	assert.NotContains(t, m.View(), "q: stop watching")
}

func TestWatchModel_WaitDeliversChange(t *testing.T) {
	src := &scriptedState{s: awaiting()}
	changed := make(chan struct{}, 1)
	m := NewWatchModel(src.get, changed, nil)

	changed <- struct{}{}
	assert.Equal(t, stateChangedMsg{}, m.wait()())

	close(changed)
	assert.Equal(t, feedClosedMsg{}, m.wait()())
	_, cmd := m.Update(feedClosedMsg{})
	assert.True(t, isQuit(cmd))
}

func TestWatchModel_IssuingShowsSpinner(t *testing.T) {
	src := &scriptedState{s: service.WorkflowState{Phase: service.PhaseIssuing}}
	m := NewWatchModel(src.get, make(chan struct{}), nil)
	view := m.View()
	assert.True(t, strings.Contains(view, "Issuing signing link"))
	assert.False(t, m.Finished())
}
