// Package tui renders a technician's pending signature request in the
// terminal: the signing link as a QR code, a spinner while the customer
// signs, and the outcome.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/service"
)

const timeFormat = "2006-01-02 15:04 MST"

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	urlStyle     = lipgloss.NewStyle().Underline(true)
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	signedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	expiredStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	qrStyle      = lipgloss.NewStyle().Padding(1, 2)
)

// stateChangedMsg tells the model to re-read the workflow state
type stateChangedMsg struct{}

// feedClosedMsg is sent when nothing will publish further changes
type feedClosedMsg struct{}

// WatchModel is the bubbletea model of the watch screen. It treats change
// notifications as signals and always re-reads the state, so a late
// notification can never roll the screen back.
type WatchModel struct {
	state   func() service.WorkflowState
	changed <-chan struct{}
	qr      output.QRRenderer

	spinner spinner.Model
	current service.WorkflowState
	qrFor   string
	qrText  string

	finished bool
	aborted  bool
}

// NewWatchModel creates the model. qr may be nil to skip the QR code.
func NewWatchModel(state func() service.WorkflowState, changed <-chan struct{}, qr output.QRRenderer) *WatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := &WatchModel{state: state, changed: changed, qr: qr, spinner: sp}
	m.refresh()
	return m
}

// Init implements tea.Model
func (m *WatchModel) Init() tea.Cmd {
	if m.finished {
		return tea.Quit
	}
	return tea.Batch(m.spinner.Tick, m.wait())
}

// Update implements tea.Model
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		}
		return m, nil

	case stateChangedMsg:
		m.refresh()
		if m.finished {
			return m, tea.Quit
		}
		return m, m.wait()

	case feedClosedMsg:
		m.refresh()
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m *WatchModel) View() string {
	s := m.current
	var b strings.Builder

	b.WriteString(titleStyle.Render("Intervention signature"))
	if s.RecordID != "" {
		b.WriteString(hintStyle.Render("  " + s.RecordID))
	}
	b.WriteString("\n\n")

	switch s.Phase {
	case service.PhaseIssuing:
		fmt.Fprintf(&b, "%s Issuing signing link...\n", m.spinner.View())
	case service.PhaseAwaiting:
		if m.qrText != "" {
			b.WriteString(qrStyle.Render(m.qrText))
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Signing link: %s\n", urlStyle.Render(s.SigningURL))
		fmt.Fprintf(&b, "Valid until:  %s\n\n", s.ExpiresAt.Format(timeFormat))
		fmt.Fprintf(&b, "%s Waiting for the customer to sign...\n", m.spinner.View())
	case service.PhaseSigned:
		line := "✓ Signed"
		if s.SignedAt != nil {
			line += " at " + s.SignedAt.Format(timeFormat)
		}
		b.WriteString(signedStyle.Render(line))
		b.WriteString("\n")
	case service.PhaseExpired:
		b.WriteString(expiredStyle.Render("The signing link expired before it was signed."))
		b.WriteString("\n")
		b.WriteString(hintStyle.Render("Issue a new request to try again."))
		b.WriteString("\n")
	case service.PhaseFailed:
		msg := "✗ Signature request failed"
		if s.Err != nil {
			msg += ": " + s.Err.Error()
		}
		b.WriteString(failedStyle.Render(msg))
		b.WriteString("\n")
	default:
		b.WriteString("Nothing is awaiting a signature.\n")
	}

	if !m.finished && !m.aborted {
		b.WriteString("\n")
		b.WriteString(hintStyle.Render("q: stop watching (the link stays valid)"))
		b.WriteString("\n")
	}
	return b.String()
}

// State returns the last state the model rendered
func (m *WatchModel) State() service.WorkflowState { return m.current }

// Finished reports whether the request reached an outcome
func (m *WatchModel) Finished() bool { return m.finished }

// Aborted reports whether the technician stopped watching
func (m *WatchModel) Aborted() bool { return m.aborted }

func (m *WatchModel) refresh() {
	m.current = m.state()
	switch m.current.Phase {
	case service.PhaseSigned, service.PhaseExpired, service.PhaseFailed, service.PhaseIdle:
		m.finished = true
	}
	if m.qr != nil && m.current.SigningURL != "" && m.current.SigningURL != m.qrFor {
		m.qrFor = m.current.SigningURL
		if text, err := m.qr.Terminal(m.current.SigningURL); err == nil {
			m.qrText = strings.TrimRight(text, "\n")
		} else {
			m.qrText = ""
		}
	}
}

func (m *WatchModel) wait() tea.Cmd {
	ch := m.changed
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return feedClosedMsg{}
		}
		return stateChangedMsg{}
	}
}

// ErrAborted is returned by Watch when the technician quits before an outcome
var ErrAborted = errors.New("stopped watching before the request was signed")

// Watch runs the watch screen for w until the request is signed, expires,
// fails, or the technician quits. The workflow keeps running after an
// abort; the caller decides whether to Close it.
func Watch(ctx context.Context, w *service.SignatureWorkflow, qr output.QRRenderer, opts ...tea.ProgramOption) (service.WorkflowState, error) {
	changed := make(chan struct{}, 1)
	w.OnChange(func(service.WorkflowState) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	model := NewWatchModel(w.State, changed, qr)
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(model, opts...).Run()
	if err != nil {
		return w.State(), fmt.Errorf("watch screen: %w", err)
	}
	if fm, ok := final.(*WatchModel); ok && fm.Aborted() {
		return fm.State(), ErrAborted
	}
	return w.State(), nil
}
