// Package status renders a one-line recording indicator with the elapsed
// timer and handles the pause and stop keys.
package status

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go2tv.app/screenrec/recorder"
)

// Controls is the part of the recorder the view drives.
type Controls interface {
	Pause() error
	Resume() error
	Snapshot() recorder.Snapshot
}

const refreshInterval = 250 * time.Millisecond

var (
	recStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF4D4F"))
	pausedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAAD14"))
	timerStyle  = lipgloss.NewStyle().Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
)

type tickMsg time.Time

// failedMsg reports a session that ended on its own.
type failedMsg struct {
	err error
}

type Model struct {
	ctrl Controls
	snap recorder.Snapshot

	stopRequested bool
	err           error
}

func New(ctrl Controls) Model {
	return Model{ctrl: ctrl, snap: ctrl.Snapshot()}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeypress(msg)
	case tickMsg:
		m.snap = m.ctrl.Snapshot()
		if !m.snap.State.Active() {
			return m, tea.Quit
		}
		return m, tick()
	case failedMsg:
		m.err = msg.err
		m.snap = m.ctrl.Snapshot()
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleKeypress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := msg.String()
	if msg.Type == tea.KeySpace {
		k = " "
	}
	switch k {
	case "p", " ":
		var err error
		if m.snap.State == recorder.StatePaused {
			err = m.ctrl.Resume()
		} else {
			err = m.ctrl.Pause()
		}
		if err != nil {
			m.err = err
		}
		m.snap = m.ctrl.Snapshot()
		return m, nil
	case "s", "q", "ctrl+c", "esc":
		m.stopRequested = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	if m.err != nil {
		return errStyle.Render("✗ "+m.err.Error()) + "\n"
	}

	indicator := recStyle.Render("● REC")
	toggle := "[p] pause"
	if m.snap.State == recorder.StatePaused {
		indicator = pausedStyle.Render("❚❚ PAUSED")
		toggle = "[p] resume"
	}
	return fmt.Sprintf("%s  %s  %s\n",
		indicator,
		timerStyle.Render(recorder.FormatElapsed(m.snap.Elapsed)),
		helpStyle.Render(toggle+"  [s] stop"),
	)
}

// StopRequested reports whether the user asked to stop.
func (m Model) StopRequested() bool { return m.stopRequested }

// Err returns the failure that ended the view, if any.
func (m Model) Err() error { return m.err }

// Run shows the indicator until the user stops, the session fails or a
// termination signal arrives. It reports whether the caller should stop
// the recording.
func Run(ctrl Controls, failures <-chan error, opts ...tea.ProgramOption) (bool, error) {
	p := tea.NewProgram(New(ctrl), opts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigChan:
			p.Send(tea.KeyMsg{Type: tea.KeyCtrlC})
		case err := <-failures:
			p.Send(failedMsg{err: err})
		case <-done:
		}
	}()

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return true, err
	}
	m, ok := final.(Model)
	if !ok {
		return true, nil
	}
	if m.err != nil {
		return false, m.err
	}
	return m.stopRequested || m.snap.State.Active(), nil
}
