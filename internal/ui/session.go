package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/duet/internal/signaling"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// sessionSteps are the handshake states shown as a checklist.
var sessionSteps = []struct {
	state signaling.State
	label string
}{
	{signaling.StateConnecting, "Connecting to server"},
	{signaling.StatePresenceChecked, "Checking room"},
	{signaling.StateRoomEstablished, "Entering room"},
	{signaling.StateParticipationExchanged, "Waiting for peer"},
	{signaling.StateSessionActive, "Exchanging session"},
}

type stateUpdate signaling.State

type roleUpdate signaling.Role

type peerUpdate struct {
	name    string
	version string
}

type failUpdate struct{ err error }

// SessionUI shows handshake progress for one room until the peer greets.
type SessionUI struct {
	program     *tea.Program
	model       *sessionModel
	updates     chan tea.Msg
	interrupted chan struct{}
	wg          sync.WaitGroup
}

type sessionModel struct {
	room      string
	reached   signaling.State
	closed    bool
	role      signaling.Role
	peer      *peerUpdate
	err       error
	spinner   spinner.Model
	startTime time.Time
	updates   chan tea.Msg
	interrupt func()
	quitting  bool
}

// NewSessionUI creates the live view for room.
func NewSessionUI(room string) *SessionUI {
	updates := make(chan tea.Msg, 32)
	interrupted := make(chan struct{})
	var once sync.Once

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &SessionUI{
		model: &sessionModel{
			room:      room,
			spinner:   s,
			startTime: time.Now(),
			updates:   updates,
			interrupt: func() { once.Do(func() { close(interrupted) }) },
		},
		updates:     updates,
		interrupted: interrupted,
	}
}

// Start runs the view in a goroutine.
func (ui *SessionUI) Start() {
	ui.program = tea.NewProgram(ui.model)
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Interrupted is closed when the user presses q or ctrl+c.
func (ui *SessionUI) Interrupted() <-chan struct{} { return ui.interrupted }

// SetState reports handshake progress. Safe from any goroutine.
func (ui *SessionUI) SetState(s signaling.State) { ui.push(stateUpdate(s)) }

// SetRole reports the negotiated role.
func (ui *SessionUI) SetRole(r signaling.Role) { ui.push(roleUpdate(r)) }

// SetPeer reports the peer's greeting.
func (ui *SessionUI) SetPeer(name, version string) {
	ui.push(peerUpdate{name: name, version: version})
}

// Fail shows err and ends the view.
func (ui *SessionUI) Fail(err error) { ui.push(failUpdate{err: err}) }

func (ui *SessionUI) push(msg tea.Msg) {
	select {
	case ui.updates <- msg:
	default:
	}
}

// Stop ends the view and waits for the terminal to be restored.
func (ui *SessionUI) Stop() {
	if ui.program != nil {
		ui.program.Quit()
	}
	ui.wg.Wait()
}

func (m *sessionModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdates())
}

func (m *sessionModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *sessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.interrupt()
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateUpdate:
		if s := signaling.State(msg); s == signaling.StateClosed {
			m.closed = true
		} else if s > m.reached {
			m.reached = s
		}
		return m, m.listenForUpdates()

	case roleUpdate:
		m.role = signaling.Role(msg)
		return m, m.listenForUpdates()

	case peerUpdate:
		m.peer = &msg
		return m, tea.Quit

	case failUpdate:
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m *sessionModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(fmt.Sprintf("\n%s Room %s", IconRoom, BoldStyle.Foreground(Primary).Render(m.room)))
	if m.role != signaling.RoleUnknown {
		b.WriteString("  " + RoleStyle.Render(m.role.String()))
	}
	b.WriteString("\n\n")

	active := m.err == nil && !m.closed
	for _, step := range sessionSteps {
		switch {
		case m.peer != nil || m.reached > step.state:
			b.WriteString(fmt.Sprintf("  %s %s\n", StepDoneStyle.Render(IconSuccess), StepDoneStyle.Render(step.label)))
		case active:
			active = false
			b.WriteString(fmt.Sprintf("  %s %s\n", m.spinner.View(), StepActiveStyle.Render(step.label)))
		default:
			b.WriteString(fmt.Sprintf("  %s %s\n", StepPendingStyle.Render(IconPending), StepPendingStyle.Render(step.label)))
		}
	}

	switch {
	case m.err != nil:
		b.WriteString("\n" + FormatError(m.err) + "\n")
	case m.peer != nil:
		b.WriteString(fmt.Sprintf("\n%s %s %s\n", IconHello,
			SuccessStyle.Render(m.peer.name),
			MutedStyle.Render("("+m.peer.version+") says hello"),
		))
	default:
		elapsed := time.Since(m.startTime).Round(time.Second)
		b.WriteString("\n" + MutedStyle.Render(fmt.Sprintf("%s %s elapsed · press q to leave", IconTime, elapsed)))
	}

	return b.String()
}
