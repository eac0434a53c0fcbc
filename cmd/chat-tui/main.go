// Command chat-tui is a terminal chat client for the relay. It renders
// the reconciled transcript with per-message delivery markers and a
// connectivity indicator, sending over the live session when it is up
// and falling back to HTTP when it is not.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Skipper-Assistant-1968/skipper-mobile/clients/go/skipper"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	onlineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	offlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	deadStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type transcriptMsg struct{}

type connStateMsg skipper.ConnState

type model struct {
	reconciler *skipper.Reconciler
	socket     *skipper.Socket
	ctx        context.Context

	viewport  viewport.Model
	input     textinput.Model
	ready     bool
	connState skipper.ConnState
	entries   []skipper.Entry
	status    string
}

func newModel(ctx context.Context, rec *skipper.Reconciler, sock *skipper.Socket) model {
	ti := textinput.New()
	ti.Placeholder = "Message Skipper..."
	ti.CharLimit = 5000
	ti.Focus()

	return model{
		reconciler: rec,
		socket:     sock,
		ctx:        ctx,
		input:      ti,
		connState:  skipper.StateDisconnected,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitTranscript(), m.waitConnState())
}

func (m model) waitTranscript() tea.Cmd {
	return func() tea.Msg {
		<-m.reconciler.Updates()
		return transcriptMsg{}
	}
}

func (m model) waitConnState() tea.Cmd {
	return func() tea.Msg {
		return connStateMsg(<-m.socket.StateChanges())
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			content := strings.TrimSpace(m.input.Value())
			if content != "" {
				m.reconciler.Submit(m.ctx, content)
				m.input.Reset()
			}
			return m, nil
		case tea.KeyCtrlR:
			m.retryLastFailed()
			return m, nil
		}

	case tea.WindowSizeMsg:
		footer := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-footer)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - footer
		}
		m.input.Width = msg.Width - 4
		m.refresh()

	case transcriptMsg:
		m.refresh()
		cmds = append(cmds, m.waitTranscript())

	case connStateMsg:
		m.connState = skipper.ConnState(msg)
		cmds = append(cmds, m.waitConnState())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *model) refresh() {
	m.entries = m.reconciler.Entries()
	m.status = m.reconciler.Status()
	if m.ready {
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
	}
}

func (m *model) retryLastFailed() {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].State == skipper.EntryFailed {
			_ = m.reconciler.Retry(m.ctx, m.entries[i].Ref)
			return
		}
	}
}

func (m model) renderTranscript() string {
	if len(m.entries) == 0 {
		return pendingStyle.Render("No messages yet. Say hello.")
	}

	var b strings.Builder
	for _, e := range m.entries {
		label := assistantStyle.Render("skipper")
		if e.Message.Role == skipper.RoleUser {
			label = userStyle.Render("you")
		}
		fmt.Fprintf(&b, "%s %s %s\n", label, deliveryMarker(e), e.Message.Content)
	}
	return b.String()
}

func deliveryMarker(e skipper.Entry) string {
	if e.Message.Role != skipper.RoleUser {
		return " "
	}
	switch e.State {
	case skipper.EntryPending:
		return pendingStyle.Render("…")
	case skipper.EntrySent:
		return pendingStyle.Render("✓")
	case skipper.EntryDelivered:
		return "✓✓"
	case skipper.EntryFailed:
		return failedStyle.Render("✗")
	}
	return " "
}

func (m model) connIndicator() string {
	switch m.connState {
	case skipper.StateConnected:
		return onlineStyle.Render("● live")
	case skipper.StateConnecting:
		return offlineStyle.Render("◌ connecting")
	case skipper.StateFailed:
		return deadStyle.Render("✗ offline (polling)")
	}
	return offlineStyle.Render("○ reconnecting (polling)")
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}

	bar := m.connIndicator()
	if m.status != "" {
		bar += statusBarStyle.Render("  |  " + m.status)
	}
	bar += statusBarStyle.Render("  |  enter: send  ctrl+r: retry failed  esc: quit")

	return fmt.Sprintf("%s\n%s\n%s", m.viewport.View(), bar, m.input.View())
}

func main() {
	serverURL := os.Getenv("SKIPPER_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	wsURL := strings.Replace(serverURL, "http", "ws", 1) + "/ws"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := skipper.NewClient(serverURL)
	socket := skipper.NewSocket(skipper.SocketConfig{URL: wsURL})
	defer socket.Close()

	rec := skipper.NewReconciler(client, socket)
	go rec.Run(ctx)

	if err := socket.Dial(); err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(ctx, rec, socket), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
