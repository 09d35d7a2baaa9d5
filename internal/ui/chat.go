package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/meshroom/internal/chat"
	"github.com/BioHazard786/meshroom/internal/mesh"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const chatHelp = `Commands:
  /peers                  show members and negotiation state
  /to <peer> <message>    send to one peer (name, id or id prefix)
  /reconnect <peer>       renegotiate with a closed or failed peer
  /help                   show this help
  /quit                   leave the room`

// updatesClosedMsg is sent once the chat client stops producing updates.
type updatesClosedMsg struct{}

// ChatModel is the interactive room view: a scrolling log, an input line and
// a status bar.
type ChatModel struct {
	client *chat.Client
	room   string

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	lines    []string
	ready    bool
	quitting bool
	ended    bool
}

// NewChatModel creates the room view for client.
func NewChatModel(client *chat.Client, room string) *ChatModel {
	input := textinput.New()
	input.Placeholder = "Say something, or /help"
	input.CharLimit = 2000
	input.Prompt = "> "
	input.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &ChatModel{
		client:   client,
		room:     room,
		viewport: viewport.New(80, 20),
		input:    input,
		spinner:  s,
	}
	m.system(fmt.Sprintf("%s Joined room %s as %s. Type /help for commands.", IconRoom, room, client.Name()))
	return m
}

// RunChat runs the room view until the user quits or the session ends.
func RunChat(client *chat.Client, room string) error {
	_, err := tea.NewProgram(NewChatModel(client, room), tea.WithAltScreen()).Run()
	return err
}

func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listenForUpdates())
}

func (m *ChatModel) listenForUpdates() tea.Cmd {
	updates := m.client.Updates()
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return updatesClosedMsg{}
		}
		return u
	}
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			if cmd := m.handleInput(line); cmd != nil {
				return m, cmd
			}
		}

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case chat.Update:
		m.apply(msg)
		cmds = append(cmds, m.listenForUpdates())

	case updatesClosedMsg:
		m.ended = true
		m.system(IconError + " Session ended. Press esc to exit.")
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *ChatModel) apply(u chat.Update) {
	name := u.Name
	switch u.Kind {
	case chat.UpdateText:
		m.message(u.At, PeerNameStyle.Render(name), u.Text, u.Direct)
	case chat.UpdateJoined:
		m.system(fmt.Sprintf("%s %s joined", IconPeer, name))
	case chat.UpdateLeft:
		m.system(fmt.Sprintf("%s %s left", IconPeer, name))
	case chat.UpdateConnected:
		m.system(fmt.Sprintf("%s connected to %s", IconConnect, name))
	case chat.UpdateDisconnected:
		m.system(fmt.Sprintf("%s lost %s, /reconnect %s to retry", IconDisconnect, name, name))
	case chat.UpdateFailed:
		m.system(fmt.Sprintf("%s negotiation with %s failed: %v", IconWarning, name, u.Err))
	case chat.UpdateRelayLost:
		m.system(fmt.Sprintf("%s relay connection lost: %v", IconWarning, u.Err))
	}
}

// handleInput runs a command or sends a chat line.
func (m *ChatModel) handleInput(line string) tea.Cmd {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		m.say(line)
		return nil
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit":
		m.quitting = true
		return tea.Quit

	case "/help":
		m.system(chatHelp)

	case "/peers":
		m.system(PeerTableView(m.client.PeerRows()))

	case "/to":
		ref, body, _ := strings.Cut(rest, " ")
		body = strings.TrimSpace(body)
		if ref == "" || body == "" {
			m.system("usage: /to <peer> <message>")
			return nil
		}
		id, err := m.client.Resolve(ref)
		if err != nil {
			m.failure(err)
			return nil
		}
		if err := m.client.Whisper(id, body); err != nil {
			m.failure(err)
			return nil
		}
		m.message(time.Now(), SelfNameStyle.Render(m.client.Name()+" → "+m.client.DisplayName(id)), body, true)

	case "/reconnect":
		id, err := m.client.Resolve(rest)
		if err != nil {
			m.failure(err)
			return nil
		}
		if err := m.client.Reconnect(id); err != nil {
			m.failure(err)
			return nil
		}
		m.system(fmt.Sprintf("%s renegotiating with %s", IconWaiting, m.client.DisplayName(id)))

	default:
		m.system(fmt.Sprintf("unknown command %s, try /help", cmd))
	}
	return nil
}

func (m *ChatModel) say(body string) {
	n, err := m.client.Say(body)
	m.message(time.Now(), SelfNameStyle.Render(m.client.Name()), body, false)
	if err != nil {
		m.failure(err)
	}
	if n == 0 && err == nil {
		m.system("nobody is connected yet, message not delivered")
	}
}

func (m *ChatModel) failure(err error) {
	switch {
	case errors.Is(err, mesh.ErrNotConnected):
		m.system(IconWarning + " " + err.Error() + ", use /peers to see who is reachable")
	default:
		m.system(IconError + " " + err.Error())
	}
}

func (m *ChatModel) message(at time.Time, who, body string, direct bool) {
	if direct {
		body = DirectStyle.Render(IconWhisper + " " + body)
	}
	m.append(fmt.Sprintf("%s %s: %s", TimestampStyle.Render(at.Format("15:04")), who, body))
}

func (m *ChatModel) system(text string) {
	m.append(SystemStyle.Render(text))
}

func (m *ChatModel) append(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *ChatModel) refresh() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *ChatModel) status() string {
	connected, members := 0, 0
	for _, row := range m.client.PeerRows() {
		members++
		if row.Status == mesh.StatusConnected.String() {
			connected++
		}
	}

	state := m.spinner.View() + " meshing"
	switch {
	case m.ended:
		state = "offline"
	case members > 0 && connected == members:
		state = IconMesh + " full mesh"
	case members == 0:
		state = IconWaiting + " waiting for peers"
	}

	return StatusStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.room)) + " " +
		MutedStyle.Render(fmt.Sprintf("%d/%d connected  %s", connected, members, state))
}

func (m *ChatModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return fmt.Sprintf("%s Loading room %s...", m.spinner.View(), m.room)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		m.status(),
		m.input.View(),
	)
}
