// Package tui implements the operator console: a bubbletea dashboard over a
// live sessionmgr.Manager, with dashboard/sessions/clients/commands/logs
// tabs. It is operator tooling around the core, not part of the agent-facing
// MCP contract.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dlv-mcp/bridge/sessionmgr"
)

// ServerStatus represents the current state of the bridge.
type ServerStatus int

const (
	ServerStopped ServerStatus = iota
	ServerStarting
	ServerRunning
	ServerError
)

// LogEntry represents a log entry shown in the Logs tab.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Component string
	SessionID string
	Message   string
}

// Tab indices.
const (
	DashboardTab ViewTab = iota
	SessionsTab
	ClientsTab
	CommandsTab
	LogsTab
)

type ViewTab int

// Model is the operator console's Bubble Tea model.
type Model struct {
	serverStatus ServerStatus
	ready        bool
	quitting     bool
	width        int
	height       int

	tabs      []string
	activeTab int

	help help.Model

	sessionsTable   table.Model
	clientsTable    table.Model
	commandInput    textinput.Model
	commandHistory  []string
	commandResponse string
	logsViewport    viewport.Model
	logEntries      []LogEntry

	manager  *sessionmgr.Manager
	clientID string

	startTime     time.Time
	totalRequests int
	errorCount    int

	keys keyMap
}

// keyMap defines the key bindings for the TUI.
type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Left    key.Binding
	Right   key.Binding
	Help    key.Binding
	Quit    key.Binding
	Enter   key.Binding
	Tab     key.Binding
	Refresh key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit, k.Tab, k.Refresh}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Left, k.Right},
		{k.Tab, k.Enter, k.Refresh},
		{k.Help, k.Quit},
	}
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("up/k", "move up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("down/j", "move down"),
	),
	Left: key.NewBinding(
		key.WithKeys("left", "h"),
		key.WithHelp("left/h", "move left"),
	),
	Right: key.NewBinding(
		key.WithKeys("right", "l"),
		key.WithHelp("right/l", "move right"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "execute/select"),
	),
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "switch tabs"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "refresh"),
	),
}

// NewModel creates a console model over manager, reporting clientID as the
// identity every session was initialized with.
func NewModel(manager *sessionmgr.Manager, clientID string) Model {
	tabNames := []string{"Dashboard", "Sessions", "Clients", "Commands", "Logs"}

	sessionsColumns := []table.Column{
		{Title: "Session ID", Width: 20},
		{Title: "Adapter", Width: 10},
		{Title: "Program", Width: 25},
		{Title: "State", Width: 13},
		{Title: "Stopped Thread", Width: 14},
		{Title: "Stop Reason", Width: 14},
	}

	sessionsTable := table.New(
		table.WithColumns(sessionsColumns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	tableStyles := table.DefaultStyles()
	tableStyles.Header = tableStyles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	tableStyles.Selected = tableStyles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	sessionsTable.SetStyles(tableStyles)

	clientsColumns := []table.Column{
		{Title: "Client ID", Width: 20},
		{Title: "Sessions", Width: 10},
		{Title: "Uptime", Width: 15},
	}

	clientsTable := table.New(
		table.WithColumns(clientsColumns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	clientsTable.SetStyles(tableStyles)

	commandInput := textinput.New()
	commandInput.Placeholder = "Enter a console command (try 'help')..."
	commandInput.CharLimit = 500
	commandInput.Width = 80

	logsViewport := viewport.New(80, 15)
	logsViewport.SetContent("Logs will appear here.\nUse up/down to scroll through log entries.")

	return Model{
		serverStatus:   ServerStopped,
		tabs:           tabNames,
		help:           help.New(),
		sessionsTable:  sessionsTable,
		clientsTable:   clientsTable,
		commandInput:   commandInput,
		commandHistory: []string{},
		logsViewport:   logsViewport,
		logEntries:     []LogEntry{},
		manager:        manager,
		clientID:       clientID,
		startTime:      time.Now(),
		keys:           keys,
	}
}

// Init initializes the console.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.refreshData(),
		m.periodicRefresh(),
	)
}

// Update handles console events.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		m.logsViewport.Width = msg.Width - 4
		m.logsViewport.Height = msg.Height - 15
		m.commandInput.Width = msg.Width - 20

		tableHeight := msg.Height - 15
		m.sessionsTable.SetHeight(tableHeight)
		m.clientsTable.SetHeight(tableHeight)

		m.ready = true

	case tea.KeyMsg:
		if m.quitting {
			return m, tea.Quit
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Tab):
			m.activeTab = (m.activeTab + 1) % len(m.tabs)

		case key.Matches(msg, m.keys.Refresh):
			cmds = append(cmds, m.refreshData())

		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}

		switch ViewTab(m.activeTab) {
		case SessionsTab:
			m.sessionsTable, cmd = m.sessionsTable.Update(msg)
			cmds = append(cmds, cmd)

		case ClientsTab:
			m.clientsTable, cmd = m.clientsTable.Update(msg)
			cmds = append(cmds, cmd)

		case CommandsTab:
			if !m.commandInput.Focused() {
				m.commandInput.Focus()
			}

			m.commandInput, cmd = m.commandInput.Update(msg)
			cmds = append(cmds, cmd)

			if key.Matches(msg, m.keys.Enter) && m.commandInput.Value() != "" {
				command := m.commandInput.Value()
				m.commandHistory = append(m.commandHistory, command)
				m.commandInput.SetValue("")
				m.totalRequests++
				cmds = append(cmds, m.executeCommand(command))
			}

		case LogsTab:
			m.logsViewport, cmd = m.logsViewport.Update(msg)
			cmds = append(cmds, cmd)
		}

		if ViewTab(m.activeTab) != CommandsTab && m.commandInput.Focused() {
			m.commandInput.Blur()
		}

	case RefreshDataMsg:
		m.updateServerData()
		return m, m.periodicRefresh()

	case CommandResultMsg:
		m.commandResponse = string(msg)

		level := "INFO"
		if strings.Contains(m.commandResponse, "error") || strings.Contains(m.commandResponse, "failed") {
			m.errorCount++
			level = "ERROR"
		}

		m.logEntries = append(m.logEntries, LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Component: "console",
			Message:   m.commandResponse,
		})
		m.updateLogsViewport()
	}

	return m, tea.Batch(cmds...)
}

// View renders the console.
func (m *Model) View() string {
	if !m.ready {
		return "\n  Initializing DAP bridge console..."
	}

	if m.quitting {
		return "\n  Goodbye!\n"
	}

	var content strings.Builder

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5A67D8")).
		Padding(0, 1).
		Width(m.width).
		Render("DAP Bridge Console")

	content.WriteString(header)
	content.WriteString("\n\n")

	statusText := fmt.Sprintf("Status: %s | Sessions: %d | Uptime: %s",
		m.getStatusText(),
		len(m.getSessionRows()),
		m.getUptime(),
	)

	statusBar := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#718096")).
		Background(lipgloss.Color("#F7FAFC")).
		Padding(0, 1).
		Width(m.width).
		Render(statusText)

	content.WriteString(statusBar)
	content.WriteString("\n\n")

	content.WriteString(m.renderTabs())
	content.WriteString("\n\n")

	content.WriteString(m.renderCurrentView())

	content.WriteString("\n")
	content.WriteString(m.help.View(m.keys))

	return content.String()
}

func (m *Model) renderTabs() string {
	var renderedTabs []string

	for i, tabName := range m.tabs {
		var tabStyle lipgloss.Style
		if i == m.activeTab {
			tabStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(lipgloss.Color("#5A67D8")).
				Padding(0, 2)
		} else {
			tabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#718096")).
				Background(lipgloss.Color("#EDF2F7")).
				Padding(0, 2)
		}
		renderedTabs = append(renderedTabs, tabStyle.Render(tabName))
	}

	return strings.Join(renderedTabs, " ")
}

func (m *Model) renderCurrentView() string {
	switch ViewTab(m.activeTab) {
	case DashboardTab:
		return m.renderDashboard()
	case SessionsTab:
		return m.sessionsTable.View()
	case ClientsTab:
		return m.clientsTable.View()
	case CommandsTab:
		return m.renderCommands()
	case LogsTab:
		return m.logsViewport.View()
	default:
		return "Unknown view"
	}
}

func (m *Model) renderDashboard() string {
	var content strings.Builder

	content.WriteString("Server Overview\n")
	content.WriteString("---------------\n\n")

	metrics := [][]string{
		{"Status:", m.getStatusText()},
		{"Active sessions:", strconv.Itoa(len(m.getSessionRows()))},
		{"Total commands:", strconv.Itoa(m.totalRequests)},
		{"Error count:", strconv.Itoa(m.errorCount)},
		{"Uptime:", m.getUptime()},
	}

	for _, row := range metrics {
		content.WriteString(fmt.Sprintf("%-20s %s\n", row[0], row[1]))
	}

	content.WriteString("\nQuick reference\n")
	content.WriteString("----------------\n\n")
	content.WriteString("- Tab cycles between views\n")
	content.WriteString("- Commands tab runs console commands against the session manager\n")
	content.WriteString("- Sessions tab tracks every live debug session\n")
	content.WriteString("- Logs tab shows recent console activity\n")
	content.WriteString("- ? toggles expanded help\n")

	return content.String()
}

func (m *Model) renderCommands() string {
	var content strings.Builder

	content.WriteString("Console\n")
	content.WriteString("-------\n\n")

	content.WriteString("Command input:\n")
	content.WriteString(m.commandInput.View())
	content.WriteString("\n\n")

	content.WriteString("Available commands:\n")
	commands := []string{
		"help",
		"list_sessions",
		"create_session <adapter> [session_id]",
		"session_info <session_id>",
		"disconnect <session_id>",
	}
	for _, cmd := range commands {
		content.WriteString(fmt.Sprintf("- %s\n", cmd))
	}

	if m.commandResponse != "" {
		content.WriteString("\nLast response:\n")

		responseBox := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#718096")).
			Padding(1).
			Width(m.width - 8).
			Render(m.commandResponse)

		content.WriteString(responseBox)
	}

	if len(m.commandHistory) > 0 {
		content.WriteString("\n\nRecent commands:\n")
		start := len(m.commandHistory) - 3
		if start < 0 {
			start = 0
		}
		for i := start; i < len(m.commandHistory); i++ {
			content.WriteString(fmt.Sprintf("- %s\n", m.commandHistory[i]))
		}
	}

	return content.String()
}

func (m *Model) getStatusText() string {
	switch m.serverStatus {
	case ServerRunning:
		return "running"
	case ServerStarting:
		return "starting"
	case ServerStopped:
		return "stopped"
	case ServerError:
		return "error"
	default:
		return "unknown"
	}
}

func (m *Model) getUptime() string {
	uptime := time.Since(m.startTime)
	switch {
	case uptime < time.Minute:
		return fmt.Sprintf("%ds", int(uptime.Seconds()))
	case uptime < time.Hour:
		return fmt.Sprintf("%dm %ds", int(uptime.Minutes()), int(uptime.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(uptime.Hours()), int(uptime.Minutes())%60)
	}
}

// getSessionRows reads the live session registry via ListSessions; there is
// no placeholder path, since a Manager is always present.
func (m *Model) getSessionRows() []table.Row {
	infos := m.manager.ListSessions(context.Background())

	rows := make([]table.Row, 0, len(infos))
	for id, info := range infos {
		stoppedThread := "-"
		if info.StoppedThreadID != 0 {
			stoppedThread = strconv.Itoa(info.StoppedThreadID)
		}
		stopReason := info.StopReason
		if stopReason == "" {
			stopReason = "-"
		}
		rows = append(rows, table.Row{
			id,
			info.AdapterName,
			info.Program,
			info.State.String(),
			stoppedThread,
			stopReason,
		})
	}
	return rows
}

// getClientRows reports, as a single row, the client identifier that every
// session in this process sends in its DAP initialize request.
func (m *Model) getClientRows() []table.Row {
	return []table.Row{
		{m.clientID, strconv.Itoa(len(m.getSessionRows())), m.getUptime()},
	}
}

func (m *Model) updateServerData() {
	m.sessionsTable.SetRows(m.getSessionRows())
	m.clientsTable.SetRows(m.getClientRows())
	m.serverStatus = ServerRunning
}

func (m *Model) updateLogsViewport() {
	var logContent strings.Builder

	start := len(m.logEntries) - 20
	if start < 0 {
		start = 0
	}

	for i := start; i < len(m.logEntries); i++ {
		entry := m.logEntries[i]
		logContent.WriteString(fmt.Sprintf("[%s] %s %s: %s\n",
			entry.Level,
			entry.Timestamp.Format("15:04:05"),
			entry.Component,
			entry.Message,
		))
	}

	m.logsViewport.SetContent(logContent.String())
	m.logsViewport.GotoBottom()
}

func (m *Model) refreshData() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return RefreshDataMsg(t)
	})
}

func (m *Model) periodicRefresh() tea.Cmd {
	return tea.Tick(time.Second*5, func(t time.Time) tea.Msg {
		return RefreshDataMsg(t)
	})
}

// executeCommand parses and runs one console command against the session
// manager, using a bounded context so a misbehaving adapter cannot hang the
// console.
func (m *Model) executeCommand(command string) tea.Cmd {
	manager := m.manager

	return func() tea.Msg {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return CommandResultMsg("empty command")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		switch fields[0] {
		case "help":
			return CommandResultMsg(`Available commands:
help
list_sessions
create_session <adapter> [session_id]
session_info <session_id>
disconnect <session_id>`)

		case "list_sessions":
			infos := manager.ListSessions(ctx)
			if len(infos) == 0 {
				return CommandResultMsg("no active sessions")
			}
			var b strings.Builder
			for id, info := range infos {
				fmt.Fprintf(&b, "%s: %s (%s)\n", id, info.State, info.AdapterName)
			}
			return CommandResultMsg(b.String())

		case "create_session":
			if len(fields) < 2 {
				return CommandResultMsg("usage: create_session <adapter> [session_id]")
			}
			id := ""
			if len(fields) > 2 {
				id = fields[2]
			}
			got, err := manager.CreateSession(ctx, fields[1], id)
			if err != nil {
				return CommandResultMsg(fmt.Sprintf("failed to create session: %v", err))
			}
			return CommandResultMsg(fmt.Sprintf("created session %s", got))

		case "session_info":
			if len(fields) < 2 {
				return CommandResultMsg("usage: session_info <session_id>")
			}
			info, err := manager.GetInfo(ctx, fields[1])
			if err != nil {
				return CommandResultMsg(fmt.Sprintf("failed to get session info: %v", err))
			}
			return CommandResultMsg(fmt.Sprintf("%s: state=%s program=%s threads=%d",
				fields[1], info.State, info.Program, len(info.Threads)))

		case "disconnect":
			if len(fields) < 2 {
				return CommandResultMsg("usage: disconnect <session_id>")
			}
			if err := manager.Disconnect(ctx, fields[1], true); err != nil {
				return CommandResultMsg(fmt.Sprintf("failed to disconnect: %v", err))
			}
			return CommandResultMsg(fmt.Sprintf("disconnected session %s", fields[1]))

		default:
			return CommandResultMsg(fmt.Sprintf("unknown command: %s (try 'help')", fields[0]))
		}
	}
}

// Getter methods for testing and external access.
func (m *Model) GetServerStatus() ServerStatus { return m.serverStatus }
func (m *Model) GetTabs() []string             { return m.tabs }
func (m *Model) GetCurrentView() int           { return m.activeTab }
func (m *Model) Manager() *sessionmgr.Manager  { return m.manager }

// Message types for the console.
type (
	RefreshDataMsg   time.Time
	CommandResultMsg string
)

// RunTUI starts the console application against manager.
func RunTUI(manager *sessionmgr.Manager, clientID string) error {
	model := NewModel(manager, clientID)

	model.updateServerData()
	model.logEntries = append(model.logEntries, LogEntry{
		Timestamp: time.Now(),
		Level:     "INFO",
		Component: "console",
		Message:   "DAP bridge console started",
	})
	model.updateLogsViewport()

	program := tea.NewProgram(&model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}
