package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/go-authgate/copilot-auth/internal/autherr"
)

// tickMsg is fired every second to update the countdown timer.
type tickMsg time.Time

// state represents the current phase of the login.
type state int

const (
	stateInit       state = iota
	stateRequesting       // device code request in flight
	stateDeviceFlow       // device code received, showing to user
	statePolling          // waiting for user authorization
	stateVerifying        // exchanging for a Copilot token
	stateSuccess          // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the login TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	// Device code info
	userCode          string
	verifyURI         string
	verifyURIComplete string
	codeExpiry        time.Time
	remaining         time.Duration

	// Success / error display
	account string
	backend string
	errMsg  string
	errHint string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleCodeBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.remaining = max(time.Until(m.codeExpiry), 0)
		if m.remaining > 0 && (m.state == stateDeviceFlow || m.state == statePolling) {
			return m, tickAfterSecond()
		}
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Login flow messages ──────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgCredentialFound:
		if msg.Account != "" {
			m.addStatus(statusInfo, "Replacing existing login for "+msg.Account)
		} else {
			m.addStatus(statusInfo, "Replacing existing credential")
		}
		return m, nil

	case MsgRequestingCode:
		m.state = stateRequesting
		return m, nil

	case MsgDeviceCodeReady:
		m.userCode = msg.UserCode
		m.verifyURI = msg.VerifyURI
		m.verifyURIComplete = msg.VerifyURIComplete
		m.codeExpiry = msg.Expiry
		m.remaining = time.Until(msg.Expiry)
		m.state = stateDeviceFlow
		m.addStatus(statusInfo, "Device code ready")
		return m, tickAfterSecond()

	case MsgWaitingForAuth:
		m.state = statePolling
		return m, nil

	case MsgPollSlowDown:
		m.addStatus(
			statusWarn,
			fmt.Sprintf("Server requested slower polling (%s)", msg.NewInterval),
		)
		return m, nil

	case MsgAuthSuccess:
		m.account = msg.Account
		if msg.Account != "" {
			m.addStatus(statusOK, "Signed in as "+msg.Account)
		} else {
			m.addStatus(statusOK, "Authorization successful!")
		}
		return m, nil

	case MsgCredentialSaved:
		m.backend = msg.Backend
		if msg.Backend == "file" {
			m.addStatus(statusOK, "Credential saved to "+msg.Path)
		} else {
			m.addStatus(statusOK, "Credential saved to the system "+msg.Backend)
		}
		return m, nil

	case MsgScopeWarning:
		m.addStatus(statusWarn, "Missing recommended scopes: "+strings.Join(msg.Missing, ", "))
		return m, nil

	case MsgVerifying:
		m.state = stateVerifying
		return m, nil

	case MsgVerifyOK:
		m.addStatus(statusOK, fmt.Sprintf("Copilot token valid for %s", formatDuration(msg.ExpiresIn)))
		return m, nil

	case MsgVerifyFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Copilot access check failed: %v", msg.Err))
		return m, nil

	case MsgDone:
		m.account = msg.Account
		m.backend = msg.Backend
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.errHint = autherr.HintOf(msg.Err)
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  GitHub Copilot Login  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateDeviceFlow, statePolling:
		if m.verifyURIComplete != "" {
			b.WriteString(styleBold.Render("Open this link to authorize:"))
			b.WriteString("\n")
			b.WriteString(m.verifyURIComplete)
			b.WriteString("\n\n")
			b.WriteString(styleDim.Render("Or visit: " + m.verifyURI))
		} else {
			b.WriteString(styleBold.Render("Visit: "))
			b.WriteString(m.verifyURI)
		}
		b.WriteString("\n")
		b.WriteString(styleDim.Render("Enter code:"))
		b.WriteString("\n\n")

		b.WriteString(styleCodeBox.Render("  " + m.userCode + "  "))
		b.WriteString("\n\n")

		b.WriteString(m.spinner.View())
		b.WriteString(" Waiting for authorization...")
		if m.remaining > 0 {
			b.WriteString("  ")
			b.WriteString(styleDim.Render(formatDuration(m.remaining) + " remaining"))
		}
		b.WriteString("\n")

	case stateRequesting:
		b.WriteString(m.spinner.View())
		b.WriteString(" Requesting device code...\n")

	case stateVerifying:
		b.WriteString(m.spinner.View())
		b.WriteString(" Verifying Copilot access...\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ✓ Logged in to GitHub Copilot"))
	b.WriteString("\n\n")

	if m.account != "" {
		b.WriteString(styleBold.Render("Account: "))
		b.WriteString(m.account + "\n")
	}
	b.WriteString(styleBold.Render("Storage: "))
	b.WriteString(m.backend + "\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Login failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")
	if m.errHint != "" {
		b.WriteString(styleWarn.Render("  " + m.errHint))
		b.WriteString("\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
