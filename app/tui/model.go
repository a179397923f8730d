package tui

import (
	"fmt"
	"strings"

	"docchat/types"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ChatPort is the TUI-facing subset of the docchat API.
type ChatPort interface {
	Ask(query string, eli5 bool) (*types.AskResponse, error)
	Upload(paths []string) (*types.UploadResponse, error)
	ClearUploads() error
	FAQ() ([]types.FAQItem, error)
	History() ([]types.HistoryEntry, error)
	ClearHistory() error
	DownloadURL(rel string) string
}

type turn struct {
	query  string
	eli5   bool
	answer *types.AskResponse
	err    error
}

type (
	answerMsg struct {
		query string
		eli5  bool
		resp  *types.AskResponse
		err   error
	}
	statusMsg  struct{ text string }
	errMsg     struct{ err error }
	faqMsg     []types.FAQItem
	historyMsg []types.HistoryEntry
)

// Model is the Bubble Tea model of the chat client.
type Model struct {
	client   ChatPort
	input    textinput.Model
	viewport viewport.Model
	turns    []turn
	extra    string
	status   string
	eli5     bool
	busy     bool
	ready    bool
}

func New(client ChatPort) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your PDFs, or /help"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		client:   client,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Ready. Upload PDFs with /upload <file.pdf ...>",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := transcriptStyle.GetFrameSize()
		_, qh := inputStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-fh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.busy = false
		m.turns = append(m.turns, turn{query: msg.query, eli5: msg.eli5, answer: msg.resp, err: msg.err})
		m.extra = ""
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("Answered with %d sources", len(msg.resp.Sources))
		}
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil

	case statusMsg:
		m.busy = false
		m.status = msg.text
		return m, nil

	case errMsg:
		m.busy = false
		m.status = "Error: " + msg.err.Error()
		return m, nil

	case faqMsg:
		m.busy = false
		m.extra = renderFAQ(msg)
		m.status = "FAQ"
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil

	case historyMsg:
		m.busy = false
		m.extra = renderHistory(msg)
		m.status = fmt.Sprintf("%d entries in history", len(msg))
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyCtrlE:
			m.eli5 = !m.eli5
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			return m.submit(line)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	if !strings.HasPrefix(line, "/") {
		m.busy = true
		m.status = "Thinking..."
		return m, m.askCmd(line, m.eli5)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/upload":
		if len(fields) < 2 {
			m.status = "Usage: /upload a.pdf b.pdf"
			return m, nil
		}
		m.busy = true
		m.status = "Uploading and indexing..."
		return m, m.uploadCmd(fields[1:])
	case "/clear":
		m.busy = true
		m.turns = nil
		m.extra = ""
		m.refresh()
		return m, func() tea.Msg {
			if err := m.client.ClearUploads(); err != nil {
				return errMsg{err}
			}
			return statusMsg{"Uploads cleared"}
		}
	case "/faq":
		m.busy = true
		return m, func() tea.Msg {
			items, err := m.client.FAQ()
			if err != nil {
				return errMsg{err}
			}
			return faqMsg(items)
		}
	case "/history":
		m.busy = true
		return m, func() tea.Msg {
			entries, err := m.client.History()
			if err != nil {
				return errMsg{err}
			}
			return historyMsg(entries)
		}
	case "/clearhistory":
		m.busy = true
		m.turns = nil
		m.extra = ""
		m.refresh()
		return m, func() tea.Msg {
			if err := m.client.ClearHistory(); err != nil {
				return errMsg{err}
			}
			return statusMsg{"History cleared"}
		}
	case "/help":
		m.extra = helpText
		m.refresh()
		return m, nil
	default:
		m.status = "Unknown command " + fields[0] + ", try /help"
		return m, nil
	}
}

func (m Model) askCmd(query string, eli5 bool) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.client.Ask(query, eli5)
		return answerMsg{query: query, eli5: eli5, resp: resp, err: err}
	}
}

func (m Model) uploadCmd(paths []string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.client.Upload(paths)
		if err != nil {
			return errMsg{err}
		}
		return statusMsg{fmt.Sprintf("Indexed %d file(s): %s", len(resp.Files), strings.Join(resp.Files, ", "))}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	mode := "ELI5 off"
	if m.eli5 {
		mode = eli5Style.Render("ELI5 on")
	}
	header := headerStyle.Render("Chat with your PDFs") + "  " + dimStyle.Render("ctrl+e: "+mode+"  pgup/pgdn: scroll  ctrl+c: quit")
	status := statusStyle.Render(m.status)
	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		status
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 && m.extra == "" {
		return dimStyle.Render("No messages yet.")
	}
	var sb strings.Builder
	for _, t := range m.turns {
		q := t.query
		if t.eli5 {
			q += dimStyle.Render(" (ELI5)")
		}
		sb.WriteString(userStyle.Render("You: ") + q + "\n")
		if t.err != nil {
			sb.WriteString(errorStyle.Render("Error: "+t.err.Error()) + "\n\n")
			continue
		}
		sb.WriteString(botStyle.Render("Assistant: ") + t.answer.Answer + "\n")
		for _, s := range t.answer.Sources {
			sb.WriteString(dimStyle.Render(fmt.Sprintf("  [%d] %s p.%d (%.2f): ", s.ConfidenceRank, s.File, s.Page, s.Score)))
			sb.WriteString(oneLine(s.Text, 120) + "\n")
		}
		for _, pdf := range t.answer.HighlightedPDFs {
			sb.WriteString(linkStyle.Render(fmt.Sprintf("  %s (%d highlights): %s", pdf.Name, len(pdf.Chunks), m.client.DownloadURL(pdf.DownloadURL))) + "\n")
		}
		sb.WriteString("\n")
	}
	if m.extra != "" {
		sb.WriteString(m.extra)
	}
	return sb.String()
}

func renderFAQ(items []types.FAQItem) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("FAQ") + "\n")
	for _, it := range items {
		sb.WriteString(userStyle.Render("Q: ") + it.Question + "\n")
		sb.WriteString(botStyle.Render("A: ") + it.Answer + "\n\n")
	}
	return sb.String()
}

func renderHistory(entries []types.HistoryEntry) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("History") + "\n")
	if len(entries) == 0 {
		sb.WriteString(dimStyle.Render("empty") + "\n")
	}
	for _, e := range entries {
		sb.WriteString(dimStyle.Render(e.CreatedAt.Format("15:04:05")) + " " + userStyle.Render("You: ") + e.Query + "\n")
		sb.WriteString(botStyle.Render("Assistant: ") + e.Answer + "\n\n")
	}
	return sb.String()
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}

const helpText = `Commands:
  /upload a.pdf b.pdf  replace the indexed documents
  /clear               remove uploaded documents
  /faq                 show frequently asked questions
  /history             show this session's history
  /clearhistory        clear this session's history
Anything else is sent as a question. ctrl+e toggles "Explain like I'm 5".
`

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	linkStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Underline(true)
	eli5Style       = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
