package tui

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/loglens/internal/buffers"
	"github.com/ppiankov/loglens/internal/logtypes"
	"github.com/ppiankov/loglens/internal/store"
	"github.com/ppiankov/loglens/internal/tail"
)

const tickInterval = time.Second

// CounterSource reports running tail totals.
type CounterSource interface {
	Counters() tail.Counters
}

// Model is the bubbletea model for the live tail dashboard.
type Model struct {
	path    string
	session string
	source  CounterSource
	alerts  *buffers.RecordRing
	store   *store.Store

	// snapshots
	prev     tail.Counters
	curr     tail.Counters
	levels   map[string]int
	modules  []store.ModuleCount
	lastTick time.Time

	linesPerSec float64

	// alert pane
	lines        []logtypes.Record
	scrollOff    int
	follow       bool
	alertVersion int
	storeVersion int

	// search
	searching   bool
	searchInput string
	searchRegex *regexp.Regexp
	searchIdx   int
	matches     []int // indices into lines

	width  int
	height int

	quitting bool
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// New creates a dashboard for one tailed file. alerts holds recently alerted
// records; st receives every parsed record and may be nil.
func New(path, session string, source CounterSource, alerts *buffers.RecordRing, st *store.Store) Model {
	return Model{
		path:    path,
		session: session,
		source:  source,
		alerts:  alerts,
		store:   st,
		follow:  true,
		width:   80,
		height:  24,
	}
}

// Init starts the tick timer.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.refresh(time.Time(msg))
		return m, tickCmd()

	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateNormal(msg)
	}

	return m, nil
}

func (m *Model) refresh(now time.Time) {
	m.prev = m.curr
	if m.source != nil {
		m.curr = m.source.Counters()
	}
	if !m.lastTick.IsZero() {
		if elapsed := now.Sub(m.lastTick).Seconds(); elapsed > 0 {
			m.linesPerSec = float64(m.curr.Lines-m.prev.Lines) / elapsed
		}
	}
	m.lastTick = now

	if m.store != nil {
		if v := m.store.Version(); v != m.storeVersion {
			m.levels = m.store.CountByLevel()
			m.modules = m.store.CountByModule()
			m.storeVersion = v
		}
	}

	if v := m.alerts.Version(); v != m.alertVersion {
		m.lines = m.alerts.Snapshot()
		m.alertVersion = v
		m.updateSearchMatches()
		if m.follow {
			m.scrollToBottom()
		}
	}
}

func (m Model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "j", "down":
		m.follow = false
		m.scrollOff = clamp(m.scrollOff+1, 0, m.maxScroll())

	case "k", "up":
		m.follow = false
		m.scrollOff = clamp(m.scrollOff-1, 0, m.maxScroll())

	case "G":
		m.follow = true
		m.scrollToBottom()

	case "f":
		m.follow = !m.follow
		if m.follow {
			m.scrollToBottom()
		}

	case "/":
		m.searching = true
		m.searchInput = ""

	case "n":
		m.nextMatch(1)

	case "N":
		m.nextMatch(-1)
	}

	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searching = false
		re, err := regexp.Compile(m.searchInput)
		if err == nil {
			m.searchRegex = re
			m.updateSearchMatches()
			m.searchIdx = 0
			if len(m.matches) > 0 {
				m.follow = false
				m.scrollOff = clamp(m.matches[0]-m.paneHeight()/2, 0, m.maxScroll())
			}
		}

	case "esc":
		m.searching = false
		m.searchInput = ""
		m.searchRegex = nil
		m.matches = nil

	case "backspace":
		if len(m.searchInput) > 0 {
			m.searchInput = m.searchInput[:len(m.searchInput)-1]
		}

	default:
		if len(msg.String()) == 1 {
			m.searchInput += msg.String()
		}
	}

	return m, nil
}

func (m *Model) updateSearchMatches() {
	m.matches = nil
	if m.searchRegex == nil {
		return
	}
	for i, rec := range m.lines {
		if m.searchRegex.MatchString(rec.Message) || m.searchRegex.MatchString(rec.Module) {
			m.matches = append(m.matches, i)
		}
	}
}

func (m *Model) nextMatch(dir int) {
	if len(m.matches) == 0 {
		return
	}
	m.searchIdx = (m.searchIdx + dir + len(m.matches)) % len(m.matches)
	m.follow = false
	m.scrollOff = clamp(m.matches[m.searchIdx]-m.paneHeight()/2, 0, m.maxScroll())
}

func (m *Model) scrollToBottom() {
	m.scrollOff = m.maxScroll()
}

func (m Model) paneHeight() int {
	// header(1) + blank(1) + stats(5) + separator(1) + status(1)
	h := m.height - 9
	if h < 1 {
		h = 1
	}
	return h
}

func (m Model) maxScroll() int {
	max := len(m.lines) - m.paneHeight()
	if max < 0 {
		return 0
	}
	return max
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("loglens tail | %s | session %s", m.path, shortSession(m.session))))
	b.WriteString("\n\n")

	left := strings.Split(m.renderCounters(), "\n")
	right := strings.Split(m.renderBreakdown(), "\n")
	leftW := m.width / 2
	if leftW < 30 {
		leftW = 30
	}
	rows := len(left)
	if len(right) > rows {
		rows = len(right)
	}
	for i := 0; i < rows; i++ {
		var l, r string
		if i < len(left) {
			l = left[i]
		}
		if i < len(right) {
			r = right[i]
		}
		b.WriteString(padRight(l, leftW))
		b.WriteString(r)
		b.WriteString("\n")
	}

	b.WriteString(sepStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	paneH := m.paneHeight()
	start := m.scrollOff
	end := start + paneH
	if end > len(m.lines) {
		end = len(m.lines)
	}
	matchSet := make(map[int]bool, len(m.matches))
	for _, idx := range m.matches {
		matchSet[idx] = true
	}
	for i := start; i < end; i++ {
		line := m.lines[i].Line()
		if len(line) > m.width {
			line = line[:m.width]
		}
		switch {
		case matchSet[i]:
			b.WriteString(matchStyle.Render(line))
		case m.lines[i].IsError():
			b.WriteString(errorStyle.Render(line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	for i := end - start; i < paneH; i++ {
		b.WriteString("\n")
	}

	var status strings.Builder
	if m.searching {
		status.WriteString(searchBadge.Render("/" + m.searchInput))
	} else if m.searchRegex != nil {
		status.WriteString(searchBadge.Render(fmt.Sprintf("[%d/%d] /%s", m.searchIdx+1, len(m.matches), m.searchRegex.String())))
	}
	if m.follow {
		if status.Len() > 0 {
			status.WriteString(" ")
		}
		status.WriteString(followBadge.Render("FOLLOW"))
	}
	if status.Len() > 0 {
		b.WriteString(padLeft(status.String(), m.width))
	}
	return b.String()
}

func (m Model) renderCounters() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render(" Lines/sec:  "))
	b.WriteString(formatRate(m.linesPerSec) + "\n")
	b.WriteString(labelStyle.Render(" Lines:      "))
	b.WriteString(fmt.Sprintf("%d\n", m.curr.Lines))
	b.WriteString(labelStyle.Render(" Parsed:     "))
	b.WriteString(fmt.Sprintf("%d\n", m.curr.Parsed))
	b.WriteString(labelStyle.Render(" Skipped:    "))
	b.WriteString(fmt.Sprintf("%d\n", m.curr.Failed))
	b.WriteString(labelStyle.Render(" Alerts:     "))
	if m.curr.Alerts > 0 {
		b.WriteString(errorStyle.Render(fmt.Sprintf("%d", m.curr.Alerts)))
	} else {
		b.WriteString("0")
	}
	return b.String()
}

func (m Model) renderBreakdown() string {
	var b strings.Builder
	b.WriteString(boldStyle.Render("Levels"))
	b.WriteString("  ")
	for _, l := range []string{logtypes.LevelDebug, logtypes.LevelInfo, logtypes.LevelWarn, logtypes.LevelError} {
		b.WriteString(fmt.Sprintf("%s %d  ", l, m.levels[l]))
	}
	b.WriteString("\n")
	b.WriteString(boldStyle.Render("Top modules"))
	b.WriteString("\n")
	limit := 3
	if len(m.modules) < limit {
		limit = len(m.modules)
	}
	for i := 0; i < limit; i++ {
		b.WriteString(fmt.Sprintf(" %-20s %d\n", m.modules[i].Module, m.modules[i].Count))
	}
	for i := limit; i < 3; i++ {
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// styles
var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Faint(true)
	boldStyle   = lipgloss.NewStyle().Bold(true)
	sepStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	matchStyle  = lipgloss.NewStyle().Background(lipgloss.Color("226")).Foreground(lipgloss.Color("0"))
	searchBadge = lipgloss.NewStyle().Background(lipgloss.Color("226")).Foreground(lipgloss.Color("0")).Padding(0, 1)
	followBadge = lipgloss.NewStyle().Background(lipgloss.Color("34")).Foreground(lipgloss.Color("15")).Padding(0, 1)
)

// AlertStyle renders an alert line for plain terminal output.
func AlertStyle(s string) string {
	return errorStyle.Render(s)
}

func shortSession(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func padRight(s string, w int) string {
	n := lipgloss.Width(s)
	if n >= w {
		return s
	}
	return s + strings.Repeat(" ", w-n)
}

func padLeft(s string, w int) string {
	n := lipgloss.Width(s)
	if n >= w {
		return s
	}
	return strings.Repeat(" ", w-n) + s
}

func formatRate(r float64) string {
	switch {
	case r >= 1_000_000:
		return fmt.Sprintf("%.1fM", r/1_000_000)
	case r >= 1_000:
		return fmt.Sprintf("%.1fK", r/1_000)
	default:
		return fmt.Sprintf("%.0f", r)
	}
}
