// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/carinspector/pkg/console"
	"github.com/Thermoquad/carinspector/pkg/frame"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxHistory = 50

//////////////////////////////////////////////////////////////
// Styles
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statsLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	statsValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	infoStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	commandStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))

	busStyles = map[frame.Kind]lipgloss.Style{
		frame.KindCAN:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		frame.KindLIN:   lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		frame.KindKLine: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type scrollLine struct {
	at   time.Time
	line console.Line
}

// busCounter tracks data lines for one bus
type busCounter struct {
	total    uint64
	lastTick uint64
	rate     float64
}

// monitorModel is the Bubble Tea model for the console monitor
type monitorModel struct {
	connMgr  *connectionManager
	connInfo string

	lines    []scrollLine
	maxLines int
	view     viewport.Model
	input    textinput.Model

	buses    map[frame.Kind]*busCounter
	errors   uint64
	dropped  uint64
	lastTick time.Time

	history   []string
	historyAt int

	hideData       bool
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type monitorBatchMsg struct {
	lines []console.Line
}

type monitorDroppedMsg struct{}

type downloadMsg struct {
	remote string
	local  string
	size   int64
	n      int64
	err    error
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(connMgr *connectionManager, connInfo string, maxLines int) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "help"
	ti.Prompt = "> "
	ti.CharLimit = console.MaxLineLength
	ti.Focus()

	if maxLines <= 0 {
		maxLines = 2000
	}

	return monitorModel{
		connMgr:  connMgr,
		connInfo: connInfo,
		maxLines: maxLines,
		view:     viewport.New(80, 15),
		input:    ti,
		buses: map[frame.Kind]*busCounter{
			frame.KindCAN:   {},
			frame.KindLIN:   {},
			frame.KindKLine: {},
		},
		lastTick: time.Now(),
		width:    80,
		height:   24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, monitorTickCmd())
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			m.submit()
			return m, nil
		case "up":
			m.recall(-1)
			return m, nil
		case "down":
			m.recall(1)
			return m, nil
		case "ctrl+d":
			m.hideData = !m.hideData
			m.refresh()
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case monitorTickMsg:
		m.calculateRates(time.Time(msg))
		return m, monitorTickCmd()

	case monitorBatchMsg:
		for _, l := range msg.lines {
			m.addLine(l)
		}
		m.refresh()

	case monitorDroppedMsg:
		m.dropped++

	case downloadMsg:
		if msg.err != nil {
			m.addEvent(fmt.Sprintf("download %s failed after %d of %d bytes: %v", msg.remote, msg.n, msg.size, msg.err), true)
		} else {
			m.addEvent(fmt.Sprintf("saved %s to %s (%d bytes)", msg.remote, msg.local, msg.n), false)
		}
		m.refresh()

	case connectionLostMsg:
		m.connectionLost = true
		m.addEvent("Connection lost - reconnecting...", true)
		m.refresh()

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addEvent("Reconnected", false)
		m.refresh()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	help := "enter=send ctrl+d=hide data pgup/pgdn=scroll esc=quit"
	s.WriteString(titleStyle.Render("CARINSPECTOR MONITOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", connStatus, help)))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.view.View()))
	s.WriteString("\n")
	s.WriteString(m.input.View())
	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderStatisticsBar() string {
	var parts []string
	for _, k := range []frame.Kind{frame.KindCAN, frame.KindLIN, frame.KindKLine} {
		c := m.buses[k]
		parts = append(parts, fmt.Sprintf("%s %s",
			statsLabelStyle.Render(strings.ToUpper(k.String())+":"),
			statsValueStyle.Render(fmt.Sprintf("%d (%.1f/s)", c.total, c.rate))))
	}

	errs := statsValueStyle.Render("0")
	if m.errors > 0 {
		errs = errorStyle.Render(fmt.Sprintf("%d", m.errors))
	}
	parts = append(parts, statsLabelStyle.Render("Errors:")+" "+errs)
	if m.dropped > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("Skipped: %d", m.dropped)))
	}
	if m.hideData {
		parts = append(parts, warningStyle.Render("data hidden"))
	}
	return boxStyle.Width(m.width - 4).Render(strings.Join(parts, "  "))
}

func renderLine(sl scrollLine) string {
	ts := headerStyle.Render(sl.at.Format("15:04:05.000"))
	l := sl.line
	switch l.Kind {
	case console.LineInfo:
		if strings.HasPrefix(l.Text, "command:") {
			return ts + " " + commandStyle.Render("> "+strings.TrimPrefix(l.Text, "command:"))
		}
		return ts + " " + infoStyle.Render(l.Text)
	case console.LineError:
		return ts + " " + errorStyle.Render("x "+l.Text)
	case console.LineData:
		return ts + " " + busStyles[l.Bus].Render(fmt.Sprintf("%-5s %s", l.Bus, l.Text))
	default:
		return ts + " " + headerStyle.Render(l.Text)
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) addLine(l console.Line) {
	switch l.Kind {
	case console.LineData:
		if c, ok := m.buses[l.Bus]; ok {
			c.total++
		}
	case console.LineError:
		m.errors++
	}

	m.lines = append(m.lines, scrollLine{at: time.Now(), line: l})
	if len(m.lines) > m.maxLines {
		m.lines = m.lines[len(m.lines)-m.maxLines:]
	}
}

// addEvent records a monitor-side event in the scrollback
func (m *monitorModel) addEvent(text string, isError bool) {
	kind := console.LineText
	if isError {
		kind = console.LineError
	}
	m.lines = append(m.lines, scrollLine{at: time.Now(), line: console.Line{Kind: kind, Text: text}})
}

func (m *monitorModel) refresh() {
	follow := m.view.AtBottom()

	var sb strings.Builder
	for _, sl := range m.lines {
		if m.hideData && sl.line.Kind == console.LineData {
			continue
		}
		sb.WriteString(renderLine(sl))
		sb.WriteByte('\n')
	}
	m.view.SetContent(strings.TrimSuffix(sb.String(), "\n"))

	if follow {
		m.view.GotoBottom()
	}
}

func (m *monitorModel) resize() {
	m.view.Width = m.width - 6
	h := m.height - 9
	if h < 3 {
		h = 3
	}
	m.view.Height = h
	m.input.Width = m.width - 4
	m.refresh()
}

func (m *monitorModel) calculateRates(now time.Time) {
	elapsed := now.Sub(m.lastTick).Seconds()
	m.lastTick = now
	if elapsed <= 0 {
		return
	}
	for _, c := range m.buses {
		c.rate = float64(c.total-c.lastTick) / elapsed
		c.lastTick = c.total
	}
}

func (m *monitorModel) submit() {
	text := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if text == "" {
		return
	}

	if len(m.history) == 0 || m.history[len(m.history)-1] != text {
		m.history = append(m.history, text)
		if len(m.history) > maxHistory {
			m.history = m.history[1:]
		}
	}
	m.historyAt = len(m.history)

	if m.connectionLost {
		m.addEvent("Cannot send command: connection lost", true)
		m.refresh()
		return
	}
	if err := m.connMgr.send(text); err != nil {
		m.addEvent(fmt.Sprintf("send failed: %v", err), true)
		m.refresh()
	}
}

func (m *monitorModel) recall(delta int) {
	if len(m.history) == 0 {
		return
	}
	m.historyAt += delta
	if m.historyAt < 0 {
		m.historyAt = 0
	}
	if m.historyAt >= len(m.history) {
		m.historyAt = len(m.history)
		m.input.SetValue("")
		return
	}
	m.input.SetValue(m.history[m.historyAt])
	m.input.CursorEnd()
}
