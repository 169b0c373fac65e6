// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/legctl/pkg/joint"
	"github.com/Thermoquad/legctl/pkg/statusapi"
	"github.com/Thermoquad/legctl/pkg/store"
)

const (
	maxEvents       = 200
	monitorInterval = 100 * time.Millisecond
	chartHeight     = 10
)

//////////////////////////////////////////////////////////////
// Event log
//////////////////////////////////////////////////////////////

// eventLog collects log lines while the monitor owns the terminal
type eventLog struct {
	mu      sync.Mutex
	entries []string
	max     int
}

func newEventLog(size int) *eventLog {
	return &eventLog{max: size}
}

// Write stores each complete line written by the logger
func (e *eventLog) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		e.entries = append(e.entries, line)
	}
	// Keep only last N entries
	if len(e.entries) > e.max {
		e.entries = e.entries[len(e.entries)-e.max:]
	}
	return len(p), nil
}

// Last returns up to n of the newest lines, oldest first
func (e *eventLog) Last(n int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n > len(e.entries) {
		n = len(e.entries)
	}
	return append([]string(nil), e.entries[len(e.entries)-n:]...)
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

// Joint colors, one per slot of the selected leg
var slotColors = [joint.SlotsPerLeg]string{"196", "226", "51"}

var slotNames = [joint.SlotsPerLeg]string{"hip", "thigh", "knee"}

type monitorModel struct {
	src    statusapi.StatusSource
	store  *store.Store
	events *eventLog
	infos  []string

	actuators table.Model
	progress  progress.Model
	chart     *streamlinechart.Model
	leg       int

	phase    string
	pct      float64
	tripped  bool
	trip     string
	width    int
	height   int
	quitting bool
}

type monitorTickMsg time.Time

func newMonitorModel(src statusapi.StatusSource, st *store.Store, events *eventLog, infos []string) monitorModel {
	columns := []table.Column{
		{Title: "Ch", Width: 3},
		{Title: "Id", Width: 3},
		{Title: "Joint", Width: 6},
		{Title: "Pos", Width: 8},
		{Title: "Spd", Width: 8},
		{Title: "Tor", Width: 7},
		{Title: "Temp", Width: 5},
		{Title: "Err", Width: 11},
		{Title: "Loss", Width: 7},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(joint.NumActuators+1),
		table.WithFocused(false),
	)

	m := monitorModel{
		src:       src,
		store:     st,
		events:    events,
		infos:     infos,
		actuators: t,
		progress:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		width:     80,
		height:    24,
	}
	m.chart = newLegChart(80)
	return m
}

func newLegChart(width int) *streamlinechart.Model {
	chart := streamlinechart.New(width, chartHeight,
		streamlinechart.WithYRange(-3, 3),
	)
	for slot, name := range slotNames {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(slotColors[slot]))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}
	return &chart
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(monitorInterval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "1", "2", "3", "4":
			// switching legs restarts the chart
			m.leg = int(msg.String()[0] - '1')
			m.chart = newLegChart(m.chartWidth())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartWidth(), chartHeight)

	case monitorTickMsg:
		m.refresh()
		return m, monitorTickCmd()
	}
	return m, nil
}

func (m *monitorModel) chartWidth() int {
	if m.width-4 < 40 {
		return 40
	}
	return m.width - 4
}

// refresh pulls a new supervisor status and actuator table
func (m *monitorModel) refresh() {
	s := m.src.Status()
	m.phase = s.Phase.String()
	m.pct = s.Progress
	m.tripped = s.Tripped
	m.trip = ""
	if s.Trip != nil {
		m.trip = s.Trip.String()
	}

	snap := m.store.Snapshot()
	rows := make([]table.Row, len(snap))
	for i, a := range snap {
		leg, slot := joint.Split(i)
		pos, spd, tor := "-", "-", "-"
		if a.HasFeedback {
			pos = fmt.Sprintf("%.3f", s.Position[i])
			spd = fmt.Sprintf("%.2f", s.Velocity[i])
			tor = fmt.Sprintf("%.2f", s.Torque[i])
		}
		rows[i] = table.Row{
			fmt.Sprintf("%d", leg),
			fmt.Sprintf("%d", slot),
			slotNames[slot],
			pos,
			spd,
			tor,
			fmt.Sprintf("%d", a.Feedback.Temperature),
			a.Feedback.Error.String(),
			fmt.Sprintf("%.1f%%", a.Counters.LossPercent()),
		}
	}
	m.actuators.SetRows(rows)

	for slot, name := range slotNames {
		m.chart.PushDataSet(name, s.Position[joint.Index(m.leg, slot)])
	}
	m.chart.DrawAll()
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("LEGCTL - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | 1-4: chart leg | Press 'q' to quit", strings.Join(m.infos, ", "))))
	s.WriteString("\n\n")

	// Phase
	phase := valueStyle.Render(m.phase)
	if m.tripped {
		phase = errorStyle.Render(m.phase)
	}
	s.WriteString(fmt.Sprintf("%s %s  %s\n", labelStyle.Render("Phase:"), phase, m.progress.ViewAs(m.pct)))
	if m.trip != "" {
		s.WriteString(errorStyle.Render("✗ " + m.trip))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	s.WriteString(boxStyle.Render(m.actuators.View()))
	s.WriteString("\n")

	// Chart with legend
	s.WriteString(labelStyle.Render(fmt.Sprintf("Leg %d positions (rad):", m.leg)))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.chart.View()))
	s.WriteString("\n")
	var legend []string
	for slot, name := range slotNames {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(slotColors[slot])).Bold(true)
		legend = append(legend, colorStyle.Render("━━")+" "+name)
	}
	s.WriteString(strings.Join(legend, "  "))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	logHeight := m.height - joint.NumActuators - chartHeight - 16
	if logHeight < 3 {
		logHeight = 3
	}
	lines := m.events.Last(logHeight)
	logContent := headerStyle.Render("  (no events yet)")
	if len(lines) > 0 {
		logContent = strings.Join(lines, "\n")
	}
	s.WriteString(boxStyle.Width(m.chartWidth()).Render(logContent))

	return s.String()
}
