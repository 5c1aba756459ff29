package main

import (
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas"
	"github.com/NimbleMarkets/ntcharts/linechart"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
)

// model is the Bubble Tea Model for the operator dashboard. Grounded on
// syschecker's ui/tui.MainModel: a linechart for history, a harmonica
// spring for smooth gauge animation, a spinner for liveness, and
// bubblezone for the mouse-clickable quit button.
type model struct {
	feed *feed

	spinner    spinner.Model
	sizeChart  linechart.Model
	gaugeSpr   harmonica.Spring
	gaugeX     float64
	gaugeV     float64
	log        viewport.Model
	quitting   bool
	width      int
	height     int
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type animateMsg time.Time

func animateCmd() tea.Cmd {
	return tea.Tick(16*time.Millisecond, func(t time.Time) tea.Msg { return animateMsg(t) })
}

func newModel(f *feed) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	chart := linechart.New(40, 10, 0, float64(maxBatchHistory), 0, 20)
	spring := harmonica.NewSpring(harmonica.FPS(60), 10.0, 0.9)

	vp := viewport.New(60, 12)

	return model{
		feed:      f,
		spinner:   s,
		sizeChart: chart,
		gaugeSpr:  spring,
		log:       vp,
	}
}

func (m model) Init() tea.Cmd {
	zone.NewGlobal()
	return tea.Batch(m.spinner.Tick, tickCmd(), animateCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionRelease && zone.Get("quit").InBounds(msg) {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.log.Width = m.width - 4
		m.log.Height = m.height - 16

	case animateMsg:
		snap := m.feed.snapshot()
		target := float64(snap.recordsOpen)
		var v float64 = m.gaugeV
		m.gaugeX, v = m.gaugeSpr.Update(m.gaugeX, target, v)
		m.gaugeV = v
		return m, animateCmd()

	case tickMsg:
		snap := m.feed.snapshot()

		m.sizeChart.Clear()
		for i := 0; i < len(snap.batchSizes)-1; i++ {
			m.sizeChart.DrawBrailleLine(
				canvas.Float64Point{X: float64(i), Y: float64(snap.batchSizes[i])},
				canvas.Float64Point{X: float64(i + 1), Y: float64(snap.batchSizes[i+1])},
			)
		}
		m.sizeChart.DrawXYAxisAndLabel()

		m.log.SetContent(renderEvents(snap.events))
		m.log.GotoBottom()

		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func renderEvents(events []string) string {
	out := ""
	for _, e := range events {
		out += e + "\n"
	}
	return out
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	gaugeStyle  = lipgloss.NewStyle().Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230"))
)

func (m model) View() string {
	if m.quitting {
		return "reqlogtop: bye\n"
	}

	snap := m.feed.snapshot()

	gaugeWidth := int(m.gaugeX)
	if gaugeWidth < 0 {
		gaugeWidth = 0
	}
	if gaugeWidth > 40 {
		gaugeWidth = 40
	}
	gauge := gaugeStyle.Render(fmt.Sprintf(" %*s", gaugeWidth, ""))

	header := headerStyle.Render(fmt.Sprintf("%s reqlogtop — open scopes: %d", m.spinner.View(), snap.recordsOpen))
	gaugeBox := boxStyle.Render("open scopes\n" + gauge)
	chartBox := boxStyle.Render("batch size history\n" + m.sizeChart.View())
	logBox := boxStyle.Render("recent deliveries\n" + m.log.View())
	quitBtn := zone.Mark("quit", lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("[ click or press q to quit ]"))

	return zone.Scan(lipgloss.JoinVertical(lipgloss.Left, header, gaugeBox, chartBox, logBox, quitBtn))
}
