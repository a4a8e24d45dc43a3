// Package viewer is a terminal dashboard that follows the beacon table file.
package viewer

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"beaconscan/internal/model"
	"beaconscan/internal/sink"
)

// Ensure *Model satisfies tea.Model.
var _ tea.Model = (*Model)(nil)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type tickMsg time.Time

type loadedMsg struct {
	records []model.BeaconDataRecord
	err     error
	at      time.Time
}

// Model polls the table file and renders RSSI and sensor charts plus the
// latest reading of every device. A failed reload keeps the previous data.
type Model struct {
	path     string
	interval time.Duration
	read     func(path string) ([]model.BeaconDataRecord, error)

	records  []model.BeaconDataRecord
	err      error
	loadedAt time.Time

	table  table.Model
	width  int
	height int
}

// New returns a viewer for the table at path, reloading every interval.
func New(path string, interval time.Duration) *Model {
	if path == "" {
		path = sink.DefaultPath
	}
	if interval <= 0 {
		interval = time.Second
	}
	m := &Model{path: path, interval: interval, read: sink.ReadCSV}
	m.rebuildTable()
	return m
}

// Init loads the table once; later loads are chained off each result.
func (m *Model) Init() tea.Cmd {
	return m.load()
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.rebuildTable()
		return m, nil

	case tickMsg:
		return m, m.load()

	case loadedMsg:
		m.loadedAt = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.records = msg.records
			m.rebuildTable()
		}
		return m, m.tick()
	}

	return m, nil
}

// View renders the dashboard.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Beacon viewer"))
	b.WriteString(" ")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%s · %d records · q to quit", m.path, len(m.records))))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")

	chartWidth := m.width - 4
	b.WriteString(panelStyle.Render(renderChart("RSSI (dBm)", rssiSeries(m.records), chartWidth)))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(renderChart("Sensor level", sensorSeries(m.records), chartWidth)))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.table.View()))
	b.WriteString("\n")

	return b.String()
}

func (m *Model) statusLine() string {
	switch {
	case m.err != nil && errors.Is(m.err, fs.ErrNotExist):
		return mutedStyle.Render("waiting for " + m.path)
	case m.err != nil:
		return errorStyle.Render("reload failed: " + m.err.Error())
	case m.loadedAt.IsZero():
		return mutedStyle.Render("loading…")
	default:
		return mutedStyle.Render("updated " + m.loadedAt.Format("15:04:05"))
	}
}

func (m *Model) load() tea.Cmd {
	path, read := m.path, m.read
	return func() tea.Msg {
		records, err := read(path)
		return loadedMsg{records: records, err: err, at: time.Now()}
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) rebuildTable() {
	columns := []table.Column{
		{Title: "Address", Width: 17},
		{Title: "Name", Width: 16},
		{Title: "RSSI", Width: 5},
		{Title: "Manufacturer", Width: 14},
		{Title: "Sensor", Width: 14},
		{Title: "Last seen", Width: 10},
	}

	latest := latestPerDevice(m.records)
	rows := make([]table.Row, 0, len(latest))
	for _, r := range latest {
		rows = append(rows, table.Row{
			r.DeviceAddress,
			r.DeviceName,
			strconv.Itoa(r.RSSI),
			rawOrDash(r.ManufacturerData),
			rawOrDash(r.SensorData),
			r.Timestamp.Local().Format("15:04:05"),
		})
	}

	tableH := len(rows) + 1
	if m.height > 0 {
		if limit := m.height - 2*(chartHeight+4) - 6; limit > 3 && tableH > limit {
			tableH = limit
		}
	}
	if tableH < 3 {
		tableH = 3
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(tableH),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("8")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(s)

	m.table = t
}

func rawOrDash(p *model.Payload) string {
	if p == nil || p.RawData == "" {
		return "-"
	}
	return p.RawData
}
