package viewer

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

const (
	chartHeight = 8
	// maxSamples is how many trailing samples per device a chart shows.
	maxSamples = 120
)

var seriesColors = []struct {
	graph asciigraph.AnsiColor
	style lipgloss.Color
}{
	{asciigraph.Red, lipgloss.Color("1")},
	{asciigraph.Green, lipgloss.Color("2")},
	{asciigraph.Yellow, lipgloss.Color("3")},
	{asciigraph.Blue, lipgloss.Color("4")},
	{asciigraph.Magenta, lipgloss.Color("5")},
	{asciigraph.Cyan, lipgloss.Color("6")},
}

// renderChart plots every series on one graph with a colour legend underneath.
func renderChart(caption string, series []Series, width int) string {
	if len(series) == 0 {
		return mutedStyle.Render("no data")
	}

	data := make([][]float64, 0, len(series))
	graphColors := make([]asciigraph.AnsiColor, 0, len(series))
	legend := make([]string, 0, len(series))
	for i, s := range series {
		c := seriesColors[i%len(seriesColors)]
		data = append(data, plottable(s.Values))
		graphColors = append(graphColors, c.graph)
		legend = append(legend, lipgloss.NewStyle().Foreground(c.style).Render("■ "+s.Address))
	}

	opts := []asciigraph.Option{
		asciigraph.Height(chartHeight),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(graphColors...),
		asciigraph.Precision(0),
	}
	if w := width - 12; w > 10 {
		opts = append(opts, asciigraph.Width(w))
	}

	return asciigraph.PlotMany(data, opts...) + "\n" + strings.Join(legend, "  ")
}

// plottable trims values to the chart window and pads single samples so a
// flat line is drawn.
func plottable(values []float64) []float64 {
	if len(values) > maxSamples {
		values = values[len(values)-maxSamples:]
	}
	if len(values) == 1 {
		return []float64{values[0], values[0]}
	}
	return values
}
