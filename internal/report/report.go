package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"arena/internal/evaluate"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"gopkg.in/yaml.v3"
)

// 中文说明：
// 把一场竞赛的产物渲染为单页 HTML 报告（权益曲线 + 评分榜），
// 并同时导出一份 YAML 产物便于归档与 diff。

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"

	chartWidthPx  = 1400
	chartHeightPx = 520
)

var seriesPalette = []string{
	"#3b82f6", "#34d399", "#fbbf24", "#f472b6", "#22d3ee",
	"#a78bfa", "#f87171", "#fb7185", "#4ade80", "#facc15",
}

// Writer 把产物写到 reports 目录。
type Writer struct {
	dir string
}

func NewWriter(dir string) (*Writer, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("report writer requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{dir: dir}, nil
}

// WriteRunReport 渲染 HTML 报告并导出 YAML，返回 HTML 路径。
func (w *Writer) WriteRunReport(art evaluate.Artifact) (string, error) {
	if len(art.Agents) == 0 {
		return "", fmt.Errorf("artifact has no agents")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityChart(art), scoreChart(art))

	htmlPath := filepath.Join(w.dir, art.RunID+".html")
	f, err := os.Create(htmlPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", err
	}
	if err := w.writeYAML(art); err != nil {
		return "", err
	}
	return htmlPath, nil
}

// HTMLPath 返回某场竞赛 HTML 报告的落盘路径（不保证存在）。
func (w *Writer) HTMLPath(runID string) string {
	return filepath.Join(w.dir, runID+".html")
}

func (w *Writer) writeYAML(art evaluate.Artifact) error {
	payload, err := yaml.Marshal(art)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	return os.WriteFile(filepath.Join(w.dir, art.RunID+".yaml"), payload, 0o644)
}

func equityChart(art evaluate.Artifact) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("Equity Curves — run %s", art.RunID),
			Subtitle:      fmt.Sprintf("%d agents, %d cycles, winner %s", len(art.Agents), art.Cycles, art.WinnerID),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	line.SetXAxis(equityXAxis(art))
	for i, agent := range art.Agents {
		data := make([]opts.LineData, 0, len(agent.EquityCurve))
		for _, pt := range agent.EquityCurve {
			data = append(data, opts.LineData{Value: pt.Equity})
		}
		color := seriesPalette[i%len(seriesPalette)]
		line.AddSeries(agent.AgentID, data,
			charts.WithLineStyleOpts(opts.LineStyle{Color: color, Width: 2}))
	}
	return line
}

func equityXAxis(art evaluate.Artifact) []string {
	var longest []string
	for _, agent := range art.Agents {
		if len(agent.EquityCurve) <= len(longest) {
			continue
		}
		axis := make([]string, 0, len(agent.EquityCurve))
		for _, pt := range agent.EquityCurve {
			axis = append(axis, time.UnixMilli(pt.Timestamp).UTC().Format("01-02 15:04"))
		}
		longest = axis
	}
	return longest
}

func scoreChart(art evaluate.Artifact) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "Leaderboard",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	ids := make([]string, 0, len(art.Leaderboard))
	trading := make([]opts.BarData, 0, len(art.Leaderboard))
	total := make([]opts.BarData, 0, len(art.Leaderboard))
	for _, score := range art.Leaderboard {
		ids = append(ids, score.AgentID)
		trading = append(trading, opts.BarData{Value: score.TradingScore})
		total = append(total, opts.BarData{Value: score.TotalScore})
	}
	bar.SetXAxis(ids)
	bar.AddSeries("trading", trading)
	bar.AddSeries("total", total)
	return bar
}
