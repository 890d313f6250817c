package livehttp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"botwatch/internal/analytics"
	"botwatch/internal/viewmodel"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorUp            = "#34d399"
	colorDown          = "#f87171"
	colorNeutral       = "#a78bfa"
)

func (r *Router) handleEquityChart(c *gin.Context) {
	var buf bytes.Buffer
	if err := renderEquity(&buf, r.view.Snapshot().View()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// renderEquity 输出权益曲线页面，标题带趋势与回撤摘要。
func renderEquity(w io.Writer, view viewmodel.View) error {
	xAxis := make([]string, len(view.EquityCurve))
	points := make([]opts.LineData, len(view.EquityCurve))
	for i, p := range view.EquityCurve {
		xAxis[i] = p.Timestamp
		points[i] = opts.LineData{Value: p.Equity}
	}

	color := colorNeutral
	switch view.Trend {
	case analytics.TrendUp:
		color = colorUp
	case analytics.TrendDown:
		color = colorDown
	}
	subtitle := fmt.Sprintf("trend %s (%+.2f) · max drawdown %.2f (%.2f%%) · current %.2f (%.2f%%)",
		view.Trend, view.TrendDelta,
		view.Drawdown.MaxDrawdown, view.Drawdown.MaxDrawdownPercent,
		view.Drawdown.CurrentDrawdown, view.Drawdown.CurrentDrawdownPercent)
	if len(points) == 0 {
		subtitle = "no equity data yet"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:       "botwatch equity",
			Width:           "1200px",
			Height:          "520px",
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         "Equity",
			Subtitle:      subtitle,
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetXAxis(xAxis).AddSeries("equity", points,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: color, Width: 2}),
	)
	return line.Render(w)
}
