package report

import (
	"bytes"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/paveg/losreport/internal/evaluate"
	"github.com/paveg/losreport/internal/forest"
)

const (
	chartWidth  = "900px"
	chartHeight = "420px"
)

// chart is implemented by every go-echarts chart type
type chart interface {
	Render(w io.Writer) error
}

func initOpts(id, title string) charts.GlobalOpts {
	return charts.WithInitializationOpts(opts.Initialization{
		PageTitle: title,
		ChartID:   id,
		Width:     chartWidth,
		Height:    chartHeight,
	})
}

func targetChart(column string, counts []TargetCount) *charts.Bar {
	labels := make([]string, len(counts))
	data := make([]opts.BarData, len(counts))
	for i, c := range counts {
		labels[i] = c.Label
		data[i] = opts.BarData{Value: c.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts("target", "Target distribution"),
		charts.WithTitleOpts(opts.Title{Title: "Distribution of " + column}),
		charts.WithXAxisOpts(opts.XAxis{Name: column}),
		charts.WithYAxisOpts(opts.YAxis{Name: "rows"}),
	)
	bar.SetXAxis(labels).AddSeries("rows", data)
	return bar
}

func leakageChart(feature, target string, stats []BoxStats) *charts.BoxPlot {
	labels := make([]string, len(stats))
	data := make([]opts.BoxPlotData, len(stats))
	for i, s := range stats {
		labels[i] = s.Label
		data[i] = opts.BoxPlotData{Name: s.Label, Value: s.Values()}
	}

	box := charts.NewBoxPlot()
	box.SetGlobalOptions(
		initOpts("leakage", "Leakage feature"),
		charts.WithTitleOpts(opts.Title{Title: feature + " by " + target}),
		charts.WithXAxisOpts(opts.XAxis{Name: target}),
		charts.WithYAxisOpts(opts.YAxis{Name: feature}),
	)
	box.SetXAxis(labels).AddSeries(feature, data)
	return box
}

func importanceChart(importances []forest.Importance) *charts.Bar {
	names := make([]string, len(importances))
	data := make([]opts.BarData, len(importances))
	for i, imp := range importances {
		names[i] = imp.Feature
		data[i] = opts.BarData{Value: imp.Score}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts("importance", "Feature importance"),
		charts.WithTitleOpts(opts.Title{Title: "Feature importance"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "importance"}),
	)
	bar.SetXAxis(names).AddSeries("importance", data)
	return bar
}

// confusionChart draws predicted labels on x and actual labels on y
func confusionChart(cm *evaluate.ConfusionMatrix) *charts.HeatMap {
	data := make([]opts.HeatMapData, 0, len(cm.Labels)*len(cm.Labels))
	maxCount := 0
	for a, row := range cm.Counts {
		for p, v := range row {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{p, a, v}})
			if v > maxCount {
				maxCount = v
			}
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		initOpts("confusion", "Confusion matrix"),
		charts.WithTitleOpts(opts.Title{Title: "Confusion matrix"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "predicted", Type: "category", Data: cm.Labels}),
		charts.WithYAxisOpts(opts.YAxis{Name: "actual", Type: "category", Data: cm.Labels}),
		charts.WithVisualMapOpts(opts.VisualMap{Min: 0, Max: float32(maxCount)}),
	)
	hm.SetXAxis(cm.Labels).AddSeries("rows", data)
	return hm
}

// renderChart renders c as a standalone page
func renderChart(c chart) (string, error) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
