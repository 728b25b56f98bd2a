package report

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

var funcs = template.FuncMap{
	"percent": func(f float64) string { return fmt.Sprintf("%.2f%%", f*100) },
	"millis": func(d time.Duration) string {
		return fmt.Sprintf("%.1f ms", float64(d)/float64(time.Millisecond))
	},
	"stamp": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}

var page = template.Must(template.New("report").Funcs(funcs).Parse(pageTemplate))

// section is a rendered chart page shown in an iframe
type section struct {
	ID    string
	Title string
	HTML  string
}

type view struct {
	*Report
	Charts map[string]*section
}

// Render writes the report as one HTML document
func (r *Report) Render(w io.Writer) error {
	charts, err := r.charts()
	if err != nil {
		return err
	}
	if err := page.Execute(w, view{Report: r, Charts: charts}); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}

func (r *Report) charts() (map[string]*section, error) {
	out := make(map[string]*section)
	add := func(id, title string, c chart) error {
		html, err := renderChart(c)
		if err != nil {
			return fmt.Errorf("rendering %s chart: %w", id, err)
		}
		out[id] = &section{ID: id, Title: title, HTML: html}
		return nil
	}

	if len(r.Target) > 0 {
		if err := add("target", "Target distribution", targetChart(r.TargetColumn, r.Target)); err != nil {
			return nil, err
		}
	}
	if len(r.Leakage) > 0 {
		title := fmt.Sprintf("%s by %s", r.LeakageColumn, r.TargetColumn)
		if err := add("leakage", title, leakageChart(r.LeakageColumn, r.TargetColumn, r.Leakage)); err != nil {
			return nil, err
		}
	}
	if len(r.Importances) > 0 {
		if err := add("importance", "Feature importance", importanceChart(r.Importances)); err != nil {
			return nil, err
		}
	}
	if r.Confusion != nil && len(r.Confusion.Labels) > 0 {
		if err := add("confusion", "Confusion matrix", confusionChart(r.Confusion)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Length of stay report</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
th { background: #f3f3f3; }
td.num { text-align: right; }
iframe { border: none; width: 940px; height: 460px; }
footer { margin-top: 2em; font-size: 0.85em; color: #666; }
</style>
</head>
<body>
<h1>Length of stay report</h1>
<p>Run <code>{{.RunID}}</code> generated {{stamp .GeneratedAt}}{{if .Source}} from <code>{{.Source}}</code>{{end}}.</p>

{{if .Profiles}}
<h2>Column profile</h2>
<table id="profile">
<tr><th>Column</th><th>Approx. distinct</th><th>Missing</th><th>Sample categories</th></tr>
{{range .Profiles}}<tr><td>{{.Name}}</td><td class="num">{{.ApproxDistinct}}</td><td class="num">{{percent .MissingFraction}}</td><td>{{.Display}}</td></tr>
{{end}}</table>
{{end}}

{{if .Clean.Input}}
<h2>Cleaning</h2>
<p>{{.Clean.Input}} rows read, {{.Clean.Removed}} removed for missing values, {{.Clean.Output}} kept.</p>
{{end}}

{{with index .Charts "target"}}<h2>{{.Title}}</h2>
<iframe id="{{.ID}}" srcdoc="{{.HTML}}"></iframe>
{{end}}
{{with index .Charts "leakage"}}<h2>{{.Title}}</h2>
<iframe id="{{.ID}}" srcdoc="{{.HTML}}"></iframe>
{{end}}

{{if .Features}}
<h2>Model</h2>
<p>{{len .Features}} features, {{.TrainRows}} training rows, {{.TestRows}} test rows.</p>
{{end}}
{{with index .Charts "importance"}}<h2>{{.Title}}</h2>
<iframe id="{{.ID}}" srcdoc="{{.HTML}}"></iframe>
{{end}}

{{if .Metrics.Support}}
<h2>Metrics</h2>
<table id="metrics">
<tr><th>Metric</th><th>Value</th></tr>
{{range .Metrics.Rows}}<tr><td>{{.Name}}</td><td class="num">{{.Percent}}</td></tr>
{{end}}</table>
{{end}}
{{with index .Charts "confusion"}}<h2>{{.Title}}</h2>
<iframe id="{{.ID}}" srcdoc="{{.HTML}}"></iframe>
{{end}}

{{if .Stages}}
<h2>Stage timings</h2>
<table id="stages">
<tr><th>Stage</th><th>Duration</th><th>Rows</th></tr>
{{range .Stages}}<tr><td>{{.Stage}}{{if .Failed}} (failed){{end}}</td><td class="num">{{millis .Duration}}</td><td class="num">{{.RowsProcessed}}</td></tr>
{{end}}</table>
{{end}}

<footer>losreport {{.Version}}</footer>
</body>
</html>
`
