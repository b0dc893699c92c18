package report

import (
	"fmt"
	"html"
	"io"
	"time"
)

// WriteHTML writes a self-contained HTML report.
func (r *Report) WriteHTML(w io.Writer) error {
	tw := &textWriter{w: w}
	esc := html.EscapeString

	tw.println("<!DOCTYPE html>")
	tw.println(`<html lang="en"><head><meta charset="utf-8">`)
	tw.println(`<title>loglens report</title>`)
	tw.println(`<style>`)
	tw.println(`body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif; max-width: 960px; margin: 2em auto; padding: 0 1em; color: #1a1a2e; background: #fafafa; }`)
	tw.println(`h1 { border-bottom: 2px solid #e0e0e0; padding-bottom: 0.5em; }`)
	tw.println(`h2 { color: #16213e; margin-top: 2em; }`)
	tw.println(`.meta-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 1em; margin: 1em 0; }`)
	tw.println(`.meta-card { background: white; border: 1px solid #e0e0e0; border-radius: 8px; padding: 1em; }`)
	tw.println(`.meta-card .label { font-size: 0.85em; color: #666; text-transform: uppercase; }`)
	tw.println(`.meta-card .value { font-size: 1.4em; font-weight: 600; margin-top: 0.3em; }`)
	tw.println(`.severity-high { color: #d32f2f; } .severity-medium { color: #f57c00; } .severity-low { color: #388e3c; }`)
	tw.println(`table { border-collapse: collapse; width: 100%; margin: 1em 0; }`)
	tw.println(`th, td { border: 1px solid #e0e0e0; padding: 0.5em 0.8em; text-align: left; }`)
	tw.println(`th { background: #f5f5f5; }`)
	tw.println(`.bar { display: inline-block; height: 0.8em; background: #d32f2f; }`)
	tw.println(`</style></head><body>`)

	tw.println(`<h1>loglens report</h1>`)
	tw.printf("<p>Generated at %s", r.GeneratedAt.Format(time.RFC3339))
	if r.Source != "" {
		tw.printf(" from <code>%s</code>", esc(r.Source))
	}
	tw.println("</p>")

	tw.println(`<div class="meta-grid">`)
	card(tw, "Severity", fmt.Sprintf(`<span class="severity-%s">%s</span>`, r.Severity, r.Severity))
	card(tw, "Records", FormatCount(int64(r.Total)))
	card(tw, "Error Rate", r.ErrorRateText())
	if p := r.Stats.Performance; p.HasData {
		card(tw, "Mean Response", fmt.Sprintf("%.2fms", p.Mean))
		card(tw, "P90", fmt.Sprintf("%dms", p.P90))
	}
	tw.println(`</div>`)

	if len(r.Stats.Basic.Levels) > 0 {
		tw.println(`<h2>Levels</h2>`)
		tw.println(`<table><thead><tr><th>Level</th><th>Count</th><th>Share</th></tr></thead><tbody>`)
		for _, l := range r.Stats.Basic.Levels {
			tw.printf("<tr><td>%s</td><td>%d</td><td>%.1f%%</td></tr>\n", esc(l.Level), l.Count, l.Percent())
		}
		tw.println(`</tbody></table>`)
	}

	if len(r.Modules) > 0 {
		tw.println(`<h2>Modules</h2>`)
		tw.println(`<table><thead><tr><th>Module</th><th>Count</th></tr></thead><tbody>`)
		for _, m := range r.Modules {
			tw.printf("<tr><td>%s</td><td>%d</td></tr>\n", esc(m.Module), m.Count)
		}
		tw.println(`</tbody></table>`)
	}

	if errs := r.Stats.Errors; errs.Total > 0 {
		tw.println(`<h2>Errors</h2>`)
		tw.println(`<table><thead><tr><th>Module</th><th>Count</th><th>Top messages</th></tr></thead><tbody>`)
		for _, m := range errs.ByModule {
			tw.printf("<tr><td>%s</td><td>%d</td><td>", esc(m.Module), m.Count)
			for i, msg := range m.TopMessages {
				if i > 0 {
					tw.printf("<br>")
				}
				tw.printf("%s (%d)", esc(msg.Message), msg.Count)
			}
			tw.println("</td></tr>")
		}
		tw.println(`</tbody></table>`)

		tw.println(`<table><thead><tr><th>Hour</th><th>Errors</th></tr></thead><tbody>`)
		for hour, n := range errs.Hourly {
			tw.printf(`<tr><td>%02dh</td><td><span class="bar" style="width:%dem"></span> %d</td></tr>`+"\n",
				hour, len(histogramBar(n)), n)
		}
		tw.println(`</tbody></table>`)
	}

	if days := r.Stats.TimeSeries.Days; len(days) > 0 {
		tw.println(`<h2>Daily Volume</h2>`)
		tw.println(`<table><thead><tr><th>Day</th><th>Records</th></tr></thead><tbody>`)
		for _, d := range days {
			tw.printf("<tr><td>%s</td><td>%d</td></tr>\n", d.Day.Format(dayLayout), d.Count)
		}
		tw.println(`</tbody></table>`)
	}

	tw.println(`<h2>Recommendations</h2>`)
	tw.println(`<ul>`)
	for _, rec := range r.Recommendations {
		tw.printf("<li>%s</li>\n", esc(rec))
	}
	tw.println(`</ul>`)

	tw.println(`</body></html>`)
	return tw.err
}

func card(tw *textWriter, label, value string) {
	tw.printf(`<div class="meta-card"><div class="label">%s</div><div class="value">%s</div></div>`+"\n", label, value)
}
