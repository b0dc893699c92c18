package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

var rule = strings.Repeat("=", 50)

const (
	stampLayout = "2006-01-02 15:04:05"
	dayLayout   = "2006-01-02"
	maxBar      = 20
	perHash     = 5 // errors per '#' in the hourly histogram
)

// textWriter wraps an io.Writer and captures the first error.
type textWriter struct {
	w   io.Writer
	err error
}

func (tw *textWriter) printf(format string, args ...any) {
	if tw.err != nil {
		return
	}
	_, tw.err = fmt.Fprintf(tw.w, format, args...)
}

func (tw *textWriter) println(args ...any) {
	if tw.err != nil {
		return
	}
	_, tw.err = fmt.Fprintln(tw.w, args...)
}

func (r *Report) writeBody(tw *textWriter) {
	res := r.Stats
	b := res.Basic

	tw.println("## Summary")
	if r.Source != "" {
		tw.printf("Source:        %s\n", r.Source)
	}
	tw.printf("Total records: %s\n", FormatCount(int64(r.Total)))
	if r.HasErrorRate {
		tw.printf("Error rate:    %s\n", r.ErrorRateText())
	} else {
		tw.println("Error rate:    N/A (no log records)")
	}
	tw.printf("Severity:      %s\n", r.Severity)
	if b.HasRange {
		tw.printf("Period:        %s to %s\n", b.Earliest.Format(stampLayout), b.Latest.Format(stampLayout))
		tw.printf("Duration:      %d days (%s)\n", int(b.Duration.Hours()/24), formatHumanDuration(b.Duration))
	} else {
		tw.println("Period:        no data")
	}

	tw.println()
	tw.println("## Levels")
	if len(b.Levels) == 0 {
		tw.println("no data")
	}
	for _, l := range b.Levels {
		tw.printf("  %-8s %8s  (%.1f%%)\n", l.Level, FormatCount(int64(l.Count)), l.Percent())
	}

	tw.println()
	tw.println("## Modules")
	if len(r.Modules) == 0 {
		tw.println("no data")
	}
	for _, m := range r.Modules {
		tw.printf("  %-16s %8s\n", m.Module, FormatCount(int64(m.Count)))
	}

	tw.println()
	tw.println("## Errors")
	tw.printf("Total errors: %s\n", FormatCount(int64(res.Errors.Total)))
	if res.Errors.Total > 0 {
		tw.println("By module:")
		for _, m := range res.Errors.ByModule {
			tw.printf("  %s: %d\n", m.Module, m.Count)
			for _, msg := range m.TopMessages {
				tw.printf("    - %s (%d)\n", msg.Message, msg.Count)
			}
		}
		tw.println("By hour of day:")
		for hour, n := range res.Errors.Hourly {
			tw.printf("  %02dh: %s (%d)\n", hour, histogramBar(n), n)
		}
	}

	tw.println()
	tw.println("## Performance")
	p := res.Performance
	if !p.HasData {
		tw.println("no response time data")
	} else {
		tw.printf("Samples: %s\n", FormatCount(int64(p.Count)))
		tw.printf("Mean:    %.2fms\n", p.Mean)
		tw.printf("Min:     %dms\n", p.Min)
		tw.printf("Max:     %dms\n", p.Max)
		tw.printf("P50:     %dms\n", p.P50)
		tw.printf("P90:     %dms\n", p.P90)
		tw.printf("P99:     %dms\n", p.P99)
		tw.println("Slowest:")
		for _, rec := range p.Slowest {
			tw.printf("  %s [%s] %s - %dms\n",
				rec.Timestamp.Format(stampLayout), rec.Module, rec.Message, rec.ResponseTimeMs)
		}
	}

	tw.println()
	tw.println("## Time Series")
	ts := res.TimeSeries
	if len(ts.Days) == 0 {
		tw.println("no data")
	}
	for _, d := range ts.Days {
		tw.printf("  %s: %s\n", d.Day.Format(dayLayout), FormatCount(int64(d.Count)))
	}
	if ts.Busiest != nil {
		tw.printf("Busiest day: %s (%s)\n", ts.Busiest.Day.Format(dayLayout), FormatCount(int64(ts.Busiest.Count)))
	}

	tw.println()
	tw.println("## Recommendations")
	for _, rec := range r.Recommendations {
		tw.printf("- %s\n", rec)
	}
}

// histogramBar draws one '#' per five errors, capped at twenty.
func histogramBar(n int) string {
	w := n / perHash
	if w > maxBar {
		w = maxBar
	}
	return strings.Repeat("#", w)
}

// FormatCount formats large numbers with comma separators.
func FormatCount(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	neg := s[0] == '-'
	if neg {
		s = s[1:]
	}
	var result strings.Builder
	if neg {
		result.WriteByte('-')
	}
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteByte(',')
		}
		result.WriteRune(c)
	}
	return result.String()
}

// formatHumanDuration formats a duration as "Xh Ym" or "Xm Ys".
func formatHumanDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %02dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
