package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ppiankov/loglens/internal/stats"
	"github.com/ppiankov/loglens/internal/store"
)

const (
	defaultErrorRateThreshold = 0.05
	defaultSlowMeanMs         = 500
)

// Options controls report thresholds.
type Options struct {
	ErrorRateThreshold float64          // fraction of total, flagged when exceeded (default 0.05)
	SlowMeanMs         float64          // mean response time flagged when exceeded (default 500)
	Now                func() time.Time // clock for GeneratedAt (default time.Now)
}

func (o Options) withDefaults() Options {
	if o.ErrorRateThreshold <= 0 {
		o.ErrorRateThreshold = defaultErrorRateThreshold
	}
	if o.SlowMeanMs <= 0 {
		o.SlowMeanMs = defaultSlowMeanMs
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Report is the rendered analysis of one record set.
type Report struct {
	Source          string              `json:"source"`
	GeneratedAt     time.Time           `json:"generated_at"`
	Total           int                 `json:"total"`
	ErrorRatePct    float64             `json:"error_rate_pct"`
	HasErrorRate    bool                `json:"has_error_rate"`
	Severity        string              `json:"severity"`
	Modules         []store.ModuleCount `json:"modules"`
	Stats           *stats.Result       `json:"stats"`
	Recommendations []string            `json:"recommendations"`

	opts Options
}

// Generate builds a report from a completed store and its statistics.
// When res is nil the statistics are computed from the store.
func Generate(source string, st *store.Store, res *stats.Result, opts Options) *Report {
	opts = opts.withDefaults()
	if res == nil {
		res = stats.Analyze(st.Snapshot(), stats.Options{})
	}

	r := &Report{
		Source:      source,
		GeneratedAt: opts.Now().UTC(),
		Total:       res.Basic.Total,
		Modules:     st.CountByModule(),
		Stats:       res,
		opts:        opts,
	}
	if rate, ok := res.ErrorRate(); ok {
		r.ErrorRatePct = rate * 100
		r.HasErrorRate = true
	}
	r.Severity = classifySeverity(r.Total, res.Errors.Total, opts.ErrorRateThreshold)
	r.Recommendations = buildRecommendations(res, opts)
	return r
}

// mediumSeverityDivisor places the medium cut-off at a fifth of the
// error-rate threshold, 1% for the default 5%.
const mediumSeverityDivisor = 5

// classifySeverity grades the error rate against threshold, using the same
// strict comparison as the high error rate recommendation. "none" means there
// was nothing to grade.
func classifySeverity(total, errs int, threshold float64) string {
	if total == 0 {
		return "none"
	}
	limit := float64(total) * threshold
	switch {
	case float64(errs) > limit:
		return "high"
	case float64(errs) > limit/mediumSeverityDivisor:
		return "medium"
	default:
		return "low"
	}
}

func buildRecommendations(res *stats.Result, opts Options) []string {
	var recs []string

	total := res.Basic.Total
	if total == 0 {
		recs = append(recs, "No log records found.")
	} else if float64(res.Errors.Total) > float64(total)*opts.ErrorRateThreshold {
		rate, _ := res.ErrorRate()
		msg := fmt.Sprintf("High error rate (%.1f%% > %.1f%%): investigate error causes",
			rate*100, opts.ErrorRateThreshold*100)
		if len(res.Errors.ByModule) > 0 {
			msg += fmt.Sprintf(", starting with %s", res.Errors.ByModule[0].Module)
		}
		recs = append(recs, msg+".")
	}

	perf := res.Performance
	if !perf.HasData {
		recs = append(recs, "No response time data available.")
	} else if perf.Mean > opts.SlowMeanMs {
		recs = append(recs, fmt.Sprintf("Slow responses (mean %.2fms > %.0fms): consider performance improvements.",
			perf.Mean, opts.SlowMeanMs))
	}

	if len(recs) == 0 {
		recs = append(recs, "No issues detected.")
	}
	return recs
}

// Body renders every section except the generated-at header. The output
// depends only on the analysed data, so equal inputs give equal bodies.
func (r *Report) Body() string {
	var b strings.Builder
	tw := &textWriter{w: &b}
	r.writeBody(tw)
	return b.String()
}

// WriteText writes the header followed by the body.
func (r *Report) WriteText(w io.Writer) error {
	tw := &textWriter{w: w}
	tw.println("Log Analysis Report")
	tw.println(rule)
	tw.printf("Generated at: %s\n", r.GeneratedAt.Format(time.RFC3339))
	tw.println(rule)
	tw.println()
	r.writeBody(tw)
	return tw.err
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ErrorRateText returns the error rate as "6.0%", or "N/A" for an empty set.
func (r *Report) ErrorRateText() string {
	if !r.HasErrorRate {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", r.ErrorRatePct)
}
