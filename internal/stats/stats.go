package stats

import (
	"math"
	"sort"
	"time"

	"github.com/ppiankov/loglens/internal/logtypes"
	"github.com/ppiankov/loglens/internal/store"
)

const (
	defaultTopMessages = 3
	defaultTopSlowest  = 5
)

// Options controls the size of ranked lists.
type Options struct {
	TopMessages int // error messages per module (default 3)
	TopSlowest  int // slowest records (default 5)
}

// Result holds every analysis over one snapshot of records.
type Result struct {
	Basic       Basic       `json:"basic"`
	Errors      Errors      `json:"errors"`
	Performance Performance `json:"performance"`
	TimeSeries  TimeSeries  `json:"time_series"`
}

// Basic holds totals, the level breakdown and the covered time range.
type Basic struct {
	Total    int           `json:"total"`
	Levels   []LevelShare  `json:"levels"`
	HasRange bool          `json:"has_range"`
	Earliest time.Time     `json:"earliest,omitempty"`
	Latest   time.Time     `json:"latest,omitempty"`
	Duration time.Duration `json:"duration"`
}

// LevelShare is a level, its count, and its exact fraction of the total.
// Fraction is 0 when the total is 0.
type LevelShare struct {
	Level    string  `json:"level"`
	Count    int     `json:"count"`
	Fraction float64 `json:"fraction"`
}

// Percent returns the share as a percentage.
func (l LevelShare) Percent() float64 {
	return l.Fraction * 100
}

// Errors holds ERROR-level analysis.
type Errors struct {
	Total    int            `json:"total"`
	ByModule []ModuleErrors `json:"by_module,omitempty"`
	Hourly   [24]int        `json:"hourly"`
}

// ModuleErrors is the error count and most frequent messages for a module.
type ModuleErrors struct {
	Module      string         `json:"module"`
	Count       int            `json:"count"`
	TopMessages []MessageCount `json:"top_messages"`
}

// MessageCount is a message and how often it occurred.
type MessageCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Performance holds response-time statistics. Only records carrying a
// response time contribute; HasData is false when there are none.
type Performance struct {
	HasData bool              `json:"has_data"`
	Count   int               `json:"count"`
	Mean    float64           `json:"mean_ms"`
	Min     int64             `json:"min_ms"`
	Max     int64             `json:"max_ms"`
	P50     int64             `json:"p50_ms"`
	P90     int64             `json:"p90_ms"`
	P99     int64             `json:"p99_ms"`
	Slowest []logtypes.Record `json:"slowest,omitempty"`
	sorted  []int64
}

// Percentile returns the p-th percentile of the analysed response times.
func (p Performance) Percentile(pct float64) (int64, bool) {
	return Percentile(p.sorted, pct)
}

// TimeSeries holds per-day counts.
type TimeSeries struct {
	Days    []store.DayCount `json:"days,omitempty"`
	Busiest *store.DayCount  `json:"busiest,omitempty"`
}

// ErrorRate returns ERROR records / total. ok is false when there are no
// records, in which case the rate is undefined.
func (r *Result) ErrorRate() (rate float64, ok bool) {
	if r.Basic.Total == 0 {
		return 0, false
	}
	return float64(r.Errors.Total) / float64(r.Basic.Total), true
}

// Analyze computes all statistics over one store snapshot. Records inserted
// after the snapshot was taken are not seen.
func Analyze(snap *store.Snapshot, opts Options) *Result {
	if opts.TopMessages <= 0 {
		opts.TopMessages = defaultTopMessages
	}
	if opts.TopSlowest <= 0 {
		opts.TopSlowest = defaultTopSlowest
	}

	return &Result{
		Basic:       analyzeBasic(snap),
		Errors:      analyzeErrors(snap, opts.TopMessages),
		Performance: analyzePerformance(snap.Records(), opts.TopSlowest),
		TimeSeries:  analyzeTimeSeries(snap.CountByDay()),
	}
}

func analyzeBasic(snap *store.Snapshot) Basic {
	b := Basic{Total: snap.Len()}

	for i, r := range snap.Records() {
		if i == 0 || r.Timestamp.Before(b.Earliest) {
			b.Earliest = r.Timestamp
		}
		if i == 0 || r.Timestamp.After(b.Latest) {
			b.Latest = r.Timestamp
		}
	}

	if b.Total > 0 {
		b.HasRange = true
		b.Duration = b.Latest.Sub(b.Earliest)
	}

	counts := snap.CountByLevel()
	b.Levels = make([]LevelShare, 0, len(counts))
	for level, n := range counts {
		share := LevelShare{Level: level, Count: n}
		if b.Total > 0 {
			share.Fraction = float64(n) / float64(b.Total)
		}
		b.Levels = append(b.Levels, share)
	}
	sort.Slice(b.Levels, func(i, j int) bool {
		return b.Levels[i].Level < b.Levels[j].Level
	})
	return b
}

type msgAccum struct {
	count int
	first int // position of first occurrence among the module's errors
}

// analyzeErrors ranks modules by error count. Modules come from the
// snapshot in first-error order, so a stable sort breaks ties by first seen.
func analyzeErrors(snap *store.Snapshot, top int) Errors {
	var e Errors
	byModule := snap.ErrorsByModule()

	for _, name := range snap.ErrorModules() {
		recs := byModule[name]
		messages := make(map[string]*msgAccum)
		for i, r := range recs {
			e.Hourly[r.Timestamp.Hour()]++
			mc := messages[r.Message]
			if mc == nil {
				mc = &msgAccum{first: i}
				messages[r.Message] = mc
			}
			mc.count++
		}
		e.Total += len(recs)
		e.ByModule = append(e.ByModule, ModuleErrors{
			Module:      name,
			Count:       len(recs),
			TopMessages: buildTopMessages(messages, top),
		})
	}

	sort.SliceStable(e.ByModule, func(i, j int) bool {
		return e.ByModule[i].Count > e.ByModule[j].Count
	})
	return e
}

// buildTopMessages ranks messages by count descending, ties by first-seen.
func buildTopMessages(messages map[string]*msgAccum, top int) []MessageCount {
	type ranked struct {
		msg string
		*msgAccum
	}
	all := make([]ranked, 0, len(messages))
	for msg, acc := range messages {
		all = append(all, ranked{msg, acc})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].first < all[j].first
	})
	if len(all) > top {
		all = all[:top]
	}

	out := make([]MessageCount, len(all))
	for i, r := range all {
		out[i] = MessageCount{Message: r.msg, Count: r.count}
	}
	return out
}

func analyzePerformance(records []logtypes.Record, top int) Performance {
	var p Performance
	var timed []logtypes.Record
	var sum float64

	for _, r := range records {
		ms, ok := r.ResponseTime()
		if !ok {
			continue
		}
		timed = append(timed, r)
		p.sorted = append(p.sorted, ms)
		sum += float64(ms)
	}
	if len(timed) == 0 {
		return p
	}

	sort.Slice(p.sorted, func(i, j int) bool { return p.sorted[i] < p.sorted[j] })

	p.HasData = true
	p.Count = len(timed)
	p.Mean = sum / float64(p.Count)
	p.Min = p.sorted[0]
	p.Max = p.sorted[len(p.sorted)-1]
	p.P50, _ = Percentile(p.sorted, 50)
	p.P90, _ = Percentile(p.sorted, 90)
	p.P99, _ = Percentile(p.sorted, 99)

	// stable sort keeps insertion order among equal response times
	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].ResponseTimeMs > timed[j].ResponseTimeMs
	})
	if len(timed) > top {
		timed = timed[:top]
	}
	p.Slowest = timed
	return p
}

// Percentile returns the element of an ascending slice at index
// floor(N*p/100), clamped to [0, N-1]. No interpolation is done, so the
// result is always a member of sorted. ok is false for an empty slice.
func Percentile(sorted []int64, p float64) (int64, bool) {
	n := len(sorted)
	if n == 0 {
		return 0, false
	}
	return sorted[PercentileIndex(n, p)], true
}

// PercentileIndex returns floor(n*p/100) clamped to [0, n-1].
func PercentileIndex(n int, p float64) int {
	if n <= 0 {
		return 0
	}
	if math.IsNaN(p) {
		p = 0
	}
	idx := math.Floor(float64(n) * p / 100)
	switch {
	case idx < 0:
		return 0
	case idx > float64(n-1):
		return n - 1
	}
	return int(idx)
}

func analyzeTimeSeries(days []store.DayCount) TimeSeries {
	var ts TimeSeries
	if len(days) == 0 {
		return ts
	}

	ts.Days = make([]store.DayCount, len(days))
	copy(ts.Days, days)

	// strict > keeps the earliest day on ties
	busiest := ts.Days[0]
	for _, d := range ts.Days[1:] {
		if d.Count > busiest.Count {
			busiest = d
		}
	}
	ts.Busiest = &busiest
	return ts
}
