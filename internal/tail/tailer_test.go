package tail

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ppiankov/loglens/internal/logtypes"
	"github.com/ppiankov/loglens/internal/parser"
)

const (
	errLine  = "2024-01-15T10:31:00 [ERROR] [Database] Database query timeout\n"
	infoLine = "2024-01-15T10:30:00 [INFO] [API] API request processed (response_time=120ms)\n"
)

type alertRecorder struct {
	mu   sync.Mutex
	recs []logtypes.Record
	err  error
}

func (a *alertRecorder) fn(rec logtypes.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return a.err
}

func (a *alertRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recs)
}

func appendTo(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func newTestTailer(t *testing.T, initial string, opts ...Option) (*Tailer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}
	tl, err := New(path, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = tl.Close() })
	return tl, path
}

func TestTailer_AlertsOnAppendedErrorOnly(t *testing.T) {
	var rec alertRecorder
	tl, path := newTestTailer(t, errLine+errLine, WithAlertFunc(rec.fn))

	if tl.State() != StateInitialized {
		t.Fatalf("State = %s, want INITIALIZED", tl.State())
	}

	// pre-existing content is never reported
	got, err := tl.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 || rec.count() != 0 {
		t.Fatalf("pre-existing content reported: %d records, %d alerts", len(got), rec.count())
	}

	appendTo(t, path, infoLine+errLine)
	got, err = tl.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Poll returned %d records, want 2", len(got))
	}
	if rec.count() != 1 {
		t.Fatalf("alerts = %d, want 1", rec.count())
	}
	if rec.recs[0].Module != "Database" {
		t.Errorf("alerted module = %q", rec.recs[0].Module)
	}
}

func TestTailer_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.log")
	tl, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = tl.Close() }()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not created: %v", err)
	}
	if tl.Offset() != 0 {
		t.Errorf("Offset = %d, want 0", tl.Offset())
	}
}

func TestTailer_OpenError(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing-dir", "app.log"))
	if err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestTailer_PartialLineHeldUntilNewline(t *testing.T) {
	var rec alertRecorder
	tl, path := newTestTailer(t, "", WithAlertFunc(rec.fn))

	half := len(errLine) / 2
	appendTo(t, path, errLine[:half])
	got, _ := tl.Poll()
	if len(got) != 0 || rec.count() != 0 {
		t.Fatal("partial line must not be processed")
	}

	appendTo(t, path, errLine[half:])
	got, _ = tl.Poll()
	if len(got) != 1 || rec.count() != 1 {
		t.Fatalf("records = %d, alerts = %d, want 1/1", len(got), rec.count())
	}
	if tl.Offset() != int64(len(errLine)) {
		t.Errorf("Offset = %d, want %d", tl.Offset(), len(errLine))
	}
}

func TestTailer_OversizedPartialLineDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	var rec alertRecorder
	tl, path := newTestTailer(t, "", WithMetrics(m), WithAlertFunc(rec.fn))

	junk := strings.Repeat("z", maxLineBytes)
	for i := 0; i < 3; i++ {
		appendTo(t, path, junk)
		if _, err := tl.Poll(); err != nil {
			t.Fatal(err)
		}
		if len(tl.pending) > maxLineBytes {
			t.Fatalf("poll %d: pending = %d bytes, want at most %d", i, len(tl.pending), maxLineBytes)
		}
	}

	appendTo(t, path, "end of junk\n"+errLine)
	got, err := tl.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || rec.count() != 1 {
		t.Fatalf("records = %d, alerts = %d, want 1/1", len(got), rec.count())
	}

	c := tl.Counters()
	if c.Lines != 2 || c.Failed != 1 || c.Parsed != 1 {
		t.Errorf("Counters = %+v, want 2 lines, 1 failed, 1 parsed", c)
	}
	if v := testutil.ToFloat64(m.ParseFailures.WithLabelValues(string(parser.ReasonMalformedShape))); v != 1 {
		t.Errorf("malformed failures = %v, want 1", v)
	}
	if want := int64(3*maxLineBytes + len("end of junk\n") + len(errLine)); tl.Offset() != want {
		t.Errorf("Offset = %d, want %d", tl.Offset(), want)
	}
}

func TestTailer_OversizedCompleteLineDropped(t *testing.T) {
	tl, path := newTestTailer(t, "")

	appendTo(t, path, strings.Repeat("q", maxLineBytes+1)+"\n"+infoLine)
	got, err := tl.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Module != "API" {
		t.Fatalf("records = %+v, want the API line only", got)
	}
	if c := tl.Counters(); c.Failed != 1 {
		t.Errorf("Failed = %d, want 1", c.Failed)
	}
}

func TestTailer_AlertFuncMayReadOffset(t *testing.T) {
	var seen int64
	var tl *Tailer
	tl, path := newTestTailer(t, "", WithAlertFunc(func(logtypes.Record) error {
		seen = tl.Offset()
		return nil
	}))

	appendTo(t, path, errLine)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = tl.Poll()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Poll blocked while the alert callback read Offset")
	}
	if seen != int64(len(errLine)) {
		t.Errorf("Offset seen by callback = %d, want %d", seen, len(errLine))
	}
}

func TestTailer_SkipsMalformed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tl, path := newTestTailer(t, "", WithMetrics(m))

	appendTo(t, path, "  Stack trace:\n\n"+infoLine+"2024-01-15T10:32:00 [WARN] [Cache] x (response_time=abcms)\r\n")
	got, err := tl.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}

	c := tl.Counters()
	if c.Lines != 3 || c.Parsed != 1 || c.Failed != 2 {
		t.Errorf("Counters = %+v, want 3 lines, 1 parsed, 2 failed", c)
	}
	if v := testutil.ToFloat64(m.ParseFailures.WithLabelValues(string(parser.ReasonMalformedShape))); v != 1 {
		t.Errorf("malformed failures = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.ParseFailures.WithLabelValues(string(parser.ReasonBadNumber))); v != 1 {
		t.Errorf("bad number failures = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.RecordsParsed); v != 1 {
		t.Errorf("records parsed = %v, want 1", v)
	}
}

func TestTailer_CallbackErrorsAndPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	calls := 0
	fn := func(rec logtypes.Record) error {
		calls++
		if calls == 1 {
			return errors.New("sink unavailable")
		}
		panic("boom")
	}
	tl, path := newTestTailer(t, "", WithAlertFunc(fn), WithMetrics(m))

	appendTo(t, path, errLine+errLine+infoLine)
	got, err := tl.Poll()
	if err != nil {
		t.Fatalf("callback failures must not surface: %v", err)
	}
	if len(got) != 3 || calls != 2 {
		t.Errorf("records = %d, calls = %d, want 3/2", len(got), calls)
	}
	if v := testutil.ToFloat64(m.CallbackErrors); v != 2 {
		t.Errorf("callback errors = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.AlertsFired.WithLabelValues("error")); v != 2 {
		t.Errorf("alerts fired = %v, want 2", v)
	}
}

func TestTailer_CustomRules(t *testing.T) {
	var rec alertRecorder
	rules := []Rule{
		{Name: "slow-api", Levels: []string{"INFO", "WARN"}, Module: "API"},
	}
	var all []logtypes.Record
	tl, path := newTestTailer(t, "", WithRules(rules), WithAlertFunc(rec.fn),
		WithRecordFunc(func(r logtypes.Record) { all = append(all, r) }))

	appendTo(t, path, errLine+infoLine)
	if _, err := tl.Poll(); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 1 || rec.recs[0].Level != "INFO" {
		t.Errorf("alerts = %+v, want the INFO API record", rec.recs)
	}
	if len(all) != 2 {
		t.Errorf("record func saw %d records, want 2", len(all))
	}
}

func TestTailer_RunAlertsAndStopsOnCancel(t *testing.T) {
	var rec alertRecorder
	interval := 20 * time.Millisecond
	tl, path := newTestTailer(t, errLine, WithAlertFunc(rec.fn), WithInterval(interval))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- tl.Run(ctx) }()

	appendTo(t, path, errLine)
	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() != 1 {
		t.Fatalf("alerts = %d, want 1", rec.count())
	}
	if tl.State() != StateRunning {
		t.Errorf("State = %s, want RUNNING", tl.State())
	}

	cancel()
	select {
	case <-tl.Done():
	case <-time.After(10 * interval):
		t.Fatal("tailer did not stop within the poll interval")
	}
	if err := <-errCh; err != nil {
		t.Errorf("Run = %v, want nil on cancellation", err)
	}
	if tl.State() != StateStopped {
		t.Errorf("State = %s, want STOPPED", tl.State())
	}

	appendTo(t, path, errLine)
	if _, err := tl.Poll(); !errors.Is(err, ErrStopped) {
		t.Errorf("Poll after stop = %v, want ErrStopped", err)
	}
	if rec.count() != 1 {
		t.Errorf("alerts after stop = %d, want 1", rec.count())
	}
}

func TestTailer_RunTwice(t *testing.T) {
	tl, _ := newTestTailer(t, "", WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tl.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for tl.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := tl.Run(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Run = %v, want ErrAlreadyStarted", err)
	}
}

func TestTailer_CloseBeforeRun(t *testing.T) {
	tl, _ := newTestTailer(t, "")
	if err := tl.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-tl.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	if err := tl.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Run after Close = %v, want ErrStopped", err)
	}
	if _, err := tl.Poll(); !errors.Is(err, ErrStopped) {
		t.Errorf("Poll after Close = %v, want ErrStopped", err)
	}
	if err := tl.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestTailer_CloseWhileRunning(t *testing.T) {
	tl, path := newTestTailer(t, "", WithInterval(10*time.Millisecond))

	errCh := make(chan error, 1)
	go func() { errCh <- tl.Run(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for tl.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// a partial line is pending when the tailer stops
	appendTo(t, path, "2024-01-15T10:31:00 [ERROR]")
	time.Sleep(30 * time.Millisecond)

	if err := tl.Close(); err != nil {
		t.Fatal(err)
	}
	if tl.State() != StateStopped {
		t.Errorf("State = %s, want STOPPED", tl.State())
	}
	if err := <-errCh; err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestTailer_WatchWakesEarly(t *testing.T) {
	var rec alertRecorder
	// interval long enough that only the watcher can deliver the alert in time
	tl, path := newTestTailer(t, "", WithAlertFunc(rec.fn), WithInterval(time.Hour), WithWatch(true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tl.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for tl.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	appendTo(t, path, errLine)
	deadline = time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() != 1 {
		t.Errorf("alerts = %d, want 1 via file watch", rec.count())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateInitialized: "INITIALIZED",
		StateRunning:     "RUNNING",
		StateStopped:     "STOPPED",
		State(9):         "State(9)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("String() = %q, want %q", s.String(), want)
		}
	}
}
