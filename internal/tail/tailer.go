package tail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/loglens/internal/logtypes"
	"github.com/ppiankov/loglens/internal/parser"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 200 * time.Millisecond

const (
	readChunk    = 64 * 1024
	maxPollBytes = 8 << 20 // upper bound on bytes consumed by one poll
	maxLineBytes = 1 << 20 // longer lines are dropped as malformed
)

var (
	// ErrStopped is returned by Poll and Run once the tailer has stopped.
	ErrStopped = errors.New("tailer stopped")
	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("tailer already started")
)

// State is the tailer lifecycle state.
type State int32

const (
	StateInitialized State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "INITIALIZED"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// AlertFunc is called synchronously on the poll goroutine for every record
// matching at least one rule. Errors and panics are logged and counted.
// It may call Offset, State and Counters but not Close or Poll.
type AlertFunc func(logtypes.Record) error

// Counters are running totals since the tailer was created.
type Counters struct {
	Lines  int64
	Parsed int64
	Failed int64
	Alerts int64
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithInterval sets the poll period.
func WithInterval(d time.Duration) Option {
	return func(t *Tailer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithRules replaces the default ERROR rule.
func WithRules(rules []Rule) Option {
	return func(t *Tailer) { t.rules = rules }
}

// WithAlertFunc sets the alert callback.
func WithAlertFunc(fn AlertFunc) Option {
	return func(t *Tailer) { t.onAlert = fn }
}

// WithRecordFunc sets a function receiving every parsed record, alerting or not.
func WithRecordFunc(fn func(logtypes.Record)) Option {
	return func(t *Tailer) { t.onRecord = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tailer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(t *Tailer) { t.metrics = m }
}

// WithWebhook posts an AlertEvent per matched rule.
func WithWebhook(d *WebhookDispatcher) Option {
	return func(t *Tailer) { t.webhook = d }
}

// WithWatch wakes the poll loop on fsnotify write events in addition to the ticker.
func WithWatch(enabled bool) Option {
	return func(t *Tailer) { t.watch = enabled }
}

// Tailer follows one append-only file, parsing complete lines as they are
// appended and raising alerts for records that match its rules. Content
// present when the tailer was created is never reported.
type Tailer struct {
	path     string
	session  string
	interval time.Duration
	rules    []Rule
	onAlert  AlertFunc
	onRecord func(logtypes.Record)
	logger   *zap.Logger
	metrics  *Metrics
	webhook  *WebhookDispatcher
	watch    bool

	mu         sync.Mutex // guards file, pending, discarding and state transitions
	file       *os.File
	pending    []byte
	discarding bool // dropping the rest of an oversized line
	offset     atomic.Int64
	state      atomic.Int32

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}

	lines, parsed, failed, alerts atomic.Int64
}

// New opens path, creating it when missing, and positions the tailer at its
// current end.
func New(path string, opts ...Option) (*Tailer, error) {
	t := &Tailer{
		path:     path,
		session:  uuid.NewString(),
		interval: DefaultInterval,
		rules:    DefaultRules(),
		logger:   zap.NewNop(),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}

	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	off, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seek %s: %w", path, err)
	}
	t.file = f
	t.offset.Store(off)
	t.state.Store(int32(StateInitialized))
	return t, nil
}

// Path returns the tailed file path.
func (t *Tailer) Path() string { return t.path }

// Session returns the random ID attached to this tailer's alert events.
func (t *Tailer) Session() string { return t.session }

// Offset returns the byte position up to which the file has been read.
func (t *Tailer) Offset() int64 { return t.offset.Load() }

// State returns the current lifecycle state.
func (t *Tailer) State() State { return State(t.state.Load()) }

// Done is closed when the tailer reaches STOPPED.
func (t *Tailer) Done() <-chan struct{} { return t.done }

// Counters returns running totals.
func (t *Tailer) Counters() Counters {
	return Counters{
		Lines:  t.lines.Load(),
		Parsed: t.parsed.Load(),
		Failed: t.failed.Load(),
		Alerts: t.alerts.Load(),
	}
}

// Run polls the file every interval until ctx is cancelled or Close is
// called, then stops the tailer. It returns nil on cancellation and the
// read error if polling fails. Run may be called once.
func (t *Tailer) Run(ctx context.Context) error {
	t.mu.Lock()
	switch t.State() {
	case StateRunning:
		t.mu.Unlock()
		return ErrAlreadyStarted
	case StateStopped:
		t.mu.Unlock()
		return ErrStopped
	}
	t.state.Store(int32(StateRunning))
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.stopLocked()
		t.mu.Unlock()
	}()

	var wake <-chan struct{}
	if t.watch {
		w, err := newWatcher(t.path, t.logger)
		if err != nil {
			t.logger.Warn("file watch unavailable, polling only", zap.String("path", t.path), zap.Error(err))
		} else {
			defer func() { _ = w.Close() }()
			wake = w.C
		}
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("tailing", zap.String("path", t.path), zap.Int64("offset", t.Offset()),
		zap.Duration("interval", t.interval), zap.String("session", t.session))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.closing:
			return nil
		case <-ticker.C:
		case <-wake:
		}

		// cancellation wins over a tick that fired at the same time
		if ctx.Err() != nil || t.isClosing() {
			return nil
		}

		if _, err := t.Poll(); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			t.logger.Error("tail read failed", zap.String("path", t.path), zap.Error(err))
			return err
		}
	}
}

func (t *Tailer) isClosing() bool {
	select {
	case <-t.closing:
		return true
	default:
		return false
	}
}

// Close stops the tailer. When Run is active, Close waits for it to exit,
// so it must not be called from the alert callback; cancel Run's context
// there instead. Close is idempotent.
func (t *Tailer) Close() error {
	t.closeOnce.Do(func() { close(t.closing) })

	t.mu.Lock()
	st := t.State()
	if st == StateInitialized {
		t.stopLocked()
	}
	t.mu.Unlock()

	if st == StateRunning {
		<-t.done
	}
	return nil
}

// stopLocked discards buffered partial input and releases the file.
func (t *Tailer) stopLocked() {
	if t.State() == StateStopped {
		return
	}
	t.state.Store(int32(StateStopped))
	t.pending = nil
	if err := t.file.Close(); err != nil {
		t.logger.Debug("close tailed file", zap.Error(err))
	}
	close(t.done)
}

// Poll reads whatever has been appended since the last poll, without
// blocking for more, and processes every complete line. A trailing partial
// line is kept until its newline arrives. Poll returns the parsed records in
// file order.
func (t *Tailer) Poll() ([]logtypes.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == StateStopped {
		return nil, ErrStopped
	}

	start := time.Now()
	if err := t.readAvailable(); err != nil {
		return nil, err
	}

	var records []logtypes.Record
	consumed := 0
	for {
		idx := bytes.IndexByte(t.pending[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := t.pending[consumed : consumed+idx]
		consumed += idx + 1
		if t.discarding {
			t.discarding = false
			continue
		}
		if len(line) > maxLineBytes {
			t.oversizedLine(len(line))
			continue
		}
		if rec, ok := t.handleLine(line); ok {
			records = append(records, rec)
		}
	}
	if consumed > 0 {
		n := copy(t.pending, t.pending[consumed:])
		t.pending = t.pending[:n]
	}
	if len(t.pending) > maxLineBytes {
		// no newline yet; drop what we have and skip through the next one
		if !t.discarding {
			t.discarding = true
			t.oversizedLine(len(t.pending))
		}
		t.pending = nil
	}

	if t.metrics != nil {
		t.metrics.PollDuration.Observe(time.Since(start).Seconds())
	}
	return records, nil
}

func (t *Tailer) readAvailable() error {
	buf := make([]byte, readChunk)
	var total int
	for total < maxPollBytes {
		n, err := t.file.Read(buf)
		if n > 0 {
			t.pending = append(t.pending, buf[:n]...)
			t.offset.Add(int64(n))
			total += n
		}
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", t.path, err)
		}
	}
	if t.metrics != nil && total > 0 {
		t.metrics.BytesRead.Add(float64(total))
	}
	return nil
}

func (t *Tailer) handleLine(raw []byte) (logtypes.Record, bool) {
	line := string(bytes.TrimSuffix(raw, []byte("\r")))
	if len(bytes.TrimSpace(raw)) == 0 {
		return logtypes.Record{}, false
	}

	t.lines.Add(1)
	if t.metrics != nil {
		t.metrics.LinesRead.Inc()
	}

	rec, err := parser.Parse(line)
	if err != nil {
		reason := parser.ReasonUnknown
		var f *parser.Failure
		if errors.As(err, &f) {
			reason = f.Reason
		}
		t.failed.Add(1)
		if t.metrics != nil {
			t.metrics.ParseFailures.WithLabelValues(string(reason)).Inc()
		}
		t.logger.Debug("skipping malformed line", zap.String("reason", string(reason)), zap.Error(err))
		return logtypes.Record{}, false
	}

	t.parsed.Add(1)
	if t.metrics != nil {
		t.metrics.RecordsParsed.Inc()
	}
	if t.onRecord != nil {
		t.onRecord(rec)
	}

	matched := matchRules(t.rules, rec)
	if len(matched) == 0 {
		return rec, true
	}

	t.alerts.Add(1)
	for _, name := range matched {
		if t.metrics != nil {
			t.metrics.AlertsFired.WithLabelValues(name).Inc()
		}
		dropped := t.webhook.Fire(AlertEvent{
			Event:   "alert",
			Session: t.session,
			File:    t.path,
			Rule:    name,
			Record:  rec,
		})
		if dropped > 0 && t.metrics != nil {
			t.metrics.WebhooksDropped.Add(float64(dropped))
		}
	}
	t.invokeAlert(rec)
	return rec, true
}

func (t *Tailer) oversizedLine(size int) {
	t.lines.Add(1)
	t.failed.Add(1)
	if t.metrics != nil {
		t.metrics.LinesRead.Inc()
		t.metrics.ParseFailures.WithLabelValues(string(parser.ReasonMalformedShape)).Inc()
	}
	t.logger.Warn("skipping oversized line", zap.String("path", t.path),
		zap.Int("bytes", size), zap.Int("limit", maxLineBytes))
}

func (t *Tailer) invokeAlert(rec logtypes.Record) {
	if t.onAlert == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.callbackFailed()
			t.logger.Error("alert callback panicked", zap.Any("panic", r))
		}
	}()
	if err := t.onAlert(rec); err != nil {
		t.callbackFailed()
		t.logger.Warn("alert callback failed", zap.Error(err))
	}
}

func (t *Tailer) callbackFailed() {
	if t.metrics != nil {
		t.metrics.CallbackErrors.Inc()
	}
}
