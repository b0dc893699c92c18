package buffers

import (
	"sync"

	"github.com/ppiankov/loglens/internal/logtypes"
)

const defaultRingSize = 1000

// RecordRing is a fixed-size circular buffer of records, newest last.
// All methods are safe for concurrent use.
type RecordRing struct {
	mu      sync.Mutex
	buf     []logtypes.Record
	cap     int
	head    int // next write position
	count   int // records in buffer (≤ cap)
	total   int64
	version int // changes on every Push
}

// NewRecordRing creates a ring with the given capacity.
// If cap ≤ 0, defaultRingSize is used.
func NewRecordRing(cap int) *RecordRing {
	if cap <= 0 {
		cap = defaultRingSize
	}
	return &RecordRing{
		buf: make([]logtypes.Record, cap),
		cap: cap,
	}
}

// Push adds a record, overwriting the oldest when full. Never blocks.
func (r *RecordRing) Push(rec logtypes.Record) {
	r.mu.Lock()
	r.buf[r.head] = rec
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
	r.total++
	r.version++
	r.mu.Unlock()
}

// Len returns the number of records currently held.
func (r *RecordRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Total returns the number of records ever pushed.
func (r *RecordRing) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Snapshot returns a chronological copy of all held records.
func (r *RecordRing) Snapshot() []logtypes.Record {
	return r.Last(0)
}

// Last returns up to n of the newest records in chronological order.
// n ≤ 0 returns all of them.
func (r *RecordRing) Last(n int) []logtypes.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]logtypes.Record, n)
	start := (r.head - n + r.cap) % r.cap
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%r.cap]
	}
	return out
}

// SnapshotFiltered returns a chronological copy of records matching fn.
func (r *RecordRing) SnapshotFiltered(fn func(logtypes.Record) bool) []logtypes.Record {
	var out []logtypes.Record
	for _, rec := range r.Snapshot() {
		if fn(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Version returns a counter that changes on every Push.
func (r *RecordRing) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}
