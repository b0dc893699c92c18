package store

import (
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/loglens/internal/logtypes"
)

// ModuleCount is a module name and its record count.
type ModuleCount struct {
	Module string `json:"module"`
	Count  int    `json:"count"`
}

// DayCount is a calendar day (midnight UTC) and its record count.
type DayCount struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}

// Store is an append-only sequence of records with derived views.
// Views are memoized and invalidated on every insert, so a view always
// covers exactly the records present when it was requested.
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records []logtypes.Record
	version int

	viewMu sync.Mutex
	cached *views // nil when stale
}

// views holds every derived grouping for one store version.
type views struct {
	version      int
	byLevel      map[string]int
	byModule     []ModuleCount
	errors       map[string][]logtypes.Record
	errorModules []string
	byDay        []DayCount
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Insert appends a record.
func (s *Store) Insert(r logtypes.Record) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.version++
	s.mu.Unlock()
}

// InsertAll appends records in order.
func (s *Store) InsertAll(rs []logtypes.Record) {
	if len(rs) == 0 {
		return
	}
	s.mu.Lock()
	s.records = append(s.records, rs...)
	s.version++
	s.mu.Unlock()
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Version returns a counter that changes on every insert.
func (s *Store) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// All returns a copy of the records in insertion order.
func (s *Store) All() []logtypes.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]logtypes.Record, len(s.records))
	copy(out, s.records)
	return out
}

// CountByLevel returns level → record count.
func (s *Store) CountByLevel() map[string]int {
	v := s.views()
	out := make(map[string]int, len(v.byLevel))
	for k, n := range v.byLevel {
		out[k] = n
	}
	return out
}

// CountByModule returns module counts ordered by count descending.
// Ties keep first-seen order.
func (s *Store) CountByModule() []ModuleCount {
	v := s.views()
	out := make([]ModuleCount, len(v.byModule))
	copy(out, v.byModule)
	return out
}

// Snapshot is a frozen, consistent view of the store at one version.
// Its slices and maps are shared with the store and must not be modified.
type Snapshot struct {
	records []logtypes.Record
	v       *views
}

// Snapshot captures the records and derived views as of the latest insert.
// Later inserts do not affect it.
func (s *Store) Snapshot() *Snapshot {
	v, records := s.viewsAndRecords()
	return &Snapshot{records: records, v: v}
}

// Version is the store version the snapshot was taken at.
func (sn *Snapshot) Version() int { return sn.v.version }

// Len returns the number of records in the snapshot.
func (sn *Snapshot) Len() int { return len(sn.records) }

// Records returns the records in insertion order.
func (sn *Snapshot) Records() []logtypes.Record { return sn.records }

// CountByLevel returns level → record count.
func (sn *Snapshot) CountByLevel() map[string]int { return sn.v.byLevel }

// CountByModule returns module counts ordered by count descending.
func (sn *Snapshot) CountByModule() []ModuleCount { return sn.v.byModule }

// ErrorsByModule returns module → ERROR records in insertion order.
func (sn *Snapshot) ErrorsByModule() map[string][]logtypes.Record { return sn.v.errors }

// ErrorModules returns modules with at least one ERROR record, in the order
// their first error was inserted.
func (sn *Snapshot) ErrorModules() []string { return sn.v.errorModules }

// CountByDay returns per-day record counts ordered by day ascending.
func (sn *Snapshot) CountByDay() []DayCount { return sn.v.byDay }

// views returns the memoized groupings, rebuilding them when an insert has
// happened since they were computed.
func (s *Store) views() *views {
	v, _ := s.viewsAndRecords()
	return v
}

// viewsAndRecords returns the views together with the records they cover.
// Records are append-only, so the returned prefix is never written again.
func (s *Store) viewsAndRecords() (*views, []logtypes.Record) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.records[:len(s.records):len(s.records)]
	if s.cached != nil && s.cached.version == s.version {
		return s.cached, records
	}
	s.cached = buildViews(s.records, s.version)
	return s.cached, records
}

func buildViews(records []logtypes.Record, version int) *views {
	v := &views{
		version: version,
		byLevel: make(map[string]int),
		errors:  make(map[string][]logtypes.Record),
	}

	moduleIdx := make(map[string]int)
	dayCounts := make(map[time.Time]int)

	for _, r := range records {
		v.byLevel[r.Level]++

		if i, ok := moduleIdx[r.Module]; ok {
			v.byModule[i].Count++
		} else {
			moduleIdx[r.Module] = len(v.byModule)
			v.byModule = append(v.byModule, ModuleCount{Module: r.Module, Count: 1})
		}

		if r.IsError() {
			if _, ok := v.errors[r.Module]; !ok {
				v.errorModules = append(v.errorModules, r.Module)
			}
			v.errors[r.Module] = append(v.errors[r.Module], r)
		}

		dayCounts[r.Day()]++
	}

	sort.SliceStable(v.byModule, func(i, j int) bool {
		return v.byModule[i].Count > v.byModule[j].Count
	})

	v.byDay = make([]DayCount, 0, len(dayCounts))
	for day, n := range dayCounts {
		v.byDay = append(v.byDay, DayCount{Day: day, Count: n})
	}
	sort.Slice(v.byDay, func(i, j int) bool {
		return v.byDay[i].Day.Before(v.byDay[j].Day)
	})

	return v
}
