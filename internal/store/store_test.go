package store

import (
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/loglens/internal/logtypes"
)

func rec(day, hour int, level, module, msg string) logtypes.Record {
	return logtypes.Record{
		Timestamp: time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC),
		Level:     level,
		Module:    module,
		Message:   msg,
	}
}

func TestStore_Empty(t *testing.T) {
	s := New()
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
	if len(s.All()) != 0 {
		t.Error("All should be empty")
	}
	if len(s.CountByLevel()) != 0 {
		t.Error("CountByLevel should be empty")
	}
	if len(s.CountByModule()) != 0 {
		t.Error("CountByModule should be empty")
	}
	snap := s.Snapshot()
	if snap.Len() != 0 || len(snap.ErrorsByModule()) != 0 || len(snap.ErrorModules()) != 0 {
		t.Error("snapshot error views should be empty")
	}
	if len(snap.CountByDay()) != 0 {
		t.Error("CountByDay should be empty")
	}
}

func TestStore_Views(t *testing.T) {
	s := New()
	s.Insert(rec(2, 10, "INFO", "API", "ok"))
	s.Insert(rec(1, 9, "ERROR", "DB", "timeout"))
	s.Insert(rec(1, 11, "ERROR", "API", "rate limit"))
	s.Insert(rec(3, 12, "WARN", "DB", "slow"))
	s.Insert(rec(2, 13, "ERROR", "DB", "timeout"))
	s.Insert(rec(2, 14, "DEBUG", "Cache", "hit"))

	levels := s.CountByLevel()
	if levels["ERROR"] != 3 || levels["INFO"] != 1 || levels["WARN"] != 1 || levels["DEBUG"] != 1 {
		t.Errorf("CountByLevel = %v", levels)
	}

	modules := s.CountByModule()
	want := []ModuleCount{{"DB", 3}, {"API", 2}, {"Cache", 1}}
	if len(modules) != len(want) {
		t.Fatalf("CountByModule len = %d, want %d", len(modules), len(want))
	}
	for i := range want {
		if modules[i] != want[i] {
			t.Errorf("CountByModule[%d] = %+v, want %+v", i, modules[i], want[i])
		}
	}

	snap := s.Snapshot()
	if snap.Len() != 6 || snap.Records()[0].Module != "API" {
		t.Errorf("snapshot records = %d, first %q", snap.Len(), snap.Records()[0].Module)
	}
	errs := snap.ErrorsByModule()
	if len(errs["DB"]) != 2 || len(errs["API"]) != 1 {
		t.Errorf("ErrorsByModule = %v", errs)
	}
	if _, ok := errs["Cache"]; ok {
		t.Error("Cache has no errors and should be absent")
	}
	if got := snap.ErrorModules(); len(got) != 2 || got[0] != "DB" || got[1] != "API" {
		t.Errorf("ErrorModules = %v, want [DB API]", got)
	}

	days := snap.CountByDay()
	if len(days) != 3 {
		t.Fatalf("CountByDay len = %d, want 3", len(days))
	}
	for i, wantCount := range []int{2, 3, 1} {
		wantDay := time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC)
		if !days[i].Day.Equal(wantDay) || days[i].Count != wantCount {
			t.Errorf("CountByDay[%d] = %+v, want %s/%d", i, days[i], wantDay.Format("2006-01-02"), wantCount)
		}
	}
}

func TestStore_ModuleTiesKeepFirstSeen(t *testing.T) {
	s := New()
	for _, m := range []string{"Queue", "Auth", "Cache", "Auth", "Queue", "Cache"} {
		s.Insert(rec(1, 0, "INFO", m, "x"))
	}
	got := s.CountByModule()
	order := []string{"Queue", "Auth", "Cache"}
	for i, m := range order {
		if got[i].Module != m {
			t.Errorf("CountByModule[%d] = %s, want %s", i, got[i].Module, m)
		}
	}
}

func TestStore_ViewsNeverStale(t *testing.T) {
	s := New()
	s.Insert(rec(1, 0, "INFO", "API", "a"))

	if got := s.CountByLevel()["INFO"]; got != 1 {
		t.Fatalf("INFO = %d, want 1", got)
	}
	v1 := s.Version()

	s.Insert(rec(1, 0, "INFO", "API", "b"))
	s.InsertAll([]logtypes.Record{rec(2, 0, "ERROR", "DB", "c")})

	if s.Version() == v1 {
		t.Error("Version should change on insert")
	}
	if got := s.CountByLevel()["INFO"]; got != 2 {
		t.Errorf("INFO after insert = %d, want 2", got)
	}
	snap := s.Snapshot()
	if snap.Version() != s.Version() {
		t.Errorf("snapshot version = %d, want %d", snap.Version(), s.Version())
	}
	if got := len(snap.ErrorsByModule()["DB"]); got != 1 {
		t.Errorf("DB errors after insert = %d, want 1", got)
	}
	if got := len(snap.CountByDay()); got != 2 {
		t.Errorf("days after insert = %d, want 2", got)
	}
}

func TestStore_ViewsAreCopies(t *testing.T) {
	s := New()
	s.Insert(rec(1, 0, "ERROR", "API", "a"))

	levels := s.CountByLevel()
	levels["ERROR"] = 100
	modules := s.CountByModule()
	modules[0].Count = 100
	all := s.All()
	all[0].Message = "mutated"

	if s.CountByLevel()["ERROR"] != 1 {
		t.Error("CountByLevel result must not alias store state")
	}
	if s.CountByModule()[0].Count != 1 {
		t.Error("CountByModule result must not alias store state")
	}
	if s.All()[0].Message != "a" {
		t.Error("All result must not alias store state")
	}
}

func TestStore_LevelCountsSumToLen(t *testing.T) {
	s := New()
	levels := []string{"DEBUG", "INFO", "WARN", "ERROR", "CUSTOM"}
	for i := 0; i < 97; i++ {
		s.Insert(rec(1+i%5, i%24, levels[i%len(levels)], "M", "x"))

		sum := 0
		for _, n := range s.CountByLevel() {
			sum += n
		}
		if sum != s.Len() {
			t.Fatalf("after %d inserts: level sum %d != Len %d", i+1, sum, s.Len())
		}
	}
}

func TestStore_ConcurrentInsertAndRead(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				s.Insert(rec(1, 0, "INFO", "API", "x"))
				_ = s.CountByLevel()
			}
		}()
	}
	wg.Wait()

	if s.Len() != 1000 {
		t.Errorf("Len = %d, want 1000", s.Len())
	}
	if s.CountByLevel()["INFO"] != 1000 {
		t.Errorf("INFO = %d, want 1000", s.CountByLevel()["INFO"])
	}
}

func TestSnapshot_Frozen(t *testing.T) {
	s := New()
	s.Insert(rec(1, 0, "ERROR", "DB", "a"))
	snap := s.Snapshot()

	s.Insert(rec(2, 0, "ERROR", "API", "b"))
	s.InsertAll([]logtypes.Record{rec(3, 0, "INFO", "API", "c")})

	if snap.Len() != 1 || len(snap.Records()) != 1 {
		t.Errorf("snapshot grew to %d records", snap.Len())
	}
	if got := snap.ErrorModules(); len(got) != 1 || got[0] != "DB" {
		t.Errorf("ErrorModules = %v, want [DB]", got)
	}
	if len(snap.CountByDay()) != 1 || snap.CountByLevel()["INFO"] != 0 {
		t.Errorf("snapshot views changed after insert")
	}

	// appending to the snapshot's records must not reach the store
	_ = append(snap.Records(), rec(9, 0, "WARN", "X", "y"))
	if got := s.All()[1].Module; got != "API" {
		t.Errorf("store record 1 = %q, want API", got)
	}
}
