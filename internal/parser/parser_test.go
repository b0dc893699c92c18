package parser

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/loglens/internal/logtypes"
)

func TestParse_WellFormed(t *testing.T) {
	tests := []struct {
		name string
		line string
		want logtypes.Record
	}{
		{
			name: "with response time",
			line: "2024-01-15T10:30:00 [INFO] [API] API request processed (response_time=120ms)",
			want: logtypes.Record{
				Timestamp:       time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
				Level:           "INFO",
				Module:          "API",
				Message:         "API request processed",
				ResponseTimeMs:  120,
				HasResponseTime: true,
			},
		},
		{
			name: "without response time",
			line: "2024-01-01T00:00:00 [ERROR] [X] boom",
			want: logtypes.Record{
				Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Level:     "ERROR",
				Module:    "X",
				Message:   "boom",
			},
		},
		{
			name: "nanosecond fraction",
			line: "2024-01-01T00:00:00.123456789 [DEBUG] [Cache] Cache hit for key",
			want: logtypes.Record{
				Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 123456789, time.UTC),
				Level:     "DEBUG",
				Module:    "Cache",
				Message:   "Cache hit for key",
			},
		},
		{
			name: "single digit fraction",
			line: "2024-01-01T00:00:00.5 [WARN] [Queue] slow consumer (response_time=0ms)",
			want: logtypes.Record{
				Timestamp:       time.Date(2024, 1, 1, 0, 0, 0, 500000000, time.UTC),
				Level:           "WARN",
				Module:          "Queue",
				Message:         "slow consumer",
				HasResponseTime: true,
			},
		},
		{
			name: "unknown level kept",
			line: "2024-06-30T12:00:00 [TRACE] [Auth] token={\"sub\":1} refreshed",
			want: logtypes.Record{
				Timestamp: time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC),
				Level:     "TRACE",
				Module:    "Auth",
				Message:   "token={\"sub\":1} refreshed",
			},
		},
		{
			name: "crlf stripped",
			line: "2024-01-01T00:00:00 [INFO] [DB] connected\r",
			want: logtypes.Record{
				Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Level:     "INFO",
				Module:    "DB",
				Message:   "connected",
			},
		},
		{
			name: "suffix alone stays message",
			line: "2024-01-01T00:00:00 [INFO] [DB] (response_time=5ms)",
			want: logtypes.Record{
				Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Level:     "INFO",
				Module:    "DB",
				Message:   "(response_time=5ms)",
			},
		},
		{
			name: "text after suffix stays message",
			line: "2024-01-01T00:00:00 [INFO] [API] retry (response_time=5ms) then (took 3ms)",
			want: logtypes.Record{
				Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Level:     "INFO",
				Module:    "API",
				Message:   "retry (response_time=5ms) then (took 3ms)",
			},
		},
		{
			name: "spaced value is not a suffix",
			line: "2024-01-01T00:00:00 [INFO] [API] pending (response_time=5 ms)",
			want: logtypes.Record{
				Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Level:     "INFO",
				Module:    "API",
				Message:   "pending (response_time=5 ms)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Parse = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Reason
	}{
		{"empty", "", ReasonMalformedShape},
		{"stack trace header", "  Stack trace:", ReasonMalformedShape},
		{"stack frame", "    at com.example.Module.method(Module.java:123)", ReasonMalformedShape},
		{"missing module", "2024-01-01T00:00:00 [INFO] realtime log #1", ReasonMalformedShape},
		{"missing message", "2024-01-01T00:00:00 [INFO] [X]", ReasonMalformedShape},
		{"blank message", "2024-01-01T00:00:00 [INFO] [X]    ", ReasonMalformedShape},
		{"empty level", "2024-01-01T00:00:00 [] [X] msg", ReasonMalformedShape},
		{"unclosed bracket", "2024-01-01T00:00:00 [INFO [X] msg", ReasonMalformedShape},
		{"double space", "2024-01-01T00:00:00  [INFO] [X] msg", ReasonMalformedShape},
		{"truncated timestamp", "2024-01-01T00:00 [INFO] [X] msg", ReasonBadTimestamp},
		{"invalid month", "2024-13-01T00:00:00 [INFO] [X] msg", ReasonBadTimestamp},
		{"space separator", "2024-01-01_00:00:00 [INFO] [X] msg", ReasonBadTimestamp},
		{"fraction too long", "2024-01-01T00:00:00.1234567890 [INFO] [X] msg", ReasonBadTimestamp},
		{"empty fraction", "2024-01-01T00:00:00. [INFO] [X] msg", ReasonBadTimestamp},
		{"zone suffix", "2024-01-01T00:00:00Z [INFO] [X] msg", ReasonBadTimestamp},
		{"non-numeric response", "2024-01-01T00:00:00 [INFO] [X] msg (response_time=abcms)", ReasonBadNumber},
		{"negative response", "2024-01-01T00:00:00 [INFO] [X] msg (response_time=-5ms)", ReasonBadNumber},
		{"empty response", "2024-01-01T00:00:00 [INFO] [X] msg (response_time=ms)", ReasonBadNumber},
		{"overflow response", "2024-01-01T00:00:00 [INFO] [X] msg (response_time=99999999999999999999ms)", ReasonBadNumber},
		{"invalid utf8", "2024-01-01T00:00:00 [INFO] [X] \xff\xfe", ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.line)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want %s", tt.line, tt.want)
			}
			var f *Failure
			if !errors.As(err, &f) {
				t.Fatalf("error %T is not *Failure", err)
			}
			if f.Reason != tt.want {
				t.Errorf("Reason = %s, want %s", f.Reason, tt.want)
			}
			if f.Line != strings.TrimSuffix(tt.line, "\r") {
				t.Errorf("Line = %q, want original line", f.Line)
			}
			if got := ParseReason(tt.line); got != tt.want {
				t.Errorf("ParseReason = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	base := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	levels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	modules := []string{"Auth", "Database", "API", "Cache", "Queue"}
	messages := []string{
		"User login successful",
		"Database query timeout",
		"API rate limit exceeded",
		"payload {\"a\": [1, 2]} accepted",
	}

	for i := 0; i < 200; i++ {
		rec := logtypes.Record{
			Timestamp: base.Add(time.Duration(i*7919) * time.Millisecond),
			Level:     levels[i%len(levels)],
			Module:    modules[i%len(modules)],
			Message:   messages[i%len(messages)],
		}
		if i%3 != 0 {
			rec.ResponseTimeMs = int64(50 + i*13%1000)
			rec.HasResponseTime = true
		}

		got, err := Parse(rec.Line())
		if err != nil {
			t.Fatalf("Parse(%q): %v", rec.Line(), err)
		}
		if !got.Equal(rec) {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
		}
	}
}

func TestFailure_Error(t *testing.T) {
	_, err := Parse("garbage")
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), string(ReasonMalformedShape)) {
		t.Errorf("Error() = %q, want reason", err.Error())
	}

	long := strings.Repeat("x", 200)
	_, err = Parse(long)
	if len(err.Error()) > 150 {
		t.Errorf("Error() should truncate long lines, got %d chars", len(err.Error()))
	}
}
