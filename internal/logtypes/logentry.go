package logtypes

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Well-known levels. Level is an opaque string; other values are kept as-is.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// TimestampLayout is the ISO-8601 local date-time layout used by log lines.
// Fractional seconds are printed only when non-zero, with trailing zeros trimmed.
const TimestampLayout = "2006-01-02T15:04:05.999999999"

// Record represents a single parsed log line. Records are values and are
// never modified after parsing.
type Record struct {
	Timestamp       time.Time
	Level           string
	Module          string
	Message         string
	ResponseTimeMs  int64
	HasResponseTime bool
}

// ResponseTime returns the response time in milliseconds and whether the
// source line carried one.
func (r Record) ResponseTime() (int64, bool) {
	return r.ResponseTimeMs, r.HasResponseTime
}

// IsError reports whether the record is at ERROR level.
func (r Record) IsError() bool {
	return r.Level == LevelError
}

// Day returns the calendar day of the record's timestamp at midnight UTC.
func (r Record) Day() time.Time {
	y, m, d := r.Timestamp.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Line formats the record using the same layout the parser accepts.
func (r Record) Line() string {
	var b strings.Builder
	b.WriteString(r.Timestamp.UTC().Format(TimestampLayout))
	b.WriteString(" [")
	b.WriteString(r.Level)
	b.WriteString("] [")
	b.WriteString(r.Module)
	b.WriteString("] ")
	b.WriteString(r.Message)
	if r.HasResponseTime {
		b.WriteString(" (response_time=")
		b.WriteString(strconv.FormatInt(r.ResponseTimeMs, 10))
		b.WriteString("ms)")
	}
	return b.String()
}

// Equal reports whether two records carry the same fields. Timestamps are
// compared as instants.
func (r Record) Equal(o Record) bool {
	if !r.Timestamp.Equal(o.Timestamp) {
		return false
	}
	if r.Level != o.Level || r.Module != o.Module || r.Message != o.Message {
		return false
	}
	if r.HasResponseTime != o.HasResponseTime {
		return false
	}
	return !r.HasResponseTime || r.ResponseTimeMs == o.ResponseTimeMs
}

type recordJSON struct {
	Timestamp    time.Time `json:"ts"`
	Level        string    `json:"level"`
	Module       string    `json:"module"`
	Message      string    `json:"msg"`
	ResponseTime *int64    `json:"response_time_ms,omitempty"`
}

// MarshalJSON encodes the record; the response time is omitted when absent.
func (r Record) MarshalJSON() ([]byte, error) {
	j := recordJSON{
		Timestamp: r.Timestamp,
		Level:     r.Level,
		Module:    r.Module,
		Message:   r.Message,
	}
	if r.HasResponseTime {
		v := r.ResponseTimeMs
		j.ResponseTime = &v
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a record produced by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var j recordJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*r = Record{
		Timestamp: j.Timestamp,
		Level:     j.Level,
		Module:    j.Module,
		Message:   j.Message,
	}
	if j.ResponseTime != nil {
		r.ResponseTimeMs = *j.ResponseTime
		r.HasResponseTime = true
	}
	return nil
}
