package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/loglens/internal/logtypes"
)

// Reason classifies why a raw line could not become a record.
type Reason string

const (
	ReasonMalformedShape Reason = "MALFORMED_SHAPE"
	ReasonBadNumber      Reason = "BAD_NUMBER"
	ReasonBadTimestamp   Reason = "BAD_TIMESTAMP"
	ReasonUnknown        Reason = "UNKNOWN"
)

// Reasons lists every failure reason in a stable order.
var Reasons = []Reason{ReasonMalformedShape, ReasonBadNumber, ReasonBadTimestamp, ReasonUnknown}

// Failure is returned by Parse for lines that do not yield a record.
type Failure struct {
	Line   string
	Reason Reason
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("parse %s: %q", f.Reason, truncate(f.Line, 80))
	}
	return fmt.Sprintf("parse %s: %s: %q", f.Reason, f.Detail, truncate(f.Line, 80))
}

const (
	suffixOpen  = "(response_time="
	suffixClose = "ms)"
	// date and time part of the timestamp, without fraction
	baseLayout = "2006-01-02T15:04:05"
	maxFrac    = 9
)

// Parse turns one physical line into a record. The returned error is always
// a *Failure. Parse never panics on arbitrary input.
func Parse(line string) (logtypes.Record, error) {
	line = strings.TrimSuffix(line, "\r")
	if !utf8.ValidString(line) {
		return logtypes.Record{}, fail(line, ReasonUnknown, "invalid utf-8")
	}

	f, ok := splitShape(line)
	if !ok {
		return logtypes.Record{}, fail(line, ReasonMalformedShape, "")
	}

	ts, err := parseTimestamp(f.timestamp)
	if err != nil {
		return logtypes.Record{}, fail(line, ReasonBadTimestamp, err.Error())
	}

	rec := logtypes.Record{
		Timestamp: ts,
		Level:     f.level,
		Module:    f.module,
		Message:   f.rest,
	}

	msg, digits, hasSuffix := splitSuffix(f.rest)
	if hasSuffix {
		n, err := strconv.ParseUint(digits, 10, 63)
		if err != nil || !allDigits(digits) {
			return logtypes.Record{}, fail(line, ReasonBadNumber, fmt.Sprintf("response_time=%q", digits))
		}
		rec.Message = msg
		rec.ResponseTimeMs = int64(n)
		rec.HasResponseTime = true
	}
	return rec, nil
}

// ParseReason is a convenience for callers that only need the failure class.
// It returns "" when the line parses.
func ParseReason(line string) Reason {
	_, err := Parse(line)
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ReasonUnknown
}

type fields struct {
	timestamp string
	level     string
	module    string
	rest      string
}

// splitShape checks `<ts> [<LEVEL>] [<MODULE>] <message>`.
func splitShape(line string) (fields, bool) {
	var f fields

	sp := strings.IndexByte(line, ' ')
	if sp <= 0 {
		return f, false
	}
	f.timestamp = line[:sp]
	rest := line[sp+1:]

	var ok bool
	if f.level, rest, ok = bracketed(rest); !ok {
		return f, false
	}
	if !strings.HasPrefix(rest, " ") {
		return f, false
	}
	if f.module, rest, ok = bracketed(rest[1:]); !ok {
		return f, false
	}
	if !strings.HasPrefix(rest, " ") || len(rest) < 2 {
		return f, false
	}
	f.rest = rest[1:]
	if strings.TrimSpace(f.rest) == "" {
		return f, false
	}
	return f, true
}

// bracketed consumes "[token]" from the start of s.
func bracketed(s string) (token, rest string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	end := strings.IndexByte(s, ']')
	if end < 2 {
		return "", s, false
	}
	token = s[1:end]
	if strings.ContainsAny(token, "[ \t") {
		return "", s, false
	}
	return token, s[end+1:], true
}

func parseTimestamp(s string) (time.Time, error) {
	base, frac, hasFrac := strings.Cut(s, ".")
	if len(base) != len(baseLayout) {
		return time.Time{}, fmt.Errorf("timestamp %q: want %s", s, baseLayout)
	}
	if hasFrac && (len(frac) == 0 || len(frac) > maxFrac || !allDigits(frac)) {
		return time.Time{}, fmt.Errorf("timestamp %q: fraction must be 1-%d digits", s, maxFrac)
	}
	ts, err := time.ParseInLocation(baseLayout, base, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	if hasFrac {
		nanos, _ := strconv.Atoi(frac + strings.Repeat("0", maxFrac-len(frac)))
		ts = ts.Add(time.Duration(nanos))
	}
	return ts, nil
}

// splitSuffix detects a trailing " (response_time=<N>ms)". The suffix only
// counts when it leaves a non-empty message and <N> is a single token; a
// message that merely contains the marker earlier is left whole.
func splitSuffix(rest string) (msg, digits string, ok bool) {
	if !strings.HasSuffix(rest, suffixClose) {
		return rest, "", false
	}
	open := strings.LastIndex(rest, suffixOpen)
	if open < 0 {
		return rest, "", false
	}
	msg = strings.TrimRight(rest[:open], " \t")
	if msg == "" {
		return rest, "", false
	}
	digits = rest[open+len(suffixOpen) : len(rest)-len(suffixClose)]
	if strings.ContainsAny(digits, ") \t") {
		return rest, "", false
	}
	return msg, digits, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func fail(line string, reason Reason, detail string) *Failure {
	return &Failure{Line: line, Reason: reason, Detail: detail}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
