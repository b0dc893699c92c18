package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-errors/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/ppiankov/loglens/internal/logtypes"
	"github.com/ppiankov/loglens/internal/parser"
	"github.com/ppiankov/loglens/internal/store"
)

const (
	batchSize     = 500
	maxLineBytes  = 1024 * 1024
	readBufSize   = 256 * 1024
	ctxCheckEvery = 1024
)

// Stdin is the path that reads from standard input.
const Stdin = "-"

// SourceError is an I/O failure opening or reading a source. Parse failures
// never produce one.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Stats summarizes one load.
type Stats struct {
	Files    []string              `json:"files"`
	Lines    int                   `json:"lines"`
	Parsed   int                   `json:"parsed"`
	Failures map[parser.Reason]int `json:"failures,omitempty"`
}

// Skipped returns the number of lines that failed to parse.
func (s *Stats) Skipped() int {
	n := 0
	for _, c := range s.Failures {
		n += c
	}
	return n
}

func (s *Stats) fail(r parser.Reason) {
	if s.Failures == nil {
		s.Failures = make(map[parser.Reason]int)
	}
	s.Failures[r]++
}

// Loader streams source files through the parser into a store.
type Loader struct {
	store  *store.Store
	logger *zap.Logger
}

// NewLoader creates a loader feeding st. A nil logger discards warnings.
func NewLoader(st *store.Store, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: st, logger: logger}
}

// Expand resolves glob patterns to files, in pattern order. A pattern without
// glob metacharacters is returned unchanged so that a missing file surfaces as
// a SourceError when it is opened.
func Expand(patterns []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	for _, p := range patterns {
		if p == Stdin || !hasMeta(p) {
			if !seen[p] {
				seen[p] = true
				files = append(files, p)
			}
			continue
		}
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
		if err != nil {
			return nil, &SourceError{Path: p, Err: errors.Errorf("expand glob: %w", err)}
		}
		if len(matches) == 0 {
			return nil, &SourceError{Path: p, Err: errors.Errorf("no files match %q", p)}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// LoadAll expands patterns and loads every matching file in order.
// Loading stops at the first I/O failure; records already inserted stay.
func (l *Loader) LoadAll(ctx context.Context, patterns []string) (*Stats, error) {
	files, err := Expand(patterns)
	if err != nil {
		return nil, err
	}

	total := &Stats{}
	for _, f := range files {
		st, err := l.Load(ctx, f)
		if st != nil {
			total.Files = append(total.Files, f)
			total.Lines += st.Lines
			total.Parsed += st.Parsed
			for r, n := range st.Failures {
				if total.Failures == nil {
					total.Failures = make(map[parser.Reason]int)
				}
				total.Failures[r] += n
			}
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Load reads one file (or stdin for "-"). Files ending in .zst or .gz are
// decompressed transparently.
func (l *Loader) Load(ctx context.Context, path string) (*Stats, error) {
	var src io.Reader
	if path == Stdin {
		src = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, &SourceError{Path: path, Err: errors.Errorf("open: %w", err)}
		}
		defer func() { _ = f.Close() }()
		src = f
	}

	r, closeFn, err := decompress(path, src)
	if err != nil {
		return nil, &SourceError{Path: path, Err: err}
	}
	defer closeFn()

	return l.ReadFrom(ctx, path, r)
}

func decompress(path string, r io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, errors.Errorf("zstd open: %w", err)
		}
		return dec, dec.Close, nil
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, errors.Errorf("gzip open: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	default:
		return r, func() {}, nil
	}
}

// ReadFrom parses every line of r into the store. name labels warnings and
// errors. Malformed lines, including lines longer than maxLineBytes, are
// skipped with a warning and counted by reason.
func (l *Loader) ReadFrom(ctx context.Context, name string, r io.Reader) (*Stats, error) {
	st := &Stats{Files: []string{name}}
	batch := make([]logtypes.Record, 0, batchSize)
	flush := func() {
		l.store.InsertAll(batch)
		batch = batch[:0]
	}

	br := bufio.NewReaderSize(r, readBufSize)
	var buf []byte
	for {
		line, tooLong, err := nextLine(br, buf[:0], maxLineBytes)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			flush()
			return st, &SourceError{Path: name, Err: errors.Errorf("read: %w", err)}
		}
		buf = line

		st.Lines++
		if st.Lines%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				flush()
				return st, err
			}
		}

		if tooLong {
			st.fail(parser.ReasonMalformedShape)
			l.logger.Warn("skipping oversized line",
				zap.String("source", name),
				zap.Int("line", st.Lines),
				zap.String("reason", string(parser.ReasonMalformedShape)),
				zap.Int("limit", maxLineBytes))
			continue
		}

		rec, err := parser.Parse(string(line))
		if err != nil {
			reason := parser.ReasonUnknown
			var f *parser.Failure
			if errors.As(err, &f) {
				reason = f.Reason
			}
			st.fail(reason)
			l.logger.Warn("skipping malformed line",
				zap.String("source", name),
				zap.Int("line", st.Lines),
				zap.String("reason", string(reason)),
				zap.Error(err))
			continue
		}

		st.Parsed++
		batch = append(batch, rec)
		if len(batch) >= batchSize {
			flush()
		}
	}
	flush()
	return st, nil
}

// nextLine reads one line into buf and returns it without its line ending.
// A line longer than limit is consumed through its newline but not kept;
// tooLong reports it. io.EOF is returned only when no bytes remain.
func nextLine(br *bufio.Reader, buf []byte, limit int) (line []byte, tooLong bool, err error) {
	read := 0
	for {
		chunk, rerr := br.ReadSlice('\n')
		read += len(chunk)
		if !tooLong {
			buf = append(buf, chunk...)
			// +2 leaves room for a trailing "\r\n"
			if len(buf) > limit+2 {
				tooLong = true
				buf = buf[:0]
			}
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		case errors.Is(rerr, io.EOF):
			if read == 0 {
				return nil, false, io.EOF
			}
		default:
			return nil, false, rerr
		}
		break
	}

	if tooLong {
		return buf, true, nil
	}
	buf = bytes.TrimSuffix(buf, []byte("\n"))
	buf = bytes.TrimSuffix(buf, []byte("\r"))
	if len(buf) > limit {
		return buf[:0], true, nil
	}
	return buf, false, nil
}
