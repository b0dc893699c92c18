package export

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/ppiankov/loglens/internal/logtypes"
)

var csvHeader = []string{"ts", "level", "module", "msg", "response_time_ms"}

type csvWriter struct {
	file *os.File
	w    *csv.Writer
}

func newCSVWriter(path string) (*csvWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &csvWriter{file: f, w: w}, nil
}

func (w *csvWriter) Write(r logtypes.Record) error {
	var rt string
	if ms, ok := r.ResponseTime(); ok {
		rt = strconv.FormatInt(ms, 10)
	}
	return w.w.Write([]string{
		r.Timestamp.Format(time.RFC3339Nano),
		r.Level,
		r.Module,
		r.Message,
		rt,
	})
}

func (w *csvWriter) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}
