package export

import (
	"fmt"
	"strings"

	"github.com/ppiankov/loglens/internal/logtypes"
)

// Format identifies the output format.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
)

// Formats lists the supported formats.
var Formats = []Format{FormatParquet, FormatCSV, FormatJSONL}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported format: %q (use parquet, csv or jsonl)", s)
}

// Progress reports progress during export.
type Progress struct {
	Written int64
	Total   int64
}

// Writer writes records to an output format.
type Writer interface {
	Write(logtypes.Record) error
	Close() error
}

// Export writes records to dst in the given format. Records are written in
// the order given.
func Export(records []logtypes.Record, dst string, format Format, progress func(Progress)) error {
	writer, err := NewWriter(dst, format)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}

	total := int64(len(records))
	var written int64
	for _, r := range records {
		if err := writer.Write(r); err != nil {
			_ = writer.Close()
			return fmt.Errorf("write record %d: %w", written+1, err)
		}
		written++
		if progress != nil && written%10000 == 0 {
			progress(Progress{Written: written, Total: total})
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	if progress != nil {
		progress(Progress{Written: written, Total: total})
	}
	return nil
}

// NewWriter creates a writer for path in the given format.
func NewWriter(path string, format Format) (Writer, error) {
	switch format {
	case FormatParquet:
		return newParquetWriter(path)
	case FormatCSV:
		return newCSVWriter(path)
	case FormatJSONL:
		return newJSONLWriter(path)
	default:
		return nil, fmt.Errorf("unsupported format: %q", format)
	}
}
