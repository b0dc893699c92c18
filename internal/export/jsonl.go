package export

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"

	"github.com/ppiankov/loglens/internal/logtypes"
)

// jsonlWriter writes one JSON record per line. Paths ending in ".zst" are
// zstd-compressed, which the loader's decompression also recognizes.
type jsonlWriter struct {
	file *os.File
	zst  *zstd.Encoder // nil for plain output
	out  *bufio.Writer
	line []byte
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := &jsonlWriter{file: f}
	var dst io.Writer = f
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		w.zst = enc
		dst = enc
	}
	w.out = bufio.NewWriterSize(dst, 64*1024)
	return w, nil
}

func (w *jsonlWriter) Write(r logtypes.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	w.line = append(append(w.line[:0], data...), '\n')
	_, err = w.out.Write(w.line)
	return err
}

// Close flushes the buffer and compressor before closing the file, and
// reports every failure along the way.
func (w *jsonlWriter) Close() error {
	err := w.out.Flush()
	if w.zst != nil {
		err = multierr.Append(err, w.zst.Close())
	}
	return multierr.Append(err, w.file.Close())
}
