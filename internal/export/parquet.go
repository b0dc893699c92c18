package export

import (
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/ppiankov/loglens/internal/logtypes"
)

const parquetBatchSize = 50000

// parquetRecord is the Parquet schema struct.
type parquetRecord struct {
	Ts             int64  `parquet:"ts,timestamp(nanosecond)"`
	Level          string `parquet:"level,dict"`
	Module         string `parquet:"module,dict"`
	Msg            string `parquet:"msg"`
	ResponseTimeMs *int64 `parquet:"response_time_ms,optional"`
}

func toParquet(r logtypes.Record) parquetRecord {
	p := parquetRecord{
		Ts:     r.Timestamp.UnixNano(),
		Level:  r.Level,
		Module: r.Module,
		Msg:    r.Message,
	}
	if ms, ok := r.ResponseTime(); ok {
		p.ResponseTimeMs = &ms
	}
	return p
}

type parquetWriter struct {
	file   *os.File
	writer *parquet.GenericWriter[parquetRecord]
	batch  []parquetRecord
}

func newParquetWriter(path string) (*parquetWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := parquet.NewGenericWriter[parquetRecord](f,
		parquet.Compression(&zstd.Codec{}),
	)

	return &parquetWriter{
		file:   f,
		writer: w,
		batch:  make([]parquetRecord, 0, parquetBatchSize),
	}, nil
}

func (w *parquetWriter) Write(r logtypes.Record) error {
	w.batch = append(w.batch, toParquet(r))
	if len(w.batch) >= parquetBatchSize {
		return w.flush()
	}
	return nil
}

func (w *parquetWriter) flush() error {
	if len(w.batch) == 0 {
		return nil
	}
	_, err := w.writer.Write(w.batch)
	w.batch = w.batch[:0]
	return err
}

func (w *parquetWriter) Close() error {
	if err := w.flush(); err != nil {
		_ = w.writer.Close()
		_ = w.file.Close()
		return err
	}
	if err := w.writer.Close(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}
