package cloud

import (
	"path"
	"strings"
)

// contentTypeFor maps report and export extensions to a MIME type.
func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".csv":
		return "text/csv"
	case ".txt", ".log", ".md":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
