package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DefaultShareExpiry is the lifetime of share URLs printed after an upload.
const DefaultShareExpiry = 24 * time.Hour

// Backend abstracts the object storage operations used to publish reports.
type Backend interface {
	// Upload writes the content from r to the given key.
	Upload(ctx context.Context, key string, r io.Reader, size int64) error

	// ShareURL generates a time-limited signed URL for downloading the given key.
	ShareURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Destination is a parsed s3:// or gs:// upload target.
type Destination struct {
	Scheme string
	Bucket string
	Prefix string
}

// String renders the destination back as a URL.
func (d Destination) String() string {
	if d.Prefix == "" {
		return d.Scheme + "://" + d.Bucket
	}
	return d.Scheme + "://" + d.Bucket + "/" + d.Prefix
}

// Key returns the object key for name under the destination prefix.
func (d Destination) Key(name string) string {
	if d.Prefix == "" {
		return name
	}
	return path.Join(d.Prefix, name)
}

// ParseDestination parses raw into a Destination.
func ParseDestination(raw string) (Destination, error) {
	scheme, bucket, prefix, err := ParseURL(raw)
	if err != nil {
		return Destination{}, err
	}
	return Destination{Scheme: scheme, Bucket: bucket, Prefix: prefix}, nil
}

// ParseURL extracts scheme, bucket, and prefix from a cloud URL.
// Supported schemes: s3://, gs://
func ParseURL(raw string) (scheme, bucket, prefix string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", "", fmt.Errorf("empty URL")
	}

	var rest string
	switch {
	case strings.HasPrefix(raw, "s3://"):
		scheme = "s3"
		rest = strings.TrimPrefix(raw, "s3://")
	case strings.HasPrefix(raw, "gs://"):
		scheme = "gs"
		rest = strings.TrimPrefix(raw, "gs://")
	default:
		return "", "", "", fmt.Errorf("unsupported scheme in %q: expected s3:// or gs://", raw)
	}

	if rest == "" {
		return "", "", "", fmt.Errorf("empty bucket in %q", raw)
	}

	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return scheme, rest, "", nil
	}

	bucket = rest[:idx]
	if bucket == "" {
		return "", "", "", fmt.Errorf("empty bucket in %q", raw)
	}
	prefix = strings.Trim(rest[idx+1:], "/")

	return scheme, bucket, prefix, nil
}

// NewBackend creates a Backend for the given scheme and bucket.
func NewBackend(ctx context.Context, scheme, bucket string) (Backend, error) {
	switch scheme {
	case "s3":
		return newS3Backend(ctx, bucket)
	case "gs":
		return newGCSBackend(ctx, bucket)
	default:
		return nil, fmt.Errorf("unsupported scheme %q: expected s3 or gs", scheme)
	}
}

// Uploaded describes one published file.
type Uploaded struct {
	Local    string
	Key      string
	Size     int64
	ShareURL string
}

// UploadFiles uploads each local file to dst, keyed by its base name. When
// shareExpiry is positive a signed URL is generated for every object.
func UploadFiles(ctx context.Context, b Backend, dst Destination, files []string, shareExpiry time.Duration) ([]Uploaded, error) {
	out := make([]Uploaded, 0, len(files))
	for _, local := range files {
		u, err := uploadFile(ctx, b, dst, local)
		if err != nil {
			return out, err
		}
		if shareExpiry > 0 {
			url, err := b.ShareURL(ctx, u.Key, shareExpiry)
			if err != nil {
				return out, fmt.Errorf("share %s: %w", u.Key, err)
			}
			u.ShareURL = url
		}
		out = append(out, u)
	}
	return out, nil
}

func uploadFile(ctx context.Context, b Backend, dst Destination, local string) (Uploaded, error) {
	f, err := os.Open(local)
	if err != nil {
		return Uploaded{}, fmt.Errorf("open %s: %w", local, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return Uploaded{}, fmt.Errorf("stat %s: %w", local, err)
	}

	key := dst.Key(filepath.Base(local))
	if err := b.Upload(ctx, key, f, info.Size()); err != nil {
		return Uploaded{}, err
	}
	return Uploaded{Local: local, Key: key, Size: info.Size()}, nil
}
