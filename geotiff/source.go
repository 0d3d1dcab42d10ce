package geotiff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"gocloud.dev/blob"
)

// Source is a random access view of a GeoTIFF file.
type Source interface {
	io.ReadSeeker
	io.ReaderAt
	io.Closer
	Size() int64
}

// rangeFunc reads len(p) bytes at off, p is already clipped to the source size.
type rangeFunc func(p []byte, off int64) (int, error)

// cursor turns a stateless range reader into an io.ReadSeeker plus io.ReaderAt.
type cursor struct {
	name string
	size int64
	read rangeFunc

	// mu protects offset for sequential Read/Seek operations.
	mu     sync.Mutex
	offset int64
}

func (c *cursor) Size() int64 { return c.size }

// Read performs a sequential read. The lock is held for the whole underlying read.
func (c *cursor) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.ReadAt(p, c.offset)
	c.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Seek updates the offset of the next sequential Read.
func (c *cursor) Seek(offset int64, whence int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += c.offset
	case io.SeekEnd:
		offset += c.size
	default:
		return 0, errors.New("invalid whence")
	}
	if offset < 0 {
		return 0, errors.New("cannot seek to negative offset")
	}
	c.offset = offset
	return offset, nil
}

// ReadAt is stateless and safe for concurrent use; tile fetches go through it.
func (c *cursor) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("%s: invalid offset %d", c.name, off)
	}
	if off >= c.size {
		return 0, io.EOF
	}
	clipped := p
	if off+int64(len(p)) > c.size {
		clipped = p[:c.size-off]
	}
	n, err := c.read(clipped, off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

type fileSource struct {
	cursor
	f *os.File
}

func (s *fileSource) Close() error { return s.f.Close() }

// OpenFile opens a local GeoTIFF.
func OpenFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileSource{cursor: cursor{name: path, size: fi.Size(), read: f.ReadAt}, f: f}, nil
}

// OpenSource resolves path by scheme: http(s) URLs use range requests, URLs of a
// registered gocloud.dev/blob scheme (file://, mem://, s3://, gs://, azblob://) go
// through a bucket, anything else is a local file.
func OpenSource(ctx context.Context, path string, client *http.Client) (Source, error) {
	u, err := url.Parse(path)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// no scheme, or a Windows drive letter
		return OpenFile(path)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPRangeReader(ctx, path, client)
	default:
		return OpenBlob(ctx, u)
	}
}

// OpenBlob opens the bucket of u (the URL without its path) and reads the key named by the path.
func OpenBlob(ctx context.Context, u *url.URL) (*BlobReader, error) {
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return nil, fmt.Errorf("no object key in %s", u.Redacted())
	}
	bucketURL := *u
	bucketURL.Path = ""
	if u.Scheme == "file" {
		// fileblob roots the bucket at the directory
		dir, name := splitKey(u.Path)
		bucketURL.Path, key = dir, name
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL.String())
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL.Redacted(), err)
	}
	r, err := NewBlobReader(ctx, bucket, key)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	r.ownsBucket = true
	return r, nil
}

func splitKey(p string) (dir, name string) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ".", p
	}
	if i == 0 {
		return "/", p[1:]
	}
	return p[:i], p[i+1:]
}
