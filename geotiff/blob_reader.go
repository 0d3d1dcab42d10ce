package geotiff

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// BlobReader reads a GeoTIFF stored in a gocloud.dev/blob bucket (S3, GCS, Azure, local directory...).
type BlobReader struct {
	cursor
	ctx    context.Context
	bucket *blob.Bucket
	key    string

	// ownsBucket is set when the reader opened the bucket itself and must close it.
	ownsBucket bool
}

// NewBlobReader reads key from bucket. The bucket stays owned by the caller.
func NewBlobReader(ctx context.Context, bucket *blob.Bucket, key string) (*BlobReader, error) {
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes for key %s: %w", key, err)
	}

	r := &BlobReader{ctx: ctx, bucket: bucket, key: key}
	r.cursor = cursor{name: key, size: attrs.Size, read: r.readRange}
	return r, nil
}

func (r *BlobReader) readRange(p []byte, off int64) (int, error) {
	// gocloud.dev/blob takes an offset and a length, not an end byte.
	reader, err := r.bucket.NewRangeReader(r.ctx, r.key, off, int64(len(p)), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create range reader: %w", err)
	}
	defer reader.Close()
	return io.ReadFull(reader, p)
}

func (r *BlobReader) Close() error {
	if !r.ownsBucket {
		return nil
	}
	return r.bucket.Close()
}
