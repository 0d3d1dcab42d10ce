package geotiff

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/akhenakh/rasterblock/raster"
)

// Backend opens GeoTIFFs as read-only raster datasets.
type Backend struct {
	// Client serves http(s) sources, http.DefaultClient when nil.
	Client *http.Client

	CacheMaxSize      int64
	CacheItemsToPrune uint32
	CacheTTL          time.Duration

	Logger *slog.Logger
}

var _ raster.Opener = (*Backend)(nil)

func (b *Backend) options() []Option {
	var opts []Option
	if b.CacheMaxSize > 0 {
		prune := b.CacheItemsToPrune
		if prune == 0 {
			prune = 1
		}
		opts = append(opts, CacheSize(b.CacheMaxSize, prune))
	}
	if b.CacheTTL > 0 {
		opts = append(opts, CacheTTL(b.CacheTTL))
	}
	if b.Logger != nil {
		opts = append(opts, Logger(b.Logger))
	}
	return opts
}

// Open opens path, a local file or an http(s) or bucket URL.
func (b *Backend) Open(path string) (raster.Dataset, error) {
	// Dataset reads have no context, the source lives as long as the dataset.
	src, err := OpenSource(context.Background(), path, b.Client)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	g, err := Open(src, b.options()...)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Dataset{src: src, tiff: g}, nil
}

// Dataset is a one-band read-only raster.Dataset.
type Dataset struct {
	src  Source
	tiff *GeoTIFF
}

func (d *Dataset) Width() int     { return d.tiff.Width() }
func (d *Dataset) Height() int    { return d.tiff.Height() }
func (d *Dataset) BandCount() int { return 1 }

func (d *Dataset) GeoTransform() (raster.GeoTransform, error) { return d.tiff.GeoTransform() }

// Projection returns "EPSG:<code>" when the GeoKeys carry one, else "".
func (d *Dataset) Projection() string {
	if code := d.tiff.EPSG(); code != 0 {
		return fmt.Sprintf("EPSG:%d", code)
	}
	return ""
}

func (d *Dataset) BandPixelType(band int) raster.PixelType {
	if band != 1 {
		return raster.Unknown
	}
	return d.tiff.PixelType()
}

func (d *Dataset) BandNoData(band int) (float64, bool) {
	if band != 1 {
		return math.NaN(), false
	}
	return d.tiff.NoData()
}

func (d *Dataset) SetGeoTransform(raster.GeoTransform) error { return raster.ErrReadOnly }
func (d *Dataset) SetProjection(string) error                { return raster.ErrReadOnly }
func (d *Dataset) SetBandNoData(int, float64) error          { return raster.ErrReadOnly }
func (d *Dataset) WriteArray(raster.Array, int) error        { return raster.ErrReadOnly }

func (d *Dataset) Polygonize(raster.PolygonizeOptions) (raster.VectorLayer, error) {
	return raster.VectorLayer{}, raster.ErrReadOnly
}

func (d *Dataset) ReadWindow(xOff, yOff, width, height, band int) (raster.Array, error) {
	if band > 1 {
		return raster.Array{}, fmt.Errorf("band %d out of range, image has 1 band", band)
	}
	return d.tiff.ReadWindow(xOff, yOff, width, height)
}

func (d *Dataset) Close() error {
	if d.tiff == nil {
		return fmt.Errorf("dataset already closed")
	}
	d.tiff.Close()
	d.tiff = nil
	return d.src.Close()
}
