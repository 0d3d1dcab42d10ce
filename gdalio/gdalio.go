// Package gdalio implements the raster backend on top of GDAL through godal.
//
// Paths are opened with the GTiff driver (or any driver GDAL detects on open),
// an empty path creates an in-memory MEM dataset.
package gdalio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/akhenakh/rasterblock/raster"
)

var registerOnce sync.Once

func register() { registerOnce.Do(godal.RegisterAll) }

var pixelTypes = map[raster.PixelType]godal.DataType{
	raster.Byte:    godal.Byte,
	raster.UInt16:  godal.UInt16,
	raster.Int16:   godal.Int16,
	raster.UInt32:  godal.UInt32,
	raster.Int32:   godal.Int32,
	raster.Float32: godal.Float32,
	raster.Float64: godal.Float64,
}

func fromDataType(dt godal.DataType) raster.PixelType {
	for pt, gdt := range pixelTypes {
		if gdt == dt {
			return pt
		}
	}
	return raster.Unknown
}

// Backend opens and creates datasets through GDAL.
type Backend struct {
	// CreationOptions are passed to the GTiff driver, e.g. "TILED=YES", "COMPRESS=DEFLATE".
	CreationOptions []string
}

// New returns a Backend writing GeoTIFFs with the given creation options.
func New(creationOptions ...string) *Backend {
	return &Backend{CreationOptions: creationOptions}
}

func (b *Backend) Open(path string) (raster.Dataset, error) {
	register()
	ds, err := godal.Open(path)
	if err != nil {
		return nil, err
	}
	return &Dataset{ds: ds}, nil
}

func (b *Backend) Create(path string, width, height, bands int, pt raster.PixelType) (raster.Dataset, error) {
	register()
	dt, ok := pixelTypes[pt]
	if !ok {
		return nil, raster.ConfigErrorf("pixel type %s cannot be created", pt)
	}
	var (
		ds  *godal.Dataset
		err error
	)
	if path == "" {
		ds, err = godal.Create(godal.Memory, "", bands, dt, width, height)
	} else if len(b.CreationOptions) > 0 {
		ds, err = godal.Create(godal.GTiff, path, bands, dt, width, height, godal.CreationOption(b.CreationOptions...))
	} else {
		ds, err = godal.Create(godal.GTiff, path, bands, dt, width, height)
	}
	if err != nil {
		return nil, err
	}
	return &Dataset{ds: ds}, nil
}

// Dataset wraps a godal dataset handle.
type Dataset struct {
	ds *godal.Dataset
}

func (d *Dataset) Width() int { return d.ds.Structure().SizeX }
func (d *Dataset) Height() int { return d.ds.Structure().SizeY }
func (d *Dataset) BandCount() int { return d.ds.Structure().NBands }

func (d *Dataset) GeoTransform() (raster.GeoTransform, error) {
	gt, err := d.ds.GeoTransform()
	if err != nil {
		return raster.GeoTransform{}, err
	}
	return raster.GeoTransform(gt), nil
}

func (d *Dataset) Projection() string { return d.ds.Projection() }

func (d *Dataset) band(n int) (godal.Band, error) {
	bands := d.ds.Bands()
	if n < 1 || n > len(bands) {
		return godal.Band{}, fmt.Errorf("band %d out of range [1,%d]", n, len(bands))
	}
	return bands[n-1], nil
}

func (d *Dataset) BandPixelType(n int) raster.PixelType {
	b, err := d.band(n)
	if err != nil {
		return raster.Unknown
	}
	return fromDataType(b.Structure().DataType)
}

func (d *Dataset) BandNoData(n int) (float64, bool) {
	b, err := d.band(n)
	if err != nil {
		return 0, false
	}
	return b.NoData()
}

func (d *Dataset) SetGeoTransform(gt raster.GeoTransform) error {
	return d.ds.SetGeoTransform([6]float64(gt))
}

// SetProjection accepts "EPSG:<code>" or a WKT string.
func (d *Dataset) SetProjection(projection string) error {
	sr, err := spatialRef(projection)
	if err != nil {
		return err
	}
	if sr == nil {
		return d.ds.SetProjection(projection)
	}
	defer sr.Close()
	return d.ds.SetSpatialRef(sr)
}

func (d *Dataset) SetBandNoData(n int, value float64) error {
	b, err := d.band(n)
	if err != nil {
		return err
	}
	return b.SetNoData(value)
}

func (d *Dataset) ReadWindow(xOff, yOff, width, height, band int) (raster.Array, error) {
	pt := d.BandPixelType(max(band, 1))
	if band > 0 {
		b, err := d.band(band)
		if err != nil {
			return raster.Array{}, err
		}
		a, err := raster.NewArray(pt, 1, width, height)
		if err != nil {
			return raster.Array{}, err
		}
		if err := b.Read(xOff, yOff, a.Data, width, height); err != nil {
			return raster.Array{}, err
		}
		return a, nil
	}
	a, err := raster.NewArray(pt, d.BandCount(), width, height)
	if err != nil {
		return raster.Array{}, err
	}
	if err := d.ds.Read(xOff, yOff, a.Data, width, height, godal.BandInterleaved()); err != nil {
		return raster.Array{}, err
	}
	return a, nil
}

func (d *Dataset) WriteArray(a raster.Array, band int) error {
	if band > 0 {
		b, err := d.band(band)
		if err != nil {
			return err
		}
		return b.Write(0, 0, a.Data, a.Width, a.Height)
	}
	idx := make([]int, a.Bands)
	for i := range idx {
		idx[i] = i
	}
	return d.ds.Write(0, 0, a.Data, a.Width, a.Height, godal.Bands(idx...), godal.BandInterleaved())
}

// Polygonize writes one MultiPolygon feature per connected region of equal value.
// The vector driver follows the path extension: .shp, .geojson/.json, .gpkg;
// an empty path uses the Memory driver.
func (d *Dataset) Polygonize(opts raster.PolygonizeOptions) (raster.VectorLayer, error) {
	src, err := d.band(opts.Band)
	if err != nil {
		return raster.VectorLayer{}, err
	}
	drv, err := vectorDriver(opts.Path)
	if err != nil {
		return raster.VectorLayer{}, err
	}
	sr, err := spatialRef(opts.Projection)
	if err != nil {
		return raster.VectorLayer{}, err
	}
	if sr == nil && opts.Projection != "" {
		if sr, err = godal.NewSpatialRefFromWKT(opts.Projection); err != nil {
			return raster.VectorLayer{}, fmt.Errorf("parse projection: %w", err)
		}
	}
	if sr != nil {
		defer sr.Close()
	}

	vds, err := godal.CreateVector(drv, opts.Path)
	if err != nil {
		return raster.VectorLayer{}, err
	}
	defer vds.Close()

	layer, err := vds.CreateLayer(opts.LayerName, sr, godal.GTMultiPolygon,
		godal.NewFieldDefinition(opts.FieldName, godal.FTReal))
	if err != nil {
		return raster.VectorLayer{}, err
	}

	popts := []godal.PolygonizeOption{godal.PixelValueFieldIndex(0)}
	if opts.Mask != nil {
		mds, err := maskDataset(*opts.Mask)
		if err != nil {
			return raster.VectorLayer{}, err
		}
		defer mds.Close()
		popts = append(popts, godal.Mask(mds.Bands()[0]))
	}
	if err := src.Polygonize(layer, popts...); err != nil {
		return raster.VectorLayer{}, err
	}
	n, err := layer.FeatureCount()
	if err != nil {
		return raster.VectorLayer{}, err
	}
	return raster.VectorLayer{Path: opts.Path, Name: opts.LayerName, Field: opts.FieldName, Features: n}, nil
}

func (d *Dataset) Close() error {
	if d.ds == nil {
		return errors.New("dataset already closed")
	}
	ds := d.ds
	d.ds = nil
	return ds.Close()
}

// maskDataset copies a one-band array into a MEM Byte band, 255 where the array is non-zero.
func maskDataset(mask raster.Array) (*godal.Dataset, error) {
	mds, err := godal.Create(godal.Memory, "", 1, godal.Byte, mask.Width, mask.Height)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, mask.Width*mask.Height)
	for i := range buf {
		if mask.Float64At(1, i%mask.Width, i/mask.Width) != 0 {
			buf[i] = 255
		}
	}
	if err := mds.Bands()[0].Write(0, 0, buf, mask.Width, mask.Height); err != nil {
		mds.Close()
		return nil, err
	}
	return mds, nil
}

func vectorDriver(path string) (godal.DriverName, error) {
	if path == "" {
		return godal.Memory, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return godal.Shapefile, nil
	case ".geojson", ".json":
		return godal.GeoJSON, nil
	case ".gpkg":
		return godal.GeoPackage, nil
	default:
		return "", raster.ConfigErrorf("no vector driver for %q", path)
	}
}

// spatialRef resolves "EPSG:<code>" projections; other strings return a nil reference.
func spatialRef(projection string) (*godal.SpatialRef, error) {
	code, ok := strings.CutPrefix(strings.ToUpper(projection), "EPSG:")
	if !ok {
		return nil, nil
	}
	epsg, err := strconv.Atoi(code)
	if err != nil {
		return nil, raster.ConfigErrorf("invalid EPSG code in %q", projection)
	}
	sr, err := godal.NewSpatialRefFromEPSG(epsg)
	if err != nil {
		return nil, fmt.Errorf("EPSG:%d: %w", epsg, err)
	}
	return sr, nil
}
