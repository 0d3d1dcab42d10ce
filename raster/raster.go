// Package raster couples raster I/O backend handles with a value model of their
// geometry and metadata.
//
// A Raster is opened or created through a backend (see the gdalio and geotiff
// packages) and exposes whole dataset, single band and windowed reads, writes,
// property copies and polygonization. A Raster owns its handle: it must be closed
// on every path and must not be shared between goroutines.
package raster

import (
	"github.com/google/uuid"
)

// ValueField is the attribute carrying the source pixel value of polygonized features.
const ValueField = "value"

// Raster is an open dataset together with its properties.
type Raster struct {
	path  string
	ds    Dataset
	props Properties
}

// Open opens path read-only with the given backend and reads its properties.
func Open(o Opener, path string) (*Raster, error) {
	ds, err := o.Open(path)
	if err != nil {
		return nil, backendError("open "+path, err)
	}
	props, err := FromDataset(ds)
	if err != nil {
		ds.Close()
		return nil, err
	}
	return &Raster{path: path, ds: ds, props: props}, nil
}

// Create allocates a new dataset described by props. An empty path creates an in-memory raster.
// Geotransform, projection and the set nodata markers are applied to the new dataset.
func Create(c Creator, path string, props Properties) (*Raster, error) {
	if props.Width() <= 0 || props.Height() <= 0 || props.Bands() <= 0 {
		return nil, configErrorf("cannot create a %dx%d raster with %d bands", props.Width(), props.Height(), props.Bands())
	}
	ds, err := c.Create(path, props.Width(), props.Height(), props.Bands(), props.PixelType())
	if err != nil {
		return nil, backendError("create "+path, err)
	}
	if err := applyProperties(ds, props); err != nil {
		ds.Close()
		return nil, err
	}
	return &Raster{path: path, ds: ds, props: props.Clone()}, nil
}

func applyProperties(ds Dataset, props Properties) error {
	if err := ds.SetGeoTransform(props.GeoTransform()); err != nil {
		return backendError("set geotransform", err)
	}
	if props.Projection() != "" {
		if err := ds.SetProjection(props.Projection()); err != nil {
			return backendError("set projection", err)
		}
	}
	for i := 1; i <= props.Bands(); i++ {
		v, ok := props.BandNoData(i)
		if !ok {
			continue
		}
		if err := ds.SetBandNoData(i, v); err != nil {
			return backendError("set nodata", err)
		}
	}
	return nil
}

func (r *Raster) Path() string { return r.path }

// Properties returns the raster properties. The returned value is a copy.
func (r *Raster) Properties() Properties { return r.props.Clone() }

// CopyProperties returns an independent copy of the properties, for deriving an output raster.
func (r *Raster) CopyProperties() Properties { return r.props.Clone() }

type readOpts struct {
	band                int
	x, y, width, height int
}

// ReadOption modifies the default behavior of Read, which reads every band of the whole raster.
type ReadOption interface {
	setReadOpt(o *readOpts)
}

type bandOpt int

func (b bandOpt) setReadOpt(o *readOpts) { o.band = int(b) }

// Band restricts a read to the 1-based band n.
func Band(n int) ReadOption { return bandOpt(n) }

type windowOpt struct{ x, y, w, h int }

func (w windowOpt) setReadOpt(o *readOpts) {
	o.x, o.y, o.width, o.height = w.x, w.y, w.w, w.h
}

// Window restricts a read to the pixel window starting at (x, y) of size width x height.
func Window(x, y, width, height int) ReadOption { return windowOpt{x, y, width, height} }

// Read returns pixels as a band-sequential array of the raster pixel type.
func (r *Raster) Read(opts ...ReadOption) (Array, error) {
	if r.ds == nil {
		return Array{}, backendError("read", errClosed)
	}
	o := readOpts{width: r.props.Width(), height: r.props.Height()}
	for _, opt := range opts {
		opt.setReadOpt(&o)
	}
	if o.band < 0 || o.band > r.props.Bands() {
		return Array{}, configErrorf("band %d out of range [1,%d]", o.band, r.props.Bands())
	}
	if o.x < 0 || o.y < 0 || o.width <= 0 || o.height <= 0 ||
		o.x+o.width > r.props.Width() || o.y+o.height > r.props.Height() {
		return Array{}, configErrorf("window (%d,%d %dx%d) outside raster %dx%d",
			o.x, o.y, o.width, o.height, r.props.Width(), r.props.Height())
	}
	a, err := r.ds.ReadWindow(o.x, o.y, o.width, o.height, o.band)
	if err != nil {
		return Array{}, backendError("read window", err)
	}
	return a, nil
}

// Write stores a full-size array. A one-band array goes to band 1; a multi-band array
// must carry exactly Bands() bands.
func (r *Raster) Write(a Array) error {
	if err := r.checkShape(a); err != nil {
		return err
	}
	if a.Bands != 1 && a.Bands != r.props.Bands() {
		return shapeErrorf("array has %d bands, raster has %d", a.Bands, r.props.Bands())
	}
	if a.Bands == 1 {
		return r.writeBand(1, a)
	}
	if err := r.ds.WriteArray(a, 0); err != nil {
		return backendError("write", err)
	}
	return nil
}

// WriteBand stores a one-band full-size array into the 1-based band n.
func (r *Raster) WriteBand(n int, a Array) error {
	if err := r.checkShape(a); err != nil {
		return err
	}
	if n < 1 || n > r.props.Bands() {
		return configErrorf("band %d out of range [1,%d]", n, r.props.Bands())
	}
	if a.Bands != 1 {
		return shapeErrorf("cannot write %d bands into band %d", a.Bands, n)
	}
	return r.writeBand(n, a)
}

func (r *Raster) writeBand(n int, a Array) error {
	if err := r.ds.WriteArray(a, n); err != nil {
		return backendError("write band", err)
	}
	return nil
}

func (r *Raster) checkShape(a Array) error {
	if r.ds == nil {
		return backendError("write", errClosed)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if a.Width != r.props.Width() || a.Height != r.props.Height() {
		return shapeErrorf("array is %dx%d, raster is %dx%d", a.Width, a.Height, r.props.Width(), r.props.Height())
	}
	return nil
}

// ToVector polygonizes band 1 into a MultiPolygon layer with one real attribute holding
// the pixel value. Pixels where mask is zero are skipped. An empty path keeps the
// layer in memory.
func (r *Raster) ToVector(path string, mask *Array) (VectorLayer, error) {
	if r.ds == nil {
		return VectorLayer{}, backendError("polygonize", errClosed)
	}
	if mask != nil {
		if err := mask.Validate(); err != nil {
			return VectorLayer{}, err
		}
		if mask.Bands != 1 || mask.Width != r.props.Width() || mask.Height != r.props.Height() {
			return VectorLayer{}, shapeErrorf("mask is %dx%dx%d, raster band is %dx%d",
				mask.Bands, mask.Width, mask.Height, r.props.Width(), r.props.Height())
		}
	}
	layer, err := r.ds.Polygonize(PolygonizeOptions{
		Band:       1,
		Mask:       mask,
		Path:       path,
		LayerName:  uuid.New().String(),
		FieldName:  ValueField,
		Projection: r.props.Projection(),
	})
	if err != nil {
		return VectorLayer{}, backendError("polygonize", err)
	}
	return layer, nil
}

// Close releases the backend handle. Closing twice is a no-op.
func (r *Raster) Close() error {
	if r.ds == nil {
		return nil
	}
	ds := r.ds
	r.ds = nil
	if err := ds.Close(); err != nil {
		return backendError("close "+r.path, err)
	}
	return nil
}
