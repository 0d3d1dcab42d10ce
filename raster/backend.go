package raster

import "errors"

var (
	errNilDataset = errors.New("nil dataset handle")
	errClosed     = errors.New("raster is closed")
)

// Opener opens existing datasets read-only.
type Opener interface {
	Open(path string) (Dataset, error)
}

// Creator allocates new datasets. An empty path creates an in-memory dataset.
type Creator interface {
	Create(path string, width, height, bands int, pt PixelType) (Dataset, error)
}

// Backend is a raster I/O library able to both open and create datasets.
type Backend interface {
	Opener
	Creator
}

// Dataset is an open backend handle. Bands are 1-based. A handle is not safe for
// concurrent use; open one handle per goroutine instead.
type Dataset interface {
	Width() int
	Height() int
	BandCount() int
	GeoTransform() (GeoTransform, error)
	Projection() string
	BandPixelType(band int) PixelType
	BandNoData(band int) (float64, bool)

	SetGeoTransform(gt GeoTransform) error
	SetProjection(projection string) error
	SetBandNoData(band int, value float64) error

	// ReadWindow reads the window into a band-sequential array of the dataset pixel type.
	// band 0 reads every band.
	ReadWindow(xOff, yOff, width, height, band int) (Array, error)
	// WriteArray writes a full-size array at offset (0,0). band 0 writes a.Bands bands
	// starting at band 1.
	WriteArray(a Array, band int) error

	Polygonize(opts PolygonizeOptions) (VectorLayer, error)
	Close() error
}

// PolygonizeOptions controls raster to vector conversion of one band.
type PolygonizeOptions struct {
	Band int
	// Mask is an optional one-band array; zero pixels are excluded.
	Mask *Array
	// Path of the vector file; empty keeps the layer in memory.
	Path       string
	LayerName  string
	FieldName  string
	Projection string
}

// VectorLayer describes the result of a polygonization.
type VectorLayer struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Field    string `json:"field"`
	Features int    `json:"features"`
}
