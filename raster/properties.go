package raster

import (
	"encoding/json"
	"math"
	"slices"
)

// NoData is the optional nodata marker of one band.
type NoData struct {
	Value float64
	Set   bool
}

// NoDataValue returns a set NoData marker.
func NoDataValue(v float64) NoData { return NoData{Value: v, Set: true} }

// Properties describes the geometry and metadata of a raster.
//
// Properties is a value type: the With* methods return modified copies and never
// alter the receiver. Resolution, extent and the pixel type name are derived on
// demand, so they always agree with the geotransform and size.
type Properties struct {
	width      int
	height     int
	bands      int
	transform  GeoTransform
	projection string
	pixelType  PixelType
	noData     []NoData
}

// NewProperties builds Properties for an output raster. A nil noData means no band has a
// nodata marker; otherwise its length must equal bands.
func NewProperties(width, height, bands int, gt GeoTransform, projection string, pt PixelType, noData []NoData) (Properties, error) {
	if width <= 0 || height <= 0 {
		return Properties{}, configErrorf("raster size must be positive, got %dx%d", width, height)
	}
	if bands <= 0 {
		return Properties{}, configErrorf("band count must be positive, got %d", bands)
	}
	if noData == nil {
		noData = make([]NoData, bands)
	}
	if len(noData) != bands {
		return Properties{}, configErrorf("got %d nodata entries for %d bands", len(noData), bands)
	}
	return Properties{
		width:      width,
		height:     height,
		bands:      bands,
		transform:  gt,
		projection: projection,
		pixelType:  pt,
		noData:     slices.Clone(noData),
	}, nil
}

// FromDataset reads the properties of an open backend dataset.
func FromDataset(ds Dataset) (Properties, error) {
	if ds == nil {
		return Properties{}, backendError("read properties", errNilDataset)
	}
	bands := ds.BandCount()
	if bands <= 0 {
		return Properties{}, configErrorf("dataset has no bands, cannot read its pixel type")
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return Properties{}, backendError("read geotransform", err)
	}
	noData := make([]NoData, bands)
	for i := range noData {
		v, ok := ds.BandNoData(i + 1)
		noData[i] = NoData{Value: v, Set: ok}
	}
	return Properties{
		width:      ds.Width(),
		height:     ds.Height(),
		bands:      bands,
		transform:  gt,
		projection: ds.Projection(),
		pixelType:  ds.BandPixelType(1),
		noData:     noData,
	}, nil
}

func (p Properties) Width() int { return p.width }
func (p Properties) Height() int { return p.height }
func (p Properties) Bands() int { return p.bands }
func (p Properties) GeoTransform() GeoTransform { return p.transform }
func (p Properties) Projection() string { return p.projection }
func (p Properties) PixelType() PixelType { return p.pixelType }
func (p Properties) PixelTypeName() string { return p.pixelType.String() }
func (p Properties) XResolution() float64 { return p.transform[1] }
func (p Properties) YResolution() float64 { return p.transform[5] }

// CellSize is the pixel size in ground units, both values positive.
func (p Properties) CellSize() (x, y float64) {
	return math.Abs(p.transform[1]), math.Abs(p.transform[5])
}

// Extent is recomputed from the geotransform and size on every call.
func (p Properties) Extent() Extent {
	return extentOf(p.transform, p.width, p.height)
}

// NoData returns a copy of the per-band nodata markers.
func (p Properties) NoData() []NoData {
	return slices.Clone(p.noData)
}

// BandNoData returns the nodata value of the 1-based band.
func (p Properties) BandNoData(band int) (float64, bool) {
	if band < 1 || band > len(p.noData) {
		return 0, false
	}
	nd := p.noData[band-1]
	return nd.Value, nd.Set
}

// Clone returns an independent copy.
func (p Properties) Clone() Properties {
	p.noData = slices.Clone(p.noData)
	return p
}

func (p Properties) WithSize(width, height int) Properties {
	c := p.Clone()
	c.width, c.height = width, height
	return c
}

func (p Properties) WithGeoTransform(gt GeoTransform) Properties {
	c := p.Clone()
	c.transform = gt
	return c
}

func (p Properties) WithProjection(projection string) Properties {
	c := p.Clone()
	c.projection = projection
	return c
}

func (p Properties) WithPixelType(pt PixelType) Properties {
	c := p.Clone()
	c.pixelType = pt
	return c
}

// WithBands changes the band count, truncating the nodata list or padding it with unset entries.
func (p Properties) WithBands(bands int) Properties {
	c := p.Clone()
	c.bands = bands
	switch {
	case bands < len(c.noData):
		c.noData = c.noData[:max(bands, 0)]
	case bands > len(c.noData):
		c.noData = append(c.noData, make([]NoData, bands-len(c.noData))...)
	}
	return c
}

// WithNoData replaces the nodata marker of the 1-based band. Out of range bands are ignored.
func (p Properties) WithNoData(band int, nd NoData) Properties {
	c := p.Clone()
	if band >= 1 && band <= len(c.noData) {
		c.noData[band-1] = nd
	}
	return c
}

// InferPixelType sets the pixel type matching the sample kind of an array.
// An unrecognized kind leaves the pixel type unchanged; this is not an error.
func (p Properties) InferPixelType(k SampleKind) Properties {
	pt, ok := PixelTypeForKind(k)
	if !ok {
		return p.Clone()
	}
	return p.WithPixelType(pt)
}

type propertiesJSON struct {
	Width         int          `json:"width"`
	Height        int          `json:"height"`
	Bands         int          `json:"bands"`
	GeoTransform  GeoTransform `json:"geotransform"`
	Projection    string       `json:"projection"`
	PixelType     PixelType    `json:"pixelType"`
	PixelTypeName string       `json:"pixelTypeName"`
	XResolution   float64      `json:"xResolution"`
	YResolution   float64      `json:"yResolution"`
	CellSize      [2]float64   `json:"cellSize"`
	Extent        Extent       `json:"extent"`
	NoData        []*float64   `json:"nodata"`
}

// MarshalJSON includes the derived fields. Unset and NaN nodata markers are encoded as null.
func (p Properties) MarshalJSON() ([]byte, error) {
	cx, cy := p.CellSize()
	nd := make([]*float64, len(p.noData))
	for i, v := range p.noData {
		if v.Set && !math.IsNaN(v.Value) {
			val := v.Value
			nd[i] = &val
		}
	}
	return json.Marshal(propertiesJSON{
		Width:         p.width,
		Height:        p.height,
		Bands:         p.bands,
		GeoTransform:  p.transform,
		Projection:    p.projection,
		PixelType:     p.pixelType,
		PixelTypeName: p.PixelTypeName(),
		XResolution:   p.XResolution(),
		YResolution:   p.YResolution(),
		CellSize:      [2]float64{cx, cy},
		Extent:        p.Extent(),
		NoData:        nd,
	})
}
