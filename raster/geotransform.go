package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GeoTransform is the GDAL affine tuple
// (originX, pixelWidth, rotX, originY, rotY, pixelHeight).
// pixelHeight is negative for north-up rasters.
type GeoTransform [6]float64

// IdentityGeoTransform maps pixel coordinates onto themselves, north-up.
var IdentityGeoTransform = GeoTransform{0, 1, 0, 0, 0, -1}

func (gt GeoTransform) OriginX() float64 { return gt[0] }
func (gt GeoTransform) OriginY() float64 { return gt[3] }

// Rotated reports whether the transform has non-zero rotation or skew terms.
func (gt GeoTransform) Rotated() bool {
	return gt[2] != 0 || gt[4] != 0
}

// Apply maps pixel (col, row) to world coordinates.
func (gt GeoTransform) Apply(col, row float64) (x, y float64) {
	x = gt[0] + col*gt[1] + row*gt[2]
	y = gt[3] + col*gt[4] + row*gt[5]
	return x, y
}

// Translate returns the axis-aligned transform whose origin is pixel (xOff, yOff) of gt.
// Rotation terms are dropped.
func (gt GeoTransform) Translate(xOff, yOff int) GeoTransform {
	return GeoTransform{
		gt[0] + float64(xOff)*gt[1],
		gt[1],
		0,
		gt[3] + float64(yOff)*gt[5],
		0,
		gt[5],
	}
}

func (gt GeoTransform) String() string {
	return fmt.Sprintf("(%v, %v, %v, %v, %v, %v)", gt[0], gt[1], gt[2], gt[3], gt[4], gt[5])
}

// Extent is (xMin, yMax, xMax, yMin) computed from the origin and the signed resolution,
// so for a south-up raster YMin can be greater than YMax.
type Extent struct {
	XMin float64 `json:"xMin"`
	YMax float64 `json:"yMax"`
	XMax float64 `json:"xMax"`
	YMin float64 `json:"yMin"`
}

func extentOf(gt GeoTransform, width, height int) Extent {
	return Extent{
		XMin: gt[0],
		YMax: gt[3],
		XMax: gt[0] + float64(width)*gt[1],
		YMin: gt[3] + float64(height)*gt[5],
	}
}

// Bound returns the extent as a normalized orb.Bound.
func (e Extent) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Min(e.XMin, e.XMax), math.Min(e.YMin, e.YMax)},
		Max: orb.Point{math.Max(e.XMin, e.XMax), math.Max(e.YMin, e.YMax)},
	}
}

func (e Extent) String() string {
	return fmt.Sprintf("(%f, %f, %f, %f)", e.XMin, e.YMax, e.XMax, e.YMin)
}
