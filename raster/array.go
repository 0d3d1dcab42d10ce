package raster

import "fmt"

// Array is a band-sequential block of samples: band 1 rows first, then band 2, and so on.
// Data is one of []uint8, []uint16, []int16, []uint32, []int32, []float32, []float64.
type Array struct {
	Bands  int
	Width  int
	Height int
	Data   any
}

// NewArray allocates a zeroed array of the given pixel type.
func NewArray(pt PixelType, bands, width, height int) (Array, error) {
	if bands <= 0 || width <= 0 || height <= 0 {
		return Array{}, configErrorf("invalid array shape %dx%dx%d", bands, width, height)
	}
	n := bands * width * height
	var data any
	switch pt {
	case Byte:
		data = make([]uint8, n)
	case UInt16:
		data = make([]uint16, n)
	case Int16:
		data = make([]int16, n)
	case UInt32:
		data = make([]uint32, n)
	case Int32:
		data = make([]int32, n)
	case Float32:
		data = make([]float32, n)
	case Float64:
		data = make([]float64, n)
	default:
		return Array{}, configErrorf("cannot allocate samples of pixel type %s", pt)
	}
	return Array{Bands: bands, Width: width, Height: height, Data: data}, nil
}

// Kind reports the Go element kind of Data.
func (a Array) Kind() SampleKind { return KindOf(a.Data) }

// Len returns the number of samples held by Data, -1 if Data is not a supported slice.
func (a Array) Len() int {
	switch d := a.Data.(type) {
	case []int8:
		return len(d)
	case []uint8:
		return len(d)
	case []uint16:
		return len(d)
	case []int16:
		return len(d)
	case []uint32:
		return len(d)
	case []int32:
		return len(d)
	case []float32:
		return len(d)
	case []float64:
		return len(d)
	default:
		return -1
	}
}

// Validate checks that Data holds exactly Bands*Width*Height samples.
func (a Array) Validate() error {
	if a.Bands <= 0 || a.Width <= 0 || a.Height <= 0 {
		return shapeErrorf("invalid array shape %dx%dx%d", a.Bands, a.Width, a.Height)
	}
	n := a.Len()
	if n < 0 {
		return shapeErrorf("unsupported sample buffer %T", a.Data)
	}
	if n != a.Bands*a.Width*a.Height {
		return shapeErrorf("buffer holds %d samples, shape %dx%dx%d needs %d",
			n, a.Bands, a.Width, a.Height, a.Bands*a.Width*a.Height)
	}
	return nil
}

// Band returns a one-band view of the 1-based band i. The view shares Data with a.
func (a Array) Band(i int) (Array, error) {
	if err := a.Validate(); err != nil {
		return Array{}, err
	}
	if i < 1 || i > a.Bands {
		return Array{}, shapeErrorf("band %d out of range [1,%d]", i, a.Bands)
	}
	n := a.Width * a.Height
	lo, hi := (i-1)*n, i*n
	var data any
	switch d := a.Data.(type) {
	case []int8:
		data = d[lo:hi:hi]
	case []uint8:
		data = d[lo:hi:hi]
	case []uint16:
		data = d[lo:hi:hi]
	case []int16:
		data = d[lo:hi:hi]
	case []uint32:
		data = d[lo:hi:hi]
	case []int32:
		data = d[lo:hi:hi]
	case []float32:
		data = d[lo:hi:hi]
	case []float64:
		data = d[lo:hi:hi]
	}
	return Array{Bands: 1, Width: a.Width, Height: a.Height, Data: data}, nil
}

// Float64At returns the sample of band b (1-based) at column x, row y.
func (a Array) Float64At(b, x, y int) float64 {
	i := (b-1)*a.Width*a.Height + y*a.Width + x
	switch d := a.Data.(type) {
	case []int8:
		return float64(d[i])
	case []uint8:
		return float64(d[i])
	case []uint16:
		return float64(d[i])
	case []int16:
		return float64(d[i])
	case []uint32:
		return float64(d[i])
	case []int32:
		return float64(d[i])
	case []float32:
		return float64(d[i])
	case []float64:
		return d[i]
	default:
		panic(fmt.Sprintf("unsupported sample buffer %T", a.Data))
	}
}
