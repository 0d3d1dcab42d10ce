package raster

import "fmt"

// PixelType is the data type of a raster band sample. Values follow GDAL's GDALDataType codes.
type PixelType int

const (
	Unknown PixelType = iota
	Byte
	UInt16
	Int16
	UInt32
	Int32
	Float32
	Float64
)

var pixelTypeNames = map[PixelType]string{
	Unknown: "Unknown",
	Byte:    "Byte",
	UInt16:  "UInt16",
	Int16:   "Int16",
	UInt32:  "UInt32",
	Int32:   "Int32",
	Float32: "Float32",
	Float64: "Float64",
}

func (p PixelType) String() string {
	v, ok := pixelTypeNames[p]
	if !ok {
		return fmt.Sprintf("PixelType(%d)", int(p))
	}
	return v
}

// Size returns the number of bytes of one sample, 0 if unknown.
func (p PixelType) Size() int {
	switch p {
	case Byte:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// SampleKind is the Go element kind of an in-memory sample buffer.
type SampleKind int

const (
	KindUnknown SampleKind = iota
	KindInt8
	KindUint8
	KindUint16
	KindInt16
	KindUint32
	KindInt32
	KindFloat32
	KindFloat64
)

func (k SampleKind) String() string {
	switch k {
	case KindInt8:
		return "int8"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindInt16:
		return "int16"
	case KindUint32:
		return "uint32"
	case KindInt32:
		return "int32"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// kindToPixelType is the fixed sample kind -> pixel type table used by InferPixelType.
// Kinds missing from it have no raster equivalent.
var kindToPixelType = map[SampleKind]PixelType{
	KindUint8:   Byte,
	KindUint16:  UInt16,
	KindInt16:   Int16,
	KindUint32:  UInt32,
	KindInt32:   Int32,
	KindFloat32: Float32,
	KindFloat64: Float64,
}

// PixelTypeForKind looks up the pixel type matching a sample kind.
func PixelTypeForKind(k SampleKind) (PixelType, bool) {
	p, ok := kindToPixelType[k]
	return p, ok
}

// KindOf reports the sample kind of a typed slice.
func KindOf(data any) SampleKind {
	switch data.(type) {
	case []int8:
		return KindInt8
	case []uint8:
		return KindUint8
	case []uint16:
		return KindUint16
	case []int16:
		return KindInt16
	case []uint32:
		return KindUint32
	case []int32:
		return KindInt32
	case []float32:
		return KindFloat32
	case []float64:
		return KindFloat64
	default:
		return KindUnknown
	}
}
