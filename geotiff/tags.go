package geotiff

// Tag is a TIFF tag identifier.
type Tag uint16

const (
	ImageWidth          Tag = 256
	ImageLength         Tag = 257
	BitsPerSample       Tag = 258
	Compression         Tag = 259
	SamplesPerPixel     Tag = 277
	PlanarConfiguration Tag = 284
	Predictor           Tag = 317
	TileWidth           Tag = 322
	TileLength          Tag = 323
	TileOffsets         Tag = 324
	TileByteCounts      Tag = 325
	SampleFormat        Tag = 339
	ModelPixelScale     Tag = 33550
	ModelTiepoint       Tag = 33922
	ModelTransformation Tag = 34264
	GeoKeyDirectory     Tag = 34735
	GDALNoData          Tag = 42113
)

var tagToLabel = map[Tag]string{
	ImageWidth:          "ImageWidth",
	ImageLength:         "ImageLength",
	BitsPerSample:       "BitsPerSample",
	Compression:         "Compression",
	SamplesPerPixel:     "SamplesPerPixel",
	PlanarConfiguration: "PlanarConfiguration",
	Predictor:           "Predictor",
	TileWidth:           "TileWidth",
	TileLength:          "TileLength",
	TileOffsets:         "TileOffsets",
	TileByteCounts:      "TileByteCounts",
	SampleFormat:        "SampleFormat",
	ModelPixelScale:     "ModelPixelScale",
	ModelTiepoint:       "ModelTiepoint",
	ModelTransformation: "ModelTransformation",
	GeoKeyDirectory:     "GeoKeyDirectory",
	GDALNoData:          "GDAL_NODATA",
}

type fieldType uint16

const (
	BYTE      fieldType = 1
	ASCII     fieldType = 2
	SHORT     fieldType = 3
	LONG      fieldType = 4
	RATIONAL  fieldType = 5
	SBYTE     fieldType = 6
	UNDEFINED fieldType = 7
	SSHORT    fieldType = 8
	SLONG     fieldType = 9
	SRATIONAL fieldType = 10
	FLOAT     fieldType = 11
	DOUBLE    fieldType = 12
	LONG8     fieldType = 16
	SLONG8    fieldType = 17
	IFD8      fieldType = 18
)

const (
	zeroByte  = 0
	oneByte   = 1
	twoByte   = 2
	fourByte  = 4
	eightByte = 8
)

// header magic
const (
	littleEndian      = 0x4949 // "II"
	bigEndian         = 0x4D4D // "MM"
	tiffIdentifier    = 42
	bigTiffIdentifier = 43
	bigTiffBytesize   = 8
)

const (
	Uncompressed = 1
	DEFLATE      = 8
	// AdobeDeflate is the Adobe registered code for DEFLATE, written by GDAL.
	AdobeDeflate = 32946
)

const (
	PredictorNone       = 1
	PredictorHorizontal = 2
)

const (
	SampleFormatUint  = 1
	SampleFormatInt   = 2
	SampleFormatFloat = 3
)

// GeoKeys read from the GeoKeyDirectory.
const (
	gtModelTypeGeoKey     = 1024
	geographicTypeGeoKey  = 2048
	projectedCSTypeGeoKey = 3072
)
