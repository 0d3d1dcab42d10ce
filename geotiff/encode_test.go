package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"sort"
	"testing"

	"github.com/akhenakh/rasterblock/raster"
)

// testImage describes a tiled single-band TIFF built by encodeTIFF.
type testImage struct {
	width, height int
	tileW, tileH  int
	pixelType     raster.PixelType
	order         binary.ByteOrder
	compression   uint16
	predictor     uint16

	// value of the pixel (x, y)
	value func(x, y int) float64

	tiepoint  bool
	transform []float64
	epsg      uint16
	noData    string
	// tiles written with a zero byte count
	sparse map[int]bool

	// extra overrides or adds raw tags
	extra []rawTag
}

type rawTag struct {
	tag   Tag
	ftype fieldType
	count uint32
	data  []byte
}

func (img testImage) withDefaults() testImage {
	if img.order == nil {
		img.order = binary.LittleEndian
	}
	if img.compression == 0 {
		img.compression = Uncompressed
	}
	if img.predictor == 0 {
		img.predictor = PredictorNone
	}
	if img.pixelType == raster.Unknown {
		img.pixelType = raster.UInt16
	}
	if img.value == nil {
		img.value = func(x, y int) float64 { return float64(y*img.width + x + 1) }
	}
	return img
}

func sampleFormatOf(pt raster.PixelType) uint16 {
	switch pt {
	case raster.Int16, raster.Int32:
		return SampleFormatInt
	case raster.Float32, raster.Float64:
		return SampleFormatFloat
	default:
		return SampleFormatUint
	}
}

func putSample(data any, i int, v float64) {
	switch d := data.(type) {
	case []uint8:
		d[i] = uint8(v)
	case []uint16:
		d[i] = uint16(v)
	case []int16:
		d[i] = int16(v)
	case []uint32:
		d[i] = uint32(v)
	case []int32:
		d[i] = int32(v)
	case []float32:
		d[i] = float32(v)
	case []float64:
		d[i] = v
	}
}

// applyHorizontalPrediction is the encoder side of undoHorizontalPrediction.
func applyHorizontalPrediction[T integer](data []T, w, h int) {
	for y := 0; y < h; y++ {
		row := data[y*w : (y+1)*w]
		for x := w - 1; x > 0; x-- {
			row[x] -= row[x-1]
		}
	}
}

func predict(data any, w, h int) {
	switch d := data.(type) {
	case []uint8:
		applyHorizontalPrediction(d, w, h)
	case []uint16:
		applyHorizontalPrediction(d, w, h)
	case []int16:
		applyHorizontalPrediction(d, w, h)
	case []uint32:
		applyHorizontalPrediction(d, w, h)
	case []int32:
		applyHorizontalPrediction(d, w, h)
	}
}

func (img testImage) encodeTile(t *testing.T, tx, ty int) []byte {
	t.Helper()
	a, err := raster.NewArray(img.pixelType, 1, img.tileW, img.tileH)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	for y := 0; y < img.tileH; y++ {
		for x := 0; x < img.tileW; x++ {
			px, py := tx*img.tileW+x, ty*img.tileH+y
			if px < img.width && py < img.height {
				putSample(a.Data, y*img.tileW+x, img.value(px, py))
			}
		}
	}
	if img.predictor == PredictorHorizontal {
		predict(a.Data, img.tileW, img.tileH)
	}
	var raw bytes.Buffer
	if err := binary.Write(&raw, img.order, a.Data); err != nil {
		t.Fatalf("encode tile: %v", err)
	}
	if img.compression == Uncompressed {
		return raw.Bytes()
	}
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	zw.Write(raw.Bytes())
	zw.Close()
	return z.Bytes()
}

func (img testImage) shorts(v ...uint16) []byte {
	b := make([]byte, 2*len(v))
	for i, s := range v {
		img.order.PutUint16(b[2*i:], s)
	}
	return b
}

func (img testImage) longs(v ...uint32) []byte {
	b := make([]byte, 4*len(v))
	for i, l := range v {
		img.order.PutUint32(b[4*i:], l)
	}
	return b
}

func (img testImage) doubles(v ...float64) []byte {
	b := make([]byte, 8*len(v))
	for i, d := range v {
		img.order.PutUint64(b[8*i:], math.Float64bits(d))
	}
	return b
}

// encodeTIFF writes img as a classic TIFF: header, tiles, IFD, then out of line values.
func encodeTIFF(t *testing.T, img testImage) []byte {
	t.Helper()
	img = img.withDefaults()

	var buf bytes.Buffer
	if img.order == binary.LittleEndian {
		buf.WriteString("II")
	} else {
		buf.WriteString("MM")
	}
	buf.Write(img.shorts(tiffIdentifier))
	buf.Write(make([]byte, 4)) // IFD offset, patched below

	across := (img.width + img.tileW - 1) / img.tileW
	down := (img.height + img.tileH - 1) / img.tileH
	var offsets, counts []uint32
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			if img.sparse[ty*across+tx] {
				offsets, counts = append(offsets, 0), append(counts, 0)
				continue
			}
			data := img.encodeTile(t, tx, ty)
			offsets = append(offsets, uint32(buf.Len()))
			counts = append(counts, uint32(len(data)))
			buf.Write(data)
		}
	}
	if buf.Len()%2 == 1 {
		buf.WriteByte(0)
	}

	tags := map[Tag]rawTag{}
	add := func(tag Tag, ft fieldType, count int, data []byte) {
		tags[tag] = rawTag{tag: tag, ftype: ft, count: uint32(count), data: data}
	}
	add(ImageWidth, LONG, 1, img.longs(uint32(img.width)))
	add(ImageLength, LONG, 1, img.longs(uint32(img.height)))
	add(BitsPerSample, SHORT, 1, img.shorts(uint16(8*img.pixelType.Size())))
	add(Compression, SHORT, 1, img.shorts(img.compression))
	add(SamplesPerPixel, SHORT, 1, img.shorts(1))
	add(Predictor, SHORT, 1, img.shorts(img.predictor))
	add(TileWidth, SHORT, 1, img.shorts(uint16(img.tileW)))
	add(TileLength, SHORT, 1, img.shorts(uint16(img.tileH)))
	add(TileOffsets, LONG, len(offsets), img.longs(offsets...))
	add(TileByteCounts, LONG, len(counts), img.longs(counts...))
	add(SampleFormat, SHORT, 1, img.shorts(sampleFormatOf(img.pixelType)))
	// a RATIONAL tag, decoded as raw bytes
	add(282, RATIONAL, 1, img.longs(72, 1))
	if img.tiepoint {
		add(ModelPixelScale, DOUBLE, 3, img.doubles(30, 30, 0))
		add(ModelTiepoint, DOUBLE, 6, img.doubles(0, 0, 0, 600000, 5000000, 0))
	}
	if img.transform != nil {
		add(ModelTransformation, DOUBLE, len(img.transform), img.doubles(img.transform...))
	}
	if img.epsg != 0 {
		add(GeoKeyDirectory, SHORT, 12, img.shorts(1, 1, 0, 2, gtModelTypeGeoKey, 0, 1, 1, projectedCSTypeGeoKey, 0, 1, img.epsg))
	}
	if img.noData != "" {
		add(GDALNoData, ASCII, len(img.noData)+1, append([]byte(img.noData), 0))
	}
	for _, e := range img.extra {
		if e.data == nil {
			delete(tags, e.tag)
			continue
		}
		tags[e.tag] = e
	}

	sorted := make([]rawTag, 0, len(tags))
	for _, e := range tags {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].tag < sorted[j].tag })

	ifdOffset := buf.Len()
	img.order.PutUint32(buf.Bytes()[4:], uint32(ifdOffset))
	extraOffset := ifdOffset + 2 + 12*len(sorted) + 4
	var extra bytes.Buffer
	buf.Write(img.shorts(uint16(len(sorted))))
	for _, e := range sorted {
		buf.Write(img.shorts(uint16(e.tag), uint16(e.ftype)))
		buf.Write(img.longs(e.count))
		if len(e.data) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.data)
			buf.Write(inline)
			continue
		}
		buf.Write(img.longs(uint32(extraOffset + extra.Len())))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	buf.Write(make([]byte, 4)) // no next IFD
	buf.Write(extra.Bytes())
	return buf.Bytes()
}

// memSource serves a byte slice as a Source.
type memSource struct {
	*bytes.Reader
}

func (memSource) Close() error { return nil }

func newMemSource(b []byte) Source { return memSource{bytes.NewReader(b)} }
