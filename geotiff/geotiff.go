// Package geotiff is a pure Go, read-only reader for tiled (Cloud Optimized) GeoTIFFs.
//
// Only the first IFD, the full resolution image, is read. Single sample images with
// 8, 16, 32 or 64 bit samples are supported, uncompressed or DEFLATE compressed,
// with the horizontal predictor for integer samples. Decoded tiles are cached.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/akhenakh/rasterblock/raster"
)

var errNoGeoTransform = errors.New("image has neither ModelTransformation nor ModelTiepoint and ModelPixelScale")

// head represents the TIFF file header information
type head struct {
	byteOrder binary.ByteOrder // Byte order (little endian or big endian)
	isBigTIFF bool             // Whether this is a BigTIFF file format
	ifdOffset uint64           // Offset to the first Image File Directory (IFD)
}

// iFDEntry represents a single entry in an Image File Directory (IFD)
type iFDEntry struct {
	Tag         Tag       // TIFF tag identifier
	FType       fieldType // Data type of the field
	Count       uint64    // Number of values of the specified type
	ValueOffset uint64    // Offset to the value data, or the value itself if it fits inline
	ValueBytes  []byte    // Inline value data for small values
}

// tagData holds the parsed data for a TIFF tag in various typed formats
type tagData struct {
	fType      fieldType // The field type of this tag data
	length     uint32    // Number of elements in the data
	byteData   []uint8   // Raw byte data (BYTE type, and types kept undecoded)
	asciiData  string    // String data (ASCII type)
	shortData  []uint16  // 16-bit unsigned integer data (SHORT type)
	longData   []uint32  // 32-bit unsigned integer data (LONG type)
	floatData  []float32 // 32-bit floating point data (FLOAT type)
	doubleData []float64 // 64-bit floating point data (DOUBLE type)
	uint64Data []uint64  // 64-bit unsigned integer data (LONG8/IFD8 types)
}

type Tags map[Tag]tagData

type config struct {
	cacheSize    int64
	itemsToPrune uint32
	cacheTTL     time.Duration
	prefetch     bool
	logger       *slog.Logger
}

// Option configures Open.
type Option func(*config)

// CacheSize bounds the decoded tile cache to maxSize tiles, evicting itemsToPrune at a time.
func CacheSize(maxSize int64, itemsToPrune uint32) Option {
	return func(c *config) {
		c.cacheSize = maxSize
		c.itemsToPrune = itemsToPrune
	}
}

// CacheTTL sets how long a decoded tile stays cached.
func CacheTTL(d time.Duration) Option {
	return func(c *config) { c.cacheTTL = d }
}

// Prefetch toggles the background fetch of the tiles around the last tile read.
func Prefetch(enabled bool) Option {
	return func(c *config) { c.prefetch = enabled }
}

func Logger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// GeoTIFF is a parsed GeoTIFF image. Reads are safe for concurrent use.
type GeoTIFF struct {
	// reader must also implement io.ReaderAt, tiles are fetched with ReadAt.
	reader    io.ReadSeeker
	byteOrder binary.ByteOrder
	tags      Tags
	isBigTIFF bool

	imageWidth  uint32
	imageLength uint32
	tileWidth   uint32
	tileLength  uint32
	tilesAcross int
	tilesDown   int

	tileOffsets    []uint64
	tileByteCounts []uint64

	bitsPerSample uint16
	sampleFormat  uint16
	compression   uint16
	predictor     uint16
	pixelType     raster.PixelType

	transform    raster.GeoTransform
	hasTransform bool
	epsg         int
	noData       float64
	hasNoData    bool

	// tileCache holds decoded tiles as typed slices ([]uint16, []float32...),
	// so cache hits cost no decoding.
	tileCache *ccache.Cache[any]
	cacheTTL  time.Duration

	// inflightData makes concurrent readers of the same tile share one fetch.
	inflightData singleflight.Group
	// inflightPrefetch triggers the neighbor prefetch of a tile only once at a time.
	inflightPrefetch singleflight.Group
	prefetch         bool

	// mu guards closed, prefetches are only started while the image is open.
	mu         sync.Mutex
	closed     bool
	done       chan struct{}
	prefetches sync.WaitGroup

	logger *slog.Logger
}

// fieldTypeLen is the length of every field type in bytes
var fieldTypeLen = [...]uint32{
	zeroByte, oneByte, oneByte, twoByte, // 0-3
	fourByte, eightByte, oneByte, oneByte, // 4-7
	twoByte, fourByte, eightByte, fourByte, // 8-11
	eightByte, // 12 (DOUBLE)
	0, 0, 0,   // 13-15 (Reserved)
	eightByte, eightByte, eightByte, // 16-18 (LONG8, SLONG8, IFD8)
}

var fieldTypeToLabel = map[fieldType]string{
	BYTE:      "BYTE",
	ASCII:     "ASCII",
	SHORT:     "SHORT",
	LONG:      "LONG",
	RATIONAL:  "RATIONAL",
	SBYTE:     "SBYTE",
	UNDEFINED: "UNDEFINED",
	SSHORT:    "SSHORT",
	SLONG:     "SLONG",
	SRATIONAL: "SRATIONAL",
	FLOAT:     "FLOAT",
	DOUBLE:    "DOUBLE",
	LONG8:     "LONG8",
	SLONG8:    "SLONG8",
	IFD8:      "IFD8",
}

func (f fieldType) String() string {
	v, ok := fieldTypeToLabel[f]
	if !ok {
		return fmt.Sprintf("unrecognized field type %d", f)
	}
	return v
}

// bytes returns the number of bytes in each data type
//
// returns 0 if unrecognized
func (f fieldType) bytes() uint32 {
	if int(f) >= len(fieldTypeLen) {
		return 0
	}
	return fieldTypeLen[int(f)]
}

func (t Tag) String() string {
	v, ok := tagToLabel[t]
	if !ok {
		return strconv.Itoa(int(t))
	}
	return v
}

// Open parses the first IFD of a tiled GeoTIFF. r must also implement io.ReaderAt.
func Open(r io.ReadSeeker, opts ...Option) (*GeoTIFF, error) {
	cfg := config{
		cacheSize:    128,
		itemsToPrune: 16,
		cacheTTL:     10 * time.Minute,
		prefetch:     true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if _, ok := r.(io.ReaderAt); !ok {
		return nil, errors.New("reader does not implement io.ReaderAt")
	}

	gTags, header, err := readTags(r, cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiff tags: %w", err)
	}

	g := &GeoTIFF{
		reader:    r,
		tags:      gTags,
		byteOrder: header.byteOrder,
		isBigTIFF: header.isBigTIFF,
		cacheTTL:  cfg.cacheTTL,
		prefetch:  cfg.prefetch,
		done:      make(chan struct{}),
		logger:    cfg.logger,
	}
	if err := g.readLayout(); err != nil {
		return nil, err
	}
	g.readGeoreference()
	g.tileCache = ccache.New(ccache.Configure[any]().MaxSize(cfg.cacheSize).ItemsToPrune(cfg.itemsToPrune))
	return g, nil
}

func (g *GeoTIFF) requireUint(tag Tag) (uint32, error) {
	v, ok := g.getUint(tag)
	if !ok {
		return 0, fmt.Errorf("missing or invalid tag: %s", tag)
	}
	return uint32(v), nil
}

func (g *GeoTIFF) uintOr(tag Tag, def uint16) uint16 {
	if v, ok := g.getUint(tag); ok {
		return uint16(v)
	}
	return def
}

// readLayout extracts the image and tile geometry and the sample encoding.
func (g *GeoTIFF) readLayout() error {
	var err error
	if g.imageWidth, err = g.requireUint(ImageWidth); err != nil {
		return err
	}
	if g.imageLength, err = g.requireUint(ImageLength); err != nil {
		return err
	}
	if g.tileWidth, err = g.requireUint(TileWidth); err != nil {
		return fmt.Errorf("%w (striped images are not supported)", err)
	}
	if g.tileLength, err = g.requireUint(TileLength); err != nil {
		return err
	}
	if g.imageWidth == 0 || g.imageLength == 0 || g.tileWidth == 0 || g.tileLength == 0 {
		return fmt.Errorf("invalid image %dx%d with %dx%d tiles", g.imageWidth, g.imageLength, g.tileWidth, g.tileLength)
	}
	g.tilesAcross = int(g.imageWidth+g.tileWidth-1) / int(g.tileWidth)
	g.tilesDown = int(g.imageLength+g.tileLength-1) / int(g.tileLength)

	if spp := g.uintOr(SamplesPerPixel, 1); spp != 1 {
		return fmt.Errorf("unsupported SamplesPerPixel %d, only single sample images are read", spp)
	}
	g.bitsPerSample = g.uintOr(BitsPerSample, 1)
	g.sampleFormat = g.uintOr(SampleFormat, SampleFormatUint)
	g.compression = g.uintOr(Compression, Uncompressed)
	g.predictor = g.uintOr(Predictor, PredictorNone)

	g.pixelType = pixelTypeOf(g.sampleFormat, g.bitsPerSample)
	if g.pixelType == raster.Unknown {
		return fmt.Errorf("unsupported sample format (SampleFormat: %d, BitsPerSample: %d)", g.sampleFormat, g.bitsPerSample)
	}
	switch g.compression {
	case Uncompressed, DEFLATE, AdobeDeflate:
	default:
		return fmt.Errorf("unsupported compression type: %d", g.compression)
	}
	switch {
	case g.predictor == PredictorNone:
	case g.predictor == PredictorHorizontal && g.sampleFormat != SampleFormatFloat:
	default:
		return fmt.Errorf("unsupported predictor %d for sample format %d", g.predictor, g.sampleFormat)
	}

	var ok bool
	if g.tileOffsets, ok = g.get64bitSlice(TileOffsets); !ok {
		return errors.New("missing or invalid tag: TileOffsets")
	}
	if g.tileByteCounts, ok = g.get64bitSlice(TileByteCounts); !ok {
		return errors.New("missing or invalid tag: TileByteCounts")
	}
	if n := g.tilesAcross * g.tilesDown; len(g.tileOffsets) < n || len(g.tileByteCounts) < n {
		return fmt.Errorf("image needs %d tiles, found %d offsets and %d byte counts", n, len(g.tileOffsets), len(g.tileByteCounts))
	}
	return nil
}

func pixelTypeOf(sampleFormat, bitsPerSample uint16) raster.PixelType {
	switch {
	case sampleFormat == SampleFormatUint && bitsPerSample == 8:
		return raster.Byte
	case sampleFormat == SampleFormatUint && bitsPerSample == 16:
		return raster.UInt16
	case sampleFormat == SampleFormatInt && bitsPerSample == 16:
		return raster.Int16
	case sampleFormat == SampleFormatUint && bitsPerSample == 32:
		return raster.UInt32
	case sampleFormat == SampleFormatInt && bitsPerSample == 32:
		return raster.Int32
	case sampleFormat == SampleFormatFloat && bitsPerSample == 32:
		return raster.Float32
	case sampleFormat == SampleFormatFloat && bitsPerSample == 64:
		return raster.Float64
	default:
		return raster.Unknown
	}
}

// readGeoreference reads the geotransform, the EPSG code and the nodata value.
// All three are optional.
func (g *GeoTIFF) readGeoreference() {
	if m, ok := g.tags[ModelTransformation].doubleDataValue(); ok && len(m) >= 8 {
		g.transform = raster.GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}
		g.hasTransform = true
	} else if scale, ok := g.tags[ModelPixelScale].doubleDataValue(); ok && len(scale) >= 2 {
		tie, ok := g.tags[ModelTiepoint].doubleDataValue()
		if ok && len(tie) >= 6 {
			sx, sy := scale[0], scale[1]
			// north-up: the Y scale is stored positive and applied downwards
			if sy > 0 {
				sy = -sy
			}
			g.transform = raster.GeoTransform{tie[3] - tie[0]*sx, sx, 0, tie[4] - tie[1]*sy, 0, sy}
			g.hasTransform = true
		}
	}

	if keys, ok := g.tags[GeoKeyDirectory]; ok && keys.fType == SHORT {
		g.epsg = epsgFromGeoKeys(keys.shortData)
	}

	if nd, ok := g.tags[GDALNoData]; ok && nd.fType == ASCII {
		v, err := strconv.ParseFloat(strings.TrimSpace(nd.asciiData), 64)
		if err != nil {
			g.logger.Warn("ignoring invalid GDAL_NODATA", "value", nd.asciiData, "error", err)
		} else {
			g.noData, g.hasNoData = v, true
		}
	}
}

// epsgFromGeoKeys returns the projected, else geographic, EPSG code of a GeoKeyDirectory.
// User defined (32767) and missing codes give 0.
func epsgFromGeoKeys(dir []uint16) int {
	if len(dir) < 4 {
		return 0
	}
	var projected, geographic uint16
	n := int(dir[3])
	for i := 0; i < n && 4+i*4+3 < len(dir); i++ {
		e := dir[4+i*4 : 4+i*4+4]
		// only inline SHORT values carry codes
		if e[1] != 0 || e[2] != 1 {
			continue
		}
		switch e[0] {
		case projectedCSTypeGeoKey:
			projected = e[3]
		case geographicTypeGeoKey:
			geographic = e[3]
		}
	}
	for _, code := range []uint16{projected, geographic} {
		if code != 0 && code != 32767 {
			return int(code)
		}
	}
	return 0
}

func (g *GeoTIFF) Width() int                  { return int(g.imageWidth) }
func (g *GeoTIFF) Height() int                 { return int(g.imageLength) }
func (g *GeoTIFF) PixelType() raster.PixelType { return g.pixelType }

// TileSize returns the internal tile size of the image.
func (g *GeoTIFF) TileSize() (width, height int) { return int(g.tileWidth), int(g.tileLength) }

func (g *GeoTIFF) GeoTransform() (raster.GeoTransform, error) {
	if !g.hasTransform {
		return raster.GeoTransform{}, errNoGeoTransform
	}
	return g.transform, nil
}

// EPSG returns the EPSG code of the image, 0 if unknown.
func (g *GeoTIFF) EPSG() int { return g.epsg }

func (g *GeoTIFF) NoData() (float64, bool) { return g.noData, g.hasNoData }

// Close waits for running prefetches, then stops the tile cache.
// The reader may be released once Close returns.
func (g *GeoTIFF) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.done)
	g.mu.Unlock()

	g.prefetches.Wait()
	g.tileCache.Stop()
}

// ReadWindow decodes the pixel window (x, y, width, height) into a one-band array
// of the image pixel type.
func (g *GeoTIFF) ReadWindow(x, y, width, height int) (raster.Array, error) {
	if x < 0 || y < 0 || width <= 0 || height <= 0 || x+width > g.Width() || y+height > g.Height() {
		return raster.Array{}, fmt.Errorf("window (%d,%d %dx%d) lies outside image %dx%d", x, y, width, height, g.Width(), g.Height())
	}
	a, err := raster.NewArray(g.pixelType, 1, width, height)
	if err != nil {
		return raster.Array{}, err
	}

	tw, th := int(g.tileWidth), int(g.tileLength)
	last := 0
	for ty := y / th; ty <= (y+height-1)/th; ty++ {
		for tx := x / tw; tx <= (x+width-1)/tw; tx++ {
			tileNum := ty*g.tilesAcross + tx
			tile, err := g.getTileData(tileNum)
			if err != nil {
				return raster.Array{}, fmt.Errorf("failed to get data for tile %d: %w", tileNum, err)
			}
			x0, x1 := max(x, tx*tw), min(x+width, (tx+1)*tw)
			y0, y1 := max(y, ty*th), min(y+height, (ty+1)*th)
			for row := y0; row < y1; row++ {
				src := (row-ty*th)*tw + x0 - tx*tw
				dst := (row-y)*width + x0 - x
				if err := copySamples(a.Data, dst, tile, src, x1-x0); err != nil {
					return raster.Array{}, fmt.Errorf("tile %d: %w", tileNum, err)
				}
			}
			last = tileNum
		}
	}
	if g.prefetch {
		g.prefetchAround(last)
	}
	return a, nil
}

// prefetchAround warms the cache with the neighbors of tileNum without blocking.
func (g *GeoTIFF) prefetchAround(tileNum int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.prefetches.Add(1)

	prefetchKey := "prefetch-" + strconv.Itoa(tileNum)
	go func() {
		defer g.prefetches.Done()
		g.inflightPrefetch.Do(prefetchKey, func() (interface{}, error) {
			g.prefetchNeighbors(tileNum)
			// allow the same tile to trigger a prefetch again once cached items may have expired
			time.AfterFunc(time.Minute, func() {
				g.inflightPrefetch.Forget(prefetchKey)
			})
			return nil, nil
		})
	}()
}

func copySamples(dst any, dstOff int, src any, srcOff, n int) error {
	switch d := dst.(type) {
	case []uint8:
		return copyTyped(d, dstOff, src, srcOff, n)
	case []uint16:
		return copyTyped(d, dstOff, src, srcOff, n)
	case []int16:
		return copyTyped(d, dstOff, src, srcOff, n)
	case []uint32:
		return copyTyped(d, dstOff, src, srcOff, n)
	case []int32:
		return copyTyped(d, dstOff, src, srcOff, n)
	case []float32:
		return copyTyped(d, dstOff, src, srcOff, n)
	case []float64:
		return copyTyped(d, dstOff, src, srcOff, n)
	default:
		return fmt.Errorf("unsupported sample buffer %T", dst)
	}
}

func copyTyped[T any](dst []T, dstOff int, src any, srcOff, n int) error {
	s, ok := src.([]T)
	if !ok {
		return fmt.Errorf("unexpected data type in cache: %T", src)
	}
	if srcOff+n > len(s) {
		return fmt.Errorf("pixel index %d out of tile bounds (%d)", srcOff+n, len(s))
	}
	copy(dst[dstOff:dstOff+n], s[srcOff:srcOff+n])
	return nil
}

// readHeader parses the TIFF file header to determine byte order, file format, and IFD location
func readHeader(r io.Reader) (head, error) {
	var h head

	var byteOrderBytes uint16
	if err := binary.Read(r, binary.BigEndian, &byteOrderBytes); err != nil {
		return h, err
	}
	switch byteOrderBytes {
	case littleEndian:
		h.byteOrder = binary.LittleEndian
	case bigEndian:
		h.byteOrder = binary.BigEndian
	default:
		return h, errors.New("invalid byte order")
	}

	var identifier uint16
	if err := binary.Read(r, h.byteOrder, &identifier); err != nil {
		return h, err
	}

	switch identifier {
	case tiffIdentifier:
		var offset32 uint32
		if err := binary.Read(r, h.byteOrder, &offset32); err != nil {
			return h, err
		}
		h.ifdOffset = uint64(offset32)
	case bigTiffIdentifier:
		h.isBigTIFF = true

		// bytesize must be 8, followed by a reserved 0
		var bytesize, reserved uint16
		if err := binary.Read(r, h.byteOrder, &bytesize); err != nil {
			return h, err
		}
		if bytesize != bigTiffBytesize {
			return h, errors.New("invalid BigTIFF bytesize")
		}
		if err := binary.Read(r, h.byteOrder, &reserved); err != nil {
			return h, err
		}
		if err := binary.Read(r, h.byteOrder, &h.ifdOffset); err != nil {
			return h, err
		}
	default:
		return h, fmt.Errorf("invalid tiff identifier: %d", identifier)
	}
	return h, nil
}

func readTags(r io.ReadSeeker, logger *slog.Logger) (Tags, head, error) {
	tags := make(Tags)
	h, err := readHeader(r)
	if err != nil {
		return nil, h, err
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, h, err
	}
	size := uint64(end)

	// Only the first IFD holds the full resolution image, the next ones are overviews.
	ifdOffset := h.ifdOffset
	if ifdOffset == 0 {
		return nil, h, errors.New("file contains no IFDs")
	}
	if ifdOffset >= size {
		return nil, h, fmt.Errorf("IFD offset %d is past the end of the %d bytes file", ifdOffset, size)
	}
	if _, err := r.Seek(int64(ifdOffset), io.SeekStart); err != nil {
		return nil, h, err
	}

	var numEntries uint64
	if h.isBigTIFF {
		if err := binary.Read(r, h.byteOrder, &numEntries); err != nil {
			return nil, h, err
		}
	} else {
		var numEntries16 uint16
		if err := binary.Read(r, h.byteOrder, &numEntries16); err != nil {
			return nil, h, err
		}
		numEntries = uint64(numEntries16)
	}

	entryLen := 12
	if h.isBigTIFF {
		entryLen = 20
	}
	if numEntries > (size-ifdOffset)/uint64(entryLen) {
		return nil, h, fmt.Errorf("IFD declares %d entries, more than the file can hold", numEntries)
	}
	ifdBlock := make([]byte, entryLen*int(numEntries))
	if _, err := io.ReadFull(r, ifdBlock); err != nil {
		return nil, h, fmt.Errorf("failed to read IFD block: %w", err)
	}
	ifdReader := bytes.NewReader(ifdBlock)

	inlineDataSize := uint64(4)
	if h.isBigTIFF {
		inlineDataSize = 8
	}

	for i := uint64(0); i < numEntries; i++ {
		var entry iFDEntry
		var tag, ftype uint16
		binary.Read(ifdReader, h.byteOrder, &tag)
		binary.Read(ifdReader, h.byteOrder, &ftype)
		entry.Tag = Tag(tag)
		entry.FType = fieldType(ftype)
		if entry.FType.bytes() == 0 {
			logger.Warn("skipping tag with unrecognized field type", "tag", entry.Tag, "type", uint16(entry.FType))
			ifdReader.Seek(int64(entryLen-4), io.SeekCurrent)
			continue
		}

		offsetBytes := make([]byte, 8)
		if h.isBigTIFF {
			binary.Read(ifdReader, h.byteOrder, &entry.Count)
			ifdReader.Read(offsetBytes)
			entry.ValueOffset = h.byteOrder.Uint64(offsetBytes)
		} else {
			var count32, offset32 uint32
			binary.Read(ifdReader, h.byteOrder, &count32)
			binary.Read(ifdReader, h.byteOrder, &offset32)
			entry.Count = uint64(count32)
			entry.ValueOffset = uint64(offset32)
			// keep the raw 4 bytes, values that fit are stored inline
			h.byteOrder.PutUint32(offsetBytes, offset32)
		}

		if totalBytes := uint64(entry.FType.bytes()) * entry.Count; totalBytes <= inlineDataSize {
			entry.ValueBytes = offsetBytes[:totalBytes]
		}

		tagvalue, err := entry.value(r, h.byteOrder, size)
		if err != nil {
			return nil, h, fmt.Errorf("tag %s: %w", entry.Tag, err)
		}
		tags[entry.Tag] = *tagvalue
	}
	return tags, h, nil
}

// value reads the entry data, rejecting counts that do not fit in a file of size bytes.
func (ifd *iFDEntry) value(r io.ReadSeeker, byteOrder binary.ByteOrder, size uint64) (*tagData, error) {
	t := tagData{fType: ifd.FType, length: uint32(ifd.Count)}
	var reader io.Reader
	if len(ifd.ValueBytes) > 0 {
		reader = bytes.NewReader(ifd.ValueBytes)
	} else {
		if ifd.Count > 0 && (ifd.ValueOffset > size || ifd.Count > (size-ifd.ValueOffset)/uint64(ifd.FType.bytes())) {
			return nil, fmt.Errorf("%d values at offset %d run past the end of the %d bytes file", ifd.Count, ifd.ValueOffset, size)
		}
		reader = io.NewSectionReader(r.(io.ReaderAt), int64(ifd.ValueOffset), int64(ifd.FType.bytes())*int64(ifd.Count))
	}
	var err error
	switch ifd.FType {
	case ASCII:
		p := make([]uint8, ifd.Count)
		err = binary.Read(reader, byteOrder, p)
		t.asciiData = string(bytes.Trim(p, "\x00"))
	case SHORT:
		t.shortData = make([]uint16, ifd.Count)
		err = binary.Read(reader, byteOrder, t.shortData)
	case LONG:
		t.longData = make([]uint32, ifd.Count)
		err = binary.Read(reader, byteOrder, t.longData)
	case FLOAT:
		t.floatData = make([]float32, ifd.Count)
		err = binary.Read(reader, byteOrder, t.floatData)
	case DOUBLE:
		t.doubleData = make([]float64, ifd.Count)
		err = binary.Read(reader, byteOrder, t.doubleData)
	case LONG8, IFD8:
		t.uint64Data = make([]uint64, ifd.Count)
		err = binary.Read(reader, byteOrder, t.uint64Data)
	default:
		// BYTE and types no reader needs are kept as raw bytes
		t.byteData = make([]uint8, uint64(ifd.FType.bytes())*ifd.Count)
		_, err = io.ReadFull(reader, t.byteData)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// getTileData returns the decoded samples of a tile, from the cache when possible.
func (g *GeoTIFF) getTileData(tileNum int) (any, error) {
	key := strconv.Itoa(tileNum)
	item := g.tileCache.Get(key)
	if item != nil && !item.Expired() {
		return item.Value(), nil
	}

	v, err, _ := g.inflightData.Do(key, func() (interface{}, error) {
		raw, err := g.fetchAndDecompressTile(tileNum)
		if err != nil {
			return nil, err
		}
		data, err := g.decodeTile(raw)
		if err != nil {
			return nil, err
		}
		g.tileCache.Set(key, data, g.cacheTTL)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// decodeTile turns decompressed tile bytes into a typed slice of tileWidth*tileLength samples.
func (g *GeoTIFF) decodeTile(raw []byte) (any, error) {
	n := int(g.tileWidth) * int(g.tileLength)
	if need := n * g.pixelType.Size(); len(raw) < need {
		return nil, fmt.Errorf("tile holds %d bytes, want %d", len(raw), need)
	}
	w, h := g.tileWidth, g.tileLength
	predict := g.predictor == PredictorHorizontal
	r := bytes.NewReader(raw)
	switch g.pixelType {
	case raster.Byte:
		data := append([]uint8(nil), raw[:n]...)
		if predict {
			undoHorizontalPrediction(data, w, h)
		}
		return data, nil
	case raster.UInt16:
		data := make([]uint16, n)
		if err := binary.Read(r, g.byteOrder, data); err != nil {
			return nil, err
		}
		if predict {
			undoHorizontalPrediction(data, w, h)
		}
		return data, nil
	case raster.Int16:
		data := make([]int16, n)
		if err := binary.Read(r, g.byteOrder, data); err != nil {
			return nil, err
		}
		if predict {
			undoHorizontalPrediction(data, w, h)
		}
		return data, nil
	case raster.UInt32:
		data := make([]uint32, n)
		if err := binary.Read(r, g.byteOrder, data); err != nil {
			return nil, err
		}
		if predict {
			undoHorizontalPrediction(data, w, h)
		}
		return data, nil
	case raster.Int32:
		data := make([]int32, n)
		if err := binary.Read(r, g.byteOrder, data); err != nil {
			return nil, err
		}
		if predict {
			undoHorizontalPrediction(data, w, h)
		}
		return data, nil
	case raster.Float32:
		data := make([]float32, n)
		if err := binary.Read(r, g.byteOrder, data); err != nil {
			return nil, err
		}
		return data, nil
	case raster.Float64:
		data := make([]float64, n)
		if err := binary.Read(r, g.byteOrder, data); err != nil {
			return nil, err
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported pixel type %s", g.pixelType)
	}
}

// fetchAndDecompressTile performs the I/O to read and decompress a single tile.
func (g *GeoTIFF) fetchAndDecompressTile(tileNum int) ([]byte, error) {
	if tileNum < 0 || tileNum >= len(g.tileOffsets) {
		return nil, fmt.Errorf("tile index %d out of bounds", tileNum)
	}

	offset := g.tileOffsets[tileNum]
	byteCount := g.tileByteCounts[tileNum]
	if byteCount == 0 {
		// sparse tile, GDAL writes nothing for tiles holding only nodata
		return g.sparseTile(), nil
	}
	tileBytes := make([]byte, byteCount)
	if _, err := g.reader.(io.ReaderAt).ReadAt(tileBytes, int64(offset)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read tile %d from source: %w", tileNum, err)
	}

	switch g.compression {
	case Uncompressed:
		return tileBytes, nil
	case DEFLATE, AdobeDeflate:
		z, err := zlib.NewReader(bytes.NewReader(tileBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader for tile: %w", err)
		}
		defer z.Close()
		out, err := io.ReadAll(z)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress tile data: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %d", g.compression)
	}
}

// sparseTile returns the encoded bytes of a tile filled with nodata, or zeros.
// It is produced already decompressed and without prediction.
func (g *GeoTIFF) sparseTile() []byte {
	n := int(g.tileWidth) * int(g.tileLength)
	size := g.pixelType.Size()
	out := make([]byte, n*size)
	if !g.hasNoData || g.noData == 0 {
		return out
	}
	one, err := raster.NewArray(g.pixelType, 1, 1, 1)
	if err != nil {
		return out
	}
	setSample(one.Data, g.noData)
	var buf bytes.Buffer
	binary.Write(&buf, g.byteOrder, one.Data)
	for i := 0; i < n; i++ {
		copy(out[i*size:], buf.Bytes())
	}
	if g.predictor == PredictorHorizontal {
		// the decoder integrates rows, so only the first sample of each row keeps the value
		for row := 0; row < int(g.tileLength); row++ {
			start := row * int(g.tileWidth) * size
			clear(out[start+size : start+int(g.tileWidth)*size])
		}
	}
	return out
}

func setSample(data any, v float64) {
	switch d := data.(type) {
	case []uint8:
		d[0] = uint8(v)
	case []uint16:
		d[0] = uint16(v)
	case []int16:
		d[0] = int16(v)
	case []uint32:
		d[0] = uint32(v)
	case []int32:
		d[0] = int32(v)
	case []float32:
		d[0] = float32(v)
	case []float64:
		d[0] = v
	}
}

// prefetchNeighbors fetches the 8 tiles around tileNum but does not
// trigger any further prefetching.
func (g *GeoTIFF) prefetchNeighbors(tileNum int) {
	tileY := tileNum / g.tilesAcross
	tileX := tileNum % g.tilesAcross

	var wg sync.WaitGroup
	for j := -1; j <= 1; j++ {
		for i := -1; i <= 1; i++ {
			if i == 0 && j == 0 {
				continue
			}
			neighborX := tileX + i
			neighborY := tileY + j
			if neighborX >= 0 && neighborX < g.tilesAcross && neighborY >= 0 && neighborY < g.tilesDown {
				wg.Add(1)
				go func(num int) {
					defer wg.Done()
					select {
					case <-g.done:
						return
					default:
					}
					if _, err := g.getTileData(num); err != nil {
						g.logger.Debug("tile prefetch failed", "tile", num, "error", err)
					}
				}(neighborY*g.tilesAcross + neighborX)
			}
		}
	}
	wg.Wait()
}

func (g *GeoTIFF) getUint(tag Tag) (uint64, bool) {
	t, ok := g.tags[tag]
	if !ok {
		return 0, false
	}
	if t.fType == SHORT && len(t.shortData) > 0 {
		return uint64(t.shortData[0]), true
	}
	if t.fType == LONG && len(t.longData) > 0 {
		return uint64(t.longData[0]), true
	}
	return 0, false
}

func (g *GeoTIFF) get64bitSlice(tag Tag) ([]uint64, bool) {
	t, ok := g.tags[tag]
	if !ok {
		return nil, false
	}
	switch t.fType {
	case LONG8, IFD8:
		return t.uint64Data, true
	case LONG:
		res := make([]uint64, len(t.longData))
		for i, v := range t.longData {
			res[i] = uint64(v)
		}
		return res, true
	case SHORT:
		res := make([]uint64, len(t.shortData))
		for i, v := range t.shortData {
			res[i] = uint64(v)
		}
		return res, true
	}
	return nil, false
}

func (td tagData) doubleDataValue() ([]float64, bool) {
	if td.fType == DOUBLE {
		return td.doubleData, true
	}
	return nil, false
}

type integer interface {
	~uint8 | ~uint16 | ~int16 | ~uint32 | ~int32
}

// undoHorizontalPrediction reverses the horizontal differencing predictor.
// It must be called on the decoded samples after decompression.
func undoHorizontalPrediction[T integer](data []T, tileWidth, tileHeight uint32) {
	for y := 0; y < int(tileHeight); y++ {
		rowStart := y * int(tileWidth)
		if rowStart+int(tileWidth) > len(data) {
			break
		}
		for x := 1; x < int(tileWidth); x++ {
			data[rowStart+x] += data[rowStart+x-1]
		}
	}
}
