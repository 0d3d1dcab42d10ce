// Package rastertest provides an in-memory raster backend for tests.
package rastertest

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/akhenakh/rasterblock/raster"
)

// ErrInjected is returned by operations forced to fail with Memory.FailOn.
var ErrInjected = errors.New("injected failure")

// Memory is a raster.Backend keeping datasets in a map keyed by path.
// Creating a path twice replaces the previous dataset.
type Memory struct {
	mu     sync.Mutex
	files  map[string]*store
	open   int
	opened int
	fail   map[string]error
}

type store struct {
	width, height, bands int
	pixelType            raster.PixelType
	gt                   raster.GeoTransform
	projection           string
	noData               []raster.NoData
	samples              [][]float64
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string]*store), fail: make(map[string]error)}
}

// FailOn makes every later operation op ("open", "create", "read", "write", "close")
// on path fail with ErrInjected. An empty path matches every path.
func (m *Memory) FailOn(op, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op+"|"+path] = ErrInjected
}

func (m *Memory) failure(op, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[op+"|"+path]; ok {
		return err
	}
	return m.fail[op+"|"]
}

// Put stores a dataset built from props and per-band samples (row-major, one slice per band).
func (m *Memory) Put(path string, props raster.Properties, samples [][]float64) {
	s := &store{
		width:      props.Width(),
		height:     props.Height(),
		bands:      props.Bands(),
		pixelType:  props.PixelType(),
		gt:         props.GeoTransform(),
		projection: props.Projection(),
		noData:     props.NoData(),
		samples:    make([][]float64, props.Bands()),
	}
	for b := range s.samples {
		s.samples[b] = make([]float64, s.width*s.height)
		if b < len(samples) {
			copy(s.samples[b], samples[b])
		}
	}
	m.mu.Lock()
	m.files[path] = s
	m.mu.Unlock()
}

// Samples returns a copy of band (1-based) of the dataset stored at path.
func (m *Memory) Samples(path string, band int) ([]float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.files[path]
	if !ok || band < 1 || band > s.bands {
		return nil, false
	}
	return append([]float64(nil), s.samples[band-1]...), true
}

// Stored returns the properties of the dataset stored at path.
func (m *Memory) Stored(path string) (raster.Properties, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.files[path]
	if !ok {
		return raster.Properties{}, false
	}
	p, err := raster.NewProperties(s.width, s.height, s.bands, s.gt, s.projection, s.pixelType, s.noData)
	return p, err == nil
}

// Paths lists the stored datasets, sorted.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// OpenHandles reports how many handles are currently open.
func (m *Memory) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Opened reports how many times Open succeeded.
func (m *Memory) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *Memory) Open(path string) (raster.Dataset, error) {
	if err := m.failure("open", path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	m.open++
	m.opened++
	return &dataset{m: m, path: path, s: s, readOnly: true}, nil
}

func (m *Memory) Create(path string, width, height, bands int, pt raster.PixelType) (raster.Dataset, error) {
	if err := m.failure("create", path); err != nil {
		return nil, err
	}
	s := &store{
		width:     width,
		height:    height,
		bands:     bands,
		pixelType: pt,
		gt:        raster.IdentityGeoTransform,
		noData:    make([]raster.NoData, bands),
		samples:   make([][]float64, bands),
	}
	for b := range s.samples {
		s.samples[b] = make([]float64, width*height)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if path != "" {
		m.files[path] = s
	}
	m.open++
	return &dataset{m: m, path: path, s: s}, nil
}

type dataset struct {
	m        *Memory
	path     string
	s        *store
	readOnly bool
	closed   bool
}

func (d *dataset) Width() int { return d.s.width }
func (d *dataset) Height() int { return d.s.height }
func (d *dataset) BandCount() int { return d.s.bands }

func (d *dataset) GeoTransform() (raster.GeoTransform, error) { return d.s.gt, nil }
func (d *dataset) Projection() string { return d.s.projection }
func (d *dataset) BandPixelType(int) raster.PixelType { return d.s.pixelType }

func (d *dataset) BandNoData(band int) (float64, bool) {
	if band < 1 || band > d.s.bands {
		return 0, false
	}
	nd := d.s.noData[band-1]
	return nd.Value, nd.Set
}

func (d *dataset) writable() error {
	if d.readOnly {
		return raster.ErrReadOnly
	}
	return d.m.failure("write", d.path)
}

func (d *dataset) SetGeoTransform(gt raster.GeoTransform) error {
	if err := d.writable(); err != nil {
		return err
	}
	d.s.gt = gt
	return nil
}

func (d *dataset) SetProjection(projection string) error {
	if err := d.writable(); err != nil {
		return err
	}
	d.s.projection = projection
	return nil
}

func (d *dataset) SetBandNoData(band int, value float64) error {
	if err := d.writable(); err != nil {
		return err
	}
	if band < 1 || band > d.s.bands {
		return fmt.Errorf("no band %d", band)
	}
	d.s.noData[band-1] = raster.NoDataValue(value)
	return nil
}

func (d *dataset) ReadWindow(xOff, yOff, width, height, band int) (raster.Array, error) {
	if err := d.m.failure("read", d.path); err != nil {
		return raster.Array{}, err
	}
	first, last := 1, d.s.bands
	if band > 0 {
		first, last = band, band
	}
	a, err := raster.NewArray(d.s.pixelType, last-first+1, width, height)
	if err != nil {
		return raster.Array{}, err
	}
	i := 0
	for b := first; b <= last; b++ {
		src := d.s.samples[b-1]
		for y := yOff; y < yOff+height; y++ {
			for x := xOff; x < xOff+width; x++ {
				setFloat64(a, i, src[y*d.s.width+x])
				i++
			}
		}
	}
	return a, nil
}

func (d *dataset) WriteArray(a raster.Array, band int) error {
	if err := d.writable(); err != nil {
		return err
	}
	first := 1
	if band > 0 {
		first = band
	}
	for b := 0; b < a.Bands; b++ {
		dst := d.s.samples[first+b-1]
		for y := 0; y < a.Height; y++ {
			for x := 0; x < a.Width; x++ {
				dst[y*d.s.width+x] = a.Float64At(b+1, x, y)
			}
		}
	}
	return nil
}

// Polygonize counts 4-connected regions of equal value, skipping masked and nodata pixels.
func (d *dataset) Polygonize(opts raster.PolygonizeOptions) (raster.VectorLayer, error) {
	if opts.Path != "" {
		return raster.VectorLayer{}, errors.New("memory backend keeps vector layers in memory only")
	}
	w, h := d.s.width, d.s.height
	src := d.s.samples[opts.Band-1]
	nd := d.s.noData[opts.Band-1]
	skip := func(i int) bool {
		if nd.Set && src[i] == nd.Value {
			return true
		}
		return opts.Mask != nil && opts.Mask.Float64At(1, i%w, i/w) == 0
	}
	seen := make([]bool, w*h)
	features := 0
	var stack []int
	for start := range src {
		if seen[start] || skip(start) {
			continue
		}
		features++
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= w || n[1] >= h {
					continue
				}
				j := n[1]*w + n[0]
				if seen[j] || skip(j) || src[j] != src[i] {
					continue
				}
				seen[j] = true
				stack = append(stack, j)
			}
		}
	}
	return raster.VectorLayer{Name: opts.LayerName, Field: opts.FieldName, Features: features}, nil
}

func (d *dataset) Close() error {
	if d.closed {
		return errors.New("handle closed twice")
	}
	d.closed = true
	d.m.mu.Lock()
	d.m.open--
	d.m.mu.Unlock()
	return d.m.failure("close", d.path)
}

func setFloat64(a raster.Array, i int, v float64) {
	switch s := a.Data.(type) {
	case []uint8:
		s[i] = uint8(v)
	case []uint16:
		s[i] = uint16(v)
	case []int16:
		s[i] = int16(v)
	case []uint32:
		s[i] = uint32(v)
	case []int32:
		s[i] = int32(v)
	case []float32:
		s[i] = float32(v)
	case []float64:
		s[i] = v
	}
}
