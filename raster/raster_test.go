package raster_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/akhenakh/rasterblock/internal/rastertest"
	"github.com/akhenakh/rasterblock/raster"
)

// newSource stores a width x height Int16 raster whose band b pixel (x, y) is b*10000 + y*width + x.
func newSource(t *testing.T, m *rastertest.Memory, path string, width, height, bands int) raster.Properties {
	t.Helper()
	props, err := raster.NewProperties(width, height, bands, raster.GeoTransform{10, 1, 0, 20, 0, -1}, "EPSG:4326", raster.Int16, nil)
	if err != nil {
		t.Fatalf("NewProperties: %v", err)
	}
	samples := make([][]float64, bands)
	for b := range samples {
		samples[b] = make([]float64, width*height)
		for i := range samples[b] {
			samples[b][i] = float64((b+1)*10000 + i)
		}
	}
	m.Put(path, props.WithNoData(1, raster.NoDataValue(-1)), samples)
	return props
}

func TestOpen(t *testing.T) {
	m := rastertest.NewMemory()
	newSource(t, m, "src.tif", 4, 3, 2)

	r, err := raster.Open(m, "src.tif")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	p := r.Properties()
	if p.Width() != 4 || p.Height() != 3 || p.Bands() != 2 || p.PixelType() != raster.Int16 {
		t.Errorf("unexpected properties %dx%dx%d %v", p.Width(), p.Height(), p.Bands(), p.PixelType())
	}
	if v, ok := p.BandNoData(1); !ok || v != -1 {
		t.Errorf("band 1 nodata: got (%v, %v), want (-1, true)", v, ok)
	}
	if _, ok := p.BandNoData(2); ok {
		t.Errorf("band 2 must have no nodata")
	}
	if r.Path() != "src.tif" {
		t.Errorf("Path: got %q", r.Path())
	}
}

func TestOpenMissing(t *testing.T) {
	m := rastertest.NewMemory()
	_, err := raster.Open(m, "missing.tif")
	if !errors.Is(err, raster.ErrBackend) {
		t.Fatalf("got %v, want a backend error", err)
	}
}

func TestRead(t *testing.T) {
	m := rastertest.NewMemory()
	newSource(t, m, "src.tif", 4, 3, 2)
	r, err := raster.Open(m, "src.tif")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	testCases := []struct {
		name      string
		opts      []raster.ReadOption
		wantBands int
		wantW     int
		wantH     int
		wantFirst int16
		wantLast  int16
	}{
		{name: "whole dataset", wantBands: 2, wantW: 4, wantH: 3, wantFirst: 10000, wantLast: 20011},
		{name: "single band", opts: []raster.ReadOption{raster.Band(2)}, wantBands: 1, wantW: 4, wantH: 3, wantFirst: 20000, wantLast: 20011},
		{name: "window", opts: []raster.ReadOption{raster.Window(1, 1, 2, 2)}, wantBands: 2, wantW: 2, wantH: 2, wantFirst: 10005, wantLast: 20010},
		{name: "band window", opts: []raster.ReadOption{raster.Band(1), raster.Window(3, 2, 1, 1)}, wantBands: 1, wantW: 1, wantH: 1, wantFirst: 10011, wantLast: 10011},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := r.Read(tc.opts...)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if a.Bands != tc.wantBands || a.Width != tc.wantW || a.Height != tc.wantH {
				t.Fatalf("got shape %dx%dx%d, want %dx%dx%d", a.Bands, a.Width, a.Height, tc.wantBands, tc.wantW, tc.wantH)
			}
			data, ok := a.Data.([]int16)
			if !ok {
				t.Fatalf("got %T, want []int16", a.Data)
			}
			if data[0] != tc.wantFirst || data[len(data)-1] != tc.wantLast {
				t.Errorf("got first %d last %d, want %d %d", data[0], data[len(data)-1], tc.wantFirst, tc.wantLast)
			}
		})
	}
}

func TestReadInvalid(t *testing.T) {
	m := rastertest.NewMemory()
	newSource(t, m, "src.tif", 4, 3, 1)
	r, err := raster.Open(m, "src.tif")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for name, opts := range map[string][]raster.ReadOption{
		"band out of range": {raster.Band(2)},
		"negative offset":   {raster.Window(-1, 0, 1, 1)},
		"window too wide":   {raster.Window(2, 0, 3, 1)},
		"window too high":   {raster.Window(0, 1, 1, 3)},
		"empty window":      {raster.Window(0, 0, 0, 1)},
		"negative band":     {raster.Band(-1)},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := r.Read(opts...); !errors.Is(err, raster.ErrConfiguration) {
				t.Errorf("got %v, want a configuration error", err)
			}
		})
	}
}

func TestCreateAndWrite(t *testing.T) {
	m := rastertest.NewMemory()
	props, err := raster.NewProperties(3, 2, 2, raster.GeoTransform{5, 2, 0, 9, 0, -2}, "EPSG:3857", raster.Float32,
		[]raster.NoData{{}, raster.NoDataValue(7)})
	if err != nil {
		t.Fatalf("NewProperties: %v", err)
	}

	r, err := raster.Create(m, "out.tif", props)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stored, ok := m.Stored("out.tif")
	if !ok {
		t.Fatalf("dataset not stored")
	}
	if stored.GeoTransform() != props.GeoTransform() || stored.Projection() != "EPSG:3857" {
		t.Errorf("metadata not applied: %v %q", stored.GeoTransform(), stored.Projection())
	}
	if _, ok := stored.BandNoData(1); ok {
		t.Errorf("unset nodata must stay unset")
	}
	if v, ok := stored.BandNoData(2); !ok || v != 7 {
		t.Errorf("band 2 nodata: got (%v, %v)", v, ok)
	}

	// a 2-D array goes to band 1
	if err := r.Write(raster.Array{Bands: 1, Width: 3, Height: 2, Data: []float32{1, 2, 3, 4, 5, 6}}); err != nil {
		t.Fatalf("Write 2-D: %v", err)
	}
	if err := r.WriteBand(2, raster.Array{Bands: 1, Width: 3, Height: 2, Data: []uint8{9, 9, 9, 9, 9, 8}}); err != nil {
		t.Fatalf("WriteBand: %v", err)
	}
	got1, _ := m.Samples("out.tif", 1)
	got2, _ := m.Samples("out.tif", 2)
	if got1[5] != 6 || got2[5] != 8 {
		t.Errorf("got band 1 %v band 2 %v", got1, got2)
	}

	// a 3-D array covers every band
	full, err := raster.NewArray(raster.Float32, 2, 3, 2)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	full.Data.([]float32)[11] = 42
	if err := r.Write(full); err != nil {
		t.Fatalf("Write 3-D: %v", err)
	}
	got2, _ = m.Samples("out.tif", 2)
	if got2[5] != 42 {
		t.Errorf("3-D write: band 2 is %v", got2)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close must be a no-op, got %v", err)
	}
	if n := m.OpenHandles(); n != 0 {
		t.Errorf("%d handles left open", n)
	}
}

func TestWriteShapeErrors(t *testing.T) {
	m := rastertest.NewMemory()
	props, err := raster.NewProperties(2, 2, 2, raster.IdentityGeoTransform, "", raster.Byte, nil)
	if err != nil {
		t.Fatalf("NewProperties: %v", err)
	}
	r, err := raster.Create(m, "", props)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	testCases := []struct {
		name  string
		band  int
		array raster.Array
	}{
		{name: "wrong width", array: raster.Array{Bands: 1, Width: 3, Height: 2, Data: make([]uint8, 6)}},
		{name: "wrong band count", array: raster.Array{Bands: 3, Width: 2, Height: 2, Data: make([]uint8, 12)}},
		{name: "short buffer", array: raster.Array{Bands: 1, Width: 2, Height: 2, Data: make([]uint8, 3)}},
		{name: "unsupported buffer", array: raster.Array{Bands: 1, Width: 2, Height: 2, Data: []string{"a", "b", "c", "d"}}},
		{name: "3-D into one band", band: 1, array: raster.Array{Bands: 2, Width: 2, Height: 2, Data: make([]uint8, 8)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var err error
			if tc.band > 0 {
				err = r.WriteBand(tc.band, tc.array)
			} else {
				err = r.Write(tc.array)
			}
			if !errors.Is(err, raster.ErrDataShape) {
				t.Errorf("got %v, want a data shape error", err)
			}
		})
	}

	if err := r.WriteBand(3, raster.Array{Bands: 1, Width: 2, Height: 2, Data: make([]uint8, 4)}); !errors.Is(err, raster.ErrConfiguration) {
		t.Errorf("band out of range: got %v, want a configuration error", err)
	}
}

func TestCreateInMemory(t *testing.T) {
	m := rastertest.NewMemory()
	props, err := raster.NewProperties(2, 2, 1, raster.IdentityGeoTransform, "", raster.Byte, nil)
	if err != nil {
		t.Fatalf("NewProperties: %v", err)
	}
	r, err := raster.Create(m, "", props)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()
	if len(m.Paths()) != 0 {
		t.Errorf("in-memory raster must not be stored, got %v", m.Paths())
	}
}

func TestCreateFailureClosesHandle(t *testing.T) {
	m := rastertest.NewMemory()
	m.FailOn("write", "out.tif")
	props, err := raster.NewProperties(2, 2, 1, raster.IdentityGeoTransform, "", raster.Byte, nil)
	if err != nil {
		t.Fatalf("NewProperties: %v", err)
	}
	if _, err := raster.Create(m, "out.tif", props); !errors.Is(err, raster.ErrBackend) {
		t.Fatalf("got %v, want a backend error", err)
	}
	if n := m.OpenHandles(); n != 0 {
		t.Errorf("%d handles left open", n)
	}
}

func TestCopyPropertiesRoundTrip(t *testing.T) {
	m := rastertest.NewMemory()
	newSource(t, m, "src.tif", 5, 4, 1)
	src, err := raster.Open(m, "src.tif")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	a, err := src.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	dst, err := raster.Create(m, "copy.tif", src.CopyProperties())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := dst.Write(a); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := dst.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want, _ := m.Samples("src.tif", 1)
	got, _ := m.Samples("copy.tif", 1)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pixel %d: got %v, want %v", i, got[i], want[i])
		}
	}
	cp, _ := m.Stored("copy.tif")
	if cp.Extent() != src.Properties().Extent() {
		t.Errorf("extent: got %v, want %v", cp.Extent(), src.Properties().Extent())
	}
}

func TestReadOnlyBackend(t *testing.T) {
	m := rastertest.NewMemory()
	newSource(t, m, "src.tif", 2, 2, 1)
	r, err := raster.Open(m, "src.tif")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	err = r.Write(raster.Array{Bands: 1, Width: 2, Height: 2, Data: make([]int16, 4)})
	if !errors.Is(err, raster.ErrReadOnly) || !errors.Is(err, raster.ErrBackend) {
		t.Errorf("got %v, want a read-only backend error", err)
	}
}

func TestToVector(t *testing.T) {
	m := rastertest.NewMemory()
	props, err := raster.NewProperties(3, 2, 1, raster.IdentityGeoTransform, "EPSG:4326", raster.Byte, nil)
	if err != nil {
		t.Fatalf("NewProperties: %v", err)
	}
	// two regions of 1, one region of 2
	m.Put("mask.tif", props, [][]float64{{1, 2, 1, 1, 2, 1}})
	r, err := raster.Open(m, "mask.tif")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	layer, err := r.ToVector("", nil)
	if err != nil {
		t.Fatalf("ToVector: %v", err)
	}
	if layer.Features != 3 || layer.Field != raster.ValueField {
		t.Errorf("got %+v, want 3 features with field %q", layer, raster.ValueField)
	}
	if _, err := uuid.Parse(layer.Name); err != nil {
		t.Errorf("layer name %q is not a UUID: %v", layer.Name, err)
	}

	mask := raster.Array{Bands: 1, Width: 3, Height: 2, Data: []uint8{1, 0, 0, 1, 0, 0}}
	layer, err = r.ToVector("", &mask)
	if err != nil {
		t.Fatalf("ToVector with mask: %v", err)
	}
	if layer.Features != 1 {
		t.Errorf("masked: got %d features, want 1", layer.Features)
	}

	bad := raster.Array{Bands: 1, Width: 2, Height: 2, Data: make([]uint8, 4)}
	if _, err := r.ToVector("", &bad); !errors.Is(err, raster.ErrDataShape) {
		t.Errorf("bad mask: got %v, want a data shape error", err)
	}
}

func TestClosedRaster(t *testing.T) {
	m := rastertest.NewMemory()
	newSource(t, m, "src.tif", 2, 2, 1)
	r, err := raster.Open(m, "src.tif")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Read(); !errors.Is(err, raster.ErrBackend) {
		t.Errorf("read after close: got %v, want a backend error", err)
	}
}
