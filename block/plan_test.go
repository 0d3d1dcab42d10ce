package block

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/akhenakh/rasterblock/raster"
)

func sourceProperties(t *testing.T, width, height int) raster.Properties {
	t.Helper()
	p, err := raster.NewProperties(width, height, 3, raster.GeoTransform{-180, 0.25, 0, 90, 0, -0.25}, "EPSG:4326", raster.UInt16,
		[]raster.NoData{raster.NoDataValue(0), {}, raster.NoDataValue(65535)})
	if err != nil {
		t.Fatalf("NewProperties: %v", err)
	}
	return p
}

func TestStep(t *testing.T) {
	testCases := []struct {
		blockSize int
		overlap   float64
		want      int
		wantErr   bool
	}{
		{blockSize: 256, overlap: 0, want: 256},
		{blockSize: 128, overlap: 50, want: 64},
		{blockSize: 100, overlap: 33.3, want: 66},
		{blockSize: 10, overlap: 99, want: 0, wantErr: true},
		{blockSize: 1000, overlap: 75, want: 250},
		{blockSize: 8, overlap: 87.5, want: 1},
		{blockSize: math.MaxInt, overlap: 0, want: math.MaxInt},
		{blockSize: math.MaxInt - 1023, overlap: 0, want: math.MaxInt - 1023},
		{blockSize: 256, overlap: 100, wantErr: true},
		{blockSize: 256, overlap: 120, wantErr: true},
		{blockSize: 256, overlap: -1, wantErr: true},
		{blockSize: 256, overlap: math.NaN(), wantErr: true},
		{blockSize: 0, overlap: 0, wantErr: true},
		{blockSize: -8, overlap: 0, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d/%v", tc.blockSize, tc.overlap), func(t *testing.T) {
			got, err := Step(tc.blockSize, tc.overlap)
			if tc.wantErr {
				if !errors.Is(err, raster.ErrConfiguration) {
					t.Fatalf("got (%d, %v), want a configuration error", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got step %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPlanScenario(t *testing.T) {
	tiles, err := Plan(sourceProperties(t, 1000, 1000), 256, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(tiles) != 16 {
		t.Fatalf("got %d tiles, want 16", len(tiles))
	}

	last := tiles[15]
	if last.ColID() != 4 || last.RowID() != 4 {
		t.Errorf("last tile id: got (%d,%d), want (4,4)", last.ColID(), last.RowID())
	}
	if last.XOffset() != 768 || last.YOffset() != 768 {
		t.Errorf("last tile offset: got (%d,%d), want (768,768)", last.XOffset(), last.YOffset())
	}
	if last.Width() != 232 || last.Height() != 232 {
		t.Errorf("last tile size: got %dx%d, want 232x232", last.Width(), last.Height())
	}
	if got := last.FileName(); got != "0004_0004.tif" {
		t.Errorf("last tile name: got %q, want %q", got, "0004_0004.tif")
	}
}

func TestPlanColumnMajor(t *testing.T) {
	tiles, err := Plan(sourceProperties(t, 300, 200), 100, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := []string{"0001_0001", "0001_0002", "0002_0001", "0002_0002", "0003_0001", "0003_0002"}
	if len(tiles) != len(want) {
		t.Fatalf("got %d tiles, want %d", len(tiles), len(want))
	}
	for i, tile := range tiles {
		if got := tile.Name(""); got != want[i] {
			t.Errorf("tile %d: got %q, want %q", i, got, want[i])
		}
	}
}

func TestPlanSingleTile(t *testing.T) {
	tiles, err := Plan(sourceProperties(t, 100, 100), 100, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(tiles) != 1 {
		t.Fatalf("got %d tiles, want 1", len(tiles))
	}
	tile := tiles[0]
	if tile.XOffset() != 0 || tile.YOffset() != 0 || tile.Width() != 100 || tile.Height() != 100 {
		t.Errorf("got %v, want the whole raster", tile)
	}
	if tile.Properties().Extent() != sourceProperties(t, 100, 100).Extent() {
		t.Errorf("single tile extent %v differs from the source", tile.Properties().Extent())
	}
}

func TestPlanOverlap(t *testing.T) {
	tiles, err := Plan(sourceProperties(t, 300, 300), 128, 50)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	// ceil(300/64) = 5 per axis
	if len(tiles) != 25 {
		t.Fatalf("got %d tiles, want 25", len(tiles))
	}
	// tiles[0] is (1,1), tiles[1] is (1,2), tiles[5] is (2,1)
	below, right := tiles[1], tiles[5]
	if overlap := tiles[0].YOffset() + tiles[0].Height() - below.YOffset(); overlap != 64 {
		t.Errorf("vertical overlap: got %d, want 64", overlap)
	}
	if overlap := tiles[0].XOffset() + tiles[0].Width() - right.XOffset(); overlap != 64 {
		t.Errorf("horizontal overlap: got %d, want 64", overlap)
	}
}

func TestPlanErrors(t *testing.T) {
	testCases := []struct {
		name      string
		props     raster.Properties
		blockSize int
		overlap   float64
	}{
		{name: "full overlap", props: sourceProperties(t, 100, 100), blockSize: 10, overlap: 100},
		{name: "zero block", props: sourceProperties(t, 100, 100), blockSize: 0},
		{name: "degenerate step", props: sourceProperties(t, 100, 100), blockSize: 1, overlap: 50},
		{name: "empty raster", props: raster.Properties{}, blockSize: 10},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tiles, err := Plan(tc.props, tc.blockSize, tc.overlap)
			if !errors.Is(err, raster.ErrConfiguration) {
				t.Fatalf("got %v, want a configuration error", err)
			}
			if tiles != nil {
				t.Errorf("got %d tiles on error", len(tiles))
			}
		})
	}
}

var planCases = []struct {
	width, height, blockSize int
	overlap                  float64
}{
	{1000, 1000, 256, 0},
	{1000, 1000, 256, 25},
	{513, 77, 64, 0},
	{513, 77, 64, 10},
	{1, 1, 256, 0},
	{255, 257, 256, 0},
	{300, 300, 128, 50},
	{97, 131, 13, 33.3},
	{64, 64, 8, 87.5},
	{2000, 2000, math.MaxInt - 1023, 0},
	{2000, 10, math.MaxInt - 1023, 0},
	{10, 2000, math.MaxInt, 25},
}

func TestPlanCoverage(t *testing.T) {
	for _, pc := range planCases {
		t.Run(fmt.Sprintf("%dx%d/%d/%v", pc.width, pc.height, pc.blockSize, pc.overlap), func(t *testing.T) {
			tiles, err := Plan(sourceProperties(t, pc.width, pc.height), pc.blockSize, pc.overlap)
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			g, err := NewGrid(pc.width, pc.height, pc.blockSize, pc.overlap)
			if err != nil {
				t.Fatalf("NewGrid: %v", err)
			}
			if len(tiles) != g.Count() {
				t.Fatalf("got %d tiles, grid has %d", len(tiles), g.Count())
			}
			if g.Cols != int(math.Ceil(float64(pc.width)/float64(g.Step))) ||
				g.Rows != int(math.Ceil(float64(pc.height)/float64(g.Step))) {
				t.Errorf("grid %+v does not match ceil(size/step)", g)
			}

			hits := make([]int, pc.width*pc.height)
			for _, tile := range tiles {
				if tile.Width() <= 0 || tile.Height() <= 0 {
					t.Fatalf("%v is empty", tile)
				}
				if tile.Width() > pc.blockSize || tile.Height() > pc.blockSize {
					t.Errorf("%v is larger than the block size", tile)
				}
				if tile.XOffset()+tile.Width() > pc.width || tile.YOffset()+tile.Height() > pc.height {
					t.Errorf("%v goes past the raster edge", tile)
				}
				if tile.ColID() == g.Cols && tile.XOffset()+tile.Width() != pc.width {
					t.Errorf("last column %v does not end on the raster edge", tile)
				}
				if tile.RowID() == g.Rows && tile.YOffset()+tile.Height() != pc.height {
					t.Errorf("last row %v does not end on the raster edge", tile)
				}
				for y := tile.YOffset(); y < tile.YOffset()+tile.Height(); y++ {
					for x := tile.XOffset(); x < tile.XOffset()+tile.Width(); x++ {
						hits[y*pc.width+x]++
					}
				}
			}
			for i, n := range hits {
				if n == 0 {
					t.Fatalf("pixel (%d,%d) is not covered", i%pc.width, i/pc.width)
				}
				if pc.overlap == 0 && n != 1 {
					t.Fatalf("pixel (%d,%d) is covered %d times without overlap", i%pc.width, i/pc.width, n)
				}
			}
		})
	}
}

func TestPlanTileProperties(t *testing.T) {
	src := sourceProperties(t, 513, 77)
	src = src.WithGeoTransform(raster.GeoTransform{-180, 0.25, 0.01, 90, 0.02, -0.25})
	tiles, err := Plan(src, 64, 10)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for _, tile := range tiles {
		p := tile.Properties()
		gt := p.GeoTransform()
		if gt[2] != 0 || gt[4] != 0 {
			t.Errorf("%v keeps rotation terms %v", tile, gt)
		}
		if gt[1] != src.XResolution() || gt[5] != src.YResolution() {
			t.Errorf("%v resolution changed to %v", tile, gt)
		}
		if p.Width() != tile.Width() || p.Height() != tile.Height() {
			t.Errorf("%v properties size %dx%d", tile, p.Width(), p.Height())
		}
		if p.Bands() != 3 || p.PixelType() != raster.UInt16 || p.Projection() != "EPSG:4326" {
			t.Errorf("%v did not inherit bands, type and projection", tile)
		}
		if v, ok := p.BandNoData(3); !ok || v != 65535 {
			t.Errorf("%v did not inherit nodata", tile)
		}

		// the extent maps back onto the pixel offsets without drift
		e := p.Extent()
		xOff := math.Round((e.XMin - src.GeoTransform()[0]) / src.XResolution())
		yOff := math.Round((e.YMax - src.GeoTransform()[3]) / src.YResolution())
		if int(xOff) != tile.XOffset() || int(yOff) != tile.YOffset() {
			t.Errorf("%v extent %v maps back to (%v,%v)", tile, e, xOff, yOff)
		}
		if got := (e.XMax - e.XMin) / src.XResolution(); math.Abs(got-float64(tile.Width())) > 1e-9 {
			t.Errorf("%v extent width is %v pixels", tile, got)
		}
		if got := (e.YMin - e.YMax) / src.YResolution(); math.Abs(got-float64(tile.Height())) > 1e-9 {
			t.Errorf("%v extent height is %v pixels", tile, got)
		}
	}
}

func TestPlanDeterministic(t *testing.T) {
	src := sourceProperties(t, 97, 131)
	first, err := Plan(src, 13, 33.3)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := Plan(src, 13, 33.3)
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("got %d tiles, then %d", len(first), len(again))
		}
		for j := range first {
			if first[j].FileName() != again[j].FileName() || first[j].XOffset() != again[j].XOffset() ||
				first[j].YOffset() != again[j].YOffset() || first[j].Properties().GeoTransform() != again[j].Properties().GeoTransform() {
				t.Fatalf("tile %d differs between runs: %v and %v", j, first[j], again[j])
			}
		}
	}
}

func TestPlanDoesNotAliasSource(t *testing.T) {
	src := sourceProperties(t, 20, 20)
	tiles, err := Plan(src, 10, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	nd := tiles[0].Properties().NoData()
	nd[0] = raster.NoDataValue(-1)
	if v, _ := tiles[0].Properties().BandNoData(1); v != 0 {
		t.Errorf("tile properties leaked: band 1 nodata is %v", v)
	}
	if v, _ := tiles[1].Properties().BandNoData(1); v != 0 {
		t.Errorf("tiles share nodata state: band 1 nodata is %v", v)
	}
}

func TestTileName(t *testing.T) {
	tile := Tile{colID: 12, rowID: 3}
	if got := tile.Name(".png"); got != "0012_0003.png" {
		t.Errorf("got %q", got)
	}
	tile = Tile{colID: 12345, rowID: 1}
	if got := tile.Name(""); got != "12345_0001" {
		t.Errorf("got %q", got)
	}
}
