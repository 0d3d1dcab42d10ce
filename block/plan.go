// Package block plans the partition of a raster into square, possibly overlapping tiles.
//
// Planning is pure: it never touches a backend, so it is safe for concurrent use.
// Tiles are emitted column-major, every column top to bottom before moving right,
// and each tile carries the properties of the standalone raster it becomes.
// Rotation terms of the source geotransform are not supported and are written as 0
// on every tile.
package block

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/akhenakh/rasterblock/raster"
)

// Ext is the default tile file extension.
const Ext = ".tif"

// Step returns the distance in pixels between the origins of adjacent tiles,
// floor(blockSize * (1 - overlap/100)).
func Step(blockSize int, overlap float64) (int, error) {
	if blockSize <= 0 {
		return 0, raster.ConfigErrorf("block size must be positive, got %d", blockSize)
	}
	if math.IsNaN(overlap) || overlap < 0 || overlap >= 100 {
		return 0, raster.ConfigErrorf("overlap must be in [0,100), got %v", overlap)
	}
	// float64(blockSize) rounds up near MaxInt, step never exceeds blockSize.
	step := blockSize
	if f := math.Floor(float64(blockSize) * (1 - overlap/100)); f < float64(blockSize) {
		step = int(f)
	}
	if step <= 0 {
		return 0, raster.ConfigErrorf("block size %d with %v%% overlap leaves no step between tiles", blockSize, overlap)
	}
	return step, nil
}

// Grid is the tile layout of one raster.
type Grid struct {
	BlockSize int `json:"blockSize"`
	Step      int `json:"step"`
	Cols      int `json:"cols"`
	Rows      int `json:"rows"`
}

// Count is the number of tiles of the grid.
func (g Grid) Count() int { return g.Cols * g.Rows }

// NewGrid computes the tile layout of a width x height raster.
func NewGrid(width, height, blockSize int, overlap float64) (Grid, error) {
	if width <= 0 || height <= 0 {
		return Grid{}, raster.ConfigErrorf("nothing to tile in a %dx%d raster", width, height)
	}
	step, err := Step(blockSize, overlap)
	if err != nil {
		return Grid{}, err
	}
	return Grid{
		BlockSize: blockSize,
		Step:      step,
		Cols:      ceilDiv(width, step),
		Rows:      ceilDiv(height, step),
	}, nil
}

// ceilDiv is ceil(a/b) for a, b > 0, without overflowing when b is near MaxInt.
func ceilDiv(a, b int) int { return (a-1)/b + 1 }

// Plan returns every tile of the raster described by props, column-major.
func Plan(props raster.Properties, blockSize int, overlap float64) ([]Tile, error) {
	g, err := NewGrid(props.Width(), props.Height(), blockSize, overlap)
	if err != nil {
		return nil, err
	}
	gt := props.GeoTransform()
	tiles := make([]Tile, 0, g.Count())
	for col := 0; col < g.Cols; col++ {
		for row := 0; row < g.Rows; row++ {
			xOff, yOff := col*g.Step, row*g.Step
			w := min(blockSize, props.Width()-xOff)
			h := min(blockSize, props.Height()-yOff)
			tiles = append(tiles, Tile{
				colID:   col + 1,
				rowID:   row + 1,
				xOffset: xOff,
				yOffset: yOff,
				props:   props.WithSize(w, h).WithGeoTransform(gt.Translate(xOff, yOff)),
			})
		}
	}
	return tiles, nil
}

// Tile is one planned block: its 1-based grid position, its pixel window in the
// source raster and its own raster properties.
type Tile struct {
	colID, rowID     int
	xOffset, yOffset int
	props            raster.Properties
}

func (t Tile) ColID() int { return t.colID }
func (t Tile) RowID() int { return t.rowID }
func (t Tile) XOffset() int { return t.xOffset }
func (t Tile) YOffset() int { return t.yOffset }
func (t Tile) Width() int { return t.props.Width() }
func (t Tile) Height() int { return t.props.Height() }

// Properties returns a copy of the tile raster properties.
func (t Tile) Properties() raster.Properties { return t.props.Clone() }

// Name returns "CCCC_RRRR" followed by ext, column first, both zero-padded to 4 digits.
func (t Tile) Name(ext string) string {
	return fmt.Sprintf("%04d_%04d%s", t.colID, t.rowID, ext)
}

// FileName is Name with the GeoTIFF extension.
func (t Tile) FileName() string { return t.Name(Ext) }

// Window returns the pixel window of the tile as read options for the source raster.
func (t Tile) Window() raster.ReadOption {
	return raster.Window(t.xOffset, t.yOffset, t.Width(), t.Height())
}

func (t Tile) String() string {
	return fmt.Sprintf("%s (%d,%d %dx%d)", t.Name(""), t.xOffset, t.yOffset, t.Width(), t.Height())
}

type tileJSON struct {
	Name         string              `json:"name"`
	ColID        int                 `json:"colId"`
	RowID        int                 `json:"rowId"`
	XOffset      int                 `json:"xOffset"`
	YOffset      int                 `json:"yOffset"`
	Width        int                 `json:"width"`
	Height       int                 `json:"height"`
	GeoTransform raster.GeoTransform `json:"geotransform"`
	Extent       raster.Extent       `json:"extent"`
}

func (t Tile) MarshalJSON() ([]byte, error) {
	return json.Marshal(tileJSON{
		Name:         t.FileName(),
		ColID:        t.colID,
		RowID:        t.rowID,
		XOffset:      t.xOffset,
		YOffset:      t.yOffset,
		Width:        t.Width(),
		Height:       t.Height(),
		GeoTransform: t.props.GeoTransform(),
		Extent:       t.props.Extent(),
	})
}
