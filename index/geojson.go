package index

import (
	"os"

	"github.com/paulmach/orb/geojson"

	"github.com/akhenakh/rasterblock/block"
)

// FeatureCollection returns one polygon feature per tile footprint, in plan order.
// Features are named with the tile file extension ext, block.Ext when empty.
func FeatureCollection(tiles []block.Tile, ext string) *geojson.FeatureCollection {
	ext = extension(ext)
	fc := geojson.NewFeatureCollection()
	for _, t := range tiles {
		f := geojson.NewFeature(t.Properties().Extent().Bound().ToPolygon())
		f.ID = t.Name(ext)
		f.Properties["name"] = t.Name(ext)
		f.Properties["col_id"] = t.ColID()
		f.Properties["row_id"] = t.RowID()
		f.Properties["x_offset"] = t.XOffset()
		f.Properties["y_offset"] = t.YOffset()
		f.Properties["width"] = t.Width()
		f.Properties["height"] = t.Height()
		fc.Append(f)
	}
	return fc
}

func WriteGeoJSON(path string, tiles []block.Tile, ext string) error {
	b, err := FeatureCollection(tiles, ext).MarshalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func extension(ext string) string {
	if ext == "" {
		return block.Ext
	}
	return ext
}
