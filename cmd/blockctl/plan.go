package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akhenakh/rasterblock/block"
	"github.com/akhenakh/rasterblock/index"
)

func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().Int("block-size", 256, "block edge in pixels")
	cmd.Flags().Float64("overlap", 0, "overlap between neighbouring blocks, in percent of the block size")
}

func (c *cli) planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <raster>",
		Short: "Print the block layout of a raster",
		Long: `Print the grid and the blocks a split would write, in column-major order.
With --geojson the block footprints are also written as a FeatureCollection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, _, err := c.openers()
			if err != nil {
				return err
			}
			props, err := readProperties(src, args[0])
			if err != nil {
				return err
			}
			blockSize, overlap := c.v.GetInt("block-size"), c.v.GetFloat64("overlap")
			grid, err := block.NewGrid(props.Width(), props.Height(), blockSize, overlap)
			if err != nil {
				return err
			}
			tiles, err := block.Plan(props, blockSize, overlap)
			if err != nil {
				return err
			}
			c.logger.Info("planned blocks", "source", args[0], "cols", grid.Cols, "rows", grid.Rows)

			if out := c.v.GetString("geojson"); out != "" {
				if err := index.WriteGeoJSON(out, tiles, block.Ext); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
			}
			return printJSON(cmd, struct {
				Source string       `json:"source"`
				Grid   block.Grid   `json:"grid"`
				Tiles  []block.Tile `json:"tiles"`
			}{args[0], grid, tiles})
		},
	}
	addPlanFlags(cmd)
	cmd.Flags().String("geojson", "", "write the block footprints to this GeoJSON file")
	return cmd
}
