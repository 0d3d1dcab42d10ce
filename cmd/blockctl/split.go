package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/akhenakh/rasterblock/block"
	"github.com/akhenakh/rasterblock/index"
	"github.com/akhenakh/rasterblock/split"
)

func (c *cli) splitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split <raster> <outdir>",
		Short: "Write every block of a raster as its own GeoTIFF",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			srcPath, outDir := args[0], args[1]
			src, dst, err := c.openers()
			if err != nil {
				return err
			}
			props, err := readProperties(src, srcPath)
			if err != nil {
				return err
			}
			blockSize, overlap := c.v.GetInt("block-size"), c.v.GetFloat64("overlap")
			tiles, err := block.Plan(props, blockSize, overlap)
			if err != nil {
				return err
			}

			s := split.New(src, dst, split.Workers(c.v.GetInt("workers")), split.Logger(c.logger))
			results, err := s.Split(cmd.Context(), srcPath, outDir, tiles)
			if err != nil {
				return err
			}

			if c.v.GetBool("index") {
				meta := index.Meta{Source: srcPath, Properties: props, BlockSize: blockSize, Overlap: overlap, Ext: block.Ext}
				if err := index.WriteSQLite(cmd.Context(), filepath.Join(outDir, "index.sqlite"), meta, tiles); err != nil {
					return fmt.Errorf("write sqlite index: %w", err)
				}
				if err := index.WriteGeoJSON(filepath.Join(outDir, "index.geojson"), tiles, block.Ext); err != nil {
					return fmt.Errorf("write geojson index: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d blocks to %s\n", len(results), outDir)
			return nil
		},
	}
	addPlanFlags(cmd)
	cmd.Flags().Int("workers", 1, "number of blocks written concurrently")
	cmd.Flags().Bool("index", true, "write index.sqlite and index.geojson next to the blocks")
	return cmd
}
