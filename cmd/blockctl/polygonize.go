package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/akhenakh/rasterblock/raster"
)

func (c *cli) polygonizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "polygonize <raster> [out]",
		Short: "Polygonize the first band into regions of equal value",
		Long: `Polygonize the first band into a MultiPolygon layer. Without an output
path the layer is kept in memory and only its summary is printed.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			src, _, err := c.openers()
			if err != nil {
				return err
			}
			var out string
			if len(args) == 2 {
				out = args[1]
			}
			r, err := raster.Open(src, args[0])
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, r.Close()) }()

			layer, err := r.ToVector(out, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, layer)
		},
	}
}
