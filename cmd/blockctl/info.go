package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/akhenakh/rasterblock/raster"
)

func (c *cli) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <raster>",
		Short: "Print the raster properties as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, _, err := c.openers()
			if err != nil {
				return err
			}
			props, err := readProperties(src, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, props)
		},
	}
}

func readProperties(src raster.Opener, path string) (raster.Properties, error) {
	r, err := raster.Open(src, path)
	if err != nil {
		return raster.Properties{}, err
	}
	props := r.Properties()
	return props, r.Close()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
