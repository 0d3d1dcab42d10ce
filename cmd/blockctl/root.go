package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/akhenakh/rasterblock/gdalio"
	"github.com/akhenakh/rasterblock/geotiff"
	"github.com/akhenakh/rasterblock/raster"
)

// backendFunc resolves a --backend name to the backend reading sources and the one writing rasters.
type backendFunc func(name string) (raster.Opener, raster.Creator, error)

func defaultBackends(name string) (raster.Opener, raster.Creator, error) {
	gdal := gdalio.New()
	switch strings.ToLower(name) {
	case "gdal":
		return gdal, gdal, nil
	case "cog":
		return &geotiff.Backend{Logger: slog.Default()}, gdal, nil
	default:
		return nil, nil, raster.ConfigErrorf("unknown backend %q, want gdal or cog", name)
	}
}

// cli carries the state shared by the commands of one invocation.
type cli struct {
	v        *viper.Viper
	backends backendFunc
	cfgFile  string
	logger   *slog.Logger
}

func newRootCmd(backends backendFunc) *cobra.Command {
	c := &cli{v: viper.New(), backends: backends}

	rootCmd := &cobra.Command{
		Use:   "blockctl",
		Short: "Split rasters into fixed-size, optionally overlapping blocks",
		Long: `blockctl plans the tiling of a raster into square blocks and writes every
block as a standalone GeoTIFF named COLID_ROWID.tif.

Examples:
  # Show the raster properties
  blockctl info dem.tif

  # Plan 512 pixel blocks overlapping by 25%, with their footprints
  blockctl plan dem.tif --block-size 512 --overlap 25 --geojson blocks.geojson

  # Split a remote COG with 4 workers
  blockctl split https://example.com/dem.tif out --backend cog --workers 4`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.blockctl.yaml)")
	rootCmd.PersistentFlags().String("backend", "gdal", "raster backend (gdal|cog)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug|info|warn|error)")

	rootCmd.AddCommand(
		c.infoCmd(),
		c.planCmd(),
		c.splitCmd(),
		c.polygonizeCmd(),
	)
	return rootCmd
}

// initConfig layers flags over BLOCKCTL_ environment variables over the config file.
func (c *cli) initConfig(cmd *cobra.Command) error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		c.v.AddConfigPath(home)
		c.v.SetConfigType("yaml")
		c.v.SetConfigName(".blockctl")
	}
	c.v.SetEnvPrefix("BLOCKCTL")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if err := c.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.v.GetString("log-level"))); err != nil {
		return raster.ConfigErrorf("invalid log level %q", c.v.GetString("log-level"))
	}
	c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func (c *cli) openers() (raster.Opener, raster.Creator, error) {
	return c.backends(c.v.GetString("backend"))
}
