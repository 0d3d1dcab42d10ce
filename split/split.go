// Package split materializes a tiling plan: every tile of the plan is read from the
// source raster and written as a standalone raster named after its grid position.
package split

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/akhenakh/rasterblock/block"
	"github.com/akhenakh/rasterblock/raster"
)

// Result is a tile written to Path.
type Result struct {
	Tile block.Tile `json:"tile"`
	Path string     `json:"path"`
}

// Splitter writes tiles read from src into datasets created by dst.
type Splitter struct {
	src     raster.Opener
	dst     raster.Creator
	workers int
	ext     string
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Splitter)

// Workers sets the number of tiles materialized concurrently, each worker
// holding its own source handle. 1, the default, splits sequentially.
func Workers(n int) Option {
	return func(s *Splitter) { s.workers = n }
}

func Logger(l *slog.Logger) Option {
	return func(s *Splitter) { s.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Splitter) { s.metrics = m }
}

// Extension sets the tile file extension, block.Ext by default.
func Extension(ext string) Option {
	return func(s *Splitter) { s.ext = ext }
}

func New(src raster.Opener, dst raster.Creator, opts ...Option) *Splitter {
	s := &Splitter{src: src, dst: dst, workers: 1, ext: block.Ext, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Split writes every tile into outDir and returns the results in plan order.
// The first failure stops the pass, tiles already written are left in place.
func (s *Splitter) Split(ctx context.Context, srcPath, outDir string, tiles []block.Tile) ([]Result, error) {
	if s.workers < 1 {
		return nil, raster.ConfigErrorf("workers must be positive, got %d", s.workers)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, raster.BackendError("create "+outDir, err)
	}

	results := make([]Result, len(tiles))
	for i, t := range tiles {
		results[i] = Result{Tile: t, Path: filepath.Join(outDir, t.Name(s.ext))}
	}

	start := time.Now()
	var err error
	if s.workers == 1 || len(tiles) <= 1 {
		err = s.sequential(ctx, srcPath, results)
	} else {
		err = s.parallel(ctx, srcPath, results)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("split done", "source", srcPath, "dir", outDir, "tiles", len(tiles), "duration", time.Since(start))
	return results, nil
}

func (s *Splitter) sequential(ctx context.Context, srcPath string, results []Result) (err error) {
	src, err := raster.Open(s.src, srcPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, res := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeTile(src, res); err != nil {
			return err
		}
	}
	return nil
}

func (s *Splitter) parallel(ctx context.Context, srcPath string, results []Result) error {
	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan Result)

	g.Go(func() error {
		defer close(jobs)
		for _, res := range results {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case jobs <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < min(s.workers, len(results)); w++ {
		g.Go(func() (err error) {
			src, err := raster.Open(s.src, srcPath)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := src.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()
			for res := range jobs {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := s.writeTile(src, res); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// writeTile reads the tile window from src and writes it to a new dataset.
func (s *Splitter) writeTile(src *raster.Raster, res Result) (err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			s.metrics.failed()
			s.logger.Error("tile failed", "tile", res.Tile.String(), "path", res.Path, "error", err)
			return
		}
		s.metrics.written(time.Since(start))
		s.logger.Debug("tile written", "tile", res.Tile.String(), "path", res.Path)
	}()

	a, err := src.Read(res.Tile.Window())
	if err != nil {
		return fmt.Errorf("tile %s: %w", res.Tile.Name(s.ext), err)
	}
	out, err := raster.Create(s.dst, res.Path, res.Tile.Properties())
	if err != nil {
		return fmt.Errorf("tile %s: %w", res.Tile.Name(s.ext), err)
	}
	if err := out.Write(a); err != nil {
		return errors.Join(fmt.Errorf("tile %s: %w", res.Tile.Name(s.ext), err), out.Close())
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("tile %s: %w", res.Tile.Name(s.ext), err)
	}
	return nil
}
