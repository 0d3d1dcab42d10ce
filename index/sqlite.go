// Package index writes catalogues of planned tiles: a SQLite database and a
// GeoJSON FeatureCollection of tile footprints.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"

	"github.com/akhenakh/rasterblock/block"
	"github.com/akhenakh/rasterblock/raster"
)

// Meta describes the source and the parameters of a plan.
type Meta struct {
	Source     string
	Properties raster.Properties
	BlockSize  int
	Overlap    float64
	// Ext is the extension the tiles were written with, block.Ext when empty.
	Ext        string
}

func (m Meta) entries(tiles int) ([][2]string, error) {
	gt, err := json.Marshal(m.Properties.GeoTransform())
	if err != nil {
		return nil, err
	}
	return [][2]string{
		{"source", m.Source},
		{"width", strconv.Itoa(m.Properties.Width())},
		{"height", strconv.Itoa(m.Properties.Height())},
		{"bands", strconv.Itoa(m.Properties.Bands())},
		{"pixel_type", m.Properties.PixelTypeName()},
		{"projection", m.Properties.Projection()},
		{"geotransform", string(gt)},
		{"block_size", strconv.Itoa(m.BlockSize)},
		{"overlap", strconv.FormatFloat(m.Overlap, 'f', -1, 64)},
		{"tile_count", strconv.Itoa(tiles)},
		{"extension", extension(m.Ext)},
	}, nil
}

var schema = []string{
	`CREATE TABLE meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE tiles (
		name TEXT PRIMARY KEY,
		col_id INTEGER NOT NULL,
		row_id INTEGER NOT NULL,
		x_offset INTEGER NOT NULL,
		y_offset INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		min_x REAL NOT NULL,
		min_y REAL NOT NULL,
		max_x REAL NOT NULL,
		max_y REAL NOT NULL
	)`,
	`CREATE INDEX tiles_grid ON tiles (col_id, row_id)`,
}

// WriteSQLite replaces path with a database holding meta and one row per tile,
// written in a single transaction.
func WriteSQLite(ctx context.Context, path string, meta Meta, tiles []block.Tile) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove previous index: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range schema {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	entries, err := meta.entries(len(tiles))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", e[0], e[1]); err != nil {
			return fmt.Errorf("failed to write meta %s: %w", e[0], err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tiles
		(name, col_id, row_id, x_offset, y_offset, width, height, min_x, min_y, max_x, max_y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	ext := extension(meta.Ext)
	for _, t := range tiles {
		b := t.Properties().Extent().Bound()
		if _, err := stmt.ExecContext(ctx, t.Name(ext), t.ColID(), t.RowID(), t.XOffset(), t.YOffset(),
			t.Width(), t.Height(), b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()); err != nil {
			return fmt.Errorf("failed to write tile %s: %w", t.Name(ext), err)
		}
	}
	return tx.Commit()
}

// Record is a tile row read back from an index.
type Record struct {
	Name             string
	ColID, RowID     int
	XOffset, YOffset int
	Width, Height    int
	Bound            orb.Bound
}

// ReadSQLite reads the meta entries and the tile rows, in column-major order.
func ReadSQLite(ctx context.Context, path string) (map[string]string, []Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	meta := make(map[string]string)
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, nil, err
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = db.QueryContext(ctx, `SELECT name, col_id, row_id, x_offset, y_offset, width, height,
		min_x, min_y, max_x, max_y FROM tiles ORDER BY col_id, row_id`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var r Record
		var minX, minY, maxX, maxY float64
		if err := rows.Scan(&r.Name, &r.ColID, &r.RowID, &r.XOffset, &r.YOffset, &r.Width, &r.Height,
			&minX, &minY, &maxX, &maxY); err != nil {
			return nil, nil, err
		}
		r.Bound = orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
		records = append(records, r)
	}
	return meta, records, rows.Err()
}
