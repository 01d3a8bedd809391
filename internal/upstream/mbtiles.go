package upstream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// MBTilesSource reads payloads from an MBTiles archive. Rows are stored in
// TMS order, so y is flipped on lookup. Missing rows are empty tiles.
type MBTilesSource struct {
	db *sql.DB
}

func OpenMBTiles(path string) (*MBTilesSource, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open mbtiles: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open mbtiles: %w", err)
	}
	return &MBTilesSource{db: db}, nil
}

func (s *MBTilesSource) FetchBytes(ctx context.Context, req Request) ([]byte, error) {
	c := req.Coord
	tmsY := (1 << c.Z) - 1 - c.Y

	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
		c.Z, c.X, tmsY,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mbtiles query %s: %w", c, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// MaxZoom returns the maxzoom metadata value, or 0 when absent.
func (s *MBTilesSource) MaxZoom(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT CAST(value AS INTEGER) FROM metadata WHERE name = 'maxzoom'").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mbtiles metadata: %w", err)
	}
	return int(v.Int64), nil
}

func (s *MBTilesSource) Close() error {
	return s.db.Close()
}
