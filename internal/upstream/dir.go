package upstream

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// DirSource reads {root}/{z}/{x}/{y}{ext}. Missing files are empty tiles.
type DirSource struct {
	root string
	ext  string
}

func NewDirSource(root, ext string) *DirSource {
	if ext == "" {
		ext = ".pbf"
	}
	return &DirSource{root: root, ext: ext}
}

func (s *DirSource) path(req Request) string {
	return filepath.Join(s.root, strconv.Itoa(req.Coord.Z), strconv.Itoa(req.Coord.X), strconv.Itoa(req.Coord.Y)+s.ext)
}

func (s *DirSource) FetchBytes(ctx context.Context, req Request) ([]byte, error) {
	data, err := os.ReadFile(s.path(req))
	if errors.Is(err, fs.ErrNotExist) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vector tile: %w", err)
	}
	return data, nil
}
