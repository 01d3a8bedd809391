package config

import (
	"errors"
	"testing"
	"time"

	"vtileraster/internal/tileerr"
)

func baseEnv() map[string]string {
	return map[string]string{
		"STYLE_PATH":     "/styles/test.json",
		"TILESOURCE_DIR": "/data/tiles",
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(baseEnv())
	if err != nil {
		t.Fatal(err)
	}
	r := cfg.Render
	if r.Scale != 1 || r.TileSize != 256 || r.Resolution != 4 || r.Format != "png" ||
		r.BufferSize != 128 || r.Metatile != 1 || !r.AutoLoadFonts || r.Interactivity {
		t.Errorf("unexpected render defaults: %+v", r)
	}
	if cfg.Cache.Max != 16 || cfg.Cache.MaxAge != 15*time.Second || cfg.Cache.ClearInterval != 5*time.Second {
		t.Errorf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Tilesource.Footprint != FootprintTile {
		t.Errorf("footprint = %q", cfg.Tilesource.Footprint)
	}
	if cfg.Cache.BypassPolicy != BypassSeparate {
		t.Errorf("bypass policy = %q", cfg.Cache.BypassPolicy)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseOverrides(t *testing.T) {
	env := baseEnv()
	env["METATILE"] = "4"
	env["CACHE_MAX_AGE"] = "1m"
	env["INTERACTIVITY"] = "true"
	env["SOURCE_MAX_ZOOM"] = "14"
	cfg, err := Parse(env)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Render.Metatile != 4 || cfg.Cache.MaxAge != time.Minute || !cfg.Render.Interactivity || cfg.Render.SourceMaxZoom != 14 {
		t.Errorf("overrides not applied: %+v %+v", cfg.Render, cfg.Cache)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]string
	}{
		{"metatile 3", map[string]string{"METATILE": "3"}},
		{"metatile 16", map[string]string{"METATILE": "16"}},
		{"no style", map[string]string{"STYLE_PATH": ""}},
		{"bad format", map[string]string{"FORMAT": "gif"}},
		{"zero tile size", map[string]string{"TILE_SIZE": "0"}},
		{"resolution", map[string]string{"INTERACTIVITY": "true", "RESOLUTION": "3"}},
		{"two sources", map[string]string{"TILESOURCE_URL": "http://x/{z}/{x}/{y}.pbf"}},
		{"bypass policy", map[string]string{"CACHE_BYPASS_POLICY": "sometimes"}},
		{"std encoder webp", map[string]string{"IMAGE_ENCODER": "std", "FORMAT": "webp"}},
		{"unknown encoder", map[string]string{"IMAGE_ENCODER": "magick"}},
		{"metatile footprint from dir", map[string]string{"TILESOURCE_FOOTPRINT": "metatile"}},
		{"unknown footprint", map[string]string{"TILESOURCE_FOOTPRINT": "quad"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			for k, v := range tt.set {
				env[k] = v
			}
			cfg, err := Parse(env)
			if err != nil {
				t.Fatal(err)
			}
			if err := cfg.Validate(); !errors.Is(err, tileerr.ErrConfiguration) {
				t.Fatalf("Validate = %v, want configuration error", err)
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]string
	}{
		{"std png", map[string]string{"IMAGE_ENCODER": "std", "FORMAT": "png"}},
		{"vips webp", map[string]string{"IMAGE_ENCODER": "vips", "FORMAT": "webp"}},
		{"std grid ignores format", map[string]string{"IMAGE_ENCODER": "std", "FORMAT": "webp", "INTERACTIVITY": "true"}},
		{"metatile footprint from url", map[string]string{
			"TILESOURCE_DIR": "", "TILESOURCE_URL": "http://x/{z}/{x}/{y}.pbf", "TILESOURCE_FOOTPRINT": "metatile", "METATILE": "4",
		}},
		{"dir with metatile 2", map[string]string{"METATILE": "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			for k, v := range tt.set {
				env[k] = v
			}
			cfg, err := Parse(env)
			if err != nil {
				t.Fatal(err)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestParseRejectsMalformedValues(t *testing.T) {
	env := baseEnv()
	env["TILE_SIZE"] = "big"
	if _, err := Parse(env); !errors.Is(err, tileerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
