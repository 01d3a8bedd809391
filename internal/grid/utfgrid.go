package grid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// UTFGrid is the structured form of an encoded interactivity grid.
type UTFGrid struct {
	Grid []string                  `json:"grid"`
	Keys []string                  `json:"keys"`
	Data map[string]map[string]any `json:"data"`
}

// Encode converts g into a UTFGrid carrying only the given fields.
// Keys are assigned in row-major order of first appearance; the empty key
// stands for cells without a feature.
func Encode(g *Grid, fields []string) UTFGrid {
	out := UTFGrid{
		Grid: make([]string, 0, g.Height),
		Keys: []string{},
		Data: map[string]map[string]any{},
	}

	codes := make(map[int32]rune)
	next := rune(32)
	var row strings.Builder
	for cy := 0; cy < g.Height; cy++ {
		row.Reset()
		for cx := 0; cx < g.Width; cx++ {
			ref := g.cells[cy*g.Width+cx]
			code, ok := codes[ref]
			if !ok {
				code = next
				codes[ref] = code
				next = nextCode(next)

				key := ""
				if ref != 0 {
					f := g.features[ref-1]
					key = f.Key
					out.Data[key] = selectFields(f.Properties, fields)
				}
				out.Keys = append(out.Keys, key)
			}
			row.WriteRune(code)
		}
		out.Grid = append(out.Grid, row.String())
	}
	return out
}

// Marshal serializes u as compact UTF-8 JSON.
func (u UTFGrid) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(u); err != nil {
		return nil, fmt.Errorf("failed to marshal utfgrid: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// nextCode skips '"' and '\' which would need escaping in JSON, and the
// surrogate block which is not valid UTF-8.
func nextCode(c rune) rune {
	c++
	switch {
	case c == '"' || c == '\\':
		c++
	case c >= 0xD800 && c <= 0xDFFF:
		c = 0xE000
	}
	return c
}

func selectFields(props map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, name := range fields {
		v, ok := props[name]
		if !ok {
			continue
		}
		out[name] = jsonValue(v)
	}
	return out
}

// jsonValue maps property values onto the types encoding/json decodes into,
// so the structured grid equals its own parsed JSON.
func jsonValue(v any) any {
	switch n := v.(type) {
	case nil, string, bool, float64:
		return v
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return fmt.Sprint(v)
	}
}
